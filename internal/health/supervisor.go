// Package health probes the HTTP surface from outside and restarts it on
// deadlock. It never touches ingest threads.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/httpclient"
)

// Restartable is the contract the supervisor holds over the web server:
// stop it, wait for its goroutine to exit, start a replacement.
type Restartable interface {
	// Stop shuts the server down, returning once the serving goroutine
	// has exited or the timeout elapsed.
	Stop(ctx context.Context) error
	// Start brings the server back up.
	Start(ctx context.Context) error
	// Alive reports whether the serving goroutine is still running.
	Alive() bool
}

// Supervisor periodically probes /api/health and restarts the HTTP
// surface after consecutive failures. Restarts are rate-limited and
// capped; after the cap the supervisor gives up and only logs.
type Supervisor struct {
	cfg     config.HealthConfig
	port    int
	server  Restartable
	client  *httpclient.Client
	logger  *slog.Logger
	onEvent func(description string)

	consecutiveFailures int
	restarts            int
	lastRestart         time.Time
	gaveUp              bool

	running atomic.Bool
	done    chan struct{}
}

// probeResponse is the subset of the health payload the prober checks.
type probeResponse struct {
	Healthy bool `json:"healthy"`
}

// NewSupervisor creates a health supervisor probing the given web port.
// onEvent, when set, records restart events in the catalog.
func NewSupervisor(cfg config.HealthConfig, port int, server Restartable, logger *slog.Logger, onEvent func(string)) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		port:   port,
		server: server,
		client: httpclient.New(httpclient.Config{
			Timeout:             5 * time.Second,
			RetryAttempts:       0,
			CircuitThreshold:    1 << 30, // the supervisor is its own breaker
			CircuitTimeout:      time.Second,
			Logger:              logger,
			EnableDecompression: true,
		}),
		logger:  logger,
		onEvent: onEvent,
		done:    make(chan struct{}),
	}
}

// Start launches the probe loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.running.Store(true)
	go s.run(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (s *Supervisor) Stop() {
	s.running.Store(false)
	<-s.done
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	// A one-second poll keeps shutdown latency low while the probe
	// itself runs on the configured interval.
	lastProbe := time.Time{}
	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}

		if time.Since(lastProbe) < interval {
			continue
		}
		lastProbe = time.Now()
		s.probe(ctx)
	}
}

// probe checks the server once and restarts it when the failure threshold
// is crossed or the serving goroutine has died.
func (s *Supervisor) probe(ctx context.Context) {
	if s.gaveUp {
		return
	}

	if !s.server.Alive() {
		s.logger.Error("web server goroutine died")
		s.restart(ctx)
		return
	}

	healthy := s.checkEndpoint(ctx)
	if healthy {
		s.consecutiveFailures = 0
		return
	}

	s.consecutiveFailures++
	s.logger.Warn("health probe failed",
		slog.Int("consecutive_failures", s.consecutiveFailures),
		slog.Int("threshold", s.cfg.FailureThreshold),
	)
	if s.consecutiveFailures >= s.cfg.FailureThreshold {
		s.restart(ctx)
	}
}

// checkEndpoint issues the local HTTP probe.
func (s *Supervisor) checkEndpoint(ctx context.Context) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", s.port)
	resp, err := s.client.Get(ctx, url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return false
	}

	var parsed probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false
	}
	return parsed.Healthy
}

// restart stops and relaunches the web server, honoring the cooldown and
// the restart cap.
func (s *Supervisor) restart(ctx context.Context) {
	if s.restarts >= s.cfg.MaxRestarts {
		if !s.gaveUp {
			s.gaveUp = true
			s.logger.Error("restart cap reached, giving up on web server supervision",
				slog.Int("restarts", s.restarts))
		}
		return
	}
	if !s.lastRestart.IsZero() && time.Since(s.lastRestart) < s.cfg.RestartCooldown {
		s.logger.Debug("restart suppressed by cooldown")
		return
	}

	s.restarts++
	s.lastRestart = time.Now()
	s.consecutiveFailures = 0

	s.logger.Warn("restarting web server",
		slog.Int("attempt", s.restarts),
		slog.Int("max", s.cfg.MaxRestarts),
	)

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()
	if err := s.server.Stop(drainCtx); err != nil {
		s.logger.Warn("stopping web server failed", slog.String("error", err.Error()))
	}
	if err := s.server.Start(ctx); err != nil {
		s.logger.Error("restarting web server failed", slog.String("error", err.Error()))
		return
	}

	if s.onEvent != nil {
		s.onEvent(fmt.Sprintf("web server restarted (attempt %d)", s.restarts))
	}
}
