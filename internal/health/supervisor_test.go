package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/config"
)

// fakeServer implements Restartable with scripted health responses.
type fakeServer struct {
	alive    atomic.Bool
	starts   atomic.Int32
	stops    atomic.Int32
	listener *httptest.Server
	healthy  atomic.Bool
}

func newFakeServer(t *testing.T) (*fakeServer, int) {
	t.Helper()
	fs := &fakeServer{}
	fs.alive.Store(true)
	fs.healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if !fs.healthy.Load() {
			http.Error(w, `{"healthy":false}`, http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"healthy":true}`))
	})

	// Bind to a loopback port the supervisor can probe.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fs.listener = &httptest.Server{Listener: listener, Config: &http.Server{Handler: mux}}
	fs.listener.Start()
	t.Cleanup(fs.listener.Close)

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return fs, port
}

func (f *fakeServer) Stop(ctx context.Context) error {
	f.stops.Add(1)
	f.alive.Store(false)
	return nil
}

func (f *fakeServer) Start(ctx context.Context) error {
	f.starts.Add(1)
	f.alive.Store(true)
	f.healthy.Store(true)
	return nil
}

func (f *fakeServer) Alive() bool {
	return f.alive.Load()
}

func supervisorConfig() config.HealthConfig {
	return config.HealthConfig{
		Interval:         10 * time.Millisecond,
		FailureThreshold: 3,
		RestartCooldown:  10 * time.Millisecond,
		MaxRestarts:      5,
		DrainTimeout:     time.Second,
	}
}

func TestSupervisor_HealthyServerIsLeftAlone(t *testing.T) {
	fs, port := newFakeServer(t)

	s := NewSupervisor(supervisorConfig(), port, fs, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), fs.starts.Load())
	assert.Equal(t, int32(0), fs.stops.Load())
}

func TestSupervisor_RestartsAfterConsecutiveFailures(t *testing.T) {
	fs, port := newFakeServer(t)
	fs.healthy.Store(false)

	var events atomic.Int32
	s := NewSupervisor(supervisorConfig(), port, fs, nil, func(string) {
		events.Add(1)
	})

	// Drive probes directly: three failures cross the threshold.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.probe(ctx)
	}

	assert.Equal(t, int32(1), fs.stops.Load())
	assert.Equal(t, int32(1), fs.starts.Load())
	assert.Equal(t, int32(1), events.Load())
}

func TestSupervisor_RestartsDeadServerImmediately(t *testing.T) {
	fs, port := newFakeServer(t)
	fs.alive.Store(false)

	s := NewSupervisor(supervisorConfig(), port, fs, nil, nil)
	s.probe(context.Background())

	assert.Equal(t, int32(1), fs.starts.Load())
}

func TestSupervisor_RestartCap(t *testing.T) {
	fs, port := newFakeServer(t)

	cfg := supervisorConfig()
	cfg.MaxRestarts = 2
	cfg.RestartCooldown = 0
	s := NewSupervisor(cfg, port, fs, nil, nil)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		fs.alive.Store(false)
		s.probe(ctx)
	}

	assert.Equal(t, int32(2), fs.starts.Load(), "restarts stop at the cap")
}

func TestSupervisor_CooldownSuppressesRestart(t *testing.T) {
	fs, port := newFakeServer(t)

	cfg := supervisorConfig()
	cfg.RestartCooldown = time.Hour
	s := NewSupervisor(cfg, port, fs, nil, nil)

	ctx := context.Background()
	fs.alive.Store(false)
	s.probe(ctx)
	require.Equal(t, int32(1), fs.starts.Load())

	fs.alive.Store(false)
	s.probe(ctx)
	assert.Equal(t, int32(1), fs.starts.Load(), "second restart lands inside the cooldown")
}
