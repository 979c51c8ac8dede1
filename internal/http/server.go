// Package http provides the lightnvr HTTP server and API registration.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/opensensor/lightnvr/internal/http/middleware"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the restartable HTTP surface. It tracks request counters for
// the health endpoint and exposes Start/Stop/Alive for the external
// health supervisor.
type Server struct {
	config  ServerConfig
	router  *chi.Mux
	api     huma.API
	logger  *slog.Logger
	version string

	mu         sync.Mutex
	httpServer *http.Server
	serving    atomic.Bool

	totalRequests  atomic.Uint64
	failedRequests atomic.Uint64
}

// NewServer creates an HTTP server with the standard middleware chain.
// Register operations through API() before Start.
func NewServer(config ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		config:  config,
		logger:  logger,
		version: version,
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestCounter(func(failed bool) {
		s.totalRequests.Add(1)
		if failed {
			s.failedRequests.Add(1)
		}
	}))

	humaConfig := huma.DefaultConfig("lightnvr API", version)
	humaConfig.Info.Description = "Network video recorder API"

	s.router = router
	s.api = humachi.New(router, humaConfig)
	return s
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the Chi router for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RequestCounters returns (total, failed) request counts since process
// start. Counters survive supervisor restarts of the listener.
func (s *Server) RequestCounters() (uint64, uint64) {
	return s.totalRequests.Load(), s.failedRequests.Load()
}

// Start begins listening in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving.Load() {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.httpServer = srv
	s.serving.Store(true)

	s.logger.Info("starting HTTP server", slog.String("address", addr))

	go func() {
		err := srv.ListenAndServe()
		s.serving.Store(false)
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server exited", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop shuts the server down and waits for the serving goroutine to exit
// or the context to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		// Shutdown timed out; drop connections.
		srv.Close()
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Alive reports whether the serving goroutine is running.
func (s *Server) Alive() bool {
	return s.serving.Load()
}
