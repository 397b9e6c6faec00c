// Package server exposes the link service over HTTP.
//
// Endpoints:
//   - GET    /api/health
//   - GET    /api/system
//   - GET    /api/resolve?path=
//   - POST   /api/links/symlink
//   - POST   /api/links/hardlink
//   - GET    /api/links/symlink-target?path=
//   - PUT    /api/links/update-symlink
//   - DELETE /api/links/delete-hardlink?path=
//   - GET    /api/links/find-hardlinks?path=
//   - DELETE /api/links/delete-all-hardlinks?path=
//   - GET    /metrics
//
// Failures are answered with RFC 7807 problem documents.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bamsammich/warren/internal/links"
)

// Config holds HTTP server settings. Zero values get defaults.
type Config struct {
	Listen         string
	Version        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":3000"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = c.WriteTimeout
	}
}

// Server is the HTTP front end of the link service.
type Server struct {
	server       *http.Server
	cfg          Config
	shutdownOnce sync.Once

	mu   sync.Mutex
	addr net.Addr
}

// New creates a stopped server. Call Start to begin serving.
func New(cfg Config, svc *links.Service, gatherer prometheus.Gatherer) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Listen,
			Handler:           NewRouter(svc, gatherer, cfg),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Addr returns the bound address once Start is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutdown signal received")
		// The cancelled ctx would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown: %w", err)
			slog.Error("HTTP server shutdown error", "error", err)
			return
		}
		slog.Info("HTTP server stopped")
	})
	return shutdownErr
}
