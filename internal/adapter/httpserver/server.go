// Package httpserver exposes the admin HTTP surface: health probes, build
// information, live connection listings and Prometheus metrics.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/linecast/internal/domain"
	"github.com/pscheid92/linecast/internal/lineserver"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultShutdownTimeout = 5 * time.Second

// ConnectionSource is a connection server as seen by the admin surface.
type ConnectionSource interface {
	Name() string
	State() domain.ServerState
	Connections() []lineserver.ConnectionInfo
}

type Server struct {
	addr     string
	echo     *echo.Echo
	gatherer prometheus.Gatherer
	sources  []ConnectionSource
	clock    clockwork.Clock

	healthChecks    []HealthCheck
	shutdownTimeout time.Duration
	startTime       time.Time

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	ready    chan struct{}
}

type Option func(*Server)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithHealthChecks adds readiness checks on top of the per-source state checks.
func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

// NewServer creates the admin server. Readiness fails unless every source is listening.
func NewServer(addr string, gatherer prometheus.Gatherer, sources []ConnectionSource, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		addr:            addr,
		echo:            e,
		gatherer:        gatherer,
		sources:         sources,
		clock:           clockwork.NewRealClock(),
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan struct{}),
	}
	for _, src := range sources {
		srv.healthChecks = append(srv.healthChecks, listeningCheck(src))
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = srv.clock.Now()

	srv.registerRoutes()

	return srv
}

func (s *Server) Name() string { return "admin" }

// Ready is closed once the admin listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves HTTP until Stop is called or ctx is cancelled. The server cannot be
// restarted: once Stop has run, Start returns nil without binding.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.DebugContext(ctx, "Admin server already stopped, not starting")
		return nil
	}
	if s.listener != nil {
		s.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return &domain.BindError{Addr: s.addr, Err: err}
	}
	s.listener = ln
	s.echo.Listener = ln
	close(s.ready)
	s.mu.Unlock()

	slog.InfoContext(ctx, "Admin server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(s.addr) }()

	select {
	case <-ctx.Done():
		s.Stop()
		err = <-errCh
	case err = <-errCh:
		s.Stop()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down gracefully. Idempotent; before Start it only
// prevents a later Start.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		slog.Warn("Admin server shutdown failed", "error", err)
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Debug("Closing admin listener failed", "error", err)
	}
	slog.Info("Admin server stopped")
}

func listeningCheck(src ConnectionSource) HealthCheck {
	return HealthCheck{
		Name: src.Name(),
		Check: func(_ context.Context) error {
			if state := src.State(); state != domain.StateListening {
				return fmt.Errorf("server is %s", state)
			}
			return nil
		},
	}
}
