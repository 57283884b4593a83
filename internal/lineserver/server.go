package lineserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/linecast/internal/domain"
	"github.com/pscheid92/linecast/internal/metrics"
	"github.com/pscheid92/linecast/internal/platform/correlation"
	"github.com/pscheid92/linecast/internal/platform/retry"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultInterval      = time.Second
	DefaultAcceptTimeout = time.Second
	DefaultWriteTimeout  = 5 * time.Second
	DefaultStopTimeout   = 10 * time.Second
	DefaultBindBackoff   = 500 * time.Millisecond
)

// Server is the TCP connection server. One instance can be started again after
// it has fully stopped.
type Server struct {
	addr          string
	source        domain.PayloadSource
	clock         clockwork.Clock
	interval      time.Duration
	acceptTimeout time.Duration
	writeTimeout  time.Duration
	stopTimeout   time.Duration
	bindAttempts  int
	bindBackoff   time.Duration
	limits        *Limits
	metrics       *metrics.ServerMetrics
	delivery      *metrics.DeliveryMetrics

	state atomic.Int32

	mu         sync.Mutex // guards run, ready and cancelBind
	run        *serverRun
	ready      chan struct{}
	cancelBind context.CancelFunc // set while a Start is binding
}

// serverRun holds the resources of one Start..Stop cycle.
type serverRun struct {
	listener   *net.TCPListener
	registry   *registry
	handlers   sync.WaitGroup
	done       chan struct{} // closed when stop is requested
	acceptDone chan struct{} // closed when the accept loop has returned
	finished   chan struct{} // closed when shutdown has completed
	stopOnce   sync.Once
}

type Option func(*Server)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func WithInterval(d time.Duration) Option {
	return func(s *Server) { s.interval = d }
}

// WithAcceptTimeout bounds each accept wait so the loop re-checks for stop requests.
func WithAcceptTimeout(d time.Duration) Option {
	return func(s *Server) { s.acceptTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) { s.stopTimeout = d }
}

// WithBindRetry retries a bind that fails with "address in use" up to attempts
// times in total, doubling backoff between tries.
func WithBindRetry(attempts int, backoff time.Duration) Option {
	return func(s *Server) {
		s.bindAttempts = attempts
		s.bindBackoff = backoff
	}
}

func WithLimits(l *Limits) Option {
	return func(s *Server) { s.limits = l }
}

func WithMetrics(m *metrics.ServerMetrics, d *metrics.DeliveryMetrics) Option {
	return func(s *Server) {
		s.metrics = m
		s.delivery = d
	}
}

// NewServer creates a server that will listen on addr (host:port) once started.
func NewServer(addr string, source domain.PayloadSource, opts ...Option) *Server {
	s := &Server{
		addr:          addr,
		source:        source,
		clock:         clockwork.NewRealClock(),
		interval:      DefaultInterval,
		acceptTimeout: DefaultAcceptTimeout,
		writeTimeout:  DefaultWriteTimeout,
		stopTimeout:   DefaultStopTimeout,
		bindAttempts:  1,
		bindBackoff:   DefaultBindBackoff,
		ready:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil || s.delivery == nil {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.NewServerMetrics(reg)
		s.delivery = metrics.NewDeliveryMetrics(reg)
	}
	return s
}

func (s *Server) Name() string { return "network" }

func (s *Server) State() domain.ServerState {
	return domain.ServerState(s.state.Load())
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Addr returns the bound address, or nil when the server is not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.listener.Addr()
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.registry.len()
}

// Connections returns a snapshot of the open connections, oldest first.
func (s *Server) Connections() []ConnectionInfo {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return []ConnectionInfo{}
	}
	return r.registry.snapshot()
}

// Start binds the listening socket and serves clients until Stop is called, ctx
// is cancelled, or accepting fails. A bind failure returns *domain.BindError and
// leaves the server stopped. Stop during a bind retry makes Start return nil.
func (s *Server) Start(ctx context.Context) error {
	r, err := s.listen(ctx)
	if err != nil || r == nil {
		return err
	}

	slog.InfoContext(ctx, "Server listening", "addr", r.listener.Addr().String(), "interval", s.interval)

	acceptErr := make(chan error, 1)
	go func() {
		defer close(r.acceptDone)
		acceptErr <- s.acceptLoop(ctx, r)
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "Server context cancelled")
	case <-r.done:
	case err = <-acceptErr:
	}

	s.stopRun(ctx, r)
	return err
}

// listen binds outside s.mu so that readers and Stop are not held up by bind
// retries. It returns a nil run when the bind was aborted by Stop or ctx.
func (s *Server) listen(ctx context.Context) (*serverRun, error) {
	s.mu.Lock()
	if s.State() != domain.StateStopped || s.cancelBind != nil {
		s.mu.Unlock()
		return nil, domain.ErrAlreadyStarted
	}
	bindCtx, cancel := context.WithCancel(ctx)
	s.cancelBind = cancel
	s.mu.Unlock()

	ln, err := s.bind(bindCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelBind = nil
	aborted := bindCtx.Err() != nil
	cancel()

	if aborted {
		if ln != nil {
			_ = ln.Close()
		}
		slog.InfoContext(ctx, "Bind aborted before listening", "addr", s.addr)
		return nil, nil
	}
	if err != nil {
		return nil, &domain.BindError{Addr: s.addr, Err: err}
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, &domain.BindError{Addr: s.addr, Err: fmt.Errorf("unexpected listener type %T", ln)}
	}

	r := &serverRun{
		listener:   tcpLn,
		registry:   newRegistry(),
		done:       make(chan struct{}),
		acceptDone: make(chan struct{}),
		finished:   make(chan struct{}),
	}
	s.run = r
	s.state.Store(int32(domain.StateListening))
	close(s.ready)
	return r, nil
}

// bind opens the listening socket, retrying while the address is still in use.
func (s *Server) bind(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	policy := retry.Policy{
		MaxAttempts:    s.bindAttempts,
		InitialBackoff: s.bindBackoff,
		MaxBackoff:     8 * s.bindBackoff,
		Clock:          s.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.WarnContext(ctx, "Bind failed, retrying", "addr", s.addr, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	ln, err := retry.Do(ctx, policy, classifyBindError, func() (net.Listener, error) {
		return lc.Listen(ctx, "tcp", s.addr)
	})
	var permErr *retry.PermanentError
	if errors.As(err, &permErr) {
		return nil, permErr.Err
	}
	return ln, err
}

func classifyBindError(err error) retry.Action {
	if isAddrInUse(err) {
		return retry.Retry
	}
	return retry.Stop
}

func (s *Server) acceptLoop(ctx context.Context, r *serverRun) error {
	for {
		select {
		case <-r.done:
			return nil
		default:
		}

		_ = r.listener.SetDeadline(time.Now().Add(s.acceptTimeout))
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.done:
				return nil
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			s.metrics.AcceptErrors.Inc()
			slog.ErrorContext(ctx, "Accept failed, shutting down server", "error", err)
			return fmt.Errorf("accept on %s: %w", r.listener.Addr(), err)
		}

		s.admit(ctx, r, conn)
	}
}

// admit applies connection limits, registers the connection and hands it to its own
// handler goroutine.
func (s *Server) admit(ctx context.Context, r *serverRun, conn net.Conn) {
	c := newConnection(conn, s.clock.Now())

	if ok, reason := s.limits.Acquire(c.remoteIP); !ok {
		s.metrics.RejectedConnections.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(ctx, "Rejecting client", "remote_addr", c.RemoteAddr, "reason", reason)
		_ = conn.Close()
		return
	}

	if !r.registry.add(c) {
		s.limits.Release(c.remoteIP)
		_ = conn.Close()
		return
	}

	s.metrics.AcceptedConnections.Inc()
	s.metrics.ActiveConnections.Inc()

	r.handlers.Add(1)
	go s.serve(ctx, r, c)
}

// serve streams lines to one client until the server stops, the peer hangs up, or a
// write fails. Errors never leave this goroutine.
func (s *Server) serve(ctx context.Context, r *serverRun, c *Connection) {
	defer r.handlers.Done()

	ctx = correlation.WithConnID(ctx, c.ID.String())
	slog.InfoContext(ctx, "Client connected", "remote_addr", c.RemoteAddr, "active_connections", r.registry.len())

	r.handlers.Add(1)
	go func() {
		defer r.handlers.Done()
		c.discardInput()
	}()

	defer func() {
		if r.registry.remove(c) {
			s.release(ctx, c)
		}
		slog.InfoContext(ctx, "Client disconnected", "remote_addr", c.RemoteAddr, "lines_sent", c.LinesSent())
	}()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for s.State() == domain.StateListening {
		if err := c.writeLine(s.source.Next(), s.writeTimeout); err != nil {
			s.metrics.WriteErrors.Inc()
			if isDisconnect(err) {
				slog.DebugContext(ctx, "Client went away", "error", err)
			} else {
				slog.WarnContext(ctx, "Write to client failed", "error", err)
			}
			return
		}
		s.delivery.LinesSent.WithLabelValues(s.Name()).Inc()

		select {
		case <-r.done:
			return
		case <-c.peerGone:
			return
		case <-ticker.Chan():
		}
	}
}

// release closes a connection that the caller has just removed from the registry.
func (s *Server) release(ctx context.Context, c *Connection) {
	if err := c.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.DebugContext(ctx, "Closing client connection failed", "error", err)
	}
	s.limits.Release(c.remoteIP)
	s.metrics.ActiveConnections.Dec()
}

// Stop closes every client connection and the listening socket. It is idempotent,
// safe from any goroutine, and a no-op when the server is not running. A pending
// bind retry is abandoned. It returns once the server is back in the stopped state.
func (s *Server) Stop() {
	s.mu.Lock()
	r := s.run
	if s.cancelBind != nil {
		s.cancelBind()
	}
	s.mu.Unlock()

	if r == nil {
		return
	}
	s.stopRun(context.Background(), r)
}

func (s *Server) stopRun(ctx context.Context, r *serverRun) {
	r.stopOnce.Do(func() { s.shutdown(ctx, r) })
	<-r.finished
}

func (s *Server) shutdown(ctx context.Context, r *serverRun) {
	s.state.Store(int32(domain.StateShuttingDown))
	close(r.done)

	conns := r.registry.drain()
	slog.InfoContext(ctx, "Server shutting down", "open_connections", len(conns))

	for _, c := range conns {
		s.release(correlation.WithConnID(ctx, c.ID.String()), c)
	}

	if err := r.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.WarnContext(ctx, "Closing listener failed", "error", err)
	}

	s.awaitWorkers(ctx, r)

	s.mu.Lock()
	s.run = nil
	s.ready = make(chan struct{})
	s.state.Store(int32(domain.StateStopped))
	s.mu.Unlock()

	close(r.finished)
	slog.InfoContext(ctx, "Server stopped", "closed_connections", len(conns))
}

// awaitWorkers waits for the accept loop and all handlers, bounded by stopTimeout.
func (s *Server) awaitWorkers(ctx context.Context, r *serverRun) {
	workersDone := make(chan struct{})
	go func() {
		<-r.acceptDone
		r.handlers.Wait()
		close(workersDone)
	}()

	timeout := s.clock.NewTimer(s.stopTimeout)
	defer timeout.Stop()

	select {
	case <-workersDone:
	case <-timeout.Chan():
		slog.WarnContext(ctx, "Server stop timeout exceeded, handlers may still be exiting", "timeout", s.stopTimeout)
	}
}
