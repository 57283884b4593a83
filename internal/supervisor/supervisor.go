// Package supervisor composes the broadcasters selected by the configured mode,
// runs them side by side and stops them together.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const DefaultStopTimeout = 15 * time.Second

// Member is anything the supervisor runs: every domain.Broadcaster, plus
// auxiliary services such as the admin server.
type Member interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

type Supervisor struct {
	members     []Member
	clock       clockwork.Clock
	stopTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool

	stopOnce sync.Once
}

type Option func(*Supervisor)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Supervisor) { s.clock = clock }
}

// WithStopTimeout bounds how long Stop waits for a single member.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.stopTimeout = d }
}

// New supervises members in the given order. Stop visits them in the same order.
func New(members []Member, opts ...Option) *Supervisor {
	s := &Supervisor{
		members:     members,
		clock:       clockwork.NewRealClock(),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Members() []Member { return s.members }

// Run starts every member concurrently and blocks until all have returned. The
// first start failure cancels the remaining members and is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range s.members {
		g.Go(func() error {
			return s.runMember(gctx, m)
		})
	}

	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "Supervisor stopped with error", "error", err)
		return err
	}
	slog.InfoContext(ctx, "Supervisor stopped")
	return nil
}

func (s *Supervisor) runMember(ctx context.Context, m Member) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", m.Name(), r)
		}
	}()

	slog.InfoContext(ctx, "Starting broadcaster", "broadcaster", m.Name())
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", m.Name(), err)
	}
	slog.DebugContext(ctx, "Broadcaster returned", "broadcaster", m.Name())
	return nil
}

// Stop cancels Run and stops every member. Failures and panics are logged and
// swallowed; a member that does not stop within the stop timeout is abandoned.
// Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		cancel := s.cancel
		s.mu.Unlock()

		slog.Info("Stopping broadcasters", "count", len(s.members))

		if cancel != nil {
			cancel()
		}
		for _, m := range s.members {
			s.stopMember(m)
		}
	})
}

func (s *Supervisor) stopMember(m Member) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Broadcaster stop panicked", "broadcaster", m.Name(), "panic", r)
			}
		}()
		m.Stop()
	}()

	timeout := s.clock.NewTimer(s.stopTimeout)
	defer timeout.Stop()

	select {
	case <-done:
		slog.Debug("Broadcaster stopped", "broadcaster", m.Name())
	case <-timeout.Chan():
		slog.Warn("Broadcaster stop timed out", "broadcaster", m.Name(), "timeout", s.stopTimeout)
	}
}
