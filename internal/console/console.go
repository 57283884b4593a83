// Package console delivers payload lines to a single local writer.
package console

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/linecast/internal/domain"
	"github.com/pscheid92/linecast/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultInterval = time.Second

// Broadcaster writes one LF-terminated payload line per interval to its sink.
type Broadcaster struct {
	source   domain.PayloadSource
	sink     io.Writer
	clock    clockwork.Clock
	interval time.Duration
	delivery *metrics.DeliveryMetrics

	running  atomic.Bool
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce *sync.Once
}

type Option func(*Broadcaster)

func WithClock(clock clockwork.Clock) Option {
	return func(b *Broadcaster) { b.clock = clock }
}

func WithInterval(interval time.Duration) Option {
	return func(b *Broadcaster) { b.interval = interval }
}

func WithMetrics(m *metrics.DeliveryMetrics) Option {
	return func(b *Broadcaster) { b.delivery = m }
}

func NewBroadcaster(source domain.PayloadSource, sink io.Writer, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		source:   source,
		sink:     sink,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.delivery == nil {
		b.delivery = metrics.NewDeliveryMetrics(prometheus.NewRegistry())
	}
	return b
}

func (b *Broadcaster) Name() string { return "console" }

// Running reports whether the delivery loop is active.
func (b *Broadcaster) Running() bool { return b.running.Load() }

// Start delivers lines until Stop is called or ctx is cancelled.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running.Load() {
		b.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	stopCh := make(chan struct{})
	b.stopCh = stopCh
	b.stopOnce = &sync.Once{}
	b.running.Store(true)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.stopCh == stopCh {
			b.running.Store(false)
		}
		b.mu.Unlock()
	}()

	slog.InfoContext(ctx, "Console broadcaster started", "interval", b.interval)
	defer slog.InfoContext(ctx, "Console broadcaster stopped")

	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for b.running.Load() {
		b.emit(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		case <-ticker.Chan():
		}
	}
	return nil
}

func (b *Broadcaster) emit(ctx context.Context) {
	line := b.source.Next()
	if _, err := io.WriteString(b.sink, line+"\n"); err != nil {
		slog.WarnContext(ctx, "Console write failed", "error", err)
		return
	}
	b.delivery.LinesSent.WithLabelValues(b.Name()).Inc()
}

// Stop ends the delivery loop. Calling it before Start or more than once is a no-op.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.running.Store(false)
	if b.stopOnce != nil {
		b.stopOnce.Do(func() { close(b.stopCh) })
	}
}
