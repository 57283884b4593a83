package supervisor

import (
	"io"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/linecast/internal/adapter/httpserver"
	"github.com/pscheid92/linecast/internal/console"
	"github.com/pscheid92/linecast/internal/domain"
	"github.com/pscheid92/linecast/internal/lineserver"
	"github.com/pscheid92/linecast/internal/metrics"
	"github.com/pscheid92/linecast/internal/payload"
	"github.com/pscheid92/linecast/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps carries the process-level collaborators. Zero values get defaults.
type Deps struct {
	Clock    clockwork.Clock
	Stdout   io.Writer
	Registry *prometheus.Registry
}

// Composition is the result of Compose: the supervisor plus typed handles on
// the members it built.
type Composition struct {
	*Supervisor

	Mode    domain.Mode
	Console *console.Broadcaster
	Network *lineserver.Server
	Admin   *httpserver.Server
}

// Compose builds the member set for cfg.Mode. An unsupported mode yields a
// *domain.ConfigurationError and nothing is constructed.
func Compose(cfg *config.Config, deps Deps) (*Composition, error) {
	mode, err := domain.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Registry == nil {
		deps.Registry = metrics.NewRegistry()
	}

	source := payload.NewSource(deps.Clock, cfg.Message)
	delivery := metrics.NewDeliveryMetrics(deps.Registry)

	comp := &Composition{Mode: mode}
	var members []Member

	if mode.UsesNetwork() {
		limits := lineserver.NewLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst, deps.Clock)
		comp.Network = lineserver.NewServer(cfg.ListenAddr(), source,
			lineserver.WithClock(deps.Clock),
			lineserver.WithInterval(cfg.Interval),
			lineserver.WithAcceptTimeout(cfg.AcceptTimeout),
			lineserver.WithWriteTimeout(cfg.WriteTimeout),
			lineserver.WithBindRetry(cfg.BindAttempts, cfg.BindBackoff),
			lineserver.WithLimits(limits),
			lineserver.WithMetrics(metrics.NewServerMetrics(deps.Registry), delivery),
		)
		members = append(members, comp.Network)
	}

	if mode.UsesConsole() {
		comp.Console = console.NewBroadcaster(source, deps.Stdout,
			console.WithClock(deps.Clock),
			console.WithInterval(cfg.Interval),
			console.WithMetrics(delivery),
		)
		members = append(members, comp.Console)
	}

	if cfg.AdminAddr != "" {
		var sources []httpserver.ConnectionSource
		if comp.Network != nil {
			sources = append(sources, comp.Network)
		}
		comp.Admin = httpserver.NewServer(cfg.AdminAddr, deps.Registry, sources, httpserver.WithClock(deps.Clock))
		members = append(members, comp.Admin)
	}

	attrs := []any{"mode", string(mode), "interval", cfg.Interval}
	if comp.Network != nil {
		attrs = append(attrs, "listen_addr", cfg.ListenAddr())
	}
	if comp.Admin != nil {
		attrs = append(attrs, "admin_addr", cfg.AdminAddr)
	}
	slog.Info("Broadcasters composed", attrs...)

	comp.Supervisor = New(members, WithClock(deps.Clock))
	return comp, nil
}
