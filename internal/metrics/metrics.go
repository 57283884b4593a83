package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linecast"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ServerMetrics holds Prometheus metrics for the TCP connection server.
type ServerMetrics struct {
	ActiveConnections   prometheus.Gauge
	AcceptedConnections prometheus.Counter
	RejectedConnections *prometheus.CounterVec
	AcceptErrors        prometheus.Counter
	WriteErrors         prometheus.Counter
}

// NewServerMetrics creates and registers connection server metrics on the given registry.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Number of currently open client connections.",
		}),
		AcceptedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "accepted_connections_total",
			Help:      "Total number of accepted client connections.",
		}),
		RejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "rejected_connections_total",
			Help:      "Total number of connections rejected by admission limits, by reason.",
		}, []string{"reason"}),
		AcceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "accept_errors_total",
			Help:      "Total number of fatal accept errors.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "write_errors_total",
			Help:      "Total number of failed writes to client connections.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.AcceptedConnections, m.RejectedConnections, m.AcceptErrors, m.WriteErrors)
	return m
}

// DeliveryMetrics counts payload lines delivered per transport.
type DeliveryMetrics struct {
	LinesSent *prometheus.CounterVec
}

// NewDeliveryMetrics creates and registers delivery metrics on the given registry.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	m := &DeliveryMetrics{
		LinesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_sent_total",
			Help:      "Total number of payload lines delivered, by transport.",
		}, []string{"transport"}),
	}

	reg.MustRegister(m.LinesSent)
	return m
}
