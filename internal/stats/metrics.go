package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mirrors the service counters into Prometheus collectors. All
// methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	// Requests counts API requests by endpoint kind.
	// Labels: endpoint (data|status|stats)
	Requests *prometheus.CounterVec

	// Connected is 1 while the gateway session is connected.
	Connected prometheus.Gauge

	// PresenceUpdates counts snapshot overwrites by source.
	// Labels: source (event|refresh)
	PresenceUpdates *prometheus.CounterVec

	// RefreshSkips counts refresh ticks that left the snapshot untouched.
	// Labels: reason (not_ready|user|guild|presence)
	RefreshSkips *prometheus.CounterVec

	// registry holds the collectors above plus Go runtime and process metrics.
	registry *prometheus.Registry
}

// NewMetrics creates a Metrics bundle on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "api_requests_total",
			Help:      "API requests served, by endpoint.",
		}, []string{"endpoint"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oracle",
			Name:      "gateway_connected",
			Help:      "Whether the Discord gateway session is connected (1) or not (0).",
		}),
		PresenceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "presence_updates_total",
			Help:      "Presence snapshot overwrites, by source.",
		}, []string{"source"}),
		RefreshSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Name:      "refresh_skipped_total",
			Help:      "Refresh ticks that left the snapshot untouched, by reason.",
		}, []string{"reason"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Requests,
		m.Connected,
		m.PresenceUpdates,
		m.RefreshSkips,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format. It
// returns nil on a nil receiver.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestServed increments the request counter for kind.
func (m *Metrics) RequestServed(kind Endpoint) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(string(kind)).Inc()
}

// SetConnected records the gateway connection state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// PresenceApplied counts a snapshot overwrite from source.
func (m *Metrics) PresenceApplied(source string) {
	if m == nil {
		return
	}
	m.PresenceUpdates.WithLabelValues(source).Inc()
}

// RefreshSkipped counts a refresh tick skipped for reason.
func (m *Metrics) RefreshSkipped(reason string) {
	if m == nil {
		return
	}
	m.RefreshSkips.WithLabelValues(reason).Inc()
}
