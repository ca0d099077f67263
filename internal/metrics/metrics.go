// Package metrics collects the gateway's Prometheus exposition (SPEC_FULL
// §4/§5.5): dispatch counters, an active-stream gauge, a connected-agent
// gauge, an open-RPC-call gauge, and a broker end-to-end latency
// histogram. Grounded on the pack's Voskan-flarego/internal/metrics
// package (typed prometheus collectors registered once and updated from
// call sites) but built as an instance-owned struct rather than
// package-level globals — the gateway's lifecycle component owns one
// Metrics value and passes it to every collaborator that needs to
// observe something, per the REDESIGN FLAGS' "no mutable process-wide
// globals beyond the injected logger" rule.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the gateway exposes on GET /metrics.
// Long-term metrics storage is explicitly out of scope (spec.md §1
// Non-goals); these are live gauges/counters only, scraped by an external
// Prometheus, never persisted by this process.
type Metrics struct {
	registry *prometheus.Registry

	DispatchesTotal *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge
	ConnectedAgents prometheus.Gauge
	OpenRPCCalls    prometheus.Gauge
	BrokerLatency   prometheus.Histogram
}

// New constructs a Metrics bound to a fresh registry — not the global
// DefaultRegisterer — so tests can build as many independent instances as
// they like without colliding on collector names.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Subsystem: "broker",
			Name:      "dispatches_total",
			Help:      "Total request dispatches by request kind and outcome.",
		}, []string{"kind", "outcome"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmgateway",
			Subsystem: "broker",
			Name:      "active_streams",
			Help:      "Number of OpenAI requests whose broker was dispatched and whose HTTP response is still being written.",
		}),
		ConnectedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmgateway",
			Subsystem: "registry",
			Name:      "connected_agents",
			Help:      "Number of currently connected agents.",
		}),
		OpenRPCCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmgateway",
			Subsystem: "rpc",
			Name:      "open_calls",
			Help:      "Number of outbound agent RPC calls awaiting a reply.",
		}),
		BrokerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "llmgateway",
			Subsystem: "broker",
			Name:      "latency_seconds",
			Help:      "End-to-end broker lifetime, from dispatch to its terminal event.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.DispatchesTotal, m.ActiveStreams, m.ConnectedAgents, m.OpenRPCCalls, m.BrokerLatency)
	return m
}

// ObserveDispatch increments the dispatch counter for one (kind, outcome)
// pair. outcome is either "dispatched" or a gatewayerr.Kind string.
func (m *Metrics) ObserveDispatch(kind, outcome string) {
	m.DispatchesTotal.WithLabelValues(kind, outcome).Inc()
}

// Handler returns the http.Handler to mount at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
