// Package metrics holds the process-local Prometheus registry backing the
// node's counters. Purely local observability; nothing here is uploaded.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the counters components increment. A nil *Metrics is
// valid everywhere and increments nothing, which keeps tests quiet.
type Metrics struct {
	registry *prometheus.Registry

	QueriesTotal       *prometheus.CounterVec
	QueryRejections    prometheus.Counter
	QueryCancellations prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	TelemetryOverflow prometheus.Counter
	TelemetryDropped  prometheus.Counter

	VKPInstalls  prometheus.Counter
	VKPRollbacks prometheus.Counter

	TopicUnresolved prometheus.Counter
}

// New builds a registry with all node counters plus Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensei_queries_total",
			Help: "Completed queries by outcome kind.",
		}, []string{"kind"}),
		QueryRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_query_rejections_total",
			Help: "Admissions refused at capacity.",
		}),
		QueryCancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_query_cancellations_total",
			Help: "Queries cancelled by client or deadline.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_cache_hits_total",
			Help: "Response cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_cache_misses_total",
			Help: "Response cache misses.",
		}),
		TelemetryOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_telemetry_ring_overflow_total",
			Help: "Telemetry events overwritten before aggregation.",
		}),
		TelemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_telemetry_dropped_total",
			Help: "Telemetry payloads dropped by the PII scrubber.",
		}),
		VKPInstalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_vkp_installs_total",
			Help: "Successful VKP installations.",
		}),
		VKPRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_vkp_rollbacks_total",
			Help: "Successful VKP rollbacks.",
		}),
		TopicUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensei_topic_unresolved_total",
			Help: "Answers whose retrieved chunks carried no usable topic.",
		}),
	}
	reg.MustRegister(
		m.QueriesTotal, m.QueryRejections, m.QueryCancellations,
		m.CacheHits, m.CacheMisses,
		m.TelemetryOverflow, m.TelemetryDropped,
		m.VKPInstalls, m.VKPRollbacks,
		m.TopicUnresolved,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The Inc helpers below are nil-safe so components can run without a
// registry (tests, tools).

func (m *Metrics) IncKind(kind string) {
	if m != nil {
		m.QueriesTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncRejection() {
	if m != nil {
		m.QueryRejections.Inc()
	}
}

func (m *Metrics) IncCancellation() {
	if m != nil {
		m.QueryCancellations.Inc()
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) IncTelemetryOverflow() {
	if m != nil {
		m.TelemetryOverflow.Inc()
	}
}

func (m *Metrics) IncTelemetryDropped() {
	if m != nil {
		m.TelemetryDropped.Inc()
	}
}

func (m *Metrics) IncVKPInstall() {
	if m != nil {
		m.VKPInstalls.Inc()
	}
}

func (m *Metrics) IncVKPRollback() {
	if m != nil {
		m.VKPRollbacks.Inc()
	}
}

func (m *Metrics) IncTopicUnresolved() {
	if m != nil {
		m.TopicUnresolved.Inc()
	}
}
