package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit recorder and its workers.
type Metrics struct {
	AppendLatency   prometheus.Histogram
	AppendFailures  prometheus.Counter
	Finalizations   *prometheus.CounterVec
	StaleMarked     prometheus.Counter
	EntriesPublished prometheus.Counter
	PublishFailures prometheus.Counter
}

// New creates and registers audit metrics.
func New() *Metrics {
	return &Metrics{
		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_audit_append_duration_seconds",
			Help:    "Duration of durable audit appends including sequencing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_append_failures_total",
			Help: "Audit appends that failed and forced a fail-closed denial",
		}),
		Finalizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_audit_finalizations_total",
			Help: "Audit finalizations by completion state",
		}, []string{"completion"}),
		StaleMarked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_stale_entries_total",
			Help: "Pending entries marked stale by the scanner",
		}),
		EntriesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_entries_published_total",
			Help: "Finalized entries published to the fan-out topic",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_publish_failures_total",
			Help: "Publish attempts that failed and will be retried",
		}),
	}
}

// ObserveAppendLatency records an append duration.
func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	if m != nil {
		m.AppendLatency.Observe(d.Seconds())
	}
}

// IncAppendFailure records a failed append.
func (m *Metrics) IncAppendFailure() {
	if m != nil {
		m.AppendFailures.Inc()
	}
}

// IncFinalization records a finalization by completion state.
func (m *Metrics) IncFinalization(completion string) {
	if m != nil {
		m.Finalizations.WithLabelValues(completion).Inc()
	}
}

// AddStaleMarked records entries marked stale.
func (m *Metrics) AddStaleMarked(n int) {
	if m != nil {
		m.StaleMarked.Add(float64(n))
	}
}

// AddPublished records published entries.
func (m *Metrics) AddPublished(n int) {
	if m != nil {
		m.EntriesPublished.Add(float64(n))
	}
}

// IncPublishFailure records a failed publish batch.
func (m *Metrics) IncPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}
