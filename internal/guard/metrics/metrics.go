package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for guarded checks.
type Metrics struct {
	Checks       *prometheus.CounterVec
	FailClosed   *prometheus.CounterVec
	CheckLatency prometheus.Histogram
}

// New creates and registers guard metrics.
func New() *Metrics {
	return &Metrics{
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_guard_checks_total",
			Help: "Guarded checks by outcome and reason",
		}, []string{"outcome", "reason"}),

		FailClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_guard_fail_closed_total",
			Help: "Decisions converted to deny by infrastructure failure",
		}, []string{"reason"}),

		CheckLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_guard_check_duration_seconds",
			Help:    "Duration of a full guarded check including the audit write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncCheck records a check result.
func (m *Metrics) IncCheck(outcome, reason string) {
	if m != nil {
		m.Checks.WithLabelValues(outcome, reason).Inc()
	}
}

// IncFailClosed records a fail-closed conversion.
func (m *Metrics) IncFailClosed(reason string) {
	if m != nil {
		m.FailClosed.WithLabelValues(reason).Inc()
	}
}

// ObserveCheckLatency records the check duration.
func (m *Metrics) ObserveCheckLatency(d time.Duration) {
	if m != nil {
		m.CheckLatency.Observe(d.Seconds())
	}
}
