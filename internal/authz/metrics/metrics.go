package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for permission resolution.
type Metrics struct {
	CacheLookups   *prometheus.CounterVec
	Resolutions    *prometheus.CounterVec
	ResolveLatency prometheus.Histogram
}

// New creates and registers resolver metrics.
func New() *Metrics {
	return &Metrics{
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_authz_cache_lookups_total",
			Help: "Decision cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss"

		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_authz_resolutions_total",
			Help: "Permission resolutions by outcome and reason",
		}, []string{"outcome", "reason"}),

		ResolveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_authz_resolve_duration_seconds",
			Help:    "Duration of permission resolution including role loads",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// IncCacheLookup records a cache hit or miss.
func (m *Metrics) IncCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

// IncResolution records a resolution outcome.
func (m *Metrics) IncResolution(outcome, reason string) {
	if m != nil {
		m.Resolutions.WithLabelValues(outcome, reason).Inc()
	}
}

// ObserveResolveLatency records the resolution duration.
func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}
