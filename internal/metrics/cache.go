package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes recorded by the derivative cache.
const (
	LookupHit  = "hit"  // exact key found
	LookupBase = "base" // rendered from a reusable base derivative
	LookupMiss = "miss" // rendered from the original source
)

// CacheMetrics observes derivative cache activity. A nil-safe no-op is
// returned when metrics are disabled, so callers never check for nil.
type CacheMetrics interface {
	// RecordLookup records the outcome of one derivative request.
	RecordLookup(outcome string)

	// RecordRender records a completed render with its duration.
	RecordRender(duration time.Duration, err error)

	// RecordInvalidation records how many cache entries an invalidation
	// removed.
	RecordInvalidation(entries int)
}

type cacheMetrics struct {
	lookups        *prometheus.CounterVec
	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	invalidated    prometheus.Counter
}

// NewCacheMetrics creates Prometheus-backed cache metrics, or a no-op
// implementation when the registry is not initialized.
func NewCacheMetrics() CacheMetrics {
	if !IsEnabled() {
		return noopCacheMetrics{}
	}

	reg := GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pictor_cache_lookups_total",
				Help: "Derivative cache lookups by outcome (hit, base, miss)",
			},
			[]string{"outcome"},
		),
		renders: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pictor_cache_renders_total",
				Help: "Derivative renders by status",
			},
			[]string{"status"},
		),
		renderDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pictor_cache_render_duration_seconds",
				Help:    "Duration of derivative renders in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		invalidated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pictor_cache_invalidated_entries_total",
				Help: "Cache entries removed by invalidation",
			},
		),
	}
}

func (m *cacheMetrics) RecordLookup(outcome string) {
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *cacheMetrics) RecordRender(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.renders.WithLabelValues(status).Inc()
	m.renderDuration.Observe(duration.Seconds())
}

func (m *cacheMetrics) RecordInvalidation(entries int) {
	m.invalidated.Add(float64(entries))
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordLookup(string)               {}
func (noopCacheMetrics) RecordRender(time.Duration, error) {}
func (noopCacheMetrics) RecordInvalidation(int)            {}
