// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
)

var (
	// analysisDuration tracks end-to-end analysis latency per pipeline.
	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mlsec_analysis_duration_seconds",
		Help:    "Analysis duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"pipeline"})

	// threatsTotal counts emitted threats by category and level.
	threatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mlsec_threats_total",
		Help: "Total threats reported by category and level",
	}, []string{"category", "level"})

	// suppressedTotal counts pattern candidates dropped by context validation.
	suppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mlsec_suppressed_candidates_total",
		Help: "Pattern candidates suppressed as false positives",
	})

	// cacheLookups counts parallel result cache lookups by outcome.
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mlsec_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"result"})

	// capabilityVerdicts counts validator decisions.
	capabilityVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mlsec_capability_verdicts_total",
		Help: "Capability validation verdicts by resource type",
	}, []string{"resource_type", "verdict"})

	// attributeDenials counts attribute lookups refused by the runtime guard.
	attributeDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mlsec_attribute_denials_total",
		Help: "Attribute accesses denied by the runtime guard",
	}, []string{"operation"})
)

// RecordAnalysis records one analysis run.
func RecordAnalysis(pipeline string, d time.Duration, threats []core.SecurityThreat) {
	analysisDuration.WithLabelValues(pipeline).Observe(d.Seconds())
	for _, t := range threats {
		threatsTotal.WithLabelValues(string(t.Category), t.Level.String()).Inc()
	}
}

// RecordSuppressed adds n suppressed candidates.
func RecordSuppressed(n int) {
	if n > 0 {
		suppressedTotal.Add(float64(n))
	}
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// RecordVerdict records a capability decision.
func RecordVerdict(resourceType, verdict string) {
	capabilityVerdicts.WithLabelValues(resourceType, verdict).Inc()
}

// RecordAttributeDenial records a refused attribute operation (get, set, has).
func RecordAttributeDenial(op string) {
	attributeDenials.WithLabelValues(op).Inc()
}

// MetricsHandler exposes the default registry, which promauto registers into.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
