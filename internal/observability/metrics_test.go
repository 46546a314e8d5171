// internal/observability/metrics_test.go
package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
)

// Collectors are process-global, so assertions compare deltas.

func TestRecordAnalysis(t *testing.T) {
	injection := threatsTotal.WithLabelValues(string(core.CategoryCodeInjection), core.LevelCritical.String())
	before := testutil.ToFloat64(injection)

	RecordAnalysis("deep", 3*time.Millisecond, []core.SecurityThreat{
		{Category: core.CategoryCodeInjection, Level: core.LevelCritical},
		{Category: core.CategoryCodeInjection, Level: core.LevelCritical},
	})
	assert.Equal(t, before+2, testutil.ToFloat64(injection))
}

func TestRecordSuppressed(t *testing.T) {
	before := testutil.ToFloat64(suppressedTotal)
	RecordSuppressed(0)
	RecordSuppressed(-1)
	assert.Equal(t, before, testutil.ToFloat64(suppressedTotal))

	RecordSuppressed(3)
	assert.Equal(t, before+3, testutil.ToFloat64(suppressedTotal))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := cacheLookups.WithLabelValues("hit")
	misses := cacheLookups.WithLabelValues("miss")
	h0, m0 := testutil.ToFloat64(hits), testutil.ToFloat64(misses)

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	assert.Equal(t, h0+1, testutil.ToFloat64(hits))
	assert.Equal(t, m0+2, testutil.ToFloat64(misses))
}

func TestRecordVerdictAndDenial(t *testing.T) {
	blocked := capabilityVerdicts.WithLabelValues("file", "BLOCKED")
	get := attributeDenials.WithLabelValues("get")
	b0, g0 := testutil.ToFloat64(blocked), testutil.ToFloat64(get)

	RecordVerdict("file", "BLOCKED")
	RecordAttributeDenial("get")

	assert.Equal(t, b0+1, testutil.ToFloat64(blocked))
	assert.Equal(t, g0+1, testutil.ToFloat64(get))
}

func TestMetricsHandler(t *testing.T) {
	RecordCacheLookup(true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mlsec_cache_lookups_total{result="hit"}`)
}
