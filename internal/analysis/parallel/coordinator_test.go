package parallel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
)

const taintedEval = "x = input(); eval(x);"

func TestAnalyzeParallel_MergesTaskFindings(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))

	res, err := c.AnalyzeParallel(context.Background(), taintedEval, "a.ml", false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TaskCounts[TaskPattern])
	assert.Equal(t, 1, res.TaskCounts[TaskStructural])
	assert.Equal(t, 1, res.TaskCounts[TaskDataFlow])
	// The textual and structural eval findings share category and line.
	assert.Equal(t, 2, res.ThreatCount)
	require.Len(t, res.Threats, 2)
	assert.Equal(t, core.CategoryCodeInjection, res.Threats[0].Category)
	assert.Equal(t, core.CategoryDataFlowViolation, res.Threats[1].Category)
	assert.Equal(t, "P-0001", res.Threats[0].ID)
	assert.False(t, res.IsSecure)
	assert.Empty(t, res.TaskErrors)
}

func TestAnalyzeParallel_CleanInput(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))

	res, err := c.AnalyzeParallel(context.Background(), "x = 5; y = x + 3;", "b.ml", true)
	require.NoError(t, err)
	assert.True(t, res.IsSecure)
	assert.Zero(t, res.ThreatCount)
}

func TestAnalyzeParallel_CacheHitOnRepeat(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, int64(0), first.CacheHits)
	assert.Equal(t, int64(1), first.CacheMisses)

	second, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ThreatCount, second.ThreatCount)
	assert.Equal(t, int64(1), second.CacheHits)

	stats := c.CacheStats()
	assert.Equal(t, CacheStats{Hits: 1, Misses: 1, Entries: 1}, stats)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestAnalyzeParallel_CachedResultsAreCopies(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	require.NoError(t, err)
	first.Threats[0].Message = "mutated"
	first.TaskCounts[TaskPattern] = 99

	second, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second.Threats[0].Message)
	assert.Equal(t, 1, second.TaskCounts[TaskPattern])
}

func TestAnalyzeParallel_KeyIncludesFilename(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	require.NoError(t, err)
	res, err := c.AnalyzeParallel(ctx, taintedEval, "b.ml", true)
	require.NoError(t, err)

	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, c.CacheStats().Entries)
	assert.NotEqual(t, CacheKey("ab", "c"), CacheKey("a", "bc"))
	assert.Equal(t, CacheKey("x", "y"), CacheKey("x", "y"))
}

func TestAnalyzeParallel_DisabledCacheLeavesCountersAlone(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		res, err := c.AnalyzeParallel(context.Background(), taintedEval, "", false)
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	assert.Equal(t, CacheStats{}, c.CacheStats())
}

func TestAnalyzeParallel_MissingFilename(t *testing.T) {
	c := NewCoordinator(zaptest.NewLogger(t))
	_, err := c.AnalyzeParallel(context.Background(), taintedEval, "", true)
	assert.ErrorIs(t, err, ErrMissingFilename)
}

func TestClearCache(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	require.NoError(t, err)
	c.ClearCache()
	assert.Equal(t, 0, c.CacheStats().Entries)

	res, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, int64(2), c.CacheStats().Misses)
}

func TestAnalyzeParallel_ConcurrentCallersShareOneEntry(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t), WithWorkers(2))
	ctx := context.Background()

	const callers = 12
	var wg sync.WaitGroup
	counts := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.AnalyzeParallel(ctx, taintedEval, "shared.ml", true)
			errs[i] = err
			if err == nil {
				counts[i] = res.ThreatCount
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 2, counts[i])
	}
	stats := c.CacheStats()
	assert.Equal(t, int64(callers), stats.Hits+stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestAnalyzeParallel_SingleWorker(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t), WithWorkers(1), WithNodeBudget(10_000))

	res, err := c.AnalyzeParallel(context.Background(), taintedEval, "a.ml", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ThreatCount)
}

func TestAnalyzeParallel_CanceledContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AnalyzeParallel(ctx, taintedEval, "a.ml", true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.CacheStats().Entries, "failed runs are not cached")
}

func TestAnalyzeParallel_CanceledCallerDoesNotFailJoinedCaller(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := NewCoordinator(zaptest.NewLogger(t))

	for i := 0; i < 20; i++ {
		c.ClearCache()
		ctx, cancel := context.WithCancel(context.Background())

		var wg sync.WaitGroup
		var firstErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, firstErr = c.AnalyzeParallel(ctx, taintedEval, "joined.ml", true)
		}()
		cancel()

		res, err := c.AnalyzeParallel(context.Background(), taintedEval, "joined.ml", true)
		wg.Wait()

		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, 2, res.ThreatCount)
		if firstErr != nil {
			assert.ErrorIs(t, firstErr, context.Canceled)
		}
		assert.Equal(t, 1, c.CacheStats().Entries, "the shared run still fills the cache")
	}
}

func TestRunTask_RecoversPanics(t *testing.T) {
	tr := runTask("boom", func() []core.SecurityThreat { panic("detector bug") })
	require.Error(t, tr.err)
	assert.Contains(t, tr.err.Error(), "boom")
	assert.Nil(t, tr.threats)
}
