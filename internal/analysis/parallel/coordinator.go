// Filename: parallel/coordinator.go
// Package parallel runs the pattern, structural and data-flow detectors
// concurrently over one input and caches the merged result. It is a fast second
// opinion next to the sequential deep analyzer.
package parallel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/dataflow"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/info"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/patterns"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
)

// Task names, also used as keys in Result.TaskCounts.
const (
	TaskPattern    = "pattern"
	TaskStructural = "structural"
	TaskDataFlow   = "dataflow"
)

// DefaultWorkers runs every task at once.
const DefaultWorkers = 3

// ErrMissingFilename is returned when caching is requested for an anonymous input.
var ErrMissingFilename = errors.New("a filename is required when caching is enabled")

// Result is the merged outcome of one parallel analysis.
type Result struct {
	Filename    string                `json:"filename"`
	IsSecure    bool                  `json:"is_secure"`
	Threats     []core.SecurityThreat `json:"threats"`
	ThreatCount int                   `json:"threat_count"`
	// TaskCounts holds the raw (pre-merge) finding count per task.
	TaskCounts     map[string]int `json:"task_counts"`
	TaskErrors     []string       `json:"task_errors,omitempty"`
	ParseErrors    bool           `json:"parse_errors,omitempty"`
	AnalysisTimeMs float64        `json:"analysis_time_ms"`
	CacheHit       bool           `json:"cache_hit"`
	CacheHits      int64          `json:"cache_hits"`
	CacheMisses    int64          `json:"cache_misses"`
}

func (r *Result) clone() *Result {
	c := *r
	c.Threats = append([]core.SecurityThreat(nil), r.Threats...)
	c.TaskErrors = append([]string(nil), r.TaskErrors...)
	c.TaskCounts = make(map[string]int, len(r.TaskCounts))
	for k, v := range r.TaskCounts {
		c.TaskCounts[k] = v
	}
	return &c
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// HitRate returns hits / lookups, or 0 before the first lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers bounds the number of tasks running at once.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithNodeBudget bounds the collector used by the data-flow task.
func WithNodeBudget(n int) Option {
	return func(c *Coordinator) {
		c.collectorOpts = append(c.collectorOpts, info.WithNodeBudget(n))
	}
}

// Coordinator owns the detectors and the result cache. The cache is the only
// shared mutable state and is guarded by mu.
type Coordinator struct {
	logger        *zap.Logger
	workers       int
	collectorOpts []info.Option

	detector *patterns.Detector
	flow     *dataflow.Analyzer

	mu     sync.Mutex
	cache  map[string]*Result
	hits   int64
	misses int64

	flight singleflight.Group
}

// NewCoordinator creates a coordinator with an empty cache.
func NewCoordinator(logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		logger:  logger.Named("parallel"),
		workers: DefaultWorkers,
		cache:   make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.detector = patterns.NewDetector(c.logger)
	c.flow = dataflow.NewAnalyzer(c.logger)
	return c
}

// CacheKey derives the cache key for a (source, filename) pair.
func CacheKey(source, filename string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + filename))
	return hex.EncodeToString(sum[:])
}

// AnalyzeParallel analyzes source. With enableCache, a previous result for the
// same (source, filename) is returned without re-running the detectors, and
// concurrent misses for the same key share one run.
func (c *Coordinator) AnalyzeParallel(ctx context.Context, source, filename string, enableCache bool) (*Result, error) {
	if !enableCache {
		return c.analyze(ctx, source, filename)
	}
	if filename == "" {
		return nil, ErrMissingFilename
	}

	key := CacheKey(source, filename)
	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.hits++
		res := cached.clone()
		res.CacheHit = true
		res.CacheHits, res.CacheMisses = c.hits, c.misses
		c.mu.Unlock()
		observability.RecordCacheLookup(true)
		c.logger.Debug("Cache hit", zap.String("file", filename))
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("parallel analysis of %q: %w", filename, err)
	}
	c.misses++
	c.mu.Unlock()
	observability.RecordCacheLookup(false)

	// The shared run must outlive any single caller: joined callers would
	// otherwise inherit the first caller's cancellation. Each caller still
	// stops waiting when its own context ends.
	runCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		res, err := c.analyze(runCtx, source, filename)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = res
		c.mu.Unlock()
		return res, nil
	})
	var out singleflight.Result
	select {
	case out = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("parallel analysis of %q: %w", filename, ctx.Err())
	}
	if out.Err != nil {
		return nil, out.Err
	}
	if out.Shared {
		c.logger.Debug("Joined in-flight analysis", zap.String("file", filename))
	}

	res := out.Val.(*Result).clone()
	c.mu.Lock()
	res.CacheHits, res.CacheMisses = c.hits, c.misses
	c.mu.Unlock()
	return res, nil
}

// ClearCache drops every cached result. Counters are kept.
func (c *Coordinator) ClearCache() {
	c.mu.Lock()
	n := len(c.cache)
	c.cache = make(map[string]*Result)
	c.mu.Unlock()
	c.logger.Debug("Cache cleared", zap.Int("entries", n))
}

// CacheStats returns the current counters.
func (c *Coordinator) CacheStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.cache)}
}

type taskResult struct {
	name    string
	threats []core.SecurityThreat
	err     error
}

func (c *Coordinator) analyze(ctx context.Context, source, filename string) (*Result, error) {
	start := time.Now()
	ctx, span := startAnalysisSpan(ctx, filename)
	defer span.End()

	prog, err := mlast.Parse(ctx, filename, source)
	if err != nil {
		return nil, fmt.Errorf("parallel analysis of %q: %w", filename, err)
	}

	tasks := []struct {
		name string
		run  func() []core.SecurityThreat
	}{
		{TaskPattern, func() []core.SecurityThreat { return c.detector.Scan(source, filename) }},
		{TaskStructural, func() []core.SecurityThreat { return c.detector.ScanProgram(prog) }},
		{TaskDataFlow, func() []core.SecurityThreat {
			facts := info.NewCollector(c.logger, c.collectorOpts...).Collect(prog)
			return c.flow.Analyze(prog, info.NewAdapter(facts))
		}},
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	results := make(chan taskResult, len(tasks))

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			results <- runTask(task.name, task.run)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parallel analysis of %q: %w", filename, err)
	}
	close(results)

	res := &Result{
		Filename:    filename,
		IsSecure:    true,
		TaskCounts:  make(map[string]int, len(tasks)),
		ParseErrors: prog.HasErrors,
	}
	var all []core.SecurityThreat
	for tr := range results {
		if tr.err != nil {
			res.TaskErrors = append(res.TaskErrors, tr.err.Error())
			c.logger.Error("Analysis task failed", zap.String("task", tr.name), zap.Error(tr.err))
			continue
		}
		res.TaskCounts[tr.name] = len(tr.threats)
		all = append(all, tr.threats...)
	}

	// Channel order depends on scheduling; sort before merging so the kept
	// duplicate does not.
	core.SortThreats(all)
	res.Threats = core.DedupeThreats(all)
	core.SortThreats(res.Threats)
	for i := range res.Threats {
		res.Threats[i].Confidence = core.ClampConfidence(res.Threats[i].Confidence)
		res.Threats[i].ID = fmt.Sprintf("P-%04d", i+1)
		if res.Threats[i].Level.IsBlocking() {
			res.IsSecure = false
		}
	}
	sort.Strings(res.TaskErrors)
	res.ThreatCount = len(res.Threats)

	elapsed := time.Since(start)
	res.AnalysisTimeMs = float64(elapsed.Microseconds()) / 1000.0
	setAnalysisSpanResult(span, res)
	observability.RecordAnalysis("parallel", elapsed, res.Threats)

	c.logger.Info("Parallel analysis complete",
		zap.String("file", filename),
		zap.Int("threats", res.ThreatCount),
		zap.Duration("duration", elapsed),
	)
	return res, nil
}

// runTask executes one detector, converting a panic into an error.
func runTask(name string, run func() []core.SecurityThreat) (tr taskResult) {
	tr.name = name
	defer func() {
		if r := recover(); r != nil {
			tr.threats = nil
			tr.err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	tr.threats = run()
	return tr
}
