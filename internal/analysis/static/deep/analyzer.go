// Filename: deep/analyzer.go
// Package deep runs the three-pass security analysis: pattern detection, data
// flow correlation and context validation. The passes share one candidate list
// that is rebuilt on every call.
package deep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/dataflow"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/info"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/patterns"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
)

const (
	// NumPasses is the number of passes every analysis runs.
	NumPasses = 3

	correlationBoost = 0.2
	downgradeFactor  = 0.5
)

// ErrNilProgram is returned when AnalyzeDeep is called without a program.
var ErrNilProgram = errors.New("deep analysis requires a parsed program")

type candidate struct {
	threat core.SecurityThreat
	// textual candidates came only from the raw-text scan and are subject to
	// context validation.
	textual    bool
	start, end int
	suppressed bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCollector replaces the collector used when no facts are supplied.
func WithCollector(c *info.Collector) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.collector = c
		}
	}
}

// Analyzer is the deep security analyzer. Calls are serialized; each call starts
// from a clean state.
type Analyzer struct {
	*core.BaseAnalyzer
	detector  *patterns.Detector
	flow      *dataflow.Analyzer
	collector *info.Collector

	mu         sync.Mutex
	candidates []*candidate
	violations []core.SecurityThreat
	passes     []PassStats
}

// NewAnalyzer creates a deep analyzer with its own detector and data-flow pass.
func NewAnalyzer(logger *zap.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer("deep_analyzer", "Three-pass pattern, data-flow and context analysis", core.TypeComposite, logger),
	}
	a.detector = patterns.NewDetector(a.Logger)
	a.flow = dataflow.NewAnalyzer(a.Logger)
	a.collector = info.NewCollector(a.Logger)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeDeep analyzes prog. When facts is nil the collector is run first.
// Rule failures are logged and recorded in the pass statistics; they never
// abort the analysis.
func (a *Analyzer) AnalyzeDeep(ctx context.Context, prog *mlast.Program, facts *info.InformationResult) (*Result, error) {
	if prog == nil || prog.Root == nil {
		return nil, ErrNilProgram
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()

	start := time.Now()
	ctx, span := startAnalysisSpan(ctx, prog.Filename, prog.NodeCount)
	defer span.End()

	if facts == nil {
		facts = a.collector.Collect(prog)
	}
	adapter := info.NewAdapter(facts)

	steps := []struct {
		name string
		run  func(*PassStats)
	}{
		{"pattern_detection", func(s *PassStats) { a.patternPass(prog, s) }},
		{"data_flow", func(s *PassStats) { a.dataFlowPass(prog, adapter, s) }},
		{"context_validation", func(s *PassStats) { a.contextPass(prog, adapter, s) }},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("deep analysis of %s interrupted before %s: %w", prog.Filename, step.name, err)
		}
		a.runPass(ctx, step.name, step.run)
	}

	threats := a.finalThreats()
	suppressed := 0
	for _, c := range a.candidates {
		if c.suppressed {
			suppressed++
		}
	}

	result := &Result{
		Filename:       prog.Filename,
		IsSecure:       true,
		Threats:        threats,
		AnalysisPasses: NumPasses,
		NodesAnalyzed:  prog.NodeCount,
		Passes:         append([]PassStats(nil), a.passes...),
		ParseErrors:    prog.HasErrors,
	}
	if len(a.candidates) > 0 {
		result.FalsePositiveRate = float64(suppressed) / float64(len(a.candidates))
	}
	for _, t := range threats {
		if t.Level.IsBlocking() {
			result.IsSecure = false
			break
		}
	}
	elapsed := time.Since(start)
	result.AnalysisTimeMs = float64(elapsed.Microseconds()) / 1000.0

	setAnalysisSpanResult(span, result)
	observability.RecordAnalysis("deep", elapsed, threats)
	observability.RecordSuppressed(suppressed)

	a.Logger.Info("Deep analysis complete",
		zap.String("file", prog.Filename),
		zap.Bool("secure", result.IsSecure),
		zap.Int("threats", len(threats)),
		zap.Int("suppressed", suppressed),
		zap.Duration("duration", elapsed),
	)
	return result, nil
}

func (a *Analyzer) reset() {
	a.candidates = nil
	a.violations = nil
	a.passes = a.passes[:0]
}

func (a *Analyzer) runPass(ctx context.Context, name string, run func(*PassStats)) {
	_, span := startPassSpan(ctx, name)
	defer span.End()

	stats := PassStats{Name: name}
	start := time.Now()
	run(&stats)
	stats.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0

	setPassSpanResult(span, stats)
	a.passes = append(a.passes, stats)
	a.Logger.Debug("Pass complete",
		zap.String("pass", name),
		zap.Int("candidates", stats.Candidates),
		zap.Int("emitted", stats.Emitted),
		zap.Int("suppressed", stats.Suppressed),
	)
}

// guard runs a single rule, turning a panic into a recorded failure.
func (a *Analyzer) guard(stats *PassStats, rule string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Error("Rule failed, continuing without it",
				zap.String("pass", stats.Name),
				zap.String("rule", rule),
				zap.Any("panic", r),
			)
			stats.Failures = append(stats.Failures, rule)
		}
	}()
	fn()
}

// -- Pass 1: pattern detection --

func (a *Analyzer) patternPass(prog *mlast.Program, stats *PassStats) {
	var found []*candidate

	a.guard(stats, "textual_patterns", func() {
		for _, m := range a.detector.Matches(prog.Source, prog.Filename) {
			c := &candidate{threat: m.Threat, textual: true, start: m.Start, end: m.End}
			// Keep the match position; the node is attached for context only.
			if n := mlast.Innermost(prog.Root, m.Start, m.End); n != nil && n != prog.Root {
				c.threat.Node = n
			}
			found = append(found, c)
		}
	})
	a.guard(stats, "structural_patterns", func() {
		for _, t := range a.detector.ScanProgram(prog) {
			found = append(found, &candidate{threat: t})
		}
	})

	stats.Candidates = len(found)
	a.candidates = mergeCandidates(found)
	stats.Emitted = len(a.candidates)
}

// mergeCandidates collapses candidates with the same category and line. The
// higher-confidence one wins; a structural duplicate clears the textual flag.
func mergeCandidates(in []*candidate) []*candidate {
	index := make(map[string]int, len(in))
	out := make([]*candidate, 0, len(in))
	for _, c := range in {
		key := c.threat.DedupKey()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, c)
			continue
		}
		keep, other := out[i], c
		if other.threat.Confidence > keep.threat.Confidence {
			keep, other = other, keep
		}
		merged := *keep
		merged.textual = keep.textual && other.textual
		if merged.threat.Node == nil {
			merged.threat.Node = other.threat.Node
		}
		out[i] = &merged
	}
	return out
}

// -- Pass 2: data flow --

func (a *Analyzer) dataFlowPass(prog *mlast.Program, facts *info.Adapter, stats *PassStats) {
	a.guard(stats, "taint_flow", func() {
		a.violations = a.flow.Analyze(prog, facts)
	})
	stats.Candidates = len(a.violations)
	stats.Emitted = len(a.violations)

	correlated := 0
	a.guard(stats, "correlation", func() {
		for _, v := range a.violations {
			for _, c := range a.candidates {
				if c.threat.Correlated || !dataflow.Related(c.threat.Node, v.Node) {
					continue
				}
				c.threat.Confidence = core.ClampConfidence(c.threat.Confidence + correlationBoost)
				c.threat.Correlated = true
				correlated++
			}
		}
	})
	if correlated > 0 {
		a.Logger.Debug("Pattern candidates confirmed by data flow", zap.Int("correlated", correlated))
	}
}

// -- Pass 3: context validation --

func (a *Analyzer) contextPass(prog *mlast.Program, facts *info.Adapter, stats *PassStats) {
	v := newContextValidator(prog, facts)
	stats.Candidates = len(a.candidates)

	for _, c := range a.candidates {
		if !c.textual || c.threat.Correlated {
			continue
		}
		a.guard(stats, "context:"+c.threat.Rule, func() {
			switch v.classify(c) {
			case verdictSuppress:
				c.suppressed = true
				stats.Suppressed++
			case verdictDowngrade:
				c.threat.Level = core.LevelLow
				c.threat.Confidence = core.ClampConfidence(c.threat.Confidence * downgradeFactor)
				c.threat.Message += " (concatenated values are not tainted)"
			}
		})
	}
	stats.Emitted = len(a.candidates) - stats.Suppressed
}

func (a *Analyzer) finalThreats() []core.SecurityThreat {
	var all []*candidate
	for _, c := range a.candidates {
		if !c.suppressed {
			all = append(all, c)
		}
	}
	for _, v := range a.violations {
		all = append(all, &candidate{threat: v})
	}
	merged := mergeCandidates(all)

	threats := make([]core.SecurityThreat, 0, len(merged))
	for _, c := range merged {
		t := c.threat
		t.Confidence = core.ClampConfidence(t.Confidence)
		threats = append(threats, t)
	}
	core.SortThreats(threats)
	for i := range threats {
		threats[i].ID = fmt.Sprintf("T-%04d", i+1)
	}
	return threats
}
