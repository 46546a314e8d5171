// Filename: deep/result.go
package deep

import (
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
)

// PassStats summarizes a single pass.
type PassStats struct {
	Name       string  `json:"name"`
	Candidates int     `json:"candidates"`
	Emitted    int     `json:"emitted"`
	Suppressed int     `json:"suppressed"`
	DurationMs float64 `json:"duration_ms"`
	// Failures lists rules that panicked during the pass.
	Failures []string `json:"failures,omitempty"`
}

// Result is the outcome of AnalyzeDeep.
type Result struct {
	Filename          string                `json:"filename,omitempty"`
	IsSecure          bool                  `json:"is_secure"`
	Threats           []core.SecurityThreat `json:"threats"`
	AnalysisPasses    int                   `json:"analysis_passes"`
	AnalysisTimeMs    float64               `json:"analysis_time_ms"`
	NodesAnalyzed     int                   `json:"nodes_analyzed"`
	FalsePositiveRate float64               `json:"false_positive_rate"`
	Passes            []PassStats           `json:"passes"`
	// ParseErrors is set when the source had syntax errors and the tree was recovered.
	ParseErrors bool `json:"parse_errors,omitempty"`
}

// CriticalThreats returns the CRITICAL threats in report order.
func (r *Result) CriticalThreats() []core.SecurityThreat {
	return r.atLevel(core.LevelCritical)
}

// HighThreats returns the HIGH threats in report order.
func (r *Result) HighThreats() []core.SecurityThreat {
	return r.atLevel(core.LevelHigh)
}

func (r *Result) atLevel(level core.ThreatLevel) []core.SecurityThreat {
	var out []core.SecurityThreat
	for _, t := range r.Threats {
		if t.Level == level {
			out = append(out, t)
		}
	}
	return out
}

// CountByLevel returns the number of threats per level name.
func (r *Result) CountByLevel() map[string]int {
	counts := make(map[string]int)
	for _, t := range r.Threats {
		counts[t.Level.String()]++
	}
	return counts
}

// ToMap converts the result to plain key-value data.
func (r *Result) ToMap() map[string]any {
	threats := make([]any, 0, len(r.Threats))
	for _, t := range r.Threats {
		threats = append(threats, t.ToMap())
	}
	passes := make([]any, 0, len(r.Passes))
	for _, p := range r.Passes {
		failures := make([]any, 0, len(p.Failures))
		for _, f := range p.Failures {
			failures = append(failures, f)
		}
		passes = append(passes, map[string]any{
			"name":        p.Name,
			"candidates":  p.Candidates,
			"emitted":     p.Emitted,
			"suppressed":  p.Suppressed,
			"duration_ms": p.DurationMs,
			"failures":    failures,
		})
	}
	counts := make(map[string]any)
	for k, v := range r.CountByLevel() {
		counts[k] = v
	}
	return map[string]any{
		"filename":            r.Filename,
		"is_secure":           r.IsSecure,
		"threats":             threats,
		"analysis_passes":     r.AnalysisPasses,
		"analysis_time_ms":    r.AnalysisTimeMs,
		"nodes_analyzed":      r.NodesAnalyzed,
		"false_positive_rate": r.FalsePositiveRate,
		"passes":              passes,
		"parse_errors":        r.ParseErrors,
		"threat_counts":       counts,
	}
}
