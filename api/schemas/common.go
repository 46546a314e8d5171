package schemas

import (
	"time"

	"github.com/google/uuid"
)

// -- Result Schemas --

// PassSummary mirrors one deep analysis pass.
type PassSummary struct {
	Name       string   `json:"name"`
	Candidates int      `json:"candidates"`
	Emitted    int      `json:"emitted"`
	Suppressed int      `json:"suppressed"`
	DurationMs float64  `json:"duration_ms"`
	Failures   []string `json:"failures,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	TotalThreats      int            `json:"total_threats"`
	BySeverity        map[string]int `json:"by_severity"`
	AnalysisTimeMs    float64        `json:"analysis_time_ms"`
	NodesAnalyzed     int            `json:"nodes_analyzed"`
	FalsePositiveRate float64        `json:"false_positive_rate"`
	Passes            []PassSummary  `json:"passes"`
}

// ResultEnvelope is the top level wrapper for the analysis of one source file.
type ResultEnvelope struct {
	RunID     uuid.UUID `json:"run_id"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	IsSecure  bool      `json:"is_secure"`
	Threats   []Threat  `json:"threats"`
	// ParallelThreatCount is the merged count from the parallel coordinator,
	// reported alongside the deep analyzer's threats for cross-checking.
	ParallelThreatCount int     `json:"parallel_threat_count"`
	ParseErrors         bool    `json:"parse_errors,omitempty"`
	Summary             Summary `json:"summary"`
}

// BlockingThreats returns the CRITICAL and HIGH threats.
func (e *ResultEnvelope) BlockingThreats() []Threat {
	var out []Threat
	for _, t := range e.Threats {
		if t.Severity.IsBlocking() {
			out = append(out, t)
		}
	}
	return out
}
