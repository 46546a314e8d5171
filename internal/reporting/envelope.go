package reporting

import (
	"time"

	"github.com/google/uuid"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/deep"
)

// NewEnvelope converts a deep analysis result into the report schema. A fresh
// run ID is assigned.
func NewEnvelope(res *deep.Result, parallelThreatCount int) *schemas.ResultEnvelope {
	env := &schemas.ResultEnvelope{
		RunID:               uuid.New(),
		Filename:            res.Filename,
		Timestamp:           time.Now().UTC(),
		IsSecure:            res.IsSecure,
		Threats:             make([]schemas.Threat, 0, len(res.Threats)),
		ParallelThreatCount: parallelThreatCount,
		ParseErrors:         res.ParseErrors,
		Summary: schemas.Summary{
			TotalThreats:      len(res.Threats),
			BySeverity:        res.CountByLevel(),
			AnalysisTimeMs:    res.AnalysisTimeMs,
			NodesAnalyzed:     res.NodesAnalyzed,
			FalsePositiveRate: res.FalsePositiveRate,
		},
	}
	for _, t := range res.Threats {
		env.Threats = append(env.Threats, ThreatRecord(t))
	}
	for _, p := range res.Passes {
		env.Summary.Passes = append(env.Summary.Passes, schemas.PassSummary{
			Name:       p.Name,
			Candidates: p.Candidates,
			Emitted:    p.Emitted,
			Suppressed: p.Suppressed,
			DurationMs: p.DurationMs,
			Failures:   p.Failures,
		})
	}
	return env
}

// ThreatRecord flattens an analyzer threat.
func ThreatRecord(t core.SecurityThreat) schemas.Threat {
	return schemas.Threat{
		ID:         t.ID,
		Category:   string(t.Category),
		Severity:   schemas.Severity(t.Level.String()),
		Message:    t.Message,
		Rule:       t.Rule,
		Source:     string(t.Source),
		Confidence: t.Confidence,
		Filename:   t.Filename,
		Line:       t.Line,
		Column:     t.Column,
		Location:   t.Location(),
		Evidence:   t.Evidence,
		Correlated: t.Correlated,
	}
}
