package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
)

// TestStructJSONTags pins the `json` tags that reports and stored rows rely on.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "Threat",
			structRef: schemas.Threat{},
			expectedTags: map[string]string{
				"ID":         "id",
				"Category":   "category",
				"Severity":   "severity",
				"Message":    "message",
				"Rule":       "rule",
				"Source":     "source",
				"Confidence": "confidence",
				"Filename":   "filename",
				"Line":       "line",
				"Column":     "column",
				"Location":   "location",
				"Evidence":   "evidence,omitempty",
				"Correlated": "correlated",
			},
		},
		{
			name:      "ResultEnvelope",
			structRef: schemas.ResultEnvelope{},
			expectedTags: map[string]string{
				"RunID":               "run_id",
				"Filename":            "filename",
				"Timestamp":           "timestamp",
				"IsSecure":            "is_secure",
				"Threats":             "threats",
				"ParallelThreatCount": "parallel_threat_count",
				"ParseErrors":         "parse_errors,omitempty",
				"Summary":             "summary",
			},
		},
		{
			name:      "Summary",
			structRef: schemas.Summary{},
			expectedTags: map[string]string{
				"TotalThreats":      "total_threats",
				"BySeverity":        "by_severity",
				"AnalysisTimeMs":    "analysis_time_ms",
				"NodesAnalyzed":     "nodes_analyzed",
				"FalsePositiveRate": "false_positive_rate",
				"Passes":            "passes",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			actualTags := make(map[string]string)
			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				if jsonTag := field.Tag.Get("json"); jsonTag != "" {
					actualTags[field.Name] = jsonTag
				}
			}
			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}

func TestBlockingThreats(t *testing.T) {
	env := &schemas.ResultEnvelope{Threats: []schemas.Threat{
		{ID: "T-0001", Severity: schemas.SeverityCritical},
		{ID: "T-0002", Severity: schemas.SeverityMedium},
		{ID: "T-0003", Severity: schemas.SeverityHigh},
	}}
	blocking := env.BlockingThreats()
	if assert.Len(t, blocking, 2) {
		assert.Equal(t, "T-0001", blocking[0].ID)
		assert.Equal(t, "T-0003", blocking[1].ID)
	}
	assert.False(t, schemas.SeverityLow.IsBlocking())
}
