package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

// -- Threat Definitions --

// ThreatLevel orders findings by impact. CRITICAL and HIGH make a program insecure.
type ThreatLevel int

const (
	LevelInfo ThreatLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{
	LevelInfo:     "INFO",
	LevelLow:      "LOW",
	LevelMedium:   "MEDIUM",
	LevelHigh:     "HIGH",
	LevelCritical: "CRITICAL",
}

func (l ThreatLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("ThreatLevel(%d)", int(l))
	}
	return levelNames[l]
}

func (l ThreatLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts level names case-insensitively.
func (l *ThreatLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseThreatLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseThreatLevel converts a level name back into a ThreatLevel.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == upper {
			return ThreatLevel(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown threat level %q", s)
}

// IsBlocking reports whether a threat at this level makes a program insecure.
func (l ThreatLevel) IsBlocking() bool { return l >= LevelHigh }

// ThreatCategory is a closed set of finding kinds. New kinds are added as constants.
type ThreatCategory string

const (
	CategoryCodeInjection         ThreatCategory = "CODE_INJECTION"
	CategoryReflectionAbuse       ThreatCategory = "REFLECTION_ABUSE"
	CategoryDataFlowViolation     ThreatCategory = "DATA_FLOW_VIOLATION"
	CategoryImportAbuse           ThreatCategory = "IMPORT_ABUSE"
	CategoryDangerousOperation    ThreatCategory = "DANGEROUS_OPERATION"
	CategorySQLInjection          ThreatCategory = "SQL_INJECTION"
	CategoryUnsafeDeserialization ThreatCategory = "UNSAFE_DESERIALIZATION"
	CategoryFileSystemAccess      ThreatCategory = "FILE_SYSTEM_ACCESS"
)

// AllCategories lists every category in a stable order.
func AllCategories() []ThreatCategory {
	return []ThreatCategory{
		CategoryCodeInjection,
		CategoryReflectionAbuse,
		CategoryDataFlowViolation,
		CategoryImportAbuse,
		CategoryDangerousOperation,
		CategorySQLInjection,
		CategoryUnsafeDeserialization,
		CategoryFileSystemAccess,
	}
}

// ThreatSource records which stage produced a threat.
type ThreatSource string

const (
	SourcePattern    ThreatSource = "pattern"
	SourceStructural ThreatSource = "structural"
	SourceDataFlow   ThreatSource = "dataflow"
)

// UnknownLocation is reported for threats that are not attached to an AST node.
const UnknownLocation = "unknown location"

// SecurityThreat is a single finding.
type SecurityThreat struct {
	ID         string         `json:"id,omitempty"`
	Category   ThreatCategory `json:"category"`
	Level      ThreatLevel    `json:"level"`
	Message    string         `json:"message"`
	Confidence float64        `json:"confidence"`
	Rule       string         `json:"rule"`
	Source     ThreatSource   `json:"source"`
	Filename   string         `json:"filename,omitempty"`
	Line       int            `json:"line,omitempty"`
	Column     int            `json:"column,omitempty"`
	Evidence   string         `json:"evidence,omitempty"`
	// Correlated is set when the data-flow pass confirmed a pattern match.
	Correlated bool `json:"correlated,omitempty"`

	Node *mlast.Node `json:"-"`
}

// AttachNode associates the threat with an AST node and adopts its position.
func (t *SecurityThreat) AttachNode(n *mlast.Node) {
	if n == nil {
		return
	}
	t.Node = n
	if n.Pos.IsValid() {
		t.Line = n.Pos.Line
		t.Column = n.Pos.Column
	}
}

// Location renders file:line:column, or "unknown location" when no node is attached.
func (t SecurityThreat) Location() string {
	if t.Node == nil {
		return UnknownLocation
	}
	file := t.Filename
	if file == "" {
		file = "<input>"
	}
	return fmt.Sprintf("%s:%d:%d", file, t.Line, t.Column)
}

// DedupKey identifies threats that describe the same issue.
func (t SecurityThreat) DedupKey() string {
	return fmt.Sprintf("%s|%d", t.Category, t.Line)
}

// ToMap converts the threat to plain key-value data.
func (t SecurityThreat) ToMap() map[string]any {
	m := map[string]any{
		"id":         t.ID,
		"category":   string(t.Category),
		"level":      t.Level.String(),
		"message":    t.Message,
		"confidence": t.Confidence,
		"rule":       t.Rule,
		"source":     string(t.Source),
		"filename":   t.Filename,
		"line":       t.Line,
		"column":     t.Column,
		"location":   t.Location(),
		"evidence":   t.Evidence,
		"correlated": t.Correlated,
	}
	if t.Node != nil {
		m["node_kind"] = t.Node.Kind.String()
		m["node_id"] = t.Node.ID
	}
	return m
}

// ClampConfidence bounds a confidence value to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// SortThreats orders threats by level (most severe first), then position,
// category and rule.
func SortThreats(threats []SecurityThreat) {
	sort.SliceStable(threats, func(i, j int) bool {
		a, b := threats[i], threats[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Rule < b.Rule
	})
}

// DedupeThreats keeps one threat per DedupKey, preferring the higher confidence.
// The order of first occurrence is preserved.
func DedupeThreats(threats []SecurityThreat) []SecurityThreat {
	index := make(map[string]int, len(threats))
	out := make([]SecurityThreat, 0, len(threats))
	for _, t := range threats {
		key := t.DedupKey()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, t)
			continue
		}
		if t.Confidence > out[i].Confidence {
			if t.Node == nil {
				t.Node = out[i].Node
			}
			out[i] = t
		} else if out[i].Node == nil {
			out[i].Node = t.Node
		}
	}
	return out
}
