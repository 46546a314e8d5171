// Filename: info/types.go
// Defines the fact base produced by the information collector.
package info

import (
	"sort"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

// ExpressionInfo is the inferred type and taint of one expression node.
type ExpressionInfo struct {
	Type       core.BasicType
	Taint      core.TaintLevel
	Confidence float64
	// Sources names the taint-source calls that contributed to Taint.
	Sources []string
}

// unknownInfo is returned for anything the collector has no facts about.
var unknownInfo = ExpressionInfo{Type: core.TypeUnknown, Taint: core.TaintClean}

func (e ExpressionInfo) toMap() map[string]any {
	return map[string]any{
		"type":       string(e.Type),
		"taint":      e.Taint.String(),
		"confidence": e.Confidence,
		"sources":    stringsToAny(e.Sources),
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

// Assignment records one write to a variable.
type Assignment struct {
	Line       int
	Column     int
	Type       core.BasicType
	Taint      core.TaintLevel
	Confidence float64
}

// VariableInfo is the per-variable history. Type, Taint and Confidence mirror
// the most recent assignment, except that member writes may raise Taint.
type VariableInfo struct {
	Name            string
	Scope           string
	Type            core.BasicType
	Taint           core.TaintLevel
	Confidence      float64
	Assignments     []Assignment
	IsFunctionParam bool
	// Sources names the taint-source calls behind the current taint.
	Sources []string
}

// LastAssignment returns the most recent assignment, or nil for parameters that
// were never reassigned.
func (v *VariableInfo) LastAssignment() *Assignment {
	if len(v.Assignments) == 0 {
		return nil
	}
	return &v.Assignments[len(v.Assignments)-1]
}

func (v *VariableInfo) toMap() map[string]any {
	assignments := make([]any, 0, len(v.Assignments))
	for _, a := range v.Assignments {
		assignments = append(assignments, map[string]any{
			"line":       a.Line,
			"column":     a.Column,
			"type":       string(a.Type),
			"taint":      a.Taint.String(),
			"confidence": a.Confidence,
		})
	}
	return map[string]any{
		"name":              v.Name,
		"scope":             v.Scope,
		"type":              string(v.Type),
		"taint":             v.Taint.String(),
		"confidence":        v.Confidence,
		"is_function_param": v.IsFunctionParam,
		"assignments":       assignments,
		"sources":           stringsToAny(v.Sources),
	}
}

// FunctionInfo summarises a local function from its own body.
type FunctionInfo struct {
	Name       string
	Params     []string
	Line       int
	ReturnType core.BasicType
	// ReturnsSourceTaint is set when the body returns data read from a taint source.
	ReturnsSourceTaint bool
	// ReturnsTainted is set when the return value depends on a parameter.
	ReturnsTainted bool
}

func (f *FunctionInfo) toMap() map[string]any {
	return map[string]any{
		"name":                 f.Name,
		"params":               stringsToAny(f.Params),
		"line":                 f.Line,
		"return_type":          string(f.ReturnType),
		"returns_source_taint": f.ReturnsSourceTaint,
		"returns_tainted":      f.ReturnsTainted,
	}
}

// TaintSource records a call that introduced untrusted data.
type TaintSource struct {
	Function string
	Level    core.TaintLevel
	Line     int
	Column   int
}

// ExternalCall records a call to anything that is not a local function.
type ExternalCall struct {
	Function        string
	Line            int
	Column          int
	Arguments       int
	TaintedArgument bool
	ArgTaint        core.TaintLevel
}

// InformationResult is the fact base for one program. It is always valid; a
// collection that stopped early (budget, internal failure) is partial, not invalid.
type InformationResult struct {
	Expressions   map[*mlast.Node]ExpressionInfo
	Variables     map[string]*VariableInfo
	Functions     map[string]*FunctionInfo
	TaintSources  []TaintSource
	ExternalCalls []ExternalCall

	NodesAnalyzed    int
	CollectionTimeMs float64
	IsValid          bool
	// Truncated is set when the node budget stopped the walk.
	Truncated bool
	// Errors holds recovered internal failures.
	Errors []string
}

func newInformationResult() *InformationResult {
	return &InformationResult{
		Expressions: make(map[*mlast.Node]ExpressionInfo),
		Variables:   make(map[string]*VariableInfo),
		Functions:   make(map[string]*FunctionInfo),
		IsValid:     true,
	}
}

// ToMap converts the result into plain key-value data.
func (r *InformationResult) ToMap() map[string]any {
	variables := make(map[string]any, len(r.Variables))
	for name, v := range r.Variables {
		variables[name] = v.toMap()
	}
	functions := make(map[string]any, len(r.Functions))
	for name, f := range r.Functions {
		functions[name] = f.toMap()
	}

	sources := make([]any, 0, len(r.TaintSources))
	for _, s := range r.TaintSources {
		sources = append(sources, map[string]any{
			"function": s.Function,
			"level":    s.Level.String(),
			"line":     s.Line,
			"column":   s.Column,
		})
	}

	calls := make([]any, 0, len(r.ExternalCalls))
	for _, c := range r.ExternalCalls {
		calls = append(calls, map[string]any{
			"function":         c.Function,
			"line":             c.Line,
			"column":           c.Column,
			"arguments":        c.Arguments,
			"tainted_argument": c.TaintedArgument,
			"arg_taint":        c.ArgTaint.String(),
		})
	}

	nodes := make([]*mlast.Node, 0, len(r.Expressions))
	for n := range r.Expressions {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	expressions := make([]any, 0, len(nodes))
	for _, n := range nodes {
		m := r.Expressions[n].toMap()
		m["node_id"] = n.ID
		m["kind"] = n.Kind.String()
		m["line"] = n.Pos.Line
		expressions = append(expressions, m)
	}

	return map[string]any{
		"is_valid":           r.IsValid,
		"truncated":          r.Truncated,
		"nodes_analyzed":     r.NodesAnalyzed,
		"collection_time_ms": r.CollectionTimeMs,
		"variables":          variables,
		"functions":          functions,
		"taint_sources":      sources,
		"external_calls":     calls,
		"expressions":        expressions,
		"errors":             stringsToAny(r.Errors),
	}
}
