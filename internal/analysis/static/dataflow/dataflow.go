// Filename: dataflow/dataflow.go
// Package dataflow reports untrusted values that reach sink arguments. It relies
// on the facts computed by the info collector and adds no inference of its own.
package dataflow

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/info"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/patterns"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

// Analyzer finds source-to-sink flows. It is stateless and safe for concurrent use.
type Analyzer struct {
	*core.BaseAnalyzer
}

// NewAnalyzer creates a data-flow analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer("dataflow", "Tracks untrusted data into dangerous sinks", core.TypeDataFlow, logger),
	}
}

// Analyze returns one DATA_FLOW_VIOLATION per untrusted sink argument. Each
// threat is attached to the offending call node.
func (a *Analyzer) Analyze(prog *mlast.Program, facts *info.Adapter) []core.SecurityThreat {
	if prog == nil || prog.Root == nil {
		return nil
	}
	if facts == nil {
		facts = info.NewAdapter(nil)
	}
	aliases := patterns.ImportAliases(prog.Root)

	var out []core.SecurityThreat
	mlast.Inspect(prog.Root, func(n *mlast.Node) bool {
		if n.Kind == mlast.KindCall {
			out = append(out, a.checkCall(n, prog.Filename, facts, aliases)...)
		}
		return true
	})

	if len(out) > 0 {
		a.Logger.Debug("Untrusted data reaches sinks", zap.String("file", prog.Filename), zap.Int("violations", len(out)))
	}
	return out
}

func (a *Analyzer) checkCall(call *mlast.Node, filename string, facts *info.Adapter, aliases map[string]string) []core.SecurityThreat {
	name, ok := mlast.QualifiedName(call.Callee)
	if !ok {
		return nil
	}
	name = patterns.ResolveName(name, aliases)
	var out []core.SecurityThreat

	if rule, found := core.LookupDangerousCall(name); found {
		for i, arg := range call.Args {
			if !rule.IsSinkArg(i) || !facts.IsUntrusted(arg) {
				continue
			}
			level := core.LevelHigh
			if rule.Level == core.LevelCritical {
				level = core.LevelCritical
			}
			out = append(out, violation(call, arg, filename, facts, level, "taint:"+rule.Name,
				fmt.Sprintf("Untrusted data reaches argument %d of %s (%s)", i+1, name, rule.Description)))
		}
	}

	if core.ReflectionBuiltins[name] && len(call.Args) >= 2 && facts.IsUntrusted(call.Args[1]) {
		out = append(out, violation(call, call.Args[1], filename, facts, core.LevelHigh, "taint:reflection_name",
			fmt.Sprintf("Attribute name passed to %s is derived from untrusted data", name)))
	}

	if core.IsSQLSink(name) && len(call.Args) > 0 {
		query := call.Args[0]
		if facts.IsUntrusted(query) && (isConcatenation(query) || facts.IsStringType(query)) {
			out = append(out, violation(call, query, filename, facts, core.LevelHigh, "taint:sql_query",
				fmt.Sprintf("Query passed to %s is built from untrusted data", name)))
		}
	}
	return out
}

func violation(call, arg *mlast.Node, filename string, facts *info.Adapter, level core.ThreatLevel, rule, msg string) core.SecurityThreat {
	fact := facts.NodeInfo(arg)
	if len(fact.Sources) > 0 {
		msg = fmt.Sprintf("%s; tainted by %s", msg, strings.Join(fact.Sources, ", "))
	}
	t := core.SecurityThreat{
		Category:   core.CategoryDataFlowViolation,
		Level:      level,
		Message:    msg,
		Confidence: core.ClampConfidence(0.6 + 0.4*fact.Confidence),
		Rule:       rule,
		Source:     core.SourceDataFlow,
		Filename:   filename,
		Evidence:   fact.Taint.String(),
	}
	t.AttachNode(call)
	return t
}

func isConcatenation(n *mlast.Node) bool {
	return n != nil && n.Kind == mlast.KindBinary && n.Op == "+"
}

// Related reports whether a threat attached to node sits on the given call:
// the same node, or a node inside the call's span.
func Related(node, call *mlast.Node) bool {
	if node == nil || call == nil {
		return false
	}
	if node == call {
		return true
	}
	if node.End > node.Start && call.Covers(node.Start, node.End) {
		return true
	}
	// Hand-built trees carry no spans; fall back to structural containment.
	found := false
	mlast.Inspect(call, func(n *mlast.Node) bool {
		if n == node {
			found = true
		}
		return !found
	})
	return found
}
