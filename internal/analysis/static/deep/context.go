// Filename: deep/context.go
package deep

import (
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/info"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/patterns"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

type verdict int

const (
	verdictKeep verdict = iota
	verdictSuppress
	verdictDowngrade
)

// contextValidator decides whether a textual match sits in live code.
type contextValidator struct {
	prog    *mlast.Program
	facts   *info.Adapter
	parents map[*mlast.Node]*mlast.Node
	aliases map[string]string
	spans   bool
}

func newContextValidator(prog *mlast.Program, facts *info.Adapter) *contextValidator {
	return &contextValidator{
		prog:    prog,
		facts:   facts,
		parents: mlast.Parents(prog.Root),
		aliases: patterns.ImportAliases(prog.Root),
		spans:   hasSpans(prog.Root),
	}
}

// hasSpans reports whether byte offsets can be mapped onto the tree. Hand-built
// programs carry none, and their textual candidates are kept as reported.
func hasSpans(root *mlast.Node) bool {
	if len(root.Body) == 0 {
		return true
	}
	for _, s := range root.Body {
		if s != nil && s.End > s.Start {
			return true
		}
	}
	return false
}

func (v *contextValidator) classify(c *candidate) verdict {
	if !v.spans {
		return verdictKeep
	}
	chain := mlast.Covering(v.prog.Root, c.start, c.end)
	if len(chain) == 0 || mlast.EnclosingStatement(chain) == nil {
		return verdictSuppress
	}
	// Matches that only touch a block's own text (comments, blank lines) are not code.
	if isContainer(chain[len(chain)-1].Kind) {
		return verdictSuppress
	}

	if lit := innermostOf(chain, mlast.KindString); lit != nil {
		if !v.reaches(lit, map[string]bool{}) {
			return verdictSuppress
		}
		return verdictKeep
	}

	if c.threat.Category == core.CategorySQLInjection {
		if concat := innermostOf(chain, mlast.KindBinary); concat != nil && v.facts.TaintOf(concat) == core.TaintClean {
			return verdictDowngrade
		}
	}
	return verdictKeep
}

func isContainer(k mlast.Kind) bool {
	switch k {
	case mlast.KindProgram, mlast.KindBlock, mlast.KindFunction, mlast.KindIf,
		mlast.KindWhile, mlast.KindFor, mlast.KindFuncLit:
		return true
	}
	return false
}

func innermostOf(chain []*mlast.Node, kind mlast.Kind) *mlast.Node {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Kind == kind {
			return chain[i]
		}
	}
	return nil
}

// reaches reports whether the value of n is called, concatenated, returned or
// passed to a sink, following plain variable assignments.
func (v *contextValidator) reaches(n *mlast.Node, visited map[string]bool) bool {
	cur := n
	for {
		p := v.parents[cur]
		if p == nil {
			return false
		}
		switch p.Kind {
		case mlast.KindBinary:
			return p.Op == "+"
		case mlast.KindTernary:
			if cur == p.Cond {
				return false
			}
			cur = p
		case mlast.KindArray, mlast.KindObject, mlast.KindProperty:
			cur = p
		case mlast.KindMember:
			// "...".format(x) and similar method calls use the value.
			if gp := v.parents[p]; gp != nil && gp.Kind == mlast.KindCall && gp.Callee == p {
				return true
			}
			return false
		case mlast.KindCall:
			if cur == p.Callee {
				return true
			}
			return v.isSink(p)
		case mlast.KindReturn:
			return true
		case mlast.KindAssign:
			if cur != p.Value || p.Target == nil || p.Target.Kind != mlast.KindIdent {
				return false
			}
			return v.variableReaches(p.Target, visited)
		default:
			return false
		}
	}
}

func (v *contextValidator) variableReaches(def *mlast.Node, visited map[string]bool) bool {
	name := def.Name
	if visited[name] {
		return false
	}
	visited[name] = true

	found := false
	mlast.Inspect(v.prog.Root, func(n *mlast.Node) bool {
		if found {
			return false
		}
		if n != def && n.Kind == mlast.KindIdent && n.Name == name && !v.isAssignTarget(n) {
			found = v.reaches(n, visited)
		}
		return !found
	})
	return found
}

func (v *contextValidator) isAssignTarget(n *mlast.Node) bool {
	p := v.parents[n]
	return p != nil && p.Kind == mlast.KindAssign && p.Target == n
}

func (v *contextValidator) isSink(call *mlast.Node) bool {
	name, ok := mlast.QualifiedName(call.Callee)
	if !ok {
		return false
	}
	name = patterns.ResolveName(name, v.aliases)
	if _, found := core.LookupDangerousCall(name); found {
		return true
	}
	if core.ReflectionBuiltins[name] || core.IsSQLSink(name) {
		return true
	}
	return name == "require" || name == "import"
}
