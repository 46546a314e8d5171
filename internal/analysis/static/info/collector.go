// Filename: info/collector.go
// Package info infers the static type and taint level of every expression in an
// ML program. The collector works in two passes: local functions are summarized
// first, then top-level statements are analyzed using those summaries.
package info

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

// Collector builds InformationResults. It keeps no per-program state and is safe
// for concurrent use.
type Collector struct {
	*core.BaseAnalyzer
	nodeBudget int
}

// Option configures a Collector.
type Option func(*Collector)

// WithNodeBudget stops collection after n visited nodes. Zero disables the limit.
func WithNodeBudget(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.nodeBudget = n
		}
	}
}

// NewCollector creates an information collector.
func NewCollector(logger *zap.Logger, opts ...Option) *Collector {
	c := &Collector{
		BaseAnalyzer: core.NewBaseAnalyzer("info_collector", "Infers expression types and taint levels", core.TypeCollector, logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect walks the program and returns its fact base. It never fails: internal
// errors are logged and the facts gathered so far are returned.
func (c *Collector) Collect(prog *mlast.Program) (result *InformationResult) {
	start := time.Now()
	result = newInformationResult()
	if prog == nil || prog.Root == nil {
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			c.Logger.Warn("Information collection aborted, returning partial facts",
				zap.String("file", prog.Filename),
				zap.Any("panic", r),
			)
			result.Errors = append(result.Errors, fmt.Sprint(r))
		}
		result.IsValid = true
		result.CollectionTimeMs = float64(time.Since(start).Microseconds()) / 1000
	}()

	w := &walker{res: result, logger: c.Logger, budget: c.nodeBudget}

	// Pass 1: function summaries.
	w.summarizeFunctions(prog.Root)
	c.Logger.Debug("Summarized local functions", zap.String("file", prog.Filename), zap.Int("functions", len(result.Functions)))

	// Pass 2: program analysis.
	w.walkBlock(prog.Root.Body)

	if w.exhausted {
		result.Truncated = true
		c.Logger.Warn("Node budget exhausted, facts are partial",
			zap.String("file", prog.Filename),
			zap.Int("budget", c.nodeBudget),
		)
	}
	return result
}

type walkerMode int

const (
	modeAnalyze walkerMode = iota
	modeSummarize
)

// walker carries the state of a single collection.
type walker struct {
	res       *InformationResult
	logger    *zap.Logger
	mode      walkerMode
	budget    int
	exhausted bool
	// scopes is the stack of enclosing function scopes; the global scope is implicit.
	scopes []string

	// Summarize mode only.
	returnInfo ExpressionInfo
	returned   bool
}

// -- Pass 1: Function Summaries --

func (w *walker) summarizeFunctions(root *mlast.Node) {
	mlast.Inspect(root, func(n *mlast.Node) bool {
		if n.Kind != mlast.KindFunction || n.Name == "" {
			return true
		}
		w.res.Functions[n.Name] = w.summarize(n)
		return true
	})
}

// summarize runs the body twice: once with clean parameters to see whether the
// function returns source taint on its own, once with tainted parameters to see
// whether parameter taint reaches the return value.
func (w *walker) summarize(fn *mlast.Node) *FunctionInfo {
	clean := w.summaryRun(fn, core.TaintClean)
	tainted := w.summaryRun(fn, core.TaintUserInput)

	return &FunctionInfo{
		Name:               fn.Name,
		Params:             append([]string(nil), fn.Params...),
		Line:               fn.Pos.Line,
		ReturnType:         clean.Type,
		ReturnsSourceTaint: clean.Taint.IsUntrusted(),
		ReturnsTainted:     tainted.Taint > clean.Taint,
	}
}

func (w *walker) summaryRun(fn *mlast.Node, paramTaint core.TaintLevel) ExpressionInfo {
	scratch := newInformationResult()
	// Summaries computed so far are visible so local calls resolve.
	scratch.Functions = w.res.Functions

	sub := &walker{res: scratch, logger: w.logger, mode: modeSummarize, returnInfo: unknownInfo}
	sub.enterFunction(fn, fn.Name, paramTaint)
	return sub.returnInfo
}

func (w *walker) recordReturn(info ExpressionInfo) {
	if w.mode != modeSummarize || len(w.scopes) != 1 {
		return
	}
	if !w.returned {
		w.returnInfo = info
		w.returned = true
		return
	}
	merged := w.returnInfo
	if merged.Type != info.Type {
		merged.Type = core.TypeUnknown
	}
	merged.Taint = merged.Taint.Join(info.Taint)
	merged.Confidence = min(merged.Confidence, info.Confidence)
	merged.Sources = mergeSources(merged.Sources, info.Sources)
	w.returnInfo = merged
}

// -- Scopes --

func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}

func (w *walker) currentScope() string {
	if len(w.scopes) == 0 {
		return ""
	}
	return w.scopes[len(w.scopes)-1]
}

// lookup resolves a name from the innermost scope outwards.
func (w *walker) lookup(name string) *VariableInfo {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if v, ok := w.res.Variables[qualify(w.scopes[i], name)]; ok {
			return v
		}
	}
	return w.res.Variables[name]
}

// variable returns the record for name in the current scope, creating it.
func (w *walker) variable(name string) *VariableInfo {
	scope := w.currentScope()
	key := qualify(scope, name)
	v, ok := w.res.Variables[key]
	if !ok {
		v = &VariableInfo{Name: name, Scope: scope, Type: core.TypeUnknown}
		w.res.Variables[key] = v
	}
	return v
}

func (w *walker) enterFunction(fn *mlast.Node, scope string, paramTaint core.TaintLevel) {
	w.scopes = append(w.scopes, scope)
	defer func() { w.scopes = w.scopes[:len(w.scopes)-1] }()

	for _, p := range fn.Params {
		v := w.variable(p)
		v.Type = core.TypeUnknown
		v.Taint = paramTaint
		v.Confidence = 0.5
		v.IsFunctionParam = true
	}
	w.walkBlock(fn.Body)
}

// visit accounts for one node against the budget.
func (w *walker) visit() bool {
	if w.exhausted {
		return false
	}
	if w.budget > 0 && w.res.NodesAnalyzed >= w.budget {
		w.exhausted = true
		return false
	}
	w.res.NodesAnalyzed++
	return true
}

// -- Pass 2: Statements --

func (w *walker) walkBlock(stmts []*mlast.Node) {
	for _, s := range stmts {
		if w.exhausted {
			return
		}
		w.walkStmt(s)
	}
}

func (w *walker) walkStmt(n *mlast.Node) {
	if n == nil {
		return
	}
	if !n.Kind.IsStatement() {
		w.eval(n)
		return
	}
	if !w.visit() {
		return
	}

	switch n.Kind {
	case mlast.KindAssign:
		w.assignment(n)

	case mlast.KindExprStmt:
		w.eval(n.Value)

	case mlast.KindFunction:
		// Nested declarations are summarized on their own.
		if w.mode == modeSummarize {
			return
		}
		w.res.Expressions[n] = ExpressionInfo{Type: core.TypeFunction, Taint: core.TaintClean, Confidence: 1}
		w.enterFunction(n, n.Name, core.TaintUserInput)

	case mlast.KindReturn:
		ret := unknownInfo
		if n.Value != nil {
			ret = w.eval(n.Value)
		}
		w.recordReturn(ret)

	case mlast.KindIf:
		w.eval(n.Cond)
		w.walkBlock(n.Body)
		w.walkBlock(n.Else)

	case mlast.KindWhile:
		if n.Cond != nil {
			w.eval(n.Cond)
		}
		w.walkBlock(n.Body)

	case mlast.KindFor:
		iter := w.eval(n.Value)
		if n.Name != "" {
			w.assignVar(n.Name, n, ExpressionInfo{
				Type:       elementType(iter.Type),
				Taint:      iter.Taint,
				Confidence: iter.Confidence * 0.8,
				Sources:    iter.Sources,
			})
		}
		w.walkBlock(n.Body)

	case mlast.KindImport:
		binding := n.Alias
		if binding == "" {
			binding, _, _ = strings.Cut(n.Module, ".")
		}
		imported := ExpressionInfo{Type: core.TypeObject, Taint: core.TaintClean, Confidence: 1}
		w.res.Expressions[n] = imported
		w.assignVar(binding, n, imported)

	case mlast.KindBlock, mlast.KindProgram:
		w.walkBlock(n.Body)

	case mlast.KindBreak, mlast.KindContinue:
	}
}

func (w *walker) assignment(n *mlast.Node) ExpressionInfo {
	val := w.eval(n.Value)
	if n.Op != "" && n.Op != "=" {
		current := w.eval(n.Target)
		val = combineBinary(strings.TrimSuffix(n.Op, "="), current, val)
	}
	w.assignTarget(n.Target, n, val)
	w.res.Expressions[n] = val
	return val
}

func (w *walker) assignTarget(target, at *mlast.Node, val ExpressionInfo) {
	if target == nil {
		return
	}
	switch target.Kind {
	case mlast.KindIdent:
		w.assignVar(target.Name, at, val)
		w.res.Expressions[target] = val

	case mlast.KindMember, mlast.KindIndex:
		w.eval(target.Object)
		if target.Index != nil {
			w.eval(target.Index)
		}
		w.res.Expressions[target] = val
		// Writing into a structure taints the structure.
		if base := rootIdent(target); base != nil {
			v := w.lookup(base.Name)
			if v == nil {
				v = w.variable(base.Name)
				v.Type = core.TypeObject
			}
			v.Taint = v.Taint.Join(val.Taint)
			v.Sources = mergeSources(v.Sources, val.Sources)
		}

	default:
		// Destructuring: every bound name receives the value's taint.
		mlast.Inspect(target, func(n *mlast.Node) bool {
			if n.Kind == mlast.KindIdent {
				w.assignVar(n.Name, at, ExpressionInfo{
					Type:       core.TypeUnknown,
					Taint:      val.Taint,
					Confidence: val.Confidence * 0.5,
					Sources:    val.Sources,
				})
			}
			return true
		})
	}
}

func (w *walker) assignVar(name string, at *mlast.Node, val ExpressionInfo) {
	v := w.variable(name)
	v.Assignments = append(v.Assignments, Assignment{
		Line:       at.Pos.Line,
		Column:     at.Pos.Column,
		Type:       val.Type,
		Taint:      val.Taint,
		Confidence: val.Confidence,
	})
	v.Type = val.Type
	v.Taint = val.Taint
	v.Confidence = val.Confidence
	v.Sources = val.Sources
}

// -- Expressions --

// eval infers and records the facts for an expression node.
func (w *walker) eval(n *mlast.Node) ExpressionInfo {
	if n == nil || !w.visit() {
		return unknownInfo
	}
	info := w.infer(n)
	info.Confidence = core.ClampConfidence(info.Confidence)
	w.res.Expressions[n] = info
	return info
}

func (w *walker) infer(n *mlast.Node) ExpressionInfo {
	switch n.Kind {
	case mlast.KindNumber:
		return ExpressionInfo{Type: core.TypeNumber, Confidence: 1}
	case mlast.KindString:
		return ExpressionInfo{Type: core.TypeString, Confidence: 1}
	case mlast.KindBool:
		return ExpressionInfo{Type: core.TypeBoolean, Confidence: 1}
	case mlast.KindNull:
		return ExpressionInfo{Type: core.TypeUnknown, Confidence: 1}

	case mlast.KindIdent:
		if v := w.lookup(n.Name); v != nil {
			return ExpressionInfo{Type: v.Type, Taint: v.Taint, Confidence: v.Confidence, Sources: v.Sources}
		}
		if _, ok := w.res.Functions[n.Name]; ok {
			return ExpressionInfo{Type: core.TypeFunction, Confidence: 1}
		}
		return ExpressionInfo{Type: core.TypeUnknown, Taint: core.TaintClean, Confidence: 0.2}

	case mlast.KindArray:
		return w.aggregate(core.TypeArray, n.Elements)

	case mlast.KindObject:
		return w.aggregate(core.TypeObject, n.Elements)

	case mlast.KindProperty:
		return w.eval(n.Value)

	case mlast.KindBinary:
		return combineBinary(n.Op, w.eval(n.Left), w.eval(n.Right))

	case mlast.KindUnary:
		operand := w.eval(n.Left)
		return ExpressionInfo{Type: unaryType(n.Op), Taint: operand.Taint, Confidence: operand.Confidence, Sources: operand.Sources}

	case mlast.KindTernary:
		w.eval(n.Cond)
		l, r := w.eval(n.Left), w.eval(n.Right)
		typ := l.Type
		if l.Type != r.Type {
			typ = core.TypeUnknown
		}
		return ExpressionInfo{
			Type:       typ,
			Taint:      l.Taint.Join(r.Taint),
			Confidence: min(l.Confidence, r.Confidence),
			Sources:    mergeSources(l.Sources, r.Sources),
		}

	case mlast.KindCall:
		return w.call(n)

	case mlast.KindMember:
		obj := w.eval(n.Object)
		if core.IsExternalProperty(n.Name) {
			return ExpressionInfo{
				Type:       externalPropertyType(n.Name),
				Taint:      obj.Taint.Join(core.TaintExternal),
				Confidence: 0.9,
				Sources:    mergeSources(obj.Sources, []string{n.Name}),
			}
		}
		typ := core.TypeUnknown
		if n.Name == "length" {
			typ = core.TypeNumber
		}
		return ExpressionInfo{Type: typ, Taint: obj.Taint, Confidence: obj.Confidence * 0.8, Sources: obj.Sources}

	case mlast.KindIndex:
		obj := w.eval(n.Object)
		w.eval(n.Index)
		typ := core.TypeUnknown
		if obj.Type == core.TypeString {
			typ = core.TypeString
		}
		return ExpressionInfo{Type: typ, Taint: obj.Taint, Confidence: obj.Confidence * 0.8, Sources: obj.Sources}

	case mlast.KindFuncLit:
		if w.mode == modeAnalyze {
			w.enterFunction(n, fmt.Sprintf("lambda@%d", n.ID), core.TaintUserInput)
		}
		return ExpressionInfo{Type: core.TypeFunction, Confidence: 1}

	case mlast.KindAssign:
		return w.assignment(n)

	case mlast.KindOther:
		out := w.aggregate(core.TypeUnknown, n.Elements)
		out.Confidence = 0.3
		return out
	}

	// Statement kinds in expression position carry no value.
	return unknownInfo
}

func (w *walker) aggregate(typ core.BasicType, elems []*mlast.Node) ExpressionInfo {
	out := ExpressionInfo{Type: typ, Confidence: 1}
	for _, e := range elems {
		ei := w.eval(e)
		out.Taint = out.Taint.Join(ei.Taint)
		out.Sources = mergeSources(out.Sources, ei.Sources)
	}
	return out
}

func (w *walker) call(n *mlast.Node) ExpressionInfo {
	var argTaint core.TaintLevel
	var sources []string
	for _, a := range n.Args {
		ai := w.eval(a)
		argTaint = argTaint.Join(ai.Taint)
		sources = mergeSources(sources, ai.Sources)
	}
	callee := w.eval(n.Callee)

	name, named := mlast.QualifiedName(n.Callee)
	if named {
		if lvl, ok := core.TaintSourceLevel(name); ok {
			w.res.TaintSources = append(w.res.TaintSources, TaintSource{
				Function: name,
				Level:    lvl,
				Line:     n.Pos.Line,
				Column:   n.Pos.Column,
			})
			return ExpressionInfo{Type: core.TypeString, Taint: lvl, Confidence: 0.9, Sources: []string{name}}
		}

		if n.Callee.Kind == mlast.KindIdent && w.lookup(name) == nil {
			if fn, ok := w.res.Functions[name]; ok {
				switch {
				case fn.ReturnsSourceTaint:
					return ExpressionInfo{Type: fn.ReturnType, Taint: core.TaintUserInput, Confidence: 0.8, Sources: []string{name}}
				case fn.ReturnsTainted:
					return ExpressionInfo{Type: fn.ReturnType, Taint: argTaint.Join(core.TaintComputed), Confidence: 0.7, Sources: sources}
				default:
					return ExpressionInfo{Type: fn.ReturnType, Taint: core.TaintClean, Confidence: 0.8}
				}
			}
		}
	} else {
		name = "<dynamic>"
	}

	w.res.ExternalCalls = append(w.res.ExternalCalls, ExternalCall{
		Function:        name,
		Line:            n.Pos.Line,
		Column:          n.Pos.Column,
		Arguments:       len(n.Args),
		TaintedArgument: argTaint.IsTainted(),
		ArgTaint:        argTaint,
	})

	taint := argTaint
	if n.Callee != nil && n.Callee.Kind != mlast.KindIdent {
		// Method receivers and computed callees pass their taint through.
		taint = taint.Join(callee.Taint)
		sources = mergeSources(sources, callee.Sources)
	}
	return ExpressionInfo{Type: builtinReturnType(name), Taint: taint, Confidence: 0.6, Sources: sources}
}

// -- Typing Rules --

func combineBinary(op string, l, r ExpressionInfo) ExpressionInfo {
	typ := binaryType(op, l.Type, r.Type)
	conf := min(l.Confidence, r.Confidence)
	if typ == core.TypeUnknown {
		conf *= 0.5
	}
	return ExpressionInfo{
		Type:       typ,
		Taint:      l.Taint.Join(r.Taint),
		Confidence: conf,
		Sources:    mergeSources(l.Sources, r.Sources),
	}
}

func binaryType(op string, l, r core.BasicType) core.BasicType {
	switch op {
	case "+":
		if l == core.TypeString || r == core.TypeString {
			return core.TypeString
		}
		if l == core.TypeNumber && r == core.TypeNumber {
			return core.TypeNumber
		}
		if l == core.TypeArray && r == core.TypeArray {
			return core.TypeArray
		}
		return core.TypeUnknown
	case "-", "*", "/", "%", "**", "//", "&", "|", "^", "<<", ">>", ">>>":
		return core.TypeNumber
	case "==", "!=", "<", ">", "<=", ">=", "in", "instanceof":
		return core.TypeBoolean
	case "&&", "||", "and", "or":
		return core.TypeBoolean
	case ",":
		return r
	}
	return core.TypeUnknown
}

func unaryType(op string) core.BasicType {
	switch op {
	case "!", "not":
		return core.TypeBoolean
	case "-", "+", "~":
		return core.TypeNumber
	case "typeof":
		return core.TypeString
	}
	return core.TypeUnknown
}

func elementType(container core.BasicType) core.BasicType {
	if container == core.TypeString {
		return core.TypeString
	}
	return core.TypeUnknown
}

func externalPropertyType(name string) core.BasicType {
	switch name {
	case "argv":
		return core.TypeArray
	case "environ", "env":
		return core.TypeObject
	}
	return core.TypeUnknown
}

var builtinReturnTypes = map[string]core.BasicType{
	"len":         core.TypeNumber,
	"int":         core.TypeNumber,
	"float":       core.TypeNumber,
	"abs":         core.TypeNumber,
	"round":       core.TypeNumber,
	"min":         core.TypeNumber,
	"max":         core.TypeNumber,
	"sum":         core.TypeNumber,
	"count":       core.TypeNumber,
	"find":        core.TypeNumber,
	"indexOf":     core.TypeNumber,
	"str":         core.TypeString,
	"repr":        core.TypeString,
	"chr":         core.TypeString,
	"format":      core.TypeString,
	"upper":       core.TypeString,
	"lower":       core.TypeString,
	"strip":       core.TypeString,
	"trim":        core.TypeString,
	"replace":     core.TypeString,
	"join":        core.TypeString,
	"toUpperCase": core.TypeString,
	"toLowerCase": core.TypeString,
	"substring":   core.TypeString,
	"bool":        core.TypeBoolean,
	"isinstance":  core.TypeBoolean,
	"startswith":  core.TypeBoolean,
	"endswith":    core.TypeBoolean,
	"contains":    core.TypeBoolean,
	"includes":    core.TypeBoolean,
	"list":        core.TypeArray,
	"range":       core.TypeArray,
	"sorted":      core.TypeArray,
	"split":       core.TypeArray,
	"keys":        core.TypeArray,
	"values":      core.TypeArray,
	"dict":        core.TypeObject,
}

func builtinReturnType(name string) core.BasicType {
	if t, ok := builtinReturnTypes[name]; ok {
		return t
	}
	if t, ok := builtinReturnTypes[mlast.LastSegment(name)]; ok {
		return t
	}
	return core.TypeUnknown
}

func rootIdent(n *mlast.Node) *mlast.Node {
	for cur := n; cur != nil; cur = cur.Object {
		if cur.Kind == mlast.KindIdent {
			return cur
		}
		if cur.Kind != mlast.KindMember && cur.Kind != mlast.KindIndex {
			return nil
		}
	}
	return nil
}

func mergeSources(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := append([]string(nil), a...)
	for _, s := range b {
		dup := false
		for _, existing := range out {
			if existing == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}
