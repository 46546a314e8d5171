// Filename: info/adapter.go
package info

import (
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

// Adapter answers the questions the security passes ask about a program's
// facts. Missing data always yields the UNKNOWN/CLEAN default.
type Adapter struct {
	result *InformationResult
}

// NewAdapter wraps a fact base. A nil result behaves as an empty one.
func NewAdapter(result *InformationResult) *Adapter {
	if result == nil {
		result = newInformationResult()
	}
	return &Adapter{result: result}
}

// Result exposes the underlying fact base.
func (a *Adapter) Result() *InformationResult {
	return a.result
}

// VariableInfo returns the record for name, which may be scope-qualified
// ("fn.var"). Unknown variables get a default record.
func (a *Adapter) VariableInfo(name string) VariableInfo {
	if v, ok := a.result.Variables[name]; ok {
		return *v
	}
	return VariableInfo{Name: name, Type: core.TypeUnknown, Taint: core.TaintClean}
}

// NodeInfo returns the facts for an expression node.
func (a *Adapter) NodeInfo(n *mlast.Node) ExpressionInfo {
	if n == nil {
		return unknownInfo
	}
	if e, ok := a.result.Expressions[n]; ok {
		return e
	}
	return unknownInfo
}

// Function returns the summary of a local function.
func (a *Adapter) Function(name string) (FunctionInfo, bool) {
	f, ok := a.result.Functions[name]
	if !ok {
		return FunctionInfo{}, false
	}
	return *f, true
}

// IsTainted reports whether the node carries any taint.
func (a *Adapter) IsTainted(n *mlast.Node) bool {
	return a.NodeInfo(n).Taint.IsTainted()
}

// IsUntrusted reports whether the node carries USER_INPUT or EXTERNAL taint.
func (a *Adapter) IsUntrusted(n *mlast.Node) bool {
	return a.NodeInfo(n).Taint.IsUntrusted()
}

// IsStringType reports whether the node was inferred to be a string.
func (a *Adapter) IsStringType(n *mlast.Node) bool {
	return a.NodeInfo(n).Type == core.TypeString
}

// TaintOf returns the node's taint level.
func (a *Adapter) TaintOf(n *mlast.Node) core.TaintLevel {
	return a.NodeInfo(n).Taint
}
