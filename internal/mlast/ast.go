// Filename: mlast/ast.go
// Package mlast defines the abstract syntax tree consumed by the security pipeline.
// The node set is a closed union discriminated by Kind; every consumer switches on it.
package mlast

import (
	"fmt"
	"strings"
)

// Kind discriminates the node union.
type Kind int

const (
	KindInvalid Kind = iota

	// Statements
	KindProgram
	KindBlock
	KindExprStmt
	KindAssign
	KindFunction
	KindReturn
	KindIf
	KindWhile
	KindFor
	KindImport
	KindBreak
	KindContinue

	// Expressions
	KindIdent
	KindNumber
	KindString
	KindBool
	KindNull
	KindArray
	KindObject
	KindProperty
	KindBinary
	KindUnary
	KindTernary
	KindCall
	KindMember
	KindIndex
	KindFuncLit

	// KindOther wraps grammar constructs the front-end has no dedicated kind for.
	// Its Elements hold whatever sub-expressions could be converted.
	KindOther
)

var kindNames = [...]string{
	KindInvalid:  "Invalid",
	KindProgram:  "Program",
	KindBlock:    "Block",
	KindExprStmt: "ExprStmt",
	KindAssign:   "Assign",
	KindFunction: "Function",
	KindReturn:   "Return",
	KindIf:       "If",
	KindWhile:    "While",
	KindFor:      "For",
	KindImport:   "Import",
	KindBreak:    "Break",
	KindContinue: "Continue",
	KindIdent:    "Ident",
	KindNumber:   "Number",
	KindString:   "String",
	KindBool:     "Bool",
	KindNull:     "Null",
	KindArray:    "Array",
	KindObject:   "Object",
	KindProperty: "Property",
	KindBinary:   "Binary",
	KindUnary:    "Unary",
	KindTernary:  "Ternary",
	KindCall:     "Call",
	KindMember:   "Member",
	KindIndex:    "Index",
	KindFuncLit:  "FuncLit",
	KindOther:    "Other",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsStatement reports whether nodes of this kind appear in statement position.
func (k Kind) IsStatement() bool {
	return k >= KindProgram && k <= KindContinue
}

// Pos is a 1-based source position. A zero Line means the position is unknown.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) IsValid() bool { return p.Line > 0 }

// Node is a single AST node. Which fields are populated depends on Kind:
//
//	Ident            Name
//	Number           Text (raw), Number
//	String           Text (decoded)
//	Bool             Bool
//	Array            Elements
//	Object           Elements (KindProperty)
//	Property         Name (key), Value
//	Binary           Op, Left, Right
//	Unary            Op, Left
//	Ternary          Cond, Left (then), Right (else)
//	Call             Callee, Args
//	Member           Object, Name (property)
//	Index            Object, Index
//	FuncLit          Params, Body
//	ExprStmt         Value
//	Assign           Op ("=", "+=", ...), Target, Value
//	Function         Name, Params, Body
//	Return           Value (may be nil)
//	If               Cond, Body, Else
//	While            Cond, Body
//	For              Name (loop variable), Value (iterable), Body
//	Import           Module, Alias
//	Block, Program   Body
//	Other            Elements
type Node struct {
	Kind Kind
	// ID is the preorder index assigned by NewProgram. IDs are unique within a program.
	ID    int
	Pos   Pos
	Start int
	End   int

	Name   string
	Text   string
	Number float64
	Bool   bool
	Op     string

	Cond   *Node
	Callee *Node
	Object *Node
	Index  *Node
	Target *Node
	Left   *Node
	Right  *Node
	Value  *Node

	Args     []*Node
	Elements []*Node
	Params   []string
	Body     []*Node
	Else     []*Node

	Module string
	Alias  string
}

// Covers reports whether the node's byte span contains [start, end).
func (n *Node) Covers(start, end int) bool {
	if n == nil || n.End <= n.Start {
		return false
	}
	return n.Start <= start && end <= n.End
}

// String renders a compact description used in log fields and test failures.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(n.Kind.String())
	switch n.Kind {
	case KindIdent, KindFunction, KindProperty, KindMember, KindFor:
		fmt.Fprintf(&b, "(%s)", n.Name)
	case KindString:
		fmt.Fprintf(&b, "(%q)", n.Text)
	case KindNumber:
		fmt.Fprintf(&b, "(%s)", n.Text)
	case KindBinary, KindUnary, KindAssign:
		fmt.Fprintf(&b, "(%s)", n.Op)
	case KindImport:
		fmt.Fprintf(&b, "(%s)", n.Module)
	}
	if n.Pos.IsValid() {
		fmt.Fprintf(&b, "@%d:%d", n.Pos.Line, n.Pos.Column)
	}
	return b.String()
}

// Program is a parsed ML compilation unit.
type Program struct {
	Root     *Node
	Source   string
	Filename string
	// HasErrors is set when the front-end recovered from syntax errors.
	// The tree still holds every construct that could be converted.
	HasErrors bool
	NodeCount int
}

// NewProgram wraps top-level statements into a program, assigns preorder IDs and
// fills in missing line numbers (a statement without a position gets its index + 1,
// children inherit the nearest positioned ancestor).
func NewProgram(filename, source string, body ...*Node) *Program {
	root := &Node{Kind: KindProgram, Body: body, End: len(source)}
	if len(source) > 0 {
		root.Pos = Pos{Line: 1, Column: 1}
	}
	for i, stmt := range body {
		if stmt != nil && !stmt.Pos.IsValid() {
			stmt.Pos = Pos{Line: i + 1, Column: 1}
		}
	}

	count := 0
	var number func(n *Node, inherited Pos)
	number = func(n *Node, inherited Pos) {
		n.ID = count
		count++
		if !n.Pos.IsValid() {
			n.Pos = inherited
		}
		for _, c := range Children(n) {
			number(c, n.Pos)
		}
	}
	number(root, root.Pos)

	return &Program{
		Root:      root,
		Source:    source,
		Filename:  filename,
		NodeCount: count,
	}
}

// QualifiedName flattens an identifier or a chain of member accesses
// (os.path.join, obj["name"]) into a dotted path. It returns false when the
// chain contains anything other than identifiers, members and literal indexes.
func QualifiedName(n *Node) (string, bool) {
	var parts []string
	for cur := n; cur != nil; {
		switch cur.Kind {
		case KindIdent:
			parts = append(parts, cur.Name)
			reverse(parts)
			return strings.Join(parts, "."), true
		case KindMember:
			parts = append(parts, cur.Name)
			cur = cur.Object
		case KindIndex:
			if cur.Index == nil || cur.Index.Kind != KindString {
				return "", false
			}
			parts = append(parts, cur.Index.Text)
			cur = cur.Object
		default:
			return "", false
		}
	}
	return "", false
}

// LastSegment returns the final component of a dotted name.
func LastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
