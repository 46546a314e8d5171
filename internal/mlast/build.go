// Filename: mlast/build.go
package mlast

import (
	"strconv"
	"strings"
)

// Constructors for building trees without source text. Positions are filled in
// by NewProgram.

func Ident(name string) *Node { return &Node{Kind: KindIdent, Name: name} }

func Str(s string) *Node { return &Node{Kind: KindString, Text: s} }

func Num(v float64) *Node {
	return &Node{Kind: KindNumber, Number: v, Text: strconv.FormatFloat(v, 'g', -1, 64)}
}

func Bool(v bool) *Node { return &Node{Kind: KindBool, Bool: v} }

func Null() *Node { return &Node{Kind: KindNull} }

func Array(elems ...*Node) *Node { return &Node{Kind: KindArray, Elements: elems} }

// Path builds an identifier or member chain from a dotted name ("os.path.join").
func Path(dotted string) *Node {
	parts := strings.Split(dotted, ".")
	n := Ident(parts[0])
	for _, p := range parts[1:] {
		n = Member(n, p)
	}
	return n
}

func Member(obj *Node, name string) *Node {
	return &Node{Kind: KindMember, Object: obj, Name: name}
}

func IndexOf(obj, idx *Node) *Node {
	return &Node{Kind: KindIndex, Object: obj, Index: idx}
}

func Call(callee *Node, args ...*Node) *Node {
	return &Node{Kind: KindCall, Callee: callee, Args: args}
}

// CallPath is shorthand for Call(Path(dotted), args...).
func CallPath(dotted string, args ...*Node) *Node {
	return Call(Path(dotted), args...)
}

func Binary(op string, left, right *Node) *Node {
	return &Node{Kind: KindBinary, Op: op, Left: left, Right: right}
}

func Unary(op string, operand *Node) *Node {
	return &Node{Kind: KindUnary, Op: op, Left: operand}
}

func Assign(name string, value *Node) *Node {
	return AssignTo(Ident(name), value)
}

func AssignTo(target, value *Node) *Node {
	return &Node{Kind: KindAssign, Op: "=", Target: target, Value: value}
}

func ExprStmt(expr *Node) *Node { return &Node{Kind: KindExprStmt, Value: expr} }

func Return(value *Node) *Node { return &Node{Kind: KindReturn, Value: value} }

func Func(name string, params []string, body ...*Node) *Node {
	return &Node{Kind: KindFunction, Name: name, Params: params, Body: body}
}

func If(cond *Node, body []*Node, els []*Node) *Node {
	return &Node{Kind: KindIf, Cond: cond, Body: body, Else: els}
}

func While(cond *Node, body ...*Node) *Node {
	return &Node{Kind: KindWhile, Cond: cond, Body: body}
}

func Import(module, alias string) *Node {
	return &Node{Kind: KindImport, Module: module, Alias: alias}
}
