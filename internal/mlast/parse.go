// Filename: mlast/parse.go
// The ML front-end. ML shares its statement and expression syntax with JavaScript,
// so source text is parsed with the Tree-sitter JavaScript grammar and lowered into
// the closed mlast node union. ML import directives are not valid JavaScript; they
// are lifted out before parsing and re-inserted as KindImport statements.
package mlast

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

var importDirective = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)(?:[ \t]+as[ \t]+([A-Za-z_][A-Za-z0-9_]*))?[ \t]*;?`)

// Parse converts ML source into a Program. Syntax errors do not fail the parse:
// the program is flagged with HasErrors and holds every construct that could be
// recovered. An error is returned only when the parser itself cannot run.
func Parse(ctx context.Context, filename, source string) (*Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	if strings.TrimSpace(source) == "" {
		return NewProgram(filename, source), nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	masked, imports, err := liftImports(ctx, parser, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	src := []byte(masked)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	c := &converter{src: src}
	body := c.statements(root)
	body = mergeByOffset(body, imports)

	prog := NewProgram(filename, source, body...)
	prog.HasErrors = root.HasError() || c.sawError
	return prog, nil
}

// liftImports blanks out import directives (preserving byte offsets and newlines)
// and returns them as positioned Import nodes. Lines that only look like
// directives because they sit inside a string, template or comment are left alone.
func liftImports(ctx context.Context, parser *sitter.Parser, source string) (string, []*Node, error) {
	matches := importDirective.FindAllStringSubmatchIndex(source, -1)
	if len(matches) == 0 {
		return source, nil, nil
	}

	tree, err := parser.ParseCtx(ctx, nil, []byte(source))
	if err != nil {
		return "", nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	buf := []byte(source)
	lines := lineStarts(source)
	imports := make([]*Node, 0, len(matches))
	for _, m := range matches {
		start, end := m[0], m[1]
		// Skip leading indentation so the span starts at the keyword.
		for start < end && (buf[start] == ' ' || buf[start] == '\t') {
			start++
		}
		pos := offsetToPos(lines, start)
		if inLiteral(root, pos, len("import")) {
			continue
		}
		imp := &Node{
			Kind:   KindImport,
			Module: source[m[2]:m[3]],
			Start:  start,
			End:    end,
			Pos:    pos,
		}
		if m[4] >= 0 {
			imp.Alias = source[m[4]:m[5]]
		}
		imports = append(imports, imp)
		for i := m[0]; i < m[1]; i++ {
			if buf[i] != '\n' {
				buf[i] = ' '
			}
		}
	}
	return string(buf), imports, nil
}

// inLiteral reports whether the n bytes at pos lie inside a string, template
// literal, regex or comment.
func inLiteral(root *sitter.Node, pos Pos, n int) bool {
	from := sitter.Point{Row: uint32(pos.Line - 1), Column: uint32(pos.Column - 1)}
	to := sitter.Point{Row: from.Row, Column: from.Column + uint32(n)}
	for cur := root.NamedDescendantForPointRange(from, to); cur != nil; cur = cur.Parent() {
		switch cur.Type() {
		case "string", "template_string", "comment", "regex":
			return true
		}
	}
	return false
}

func lineStarts(source string) []int {
	starts := []int{0}
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func offsetToPos(starts []int, offset int) Pos {
	line := sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return Pos{Line: line + 1, Column: offset - starts[line] + 1}
}

func mergeByOffset(body, imports []*Node) []*Node {
	if len(imports) == 0 {
		return body
	}
	merged := append(append([]*Node{}, body...), imports...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

type converter struct {
	src      []byte
	sawError bool
}

func (c *converter) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(c.src)
}

func (c *converter) at(ts *sitter.Node, n *Node) *Node {
	n.Start = int(ts.StartByte())
	n.End = int(ts.EndByte())
	p := ts.StartPoint()
	n.Pos = Pos{Line: int(p.Row) + 1, Column: int(p.Column) + 1}
	return n
}

// namedChildren returns the named children of n, skipping comments.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child == nil || child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

func (c *converter) statements(n *sitter.Node) []*Node {
	var out []*Node
	for _, child := range namedChildren(n) {
		out = append(out, c.stmt(child)...)
	}
	return out
}

// block converts a statement body that may or may not be wrapped in braces.
func (c *converter) block(n *sitter.Node) []*Node {
	if n == nil {
		return nil
	}
	if n.Type() == "statement_block" {
		return c.statements(n)
	}
	return c.stmt(n)
}

func (c *converter) stmt(n *sitter.Node) []*Node {
	switch n.Type() {
	case "empty_statement", "debugger_statement", "hash_bang_line":
		return nil

	case "expression_statement":
		kids := namedChildren(n)
		if len(kids) == 0 {
			return nil
		}
		e := c.expr(kids[0])
		if e.Kind == KindAssign {
			return []*Node{e}
		}
		return []*Node{c.at(n, &Node{Kind: KindExprStmt, Value: e})}

	case "lexical_declaration", "variable_declaration":
		var out []*Node
		for _, decl := range namedChildren(n) {
			if decl.Type() != "variable_declarator" {
				continue
			}
			var value *Node
			if v := decl.ChildByFieldName("value"); v != nil {
				value = c.expr(v)
			} else {
				value = c.at(decl, &Node{Kind: KindNull})
			}
			out = append(out, c.at(decl, &Node{
				Kind:   KindAssign,
				Op:     "=",
				Target: c.expr(decl.ChildByFieldName("name")),
				Value:  value,
			}))
		}
		return out

	case "function_declaration", "generator_function_declaration":
		return []*Node{c.at(n, &Node{
			Kind:   KindFunction,
			Name:   c.text(n.ChildByFieldName("name")),
			Params: c.params(n.ChildByFieldName("parameters")),
			Body:   c.block(n.ChildByFieldName("body")),
		})}

	case "class_declaration":
		blk := c.at(n, &Node{Kind: KindBlock})
		for _, member := range namedChildren(n.ChildByFieldName("body")) {
			if member.Type() == "method_definition" {
				blk.Body = append(blk.Body, c.at(member, &Node{
					Kind:   KindFunction,
					Name:   c.text(member.ChildByFieldName("name")),
					Params: c.params(member.ChildByFieldName("parameters")),
					Body:   c.block(member.ChildByFieldName("body")),
				}))
			}
		}
		return []*Node{blk}

	case "return_statement":
		ret := c.at(n, &Node{Kind: KindReturn})
		if kids := namedChildren(n); len(kids) > 0 {
			ret.Value = c.expr(kids[0])
		}
		return []*Node{ret}

	case "throw_statement":
		thr := c.at(n, &Node{Kind: KindExprStmt})
		if kids := namedChildren(n); len(kids) > 0 {
			thr.Value = c.expr(kids[0])
		}
		return []*Node{thr}

	case "if_statement":
		ifn := c.at(n, &Node{
			Kind: KindIf,
			Cond: c.expr(n.ChildByFieldName("condition")),
			Body: c.block(n.ChildByFieldName("consequence")),
		})
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			if alt.Type() == "else_clause" {
				for _, s := range namedChildren(alt) {
					ifn.Else = append(ifn.Else, c.block(s)...)
				}
			} else {
				ifn.Else = c.block(alt)
			}
		}
		return []*Node{ifn}

	case "while_statement", "do_statement":
		return []*Node{c.at(n, &Node{
			Kind: KindWhile,
			Cond: c.expr(n.ChildByFieldName("condition")),
			Body: c.block(n.ChildByFieldName("body")),
		})}

	case "for_in_statement":
		loop := c.at(n, &Node{
			Kind:  KindFor,
			Value: c.expr(n.ChildByFieldName("right")),
			Body:  c.block(n.ChildByFieldName("body")),
		})
		if left := n.ChildByFieldName("left"); left != nil {
			loop.Name = c.text(left)
		}
		return []*Node{loop}

	case "for_statement":
		var out []*Node
		if init := n.ChildByFieldName("initializer"); init != nil {
			out = append(out, c.stmt(init)...)
		}
		loop := c.at(n, &Node{Kind: KindWhile, Body: c.block(n.ChildByFieldName("body"))})
		if cond := n.ChildByFieldName("condition"); cond != nil {
			if kids := namedChildren(cond); cond.Type() == "expression_statement" && len(kids) > 0 {
				loop.Cond = c.expr(kids[0])
			} else if cond.Type() != "empty_statement" && cond.Type() != ";" {
				loop.Cond = c.expr(cond)
			}
		}
		if inc := n.ChildByFieldName("increment"); inc != nil {
			loop.Body = append(loop.Body, c.at(inc, &Node{Kind: KindExprStmt, Value: c.expr(inc)}))
		}
		return append(out, loop)

	case "statement_block":
		return []*Node{c.at(n, &Node{Kind: KindBlock, Body: c.statements(n)})}

	case "try_statement":
		blk := c.at(n, &Node{Kind: KindBlock, Body: c.block(n.ChildByFieldName("body"))})
		if h := n.ChildByFieldName("handler"); h != nil {
			blk.Body = append(blk.Body, c.block(h.ChildByFieldName("body"))...)
		}
		if f := n.ChildByFieldName("finalizer"); f != nil {
			blk.Body = append(blk.Body, c.block(f.ChildByFieldName("body"))...)
		}
		return []*Node{blk}

	case "break_statement":
		return []*Node{c.at(n, &Node{Kind: KindBreak})}

	case "continue_statement":
		return []*Node{c.at(n, &Node{Kind: KindContinue})}

	case "import_statement":
		imp := c.at(n, &Node{Kind: KindImport})
		if src := n.ChildByFieldName("source"); src != nil {
			imp.Module = unquote(c.text(src))
		}
		return []*Node{imp}

	case "ERROR":
		c.sawError = true
		blk := c.at(n, &Node{Kind: KindBlock})
		for _, child := range namedChildren(n) {
			blk.Body = append(blk.Body, c.stmt(child)...)
		}
		return []*Node{blk}
	}

	return []*Node{c.at(n, &Node{Kind: KindExprStmt, Value: c.expr(n)})}
}

func (c *converter) params(n *sitter.Node) []string {
	var out []string
	for _, p := range namedChildren(n) {
		switch p.Type() {
		case "identifier":
			out = append(out, c.text(p))
		case "assignment_pattern":
			out = append(out, c.text(p.ChildByFieldName("left")))
		case "rest_pattern":
			if kids := namedChildren(p); len(kids) > 0 {
				out = append(out, c.text(kids[0]))
			}
		default:
			out = append(out, c.text(p))
		}
	}
	return out
}

func (c *converter) args(n *sitter.Node) []*Node {
	var out []*Node
	for _, a := range namedChildren(n) {
		out = append(out, c.expr(a))
	}
	return out
}

func (c *converter) expr(n *sitter.Node) *Node {
	if n == nil {
		return &Node{Kind: KindNull}
	}

	switch n.Type() {
	case "identifier", "property_identifier", "shorthand_property_identifier",
		"private_property_identifier", "this", "super", "import":
		return c.at(n, &Node{Kind: KindIdent, Name: c.text(n)})

	case "number":
		raw := c.text(n)
		return c.at(n, &Node{Kind: KindNumber, Text: raw, Number: parseNumber(raw)})

	case "string":
		return c.at(n, &Node{Kind: KindString, Text: unquote(c.text(n))})

	case "template_string":
		return c.template(n)

	case "true", "false":
		return c.at(n, &Node{Kind: KindBool, Bool: n.Type() == "true"})

	case "null", "undefined":
		return c.at(n, &Node{Kind: KindNull})

	case "array":
		return c.at(n, &Node{Kind: KindArray, Elements: c.args(n)})

	case "object":
		obj := c.at(n, &Node{Kind: KindObject})
		for _, member := range namedChildren(n) {
			obj.Elements = append(obj.Elements, c.property(member))
		}
		return obj

	case "binary_expression":
		return c.at(n, &Node{
			Kind:  KindBinary,
			Op:    normalizeOp(c.operator(n)),
			Left:  c.expr(n.ChildByFieldName("left")),
			Right: c.expr(n.ChildByFieldName("right")),
		})

	case "unary_expression":
		return c.at(n, &Node{
			Kind: KindUnary,
			Op:   c.operator(n),
			Left: c.expr(n.ChildByFieldName("argument")),
		})

	case "update_expression":
		op := "+="
		if strings.Contains(c.text(n), "--") {
			op = "-="
		}
		return c.at(n, &Node{
			Kind:   KindAssign,
			Op:     op,
			Target: c.expr(n.ChildByFieldName("argument")),
			Value:  c.at(n, &Node{Kind: KindNumber, Text: "1", Number: 1}),
		})

	case "parenthesized_expression", "await_expression", "spread_element", "yield_expression":
		kids := namedChildren(n)
		if len(kids) == 0 {
			return c.at(n, &Node{Kind: KindNull})
		}
		return c.expr(kids[0])

	case "call_expression":
		return c.at(n, &Node{
			Kind:   KindCall,
			Callee: c.expr(n.ChildByFieldName("function")),
			Args:   c.args(n.ChildByFieldName("arguments")),
		})

	case "new_expression":
		return c.at(n, &Node{
			Kind:   KindCall,
			Callee: c.expr(n.ChildByFieldName("constructor")),
			Args:   c.args(n.ChildByFieldName("arguments")),
		})

	case "member_expression":
		return c.at(n, &Node{
			Kind:   KindMember,
			Object: c.expr(n.ChildByFieldName("object")),
			Name:   c.text(n.ChildByFieldName("property")),
		})

	case "subscript_expression":
		return c.at(n, &Node{
			Kind:   KindIndex,
			Object: c.expr(n.ChildByFieldName("object")),
			Index:  c.expr(n.ChildByFieldName("index")),
		})

	case "assignment_expression":
		return c.at(n, &Node{
			Kind:   KindAssign,
			Op:     "=",
			Target: c.expr(n.ChildByFieldName("left")),
			Value:  c.expr(n.ChildByFieldName("right")),
		})

	case "augmented_assignment_expression":
		return c.at(n, &Node{
			Kind:   KindAssign,
			Op:     c.operator(n),
			Target: c.expr(n.ChildByFieldName("left")),
			Value:  c.expr(n.ChildByFieldName("right")),
		})

	case "arrow_function":
		fn := c.at(n, &Node{Kind: KindFuncLit})
		if p := n.ChildByFieldName("parameters"); p != nil {
			fn.Params = c.params(p)
		} else if p := n.ChildByFieldName("parameter"); p != nil {
			fn.Params = []string{c.text(p)}
		}
		body := n.ChildByFieldName("body")
		if body != nil && body.Type() != "statement_block" {
			fn.Body = []*Node{c.at(body, &Node{Kind: KindReturn, Value: c.expr(body)})}
		} else {
			fn.Body = c.block(body)
		}
		return fn

	case "function", "function_expression", "generator_function":
		return c.at(n, &Node{
			Kind:   KindFuncLit,
			Name:   c.text(n.ChildByFieldName("name")),
			Params: c.params(n.ChildByFieldName("parameters")),
			Body:   c.block(n.ChildByFieldName("body")),
		})

	case "ternary_expression":
		return c.at(n, &Node{
			Kind:  KindTernary,
			Cond:  c.expr(n.ChildByFieldName("condition")),
			Left:  c.expr(n.ChildByFieldName("consequence")),
			Right: c.expr(n.ChildByFieldName("alternative")),
		})

	case "ERROR":
		c.sawError = true
	}

	other := c.at(n, &Node{Kind: KindOther, Text: n.Type()})
	for _, child := range namedChildren(n) {
		other.Elements = append(other.Elements, c.expr(child))
	}
	return other
}

func (c *converter) property(n *sitter.Node) *Node {
	switch n.Type() {
	case "pair":
		key := n.ChildByFieldName("key")
		name := c.text(key)
		if key != nil && key.Type() == "string" {
			name = unquote(name)
		}
		return c.at(n, &Node{Kind: KindProperty, Name: name, Value: c.expr(n.ChildByFieldName("value"))})
	case "shorthand_property_identifier":
		return c.at(n, &Node{Kind: KindProperty, Name: c.text(n), Value: c.expr(n)})
	case "method_definition":
		return c.at(n, &Node{
			Kind: KindProperty,
			Name: c.text(n.ChildByFieldName("name")),
			Value: c.at(n, &Node{
				Kind:   KindFuncLit,
				Params: c.params(n.ChildByFieldName("parameters")),
				Body:   c.block(n.ChildByFieldName("body")),
			}),
		})
	}
	return c.at(n, &Node{Kind: KindProperty, Name: "...", Value: c.expr(n)})
}

// template lowers `a${x}b` into a left-associated chain of string concatenations.
func (c *converter) template(n *sitter.Node) *Node {
	start, end := int(n.StartByte())+1, int(n.EndByte())-1
	var parts []*Node
	cursor := start
	for i := 0; i < int(n.NamedChildCount()); i++ {
		sub := n.NamedChild(i)
		if sub == nil || sub.Type() != "template_substitution" {
			continue
		}
		if lit := int(sub.StartByte()); lit > cursor {
			parts = append(parts, &Node{Kind: KindString, Text: string(c.src[cursor:lit]), Start: cursor, End: lit})
		}
		if kids := namedChildren(sub); len(kids) > 0 {
			parts = append(parts, c.expr(kids[0]))
		}
		cursor = int(sub.EndByte())
	}
	if end > cursor {
		parts = append(parts, &Node{Kind: KindString, Text: string(c.src[cursor:end]), Start: cursor, End: end})
	}

	if len(parts) == 0 {
		return c.at(n, &Node{Kind: KindString})
	}
	if len(parts) == 1 && parts[0].Kind == KindString {
		return c.at(n, &Node{Kind: KindString, Text: parts[0].Text})
	}
	acc := parts[0]
	for _, p := range parts[1:] {
		acc = &Node{Kind: KindBinary, Op: "+", Left: acc, Right: p, Start: acc.Start, End: p.End, Pos: acc.Pos}
	}
	return c.at(n, acc)
}

func (c *converter) operator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	// Fall back to the first anonymous child.
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child != nil && !child.IsNamed() {
			return child.Type()
		}
	}
	return ""
}

func normalizeOp(op string) string {
	switch op {
	case "===":
		return "=="
	case "!==":
		return "!="
	}
	return op
}

func parseNumber(raw string) float64 {
	clean := strings.ReplaceAll(raw, "_", "")
	if i, err := strconv.ParseInt(clean, 0, 64); err == nil {
		return float64(i)
	}
	if f, err := strconv.ParseFloat(clean, 64); err == nil {
		return f
	}
	return 0
}

// unquote strips the surrounding quotes of a string literal and decodes escapes,
// including \xHH and \uHHHH forms that are commonly used to hide identifiers.
func unquote(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	q := raw[0]
	if (q != '"' && q != '\'' && q != '`') || raw[len(raw)-1] != q {
		return raw
	}
	body := raw[1 : len(raw)-1]
	if !strings.ContainsRune(body, '\\') {
		return body
	}

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch != '\\' || i+1 == len(body) {
			b.WriteByte(ch)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case 'x':
			if i+2 < len(body) {
				if v, err := strconv.ParseUint(body[i+1:i+3], 16, 8); err == nil {
					b.WriteByte(byte(v))
					i += 2
					continue
				}
			}
			b.WriteByte('x')
		case 'u':
			if i+4 < len(body) {
				if v, err := strconv.ParseUint(body[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteByte('u')
		case '\n':
			// line continuation
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}
