// Filename: mlast/walk.go
package mlast

// Children returns the direct children of n in source order.
func Children(n *Node) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	add := func(c *Node) {
		if c != nil {
			out = append(out, c)
		}
	}

	add(n.Cond)
	add(n.Callee)
	add(n.Object)
	add(n.Index)
	add(n.Target)
	add(n.Left)
	add(n.Right)
	add(n.Value)
	for _, c := range n.Args {
		add(c)
	}
	for _, c := range n.Elements {
		add(c)
	}
	for _, c := range n.Body {
		add(c)
	}
	for _, c := range n.Else {
		add(c)
	}
	return out
}

// Inspect traverses the tree rooted at n in preorder. If fn returns false the
// children of that node are skipped.
func Inspect(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Inspect(c, fn)
	}
}

// Covering returns the chain of nodes whose span contains [start, end), from the
// outermost to the innermost. Nodes without a span (hand-built trees) never match.
func Covering(root *Node, start, end int) []*Node {
	var chain []*Node
	cur := root
	for cur != nil && cur.Covers(start, end) {
		chain = append(chain, cur)
		var next *Node
		for _, c := range Children(cur) {
			if c.Covers(start, end) {
				next = c
				break
			}
		}
		cur = next
	}
	return chain
}

// Innermost returns the deepest node covering [start, end), or nil.
func Innermost(root *Node, start, end int) *Node {
	chain := Covering(root, start, end)
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}

// EnclosingStatement returns the innermost statement (excluding the program
// itself) in a covering chain, or nil when the range sits outside every statement,
// e.g. inside a comment between statements.
func EnclosingStatement(chain []*Node) *Node {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Kind.IsStatement() && chain[i].Kind != KindProgram {
			return chain[i]
		}
	}
	return nil
}

// Parents builds a child-to-parent index for the tree rooted at root.
func Parents(root *Node) map[*Node]*Node {
	parents := make(map[*Node]*Node)
	Inspect(root, func(n *Node) bool {
		for _, c := range Children(n) {
			parents[c] = n
		}
		return true
	})
	return parents
}
