package mlast

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Parse(context.Background(), "test.ml", src)
	require.NoError(t, err)
	require.NotNil(t, prog)
	return prog
}

func TestParse_AssignmentsAndArithmetic(t *testing.T) {
	prog := mustParse(t, "x = 5; y = x + 3;")

	require.Len(t, prog.Root.Body, 2)
	first := prog.Root.Body[0]
	assert.Equal(t, KindAssign, first.Kind)
	assert.Equal(t, "x", first.Target.Name)
	assert.Equal(t, KindNumber, first.Value.Kind)
	assert.Equal(t, 5.0, first.Value.Number)

	second := prog.Root.Body[1]
	require.Equal(t, KindBinary, second.Value.Kind)
	assert.Equal(t, "+", second.Value.Op)
	assert.Equal(t, "x", second.Value.Left.Name)
	assert.False(t, prog.HasErrors)
}

func TestParse_ImportDirectives(t *testing.T) {
	src := "import os;\nimport os.path as p;\nx = 1;\n"
	prog := mustParse(t, src)

	require.Len(t, prog.Root.Body, 3)
	assert.Equal(t, KindImport, prog.Root.Body[0].Kind)
	assert.Equal(t, "os", prog.Root.Body[0].Module)
	assert.Equal(t, 1, prog.Root.Body[0].Pos.Line)

	assert.Equal(t, "os.path", prog.Root.Body[1].Module)
	assert.Equal(t, "p", prog.Root.Body[1].Alias)
	assert.Equal(t, 2, prog.Root.Body[1].Pos.Line)

	assert.Equal(t, KindAssign, prog.Root.Body[2].Kind)
	assert.Equal(t, 3, prog.Root.Body[2].Pos.Line)
	assert.False(t, prog.HasErrors, "lifted imports must not leave syntax errors behind")
}

func TestParse_ImportTextInsideLiteralsIsNotLifted(t *testing.T) {
	t.Run("template literal", func(t *testing.T) {
		prog := mustParse(t, "s = `\nimport os as o;\n`;\n")

		require.Len(t, prog.Root.Body, 1)
		stmt := prog.Root.Body[0]
		assert.Equal(t, KindAssign, stmt.Kind)
		require.NotNil(t, stmt.Value)
		assert.Equal(t, KindString, stmt.Value.Kind)
		assert.Equal(t, "\nimport os as o;\n", stmt.Value.Text)
		assert.Zero(t, countKind(prog.Root, KindImport))
	})

	t.Run("block comment", func(t *testing.T) {
		prog := mustParse(t, "/*\nimport os;\n*/\nx = 1;\n")

		assert.Zero(t, countKind(prog.Root, KindImport))
		require.Len(t, prog.Root.Body, 1)
		assert.Equal(t, KindAssign, prog.Root.Body[0].Kind)
	})

	t.Run("real directive after a literal", func(t *testing.T) {
		prog := mustParse(t, "s = `\nimport sys;\n`;\nimport os;\n")

		require.Equal(t, 1, countKind(prog.Root, KindImport))
		imp := prog.Root.Body[len(prog.Root.Body)-1]
		assert.Equal(t, KindImport, imp.Kind)
		assert.Equal(t, "os", imp.Module)
		assert.Equal(t, 4, imp.Pos.Line)
	})
}

func countKind(root *Node, kind Kind) int {
	n := 0
	Inspect(root, func(node *Node) bool {
		if node.Kind == kind {
			n++
		}
		return true
	})
	return n
}

func TestParse_StringEscapesAreDecoded(t *testing.T) {
	prog := mustParse(t, `a = "\x5f\x5fclass\x5f\x5f"; b = '__dict__';`)

	require.Len(t, prog.Root.Body, 2)
	assert.Equal(t, "__class__", prog.Root.Body[0].Value.Text)
	assert.Equal(t, "__dict__", prog.Root.Body[1].Value.Text)
}

func TestParse_TemplateStringBecomesConcatenation(t *testing.T) {
	prog := mustParse(t, "s = `a${x}b`;")

	val := prog.Root.Body[0].Value
	require.Equal(t, KindBinary, val.Kind)
	assert.Equal(t, "+", val.Op)

	var idents []string
	Inspect(val, func(n *Node) bool {
		if n.Kind == KindIdent {
			idents = append(idents, n.Name)
		}
		return true
	})
	assert.Equal(t, []string{"x"}, idents)
}

func TestParse_FunctionsAndControlFlow(t *testing.T) {
	src := `
function add(a, b) {
    if (a > b) {
        return a - b;
    } else {
        return a + b;
    }
}
while (i < 10) { i = i + 1; }
`
	prog := mustParse(t, src)
	require.Len(t, prog.Root.Body, 2)

	fn := prog.Root.Body[0]
	assert.Equal(t, KindFunction, fn.Kind)
	assert.Equal(t, "add", fn.Name)
	assert.Equal(t, []string{"a", "b"}, fn.Params)
	require.Len(t, fn.Body, 1)
	assert.Equal(t, KindIf, fn.Body[0].Kind)
	assert.Len(t, fn.Body[0].Else, 1)

	loop := prog.Root.Body[1]
	assert.Equal(t, KindWhile, loop.Kind)
	assert.Equal(t, "<", loop.Cond.Op)
}

func TestParse_CallsMembersAndIndexes(t *testing.T) {
	prog := mustParse(t, `r = os.path.join(a, "b"); v = obj["__class__"];`)

	call := prog.Root.Body[0].Value
	require.Equal(t, KindCall, call.Kind)
	name, ok := QualifiedName(call.Callee)
	require.True(t, ok)
	assert.Equal(t, "os.path.join", name)
	assert.Len(t, call.Args, 2)

	idx := prog.Root.Body[1].Value
	require.Equal(t, KindIndex, idx.Kind)
	assert.Equal(t, "__class__", idx.Index.Text)
	name, ok = QualifiedName(idx)
	require.True(t, ok)
	assert.Equal(t, "obj.__class__", name)
}

func TestParse_SyntaxErrorsAreRecovered(t *testing.T) {
	prog := mustParse(t, "x = (;\neval(y);")
	assert.True(t, prog.HasErrors)

	found := false
	Inspect(prog.Root, func(n *Node) bool {
		if n.Kind == KindIdent && n.Name == "eval" {
			found = true
		}
		return true
	})
	assert.True(t, found, "constructs after the error should still be converted")
}

func TestParse_EmptySource(t *testing.T) {
	prog := mustParse(t, "   \n")
	assert.Empty(t, prog.Root.Body)
	assert.Equal(t, 1, prog.NodeCount)
}

func TestParse_PositionsAndSpans(t *testing.T) {
	src := "x = 1;\n  eval(\"1+1\");"
	prog := mustParse(t, src)

	offset := strings.Index(src, "eval")
	inner := Innermost(prog.Root, offset, offset+len("eval"))
	require.NotNil(t, inner)
	assert.Equal(t, KindIdent, inner.Kind)
	assert.Equal(t, "eval", inner.Name)
	assert.Equal(t, Pos{Line: 2, Column: 3}, inner.Pos)

	chain := Covering(prog.Root, offset, offset+4)
	stmt := EnclosingStatement(chain)
	require.NotNil(t, stmt)
	assert.Equal(t, KindExprStmt, stmt.Kind)
}

func TestParse_CommentsSitOutsideStatements(t *testing.T) {
	src := "// eval(x) is never called\nx = 1;"
	prog := mustParse(t, src)

	offset := strings.Index(src, "eval")
	assert.Nil(t, EnclosingStatement(Covering(prog.Root, offset, offset+4)))
}
