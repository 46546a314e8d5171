package info

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

func collect(t *testing.T, src string, opts ...Option) (*InformationResult, *mlast.Program) {
	t.Helper()
	prog, err := mlast.Parse(context.Background(), "test.ml", src)
	require.NoError(t, err)
	res := NewCollector(zaptest.NewLogger(t), opts...).Collect(prog)
	require.NotNil(t, res)
	require.True(t, res.IsValid)
	return res, prog
}

func findNode(root *mlast.Node, pred func(*mlast.Node) bool) *mlast.Node {
	var found *mlast.Node
	mlast.Inspect(root, func(n *mlast.Node) bool {
		if found == nil && pred(n) {
			found = n
		}
		return found == nil
	})
	return found
}

func TestCollect_ArithmeticIsCleanNumber(t *testing.T) {
	res, prog := collect(t, "x = 5; y = x + 3;")

	y := res.Variables["y"]
	require.NotNil(t, y)
	assert.Equal(t, core.TypeNumber, y.Type)
	assert.Equal(t, core.TaintClean, y.Taint)

	sum := findNode(prog.Root, func(n *mlast.Node) bool { return n.Kind == mlast.KindBinary })
	require.NotNil(t, sum)
	info := NewAdapter(res).NodeInfo(sum)
	assert.Equal(t, core.TypeNumber, info.Type)
	assert.Equal(t, 1.0, info.Confidence)
	assert.Empty(t, res.TaintSources)
}

func TestCollect_TaintPropagatesThroughConcatenation(t *testing.T) {
	res, prog := collect(t, `a = input(); b = a + "suffix";`)

	b := res.Variables["b"]
	require.NotNil(t, b)
	assert.Equal(t, core.TypeString, b.Type)
	assert.Equal(t, core.TaintUserInput, b.Taint)
	assert.Equal(t, []string{"input"}, b.Sources)

	require.Len(t, res.TaintSources, 1)
	assert.Equal(t, "input", res.TaintSources[0].Function)
	assert.Equal(t, core.TaintUserInput, res.TaintSources[0].Level)

	concat := findNode(prog.Root, func(n *mlast.Node) bool { return n.Kind == mlast.KindBinary && n.Op == "+" })
	adapter := NewAdapter(res)
	assert.True(t, adapter.IsTainted(concat))
	assert.True(t, adapter.IsUntrusted(concat))
	assert.True(t, adapter.IsStringType(concat))
}

func TestCollect_UnresolvedIdentifier(t *testing.T) {
	res, prog := collect(t, "y = z;")

	z := findNode(prog.Root, func(n *mlast.Node) bool { return n.Kind == mlast.KindIdent && n.Name == "z" })
	info := NewAdapter(res).NodeInfo(z)
	assert.Equal(t, core.TypeUnknown, info.Type)
	assert.Equal(t, core.TaintClean, info.Taint)
	assert.Equal(t, 0.2, info.Confidence)
}

func TestCollect_FunctionParametersAreUserInput(t *testing.T) {
	res, _ := collect(t, "function f(p) { q = p; return q; }")

	p := res.Variables["f.p"]
	require.NotNil(t, p)
	assert.True(t, p.IsFunctionParam)
	assert.Equal(t, core.TaintUserInput, p.Taint)
	assert.Nil(t, p.LastAssignment())

	q := res.Variables["f.q"]
	require.NotNil(t, q)
	assert.Equal(t, core.TaintUserInput, q.Taint)
	assert.Nil(t, res.Variables["q"], "locals stay in their function scope")
}

func TestCollect_FunctionSummaries(t *testing.T) {
	src := `
function src() { return input(); }
function ident(v) { return v; }
function konst() { return 1; }
a = src();
b = ident(1);
c = konst();
d = ident(input());
`
	res, _ := collect(t, src)

	require.Contains(t, res.Functions, "src")
	assert.True(t, res.Functions["src"].ReturnsSourceTaint)
	assert.True(t, res.Functions["ident"].ReturnsTainted)
	assert.False(t, res.Functions["konst"].ReturnsTainted)
	assert.Equal(t, core.TypeNumber, res.Functions["konst"].ReturnType)

	assert.Equal(t, core.TaintUserInput, res.Variables["a"].Taint)
	assert.Equal(t, core.TaintComputed, res.Variables["b"].Taint)
	assert.Equal(t, core.TaintClean, res.Variables["c"].Taint)
	assert.Equal(t, core.TypeNumber, res.Variables["c"].Type)
	assert.Equal(t, core.TaintUserInput, res.Variables["d"].Taint)

	for _, call := range res.ExternalCalls {
		assert.NotEqual(t, "ident", call.Function, "local calls are not external")
	}
}

func TestCollect_ExternalCallsRecordTaintedArguments(t *testing.T) {
	res, _ := collect(t, "n = len(input()); m = len(\"abc\");")

	require.Len(t, res.ExternalCalls, 2)
	assert.Equal(t, "len", res.ExternalCalls[0].Function)
	assert.True(t, res.ExternalCalls[0].TaintedArgument)
	assert.Equal(t, core.TaintUserInput, res.ExternalCalls[0].ArgTaint)
	assert.False(t, res.ExternalCalls[1].TaintedArgument)

	assert.Equal(t, core.TypeNumber, res.Variables["m"].Type)
	assert.Equal(t, core.TaintUserInput, res.Variables["n"].Taint, "external calls pass argument taint through")
}

func TestCollect_ExternalPropertiesAndMemberWrites(t *testing.T) {
	res, _ := collect(t, "e = os.environ; o = {}; o.k = input();")

	assert.Equal(t, core.TaintExternal, res.Variables["e"].Taint)
	assert.Equal(t, core.TypeObject, res.Variables["e"].Type)
	assert.Equal(t, core.TaintUserInput, res.Variables["o"].Taint)
}

func TestCollect_LastAssignmentWins(t *testing.T) {
	res, _ := collect(t, "x = input();\nx = 5;")

	x := res.Variables["x"]
	require.Len(t, x.Assignments, 2)
	assert.Equal(t, core.TaintClean, x.Taint)
	last := x.LastAssignment()
	require.NotNil(t, last)
	assert.Equal(t, core.TypeNumber, last.Type)
	assert.Equal(t, 2, last.Line)
}

func TestCollect_ImportsBindModules(t *testing.T) {
	res, _ := collect(t, "import math;\nimport os.path as p;")

	assert.Equal(t, core.TypeObject, res.Variables["math"].Type)
	assert.Equal(t, core.TypeObject, res.Variables["p"].Type)
}

func TestCollect_NodeBudgetTruncates(t *testing.T) {
	res, _ := collect(t, "a = 1; b = 2; c = 3; d = 4; e = 5;", WithNodeBudget(3))

	assert.True(t, res.Truncated)
	assert.True(t, res.IsValid)
	assert.Equal(t, 3, res.NodesAnalyzed)
}

func TestCollect_NilProgram(t *testing.T) {
	res := NewCollector(zaptest.NewLogger(t)).Collect(nil)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Variables)
}

func TestCollect_ConfidenceBounds(t *testing.T) {
	src := `
function g(a, b) { return a * b + len(a); }
s = "x" + input() + g(1, 2);
t = s ? 1 : "two";
u = [1, s, {k: s}];
`
	res, _ := collect(t, src)
	require.NotEmpty(t, res.Expressions)
	for n, e := range res.Expressions {
		assert.GreaterOrEqual(t, e.Confidence, 0.0, n.String())
		assert.LessOrEqual(t, e.Confidence, 1.0, n.String())
	}
}

func TestCollect_HandBuiltProgram(t *testing.T) {
	prog := mlast.NewProgram("built.ml", "",
		mlast.Assign("cmd", mlast.CallPath("read_input")),
		mlast.ExprStmt(mlast.CallPath("os.system", mlast.Ident("cmd"))),
	)
	res := NewCollector(zaptest.NewLogger(t)).Collect(prog)

	system := prog.Root.Body[1].Value
	assert.True(t, NewAdapter(res).IsUntrusted(system.Args[0]))
	require.NotEmpty(t, res.ExternalCalls)
	assert.Equal(t, "os.system", res.ExternalCalls[0].Function)
	assert.Equal(t, 2, res.ExternalCalls[0].Line)
}

func TestAdapter_Defaults(t *testing.T) {
	a := NewAdapter(nil)

	v := a.VariableInfo("missing")
	assert.Equal(t, core.TypeUnknown, v.Type)
	assert.Equal(t, core.TaintClean, v.Taint)

	n := a.NodeInfo(mlast.Ident("x"))
	assert.Equal(t, core.TypeUnknown, n.Type)
	assert.False(t, a.IsTainted(nil))

	_, ok := a.Function("f")
	assert.False(t, ok)
}

func TestInformationResult_ToMapIsPlainData(t *testing.T) {
	res, _ := collect(t, "function f(a) { return a; }\nx = f(input());\nimport os;")

	m := res.ToMap()
	assert.Equal(t, true, m["is_valid"])
	assertPlain(t, m)

	vars := m["variables"].(map[string]any)
	x := vars["x"].(map[string]any)
	assert.Equal(t, "USER_INPUT", x["taint"])
}

// assertPlain fails on any value that is not a string, number, bool, nil,
// []any or map[string]any.
func assertPlain(t *testing.T, v any) {
	t.Helper()
	switch val := v.(type) {
	case nil, string, bool, int, float64:
	case []any:
		for _, e := range val {
			assertPlain(t, e)
		}
	case map[string]any:
		for _, e := range val {
			assertPlain(t, e)
		}
	default:
		t.Errorf("non-plain value of type %T", v)
	}
}
