// core/core_test.go
package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
)

func TestTaintLevel_JoinIsMonotonic(t *testing.T) {
	levels := []TaintLevel{TaintClean, TaintComputed, TaintExternal, TaintUserInput}
	for _, a := range levels {
		for _, b := range levels {
			j := a.Join(b)
			assert.GreaterOrEqual(t, j, a)
			assert.GreaterOrEqual(t, j, b)
			assert.Equal(t, j, b.Join(a), "join must be commutative")
		}
	}
	assert.Equal(t, TaintUserInput, JoinAll(TaintClean, TaintUserInput, TaintComputed))
	assert.Equal(t, TaintClean, JoinAll())
}

func TestTaintLevel_Predicates(t *testing.T) {
	assert.False(t, TaintClean.IsTainted())
	assert.True(t, TaintComputed.IsTainted())
	assert.False(t, TaintComputed.IsUntrusted())
	assert.True(t, TaintExternal.IsUntrusted())
	assert.True(t, TaintUserInput.IsUntrusted())
	assert.Equal(t, "USER_INPUT", TaintUserInput.String())
}

func TestThreatLevel_OrderingAndNames(t *testing.T) {
	assert.Less(t, LevelInfo, LevelLow)
	assert.Less(t, LevelLow, LevelMedium)
	assert.Less(t, LevelMedium, LevelHigh)
	assert.Less(t, LevelHigh, LevelCritical)
	assert.True(t, LevelHigh.IsBlocking())
	assert.False(t, LevelMedium.IsBlocking())

	for _, lvl := range []ThreatLevel{LevelInfo, LevelLow, LevelMedium, LevelHigh, LevelCritical} {
		parsed, err := ParseThreatLevel(lvl.String())
		require.NoError(t, err)
		assert.Equal(t, lvl, parsed)
	}
	_, err := ParseThreatLevel("severe")
	assert.Error(t, err)

	var lvl ThreatLevel
	require.NoError(t, lvl.UnmarshalText([]byte("high")))
	assert.Equal(t, LevelHigh, lvl)
}

func TestSecurityThreat_LocationAndToMap(t *testing.T) {
	threat := SecurityThreat{
		Category:   CategoryCodeInjection,
		Level:      LevelCritical,
		Message:    "dynamic code evaluation",
		Confidence: 0.95,
		Rule:       "eval",
		Source:     SourcePattern,
		Filename:   "a.ml",
	}
	assert.Equal(t, UnknownLocation, threat.Location())

	node := mlast.Ident("eval")
	node.Pos = mlast.Pos{Line: 3, Column: 7}
	threat.AttachNode(node)
	assert.Equal(t, "a.ml:3:7", threat.Location())

	m := threat.ToMap()
	assert.Equal(t, "CODE_INJECTION", m["category"])
	assert.Equal(t, "CRITICAL", m["level"])
	assert.Equal(t, 0.95, m["confidence"])
	assert.Equal(t, 3, m["line"])
	assert.Equal(t, "Ident", m["node_kind"])
	for k, v := range m {
		switch v.(type) {
		case string, int, float64, bool:
		default:
			t.Errorf("key %s holds non-primitive %T", k, v)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.4, ClampConfidence(0.4))
}

func TestLookupDangerousCall(t *testing.T) {
	r, ok := LookupDangerousCall("eval")
	require.True(t, ok)
	assert.Equal(t, CategoryCodeInjection, r.Category)
	assert.True(t, r.IsSinkArg(0))
	assert.False(t, r.IsSinkArg(1))

	_, ok = LookupDangerousCall("obj.eval")
	assert.False(t, ok, "method-style matching is opt-in per rule")

	r, ok = LookupDangerousCall("lib.import_module")
	require.True(t, ok)
	assert.Equal(t, CategoryImportAbuse, r.Category)

	r, ok = LookupDangerousCall("os.system")
	require.True(t, ok)
	assert.Equal(t, LevelCritical, r.Level)
	assert.True(t, r.IsSinkArg(0))

	_, ok = LookupDangerousCall("print")
	assert.False(t, ok)
}

func TestTaintSourceLevel(t *testing.T) {
	lvl, ok := TaintSourceLevel("input")
	require.True(t, ok)
	assert.Equal(t, TaintUserInput, lvl)

	lvl, ok = TaintSourceLevel("conn.recv")
	require.True(t, ok)
	assert.Equal(t, TaintUserInput, lvl)

	lvl, ok = TaintSourceLevel("os.getenv")
	require.True(t, ok)
	assert.Equal(t, TaintExternal, lvl)

	_, ok = TaintSourceLevel("len")
	assert.False(t, ok)
}

func TestModulesAndNames(t *testing.T) {
	lvl, ok := DangerousModuleLevel("os.path")
	require.True(t, ok)
	assert.Equal(t, LevelCritical, lvl)

	lvl, ok = DangerousModuleLevel("socket")
	require.True(t, ok)
	assert.Equal(t, LevelHigh, lvl)

	_, ok = DangerousModuleLevel("math")
	assert.False(t, ok)

	assert.True(t, IsDunder("__class__"))
	assert.False(t, IsDunder("____"))
	assert.False(t, IsDunder("_private"))
	assert.True(t, IsReflectionAttribute("__subclasses__"))
	assert.True(t, IsPrivateName("_x"))
	assert.True(t, IsSQLSink("cursor.execute"))
	assert.True(t, IsExecutableName("/tmp/run.SH"))
	assert.False(t, IsExecutableName("/tmp/data.txt"))
}

func TestBaseAnalyzer(t *testing.T) {
	b := NewBaseAnalyzer("patterns", "desc", TypePattern, nil)
	assert.Equal(t, "patterns", b.Name())
	assert.Equal(t, "desc", b.Description())
	assert.Equal(t, TypePattern, b.Type())
	assert.NotNil(t, b.Logger)
}
