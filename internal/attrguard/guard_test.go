package attrguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type account struct {
	UserName string
	Balance  float64
	Tags     []string
	secret   string
}

func (a account) DisplayName() string { return strings.ToUpper(a.UserName) }

func (a *account) Deposit(n float64) { a.Balance += n }

func TestGetAttr_RuntimeBuiltDunderReturnsDefault(t *testing.T) {
	g := New(zaptest.NewLogger(t))
	obj := map[string]any{"__class__": "leaked", "name": "ok"}

	name := "__" + "class__"
	assert.Equal(t, "safe", g.GetAttr(obj, name, "safe"))
	assert.Equal(t, "ok", g.GetAttr(obj, "name", "safe"))
}

func TestGuard_UnderscoreNamesAreNeverVisible(t *testing.T) {
	g := New(zaptest.NewLogger(t))
	names := []string{"_", "_x", "__x", "___x", "__class__", "__dict__", "_secret", "__init__", ""}

	m := map[string]any{}
	for _, n := range names {
		m[n] = "present"
	}
	acct := &account{UserName: "ada", secret: "s"}
	targets := []any{m, acct, *acct, "text", []any{1, 2}}

	for _, obj := range targets {
		for _, n := range names {
			assert.Equal(t, "default", g.GetAttr(obj, n, "default"), "get %q on %T", n, obj)
			assert.False(t, g.HasAttr(obj, n), "has %q on %T", n, obj)
			err := g.SetAttr(obj, n, "overwritten")
			assert.ErrorIs(t, err, ErrBlockedAttribute, "set %q on %T", n, obj)
		}
	}
	for _, n := range names {
		assert.Equal(t, "present", m[n], "map entry %q must be untouched", n)
	}
	assert.Equal(t, "s", acct.secret)
}

func TestIsBlockedName(t *testing.T) {
	assert.True(t, IsBlockedName("_private"))
	assert.True(t, IsBlockedName(""))
	assert.False(t, IsBlockedName("public_name"))
	assert.False(t, IsBlockedName("name_"))
}

func TestGetAttr_StringMethods(t *testing.T) {
	g := New(zaptest.NewLogger(t))
	s := "  Hello, Wörld  "

	length := g.GetAttr(s, "length", nil).(func() int)
	assert.Equal(t, 16, length())

	upper := g.GetAttr("abc", "upper", nil).(func() string)
	assert.Equal(t, "ABC", upper())

	strip := g.GetAttr(s, "strip", nil).(func() string)
	assert.Equal(t, "Hello, Wörld", strip())

	split := g.GetAttr("a,b,c", "split", nil).(func(string) []string)
	assert.Equal(t, []string{"a", "b", "c"}, split(","))
	fields := g.GetAttr("a  b", "split", nil).(func(string) []string)
	assert.Equal(t, []string{"a", "b"}, fields(""))

	find := g.GetAttr("héllo", "find", nil).(func(string) int)
	assert.Equal(t, 2, find("l"))
	assert.Equal(t, -1, find("z"))

	assert.True(t, g.HasAttr("x", "startswith"))
	assert.False(t, g.HasAttr("x", "format"))
	assert.Nil(t, g.GetAttr("x", "format", nil))
}

func TestGetAttr_SequenceMethods(t *testing.T) {
	g := New(zaptest.NewLogger(t))
	seq := []any{1, "two", 3.0}

	contains := g.GetAttr(seq, "contains", nil).(func(any) bool)
	assert.True(t, contains("two"))
	assert.True(t, contains(3), "numbers compare by value")
	assert.False(t, contains("four"))

	indexOf := g.GetAttr(seq, "index_of", nil).(func(any) int)
	assert.Equal(t, 2, indexOf(3))
	assert.Equal(t, -1, indexOf(nil))

	join := g.GetAttr([]string{"a", "b"}, "join", nil).(func(string) string)
	assert.Equal(t, "a-b", join("-"))

	length := g.GetAttr([3]int{1, 2, 3}, "length", nil).(func() int)
	assert.Equal(t, 3, length())
}

type boxed struct{ V any }

func TestGetAttr_SequenceMethodsWithUncomparableElements(t *testing.T) {
	g := New(zaptest.NewLogger(t))
	seq := []any{boxed{V: []int{1}}, boxed{V: "x"}}

	contains := g.GetAttr(seq, "contains", nil).(func(any) bool)
	indexOf := g.GetAttr(seq, "index_of", nil).(func(any) int)

	assert.NotPanics(t, func() {
		assert.True(t, contains(boxed{V: []int{1}}))
		assert.False(t, contains(boxed{V: []int{2}}))
		assert.Equal(t, 0, indexOf(boxed{V: []int{1}}))
		assert.Equal(t, 1, indexOf(boxed{V: "x"}))
		assert.Equal(t, -1, indexOf(boxed{V: map[string]int{}}))
	})
}

func TestGetAttr_StructMembers(t *testing.T) {
	g := New(zaptest.NewLogger(t))
	acct := &account{UserName: "ada", Balance: 10}

	assert.Equal(t, "ada", g.GetAttr(acct, "user_name", nil))
	assert.Equal(t, "ada", g.GetAttr(*acct, "user_name", nil), "struct values resolve fields too")

	display := g.GetAttr(acct, "display_name", nil).(func() string)
	assert.Equal(t, "ADA", display())

	deposit := g.GetAttr(acct, "deposit", nil).(func(float64))
	deposit(5)
	assert.Equal(t, 15.0, acct.Balance)

	assert.False(t, g.HasAttr(acct, "secret"), "unexported fields are invisible")
	assert.False(t, g.HasAttr(acct, "user-name"))
	assert.False(t, g.HasAttr(nil, "anything"))
	assert.False(t, g.HasAttr(42, "anything"))
}

func TestSetAttr(t *testing.T) {
	g := New(zaptest.NewLogger(t))

	m := map[string]any{}
	require.NoError(t, g.SetAttr(m, "count", 3))
	assert.Equal(t, 3, m["count"])

	typed := map[string]int{}
	require.NoError(t, g.SetAttr(typed, "n", 2.0), "numbers convert")
	assert.Equal(t, 2, typed["n"])
	assert.ErrorIs(t, g.SetAttr(typed, "n", "two"), ErrNotSettable)

	acct := &account{}
	require.NoError(t, g.SetAttr(acct, "user_name", "grace"))
	assert.Equal(t, "grace", acct.UserName)
	require.NoError(t, g.SetAttr(acct, "tags", nil))
	assert.Nil(t, acct.Tags)

	assert.ErrorIs(t, g.SetAttr(*acct, "user_name", "x"), ErrNotSettable, "struct values are copies")
	assert.ErrorIs(t, g.SetAttr(acct, "missing", 1), ErrNotSettable)
	assert.ErrorIs(t, g.SetAttr(acct, "balance", "lots"), ErrNotSettable)
	assert.ErrorIs(t, g.SetAttr("text", "length", 1), ErrNotSettable)
	assert.ErrorIs(t, g.SetAttr(nil, "x", 1), ErrNotSettable)

	var nilMap map[string]any
	assert.ErrorIs(t, g.SetAttr(nilMap, "x", 1), ErrNotSettable)
}

func TestBuiltins(t *testing.T) {
	g := New(nil)
	b := g.Builtins()
	require.Len(t, b, 3)

	getattr := b["getattr"].(func(any, string, any) any)
	hasattr := b["hasattr"].(func(any, string) bool)
	setattr := b["setattr"].(func(any, string, any) error)

	obj := map[string]any{}
	require.NoError(t, setattr(obj, "k", "v"))
	assert.True(t, hasattr(obj, "k"))
	assert.Equal(t, "v", getattr(obj, "k", nil))
	assert.Equal(t, "d", getattr(obj, "_k", "d"))
}

func TestToGoName(t *testing.T) {
	assert.Equal(t, "UserName", toGoName("user_name"))
	assert.Equal(t, "Name", toGoName("Name"))
	assert.Equal(t, "A1B", toGoName("a1_b"))
	assert.Equal(t, "", toGoName("1abc"))
	assert.Equal(t, "", toGoName("a.b"))
}
