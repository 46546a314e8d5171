// File: internal/attrguard/builtins.go
package attrguard

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// stringMethod binds the ML string methods to s.
func stringMethod(s string, name string) (any, bool) {
	switch name {
	case "length":
		return func() int { return len([]rune(s)) }, true
	case "upper":
		return func() string { return strings.ToUpper(s) }, true
	case "lower":
		return func() string { return strings.ToLower(s) }, true
	case "strip":
		return func() string { return strings.TrimSpace(s) }, true
	case "split":
		return func(sep string) []string {
			if sep == "" {
				return strings.Fields(s)
			}
			return strings.Split(s, sep)
		}, true
	case "replace":
		return func(old, repl string) string { return strings.ReplaceAll(s, old, repl) }, true
	case "startswith":
		return func(prefix string) bool { return strings.HasPrefix(s, prefix) }, true
	case "endswith":
		return func(suffix string) bool { return strings.HasSuffix(s, suffix) }, true
	case "contains":
		return func(sub string) bool { return strings.Contains(s, sub) }, true
	case "find":
		return func(sub string) int { return runeIndex(s, sub) }, true
	}
	return nil, false
}

// runeIndex is strings.Index counted in characters rather than bytes.
func runeIndex(s, sub string) int {
	i := strings.Index(s, sub)
	if i < 0 {
		return -1
	}
	return len([]rune(s[:i]))
}

// sequenceMethod binds the ML array methods to a slice or array value.
func sequenceMethod(rv reflect.Value, name string) (any, bool) {
	switch name {
	case "length":
		return func() int { return rv.Len() }, true
	case "contains":
		return func(x any) bool { return indexOf(rv, x) >= 0 }, true
	case "index_of":
		return func(x any) int { return indexOf(rv, x) }, true
	case "join":
		return func(sep string) string {
			parts := make([]string, rv.Len())
			for i := range parts {
				parts[i] = cast.ToString(rv.Index(i).Interface())
			}
			return strings.Join(parts, sep)
		}, true
	}
	return nil, false
}

func indexOf(rv reflect.Value, x any) int {
	for i := 0; i < rv.Len(); i++ {
		el := rv.Index(i).Interface()
		if equalValues(el, x) {
			return i
		}
	}
	return -1
}

// equalValues compares ML values; numbers compare by value across Go types.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if isNumber(av.Kind()) && isNumber(bv.Kind()) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}
	// Value.Comparable looks through interface fields, so a struct holding a
	// slice in an any field falls back to DeepEqual instead of panicking.
	if !av.Comparable() || !bv.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}
