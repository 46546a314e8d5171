// File: internal/attrguard/guard.go
// Package attrguard mediates attribute access from generated ML code. Static
// analysis only sees literal attribute names; names assembled at runtime reach
// this guard instead, which refuses anything that starts with an underscore.
package attrguard

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
)

var (
	// ErrBlockedAttribute is returned by SetAttr for underscore names.
	ErrBlockedAttribute = errors.New("attribute name is not accessible")
	// ErrNotSettable is returned when the target has no writable attribute of that name.
	ErrNotSettable = errors.New("attribute cannot be set")
)

// Guard resolves attributes for ML code. It keeps no per-call state.
type Guard struct {
	logger *zap.Logger
}

// New creates a guard.
func New(logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{logger: logger.Named("attrguard")}
}

// IsBlockedName reports whether name is hidden from ML code.
func IsBlockedName(name string) bool {
	return name == "" || core.IsPrivateName(name)
}

// GetAttr returns the named attribute of obj, or def when it is blocked or
// missing. It never panics.
func (g *Guard) GetAttr(obj any, name string, def any) any {
	if IsBlockedName(name) {
		g.deny("get", obj, name)
		return def
	}
	v, ok := g.resolve(obj, name)
	if !ok {
		return def
	}
	return v
}

// HasAttr reports whether GetAttr would find the attribute.
func (g *Guard) HasAttr(obj any, name string) bool {
	if IsBlockedName(name) {
		g.deny("has", obj, name)
		return false
	}
	_, ok := g.resolve(obj, name)
	return ok
}

// SetAttr writes a string-keyed map entry or an exported struct field reached
// through a pointer. Strings and sequences are immutable from ML code.
func (g *Guard) SetAttr(obj any, name string, value any) (err error) {
	if IsBlockedName(name) {
		g.deny("set", obj, name)
		return fmt.Errorf("setattr %q: %w", name, ErrBlockedAttribute)
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("Recovered from panic in setattr", zap.String("name", name), zap.Any("panic", r))
			err = fmt.Errorf("setattr %q: %w", name, ErrNotSettable)
		}
	}()

	rv := reflect.ValueOf(obj)
	switch {
	case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String && !rv.IsNil():
		val, ok := assignable(value, rv.Type().Elem())
		if !ok {
			return fmt.Errorf("setattr %q: value of type %T: %w", name, value, ErrNotSettable)
		}
		rv.SetMapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()), val)
		return nil
	case rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct:
		field, ok := exportedField(rv.Elem(), name)
		if !ok || !field.CanSet() {
			return fmt.Errorf("setattr %q: %w", name, ErrNotSettable)
		}
		val, ok := assignable(value, field.Type())
		if !ok {
			return fmt.Errorf("setattr %q: value of type %T: %w", name, value, ErrNotSettable)
		}
		field.Set(val)
		return nil
	}
	return fmt.Errorf("setattr %q on %T: %w", name, obj, ErrNotSettable)
}

// Builtins exposes the guarded primitives under their ML names.
func (g *Guard) Builtins() map[string]any {
	return map[string]any{
		"getattr": g.GetAttr,
		"hasattr": g.HasAttr,
		"setattr": g.SetAttr,
	}
}

func (g *Guard) deny(op string, obj any, name string) {
	observability.RecordAttributeDenial(op)
	g.logger.Debug("Attribute access denied",
		zap.String("op", op),
		zap.String("name", name),
		zap.String("type", fmt.Sprintf("%T", obj)),
	)
}

func (g *Guard) resolve(obj any, name string) (v any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("Recovered from panic in attribute lookup", zap.String("name", name), zap.Any("panic", r))
			v, ok = nil, false
		}
	}()

	switch o := obj.(type) {
	case nil:
		return nil, false
	case string:
		return stringMethod(o, name)
	case []any:
		return sequenceMethod(reflect.ValueOf(o), name)
	case map[string]any:
		v, ok := o[name]
		return v, ok
	}

	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return sequenceMethod(rv, name)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	}
	return structMember(rv, name)
}

// structMember looks up an exported method, then an exported field. ML
// snake_case names map to Go CamelCase.
func structMember(rv reflect.Value, name string) (any, bool) {
	goName := toGoName(name)
	if goName == "" {
		return nil, false
	}
	if m := rv.MethodByName(goName); m.IsValid() {
		return m.Interface(), true
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	if f, ok := exportedField(rv, name); ok {
		return f.Interface(), true
	}
	return nil, false
}

func exportedField(rv reflect.Value, name string) (reflect.Value, bool) {
	goName := toGoName(name)
	sf, ok := rv.Type().FieldByName(goName)
	if !ok || !sf.IsExported() || len(sf.Index) != 1 {
		return reflect.Value{}, false
	}
	return rv.Field(sf.Index[0]), true
}

// toGoName maps user_name to UserName. Names that are not identifiers map to "".
func toGoName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case r == '_':
			upper = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if upper {
				r = unicode.ToUpper(r)
				upper = false
			}
			b.WriteRune(r)
		default:
			return ""
		}
	}
	out := b.String()
	if out == "" || !unicode.IsUpper([]rune(out)[0]) {
		return ""
	}
	return out
}

func assignable(value any, target reflect.Type) (reflect.Value, bool) {
	if value == nil {
		switch target.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(target), true
		}
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(target) {
		return v, true
	}
	if isNumber(v.Kind()) && isNumber(target.Kind()) {
		return v.Convert(target), true
	}
	return reflect.Value{}, false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
