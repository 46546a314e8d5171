// File: internal/analysis/core/taint.go
package core

import "fmt"

// TaintLevel is the trust lattice. Higher values are less trusted.
// Combining two values always yields the higher one.
type TaintLevel int

const (
	TaintClean TaintLevel = iota
	// TaintComputed marks values derived through computation on other values,
	// typically the result of a local function over its parameters.
	TaintComputed
	// TaintExternal marks process environment data (environment variables, argv).
	TaintExternal
	// TaintUserInput marks data read from the user, files, the network or a database.
	TaintUserInput
)

var taintNames = [...]string{
	TaintClean:     "CLEAN",
	TaintComputed:  "COMPUTED",
	TaintExternal:  "EXTERNAL",
	TaintUserInput: "USER_INPUT",
}

func (t TaintLevel) String() string {
	if t < 0 || int(t) >= len(taintNames) {
		return fmt.Sprintf("TaintLevel(%d)", int(t))
	}
	return taintNames[t]
}

// MarshalText renders the level by name for JSON and YAML.
func (t TaintLevel) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Join is the lattice join. It never lowers a level.
func (t TaintLevel) Join(other TaintLevel) TaintLevel {
	if other > t {
		return other
	}
	return t
}

// JoinAll folds Join over levels, starting from TaintClean.
func JoinAll(levels ...TaintLevel) TaintLevel {
	out := TaintClean
	for _, l := range levels {
		out = out.Join(l)
	}
	return out
}

// IsTainted reports whether the value carries any taint at all.
func (t TaintLevel) IsTainted() bool { return t > TaintClean }

// IsUntrusted reports whether the value originates outside the program.
func (t TaintLevel) IsUntrusted() bool { return t >= TaintExternal }

// BasicType is the coarse static type of an expression.
type BasicType string

const (
	TypeNumber   BasicType = "NUMBER"
	TypeString   BasicType = "STRING"
	TypeBoolean  BasicType = "BOOLEAN"
	TypeArray    BasicType = "ARRAY"
	TypeObject   BasicType = "OBJECT"
	TypeFunction BasicType = "FUNCTION"
	// TypeUnknown is the safe default when nothing better can be inferred.
	TypeUnknown BasicType = "UNKNOWN"
)
