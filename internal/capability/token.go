// File: internal/capability/token.go
package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Token grants a set of operations on resources matching any of its patterns.
// Tokens are immutable once issued.
type Token struct {
	resourceType string
	patterns     []string
	globs        []glob.Glob
	operations   map[string]bool
}

// NewToken compiles a token. Patterns use glob syntax with '/' as the separator,
// so "/tmp/*" matches direct children of /tmp and "/tmp/**" matches any depth.
func NewToken(resourceType string, patterns []string, operations ...string) (*Token, error) {
	if !IsKnownResourceType(resourceType) {
		return nil, fmt.Errorf("token for %q: %w", resourceType, ErrUnknownResourceType)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("token for %q has no patterns", resourceType)
	}
	if len(operations) == 0 {
		return nil, fmt.Errorf("token for %q grants no operations", resourceType)
	}

	t := &Token{
		resourceType: resourceType,
		patterns:     make([]string, 0, len(patterns)),
		globs:        make([]glob.Glob, 0, len(patterns)),
		operations:   make(map[string]bool, len(operations)),
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		t.patterns = append(t.patterns, p)
		t.globs = append(t.globs, g)
	}
	for _, op := range operations {
		t.operations[strings.ToLower(strings.TrimSpace(op))] = true
	}
	return t, nil
}

// MustToken is NewToken for static tables; it panics on error.
func MustToken(resourceType string, patterns []string, operations ...string) *Token {
	t, err := NewToken(resourceType, patterns, operations...)
	if err != nil {
		panic(err)
	}
	return t
}

// ResourceType returns the resource type the token applies to.
func (t *Token) ResourceType() string { return t.resourceType }

// Patterns returns a copy of the token's patterns.
func (t *Token) Patterns() []string { return append([]string(nil), t.patterns...) }

// Operations returns the granted operations, sorted.
func (t *Token) Operations() []string {
	ops := make([]string, 0, len(t.operations))
	for op := range t.operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Grants reports whether the token covers op on resource.
func (t *Token) Grants(resourceType, resource, op string) bool {
	if t.resourceType != resourceType || !t.operations[op] {
		return false
	}
	for _, g := range t.globs {
		if g.Match(resource) {
			return true
		}
	}
	return false
}

func (t *Token) String() string {
	return fmt.Sprintf("%s%v:%s", t.resourceType, t.patterns, strings.Join(t.Operations(), ","))
}
