// File: internal/capability/policy.go
package capability

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// TokenSpec is the YAML form of a token.
type TokenSpec struct {
	ResourceType string   `yaml:"resource_type"`
	Patterns     []string `yaml:"patterns"`
	Operations   []string `yaml:"operations"`
}

// ContextSpec is the YAML form of a context.
type ContextSpec struct {
	Name   string      `yaml:"name"`
	Tokens []TokenSpec `yaml:"tokens"`
}

// PolicyFile is the top-level YAML document.
type PolicyFile struct {
	Contexts []ContextSpec `yaml:"contexts"`
}

// Policy is a set of named, compiled contexts.
type Policy struct {
	contexts map[string]*Context
}

// ParsePolicy compiles a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var doc PolicyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse capability policy: %w", err)
	}

	p := &Policy{contexts: make(map[string]*Context, len(doc.Contexts))}
	for i, cs := range doc.Contexts {
		if cs.Name == "" {
			return nil, fmt.Errorf("context #%d has no name", i+1)
		}
		if _, dup := p.contexts[cs.Name]; dup {
			return nil, fmt.Errorf("duplicate context %q", cs.Name)
		}
		tokens := make([]*Token, 0, len(cs.Tokens))
		for j, ts := range cs.Tokens {
			t, err := NewToken(ts.ResourceType, ts.Patterns, ts.Operations...)
			if err != nil {
				return nil, fmt.Errorf("context %q token #%d: %w", cs.Name, j+1, err)
			}
			tokens = append(tokens, t)
		}
		p.contexts[cs.Name] = NewContext(cs.Name, tokens...)
	}
	return p, nil
}

// LoadPolicy reads and compiles a YAML policy file.
func LoadPolicy(filename string) (*Policy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability policy: %w", err)
	}
	return ParsePolicy(data)
}

// Context returns the named context.
func (p *Policy) Context(name string) (*Context, bool) {
	c, ok := p.contexts[name]
	return c, ok
}

// Names lists the defined contexts, sorted.
func (p *Policy) Names() []string {
	names := make([]string, 0, len(p.contexts))
	for n := range p.contexts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
