// File: internal/capability/context.go
package capability

// Context is the set of tokens granted to one sandboxed execution. It is built
// before the execution starts and never mutated afterwards, so it can be shared
// by concurrent validations without locking.
type Context struct {
	name   string
	tokens []*Token
}

// NewContext creates a context holding tokens. Nil tokens are skipped.
func NewContext(name string, tokens ...*Token) *Context {
	c := &Context{name: name}
	for _, t := range tokens {
		if t != nil {
			c.tokens = append(c.tokens, t)
		}
	}
	return c
}

// Name identifies the context in logs and violations.
func (c *Context) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Tokens returns a copy of the granted tokens.
func (c *Context) Tokens() []*Token {
	if c == nil {
		return nil
	}
	return append([]*Token(nil), c.tokens...)
}

// WithTokens returns a new context with additional tokens. The receiver is unchanged.
func (c *Context) WithTokens(tokens ...*Token) *Context {
	next := NewContext(c.Name(), c.Tokens()...)
	for _, t := range tokens {
		if t != nil {
			next.tokens = append(next.tokens, t)
		}
	}
	return next
}

// grant returns the first token covering the request, or nil.
func (c *Context) grant(resourceType, resource, op string) *Token {
	if c == nil {
		return nil
	}
	for _, t := range c.tokens {
		if t.Grants(resourceType, resource, op) {
			return t
		}
	}
	return nil
}
