// File: internal/capability/types.go
// Package capability decides whether sandboxed ML code may touch a resource.
// A hard-coded blocklist is consulted before any granted token, so no policy can
// open sensitive paths or loopback and administrative network endpoints.
package capability

import (
	"errors"
	"fmt"
)

// Resource types understood by the validator.
const (
	ResourceFile    = "file"
	ResourceNetwork = "network"
	ResourceModule  = "module"
	ResourceEnv     = "env"
)

var knownResourceTypes = map[string]bool{
	ResourceFile:    true,
	ResourceNetwork: true,
	ResourceModule:  true,
	ResourceEnv:     true,
}

// Common operations. Tokens may grant any operation name; these are the ones the
// validator reasons about.
const (
	OpRead    = "read"
	OpWrite   = "write"
	OpAppend  = "append"
	OpCreate  = "create"
	OpDelete  = "delete"
	OpExecute = "execute"
	OpConnect = "connect"
	OpImport  = "import"
)

// ErrUnknownResourceType is returned for tokens naming an unsupported resource type.
var ErrUnknownResourceType = errors.New("unknown resource type")

// IsKnownResourceType reports whether t is a supported resource type.
func IsKnownResourceType(t string) bool {
	return knownResourceTypes[t]
}

// Verdict is the outcome of a validation. BLOCKED and DENIED are terminal;
// SUSPICIOUS never grants access.
type Verdict string

const (
	Allowed    Verdict = "ALLOWED"
	Suspicious Verdict = "SUSPICIOUS"
	Blocked    Verdict = "BLOCKED"
	Denied     Verdict = "DENIED"
)

// Permits reports whether the operation may proceed.
func (v Verdict) Permits() bool { return v == Allowed }

// Violation describes why a request was not allowed.
type Violation struct {
	Verdict      Verdict `json:"verdict" yaml:"verdict"`
	ResourceType string  `json:"resource_type" yaml:"resource_type"`
	Resource     string  `json:"resource" yaml:"resource"`
	// Canonical is the resource after normalization, when it differs.
	Canonical string `json:"canonical,omitempty" yaml:"canonical,omitempty"`
	Operation string `json:"operation" yaml:"operation"`
	Principal string `json:"principal,omitempty" yaml:"principal,omitempty"`
	Rule      string `json:"rule" yaml:"rule"`
	Reason    string `json:"reason" yaml:"reason"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s %s %q (%s)", v.Verdict, v.Operation, v.ResourceType, v.Resource, v.Reason)
}

// ToMap converts the violation to plain key-value data.
func (v *Violation) ToMap() map[string]any {
	return map[string]any{
		"verdict":       string(v.Verdict),
		"resource_type": v.ResourceType,
		"resource":      v.Resource,
		"canonical":     v.Canonical,
		"operation":     v.Operation,
		"principal":     v.Principal,
		"rule":          v.Rule,
		"reason":        v.Reason,
	}
}
