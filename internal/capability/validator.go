// File: internal/capability/validator.go
package capability

import (
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
)

var writeOperations = map[string]bool{
	OpWrite:  true,
	OpAppend: true,
	OpCreate: true,
}

// Validator checks resource requests against a Context. It holds no per-call
// state and is safe for concurrent use.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger.Named("capability")}
}

// Validate decides whether principal may perform op on resource. The blocklist is
// consulted first and cannot be overridden by any token. A nil Violation is
// returned only for ALLOWED.
func (v *Validator) Validate(c *Context, resourceType, resource, op, principal string) (Verdict, *Violation) {
	op = strings.ToLower(strings.TrimSpace(op))
	violation := func(verdict Verdict, canonical, rule, reason string) *Violation {
		vi := &Violation{
			Verdict:      verdict,
			ResourceType: resourceType,
			Resource:     resource,
			Operation:    op,
			Principal:    principal,
			Rule:         rule,
			Reason:       reason,
		}
		if canonical != resource {
			vi.Canonical = canonical
		}
		return vi
	}

	if !IsKnownResourceType(resourceType) {
		return v.record(Denied, violation(Denied, resource, "unknown_resource_type", ErrUnknownResourceType.Error()), c)
	}

	canonical, hit := v.canonicalize(resourceType, resource)
	if hit != nil {
		return v.record(Blocked, violation(Blocked, canonical, hit.rule, hit.reason), c)
	}

	if t := c.grant(resourceType, canonical, op); t != nil {
		v.logger.Debug("Access granted",
			zap.String("context", c.Name()),
			zap.String("principal", principal),
			zap.String("resource", canonical),
			zap.String("op", op),
			zap.Stringer("token", t),
		)
		observability.RecordVerdict(resourceType, string(Allowed))
		return Allowed, nil
	}

	if resourceType == ResourceFile && writeOperations[op] && core.IsExecutableName(path.Base(canonical)) {
		return v.record(Suspicious, violation(Suspicious, canonical, "executable_write", "write to an executable file name without a grant"), c)
	}
	return v.record(Denied, violation(Denied, canonical, "no_matching_token", "no granted token covers this request"), c)
}

func (v *Validator) canonicalize(resourceType, resource string) (string, *blockHit) {
	switch resourceType {
	case ResourceFile:
		return canonicalPath(resource)
	case ResourceNetwork:
		return canonicalEndpoint(resource)
	case ResourceModule:
		module := strings.TrimSpace(resource)
		return module, checkModule(module)
	default:
		return strings.TrimSpace(resource), nil
	}
}

func (v *Validator) record(verdict Verdict, vi *Violation, c *Context) (Verdict, *Violation) {
	observability.RecordVerdict(vi.ResourceType, string(verdict))
	fields := []zap.Field{
		zap.String("context", c.Name()),
		zap.String("principal", vi.Principal),
		zap.String("resource_type", vi.ResourceType),
		zap.String("resource", vi.Resource),
		zap.String("op", vi.Operation),
		zap.String("rule", vi.Rule),
	}
	if verdict == Blocked || verdict == Suspicious {
		v.logger.Warn("Capability request refused", append(fields, zap.String("verdict", string(verdict)))...)
	} else {
		v.logger.Debug("Capability request denied", fields...)
	}
	return verdict, vi
}
