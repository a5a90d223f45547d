package kernelerr

import (
	"fmt"
	"strings"
)

// FieldViolation is one structural violation at a JSON path.
type FieldViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports a structural schema failure. It carries a hash of
// the offending payload, never the payload itself, so it is safe to log.
type ValidationError struct {
	SchemaID    string
	Violations  []FieldViolation
	PayloadHash string
}

func (e *ValidationError) Error() string {
	paths := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		paths = append(paths, v.Path)
	}
	return fmt.Sprintf("%s: payload failed schema %q at %s (payload %s)",
		CodePayloadValidation, e.SchemaID, strings.Join(paths, ", "), e.PayloadHash)
}

// KernelCode implements Coder.
func (e *ValidationError) KernelCode() Code { return CodePayloadValidation }

// PermissionDeniedError reports a required permission set that is not covered
// by the caller's granted set. Missing is always non-empty and sorted.
type PermissionDeniedError struct {
	Subject  string
	Required []string
	Granted  []string
	Missing  []string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("%s: subject %q missing permissions %v",
		CodePermissionDenied, e.Subject, e.Missing)
}

// KernelCode implements Coder.
func (e *PermissionDeniedError) KernelCode() Code { return CodePermissionDenied }

// BoundsExceededError reports a budget check that would overrun the
// configured limit. The usage counter is not incremented on this path.
type BoundsExceededError struct {
	Tenant      string
	Resource    string
	Limit       int64
	UsageBefore int64
	Requested   int64
}

func (e *BoundsExceededError) Error() string {
	return fmt.Sprintf("%s: tenant %q resource %q: %d used + %d requested exceeds limit %d",
		CodeBoundsExceeded, e.Tenant, e.Resource, e.UsageBefore, e.Requested, e.Limit)
}

// KernelCode implements Coder.
func (e *BoundsExceededError) KernelCode() Code { return CodeBoundsExceeded }

// TransitionError reports an illegal state-machine edge. Allowed lists the
// valid successors of From.
type TransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition %s -> %s (valid successors of %s: %v)",
		CodeInvariantViolation, e.From, e.To, e.From, e.Allowed)
}

// KernelCode implements Coder.
func (e *TransitionError) KernelCode() Code { return CodeInvariantViolation }
