// Package kernelerr defines the closed error taxonomy for the enforcement
// kernel. Every failure surfaced by a gate, the crossing orchestrator, or a
// kernel-owned store is one of the codes below, so callers can switch on
// CodeOf(err) without string matching.
package kernelerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies one category in the kernel error taxonomy.
type Code string

// Kernel error codes. The segment after KERNEL names the owning area.
const (
	// Schema gate (K1)
	CodeSchemaNotFound    Code = "GATEHOUSE/KERNEL/SCHEMA/NOT_FOUND"
	CodeSchemaParse       Code = "GATEHOUSE/KERNEL/SCHEMA/PARSE_ERROR"
	CodePayloadValidation Code = "GATEHOUSE/KERNEL/SCHEMA/PAYLOAD_VALIDATION"
	CodePayloadTooLarge   Code = "GATEHOUSE/KERNEL/SCHEMA/PAYLOAD_TOO_LARGE"

	// State machine and post-check mutation detection. Never suppressible.
	CodeInvariantViolation Code = "GATEHOUSE/KERNEL/STATE/INVARIANT_VIOLATION"

	// Permission gate (K2)
	CodeMalformedClaims       Code = "GATEHOUSE/KERNEL/AUTH/MALFORMED_CLAIMS"
	CodeTokenExpired          Code = "GATEHOUSE/KERNEL/AUTH/TOKEN_EXPIRED"
	CodeTokenRevoked          Code = "GATEHOUSE/KERNEL/AUTH/TOKEN_REVOKED"
	CodePermissionDenied      Code = "GATEHOUSE/KERNEL/AUTH/PERMISSION_DENIED"
	CodeRoleNotFound          Code = "GATEHOUSE/KERNEL/AUTH/ROLE_NOT_FOUND"
	CodeRevocationUnavailable Code = "GATEHOUSE/KERNEL/AUTH/REVOCATION_UNAVAILABLE"

	// Bounds gate (K3)
	CodeBoundsExceeded     Code = "GATEHOUSE/KERNEL/BOUNDS/EXCEEDED"
	CodeBudgetNotFound     Code = "GATEHOUSE/KERNEL/BOUNDS/BUDGET_NOT_FOUND"
	CodeTrackerUnavailable Code = "GATEHOUSE/KERNEL/BOUNDS/TRACKER_UNAVAILABLE"

	// Trace gate (K4)
	CodeTenantMissing Code = "GATEHOUSE/KERNEL/TRACE/TENANT_MISSING"

	// Idempotency gate (K5)
	CodeCanonicalization Code = "GATEHOUSE/KERNEL/IDEMPOTENCY/CANONICALIZATION"
	CodeDuplicateRequest Code = "GATEHOUSE/KERNEL/IDEMPOTENCY/DUPLICATE_REQUEST"

	// Durability gate (K6)
	CodeWALWrite  Code = "GATEHOUSE/KERNEL/WAL/WRITE_ERROR"
	CodeWALFormat Code = "GATEHOUSE/KERNEL/WAL/FORMAT_ERROR"
	CodeRedaction Code = "GATEHOUSE/KERNEL/WAL/REDACTION_ERROR"

	// HITL gate (K7)
	CodeConfidenceEvaluator Code = "GATEHOUSE/KERNEL/APPROVAL/EVALUATOR_ERROR"
	CodeApprovalTimeout     Code = "GATEHOUSE/KERNEL/APPROVAL/TIMEOUT"
	CodeOperationRejected   Code = "GATEHOUSE/KERNEL/APPROVAL/REJECTED"
	CodeApprovalChannel     Code = "GATEHOUSE/KERNEL/APPROVAL/CHANNEL_ERROR"

	// Eval gate (K8)
	CodePredicateNotFound Code = "GATEHOUSE/KERNEL/EVAL/PREDICATE_NOT_FOUND"
	CodeEvalGateFailure   Code = "GATEHOUSE/KERNEL/EVAL/GATE_FAILURE"
	CodeEvalError         Code = "GATEHOUSE/KERNEL/EVAL/EVAL_ERROR"

	// Dissimilar verification tooling above the channels.
	CodeVerification Code = "GATEHOUSE/KERNEL/VERIFY/VIOLATION"

	// CodeUnclassified attributes errors raised outside the kernel (a
	// crossing body failing with an application error) in audit records.
	// The kernel itself never raises it.
	CodeUnclassified Code = "GATEHOUSE/KERNEL/UNCLASSIFIED"
)

// Classification describes how a code should be treated operationally.
type Classification string

const (
	// ClassDenial is an expected fail-closed outcome: the crossing was
	// denied by policy or by malformed caller input.
	ClassDenial Classification = "DENIAL"
	// ClassUnavailable is a denial caused by an unreachable dependency
	// (revocation cache, usage tracker, approval channel). Fail-safe deny.
	ClassUnavailable Classification = "UNAVAILABLE"
	// ClassFatal is a kernel defect or an unrecoverable durability failure.
	ClassFatal Classification = "FATAL"
)

// Classify maps a code to its operational classification.
func Classify(code Code) Classification {
	s := string(code)
	switch {
	case strings.Contains(s, "/STATE/"),
		strings.Contains(s, "/WAL/"),
		strings.Contains(s, "/VERIFY/"):
		return ClassFatal
	case code == CodeRevocationUnavailable,
		code == CodeTrackerUnavailable,
		code == CodeApprovalChannel,
		code == CodeConfidenceEvaluator:
		return ClassUnavailable
	default:
		return ClassDenial
	}
}

// Coder is implemented by every error in the kernel taxonomy.
type Coder interface {
	error
	KernelCode() Code
}

// Error is the base kernel error. Specialized errors with structured fields
// (ValidationError, PermissionDeniedError, ...) live alongside it and share
// the taxonomy through the Coder interface.
type Error struct {
	Code    Code
	Message string
	Detail  map[string]any
	Cause   error
}

// New builds a kernel error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a kernel error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a kernel error that records cause for errors.Is/As traversal.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// With attaches one structured detail field and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause chain.
func (e *Error) Unwrap() error { return e.Cause }

// KernelCode implements Coder.
func (e *Error) KernelCode() Code { return e.Code }

// CodeOf resolves the kernel code of err, traversing wrap chains. The second
// return is false when err is not part of the kernel taxonomy.
func CodeOf(err error) (Code, bool) {
	var c Coder
	if errors.As(err, &c) {
		return c.KernelCode(), true
	}
	return "", false
}

// HasCode reports whether err carries the given kernel code.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsFatal reports whether err is classified fatal (state invariant violations
// and durability failures). Fatal errors must never be suppressed.
func IsFatal(err error) bool {
	c, ok := CodeOf(err)
	return ok && Classify(c) == ClassFatal
}
