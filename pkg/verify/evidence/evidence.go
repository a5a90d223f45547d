// Package evidence audits exported audit-log records against the
// enforcement contract. It is the first of two dissimilar verification
// channels: it declares its own record layout, parses timestamps from the
// raw JSON, and re-derives every check from first principles, so a defect
// in the kernel's serialization or gate logic cannot hide itself. The
// package imports only the standard library.
package evidence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Record is this channel's independent view of one audit entry. Gate
// decision fields are pointers: absent means the gate never recorded a
// decision, which is different from a recorded false. The timestamp stays
// a raw string so the zone check cannot be hidden by a lenient decoder.
type Record struct {
	EntryID       string   `json:"entry_id"`
	Sequence      uint64   `json:"sequence"`
	Timestamp     string   `json:"timestamp"`
	Boundary      string   `json:"boundary"`
	TenantID      string   `json:"tenant_id"`
	CorrelationID string   `json:"correlation_id"`
	UserID        string   `json:"user_id"`
	Roles         []string `json:"roles"`
	OperationID   string   `json:"operation_id"`
	ComponentID   string   `json:"component_id"`

	SchemaID    string `json:"schema_id"`
	SchemaValid *bool  `json:"schema_valid"`
	PayloadHash string `json:"payload_hash"`

	Authorized          *bool    `json:"authorized"`
	RequiredPermissions []string `json:"required_permissions"`
	GrantedPermissions  []string `json:"granted_permissions"`

	ResourceType    string `json:"resource_type"`
	BudgetLimit     *int64 `json:"budget_limit"`
	UsageBefore     *int64 `json:"usage_before"`
	RequestedAmount *int64 `json:"requested_amount"`

	IdempotencyKey *string `json:"idempotency_key"`

	ConfidenceScore *float64 `json:"confidence_score"`
	HumanApproved   *bool    `json:"human_approved"`
	ApprovalID      string   `json:"approval_id"`

	EvalPassed *bool    `json:"eval_passed"`
	Predicates []string `json:"predicates"`

	Result      string `json:"result"`
	PIIDetected bool   `json:"pii_detected"`

	ExitCode  int    `json:"exit_code"`
	ErrorCode string `json:"error_code"`
}

// Invariant names carried on violations. Each names the contract clause
// that was breached, not the code that detected it.
const (
	InvariantSchemaFlag        = "schema-flag-vs-exit"
	InvariantAuthFlag          = "authorization-flag-vs-exit"
	InvariantBoundsArithmetic  = "bounds-arithmetic-vs-exit"
	InvariantApprovalFlag      = "approval-flag-vs-exit"
	InvariantEvalFlag          = "eval-flag-vs-exit"
	InvariantTraceFields       = "trace-fields-populated"
	InvariantTimestampZone     = "timestamp-timezone-aware"
	InvariantIdempotencyKey    = "idempotency-key-nonblank"
	InvariantRequiredFields    = "durability-required-fields"
	InvariantExitConsistency   = "exit-code-error-consistency"
	InvariantConfidenceRange   = "confidence-score-range"
	InvariantCorrelationTenant = "correlation-tenant-uniqueness"
	InvariantDuplicateEntryID  = "entry-id-uniqueness"
)

// Violation is one invariant breach found in a record batch.
type Violation struct {
	Invariant string `json:"invariant"`
	RecordID  string `json:"record_id"`
	Detail    string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: record %q: %s", v.Invariant, v.RecordID, v.Detail)
}

// Error carries the first violation in strict mode.
type Error struct {
	Violation Violation
}

func (e *Error) Error() string {
	return "evidence: " + e.Violation.String()
}

// Check audits a batch and returns every violation found. Legitimate
// denials, where a gate flag is false and the exit code is non-zero, are
// never flagged; the target is the impossible combination of a recorded
// failure and a successful exit.
func Check(records []Record) []Violation {
	var out []Violation

	tenantByCorrelation := make(map[string]string, len(records))
	seenIDs := make(map[string]struct{}, len(records))

	for i := range records {
		r := &records[i]
		out = append(out, checkRecord(r)...)

		if r.CorrelationID != "" {
			if tenant, ok := tenantByCorrelation[r.CorrelationID]; ok && tenant != r.TenantID {
				out = append(out, Violation{
					Invariant: InvariantCorrelationTenant,
					RecordID:  r.EntryID,
					Detail: fmt.Sprintf("correlation id %q is attributed to tenant %q and tenant %q",
						r.CorrelationID, tenant, r.TenantID),
				})
			} else if !ok {
				tenantByCorrelation[r.CorrelationID] = r.TenantID
			}
		}

		if r.EntryID != "" {
			if _, dup := seenIDs[r.EntryID]; dup {
				out = append(out, Violation{
					Invariant: InvariantDuplicateEntryID,
					RecordID:  r.EntryID,
					Detail:    fmt.Sprintf("entry id %q appears more than once", r.EntryID),
				})
			}
			seenIDs[r.EntryID] = struct{}{}
		}
	}
	return out
}

// CheckStrict audits a batch and returns the first violation as an error.
func CheckStrict(records []Record) error {
	if violations := Check(records); len(violations) > 0 {
		return &Error{Violation: violations[0]}
	}
	return nil
}

func checkRecord(r *Record) []Violation {
	var out []Violation
	flag := func(invariant, detail string) {
		out = append(out, Violation{Invariant: invariant, RecordID: r.EntryID, Detail: detail})
	}
	success := r.ExitCode == 0

	if r.EntryID == "" {
		flag(InvariantRequiredFields, "entry id is empty")
	}
	if r.Boundary == "" {
		flag(InvariantRequiredFields, "boundary is empty")
	}
	if r.UserID == "" {
		flag(InvariantRequiredFields, "user id is empty")
	}
	if r.Roles == nil {
		flag(InvariantRequiredFields, "roles are absent")
	}

	if r.TenantID == "" {
		flag(InvariantTraceFields, "tenant id is empty")
	}
	if r.CorrelationID == "" {
		flag(InvariantTraceFields, "correlation id is empty")
	}

	if r.Timestamp == "" {
		flag(InvariantTimestampZone, "timestamp is empty")
	} else if _, err := time.Parse(time.RFC3339Nano, r.Timestamp); err != nil {
		flag(InvariantTimestampZone, fmt.Sprintf("timestamp %q is not an RFC 3339 zoned instant", r.Timestamp))
	}

	if r.ExitCode < 0 {
		flag(InvariantExitConsistency, fmt.Sprintf("exit code %d is negative", r.ExitCode))
	}
	if !success && r.ErrorCode == "" {
		flag(InvariantExitConsistency, fmt.Sprintf("exit code %d has no error code", r.ExitCode))
	}
	if success && r.ErrorCode != "" {
		flag(InvariantExitConsistency, fmt.Sprintf("successful record carries error code %q", r.ErrorCode))
	}

	if r.SchemaValid != nil && !*r.SchemaValid && success {
		flag(InvariantSchemaFlag, "schema validation failed but the crossing exited successfully")
	}
	if r.Authorized != nil && !*r.Authorized && success {
		flag(InvariantAuthFlag, "authorization failed but the crossing exited successfully")
	}
	if r.BudgetLimit != nil && r.UsageBefore != nil && r.RequestedAmount != nil &&
		*r.UsageBefore+*r.RequestedAmount > *r.BudgetLimit && success {
		flag(InvariantBoundsArithmetic, fmt.Sprintf("usage %d + requested %d exceeds limit %d on a successful crossing",
			*r.UsageBefore, *r.RequestedAmount, *r.BudgetLimit))
	}
	if r.HumanApproved != nil && !*r.HumanApproved && success {
		flag(InvariantApprovalFlag, "human approval was refused but the crossing exited successfully")
	}
	if r.EvalPassed != nil && !*r.EvalPassed && success {
		flag(InvariantEvalFlag, "eval predicate failed but the crossing exited successfully")
	}

	if r.ConfidenceScore != nil && (*r.ConfidenceScore < 0 || *r.ConfidenceScore > 1) {
		flag(InvariantConfidenceRange, fmt.Sprintf("confidence score %v is outside [0, 1]", *r.ConfidenceScore))
	}

	if r.IdempotencyKey != nil && strings.TrimSpace(*r.IdempotencyKey) == "" {
		flag(InvariantIdempotencyKey, "idempotency key is present but blank")
	}

	return out
}

// ParseJSONL reads one JSON record per line, the audit log's export
// format. Blank lines are skipped; a malformed line is a parse error
// naming its line number, not a silent drop.
func ParseJSONL(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("evidence: line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("evidence: read: %w", err)
	}
	return records, nil
}
