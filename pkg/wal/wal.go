// Package wal implements the append-only write-ahead audit log for
// boundary crossings. Entries are hash-chained from a genesis marker,
// optionally sealed with Ed25519 signatures, and serialized as JSON for
// downstream evidence verification.
package wal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/gatehouse/pkg/canonical"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

var (
	ErrChainBroken     = errors.New("wal: hash chain is broken")
	ErrEntryNotFound   = errors.New("wal: entry not found")
	ErrBackendReadOnly = errors.New("wal: backend is read-only")
)

// Genesis is the previous-hash value of the first entry in a chain.
const Genesis = "genesis"

// Exit codes recorded on each entry. Zero is the only success value;
// everything else is a refused or failed crossing.
const (
	ExitOK          = 0
	ExitDenied      = 1
	ExitUnavailable = 2
	ExitFatal       = 3
)

// ExitCodeFor maps an operation outcome to a WAL exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if code, ok := kernelerr.CodeOf(err); ok {
		switch kernelerr.Classify(code) {
		case kernelerr.ClassDenial:
			return ExitDenied
		case kernelerr.ClassUnavailable:
			return ExitUnavailable
		default:
			return ExitFatal
		}
	}
	return ExitFatal
}

// Entry is a single immutable audit record for one boundary crossing
// attempt. Gate decision fields are pointers so that an absent decision
// (gate never reached) is distinguishable from a recorded false.
type Entry struct {
	EntryID       string    `json:"entry_id"`
	Sequence      uint64    `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
	Boundary      string    `json:"boundary"`
	TenantID      string    `json:"tenant_id"`
	CorrelationID string    `json:"correlation_id"`
	UserID        string    `json:"user_id"`
	Roles         []string  `json:"roles"`
	OperationID   string    `json:"operation_id,omitempty"`
	ComponentID   string    `json:"component_id,omitempty"`

	SchemaID    string `json:"schema_id,omitempty"`
	SchemaValid *bool  `json:"schema_valid,omitempty"`
	PayloadHash string `json:"payload_hash,omitempty"`

	Authorized          *bool    `json:"authorized,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	GrantedPermissions  []string `json:"granted_permissions,omitempty"`

	ResourceType    string `json:"resource_type,omitempty"`
	BudgetLimit     *int64 `json:"budget_limit,omitempty"`
	UsageBefore     *int64 `json:"usage_before,omitempty"`
	RequestedAmount *int64 `json:"requested_amount,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`

	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	HumanApproved   *bool    `json:"human_approved,omitempty"`
	ApprovalID      string   `json:"approval_id,omitempty"`

	EvalPassed *bool    `json:"eval_passed,omitempty"`
	Predicates []string `json:"predicates,omitempty"`

	Result      string `json:"result,omitempty"`
	PIIDetected bool   `json:"pii_detected"`

	ExitCode  int    `json:"exit_code"`
	ErrorCode string `json:"error_code,omitempty"`

	PrevHash  string `json:"prev_hash,omitempty"`
	EntryHash string `json:"entry_hash,omitempty"`
	Signature string `json:"signature,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
}

// Validate checks the structural invariants of a draft entry before it
// is appended. Chain and seal fields are assigned by the backend and
// are not required here.
func (e *Entry) Validate() error {
	if e == nil {
		return kernelerr.New(kernelerr.CodeWALFormat, "entry is nil")
	}
	missing := func(field string) error {
		return kernelerr.New(kernelerr.CodeWALFormat, "entry field is missing").
			With("field", field)
	}
	if e.EntryID == "" {
		return missing("entry_id")
	}
	if e.Boundary == "" {
		return missing("boundary")
	}
	if e.TenantID == "" {
		return missing("tenant_id")
	}
	if e.CorrelationID == "" {
		return missing("correlation_id")
	}
	if e.UserID == "" {
		return missing("user_id")
	}
	if e.Roles == nil {
		return missing("roles")
	}
	if e.Timestamp.IsZero() {
		return missing("timestamp")
	}
	if e.ExitCode < 0 {
		return kernelerr.New(kernelerr.CodeWALFormat, "exit code must not be negative").
			With("exit_code", e.ExitCode)
	}
	if e.ExitCode != ExitOK && e.ErrorCode == "" {
		return kernelerr.New(kernelerr.CodeWALFormat, "non-zero exit code requires an error code").
			With("exit_code", e.ExitCode)
	}
	if e.ExitCode == ExitOK && e.ErrorCode != "" {
		return kernelerr.New(kernelerr.CodeWALFormat, "successful entry must not carry an error code").
			With("error_code", e.ErrorCode)
	}
	if e.Signature != "" && e.KeyID == "" {
		return kernelerr.New(kernelerr.CodeWALFormat, "signed entry is missing its key id")
	}
	return nil
}

// ComputeEntryHash hashes the chain-relevant view of an entry. The
// hash, signature and key id fields are excluded so the value is stable
// before and after sealing.
func ComputeEntryHash(e *Entry) (string, error) {
	hashable := *e
	hashable.EntryHash = ""
	hashable.Signature = ""
	hashable.KeyID = ""

	data, err := canonical.Canonicalize(hashable)
	if err != nil {
		return "", kernelerr.Wrap(kernelerr.CodeWALFormat, err, "marshal entry for hashing")
	}
	return "sha256:" + canonical.HashBytes(data), nil
}

// Backend is an append-only store of WAL entries. Append assigns the
// sequence number and chain hashes in-place on the given entry; List
// returns all entries in append order.
type Backend interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context) ([]Entry, error)
}

func kernelWriteErr(msg string, cause error) error {
	return kernelerr.Wrap(kernelerr.CodeWALWrite, cause, msg)
}

// ExportJSONL writes every entry of a backend to w as one JSON object
// per line, in append order. It returns the number of entries written.
func ExportJSONL(ctx context.Context, b Backend, w io.Writer) (int, error) {
	entries, err := b.List(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return i, kernelerr.Wrap(kernelerr.CodeWALWrite, err, "encode entry").
				With("entry_id", entries[i].EntryID)
		}
	}
	return len(entries), nil
}

// VerifyEntries checks hash-chain integrity over an ordered slice of
// entries, independent of the backend that produced them.
func VerifyEntries(entries []Entry) error {
	expectedPrev := Genesis
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has prev_hash %s but expected %s",
				ErrChainBroken, i, e.PrevHash, expectedPrev)
		}
		computed, err := ComputeEntryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, e.EntryHash)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}
