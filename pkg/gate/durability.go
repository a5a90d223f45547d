package gate

import (
	"context"

	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/redact"
	"github.com/Mindburn-Labs/gatehouse/pkg/wal"
)

// Recorder redacts and appends finalized audit entries. It backs the
// durability gate on the success path and serves as the crossing's auditor
// on the fault path, so denials reach the same log through the same code.
type Recorder struct {
	backend  wal.Backend
	redactor *redact.Redactor
}

// NewRecorder creates a Recorder. A nil redactor uses the default rules.
func NewRecorder(backend wal.Backend, redactor *redact.Redactor) *Recorder {
	if redactor == nil {
		redactor = redact.New()
	}
	return &Recorder{backend: backend, redactor: redactor}
}

// Record scrubs the entry's free-text result, flags whether the
// pre-redaction text held PII, validates the entry, and appends it.
// Append failures are fatal; an audit record is never silently dropped.
func (r *Recorder) Record(ctx context.Context, e *wal.Entry) error {
	if e.Result != "" {
		scrubbed, class := r.redactor.Scrub(e.Result)
		e.PIIDetected = class != redact.ClassNone
		e.Result = scrubbed
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := r.backend.Append(ctx, e); err != nil {
		if _, ok := kernelerr.CodeOf(err); ok {
			return err
		}
		return kernelerr.Wrap(kernelerr.CodeWALWrite, err, "audit append failed")
	}
	return nil
}

// Durability finalizes the crossing's draft entry and appends it through the
// recorder. It runs in the exit phase, after the body has produced its
// result, and marks the crossing recorded so the fault path cannot append
// the same entry twice.
func Durability(rec *Recorder) crossing.Gate {
	return crossing.NewGate("durability", func(ctx context.Context, c *crossing.Context) error {
		e := c.FinalizeEntry(nil)
		if err := rec.Record(ctx, e); err != nil {
			return err
		}
		c.MarkRecorded()
		return nil
	})
}
