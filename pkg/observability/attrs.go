// Package observability provides gatehouse-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gatehouse semantic convention attributes.
var (
	// Crossing attributes
	AttrBoundary      = attribute.Key("gatehouse.boundary")
	AttrTenantID      = attribute.Key("gatehouse.tenant.id")
	AttrCorrelationID = attribute.Key("gatehouse.correlation.id")
	AttrExitCode      = attribute.Key("gatehouse.exit_code")

	// State machine attributes
	AttrStateFrom = attribute.Key("gatehouse.state.from")
	AttrStateTo   = attribute.Key("gatehouse.state.to")

	// Gate attributes
	AttrGate        = attribute.Key("gatehouse.gate")
	AttrGateOutcome = attribute.Key("gatehouse.gate.outcome")
	AttrErrorCode   = attribute.Key("gatehouse.error.code")

	// Approval attributes
	AttrApprovalID      = attribute.Key("gatehouse.approval.id")
	AttrConfidenceScore = attribute.Key("gatehouse.confidence.score")

	// Audit attributes
	AttrEntryID  = attribute.Key("gatehouse.wal.entry_id")
	AttrSequence = attribute.Key("gatehouse.wal.sequence")
)

// CrossingAttrs creates attributes for a boundary crossing.
func CrossingAttrs(boundary, tenantID, correlationID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBoundary.String(boundary),
		AttrTenantID.String(tenantID),
		AttrCorrelationID.String(correlationID),
	}
}

// TransitionAttrs creates attributes for a state machine transition.
func TransitionAttrs(boundary, from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBoundary.String(boundary),
		AttrStateFrom.String(from),
		AttrStateTo.String(to),
	}
}

// GateAttrs creates attributes for a single gate check.
func GateAttrs(boundary, gate, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBoundary.String(boundary),
		AttrGate.String(gate),
		AttrGateOutcome.String(outcome),
	}
}

// DenialAttrs creates attributes for a refused crossing.
func DenialAttrs(boundary, errorCode string, exitCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBoundary.String(boundary),
		AttrErrorCode.String(errorCode),
		AttrExitCode.Int(exitCode),
	}
}

// ApprovalAttrs creates attributes for a human escalation.
func ApprovalAttrs(boundary, approvalID string, score float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBoundary.String(boundary),
		AttrApprovalID.String(approvalID),
		AttrConfidenceScore.Float64(score),
	}
}

// AuditAttrs creates attributes for a recorded audit entry.
func AuditAttrs(boundary, entryID string, sequence int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBoundary.String(boundary),
		AttrEntryID.String(entryID),
		AttrSequence.Int64(sequence),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
