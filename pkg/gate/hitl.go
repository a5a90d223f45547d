package gate

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/gatehouse/pkg/approval"
	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// defaultApprovalTimeout bounds how long a crossing blocks on a reviewer.
// An undecided request denies when it elapses.
const defaultApprovalTimeout = 300 * time.Second

type hitlConfig struct {
	timeout time.Duration
}

// HITLOption configures the human-approval gate.
type HITLOption func(*hitlConfig)

// WithApprovalTimeout overrides how long the gate waits for a decision.
func WithApprovalTimeout(d time.Duration) HITLOption {
	return func(c *hitlConfig) { c.timeout = d }
}

// HITL scores the operation's confidence against the per-operation
// threshold. A score at or above the threshold passes without contacting
// anyone; below it, the gate emits an approval request and blocks until a
// reviewer decides or the timeout elapses. Rejection and timeout both deny,
// and so does any evaluator or channel failure.
func HITL(eval approval.ConfidenceEvaluator, policy *approval.ThresholdPolicy, channel approval.Channel, operation string, payload any, opts ...HITLOption) crossing.Gate {
	cfg := hitlConfig{timeout: defaultApprovalTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	return crossing.NewGate("hitl", func(ctx context.Context, c *crossing.Context) error {
		entry := c.Entry()

		score, err := eval.Score(ctx, c.Boundary(), payload)
		if err != nil {
			return kernelerr.Wrap(kernelerr.CodeConfidenceEvaluator, err, "confidence evaluation failed")
		}
		if score < 0 || score > 1 {
			return kernelerr.Newf(kernelerr.CodeConfidenceEvaluator,
				"confidence score %v is outside [0, 1]", score)
		}
		entry.ConfidenceScore = float64Ptr(score)

		threshold := policy.ThresholdFor(operation)
		if score >= threshold {
			return nil
		}

		var userID string
		if cl := c.Claims(); cl != nil {
			userID = cl.Subject
		}
		req := approval.NewRequest(c.Boundary(), c.TenantID(), userID, operation, score, threshold, cfg.timeout)
		req.CorrelationID = c.CorrelationID()
		req.Payload = payload
		entry.ApprovalID = req.RequestID

		if err := channel.Emit(ctx, req); err != nil {
			return kernelerr.Wrap(kernelerr.CodeApprovalChannel, err, "approval request could not be delivered")
		}

		decision, err := channel.WaitForDecision(ctx, req.RequestID, cfg.timeout)
		if err != nil {
			if errors.Is(err, approval.ErrDecisionTimeout) {
				entry.HumanApproved = boolPtr(false)
				return kernelerr.Newf(kernelerr.CodeApprovalTimeout,
					"no decision for request %s within %s", req.RequestID, cfg.timeout)
			}
			return kernelerr.Wrap(kernelerr.CodeApprovalChannel, err, "waiting for decision failed")
		}

		if decision.Action != approval.ActionApprove {
			entry.HumanApproved = boolPtr(false)
			return kernelerr.Newf(kernelerr.CodeOperationRejected,
				"operation rejected by %s", decision.ApproverID).
				With("request_id", req.RequestID).
				With("reason", decision.Reason)
		}

		entry.HumanApproved = boolPtr(true)
		return nil
	})
}
