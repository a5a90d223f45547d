// Package approval implements human-in-the-loop review for boundary
// crossings whose confidence falls below the operation's threshold.
// A crossing emits an ApprovalRequest, blocks on the decision channel,
// and treats timeout as rejection.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDecisionTimeout reports that no human decision arrived within
	// the crossing's wait window. Timed-out requests are denied.
	ErrDecisionTimeout = errors.New("approval: decision timed out")

	// ErrUnknownRequest reports a wait or resolve for a request id that
	// was never emitted.
	ErrUnknownRequest = errors.New("approval: unknown request")

	// ErrAlreadyResolved reports a second resolution of the same request.
	ErrAlreadyResolved = errors.New("approval: request already resolved")
)

// Action is a reviewer's verdict on a request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Request asks a human reviewer to allow or refuse one operation.
type Request struct {
	RequestID     string    `json:"request_id"`
	Boundary      string    `json:"boundary"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Operation     string    `json:"operation"`
	Summary       string    `json:"summary,omitempty"`
	Payload       any       `json:"payload,omitempty"`
	Confidence    float64   `json:"confidence"`
	Threshold     float64   `json:"threshold"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Decision is a reviewer's resolution of a request.
type Decision struct {
	RequestID  string    `json:"request_id"`
	Action     Action    `json:"action"`
	ApproverID string    `json:"approver_id"`
	Reason     string    `json:"reason,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// NewRequest creates a request with a fresh id and timestamps.
func NewRequest(boundary, tenantID, userID, operation string, confidence, threshold float64, ttl time.Duration) *Request {
	now := time.Now().UTC()
	return &Request{
		RequestID:  uuid.New().String(),
		Boundary:   boundary,
		TenantID:   tenantID,
		UserID:     userID,
		Operation:  operation,
		Confidence: confidence,
		Threshold:  threshold,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Channel carries requests to reviewers and decisions back. Emit must
// not block on the reviewer; WaitForDecision blocks until a decision,
// the timeout, or context cancellation.
type Channel interface {
	Emit(ctx context.Context, req *Request) error
	WaitForDecision(ctx context.Context, requestID string, timeout time.Duration) (*Decision, error)
}

// MemoryChannel is an in-process Channel. Reviewers (or tests) resolve
// requests via Resolve.
type MemoryChannel struct {
	mu       sync.Mutex
	pending  map[string]*Request
	waiters  map[string]chan *Decision
	resolved map[string]*Decision
	clock    func() time.Time
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		pending:  make(map[string]*Request),
		waiters:  make(map[string]chan *Decision),
		resolved: make(map[string]*Decision),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *MemoryChannel) WithClock(clock func() time.Time) *MemoryChannel {
	c.clock = clock
	return c
}

// Emit registers the request and opens its decision slot.
func (c *MemoryChannel) Emit(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[req.RequestID] = req
	c.waiters[req.RequestID] = make(chan *Decision, 1)
	return nil
}

// Resolve records a reviewer's decision and wakes the waiting crossing.
func (c *MemoryChannel) Resolve(requestID string, action Action, approverID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.resolved[requestID]; ok {
		return ErrAlreadyResolved
	}
	ch, ok := c.waiters[requestID]
	if !ok {
		return ErrUnknownRequest
	}

	decision := &Decision{
		RequestID:  requestID,
		Action:     action,
		ApproverID: approverID,
		Reason:     reason,
		DecidedAt:  c.clock().UTC(),
	}
	c.resolved[requestID] = decision
	delete(c.pending, requestID)
	ch <- decision
	return nil
}

// WaitForDecision blocks until the request is resolved or the timeout
// elapses. Timeout and cancellation leave the request pending; a
// late Resolve is still recorded but the crossing has already denied.
func (c *MemoryChannel) WaitForDecision(ctx context.Context, requestID string, timeout time.Duration) (*Decision, error) {
	c.mu.Lock()
	if d, ok := c.resolved[requestID]; ok {
		c.mu.Unlock()
		return d, nil
	}
	ch, ok := c.waiters[requestID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrUnknownRequest
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		return d, nil
	case <-timer.C:
		return nil, ErrDecisionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns a snapshot of unresolved requests.
func (c *MemoryChannel) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, 0, len(c.pending))
	for _, req := range c.pending {
		out = append(out, *req)
	}
	return out
}
