package crossing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/gatehouse/pkg/claims"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
	"github.com/Mindburn-Labs/gatehouse/pkg/wal"
)

// Gate is one enforcement check in a crossing. Check returns nil on
// pass or a typed kernel error on fail. Gates must not swallow errors
// from deeper checks; side effects happen only on the pass path.
type Gate interface {
	Name() string
	Check(ctx context.Context, c *Context) error
}

type funcGate struct {
	name string
	fn   func(ctx context.Context, c *Context) error
}

func (g funcGate) Name() string                                { return g.name }
func (g funcGate) Check(ctx context.Context, c *Context) error { return g.fn(ctx, c) }

// NewGate adapts a function to the Gate interface.
func NewGate(name string, fn func(ctx context.Context, c *Context) error) Gate {
	return funcGate{name: name, fn: fn}
}

// Auditor records the finalized audit entry of a crossing attempt.
// The durability gate covers the success path; the orchestrator uses
// the auditor to record refused and faulted crossings, which never
// reach the exit-phase gates.
type Auditor interface {
	Record(ctx context.Context, e *wal.Entry) error
}

// Observer receives state transitions and gate outcomes, typically to
// drive metrics. Observers must not fail the crossing.
type Observer interface {
	OnTransition(boundary string, from, to State)
	OnGateResult(boundary, gate string, err error)
}

// ComponentResolver checks a component id against loaded architecture
// metadata. A missing document never blocks the kernel.
type ComponentResolver interface {
	HasComponent(id string) bool
}

// Context drives one boundary crossing through the state machine.
// It is owned by a single logical task and is not safe for concurrent
// use; nested work opens a new Context that inherits the correlation
// id through the ambient context.
type Context struct {
	boundary   string
	state      State
	trace      []State
	entryGates []Gate
	exitGates  []Gate

	callerCorr string
	corrID     string
	tenantID   string

	claims      *claims.Claims
	contractID  string
	contractReg *registry.ContractRegistry
	componentID string
	components  ComponentResolver

	entry    wal.Entry
	output   any
	recorded bool

	auditor  Auditor
	observer Observer
	clock    func() time.Time
}

// Option configures a Context at construction.
type Option func(*Context)

// WithEntryGates sets the ordered entry-phase gate list.
func WithEntryGates(gates ...Gate) Option {
	return func(c *Context) { c.entryGates = gates }
}

// WithExitGates sets the ordered exit-phase gate list.
func WithExitGates(gates ...Gate) Option {
	return func(c *Context) { c.exitGates = gates }
}

// WithClaims attaches the caller's decoded claims.
func WithClaims(cl *claims.Claims) Option {
	return func(c *Context) { c.claims = cl }
}

// WithCorrelationID supplies a caller-provided correlation id
// candidate. It wins over the ambient id if it is a valid UUID.
func WithCorrelationID(id string) Option {
	return func(c *Context) { c.callerCorr = id }
}

// WithContract pins the crossing to a registered interface contract.
// Open refuses the crossing if the contract is missing or expired.
func WithContract(id string, reg *registry.ContractRegistry) Option {
	return func(c *Context) {
		c.contractID = id
		c.contractReg = reg
	}
}

// WithComponent attaches an architecture component id, optionally
// validated against a resolver when one is present.
func WithComponent(id string, resolver ComponentResolver) Option {
	return func(c *Context) {
		c.componentID = id
		c.components = resolver
	}
}

// WithAuditor sets the audit sink for refused and faulted crossings.
func WithAuditor(a Auditor) Option {
	return func(c *Context) { c.auditor = a }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Context) { c.observer = o }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(c *Context) { c.clock = clock }
}

// New creates an Idle crossing context for the named boundary.
func New(boundary string, opts ...Option) *Context {
	c := &Context{
		boundary: boundary,
		state:    StateIdle,
		trace:    []State{StateIdle},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current kernel state.
func (c *Context) State() State { return c.state }

// Trace returns the observed state sequence so far, starting at Idle.
func (c *Context) Trace() []State {
	out := make([]State, len(c.trace))
	copy(out, c.trace)
	return out
}

// Boundary returns the crossing's boundary name.
func (c *Context) Boundary() string { return c.boundary }

// Claims returns the caller's claims, or nil.
func (c *Context) Claims() *claims.Claims { return c.claims }

// CallerCorrelationID returns the caller-supplied correlation
// candidate, unvalidated.
func (c *Context) CallerCorrelationID() string { return c.callerCorr }

// CorrelationID returns the resolved correlation id, empty before the
// trace gate has run.
func (c *Context) CorrelationID() string { return c.corrID }

// SetCorrelationID records the resolved correlation id.
func (c *Context) SetCorrelationID(id string) {
	c.corrID = id
	c.entry.CorrelationID = id
}

// TenantID returns the attributed tenant, empty before the trace gate.
func (c *Context) TenantID() string { return c.tenantID }

// SetTenantID records the attributed tenant.
func (c *Context) SetTenantID(id string) {
	c.tenantID = id
	c.entry.TenantID = id
}

// ComponentID returns the attached architecture component id.
func (c *Context) ComponentID() string { return c.componentID }

// ContractID returns the pinned interface contract id.
func (c *Context) ContractID() string { return c.contractID }

// Now returns the context's clock time.
func (c *Context) Now() time.Time { return c.clock() }

// Entry returns the draft audit entry gates annotate as they run.
func (c *Context) Entry() *wal.Entry { return &c.entry }

// RecordResult stores the operation's free-text result on the draft
// entry. The durability gate redacts it before the append.
func (c *Context) RecordResult(text string) {
	c.entry.Result = text
}

// SetOutput stores the body's output value for exit-phase gates.
func (c *Context) SetOutput(v any) { c.output = v }

// Output returns the body's recorded output value, or nil.
func (c *Context) Output() any { return c.output }

// MarkRecorded notes that the draft entry has been appended, so the
// fault path does not append it a second time.
func (c *Context) MarkRecorded() { c.recorded = true }

// Recorded reports whether the draft entry has been appended.
func (c *Context) Recorded() bool { return c.recorded }

// Open runs the entry phase: Idle -> Entering, the contract check,
// then every entry gate in list order. The first failure drives
// Entering -> Faulted -> Idle and returns the gate's original error.
// On success the state is Active and the protected body may run.
func (c *Context) Open(ctx context.Context) error {
	if err := c.transition(StateEntering); err != nil {
		return err
	}

	if c.contractReg != nil && c.contractID != "" {
		if _, err := c.contractReg.Get(c.contractID); err != nil {
			return c.fault(ctx, err)
		}
	}
	if c.components != nil && c.componentID != "" {
		if !c.components.HasComponent(c.componentID) {
			err := kernelerr.New(kernelerr.CodeInvariantViolation, "unknown architecture component").
				With("component_id", c.componentID)
			return c.fault(ctx, err)
		}
	}

	for _, g := range c.entryGates {
		err := g.Check(ctx, c)
		if c.observer != nil {
			c.observer.OnGateResult(c.boundary, g.Name(), err)
		}
		if err != nil {
			return c.fault(ctx, err)
		}
	}

	// All states from Entering are covered above, so this edge is legal.
	_ = c.transition(StateActive)
	return nil
}

// Close runs the exit phase. With a nil bodyErr: Active -> Exiting,
// exit gates in order, then Exiting -> Idle; an exit-gate failure
// drives Exiting -> Faulted -> Idle and returns that failure. With a
// non-nil bodyErr (including cancellation): Active -> Faulted -> Idle
// and bodyErr is returned unchanged.
func (c *Context) Close(ctx context.Context, bodyErr error) error {
	if err := ValidateTransition(c.state, StateExiting); err != nil {
		return err
	}
	if bodyErr != nil {
		return c.fault(ctx, bodyErr)
	}

	_ = c.transition(StateExiting)
	for _, g := range c.exitGates {
		err := g.Check(ctx, c)
		if c.observer != nil {
			c.observer.OnGateResult(c.boundary, g.Name(), err)
		}
		if err != nil {
			return c.fault(ctx, err)
		}
	}
	_ = c.transition(StateIdle)
	return nil
}

// Run executes body inside the crossing scope. The body context
// carries the resolved correlation id. Liveness holds on every path:
// gate failure, body error, exit failure, and panic all leave the
// context Idle; panics re-raise after the state machine settles.
func Run(ctx context.Context, c *Context, body func(ctx context.Context) error) error {
	if err := c.Open(ctx); err != nil {
		return err
	}

	bodyCtx := ctx
	if c.corrID != "" {
		bodyCtx = ContextWithCorrelation(ctx, c.corrID)
	}

	var bodyErr error
	panicked := true
	func() {
		defer func() {
			if !panicked {
				return
			}
			r := recover()
			_ = c.Close(ctx, fmt.Errorf("crossing body panic: %v", r))
			panic(r)
		}()
		bodyErr = body(bodyCtx)
		panicked = false
	}()

	return c.Close(ctx, bodyErr)
}

// transition moves the state machine along one edge, rejecting
// anything outside the eight legal transitions.
func (c *Context) transition(to State) error {
	if err := ValidateTransition(c.state, to); err != nil {
		return err
	}
	from := c.state
	c.state = to
	c.trace = append(c.trace, to)
	if c.observer != nil {
		c.observer.OnTransition(c.boundary, from, to)
	}
	return nil
}

// fault consumes a failure: the state machine moves through Faulted
// back to Idle, the attempt is recorded, and the original error is
// returned unchanged for the caller.
func (c *Context) fault(_ context.Context, cause error) error {
	// The state here is Entering, Active or Exiting, so both edges are legal.
	_ = c.transition(StateFaulted)
	c.recordAttempt(cause)
	_ = c.transition(StateIdle)
	return cause
}

// recordAttempt appends the finalized entry through the auditor, once
// per crossing. Audit of a failed crossing must survive cancellation,
// so the append runs on a detached context.
func (c *Context) recordAttempt(cause error) {
	if c.auditor == nil || c.recorded {
		return
	}
	e := c.FinalizeEntry(cause)
	if err := c.auditor.Record(context.Background(), e); err != nil {
		slog.Error("crossing: audit append failed",
			"boundary", c.boundary, "entry_id", e.EntryID, "error", err)
		return
	}
	c.recorded = true
}

// FinalizeEntry fills the structural fields the draft entry still
// needs and stamps the exit code for the given outcome. Fields a gate
// already populated are kept.
func (c *Context) FinalizeEntry(opErr error) *wal.Entry {
	e := &c.entry
	if e.EntryID == "" {
		e.EntryID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.clock().UTC()
	}
	e.Boundary = c.boundary
	if e.TenantID == "" {
		e.TenantID = "unattributed"
	}
	if e.CorrelationID == "" {
		if c.callerCorr != "" {
			e.CorrelationID = c.callerCorr
		} else {
			e.CorrelationID = uuid.New().String()
		}
	}
	if c.claims != nil {
		e.UserID = c.claims.Subject
		e.Roles = append([]string(nil), c.claims.Roles...)
	}
	if e.UserID == "" {
		e.UserID = "anonymous"
	}
	if e.Roles == nil {
		e.Roles = []string{}
	}
	if c.contractID != "" {
		e.OperationID = c.contractID
	}
	if c.componentID != "" {
		e.ComponentID = c.componentID
	}
	e.ExitCode = wal.ExitCodeFor(opErr)
	if opErr == nil {
		e.ErrorCode = ""
	} else if code, ok := kernelerr.CodeOf(opErr); ok {
		e.ErrorCode = string(code)
	} else {
		e.ErrorCode = string(kernelerr.CodeUnclassified)
	}
	return e
}

type corrKeyType struct{}

var corrKey corrKeyType

// ContextWithCorrelation stores a correlation id in the ambient
// context so nested crossings inherit it.
func ContextWithCorrelation(ctx context.Context, corrID string) context.Context {
	return context.WithValue(ctx, corrKey, corrID)
}

// CorrelationFromContext returns the ambient correlation id, if any.
func CorrelationFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(corrKey).(string)
	return id, ok && id != ""
}
