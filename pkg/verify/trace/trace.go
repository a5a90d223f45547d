// Package trace checks recorded state walks against the crossing
// contract. It is the second dissimilar verification channel: the legal
// edge table below is written out from the contract as literal pairs, not
// imported from the orchestrator, so the two tables can disagree and
// expose each other. The package imports only the standard library.
package trace

import "fmt"

// Trace is one recorded walk of state names for a single crossing.
type Trace struct {
	ID     string   `json:"id"`
	States []string `json:"states"`
}

// Invariant names carried on violations.
const (
	InvariantStartsIdle = "trace-starts-idle"
	InvariantEndsIdle   = "trace-ends-idle"
	InvariantKnownState = "trace-known-state"
	InvariantLegalEdge  = "trace-legal-edge"
)

// Violation is one invariant breach found in a trace batch.
type Violation struct {
	Invariant string `json:"invariant"`
	TraceID   string `json:"trace_id"`
	Detail    string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: trace %q: %s", v.Invariant, v.TraceID, v.Detail)
}

// Error carries the first violation in strict mode.
type Error struct {
	Violation Violation
}

func (e *Error) Error() string {
	return "trace: " + e.Violation.String()
}

// legalNext lists the eight permitted transitions. Faulted is reachable
// from every working state and resolves only to Idle.
var legalNext = map[string]map[string]bool{
	"Idle":     {"Entering": true},
	"Entering": {"Active": true, "Faulted": true},
	"Active":   {"Exiting": true, "Faulted": true},
	"Exiting":  {"Idle": true, "Faulted": true},
	"Faulted":  {"Idle": true},
}

// Check audits every trace and returns all violations found. A trace must
// begin Idle, end Idle, contain only recognized state names, and walk only
// legal edges.
func Check(traces []Trace) []Violation {
	var out []Violation
	for _, tr := range traces {
		out = append(out, checkTrace(tr)...)
	}
	return out
}

// CheckStrict audits a batch and returns the first violation as an error.
func CheckStrict(traces []Trace) error {
	if violations := Check(traces); len(violations) > 0 {
		return &Error{Violation: violations[0]}
	}
	return nil
}

func checkTrace(tr Trace) []Violation {
	var out []Violation
	flag := func(invariant, detail string) {
		out = append(out, Violation{Invariant: invariant, TraceID: tr.ID, Detail: detail})
	}

	if len(tr.States) == 0 {
		flag(InvariantStartsIdle, "trace is empty")
		return out
	}
	if tr.States[0] != "Idle" {
		flag(InvariantStartsIdle, fmt.Sprintf("trace begins in %q", tr.States[0]))
	}
	if last := tr.States[len(tr.States)-1]; last != "Idle" {
		flag(InvariantEndsIdle, fmt.Sprintf("trace ends in %q", last))
	}

	for i, s := range tr.States {
		if _, known := legalNext[s]; !known {
			flag(InvariantKnownState, fmt.Sprintf("position %d holds unrecognized state %q", i, s))
		}
	}
	for i := 0; i+1 < len(tr.States); i++ {
		from, to := tr.States[i], tr.States[i+1]
		if !legalNext[from][to] {
			flag(InvariantLegalEdge, fmt.Sprintf("position %d walks illegal edge %s -> %s", i, from, to))
		}
	}
	return out
}
