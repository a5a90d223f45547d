// Package crossing implements the boundary-crossing orchestrator: a
// five-state machine with a liveness guarantee (every crossing ends
// Idle), an ordered list of enforcement gates, and scope-guard entry
// and exit semantics. Gate failures propagate to the caller unchanged;
// the orchestrator only ensures the state machine is back at Idle
// before the error surfaces.
package crossing

import (
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// State is one of the five kernel states of a crossing.
type State string

const (
	StateIdle     State = "Idle"
	StateEntering State = "Entering"
	StateActive   State = "Active"
	StateExiting  State = "Exiting"
	StateFaulted  State = "Faulted"
)

// transitions is the complete edge set of the state machine. Exactly
// eight edges are legal; everything else is an invariant violation.
var transitions = map[State][]State{
	StateIdle:     {StateEntering},
	StateEntering: {StateActive, StateFaulted},
	StateActive:   {StateExiting, StateFaulted},
	StateExiting:  {StateIdle, StateFaulted},
	StateFaulted:  {StateIdle},
}

// ValidateTransition checks whether from -> to is a legal edge. It is
// pure: it never mutates the transition table, and identical inputs
// always produce identical results.
func ValidateTransition(from, to State) error {
	allowed, ok := transitions[from]
	if !ok {
		return &kernelerr.TransitionError{
			From: string(from), To: string(to), Allowed: nil,
		}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &kernelerr.TransitionError{
		From: string(from), To: string(to), Allowed: stateNames(allowed),
	}
}

// SuccessorsOf returns a copy of the legal successor states of s.
func SuccessorsOf(s State) []State {
	allowed := transitions[s]
	out := make([]State, len(allowed))
	copy(out, allowed)
	return out
}

func stateNames(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
