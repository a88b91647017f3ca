// Package lifecycle governs entity retention: a strict state machine,
// guarded deletion, an append-only transition audit trail, and the
// background sweep that feeds eligible entities to the secure wiper.
package lifecycle

import (
	"fmt"
	"strings"
)

// State is an entity's retention-governance status.
type State string

// Lifecycle states. DELETED is terminal.
const (
	StateCreated           State = "CREATED"
	StateActive            State = "ACTIVE"
	StateCompleted         State = "COMPLETED"
	StateBackedUp          State = "BACKED_UP"
	StateMarkedForDeletion State = "MARKED_FOR_DELETION"
	StateDeleted           State = "DELETED"
)

// transitions is the full table of permitted state changes. Anything not
// listed fails with InvalidTransitionError.
var transitions = map[State][]State{
	StateCreated:           {StateActive},
	StateActive:            {StateCompleted},
	StateCompleted:         {StateBackedUp, StateMarkedForDeletion},
	StateBackedUp:          {StateMarkedForDeletion},
	StateMarkedForDeletion: {StateDeleted},
	StateDeleted:           {},
}

// ValidTargets returns the permitted next states from s.
func ValidTargets(s State) []State {
	return transitions[s]
}

// canTransition reports whether from -> to is in the table.
func canTransition(from, to State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a state change outside the table, naming
// the currently valid targets.
type InvalidTransitionError struct {
	From  State
	To    State
	Valid []State
}

func (e *InvalidTransitionError) Error() string {
	targets := make([]string, len(e.Valid))
	for i, t := range e.Valid {
		targets[i] = string(t)
	}
	return fmt.Sprintf("invalid transition %s -> %s (valid targets: %s)",
		e.From, e.To, strings.Join(targets, ", "))
}

// GuardsFailedError reports which deletion guards refused a transition to
// MARKED_FOR_DELETION.
type GuardsFailedError struct {
	Report GuardReport
}

func (e *GuardsFailedError) Error() string {
	return fmt.Sprintf("deletion guards failed: %s", strings.Join(e.Report.Failed(), ", "))
}
