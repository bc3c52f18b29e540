// Package appointment implements the Appointment Aggregate: an explicit
// state machine with domain invariants enforced at every mutation, plus
// the ValidationResult shape the Validation Engine hands back to it.
package appointment

// State is one of the appointment lifecycle's named states.
type State string

const (
	StateDraft                 State = "Draft"
	StateProposed               State = "Proposed"
	StateAwaitingOperator       State = "AwaitingOperator"
	StateConfirmed              State = "Confirmed"
	StateConfirmedWithOverride  State = "ConfirmedWithOverride"
	StateRejected               State = "Rejected"
	StateCompleted              State = "Completed"
	StateCancelled              State = "Cancelled"
)

// transitions enumerates every allowed (from, to) pair in the state
// machine. Any pair not present here is rejected with InvalidTransition.
var transitions = map[State]map[State]bool{
	StateDraft: {
		StateProposed:  true,
		StateCancelled: true,
	},
	StateProposed: {
		StateAwaitingOperator: true,
		StateDraft:            true,
		StateCancelled:        true,
	},
	StateAwaitingOperator: {
		StateConfirmed:             true,
		StateConfirmedWithOverride: true,
		StateRejected:              true,
	},
	StateConfirmed: {
		StateCompleted: true,
		StateCancelled: true,
	},
	StateConfirmedWithOverride: {
		StateCompleted: true,
		StateCancelled: true,
	},
}

func canTransition(from, to State) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// isConfirmedFamily reports whether a state counts as "confirmed" for the
// purposes of operator-conflict overlap detection.
func isConfirmedFamily(s State) bool {
	return s == StateConfirmed || s == StateConfirmedWithOverride
}
