package hw

import (
	"fmt"

	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// Outcome is the result class of a hardware update.
type Outcome uint8

const (
	// Applied means the target state was programmed entirely.
	Applied Outcome = iota
	// Partial means only a part of the delta was programmed.
	Partial
	// Rejected means nothing was programmed.
	Rejected
)

func (m Outcome) String() string {
	switch m {
	case Applied:
		return "applied"
	case Partial:
		return "partial"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(m))
	}
}

// Result is the state the hardware actually has after an update.
type Result struct {
	Outcome Outcome
	State   *state.SwitchState
}

// Classify builds the result of programming the delta given the state
// the hardware ended up with.
func Classify(delta state.Delta, applied *state.SwitchState) Result {
	switch applied {
	case delta.New:
		return Result{Outcome: Applied, State: applied}
	case delta.Old:
		return Result{Outcome: Rejected, State: applied}
	default:
		return Result{Outcome: Partial, State: applied}
	}
}

// Switch programs switch state deltas into the hardware.
//
// All methods are called from the single state update goroutine.
type Switch interface {
	// StateChanged programs the delta as much as possible.
	StateChanged(delta state.Delta) Result
	// StateChangedTransaction programs the delta entirely or not at all.
	StateChangedTransaction(delta state.Delta) Result
	// IsValidStateUpdate reports whether the hardware can represent the
	// target state of the delta at all.
	IsValidStateUpdate(delta state.Delta) bool
}
