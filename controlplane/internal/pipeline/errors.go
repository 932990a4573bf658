package pipeline

import (
	"errors"
	"fmt"

	"github.com/yanet-platform/switchagent/controlplane/internal/hw"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// ErrStopped is returned for updates that could not run because the
// updater has stopped.
var ErrStopped = errors.New("state updater is stopped")

// HwUpdateError is returned when the hardware did not apply the desired
// state entirely.
type HwUpdateError struct {
	// Name is the diagnostic name of the update.
	Name    string
	Outcome hw.Outcome
	// Desired is the state the update produced.
	Desired *state.SwitchState
	// Applied is the state the hardware reported and which became the
	// published one.
	Applied *state.SwitchState
}

func (m *HwUpdateError) Error() string {
	return fmt.Sprintf("hardware update %q %s: desired version %d, applied version %d",
		m.Name, m.Outcome, m.Desired.Version(), m.Applied.Version())
}
