// Package hwtest provides a scriptable hardware switch for tests.
package hwtest

import (
	"sync"

	"github.com/yanet-platform/switchagent/controlplane/internal/hw"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// Call is a recorded hardware update.
type Call struct {
	Delta         state.Delta
	Transactional bool
}

// Mock accepts every update unless scripted otherwise.
type Mock struct {
	mu sync.Mutex

	// StateChangedFn, when set, decides the result of non-transactional
	// updates.
	StateChangedFn func(delta state.Delta) hw.Result
	// TransactionFn, when set, decides the result of transactional updates.
	TransactionFn func(delta state.Delta) hw.Result
	// ValidFn, when set, decides whether an update is valid.
	ValidFn func(delta state.Delta) bool

	calls []Call
}

// NewMock creates a mock accepting everything.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) StateChanged(delta state.Delta) hw.Result {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Delta: delta})
	fn := m.StateChangedFn
	m.mu.Unlock()

	if fn != nil {
		return fn(delta)
	}
	return hw.Classify(delta, delta.New)
}

func (m *Mock) StateChangedTransaction(delta state.Delta) hw.Result {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Delta: delta, Transactional: true})
	fn := m.TransactionFn
	m.mu.Unlock()

	if fn != nil {
		return fn(delta)
	}
	return hw.Classify(delta, delta.New)
}

func (m *Mock) IsValidStateUpdate(delta state.Delta) bool {
	m.mu.Lock()
	fn := m.ValidFn
	m.mu.Unlock()

	if fn != nil {
		return fn(delta)
	}
	return true
}

// SetStateChanged replaces the non-transactional handler.
func (m *Mock) SetStateChanged(fn func(delta state.Delta) hw.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StateChangedFn = fn
}

// SetTransaction replaces the transactional handler.
func (m *Mock) SetTransaction(fn func(delta state.Delta) hw.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TransactionFn = fn
}

// SetValid replaces the validation handler.
func (m *Mock) SetValid(fn func(delta state.Delta) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidFn = fn
}

// Calls returns the recorded updates.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset forgets the recorded updates.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Reject returns a result reporting that nothing was applied.
func Reject(delta state.Delta) hw.Result {
	return hw.Classify(delta, delta.Old)
}
