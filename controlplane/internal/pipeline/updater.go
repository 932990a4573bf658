package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yanet-platform/switchagent/controlplane/internal/hw"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// UpdateFn derives the next state from the current one.
//
// The current state is published and must not be modified: return a
// modified clone instead. Returning the current state (or nil) means
// nothing changed.
type UpdateFn func(current *state.SwitchState) (*state.SwitchState, error)

// Behavior controls whether an update may be coalesced with its
// neighbours in the queue.
type Behavior uint8

const (
	// Coalescing updates may be applied to the hardware as a single delta
	// together with adjacent coalescing updates.
	Coalescing Behavior = iota
	// NonCoalescing updates are always delivered to the hardware and to
	// observers as a delta of their own.
	NonCoalescing
)

// Observer is notified about every delta delivered to the hardware.
//
// Observers run on the update goroutine and must not block.
type Observer interface {
	StateUpdated(delta state.Delta)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(delta state.Delta)

func (m ObserverFunc) StateUpdated(delta state.Delta) {
	m(delta)
}

type update struct {
	name          string
	fn            UpdateFn
	behavior      Behavior
	transactional bool
	// done receives the result of blocking updates.
	done chan result
}

type result struct {
	state *state.SwitchState
	err   error
}

func (m *update) finish(s *state.SwitchState, err error) {
	if m.done != nil {
		m.done <- result{state: s, err: err}
	}
}

type options struct {
	Log        *zap.SugaredLogger
	Registerer prometheus.Registerer
}

func newOptions() *options {
	return &options{
		Log:        zap.NewNop().Sugar(),
		Registerer: prometheus.NewRegistry(),
	}
}

// UpdaterOption configures the Updater.
type UpdaterOption func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) UpdaterOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithRegisterer sets the registerer of pipeline metrics.
func WithRegisterer(reg prometheus.Registerer) UpdaterOption {
	return func(o *options) {
		o.Registerer = reg
	}
}

// Updater serializes state updates onto a single goroutine and programs
// resulting states into the hardware.
//
// Published states are immutable and may be read concurrently through
// State without any locking.
type Updater struct {
	log     *zap.SugaredLogger
	hw      hw.Switch
	metrics *Metrics

	mu      sync.Mutex
	queue   []*update
	stopped bool
	wake    chan struct{}

	current atomic.Pointer[state.SwitchState]
	desync  atomic.Bool

	observersMu sync.RWMutex
	observers   []Observer
}

// NewUpdater creates an updater starting from the given state.
//
// The initial state is programmed into the hardware when Run starts.
func NewUpdater(initial *state.SwitchState, sw hw.Switch, options ...UpdaterOption) *Updater {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	initial.Publish()

	m := &Updater{
		log:     opts.Log,
		hw:      sw,
		metrics: NewMetrics(opts.Registerer),
		wake:    make(chan struct{}, 1),
	}
	m.current.Store(initial)
	return m
}

// Metrics returns the pipeline metrics.
func (m *Updater) Metrics() *Metrics {
	return m.metrics
}

// State returns the current published state.
func (m *Updater) State() *state.SwitchState {
	return m.current.Load()
}

// AppliedAndDesiredStatesMatch reports whether the last hardware update
// was applied entirely.
func (m *Updater) AppliedAndDesiredStatesMatch() bool {
	return !m.desync.Load()
}

// RegisterObserver adds an observer of delivered deltas.
func (m *Updater) RegisterObserver(observer Observer) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()

	m.observers = append(m.observers, observer)
}

// UpdateState enqueues a coalescing update and returns immediately.
func (m *Updater) UpdateState(name string, fn UpdateFn) {
	m.enqueue(&update{name: name, fn: fn, behavior: Coalescing})
}

// UpdateStateNoCoalescing enqueues an update whose resulting state is
// delivered to the hardware on its own, and returns immediately.
func (m *Updater) UpdateStateNoCoalescing(name string, fn UpdateFn) {
	m.enqueue(&update{name: name, fn: fn, behavior: NonCoalescing})
}

// UpdateStateBlocking enqueues an update and waits until it is applied.
//
// Transactional updates are programmed into the hardware all-or-nothing.
// Cancelling the context stops waiting only: an accepted update always
// runs.
func (m *Updater) UpdateStateBlocking(
	ctx context.Context,
	name string,
	fn UpdateFn,
	transactional bool,
) (*state.SwitchState, error) {
	u := &update{
		name:          name,
		fn:            fn,
		behavior:      Coalescing,
		transactional: transactional,
		done:          make(chan result, 1),
	}
	if !m.enqueue(u) {
		return nil, ErrStopped
	}

	select {
	case res := <-u.done:
		return res.state, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForUpdates blocks until every update enqueued before the call is
// processed.
func (m *Updater) WaitForUpdates(ctx context.Context) error {
	_, err := m.UpdateStateBlocking(ctx, "wait for updates", func(s *state.SwitchState) (*state.SwitchState, error) {
		return s, nil
	}, false)
	return err
}

func (m *Updater) enqueue(u *update) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.log.Warnw("dropping state update of stopped updater", zap.String("name", u.name))
		return false
	}
	m.queue = append(m.queue, u)
	m.mu.Unlock()

	m.notify()
	return true
}

func (m *Updater) requeue(u *update) {
	m.mu.Lock()
	if !m.stopped {
		m.queue = append([]*update{u}, m.queue...)
	}
	m.mu.Unlock()

	m.notify()
}

func (m *Updater) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run programs the initial state and processes updates until the context
// is canceled. Pending updates then fail with ErrStopped.
func (m *Updater) Run(ctx context.Context) error {
	defer m.stop()

	initial := m.State()
	m.program("initial state", state.NewDelta(state.NewEmptySwitchState(initial.RibOptions()), initial), false)

	m.log.Infow("started state updater", zap.Uint64("version", initial.Version()))
	for {
		batch := m.dequeue()
		if len(batch) == 0 {
			select {
			case <-m.wake:
				continue
			case <-ctx.Done():
				m.log.Infow("stopped state updater", zap.Uint64("version", m.State().Version()))
				return ctx.Err()
			}
		}

		m.process(batch)
	}
}

func (m *Updater) stop() {
	m.mu.Lock()
	m.stopped = true
	queue := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, u := range queue {
		u.finish(nil, ErrStopped)
	}
}

// dequeue takes the next batch: either a single transactional or
// non-coalescing update, or a run of coalescing ones.
func (m *Updater) dequeue() []*update {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil
	}

	n := 1
	if first := m.queue[0]; first.behavior == Coalescing && !first.transactional {
		for n < len(m.queue) {
			u := m.queue[n]
			if u.behavior != Coalescing || u.transactional {
				break
			}
			n++
		}
	}

	batch := make([]*update, n)
	copy(batch, m.queue[:n])
	m.queue = m.queue[n:]
	return batch
}

func (m *Updater) process(batch []*update) {
	m.metrics.BatchSize.Observe(float64(len(batch)))

	old := m.State()
	curr := old
	errs := make([]error, len(batch))
	for idx, u := range batch {
		next, err := m.apply(u, curr)
		if err != nil {
			errs[idx] = err
			continue
		}
		curr = next
	}

	if curr == old {
		for idx, u := range batch {
			if errs[idx] == nil {
				m.metrics.StateUpdates.WithLabelValues(resultUnchanged).Inc()
			}
			u.finish(old, errs[idx])
		}
		return
	}

	first := batch[0]
	name := first.name
	if len(batch) > 1 {
		name = fmt.Sprintf("%s and %d more", first.name, len(batch)-1)
	}

	hwErr := m.program(name, state.NewDelta(old, curr), first.transactional)
	if hwErr != nil && first.transactional {
		m.log.Warnw("requeueing failed transaction as a regular update", zap.String("name", first.name))
		m.requeue(&update{
			name:     first.name,
			fn:       first.fn,
			behavior: Coalescing,
		})
	}

	published := m.State()
	for idx, u := range batch {
		switch {
		case errs[idx] != nil:
			u.finish(old, errs[idx])
		case hwErr != nil:
			m.metrics.StateUpdates.WithLabelValues(resultHwFailed).Inc()
			u.finish(published, hwErr)
		default:
			m.metrics.StateUpdates.WithLabelValues(resultApplied).Inc()
			u.finish(published, nil)
		}
	}
}

// apply runs a single update function and validates its result.
func (m *Updater) apply(u *update, curr *state.SwitchState) (next *state.SwitchState, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.StateUpdates.WithLabelValues(resultFailed).Inc()
			next, err = nil, fmt.Errorf("state update %q panicked: %v", u.name, r)
		}
	}()

	next, err = u.fn(curr)
	if err != nil {
		if errors.Is(err, state.ErrValidation) {
			m.metrics.ValidationFailures.Inc()
			m.metrics.StateUpdates.WithLabelValues(resultInvalid).Inc()
		} else {
			m.metrics.StateUpdates.WithLabelValues(resultFailed).Inc()
		}
		if u.done == nil {
			m.log.Warnw("state update failed", zap.String("name", u.name), zap.Error(err))
		}
		return nil, fmt.Errorf("state update %q: %w", u.name, err)
	}
	if next == nil || next == curr {
		return curr, nil
	}

	delta := state.NewDelta(curr, next)
	err = state.ValidateDelta(delta)
	if err == nil && !m.hw.IsValidStateUpdate(delta) {
		err = fmt.Errorf("%w: rejected by hardware", state.ErrValidation)
	}
	if err != nil {
		m.metrics.ValidationFailures.Inc()
		m.metrics.StateUpdates.WithLabelValues(resultInvalid).Inc()
		m.log.Warnw("rejected invalid state update", zap.String("name", u.name), zap.Error(err))
		return nil, fmt.Errorf("state update %q: %w", u.name, err)
	}

	next.Publish()
	return next, nil
}

// program hands the delta to the hardware, publishes the state it
// reports and notifies observers.
func (m *Updater) program(name string, delta state.Delta, transactional bool) error {
	var res hw.Result
	if transactional {
		res = m.hw.StateChangedTransaction(delta)
	} else {
		res = m.hw.StateChanged(delta)
	}

	applied := res.State
	applied.Publish()
	m.current.Store(applied)

	var err error
	if res.Outcome == hw.Applied {
		if m.desync.Swap(false) {
			m.log.Infow("hardware is in sync again", zap.Uint64("version", applied.Version()))
		}
		m.metrics.HwOutOfSync.Set(0)
		m.log.Debugw("applied state update",
			zap.String("name", name),
			zap.Uint64("version", applied.Version()),
			zap.Bool("transactional", transactional),
		)
	} else {
		m.desync.Store(true)
		m.metrics.HwOutOfSync.Set(1)
		m.metrics.HwUpdateFailures.Inc()
		err = &HwUpdateError{
			Name:    name,
			Outcome: res.Outcome,
			Desired: delta.New,
			Applied: applied,
		}
		m.log.Errorw("hardware did not apply the state update",
			zap.String("name", name),
			zap.Stringer("outcome", res.Outcome),
			zap.Uint64("desired_version", delta.New.Version()),
			zap.Uint64("applied_version", applied.Version()),
		)
	}

	if applied != delta.Old {
		m.notifyObservers(state.NewDelta(delta.Old, applied))
	}
	return err
}

func (m *Updater) notifyObservers(delta state.Delta) {
	m.observersMu.RLock()
	observers := m.observers
	m.observersMu.RUnlock()

	for _, o := range observers {
		o.StateUpdated(delta)
	}
}
