package routeupdate

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/switchagent/controlplane/internal/pipeline"
	"github.com/yanet-platform/switchagent/controlplane/internal/resolver"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// StateUpdater applies update functions to the switch state.
type StateUpdater interface {
	UpdateStateBlocking(ctx context.Context, name string, fn pipeline.UpdateFn, transactional bool) (*state.SwitchState, error)
}

type options struct {
	Log           *zap.SugaredLogger
	Resolver      *resolver.Resolver
	Transactional bool
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// WrapperOption configures the Wrapper.
type WrapperOption func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) WrapperOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithResolver sets the resolver used by batches.
func WithResolver(r *resolver.Resolver) WrapperOption {
	return func(o *options) {
		o.Resolver = r
	}
}

// WithTransaction makes Program apply batches to the hardware
// all-or-nothing.
func WithTransaction() WrapperOption {
	return func(o *options) {
		o.Transactional = true
	}
}

// Wrapper accumulates route modifications of a client and programs them
// as a single state update.
//
// It is not safe for concurrent use.
type Wrapper struct {
	log           *zap.SugaredLogger
	updater       StateUpdater
	resolver      *resolver.Resolver
	transactional bool
	batch         *Batch
}

// NewWrapper creates a new Wrapper.
func NewWrapper(updater StateUpdater, options ...WrapperOption) *Wrapper {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.NewResolver(resolver.WithLog(opts.Log))
	}

	return &Wrapper{
		log:           opts.Log,
		updater:       updater,
		resolver:      opts.Resolver,
		transactional: opts.Transactional,
		batch:         NewBatch(opts.Resolver),
	}
}

// AddRoute queues addition of the client entry.
func (m *Wrapper) AddRoute(rid route.RouterID, prefix netip.Prefix, client route.ClientID, entry route.NextHopEntry) {
	m.batch.AddRoute(rid, prefix, client, entry)
}

// DelRoute queues removal of the client entry.
func (m *Wrapper) DelRoute(rid route.RouterID, prefix netip.Prefix, client route.ClientID) {
	m.batch.DelRoute(rid, prefix, client)
}

// SyncFib queues replacement of all client routes in the router.
func (m *Wrapper) SyncFib(rid route.RouterID, client route.ClientID, entries []Entry) {
	m.batch.SyncRoutes(rid, client, entries)
}

// Program submits the queued modifications and waits until they are
// applied. The wrapper is empty afterwards regardless of the result.
func (m *Wrapper) Program(ctx context.Context) (*state.SwitchState, error) {
	batch := m.batch
	m.batch = NewBatch(m.resolver)

	name := fmt.Sprintf("route update (%d ops)", batch.Len())
	s, err := m.updater.UpdateStateBlocking(ctx, name, batch.Apply, m.transactional)
	if err != nil {
		return nil, fmt.Errorf("failed to program routes: %w", err)
	}

	m.log.Debugw("programmed routes",
		zap.Int("ops", batch.Len()),
		zap.Uint64("version", s.Version()),
	)
	return s, nil
}
