package neighbor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/yanet-platform/switchagent/controlplane/internal/pipeline"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// StateUpdater applies update functions to the switch state.
type StateUpdater interface {
	UpdateState(name string, fn pipeline.UpdateFn)
	UpdateStateBlocking(ctx context.Context, name string, fn pipeline.UpdateFn, transactional bool) (*state.SwitchState, error)
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
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

type request struct {
	port state.PortID
	// done is set for barrier requests only.
	done chan struct{}
}

// Updater maintains ARP and NDP tables of VLANs.
//
// Learned entries are stored through the state pipeline. Entries of a port
// going down are purged from a background goroutine.
type Updater struct {
	log     *zap.SugaredLogger
	updater StateUpdater

	mu      sync.Mutex
	pending []request
	wake    chan struct{}
}

// NewUpdater creates a new neighbor Updater.
func NewUpdater(updater StateUpdater, options ...UpdaterOption) *Updater {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Updater{
		log:     opts.Log,
		updater: updater,
		wake:    make(chan struct{}, 1),
	}
}

// ReceivedArp records an ARP reply received on the VLAN.
func (m *Updater) ReceivedArp(vlan state.VlanID, ip netip.Addr, mac net.HardwareAddr, port state.PortID) {
	m.received(vlan, ip.Unmap(), mac, port)
}

// ReceivedNdp records an NDP neighbor advertisement received on the VLAN.
func (m *Updater) ReceivedNdp(vlan state.VlanID, ip netip.Addr, mac net.HardwareAddr, port state.PortID) {
	m.received(vlan, ip, mac, port)
}

func (m *Updater) received(vlanID state.VlanID, ip netip.Addr, mac net.HardwareAddr, port state.PortID) {
	name := fmt.Sprintf("learn neighbor %s on vlan %d", ip, vlanID)
	m.updater.UpdateState(name, func(s *state.SwitchState) (*state.SwitchState, error) {
		return Learn(s, vlanID, ip, mac, port)
	})
}

// Learn returns the state with the neighbor entry stored in the VLAN
// table, or the original state if the entry is already there.
func Learn(s *state.SwitchState, vlanID state.VlanID, ip netip.Addr, mac net.HardwareAddr, port state.PortID) (*state.SwitchState, error) {
	vlan, ok := s.Vlan(vlanID)
	if !ok {
		return nil, fmt.Errorf("%w: neighbor %s on unknown vlan %d", state.ErrValidation, ip, vlanID)
	}

	entry := state.NeighborEntry{
		IP:    ip,
		MAC:   mac,
		Port:  port,
		State: state.NeighborReachable,
	}
	for _, intf := range s.InterfaceList() {
		if intf.VlanID == vlanID {
			entry.Interface = intf.ID
			break
		}
	}

	table := vlan.NeighborTable(ip)
	if prev, ok := table.Get(ip); ok && prev.Equal(entry) {
		return s, nil
	}

	next := s.Clone()
	next.SetVlan(vlan.WithNeighborTable(route.FamilyOf(ip), table.With(ip, entry)))
	return next, nil
}

// Purge returns the state without neighbors learned on the port.
func Purge(s *state.SwitchState, port state.PortID) *state.SwitchState {
	next := s
	for _, vlan := range s.VlanList() {
		changed := false
		for _, family := range route.Families {
			table := vlan.Arp
			if family == route.FamilyV6 {
				table = vlan.Ndp
			}

			purged := table
			for ip, entry := range table.All() {
				if entry.Port == port {
					purged = purged.Without(ip)
				}
			}
			if purged != table {
				vlan = vlan.WithNeighborTable(family, purged)
				changed = true
			}
		}

		if changed {
			if next == s {
				next = s.Clone()
			}
			next.SetVlan(vlan)
		}
	}
	return next
}

// StateUpdated schedules neighbor purge for ports that went down.
func (m *Updater) StateUpdated(delta state.Delta) {
	for _, change := range delta.Ports() {
		if change.Old == nil || change.New == nil {
			continue
		}
		if change.Old.OperUp && !change.New.OperUp {
			m.log.Infow("port went down, scheduling neighbor purge", zap.Uint32("port", uint32(change.New.ID)))
			m.enqueue(request{port: change.New.ID})
		}
	}
}

func (m *Updater) enqueue(req request) {
	m.mu.Lock()
	m.pending = append(m.pending, req)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// WaitForPending blocks until every purge scheduled before the call is
// applied.
func (m *Updater) WaitForPending(ctx context.Context) error {
	done := make(chan struct{})
	m.enqueue(request{done: done})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run purges neighbors of ports that went down until the context is
// canceled.
func (m *Updater) Run(ctx context.Context) error {
	for {
		select {
		case <-m.wake:
		case <-ctx.Done():
			return ctx.Err()
		}

		m.mu.Lock()
		pending := m.pending
		m.pending = nil
		m.mu.Unlock()

		for _, req := range pending {
			if req.done != nil {
				close(req.done)
				continue
			}

			port := req.port
			name := fmt.Sprintf("purge neighbors of port %d", port)
			_, err := m.updater.UpdateStateBlocking(ctx, name, func(s *state.SwitchState) (*state.SwitchState, error) {
				return Purge(s, port), nil
			}, false)
			if err != nil {
				m.log.Warnw("failed to purge neighbors", zap.Uint32("port", uint32(port)), zap.Error(err))
			}
		}
	}
}
