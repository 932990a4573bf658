package neighbor

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/switchagent/controlplane/internal/hw/hwtest"
	"github.com/yanet-platform/switchagent/controlplane/internal/pipeline"
	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var mac = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x42}

func initialState() *state.SwitchState {
	s := state.NewSwitchState(rib.Options{})
	s.SetPort(state.Port{ID: 1, Name: "eth1", OperUp: true, VlanID: 1})
	s.SetPort(state.Port{ID: 2, Name: "eth2", OperUp: true, VlanID: 1})
	s.SetVlan(state.Vlan{ID: 1, Ports: []state.PortID{1, 2}})
	s.SetInterface(state.Interface{
		ID:        7,
		VlanID:    1,
		Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")},
	})
	return s
}

func setPort(id state.PortID, up bool) pipeline.UpdateFn {
	return func(s *state.SwitchState) (*state.SwitchState, error) {
		port, _ := s.Port(id)
		port.OperUp = up
		next := s.Clone()
		next.SetPort(port)
		return next, nil
	}
}

type harness struct {
	updater   *pipeline.Updater
	neighbors *Updater
	mock      *hwtest.Mock
}

func newHarness(t *testing.T, initial *state.SwitchState) *harness {
	mock := hwtest.NewMock()
	updater := pipeline.NewUpdater(initial, mock)
	neighbors := NewUpdater(updater)
	updater.RegisterObserver(neighbors)

	return &harness{
		updater:   updater,
		neighbors: neighbors,
		mock:      mock,
	}
}

func (m *harness) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.updater.Run(ctx)
	})
	wg.Go(func() error {
		return m.neighbors.Run(ctx)
	})

	t.Cleanup(func() {
		cancel()
		require.ErrorIs(t, wg.Wait(), context.Canceled)
	})
}

func (m *harness) sync(t *testing.T) *state.SwitchState {
	ctx := context.Background()
	require.NoError(t, m.updater.WaitForUpdates(ctx))
	require.NoError(t, m.neighbors.WaitForPending(ctx))
	require.NoError(t, m.updater.WaitForUpdates(ctx))
	return m.updater.State()
}

func arp(t *testing.T, s *state.SwitchState) *state.NeighborTable {
	vlan, ok := s.Vlan(1)
	require.True(t, ok)
	return vlan.Arp
}

func ndp(t *testing.T, s *state.SwitchState) *state.NeighborTable {
	vlan, ok := s.Vlan(1)
	require.True(t, ok)
	return vlan.Ndp
}

func TestLearn(t *testing.T) {
	s := initialState()
	s.Publish()

	s1, err := Learn(s, 1, netip.MustParseAddr("10.0.0.2"), mac, 1)
	require.NoError(t, err)
	s1.Publish()

	entry, ok := arp(t, s1).Get(netip.MustParseAddr("10.0.0.2"))
	require.True(t, ok)
	require.Equal(t, state.PortID(1), entry.Port)
	require.Equal(t, uint32(7), uint32(entry.Interface))
	require.Zero(t, arp(t, s).Len())

	s2, err := Learn(s1, 1, netip.MustParseAddr("10.0.0.2"), mac, 1)
	require.NoError(t, err)
	require.Same(t, s1, s2)

	_, err = Learn(s1, 9, netip.MustParseAddr("10.0.0.2"), mac, 1)
	require.ErrorIs(t, err, state.ErrValidation)

	require.Same(t, s1, Purge(s1, 2))
	s3 := Purge(s1, 1)
	require.Zero(t, arp(t, s3).Len())
}

func TestPortFlapPurgesNeighbors(t *testing.T) {
	h := newHarness(t, initialState())
	h.start(t)

	h.neighbors.ReceivedArp(1, netip.MustParseAddr("10.0.0.2"), mac, 1)
	h.neighbors.ReceivedArp(1, netip.MustParseAddr("10.0.0.3"), mac, 2)
	h.neighbors.ReceivedNdp(1, netip.MustParseAddr("fe80::2"), mac, 1)
	s := h.sync(t)
	require.Equal(t, 2, arp(t, s).Len())
	require.Equal(t, 1, ndp(t, s).Len())

	// Every state of the flap reaches observers.
	h.updater.UpdateStateNoCoalescing("port 1 down", setPort(1, false))
	h.updater.UpdateStateNoCoalescing("port 1 up", setPort(1, true))
	s = h.sync(t)

	port, _ := s.Port(1)
	require.True(t, port.OperUp)
	require.Equal(t, 1, arp(t, s).Len())
	_, ok := arp(t, s).Get(netip.MustParseAddr("10.0.0.3"))
	require.True(t, ok)
	require.Zero(t, ndp(t, s).Len())
}

func TestCoalescedFlapKeepsNeighbors(t *testing.T) {
	initial := initialState()
	initial.Publish()
	learned, err := Learn(initial, 1, netip.MustParseAddr("10.0.0.2"), mac, 1)
	require.NoError(t, err)

	h := newHarness(t, learned)
	// Queued before the updater starts, so both are applied as one delta.
	h.updater.UpdateState("port 1 down", setPort(1, false))
	h.updater.UpdateState("port 1 up", setPort(1, true))
	h.start(t)

	s := h.sync(t)
	require.Equal(t, 1, arp(t, s).Len())
}
