package state

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

func baseState(t *testing.T) *SwitchState {
	t.Helper()

	s := NewSwitchState(rib.Options{VerifyLookups: true})
	s.SetPort(Port{ID: 1, Name: "eth1", OperUp: true, VlanID: 10})
	s.SetVlan(Vlan{ID: 10, Name: "vlan10", Ports: []PortID{1}})
	s.SetInterface(Interface{
		ID:        1,
		VlanID:    10,
		MAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")},
	})
	require.NoError(t, ValidateDelta(NewDelta(NewSwitchState(rib.Options{}), s)))
	s.Publish()
	return s
}

func TestSwitchState_CopyOnWrite(t *testing.T) {
	s := baseState(t)
	require.Panics(t, func() { s.SetPort(Port{ID: 2}) })

	next := s.Clone()
	require.False(t, next.IsPublished())
	require.Equal(t, s.Version()+1, next.Version())
	require.Same(t, s.Ports(), next.Ports())

	next.SetPort(Port{ID: 1, Name: "eth1", OperUp: false, VlanID: 10})
	require.NotSame(t, s.Ports(), next.Ports())
	require.Same(t, s.Vlans(), next.Vlans())

	port, ok := s.Port(1)
	require.True(t, ok)
	require.True(t, port.OperUp)

	changes := NewDelta(s, next).Ports()
	require.Len(t, changes, 1)
	require.True(t, changes[0].Old.OperUp)
	require.False(t, changes[0].New.OperUp)
}

func TestDelta_AddRemove(t *testing.T) {
	s := baseState(t)
	next := s.Clone()
	next.SetPort(Port{ID: 2, Name: "eth2"})
	next.SetInterfaces(next.Interfaces().Without(1))

	delta := NewDelta(s, next)
	ports := delta.Ports()
	require.Len(t, ports, 1)
	require.True(t, ports[0].Added())
	require.Equal(t, PortID(2), ports[0].New.ID)

	intfs := delta.Interfaces()
	require.Len(t, intfs, 1)
	require.True(t, intfs[0].Removed())

	require.Empty(t, delta.Routes())
	require.True(t, NewDelta(s, s).Empty())
}

func TestDelta_Routes(t *testing.T) {
	s := baseState(t)

	next := s.Clone()
	b := next.ModifyRouteTable(0)
	table, prefix := b.TableFor(netip.MustParsePrefix("20.0.0.0/8"))
	table.Create(prefix).SetEntry(route.ClientStatic, route.NewActionEntry(route.ActionDrop, route.DistanceStatic))
	next.SetRouteTable(b.Build())

	b = next.ModifyRouteTable(7)
	next.SetRouteTable(b.Build())

	changes := NewDelta(s, next).Routes()
	// 20/8 in router 0 and both default routes of the new router 7.
	require.Len(t, changes, 3)
	require.Equal(t, route.RouterID(0), changes[0].RouterID)
	require.Nil(t, changes[0].Old)
	require.Equal(t, prefix, changes[0].New.Prefix())
	require.Equal(t, route.RouterID(7), changes[1].RouterID)
	require.Equal(t, route.RouterID(7), changes[2].RouterID)

	back := NewDelta(next, s).Routes()
	require.Len(t, back, 3)
	for _, c := range back {
		require.Nil(t, c.New)
	}
}

func TestValidateDelta(t *testing.T) {
	s := baseState(t)

	cases := []struct {
		name   string
		modify func(*SwitchState)
		valid  bool
	}{
		{
			name: "acl with qualifier",
			modify: func(s *SwitchState) {
				s.SetAcl(AclEntry{Name: "a", Dst: netip.MustParsePrefix("10.0.0.0/8")})
			},
			valid: true,
		},
		{
			name: "acl without qualifier",
			modify: func(s *SwitchState) {
				s.SetAcl(AclEntry{Name: "a", Action: AclPermit})
			},
		},
		{
			name: "interface with unknown vlan",
			modify: func(s *SwitchState) {
				s.SetInterface(Interface{ID: 2, VlanID: 42})
			},
		},
		{
			name: "vlan with unknown port",
			modify: func(s *SwitchState) {
				s.SetVlan(Vlan{ID: 20, Ports: []PortID{99}})
			},
		},
		{
			name: "route with empty nexthops",
			modify: func(s *SwitchState) {
				b := s.ModifyRouteTable(0)
				table, prefix := b.TableFor(netip.MustParsePrefix("20.0.0.0/8"))
				table.Create(prefix).SetEntry(route.ClientBGP, route.NewNextHopEntry(nil, route.DistanceEBGP))
				s.SetRouteTable(b.Build())
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			next := s.Clone()
			c.modify(next)

			err := ValidateDelta(NewDelta(s, next))
			if c.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}

func TestNodeMap_Nil(t *testing.T) {
	var m *NodeMap[PortID, Port]
	require.Zero(t, m.Len())
	_, ok := m.Get(1)
	require.False(t, ok)
	require.Nil(t, m.Keys(comparePorts))
	require.Same(t, m, m.Without(1))

	m2 := m.With(1, Port{ID: 1})
	require.Equal(t, 1, m2.Len())
	require.Equal(t, []Port{{ID: 1}}, m2.Values(comparePorts))
}

func TestInterfaceFor(t *testing.T) {
	s := baseState(t)

	intf, ok := s.InterfaceFor(0, netip.MustParseAddr("10.0.0.77"))
	require.True(t, ok)
	require.Equal(t, route.InterfaceID(1), intf.ID)

	_, ok = s.InterfaceFor(1, netip.MustParseAddr("10.0.0.77"))
	require.False(t, ok)
}
