package resolver

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

var (
	intf1Addr = netip.MustParseAddr("1.1.1.1")
	intf2Addr = netip.MustParseAddr("2.2.2.2")
)

type tableSetup struct {
	t *testing.T
	b *rib.RouteTableBuilder
}

func newSetup(t *testing.T) *tableSetup {
	rt := rib.NewRouteTable(0, rib.Options{VerifyLookups: true})
	s := &tableSetup{t: t, b: rt.Modify()}
	s.connected("1.1.1.0/24", intf1Addr, 1)
	s.connected("2.2.2.0/24", intf2Addr, 2)
	return s
}

func (m *tableSetup) connected(prefix string, addr netip.Addr, intf route.InterfaceID) {
	m.set(prefix, route.ClientInterfaceRoute, route.NewNextHopEntry(
		route.NextHopSet{route.NewResolvedNextHop(addr, intf, route.ECMPWeight)},
		route.DistanceConnected,
	))
}

func (m *tableSetup) set(prefix string, client route.ClientID, entry route.NextHopEntry) {
	table, p := m.b.TableFor(netip.MustParsePrefix(prefix))
	table.Create(p).SetEntry(client, entry)
}

func (m *tableSetup) static(prefix string, nexthops ...string) {
	set := route.NextHopSet{}
	for _, nh := range nexthops {
		set = append(set, route.NewNextHop(netip.MustParseAddr(nh), route.ECMPWeight))
	}
	m.set(prefix, route.ClientStatic, route.NewNextHopEntry(set, route.DistanceStatic))
}

func (m *tableSetup) resolve() *rib.RouteTable {
	NewResolver().Resolve(m.b)
	rt := m.b.Build()
	m.b = rt.Modify()
	return rt
}

func get(t *testing.T, rt *rib.RouteTable, prefix string) *route.Route {
	r := rt.ExactMatch(netip.MustParsePrefix(prefix))
	require.NotNil(t, r, "route %s", prefix)
	return r
}

func resolvedNextHops(t *testing.T, r *route.Route) route.NextHopSet {
	require.True(t, r.IsResolved(), "route %s", r)
	require.Equal(t, route.ActionNextHops, r.Forward().Action, "route %s", r)
	return r.Forward().NextHops
}

func TestResolve_Connected(t *testing.T) {
	s := newSetup(t)
	rt := s.resolve()

	r := get(t, rt, "1.1.1.0/24")
	require.True(t, r.IsConnected())
	require.Equal(t, route.NextHopSet{route.NewResolvedNextHop(intf1Addr, 1, route.ECMPWeight)}, resolvedNextHops(t, r))

	def := get(t, rt, "0.0.0.0/0")
	require.True(t, def.IsDrop())
	require.True(t, get(t, rt, "::/0").IsDrop())
}

func TestResolve_DirectNextHop(t *testing.T) {
	s := newSetup(t)
	s.static("10.0.0.0/8", "1.1.1.10", "2.2.2.10")
	rt := s.resolve()

	r := get(t, rt, "10.0.0.0/8")
	require.False(t, r.IsConnected())
	expected := route.NewNextHopSet(
		route.NewResolvedNextHop(netip.MustParseAddr("1.1.1.10"), 1, route.ECMPWeight),
		route.NewResolvedNextHop(netip.MustParseAddr("2.2.2.10"), 2, route.ECMPWeight),
	)
	require.Empty(t, cmp.Diff(expected, resolvedNextHops(t, r), cmp.Comparer(route.NextHop.Equal)))
}

func TestResolve_RecursiveThroughDefault(t *testing.T) {
	s := newSetup(t)
	s.static("40.0.0.0/8", "50.0.0.1")
	rt := s.resolve()

	r40 := get(t, rt, "40.0.0.0/8")
	require.True(t, r40.IsDrop())

	s.static("50.0.0.0/8", "1.1.1.1")
	rt2 := s.resolve()

	r50 := get(t, rt2, "50.0.0.0/8")
	expected := resolvedNextHops(t, r50)
	require.Equal(t, route.NextHopSet{route.NewResolvedNextHop(intf1Addr, 1, route.ECMPWeight)}, expected)

	r40 = get(t, rt2, "40.0.0.0/8")
	require.Equal(t, expected, resolvedNextHops(t, r40))
	require.Equal(t, get(t, rt, "40.0.0.0/8").Generation()+1, r40.Generation())
}

func TestResolve_MultiLevelFlatten(t *testing.T) {
	s := newSetup(t)
	s.static("30.0.0.0/8", "20.1.1.1")
	s.static("20.0.0.0/8", "10.1.1.1")
	s.static("10.0.0.0/8", "1.1.1.7", "2.2.2.7")
	rt := s.resolve()

	expected := resolvedNextHops(t, get(t, rt, "10.0.0.0/8"))
	require.Len(t, expected, 2)
	require.Equal(t, expected, resolvedNextHops(t, get(t, rt, "20.0.0.0/8")))
	require.Equal(t, expected, resolvedNextHops(t, get(t, rt, "30.0.0.0/8")))
}

func TestResolve_Ring(t *testing.T) {
	s := newSetup(t)
	s.static("10.0.0.0/8", "20.1.1.1")
	s.static("20.0.0.0/8", "30.1.1.1")
	s.static("30.0.0.0/8", "10.1.1.1")
	// Depends on the ring, but is not part of it.
	s.static("40.0.0.0/8", "10.1.1.1")
	s.static("41.0.0.0/8", "10.1.1.1", "1.1.1.41")
	rt := s.resolve()

	for _, p := range []string{"10.0.0.0/8", "20.0.0.0/8", "30.0.0.0/8", "40.0.0.0/8"} {
		r := get(t, rt, p)
		require.True(t, r.IsUnresolvable(), "route %s", r)
		require.Equal(t, route.ActionDrop, r.Forward().Action)
		require.Empty(t, r.Forward().NextHops)
	}

	require.Equal(t,
		route.NextHopSet{route.NewResolvedNextHop(netip.MustParseAddr("1.1.1.41"), 1, route.ECMPWeight)},
		resolvedNextHops(t, get(t, rt, "41.0.0.0/8")),
	)
}

func TestResolve_SelfLoop(t *testing.T) {
	s := newSetup(t)
	s.static("10.0.0.0/8", "10.1.1.1")
	rt := s.resolve()

	require.True(t, get(t, rt, "10.0.0.0/8").IsUnresolvable())
}

func TestResolve_LongChain(t *testing.T) {
	s := newSetup(t)
	const depth = 5000
	for idx := range depth {
		prefix := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(idx >> 8), byte(idx), 0}), 24)
		next := netip.AddrFrom4([4]byte{10, byte((idx + 1) >> 8), byte(idx + 1), 1})
		if idx == depth-1 {
			next = netip.MustParseAddr("1.1.1.99")
		}
		s.static(prefix.String(), next.String())
	}
	rt := s.resolve()

	r := get(t, rt, "10.0.0.0/24")
	require.Equal(t,
		route.NextHopSet{route.NewResolvedNextHop(netip.MustParseAddr("1.1.1.99"), 1, route.ECMPWeight)},
		resolvedNextHops(t, r),
	)
}

func TestResolve_ActionMix(t *testing.T) {
	s := newSetup(t)
	s.set("100.0.0.0/8", route.ClientStatic, route.NewActionEntry(route.ActionDrop, route.DistanceStatic))
	s.set("101.0.0.0/8", route.ClientStatic, route.NewActionEntry(route.ActionToCPU, route.DistanceStatic))

	s.static("10.0.0.0/8", "1.1.1.10", "2.2.2.10", "100.0.0.1", "101.0.0.1")
	s.static("20.0.0.0/8", "100.0.0.1", "101.0.0.1")
	s.static("30.0.0.0/8", "100.0.0.1")
	rt := s.resolve()

	r10 := get(t, rt, "10.0.0.0/8")
	require.Len(t, resolvedNextHops(t, r10), 2)
	require.True(t, get(t, rt, "20.0.0.0/8").IsToCPU())
	require.True(t, get(t, rt, "30.0.0.0/8").IsDrop())
}

func TestResolve_AdminDistance(t *testing.T) {
	s := newSetup(t)
	s.static("10.0.0.0/8", "1.1.1.10")
	s.set("10.0.0.0/8", route.ClientBGP, route.NewNextHopEntry(
		route.NextHopSet{route.NewNextHop(netip.MustParseAddr("2.2.2.10"), route.ECMPWeight)},
		route.DistanceEBGP,
	))
	rt := s.resolve()

	require.Equal(t,
		route.NextHopSet{route.NewResolvedNextHop(netip.MustParseAddr("1.1.1.10"), 1, route.ECMPWeight)},
		resolvedNextHops(t, get(t, rt, "10.0.0.0/8")),
	)

	table, p := s.b.TableFor(netip.MustParsePrefix("10.0.0.0/8"))
	table.Writable(p).RemoveEntry(route.ClientStatic)
	rt = s.resolve()

	require.Equal(t,
		route.NextHopSet{route.NewResolvedNextHop(netip.MustParseAddr("2.2.2.10"), 2, route.ECMPWeight)},
		resolvedNextHops(t, get(t, rt, "10.0.0.0/8")),
	)
}

func TestResolve_CrossFamily(t *testing.T) {
	s := newSetup(t)
	s.connected("2001:db8::/64", netip.MustParseAddr("2001:db8::1"), 3)
	s.static("10.0.0.0/8", "2001:db8::10")
	s.static("2001:db8:1::/48", "1.1.1.10")
	rt := s.resolve()

	require.Equal(t,
		route.NextHopSet{route.NewResolvedNextHop(netip.MustParseAddr("2001:db8::10"), 3, route.ECMPWeight)},
		resolvedNextHops(t, get(t, rt, "10.0.0.0/8")),
	)
	require.Equal(t,
		route.NextHopSet{route.NewResolvedNextHop(netip.MustParseAddr("1.1.1.10"), 1, route.ECMPWeight)},
		resolvedNextHops(t, get(t, rt, "2001:db8:1::/48")),
	)
}

func TestResolve_Labels(t *testing.T) {
	s := newSetup(t)
	s.set("10.0.0.0/8", route.ClientStatic, route.NewNextHopEntry(
		route.NextHopSet{route.NewNextHop(netip.MustParseAddr("1.1.1.10"), route.ECMPWeight, 100)},
		route.DistanceStatic,
	))
	s.set("20.0.0.0/8", route.ClientStatic, route.NewNextHopEntry(
		route.NextHopSet{route.NewNextHop(netip.MustParseAddr("10.0.0.1"), route.ECMPWeight, 200)},
		route.DistanceStatic,
	))
	rt := s.resolve()

	nhs := resolvedNextHops(t, get(t, rt, "20.0.0.0/8"))
	require.Len(t, nhs, 1)
	require.Equal(t, []route.Label{200, 100}, nhs[0].Labels)
}

func TestResolve_Idempotent(t *testing.T) {
	s := newSetup(t)
	s.static("10.0.0.0/8", "1.1.1.10")
	s.static("20.0.0.0/8", "10.0.0.1")
	rt := s.resolve()

	stats := NewResolver().Resolve(s.b)
	require.Zero(t, stats.Changed)
	require.Same(t, rt, s.b.Build())
}

func TestResolve_LogsStats(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := newSetup(t)
	s.static("10.0.0.0/8", "20.1.1.1")
	s.static("20.0.0.0/8", "10.1.1.1")
	s.static("30.0.0.0/8", "1.1.1.30")

	stats := NewResolver(WithLog(zap.New(core).Sugar())).Resolve(s.b)
	require.Equal(t, 2, stats.Unresolvable)

	entries := logs.FilterMessage("resolved routes").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, uint32(0), fields["router_id"])
	require.Equal(t, int64(stats.Routes), fields["routes"])
	require.Equal(t, int64(stats.Changed), fields["changed"])
	require.Equal(t, int64(2), fields["unresolvable"])
}
