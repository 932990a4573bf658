package agent

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/routeupdate"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// ErrUnknownRouter is returned by queries of routers without tables.
var ErrUnknownRouter = errors.New("unknown router")

// UnicastRoute is a route as submitted by a client or as programmed into
// the FIB.
type UnicastRoute struct {
	Prefix   netip.Prefix
	NextHops []route.NextHop
	// Action is used when there are no next hops.
	Action route.ForwardAction
	// Distance overrides the default distance of the client.
	Distance *route.AdminDistance
}

func (m UnicastRoute) entry(client route.ClientID) route.NextHopEntry {
	distance := route.DefaultDistance(client)
	if m.Distance != nil {
		distance = *m.Distance
	}

	if len(m.NextHops) == 0 {
		return route.NewActionEntry(m.Action, distance)
	}
	return route.NewNextHopEntry(route.NewNextHopSet(m.NextHops...), distance)
}

// RouteDetails describes a route together with all client entries.
type RouteDetails struct {
	RouterID   route.RouterID
	Prefix     netip.Prefix
	Status     route.Status
	Forward    route.ForwardInfo
	Connected  bool
	Generation uint64
	Entries    []route.ClientEntry
	// Best is the client whose entry won.
	Best route.ClientID
	// Covering lists less specific routes containing the looked up
	// address. Set by address lookups only.
	Covering []netip.Prefix
}

func newRouteDetails(rid route.RouterID, r *route.Route) RouteDetails {
	details := RouteDetails{
		RouterID:   rid,
		Prefix:     r.Prefix(),
		Status:     r.Status(),
		Forward:    r.Forward(),
		Connected:  r.IsConnected(),
		Generation: r.Generation(),
		Entries:    r.Entries(),
	}
	if best, ok := r.BestEntry(); ok {
		details.Best = best.Client
	}
	return details
}

func fibRoute(r *route.Route) UnicastRoute {
	fwd := r.Forward()
	return UnicastRoute{
		Prefix:   r.Prefix(),
		NextHops: fwd.NextHops,
		Action:   fwd.Action,
	}
}

// AddRoute adds or replaces the entry of the client for the prefix.
func (m *Agent) AddRoute(ctx context.Context, rid route.RouterID, client route.ClientID, r UnicastRoute) error {
	return m.AddRoutes(ctx, rid, client, []UnicastRoute{r})
}

// AddRoutes adds or replaces entries of the client in one update.
func (m *Agent) AddRoutes(ctx context.Context, rid route.RouterID, client route.ClientID, routes []UnicastRoute) error {
	wrapper := m.wrapper()
	for _, r := range routes {
		wrapper.AddRoute(rid, r.Prefix, client, r.entry(client))
	}

	_, err := wrapper.Program(ctx)
	return err
}

// DeleteRoute removes the entry of the client for the prefix.
func (m *Agent) DeleteRoute(ctx context.Context, rid route.RouterID, client route.ClientID, prefix netip.Prefix) error {
	return m.DeleteRoutes(ctx, rid, client, []netip.Prefix{prefix})
}

// DeleteRoutes removes entries of the client in one update.
func (m *Agent) DeleteRoutes(ctx context.Context, rid route.RouterID, client route.ClientID, prefixes []netip.Prefix) error {
	wrapper := m.wrapper()
	for _, prefix := range prefixes {
		wrapper.DelRoute(rid, prefix, client)
	}

	_, err := wrapper.Program(ctx)
	return err
}

// SyncFib replaces all routes of the client in the default router.
func (m *Agent) SyncFib(ctx context.Context, client route.ClientID, routes []UnicastRoute) error {
	return m.SyncFibInVrf(ctx, 0, client, routes)
}

// SyncFibInVrf replaces all routes of the client in the router.
func (m *Agent) SyncFibInVrf(ctx context.Context, rid route.RouterID, client route.ClientID, routes []UnicastRoute) error {
	entries := make([]routeupdate.Entry, 0, len(routes))
	for _, r := range routes {
		entries = append(entries, routeupdate.Entry{Prefix: r.Prefix, Entry: r.entry(client)})
	}

	wrapper := m.wrapper()
	wrapper.SyncFib(rid, client, entries)

	_, err := wrapper.Program(ctx)
	return err
}

func (m *Agent) routes(rid route.RouterID) ([]*route.Route, error) {
	rt := m.State().RouteTable(rid)
	if rt == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRouter, rid)
	}
	return rt.Routes(), nil
}

// GetRouteTable returns resolved routes of the router as programmed into
// the FIB.
func (m *Agent) GetRouteTable(rid route.RouterID) ([]UnicastRoute, error) {
	routes, err := m.routes(rid)
	if err != nil {
		return nil, err
	}

	out := []UnicastRoute{}
	for _, r := range routes {
		if r.IsResolved() {
			out = append(out, fibRoute(r))
		}
	}
	return out, nil
}

// GetRouteTableByClient returns routes of the router as submitted by the
// client.
func (m *Agent) GetRouteTableByClient(rid route.RouterID, client route.ClientID) ([]UnicastRoute, error) {
	routes, err := m.routes(rid)
	if err != nil {
		return nil, err
	}

	out := []UnicastRoute{}
	for _, r := range routes {
		entry, ok := r.Entry(client)
		if !ok {
			continue
		}

		distance := entry.Distance
		out = append(out, UnicastRoute{
			Prefix:   r.Prefix(),
			NextHops: entry.NextHops,
			Action:   entry.Action,
			Distance: &distance,
		})
	}
	return out, nil
}

// GetRouteTableDetails returns all routes of the router with their client
// entries.
func (m *Agent) GetRouteTableDetails(rid route.RouterID) ([]RouteDetails, error) {
	routes, err := m.routes(rid)
	if err != nil {
		return nil, err
	}

	out := make([]RouteDetails, 0, len(routes))
	for _, r := range routes {
		out = append(out, newRouteDetails(rid, r))
	}
	return out, nil
}

func (m *Agent) lookup(rid route.RouterID, addr netip.Addr) (*route.Route, error) {
	rt := m.State().RouteTable(rid)
	if rt == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRouter, rid)
	}

	// The default route is always present, so a lookup never misses.
	return rt.LongestMatch(addr), nil
}

// GetIpRoute returns the forwarding decision for the address.
func (m *Agent) GetIpRoute(rid route.RouterID, addr netip.Addr) (UnicastRoute, error) {
	r, err := m.lookup(rid, addr)
	if err != nil {
		return UnicastRoute{}, err
	}
	return fibRoute(r), nil
}

// GetIpRouteDetails returns the route matching the address.
func (m *Agent) GetIpRouteDetails(rid route.RouterID, addr netip.Addr) (RouteDetails, error) {
	rt := m.State().RouteTable(rid)
	if rt == nil {
		return RouteDetails{}, fmt.Errorf("%w: %d", ErrUnknownRouter, rid)
	}

	r := rt.LongestMatch(addr)
	details := newRouteDetails(rid, r)
	for _, prefix := range rt.Covering(addr) {
		if prefix != r.Prefix() {
			details.Covering = append(details.Covering, prefix)
		}
	}
	return details, nil
}

// GetArpTable returns ARP entries of all VLANs.
func (m *Agent) GetArpTable() []state.NeighborEntry {
	return m.neighborTable(route.FamilyV4)
}

// GetNdpTable returns NDP entries of all VLANs.
func (m *Agent) GetNdpTable() []state.NeighborEntry {
	return m.neighborTable(route.FamilyV6)
}

func (m *Agent) neighborTable(family route.Family) []state.NeighborEntry {
	out := []state.NeighborEntry{}
	for _, vlan := range m.State().VlanList() {
		table := vlan.Arp
		if family == route.FamilyV6 {
			table = vlan.Ndp
		}
		out = append(out, table.Values(func(a netip.Addr, b netip.Addr) int {
			return a.Compare(b)
		})...)
	}

	slices.SortStableFunc(out, func(a state.NeighborEntry, b state.NeighborEntry) int {
		return cmp.Compare(a.Port, b.Port)
	})
	return out
}

// GetInterfaceList returns all routed interfaces.
func (m *Agent) GetInterfaceList() []state.Interface {
	return m.State().InterfaceList()
}
