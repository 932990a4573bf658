package state

import (
	"net/netip"
	"slices"
	"strings"

	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

// Delta is a transition between two switch states.
type Delta struct {
	Old *SwitchState
	New *SwitchState
}

// NewDelta creates a delta between two states.
func NewDelta(old *SwitchState, new *SwitchState) Delta {
	return Delta{Old: old, New: new}
}

// Empty reports whether both states are the same object.
func (m Delta) Empty() bool {
	return m.Old == m.New
}

// Change is a modification of a single node. Old is nil for added nodes,
// New is nil for removed ones.
type Change[V any] struct {
	Old *V
	New *V
}

// Added reports whether the node did not exist before.
func (m Change[V]) Added() bool {
	return m.Old == nil
}

// Removed reports whether the node does not exist anymore.
func (m Change[V]) Removed() bool {
	return m.New == nil
}

func diffNodes[K comparable, V any](
	old *NodeMap[K, V],
	new *NodeMap[K, V],
	compare func(K, K) int,
	equal func(V, V) bool,
) []Change[V] {
	if old == new {
		return nil
	}

	keys := map[K]struct{}{}
	for k := range old.All() {
		keys[k] = struct{}{}
	}
	for k := range new.All() {
		keys[k] = struct{}{}
	}

	sorted := make([]K, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	slices.SortFunc(sorted, compare)

	out := []Change[V]{}
	for _, k := range sorted {
		o, okOld := old.Get(k)
		n, okNew := new.Get(k)

		switch {
		case okOld && okNew:
			if !equal(o, n) {
				out = append(out, Change[V]{Old: &o, New: &n})
			}
		case okOld:
			out = append(out, Change[V]{Old: &o})
		default:
			out = append(out, Change[V]{New: &n})
		}
	}
	return out
}

// Ports returns changed ports ordered by ID.
func (m Delta) Ports() []Change[Port] {
	return diffNodes(m.Old.ports, m.New.ports, comparePorts, func(a Port, b Port) bool { return a == b })
}

// Vlans returns changed VLANs ordered by ID.
func (m Delta) Vlans() []Change[Vlan] {
	return diffNodes(m.Old.vlans, m.New.vlans, compareVlans, Vlan.Equal)
}

// Interfaces returns changed interfaces ordered by ID.
func (m Delta) Interfaces() []Change[Interface] {
	return diffNodes(m.Old.interfaces, m.New.interfaces, compareInterfaces, Interface.Equal)
}

// Acls returns changed ACL entries ordered by name.
func (m Delta) Acls() []Change[AclEntry] {
	return diffNodes(m.Old.acls, m.New.acls, strings.Compare, func(a AclEntry, b AclEntry) bool { return a == b })
}

// RouteChange is a modification of a single route. Routes are compared by
// identity.
type RouteChange struct {
	RouterID route.RouterID
	Old      *route.Route
	New      *route.Route
}

// Routes returns changed routes of all routers.
func (m Delta) Routes() []RouteChange {
	oldTables := m.Old.routeTables
	newTables := m.New.routeTables
	if oldTables == newTables {
		return nil
	}

	ids := map[route.RouterID]struct{}{}
	for _, id := range oldTables.IDs() {
		ids[id] = struct{}{}
	}
	for _, id := range newTables.IDs() {
		ids[id] = struct{}{}
	}
	sorted := make([]route.RouterID, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	slices.Sort(sorted)

	out := []RouteChange{}
	for _, id := range sorted {
		out = append(out, diffRouteTable(id, oldTables.Get(id), newTables.Get(id))...)
	}
	return out
}

func diffRouteTable(id route.RouterID, old *rib.RouteTable, new *rib.RouteTable) []RouteChange {
	if old == new {
		return nil
	}

	out := []RouteChange{}
	for _, family := range route.Families {
		var oldTable, newTable *rib.Table
		if old != nil {
			oldTable = old.Table(family)
		}
		if new != nil {
			newTable = new.Table(family)
		}
		if oldTable == newTable {
			continue
		}

		seen := map[netip.Prefix]struct{}{}
		if oldTable != nil {
			for _, r := range oldTable.Routes() {
				seen[r.Prefix()] = struct{}{}

				var n *route.Route
				if newTable != nil {
					n = newTable.ExactMatch(r.Prefix())
				}
				if n != r {
					out = append(out, RouteChange{RouterID: id, Old: r, New: n})
				}
			}
		}
		if newTable != nil {
			for _, r := range newTable.Routes() {
				if _, ok := seen[r.Prefix()]; !ok {
					out = append(out, RouteChange{RouterID: id, New: r})
				}
			}
		}
	}
	return out
}
