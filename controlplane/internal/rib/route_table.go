package rib

import (
	"maps"
	"net/netip"
	"slices"

	"github.com/yanet-platform/switchagent/common/go/xnetip"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

// Options configure route tables.
type Options struct {
	// VerifyLookups checks every longest prefix match against the reference
	// MapTrie.
	VerifyLookups bool
}

// RouteTable holds the IPv4 and IPv6 routing tables of a single router.
type RouteTable struct {
	id RouterID
	v4 *Table
	v6 *Table
}

// RouterID is an alias for the router identifier.
type RouterID = route.RouterID

// NewRouteTable creates route tables with default null routes only.
func NewRouteTable(id RouterID, opts Options) *RouteTable {
	return &RouteTable{
		id: id,
		v4: NewTable(route.FamilyV4, opts.VerifyLookups),
		v6: NewTable(route.FamilyV6, opts.VerifyLookups),
	}
}

func (m *RouteTable) ID() RouterID {
	return m.id
}

// Table returns the routing table of the given family.
func (m *RouteTable) Table(family route.Family) *Table {
	if family == route.FamilyV4 {
		return m.v4
	}
	return m.v6
}

// ExactMatch returns the route stored exactly at the given prefix.
func (m *RouteTable) ExactMatch(prefix netip.Prefix) *route.Route {
	prefix = xnetip.Canonical(prefix)
	return m.Table(route.FamilyOf(prefix.Addr())).ExactMatch(prefix)
}

// LongestMatch returns the most specific route containing the address.
func (m *RouteTable) LongestMatch(addr netip.Addr) *route.Route {
	return m.Table(route.FamilyOf(addr)).LongestMatch(addr)
}

// Covering returns prefixes of all routes containing the address.
func (m *RouteTable) Covering(addr netip.Addr) []netip.Prefix {
	return m.Table(route.FamilyOf(addr)).Covering(addr)
}

// Routes returns IPv4 routes followed by IPv6 routes, each ordered by
// prefix.
func (m *RouteTable) Routes() []*route.Route {
	return append(m.v4.Routes(), m.v6.Routes()...)
}

// Len returns the total number of routes.
func (m *RouteTable) Len() int {
	return m.v4.Len() + m.v6.Len()
}

// Modify starts a copy-on-write modification of the router tables.
func (m *RouteTable) Modify() *RouteTableBuilder {
	return &RouteTableBuilder{
		base: m,
		v4:   m.v4.Modify(),
		v6:   m.v6.Modify(),
	}
}

// RouteTableBuilder accumulates modifications of both families.
type RouteTableBuilder struct {
	base *RouteTable
	v4   *TableBuilder
	v6   *TableBuilder
}

func (m *RouteTableBuilder) ID() RouterID {
	return m.base.id
}

// Table returns the builder of the given family.
func (m *RouteTableBuilder) Table(family route.Family) *TableBuilder {
	if family == route.FamilyV4 {
		return m.v4
	}
	return m.v6
}

// TableFor returns the builder of the prefix family together with the
// canonical prefix.
func (m *RouteTableBuilder) TableFor(prefix netip.Prefix) (*TableBuilder, netip.Prefix) {
	prefix = xnetip.Canonical(prefix)
	return m.Table(route.FamilyOf(prefix.Addr())), prefix
}

// LongestMatch returns the current most specific route containing addr.
func (m *RouteTableBuilder) LongestMatch(addr netip.Addr) *route.Route {
	return m.Table(route.FamilyOf(addr)).LongestMatch(addr)
}

// Build returns the new route tables, or the original ones if nothing
// changed.
func (m *RouteTableBuilder) Build() *RouteTable {
	v4 := m.v4.Build()
	v6 := m.v6.Build()
	if v4 == m.base.v4 && v6 == m.base.v6 {
		return m.base
	}

	m.base = &RouteTable{
		id: m.base.id,
		v4: v4,
		v6: v6,
	}
	return m.base
}

// RouteTableMap is an immutable set of per-router route tables.
type RouteTableMap struct {
	tables map[RouterID]*RouteTable
}

// NewRouteTableMap returns a map holding the given tables.
func NewRouteTableMap(tables ...*RouteTable) *RouteTableMap {
	m := &RouteTableMap{tables: make(map[RouterID]*RouteTable, len(tables))}
	for _, rt := range tables {
		m.tables[rt.id] = rt
	}
	return m
}

// Get returns the route tables of the router.
func (m *RouteTableMap) Get(id RouterID) *RouteTable {
	if m == nil {
		return nil
	}
	return m.tables[id]
}

// IDs returns sorted router identifiers.
func (m *RouteTableMap) IDs() []RouterID {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.tables))
}

// Len returns the number of routers.
func (m *RouteTableMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.tables)
}

// With returns a copy of the map with the given router tables replaced.
func (m *RouteTableMap) With(rt *RouteTable) *RouteTableMap {
	if m.Get(rt.id) == rt {
		return m
	}

	out := &RouteTableMap{tables: make(map[RouterID]*RouteTable, m.Len()+1)}
	if m != nil {
		maps.Copy(out.tables, m.tables)
	}
	out.tables[rt.id] = rt
	return out
}

// Without returns a copy of the map without the given router.
func (m *RouteTableMap) Without(id RouterID) *RouteTableMap {
	if m.Get(id) == nil {
		return m
	}

	out := &RouteTableMap{tables: maps.Clone(m.tables)}
	delete(out.tables, id)
	return out
}
