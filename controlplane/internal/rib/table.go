package rib

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"github.com/gaissmai/bart"

	"github.com/yanet-platform/switchagent/common/go/xnetip"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

// ErrLookupMismatch is reported when the fast longest prefix match
// structure disagrees with the reference one.
var ErrLookupMismatch = errors.New("longest prefix match mismatch")

type prefixTrie = MapTrie[netip.Prefix, netip.Addr, *route.Route]

// slot hides the route from bart, which deep-copies values implementing
// its Cloner interface on table clone.
type slot struct {
	route *route.Route
}

// Table is an immutable routing table of a single address family.
//
// Routes are indexed twice: by a bart table for fast longest prefix match
// and by a MapTrie for exact match, iteration and lookup verification.
type Table struct {
	family route.Family
	trie   prefixTrie
	fast   *bart.Table[slot]
	verify bool
}

// NewTable creates a table holding only the default null route of the
// family.
func NewTable(family route.Family, verify bool) *Table {
	t := &Table{
		family: family,
		trie:   NewMapTrie[netip.Prefix, netip.Addr, *route.Route](0),
		fast:   &bart.Table[slot]{},
		verify: verify,
	}

	r := NewDefaultRoute(family)
	r.Publish()
	t.insert(r)

	return t
}

// NewDefaultRoute returns a resolved default null route of the family.
func NewDefaultRoute(family route.Family) *route.Route {
	r := route.NewRoute(family.DefaultPrefix())
	r.SetEntry(route.ClientStaticInternal, route.NewActionEntry(route.ActionDrop, route.DistanceMax))
	r.SetResolution(route.ForwardInfo{Action: route.ActionDrop}, route.StatusResolved, false)
	return r
}

// Family returns the address family of the table.
func (m *Table) Family() route.Family {
	return m.family
}

// Len returns the number of routes in the table.
func (m *Table) Len() int {
	return m.trie.Len()
}

// ExactMatch returns the route stored exactly at the given prefix.
func (m *Table) ExactMatch(prefix netip.Prefix) *route.Route {
	r, _ := m.trie.Get(xnetip.Canonical(prefix))
	return r
}

// LongestMatch returns the most specific route containing the given
// address, or nil.
//
// When lookup verification is enabled, a disagreement between the fast
// and the reference structures panics with ErrLookupMismatch.
func (m *Table) LongestMatch(addr netip.Addr) *route.Route {
	addr = addr.Unmap()
	if route.FamilyOf(addr) != m.family {
		return nil
	}

	s, ok := m.fast.Lookup(addr)
	if m.verify {
		if err := m.verifyLookup(addr, s.route, ok); err != nil {
			panic(err)
		}
	}
	if !ok {
		return nil
	}
	return s.route
}

// Covering returns prefixes of all routes containing the address, from
// the most specific to the default one.
func (m *Table) Covering(addr netip.Addr) []netip.Prefix {
	addr = addr.Unmap()
	if route.FamilyOf(addr) != m.family {
		return nil
	}
	return m.trie.Matches(addr)
}

// VerifyLookup compares the fast and the reference longest prefix match
// results for the given address.
func (m *Table) VerifyLookup(addr netip.Addr) error {
	addr = addr.Unmap()
	if route.FamilyOf(addr) != m.family {
		return nil
	}

	s, ok := m.fast.Lookup(addr)
	return m.verifyLookup(addr, s.route, ok)
}

func (m *Table) verifyLookup(addr netip.Addr, fast *route.Route, found bool) error {
	_, ref, refFound := m.trie.Lookup(addr)
	if found != refFound || fast != ref {
		return fmt.Errorf("%w for %s: fast %v, reference %v", ErrLookupMismatch, addr, fast, ref)
	}
	return nil
}

// Routes returns all routes ordered by prefix.
func (m *Table) Routes() []*route.Route {
	out := make([]*route.Route, 0, m.trie.Len())
	for _, r := range m.trie.All() {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a *route.Route, b *route.Route) int {
		return comparePrefix(a.Prefix(), b.Prefix())
	})

	return out
}

// Modify starts a copy-on-write modification of the table.
func (m *Table) Modify() *TableBuilder {
	return &TableBuilder{
		base:    m,
		dirty:   map[netip.Prefix]*route.Route{},
		removed: map[netip.Prefix]struct{}{},
	}
}

func (m *Table) clone() *Table {
	return &Table{
		family: m.family,
		trie:   m.trie.Clone(),
		fast:   m.fast.Clone(),
		verify: m.verify,
	}
}

func (m *Table) insert(r *route.Route) {
	m.trie.Set(r.Prefix(), r)
	m.fast.Insert(r.Prefix(), slot{route: r})
}

func (m *Table) remove(prefix netip.Prefix) {
	if m.trie.Delete(prefix) {
		m.fast.Delete(prefix)
	}
}

func comparePrefix(a netip.Prefix, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	return a.Bits() - b.Bits()
}

// TableBuilder accumulates modifications of a table.
//
// Published routes are never modified: the first write to a route clones
// it. Build publishes the result.
type TableBuilder struct {
	base    *Table
	next    *Table
	dirty   map[netip.Prefix]*route.Route
	removed map[netip.Prefix]struct{}
}

// Family returns the address family of the table being built.
func (m *TableBuilder) Family() route.Family {
	return m.base.family
}

func (m *TableBuilder) current() *Table {
	if m.next != nil {
		return m.next
	}
	return m.base
}

func (m *TableBuilder) mutable() *Table {
	if m.next == nil {
		m.next = m.base.clone()
	}
	return m.next
}

// ExactMatch returns the current route at the given prefix, which may be
// a writable clone.
func (m *TableBuilder) ExactMatch(prefix netip.Prefix) *route.Route {
	return m.current().ExactMatch(prefix)
}

// LongestMatch returns the current most specific route containing addr.
func (m *TableBuilder) LongestMatch(addr netip.Addr) *route.Route {
	return m.current().LongestMatch(addr)
}

// Routes returns all current routes ordered by prefix.
func (m *TableBuilder) Routes() []*route.Route {
	return m.current().Routes()
}

// Writable returns a writable version of the route at the given prefix, or
// nil when there is no such route.
func (m *TableBuilder) Writable(prefix netip.Prefix) *route.Route {
	prefix = xnetip.Canonical(prefix)

	r := m.current().ExactMatch(prefix)
	if r == nil {
		return nil
	}
	if !r.IsPublished() {
		return r
	}

	clone := r.Clone()
	m.mutable().insert(clone)
	m.dirty[prefix] = clone
	return clone
}

// Create returns a writable route at the given prefix, creating an empty
// one if needed.
func (m *TableBuilder) Create(prefix netip.Prefix) *route.Route {
	prefix = xnetip.Canonical(prefix)

	if r := m.Writable(prefix); r != nil {
		return r
	}

	var r *route.Route
	if prev := m.base.ExactMatch(prefix); prev != nil {
		// Re-created after removal within this builder: keep the
		// generation sequence of the original route.
		r = prev.Clone()
		for _, entry := range r.Entries() {
			r.RemoveEntry(entry.Client)
		}
		r.Reset()
	} else {
		r = route.NewRoute(prefix)
	}

	m.mutable().insert(r)
	m.dirty[prefix] = r
	delete(m.removed, prefix)
	return r
}

// Remove deletes the route at the given prefix.
func (m *TableBuilder) Remove(prefix netip.Prefix) bool {
	prefix = xnetip.Canonical(prefix)

	if m.current().ExactMatch(prefix) == nil {
		return false
	}

	m.mutable().remove(prefix)
	delete(m.dirty, prefix)
	m.removed[prefix] = struct{}{}
	return true
}

// Build publishes all modified routes and returns the new table.
//
// Modified routes equal to their originals are replaced back by the
// originals. If nothing changed, the original table is returned.
func (m *TableBuilder) Build() *Table {
	if m.next == nil {
		return m.base
	}

	changed := false
	for prefix := range m.removed {
		if m.base.ExactMatch(prefix) != nil {
			changed = true
		}
	}

	for prefix, r := range m.dirty {
		if prev := m.base.ExactMatch(prefix); prev != nil && prev.Equal(r) {
			m.next.insert(prev)
			continue
		}
		r.Publish()
		changed = true
	}

	next := m.next
	m.next = nil
	m.dirty = map[netip.Prefix]*route.Route{}
	m.removed = map[netip.Prefix]struct{}{}
	if !changed {
		return m.base
	}

	m.base = next
	return next
}
