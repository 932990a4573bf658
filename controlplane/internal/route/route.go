package route

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// Status is the resolution state of a route.
type Status uint8

const (
	StatusUnresolved Status = iota
	// StatusProcessing marks a route currently on the resolution stack.
	StatusProcessing
	StatusResolved
	StatusUnresolvable
)

func (m Status) String() string {
	switch m {
	case StatusUnresolved:
		return "unresolved"
	case StatusProcessing:
		return "processing"
	case StatusResolved:
		return "resolved"
	case StatusUnresolvable:
		return "unresolvable"
	default:
		return fmt.Sprintf("status(%d)", uint8(m))
	}
}

// ClientEntry is a next hop entry tagged with its originator.
type ClientEntry struct {
	Client ClientID
	Entry  NextHopEntry
}

// Route is a single prefix of a routing table.
//
// Once published a route is immutable: every mutator panics. Use Clone to
// obtain a writable copy.
type Route struct {
	prefix     netip.Prefix
	entries    []ClientEntry
	fwd        ForwardInfo
	status     Status
	connected  bool
	generation uint64
	published  bool
}

// NewRoute creates a new unresolved route without entries.
func NewRoute(prefix netip.Prefix) *Route {
	return &Route{prefix: prefix}
}

func (m *Route) Prefix() netip.Prefix {
	return m.prefix
}

// Entries returns client entries ordered by client ID.
func (m *Route) Entries() []ClientEntry {
	return slices.Clone(m.entries)
}

// Entry returns the entry of the given client.
func (m *Route) Entry(client ClientID) (NextHopEntry, bool) {
	idx, ok := m.find(client)
	if !ok {
		return NextHopEntry{}, false
	}
	return m.entries[idx].Entry, true
}

// HasEntries reports whether any client has an entry for this route.
func (m *Route) HasEntries() bool {
	return len(m.entries) > 0
}

// BestEntry returns the entry with the lowest administrative distance.
//
// Ties are broken by the lowest client ID.
func (m *Route) BestEntry() (ClientEntry, bool) {
	if len(m.entries) == 0 {
		return ClientEntry{}, false
	}

	best := m.entries[0]
	for _, entry := range m.entries[1:] {
		if entry.Entry.Distance < best.Entry.Distance {
			best = entry
		}
	}
	return best, true
}

func (m *Route) Forward() ForwardInfo {
	return m.fwd
}

func (m *Route) Status() Status {
	return m.status
}

func (m *Route) Generation() uint64 {
	return m.generation
}

func (m *Route) IsPublished() bool {
	return m.published
}

func (m *Route) IsResolved() bool {
	return m.status == StatusResolved
}

func (m *Route) IsUnresolvable() bool {
	return m.status == StatusUnresolvable
}

func (m *Route) NeedResolve() bool {
	return m.status == StatusUnresolved
}

// IsConnected reports whether the route is an interface subnet.
func (m *Route) IsConnected() bool {
	return m.connected
}

func (m *Route) IsDrop() bool {
	return m.status == StatusResolved && m.fwd.Action == ActionDrop
}

func (m *Route) IsToCPU() bool {
	return m.status == StatusResolved && m.fwd.Action == ActionToCPU
}

// Clone returns an unpublished copy of the route with the next generation.
func (m *Route) Clone() *Route {
	return &Route{
		prefix:     m.prefix,
		entries:    slices.Clone(m.entries),
		fwd:        m.fwd,
		status:     m.status,
		connected:  m.connected,
		generation: m.generation + 1,
	}
}

// Publish freezes the route.
func (m *Route) Publish() {
	m.published = true
}

// SetEntry adds or replaces the entry of the given client.
func (m *Route) SetEntry(client ClientID, entry NextHopEntry) {
	m.writable()

	idx, ok := m.find(client)
	if ok {
		m.entries[idx].Entry = entry
		return
	}
	m.entries = slices.Insert(m.entries, idx, ClientEntry{Client: client, Entry: entry})
}

// RemoveEntry removes the entry of the given client and reports whether it
// existed.
func (m *Route) RemoveEntry(client ClientID) bool {
	m.writable()

	idx, ok := m.find(client)
	if !ok {
		return false
	}
	m.entries = slices.Delete(m.entries, idx, idx+1)
	return true
}

// SetResolution stores the resolution result.
func (m *Route) SetResolution(fwd ForwardInfo, status Status, connected bool) {
	m.writable()

	m.fwd = fwd
	m.status = status
	m.connected = connected
}

// Reset clears the resolution result, marking the route as unresolved.
func (m *Route) Reset() {
	m.SetResolution(ForwardInfo{}, StatusUnresolved, false)
}

// Equal reports whether both routes carry the same content.
//
// Generation and publication are ignored.
func (m *Route) Equal(other *Route) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	return m.prefix == other.prefix &&
		m.status == other.status &&
		m.connected == other.connected &&
		m.fwd.Equal(other.fwd) &&
		slices.EqualFunc(m.entries, other.entries, func(a ClientEntry, b ClientEntry) bool {
			return a.Client == b.Client && a.Entry.Equal(b.Entry)
		})
}

func (m *Route) String() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s %s", m.prefix, m.status)
	if m.connected {
		b.WriteString(" connected")
	}
	if m.status == StatusResolved {
		fmt.Fprintf(&b, " -> %s", m.fwd)
	}
	return b.String()
}

func (m *Route) find(client ClientID) (int, bool) {
	return slices.BinarySearchFunc(m.entries, client, func(e ClientEntry, id ClientID) int {
		return int(e.Client) - int(id)
	})
}

func (m *Route) writable() {
	if m.published {
		panic(fmt.Sprintf("route %s: modification of a published route", m.prefix))
	}
}
