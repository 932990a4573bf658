package route

import (
	"errors"
	"fmt"
)

// ErrInvalidEntry is returned for malformed next hop entries.
var ErrInvalidEntry = errors.New("invalid nexthop entry")

// NextHopEntry is what a single client wants for a prefix: either a set of
// next hops or a single forward action, with an administrative distance.
type NextHopEntry struct {
	Action   ForwardAction
	NextHops NextHopSet
	Distance AdminDistance
}

// NewNextHopEntry creates an entry forwarding to the given next hops.
func NewNextHopEntry(nexthops NextHopSet, distance AdminDistance) NextHopEntry {
	return NextHopEntry{
		Action:   ActionNextHops,
		NextHops: NewNextHopSet(nexthops...),
		Distance: distance,
	}
}

// NewActionEntry creates an entry with a DROP or TO_CPU action.
func NewActionEntry(action ForwardAction, distance AdminDistance) NextHopEntry {
	return NextHopEntry{
		Action:   action,
		Distance: distance,
	}
}

// Validate checks the entry for consistency.
func (m NextHopEntry) Validate() error {
	switch m.Action {
	case ActionNextHops:
		if len(m.NextHops) == 0 {
			return fmt.Errorf("%w: no nexthops", ErrInvalidEntry)
		}
		for _, nh := range m.NextHops {
			if !nh.Addr.IsValid() {
				return fmt.Errorf("%w: nexthop without address", ErrInvalidEntry)
			}
		}
	case ActionDrop, ActionToCPU:
		if len(m.NextHops) != 0 {
			return fmt.Errorf("%w: %s action with %d nexthops", ErrInvalidEntry, m.Action, len(m.NextHops))
		}
	default:
		return fmt.Errorf("%w: unknown action %d", ErrInvalidEntry, m.Action)
	}
	return nil
}

// Equal reports whether both entries are identical.
func (m NextHopEntry) Equal(other NextHopEntry) bool {
	return m.Action == other.Action &&
		m.Distance == other.Distance &&
		m.NextHops.Equal(other.NextHops)
}

func (m NextHopEntry) String() string {
	if m.Action != ActionNextHops {
		return fmt.Sprintf("%s distance %d", m.Action, m.Distance)
	}
	return fmt.Sprintf("%s distance %d", m.NextHops, m.Distance)
}

// ForwardInfo is the resolved forwarding decision of a route.
//
// NextHops is non-empty only for ActionNextHops and always holds resolved
// next hops.
type ForwardInfo struct {
	Action   ForwardAction
	NextHops NextHopSet
}

// Equal reports whether both forwarding decisions are identical.
func (m ForwardInfo) Equal(other ForwardInfo) bool {
	return m.Action == other.Action && m.NextHops.Equal(other.NextHops)
}

func (m ForwardInfo) String() string {
	if m.Action != ActionNextHops {
		return m.Action.String()
	}
	return m.NextHops.String()
}
