package route

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// Weight is an ECMP weight of a next hop.
type Weight uint32

// ECMPWeight is the weight of next hops sharing traffic equally.
const ECMPWeight Weight = 0

// Label is an MPLS label.
type Label uint32

// NextHop is either an unresolved next hop (an address that may need a
// recursive lookup) or a resolved one bound to an egress interface.
//
// Labels are stored innermost first.
type NextHop struct {
	Addr      netip.Addr
	Interface InterfaceID
	Resolved  bool
	Weight    Weight
	Labels    []Label
}

// NewNextHop returns an unresolved next hop.
func NewNextHop(addr netip.Addr, weight Weight, labels ...Label) NextHop {
	return NextHop{
		Addr:   addr.Unmap(),
		Weight: weight,
		Labels: labels,
	}
}

// NewResolvedNextHop returns a next hop bound to the given interface.
func NewResolvedNextHop(addr netip.Addr, intf InterfaceID, weight Weight, labels ...Label) NextHop {
	return NextHop{
		Addr:      addr.Unmap(),
		Interface: intf,
		Resolved:  true,
		Weight:    weight,
		Labels:    labels,
	}
}

// Compare orders next hops by target (address, then interface), then by
// weight and labels.
func (m NextHop) Compare(other NextHop) int {
	if c := m.compareTarget(other); c != 0 {
		return c
	}
	if c := cmp.Compare(m.Weight, other.Weight); c != 0 {
		return c
	}
	return slices.Compare(m.Labels, other.Labels)
}

func (m NextHop) compareTarget(other NextHop) int {
	if c := m.Addr.Compare(other.Addr); c != 0 {
		return c
	}
	if m.Resolved != other.Resolved {
		if !m.Resolved {
			return -1
		}
		return 1
	}
	return cmp.Compare(m.Interface, other.Interface)
}

// Equal reports whether both next hops are identical.
func (m NextHop) Equal(other NextHop) bool {
	return m.Compare(other) == 0
}

// WithPushedLabels returns a copy of the next hop with the given labels
// pushed inside its own label stack.
func (m NextHop) WithPushedLabels(inner []Label) NextHop {
	if len(inner) == 0 {
		return m
	}
	labels := make([]Label, 0, len(inner)+len(m.Labels))
	labels = append(labels, inner...)
	labels = append(labels, m.Labels...)
	m.Labels = labels
	return m
}

func (m NextHop) String() string {
	b := strings.Builder{}
	b.WriteString(m.Addr.String())
	if m.Resolved {
		fmt.Fprintf(&b, "@if%d", m.Interface)
	}
	if m.Weight != ECMPWeight {
		fmt.Fprintf(&b, " weight %d", m.Weight)
	}
	if len(m.Labels) > 0 {
		fmt.Fprintf(&b, " labels %v", m.Labels)
	}
	return b.String()
}

// NextHopSet is a sorted set of next hops.
//
// Next hops sharing the same (address, interface) pair are a single member.
type NextHopSet []NextHop

// NewNextHopSet builds a set from the given next hops.
func NewNextHopSet(nexthops ...NextHop) NextHopSet {
	if len(nexthops) == 0 {
		return nil
	}

	out := slices.Clone(nexthops)
	slices.SortFunc(out, NextHop.Compare)
	return slices.CompactFunc(out, func(a NextHop, b NextHop) bool {
		return a.compareTarget(b) == 0
	})
}

// Equal reports whether both sets contain the same next hops.
func (m NextHopSet) Equal(other NextHopSet) bool {
	return slices.EqualFunc(m, other, NextHop.Equal)
}

func (m NextHopSet) String() string {
	parts := make([]string, 0, len(m))
	for _, nh := range m {
		parts = append(parts, nh.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
