package neigh

import (
	"github.com/vishvananda/netlink"
)

// NeighbourState is a type wrapper for Neighbor Cache Entry State.
type NeighbourState int

// IsValid reports whether the kernel has a usable link address for the
// neighbour.
func (m NeighbourState) IsValid() bool {
	const valid = netlink.NUD_REACHABLE | netlink.NUD_STALE | netlink.NUD_DELAY |
		netlink.NUD_PROBE | netlink.NUD_PERMANENT

	return int(m)&valid != 0
}

func (m NeighbourState) String() string {
	switch m {
	case netlink.NUD_NONE:
		return "NONE"
	case netlink.NUD_INCOMPLETE:
		return "INCOMPLETE"
	case netlink.NUD_REACHABLE:
		return "REACHABLE"
	case netlink.NUD_STALE:
		return "STALE"
	case netlink.NUD_DELAY:
		return "DELAY"
	case netlink.NUD_PROBE:
		return "PROBE"
	case netlink.NUD_FAILED:
		return "FAILED"
	case netlink.NUD_NOARP:
		return "NOARP"
	case netlink.NUD_PERMANENT:
		return "PERMANENT"
	default:
		return "UNKNOWN"
	}
}
