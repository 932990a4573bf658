package route

import (
	"fmt"
	"net/netip"
	"strings"
)

// RouterID identifies a virtual router (VRF).
type RouterID uint32

// InterfaceID identifies a routed L3 interface.
type InterfaceID uint32

// ClientID identifies the originator of a route entry.
type ClientID int32

// Well-known route originators.
const (
	ClientBGP            ClientID = 0
	ClientStatic         ClientID = 1
	ClientInterfaceRoute ClientID = 2
	ClientLinkLocal      ClientID = 3
	ClientStaticInternal ClientID = 700
	ClientOpenR          ClientID = 786
)

func (m ClientID) String() string {
	switch m {
	case ClientBGP:
		return "bgp"
	case ClientStatic:
		return "static"
	case ClientInterfaceRoute:
		return "interface"
	case ClientLinkLocal:
		return "link-local"
	case ClientStaticInternal:
		return "static-internal"
	case ClientOpenR:
		return "openr"
	default:
		return fmt.Sprintf("client-%d", int32(m))
	}
}

// AdminDistance is a per-client priority used to pick the winning entry of
// a route. Lower is better.
type AdminDistance uint8

const (
	DistanceConnected AdminDistance = 0
	DistanceStatic    AdminDistance = 1
	DistanceOpenR     AdminDistance = 10
	DistanceEBGP      AdminDistance = 20
	DistanceIBGP      AdminDistance = 200
	DistanceMax       AdminDistance = 255
)

// DefaultDistance returns the administrative distance used for entries of
// the given client when the client does not specify one.
func DefaultDistance(client ClientID) AdminDistance {
	switch client {
	case ClientInterfaceRoute, ClientLinkLocal:
		return DistanceConnected
	case ClientStatic:
		return DistanceStatic
	case ClientOpenR:
		return DistanceOpenR
	case ClientBGP:
		return DistanceEBGP
	default:
		return DistanceMax
	}
}

// ForwardAction describes what the forwarding plane does with a packet.
type ForwardAction uint8

const (
	ActionDrop ForwardAction = iota
	ActionToCPU
	ActionNextHops
)

func (m ForwardAction) String() string {
	switch m {
	case ActionDrop:
		return "drop"
	case ActionToCPU:
		return "to_cpu"
	case ActionNextHops:
		return "nexthops"
	default:
		return fmt.Sprintf("action(%d)", uint8(m))
	}
}

// ParseForwardAction parses the textual form of a forward action.
func ParseForwardAction(s string) (ForwardAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop", "null":
		return ActionDrop, nil
	case "to_cpu", "tocpu", "cpu":
		return ActionToCPU, nil
	case "nexthops":
		return ActionNextHops, nil
	default:
		return 0, fmt.Errorf("unknown forward action %q", s)
	}
}

// Family is an address family of a routing table.
type Family uint8

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// Families lists all supported address families.
var Families = [...]Family{FamilyV4, FamilyV6}

// FamilyOf returns the address family of the given address.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return FamilyV4
	}
	return FamilyV6
}

// DefaultPrefix returns the default route prefix of the family.
func (m Family) DefaultPrefix() netip.Prefix {
	if m == FamilyV4 {
		return netip.PrefixFrom(netip.IPv4Unspecified(), 0)
	}
	return netip.PrefixFrom(netip.IPv6Unspecified(), 0)
}

func (m Family) String() string {
	switch m {
	case FamilyV4:
		return "ipv4"
	case FamilyV6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", uint8(m))
	}
}
