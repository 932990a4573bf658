package state

import (
	"bytes"
	"cmp"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

// PortID identifies a physical port.
type PortID uint32

// VlanID identifies a VLAN.
type VlanID uint16

// Port is a physical switch port.
type Port struct {
	ID     PortID
	Name   string
	OperUp bool
	VlanID VlanID
}

func (m Port) String() string {
	state := "down"
	if m.OperUp {
		state = "up"
	}
	return fmt.Sprintf("port %d(%s) %s", m.ID, m.Name, state)
}

// NeighborState is the resolution state of a neighbor entry.
type NeighborState uint8

const (
	NeighborReachable NeighborState = iota
	NeighborPending
)

func (m NeighborState) String() string {
	if m == NeighborPending {
		return "pending"
	}
	return "reachable"
}

// NeighborEntry is a learned ARP or NDP entry.
type NeighborEntry struct {
	IP        netip.Addr
	MAC       net.HardwareAddr
	Port      PortID
	Interface route.InterfaceID
	State     NeighborState
}

// Equal reports whether both entries are identical.
func (m NeighborEntry) Equal(other NeighborEntry) bool {
	return m.IP == other.IP &&
		bytes.Equal(m.MAC, other.MAC) &&
		m.Port == other.Port &&
		m.Interface == other.Interface &&
		m.State == other.State
}

// NeighborTable maps neighbor addresses to entries.
type NeighborTable = NodeMap[netip.Addr, NeighborEntry]

// Vlan is an L2 domain together with neighbors learned on it.
type Vlan struct {
	ID    VlanID
	Name  string
	Ports []PortID
	Arp   *NeighborTable
	Ndp   *NeighborTable
}

// NeighborTable returns the ARP or NDP table depending on the address
// family.
func (m Vlan) NeighborTable(addr netip.Addr) *NeighborTable {
	if route.FamilyOf(addr) == route.FamilyV4 {
		return m.Arp
	}
	return m.Ndp
}

// WithNeighborTable returns a copy of the VLAN with the table of the
// family replaced.
func (m Vlan) WithNeighborTable(family route.Family, table *NeighborTable) Vlan {
	if family == route.FamilyV4 {
		m.Arp = table
	} else {
		m.Ndp = table
	}
	return m
}

// Equal reports whether both VLANs are identical. Neighbor tables are
// compared by identity.
func (m Vlan) Equal(other Vlan) bool {
	return m.ID == other.ID &&
		m.Name == other.Name &&
		slices.Equal(m.Ports, other.Ports) &&
		m.Arp == other.Arp &&
		m.Ndp == other.Ndp
}

// Interface is a routed L3 interface bound to a VLAN and a virtual router.
type Interface struct {
	ID        route.InterfaceID
	RouterID  route.RouterID
	VlanID    VlanID
	Name      string
	MAC       net.HardwareAddr
	Addresses []netip.Prefix
}

// Equal reports whether both interfaces are identical.
func (m Interface) Equal(other Interface) bool {
	return m.ID == other.ID &&
		m.RouterID == other.RouterID &&
		m.VlanID == other.VlanID &&
		m.Name == other.Name &&
		bytes.Equal(m.MAC, other.MAC) &&
		slices.Equal(m.Addresses, other.Addresses)
}

// AclAction is the action of a matched ACL entry.
type AclAction uint8

const (
	AclDeny AclAction = iota
	AclPermit
)

// AclEntry is a single ACL rule.
//
// Zero values of qualifiers mean "any".
type AclEntry struct {
	Name     string
	Priority uint32
	Action   AclAction
	Src      netip.Prefix
	Dst      netip.Prefix
	Proto    uint8
	SrcPort  uint16
	DstPort  uint16
}

// HasQualifiers reports whether the entry matches on anything at all.
func (m AclEntry) HasQualifiers() bool {
	return m.Src.IsValid() ||
		m.Dst.IsValid() ||
		m.Proto != 0 ||
		m.SrcPort != 0 ||
		m.DstPort != 0
}

func comparePorts(a PortID, b PortID) int {
	return cmp.Compare(a, b)
}

func compareVlans(a VlanID, b VlanID) int {
	return cmp.Compare(a, b)
}

func compareInterfaces(a route.InterfaceID, b route.InterfaceID) int {
	return cmp.Compare(a, b)
}
