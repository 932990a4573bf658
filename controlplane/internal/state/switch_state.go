package state

import (
	"cmp"
	"net/netip"
	"slices"

	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

// SwitchState is an immutable snapshot of the whole switch configuration.
//
// A state is built by cloning the previous one and replacing subtrees.
// Once published, every setter panics.
type SwitchState struct {
	published   bool
	version     uint64
	ribOptions  rib.Options
	ports       *NodeMap[PortID, Port]
	vlans       *NodeMap[VlanID, Vlan]
	interfaces  *NodeMap[route.InterfaceID, Interface]
	acls        *NodeMap[string, AclEntry]
	routeTables *rib.RouteTableMap
}

// NewSwitchState returns an empty unpublished state with route tables of
// the default router.
func NewSwitchState(opts rib.Options) *SwitchState {
	return &SwitchState{
		ribOptions:  opts,
		routeTables: rib.NewRouteTableMap(rib.NewRouteTable(0, opts)),
	}
}

// NewEmptySwitchState returns a published state without any nodes, not
// even route tables. It is the state hardware starts from.
func NewEmptySwitchState(opts rib.Options) *SwitchState {
	return &SwitchState{
		published:  true,
		ribOptions: opts,
	}
}

// Clone returns an unpublished copy of the state with the next version.
//
// Subtrees are shared with the original.
func (m *SwitchState) Clone() *SwitchState {
	out := *m
	out.published = false
	out.version = m.version + 1
	return &out
}

// Publish freezes the state.
func (m *SwitchState) Publish() {
	m.published = true
}

func (m *SwitchState) IsPublished() bool {
	return m.published
}

func (m *SwitchState) Version() uint64 {
	return m.version
}

func (m *SwitchState) RibOptions() rib.Options {
	return m.ribOptions
}

func (m *SwitchState) Ports() *NodeMap[PortID, Port] {
	return m.ports
}

func (m *SwitchState) Vlans() *NodeMap[VlanID, Vlan] {
	return m.vlans
}

func (m *SwitchState) Interfaces() *NodeMap[route.InterfaceID, Interface] {
	return m.interfaces
}

func (m *SwitchState) Acls() *NodeMap[string, AclEntry] {
	return m.acls
}

func (m *SwitchState) RouteTables() *rib.RouteTableMap {
	return m.routeTables
}

// Port returns the port with the given ID.
func (m *SwitchState) Port(id PortID) (Port, bool) {
	return m.ports.Get(id)
}

// Vlan returns the VLAN with the given ID.
func (m *SwitchState) Vlan(id VlanID) (Vlan, bool) {
	return m.vlans.Get(id)
}

// Interface returns the interface with the given ID.
func (m *SwitchState) Interface(id route.InterfaceID) (Interface, bool) {
	return m.interfaces.Get(id)
}

// PortList returns ports ordered by ID.
func (m *SwitchState) PortList() []Port {
	return m.ports.Values(comparePorts)
}

// VlanList returns VLANs ordered by ID.
func (m *SwitchState) VlanList() []Vlan {
	return m.vlans.Values(compareVlans)
}

// InterfaceList returns interfaces ordered by ID.
func (m *SwitchState) InterfaceList() []Interface {
	return m.interfaces.Values(compareInterfaces)
}

// AclList returns ACL entries ordered by priority, then name.
func (m *SwitchState) AclList() []AclEntry {
	out := m.acls.Values(cmp.Compare[string])
	slices.SortStableFunc(out, func(a AclEntry, b AclEntry) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return out
}

// InterfaceFor returns the interface of the router whose subnet covers the
// address.
func (m *SwitchState) InterfaceFor(rid route.RouterID, addr netip.Addr) (Interface, bool) {
	addr = addr.Unmap()
	for _, intf := range m.InterfaceList() {
		if intf.RouterID != rid {
			continue
		}
		for _, prefix := range intf.Addresses {
			if prefix.Contains(addr) {
				return intf, true
			}
		}
	}
	return Interface{}, false
}

// RouteTable returns route tables of the router, or nil.
func (m *SwitchState) RouteTable(id route.RouterID) *rib.RouteTable {
	return m.routeTables.Get(id)
}

// ModifyRouteTable starts modification of the router tables, creating
// them when the router does not exist yet.
func (m *SwitchState) ModifyRouteTable(id route.RouterID) *rib.RouteTableBuilder {
	rt := m.routeTables.Get(id)
	if rt == nil {
		rt = rib.NewRouteTable(id, m.ribOptions)
	}
	return rt.Modify()
}

func (m *SwitchState) SetPorts(ports *NodeMap[PortID, Port]) {
	m.writable()
	m.ports = ports
}

func (m *SwitchState) SetVlans(vlans *NodeMap[VlanID, Vlan]) {
	m.writable()
	m.vlans = vlans
}

func (m *SwitchState) SetInterfaces(interfaces *NodeMap[route.InterfaceID, Interface]) {
	m.writable()
	m.interfaces = interfaces
}

func (m *SwitchState) SetAcls(acls *NodeMap[string, AclEntry]) {
	m.writable()
	m.acls = acls
}

func (m *SwitchState) SetRouteTables(tables *rib.RouteTableMap) {
	m.writable()
	m.routeTables = tables
}

// SetPort replaces a single port.
func (m *SwitchState) SetPort(port Port) {
	m.SetPorts(m.ports.With(port.ID, port))
}

// SetVlan replaces a single VLAN.
func (m *SwitchState) SetVlan(vlan Vlan) {
	m.SetVlans(m.vlans.With(vlan.ID, vlan))
}

// SetInterface replaces a single interface.
func (m *SwitchState) SetInterface(intf Interface) {
	m.SetInterfaces(m.interfaces.With(intf.ID, intf))
}

// SetAcl replaces a single ACL entry.
func (m *SwitchState) SetAcl(acl AclEntry) {
	m.SetAcls(m.acls.With(acl.Name, acl))
}

// SetRouteTable replaces route tables of a single router.
func (m *SwitchState) SetRouteTable(rt *rib.RouteTable) {
	m.SetRouteTables(m.routeTables.With(rt))
}

func (m *SwitchState) writable() {
	if m.published {
		panic("modification of a published switch state")
	}
}
