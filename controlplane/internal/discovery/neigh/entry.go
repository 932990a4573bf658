package neigh

import (
	"bytes"
	"net"
	"net/netip"
	"time"

	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// NeighbourEntry is a kernel neighbour learned on a switch port.
type NeighbourEntry struct {
	// Addr is the IP address of the neighbour.
	Addr netip.Addr
	// LinkAddr is the MAC address of the neighbour.
	LinkAddr net.HardwareAddr
	// Link is the name of the kernel link the neighbour was observed on.
	Link string
	// Port is the switch port the link is mapped to.
	Port state.PortID
	// UpdatedAt is the timestamp when this entry was last updated.
	UpdatedAt time.Time
	// State is the kernel state of the neighbour entry.
	State NeighbourState
}

func (m NeighbourEntry) sameBinding(other NeighbourEntry) bool {
	return m.Port == other.Port && bytes.Equal(m.LinkAddr, other.LinkAddr)
}
