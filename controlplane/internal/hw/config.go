package hw

import (
	"fmt"

	"github.com/c2h5oh/datasize"
)

// Config describes the simulated ASIC resources.
type Config struct {
	// TableMemory is the memory of the route table.
	TableMemory datasize.ByteSize `yaml:"table_memory"`
	// RouteEntrySize is the memory a single route entry occupies.
	RouteEntrySize datasize.ByteSize `yaml:"route_entry_size"`
	// MaxNextHops is the size of the next hop table.
	MaxNextHops int `yaml:"max_next_hops"`
	// MaxEcmpWidth is the maximum number of members of an ECMP group.
	MaxEcmpWidth int `yaml:"max_ecmp_width"`
	// MaxEcmpGroups is the maximum number of distinct ECMP groups.
	MaxEcmpGroups int `yaml:"max_ecmp_groups"`
	// MaxAclEntries is the maximum number of ACL entries.
	MaxAclEntries int `yaml:"max_acl_entries"`
}

// DefaultConfig returns resources of a small switch.
func DefaultConfig() *Config {
	return &Config{
		TableMemory:    4 * datasize.MB,
		RouteEntrySize: 64 * datasize.B,
		MaxNextHops:    MaxNextHops,
		MaxEcmpWidth:   64,
		MaxEcmpGroups:  256,
		MaxAclEntries:  512,
	}
}

// Validate checks the configuration.
func (m *Config) Validate() error {
	if m.RouteEntrySize == 0 {
		return fmt.Errorf("route entry size must be positive")
	}
	if m.MaxNextHops <= 0 || m.MaxNextHops > MaxNextHops {
		return fmt.Errorf("max next hops must be in range [1, %d], got %d", MaxNextHops, m.MaxNextHops)
	}
	if m.MaxEcmpWidth <= 0 {
		return fmt.Errorf("max ecmp width must be positive")
	}
	return nil
}

// RouteCapacity returns the number of routes fitting into the table.
func (m *Config) RouteCapacity() int {
	return int(m.TableMemory.Bytes() / m.RouteEntrySize.Bytes())
}
