package agent

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/switchagent/common/go/logging"
	"github.com/yanet-platform/switchagent/common/go/xnetip"
	"github.com/yanet-platform/switchagent/controlplane/internal/hw"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// Config is a validating wrapper around the config struct.
type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Hardware describes resources of the simulated ASIC.
	Hardware *hw.Config `yaml:"hardware"`
	// Rib configures routing tables.
	Rib RibConfig `yaml:"rib"`
	// Metrics configures the prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
	// Discovery configures netlink monitors.
	Discovery DiscoveryConfig `yaml:"discovery"`

	Ports        []PortConfig        `yaml:"ports"`
	Vlans        []VlanConfig        `yaml:"vlans"`
	Interfaces   []InterfaceConfig   `yaml:"interfaces"`
	Acls         []AclConfig         `yaml:"acls"`
	StaticRoutes []StaticRouteConfig `yaml:"static_routes"`
}

// RibConfig configures routing tables.
type RibConfig struct {
	// VerifyLookups cross-checks every fast path lookup against the
	// reference trie. Slow, meant for testing.
	VerifyLookups bool `yaml:"verify_lookups"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Endpoint is the listen address. Metrics are not served when empty.
	Endpoint string `yaml:"endpoint"`
}

// DiscoveryConfig configures netlink monitors.
type DiscoveryConfig struct {
	// Enable starts link and neighbour monitors. When disabled, all
	// configured ports are considered up.
	Enable bool `yaml:"enable"`
	// LinkMap maps kernel link names to switch ports.
	LinkMap map[string]state.PortID `yaml:"link_map"`
	// NeighbourRefresh is the interval of full neighbour table dumps.
	NeighbourRefresh time.Duration `yaml:"neighbour_refresh"`
}

type PortConfig struct {
	ID     state.PortID `yaml:"id"`
	Name   string       `yaml:"name"`
	VlanID state.VlanID `yaml:"vlan_id"`
}

type VlanConfig struct {
	ID    state.VlanID   `yaml:"id"`
	Name  string         `yaml:"name"`
	Ports []state.PortID `yaml:"ports"`
}

type InterfaceConfig struct {
	ID        route.InterfaceID `yaml:"id"`
	RouterID  route.RouterID    `yaml:"router_id"`
	VlanID    state.VlanID      `yaml:"vlan_id"`
	Name      string            `yaml:"name"`
	MAC       string            `yaml:"mac"`
	Addresses []string          `yaml:"addresses"`
}

type AclConfig struct {
	Name     string `yaml:"name"`
	Priority uint32 `yaml:"priority"`
	// Action is either "permit" or "deny".
	Action  string `yaml:"action"`
	Src     string `yaml:"src"`
	Dst     string `yaml:"dst"`
	Proto   uint8  `yaml:"proto"`
	SrcPort uint16 `yaml:"src_port"`
	DstPort uint16 `yaml:"dst_port"`
}

type NextHopConfig struct {
	Addr   string        `yaml:"addr"`
	Weight route.Weight  `yaml:"weight"`
	Labels []route.Label `yaml:"labels"`
}

type StaticRouteConfig struct {
	RouterID route.RouterID  `yaml:"router_id"`
	Prefix   string          `yaml:"prefix"`
	NextHops []NextHopConfig `yaml:"nexthops"`
	// Action is used when no next hops are given: "drop" or "to_cpu".
	Action string `yaml:"action"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level: zapcore.InfoLevel,
		},
		Hardware: hw.DefaultConfig(),
		Discovery: DiscoveryConfig{
			LinkMap:          map[string]state.PortID{},
			NeighbourRefresh: 5 * time.Minute,
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(buf)
}

// ParseConfig decodes the YAML configuration over the defaults.
func ParseConfig(buf []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
//
// To avoid infinite recursion, the validating wrapper casts itself to the
// private config struct. This allows the decoder to operate on it using the
// default behavior for handling Go structs without an unmarshal method.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	err := value.Decode((*config)(m))
	if err != nil {
		return err
	}
	return m.Validate()
}

// Validate checks the configuration for errors that do not depend on the
// switch state.
func (m *Config) Validate() error {
	if m.Hardware == nil {
		return fmt.Errorf("hardware is not configured")
	}
	if err := m.Hardware.Validate(); err != nil {
		return fmt.Errorf("invalid hardware config: %w", err)
	}
	if m.Discovery.Enable && m.Discovery.NeighbourRefresh <= 0 {
		return fmt.Errorf("neighbour refresh interval must be positive")
	}

	errs := []error{}
	for _, intf := range m.Interfaces {
		if _, err := intf.build(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, acl := range m.Acls {
		if _, err := acl.build(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range m.StaticRoutes {
		if _, _, err := r.build(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m PortConfig) build(operUp bool) state.Port {
	return state.Port{
		ID:     m.ID,
		Name:   m.Name,
		OperUp: operUp,
		VlanID: m.VlanID,
	}
}

func (m VlanConfig) build() state.Vlan {
	return state.Vlan{
		ID:    m.ID,
		Name:  m.Name,
		Ports: m.Ports,
	}
}

func (m InterfaceConfig) build() (state.Interface, error) {
	intf := state.Interface{
		ID:       m.ID,
		RouterID: m.RouterID,
		VlanID:   m.VlanID,
		Name:     m.Name,
	}

	if m.MAC != "" {
		mac, err := net.ParseMAC(m.MAC)
		if err != nil {
			return state.Interface{}, fmt.Errorf("interface %d: %w", m.ID, err)
		}
		intf.MAC = mac
	}

	for _, addr := range m.Addresses {
		prefix, err := netip.ParsePrefix(addr)
		if err != nil {
			return state.Interface{}, fmt.Errorf("interface %d: %w", m.ID, err)
		}
		intf.Addresses = append(intf.Addresses, prefix)
	}
	return intf, nil
}

func (m AclConfig) build() (state.AclEntry, error) {
	entry := state.AclEntry{
		Name:     m.Name,
		Priority: m.Priority,
		Proto:    m.Proto,
		SrcPort:  m.SrcPort,
		DstPort:  m.DstPort,
	}

	switch strings.ToLower(m.Action) {
	case "permit":
		entry.Action = state.AclPermit
	case "deny", "":
		entry.Action = state.AclDeny
	default:
		return state.AclEntry{}, fmt.Errorf("acl %q: unknown action %q", m.Name, m.Action)
	}

	var err error
	if m.Src != "" {
		if entry.Src, err = xnetip.ParsePrefix(m.Src); err != nil {
			return state.AclEntry{}, fmt.Errorf("acl %q: %w", m.Name, err)
		}
	}
	if m.Dst != "" {
		if entry.Dst, err = xnetip.ParsePrefix(m.Dst); err != nil {
			return state.AclEntry{}, fmt.Errorf("acl %q: %w", m.Name, err)
		}
	}
	return entry, nil
}

func (m StaticRouteConfig) build() (netip.Prefix, route.NextHopEntry, error) {
	prefix, err := xnetip.ParsePrefix(m.Prefix)
	if err != nil {
		return netip.Prefix{}, route.NextHopEntry{}, fmt.Errorf("static route %q: %w", m.Prefix, err)
	}

	r := UnicastRoute{Prefix: prefix}
	if len(m.NextHops) == 0 {
		action, err := route.ParseForwardAction(m.Action)
		if err != nil {
			return netip.Prefix{}, route.NextHopEntry{}, fmt.Errorf("static route %q: %w", m.Prefix, err)
		}
		r.Action = action
	}
	for _, nh := range m.NextHops {
		addr, err := netip.ParseAddr(nh.Addr)
		if err != nil {
			return netip.Prefix{}, route.NextHopEntry{}, fmt.Errorf("static route %q: %w", m.Prefix, err)
		}
		r.NextHops = append(r.NextHops, route.NewNextHop(addr, nh.Weight, nh.Labels...))
	}

	entry := r.entry(route.ClientStatic)
	if err := entry.Validate(); err != nil {
		return netip.Prefix{}, route.NextHopEntry{}, fmt.Errorf("static route %q: %w", m.Prefix, err)
	}
	return prefix, entry, nil
}
