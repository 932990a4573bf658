package agent

import (
	"net/netip"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

const testConfig = `
logging:
  level: debug
hardware:
  table_memory: 1MB
  route_entry_size: 32B
  max_next_hops: 128
  max_ecmp_width: 16
  max_ecmp_groups: 64
  max_acl_entries: 32
rib:
  verify_lookups: true
discovery:
  link_map:
    eth1: 1
    eth2: 2
  neighbour_refresh: 1m
ports:
  - {id: 1, name: eth1, vlan_id: 1}
  - {id: 2, name: eth2, vlan_id: 1}
vlans:
  - {id: 1, name: servers, ports: [1, 2]}
interfaces:
  - id: 1
    vlan_id: 1
    mac: "02:00:00:00:00:01"
    addresses: [10.0.0.1/24, "2001:db8::1/64"]
acls:
  - {name: ssh, priority: 10, action: permit, dst: 10.0.0.0/24, proto: 6, dst_port: 22}
static_routes:
  - prefix: 40.0.0.0/8
    nexthops:
      - {addr: 50.0.0.1}
  - prefix: 192.168.0.0/16
    action: to_cpu
  - prefix: "2001:db8:1::/48"
    nexthops:
      - {addr: "2001:db8::2", weight: 2, labels: [100]}
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	require.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	require.Equal(t, datasize.MB, cfg.Hardware.TableMemory)
	require.Equal(t, 32768, cfg.Hardware.RouteCapacity())
	require.True(t, cfg.Rib.VerifyLookups)
	require.Equal(t, map[string]state.PortID{"eth1": 1, "eth2": 2}, cfg.Discovery.LinkMap)
	require.Equal(t, time.Minute, cfg.Discovery.NeighbourRefresh)
	require.Len(t, cfg.Ports, 2)
	require.Equal(t, []state.PortID{1, 2}, cfg.Vlans[0].Ports)

	intf, err := cfg.Interfaces[0].build()
	require.NoError(t, err)
	require.Equal(t, "02:00:00:00:00:01", intf.MAC.String())
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.1/24"),
		netip.MustParsePrefix("2001:db8::1/64"),
	}, intf.Addresses)

	acl, err := cfg.Acls[0].build()
	require.NoError(t, err)
	require.Equal(t, state.AclPermit, acl.Action)
	require.True(t, acl.HasQualifiers())

	prefix, entry, err := cfg.StaticRoutes[1].build()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("192.168.0.0/16"), prefix)
	require.Equal(t, route.ActionToCPU, entry.Action)
	require.Equal(t, route.DistanceStatic, entry.Distance)

	_, entry, err = cfg.StaticRoutes[2].build()
	require.NoError(t, err)
	require.Equal(t, route.ActionNextHops, entry.Action)
	require.Len(t, entry.NextHops, 1)
	require.Equal(t, route.Weight(2), entry.NextHops[0].Weight)
	require.Equal(t, []route.Label{100}, entry.NextHops[0].Labels)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("metrics: {endpoint: \"[::1]:9100\"}\n"))
	require.NoError(t, err)

	require.Equal(t, zapcore.InfoLevel, cfg.Logging.Level)
	require.Equal(t, 4*datasize.MB, cfg.Hardware.TableMemory)
	require.Equal(t, "[::1]:9100", cfg.Metrics.Endpoint)
	require.False(t, cfg.Discovery.Enable)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		config string
	}{
		{"acl action", "acls: [{name: a, action: reject, proto: 6}]"},
		{"interface address", "interfaces: [{id: 1, addresses: [10.0.0.300/24]}]"},
		{"interface mac", "interfaces: [{id: 1, mac: zz}]"},
		{"route prefix", "static_routes: [{prefix: 10.0.0.0/40, action: drop}]"},
		{"route action", "static_routes: [{prefix: 10.0.0.0/8, action: forward}]"},
		{"route nexthop", "static_routes: [{prefix: 10.0.0.0/8, nexthops: [{addr: x}]}]"},
		{"hardware", "hardware: {route_entry_size: 0B}"},
		{"neighbour refresh", "discovery: {enable: true, neighbour_refresh: 0s}"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(c.config))
			require.Error(t, err)
		})
	}
}
