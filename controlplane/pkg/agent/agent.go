package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/switchagent/controlplane/internal/discovery/link"
	"github.com/yanet-platform/switchagent/controlplane/internal/discovery/neigh"
	"github.com/yanet-platform/switchagent/controlplane/internal/hw"
	"github.com/yanet-platform/switchagent/controlplane/internal/neighbor"
	"github.com/yanet-platform/switchagent/controlplane/internal/pipeline"
	"github.com/yanet-platform/switchagent/controlplane/internal/resolver"
	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/routeupdate"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

type options struct {
	Log      *zap.SugaredLogger
	Hardware hw.Switch
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// AgentOption configures the Agent.
type AgentOption func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) AgentOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithHardware replaces the simulated ASIC built from the hardware config.
func WithHardware(sw hw.Switch) AgentOption {
	return func(o *options) {
		o.Hardware = sw
	}
}

// Agent is the switch control plane.
//
// It owns the state pipeline and exposes route programming and state
// queries on top of it.
type Agent struct {
	cfg       *Config
	log       *zap.SugaredLogger
	hardware  hw.Switch
	sim       *hw.SimSwitch
	registry  *prometheus.Registry
	resolver  *resolver.Resolver
	updater   *pipeline.Updater
	neighbors *neighbor.Updater
	ready     chan struct{}
}

// NewAgent creates a new Agent.
func NewAgent(cfg *Config, options ...AgentOption) (*Agent, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := opts.Log
	hardware := opts.Hardware
	var sim *hw.SimSwitch
	if hardware == nil {
		var err error
		sim, err = hw.NewSimSwitch(cfg.Hardware, hw.WithLog(log.Named("hw")))
		if err != nil {
			return nil, fmt.Errorf("failed to create simulated switch: %w", err)
		}
		hardware = sim
	}

	registry := prometheus.NewRegistry()
	initial := state.NewSwitchState(rib.Options{VerifyLookups: cfg.Rib.VerifyLookups})
	updater := pipeline.NewUpdater(initial, hardware,
		pipeline.WithLog(log.Named("pipeline")),
		pipeline.WithRegisterer(registry),
	)
	neighbors := neighbor.NewUpdater(updater, neighbor.WithLog(log.Named("neighbor")))
	updater.RegisterObserver(neighbors)

	return &Agent{
		cfg:       cfg,
		log:       log,
		hardware:  hardware,
		sim:       sim,
		registry:  registry,
		resolver:  resolver.NewResolver(resolver.WithLog(log.Named("resolver"))),
		updater:   updater,
		neighbors: neighbors,
		ready:     make(chan struct{}),
	}, nil
}

// Run runs the agent until the context is canceled or any of its
// components fails.
func (m *Agent) Run(ctx context.Context) error {
	m.log.Infow("starting switch agent")
	defer m.log.Infow("stopped switch agent")

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.updater.Run(ctx)
	})
	wg.Go(func() error {
		return m.neighbors.Run(ctx)
	})
	wg.Go(func() error {
		if err := m.ApplyConfig(ctx); err != nil {
			return err
		}
		close(m.ready)

		m.log.Infow("switch agent is ready", zap.Uint64("version", m.State().Version()))
		return nil
	})

	if m.cfg.Discovery.Enable {
		links := link.NewLinkMonitor(link.NewLinksCache(), m,
			link.WithLog(m.log.Named("link")),
			link.WithLinkMap(m.cfg.Discovery.LinkMap),
		)
		neighs := neigh.NewNeighMonitor(neigh.NewNeighbourCache(), m,
			neigh.WithLog(m.log.Named("neigh")),
			neigh.WithLinkMap(m.cfg.Discovery.LinkMap),
			neigh.WithUpdateInterval(m.cfg.Discovery.NeighbourRefresh),
		)

		wg.Go(func() error {
			if err := m.WaitReady(ctx); err != nil {
				return err
			}
			return links.Run(ctx)
		})
		wg.Go(func() error {
			if err := m.WaitReady(ctx); err != nil {
				return err
			}
			return neighs.Run(ctx)
		})
	}

	if m.cfg.Metrics.Endpoint != "" {
		wg.Go(func() error {
			return m.serveMetrics(ctx)
		})
	}

	return wg.Wait()
}

// ApplyConfig programs ports, VLANs, interfaces, ACLs and static routes
// from the configuration.
func (m *Agent) ApplyConfig(ctx context.Context) error {
	portsUp := !m.cfg.Discovery.Enable

	_, err := m.updater.UpdateStateBlocking(ctx, "apply config", func(s *state.SwitchState) (*state.SwitchState, error) {
		next := s.Clone()
		for _, port := range m.cfg.Ports {
			next.SetPort(port.build(portsUp))
		}
		for _, vlan := range m.cfg.Vlans {
			next.SetVlan(vlan.build())
		}
		for _, cfg := range m.cfg.Interfaces {
			intf, err := cfg.build()
			if err != nil {
				return nil, err
			}
			next.SetInterface(intf)
		}
		for _, cfg := range m.cfg.Acls {
			acl, err := cfg.build()
			if err != nil {
				return nil, err
			}
			next.SetAcl(acl)
		}

		return routeupdate.InterfaceRoutes(next, m.resolver).Apply(next)
	}, false)
	if err != nil {
		return fmt.Errorf("failed to apply config: %w", err)
	}

	routers := map[route.RouterID][]routeupdate.Entry{}
	for _, cfg := range m.cfg.StaticRoutes {
		prefix, entry, err := cfg.build()
		if err != nil {
			return err
		}
		routers[cfg.RouterID] = append(routers[cfg.RouterID], routeupdate.Entry{Prefix: prefix, Entry: entry})
	}

	wrapper := m.wrapper()
	for rid, entries := range routers {
		wrapper.SyncFib(rid, route.ClientStatic, entries)
	}
	if _, err := wrapper.Program(ctx); err != nil {
		return fmt.Errorf("failed to apply static routes: %w", err)
	}

	m.log.Infow("applied config",
		zap.Int("ports", len(m.cfg.Ports)),
		zap.Int("interfaces", len(m.cfg.Interfaces)),
		zap.Int("static_routes", len(m.cfg.StaticRoutes)),
	)
	return nil
}

// WaitReady blocks until the configuration is applied.
func (m *Agent) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Agent) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Timeout: time.Minute}))

	server := &http.Server{
		Addr:              m.cfg.Metrics.Endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	m.log.Infow("exporting prometheus metrics", zap.String("endpoint", m.cfg.Metrics.Endpoint))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}
	return ctx.Err()
}

func (m *Agent) wrapper() *routeupdate.Wrapper {
	return routeupdate.NewWrapper(m.updater,
		routeupdate.WithLog(m.log.Named("routeupdate")),
		routeupdate.WithResolver(m.resolver),
	)
}

// State returns the published switch state.
func (m *Agent) State() *state.SwitchState {
	return m.updater.State()
}

// Registry returns the registry of agent metrics.
func (m *Agent) Registry() *prometheus.Registry {
	return m.registry
}

// Hardware returns the simulated ASIC, or nil if the agent was created
// with another hardware.
func (m *Agent) Hardware() *hw.SimSwitch {
	return m.sim
}

// UpdateState enqueues the update function.
func (m *Agent) UpdateState(name string, fn pipeline.UpdateFn) {
	m.updater.UpdateState(name, fn)
}

// UpdateStateBlocking applies the update function and returns the state
// published as its result.
func (m *Agent) UpdateStateBlocking(ctx context.Context, name string, fn pipeline.UpdateFn, transactional bool) (*state.SwitchState, error) {
	return m.updater.UpdateStateBlocking(ctx, name, fn, transactional)
}

// WaitForStateUpdates blocks until every update enqueued before the call
// is applied.
func (m *Agent) WaitForStateUpdates(ctx context.Context) error {
	return m.updater.WaitForUpdates(ctx)
}

// AppliedAndDesiredStatesMatch reports whether hardware is in sync with
// the software state.
func (m *Agent) AppliedAndDesiredStatesMatch() bool {
	return m.updater.AppliedAndDesiredStatesMatch()
}

// LinkStateChanged records operational state of the port.
//
// Every transition is delivered to hardware individually.
func (m *Agent) LinkStateChanged(id state.PortID, up bool) {
	name := fmt.Sprintf("port %d oper state up=%t", id, up)
	m.updater.UpdateStateNoCoalescing(name, func(s *state.SwitchState) (*state.SwitchState, error) {
		port, ok := s.Port(id)
		if !ok {
			m.log.Warnw("state change of unknown port", zap.Uint32("port", uint32(id)))
			return s, nil
		}
		if port.OperUp == up {
			return s, nil
		}

		port.OperUp = up
		next := s.Clone()
		next.SetPort(port)
		return next, nil
	})
}

// NeighborDiscovered learns the neighbour in the VLAN of the port.
func (m *Agent) NeighborDiscovered(id state.PortID, ip netip.Addr, mac net.HardwareAddr) {
	port, ok := m.State().Port(id)
	if !ok {
		m.log.Debugw("neighbour on unknown port", zap.Uint32("port", uint32(id)), zap.Stringer("ip", ip))
		return
	}

	if route.FamilyOf(ip) == route.FamilyV4 {
		m.neighbors.ReceivedArp(port.VlanID, ip, mac, id)
	} else {
		m.neighbors.ReceivedNdp(port.VlanID, ip, mac, id)
	}
}

// ReceivedArp learns an ARP entry.
func (m *Agent) ReceivedArp(vlan state.VlanID, ip netip.Addr, mac net.HardwareAddr, port state.PortID) {
	m.neighbors.ReceivedArp(vlan, ip, mac, port)
}

// ReceivedNdp learns an NDP entry.
func (m *Agent) ReceivedNdp(vlan state.VlanID, ip netip.Addr, mac net.HardwareAddr, port state.PortID) {
	m.neighbors.ReceivedNdp(vlan, ip, mac, port)
}

// WaitForNeighbors blocks until pending neighbour purges are applied.
func (m *Agent) WaitForNeighbors(ctx context.Context) error {
	if err := m.updater.WaitForUpdates(ctx); err != nil {
		return err
	}
	if err := m.neighbors.WaitForPending(ctx); err != nil {
		return err
	}
	return m.updater.WaitForUpdates(ctx)
}
