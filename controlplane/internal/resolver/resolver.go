package resolver

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
)

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// ResolverOption configures the Resolver.
type ResolverOption func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) ResolverOption {
	return func(o *options) {
		o.Log = log
	}
}

// Stats describes a single resolution pass.
type Stats struct {
	// Routes is the number of walked routes.
	Routes int
	// Changed is the number of routes whose resolution changed.
	Changed int
	// Unresolvable is the number of routes left unresolvable.
	Unresolvable int
}

// Resolver computes forwarding information of routes by recursively
// resolving their next hops.
//
// Resolution never fails: cycles and lookup misses are recorded in the
// route status.
type Resolver struct {
	log *zap.SugaredLogger
}

// NewResolver creates a new Resolver.
func NewResolver(options ...ResolverOption) *Resolver {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Resolver{
		log: opts.Log,
	}
}

// result is the resolution outcome of a single route.
type result struct {
	fwd       route.ForwardInfo
	status    route.Status
	connected bool
}

func (m result) differs(r *route.Route) bool {
	return m.status != r.Status() ||
		m.connected != r.IsConnected() ||
		!m.fwd.Equal(r.Forward())
}

// frame is a route on the resolution stack.
type frame struct {
	route     *route.Route
	nexthops  []route.NextHop
	idx       int
	acc       []route.NextHop
	hasDrop   bool
	hasToCPU  bool
	connected bool
	inCycle   bool
}

// node tracks the resolution state of a prefix within a single pass.
type node struct {
	status route.Status
	// pos is the stack position while the node is being processed.
	pos    int
	result result
}

// Resolve re-walks every route of both families of the router and stores
// the new resolution into the routes that changed.
func (m *Resolver) Resolve(b *rib.RouteTableBuilder) Stats {
	routes := []*route.Route{}
	for _, family := range route.Families {
		routes = append(routes, b.Table(family).Routes()...)
	}

	p := pass{
		builder: b,
		nodes:   make(map[netip.Prefix]*node, len(routes)),
	}
	for _, r := range routes {
		p.resolve(r)
	}

	stats := Stats{Routes: len(routes)}
	for _, r := range routes {
		res := p.nodes[r.Prefix()].result
		if res.status == route.StatusUnresolvable {
			stats.Unresolvable++
		}
		if !res.differs(r) {
			continue
		}

		stats.Changed++
		w := b.Table(route.FamilyOf(r.Prefix().Addr())).Writable(r.Prefix())
		w.SetResolution(res.fwd, res.status, res.connected)
		m.log.Debugw("route resolution changed",
			zap.Uint32("router_id", uint32(b.ID())),
			zap.Stringer("route", w),
		)
	}

	m.log.Debugw("resolved routes",
		zap.Uint32("router_id", uint32(b.ID())),
		zap.Int("routes", stats.Routes),
		zap.Int("changed", stats.Changed),
		zap.Int("unresolvable", stats.Unresolvable),
	)
	return stats
}

type pass struct {
	builder *rib.RouteTableBuilder
	nodes   map[netip.Prefix]*node
	stack   []*frame
}

func (m *pass) resolve(r *route.Route) {
	if _, ok := m.nodes[r.Prefix()]; ok {
		return
	}

	m.push(r)
	for len(m.stack) > 0 {
		top := m.stack[len(m.stack)-1]
		if top.idx == len(top.nexthops) {
			m.pop()
			continue
		}

		nh := top.nexthops[top.idx]
		if m.step(top, nh) {
			top.idx++
		}
	}
}

// push puts the route on the stack, or finishes it immediately when no
// recursion is needed.
func (m *pass) push(r *route.Route) {
	best, ok := r.BestEntry()
	if !ok {
		m.nodes[r.Prefix()] = &node{
			status: route.StatusUnresolvable,
			result: result{
				fwd:    route.ForwardInfo{Action: route.ActionDrop},
				status: route.StatusUnresolvable,
			},
		}
		return
	}

	if best.Entry.Action != route.ActionNextHops {
		m.nodes[r.Prefix()] = &node{
			status: route.StatusResolved,
			result: result{
				fwd:    route.ForwardInfo{Action: best.Entry.Action},
				status: route.StatusResolved,
			},
		}
		return
	}

	m.nodes[r.Prefix()] = &node{
		status: route.StatusProcessing,
		pos:    len(m.stack),
	}
	m.stack = append(m.stack, &frame{
		route:     r,
		nexthops:  best.Entry.NextHops,
		connected: best.Client == route.ClientInterfaceRoute,
	})
}

// step resolves a single next hop of the frame and reports whether it is
// done. It returns false after pushing the route the next hop resolves
// through, so the next hop is retried once that route is finished.
func (m *pass) step(f *frame, nh route.NextHop) bool {
	if nh.Resolved {
		f.acc = append(f.acc, nh)
		return true
	}

	target := m.builder.LongestMatch(nh.Addr)
	if target == nil {
		return true
	}

	if intf, ok := connectedInterface(target); ok {
		f.acc = append(f.acc, route.NewResolvedNextHop(nh.Addr, intf, nh.Weight, nh.Labels...))
		return true
	}

	n, ok := m.nodes[target.Prefix()]
	if !ok {
		m.push(target)
		return false
	}

	switch n.status {
	case route.StatusProcessing:
		for _, cf := range m.stack[n.pos:] {
			cf.inCycle = true
		}
	default:
		merge(f, nh, n.result)
	}
	return true
}

func (m *pass) pop() {
	f := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]

	n := m.nodes[f.route.Prefix()]
	n.result = finish(f)
	n.status = n.result.status
}

func merge(f *frame, nh route.NextHop, res result) {
	if res.status != route.StatusResolved {
		return
	}

	switch res.fwd.Action {
	case route.ActionDrop:
		f.hasDrop = true
	case route.ActionToCPU:
		f.hasToCPU = true
	case route.ActionNextHops:
		for _, rnh := range res.fwd.NextHops {
			f.acc = append(f.acc, rnh.WithPushedLabels(nh.Labels))
		}
	}
}

func finish(f *frame) result {
	if f.inCycle {
		return result{
			fwd:    route.ForwardInfo{Action: route.ActionDrop},
			status: route.StatusUnresolvable,
		}
	}

	if nexthops := route.NewNextHopSet(f.acc...); len(nexthops) > 0 {
		return result{
			fwd:       route.ForwardInfo{Action: route.ActionNextHops, NextHops: nexthops},
			status:    route.StatusResolved,
			connected: f.connected,
		}
	}

	switch {
	case f.hasToCPU:
		return result{fwd: route.ForwardInfo{Action: route.ActionToCPU}, status: route.StatusResolved}
	case f.hasDrop:
		return result{fwd: route.ForwardInfo{Action: route.ActionDrop}, status: route.StatusResolved}
	default:
		return result{fwd: route.ForwardInfo{Action: route.ActionDrop}, status: route.StatusUnresolvable}
	}
}

// connectedInterface returns the interface of a connected route, detected
// by its winning entry being an interface route.
func connectedInterface(r *route.Route) (route.InterfaceID, bool) {
	best, ok := r.BestEntry()
	if !ok || best.Client != route.ClientInterfaceRoute {
		return 0, false
	}
	if best.Entry.Action != route.ActionNextHops || len(best.Entry.NextHops) == 0 {
		return 0, false
	}

	nh := best.Entry.NextHops[0]
	if !nh.Resolved {
		return 0, false
	}
	return nh.Interface, true
}
