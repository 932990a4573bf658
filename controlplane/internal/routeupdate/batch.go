package routeupdate

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/yanet-platform/switchagent/common/go/xnetip"
	"github.com/yanet-platform/switchagent/controlplane/internal/resolver"
	"github.com/yanet-platform/switchagent/controlplane/internal/rib"
	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

type opKind uint8

const (
	opAdd opKind = iota
	opDel
	opSync
)

type op struct {
	kind     opKind
	routerID route.RouterID
	prefix   netip.Prefix
	client   route.ClientID
	entry    route.NextHopEntry
}

// Entry is a route of a single client.
type Entry struct {
	Prefix netip.Prefix
	Entry  route.NextHopEntry
}

// Batch is a sequence of route modifications applied to the switch state
// as a single transition.
type Batch struct {
	resolver *resolver.Resolver
	ops      []op
}

// NewBatch creates an empty batch resolving routes with the given
// resolver, or with a default one if nil.
func NewBatch(r *resolver.Resolver) *Batch {
	if r == nil {
		r = resolver.NewResolver()
	}
	return &Batch{resolver: r}
}

// Len returns the number of queued modifications.
func (m *Batch) Len() int {
	return len(m.ops)
}

// AddRoute adds or replaces the client entry of the prefix.
func (m *Batch) AddRoute(rid route.RouterID, prefix netip.Prefix, client route.ClientID, entry route.NextHopEntry) {
	m.ops = append(m.ops, op{kind: opAdd, routerID: rid, prefix: prefix, client: client, entry: entry})
}

// DelRoute removes the client entry of the prefix.
func (m *Batch) DelRoute(rid route.RouterID, prefix netip.Prefix, client route.ClientID) {
	m.ops = append(m.ops, op{kind: opDel, routerID: rid, prefix: prefix, client: client})
}

// Sync removes every entry of the client in the router. Routes added
// later in the same batch survive, so a sync followed by adds replaces
// the whole client table.
func (m *Batch) Sync(rid route.RouterID, client route.ClientID) {
	m.ops = append(m.ops, op{kind: opSync, routerID: rid, client: client})
}

// SyncRoutes replaces all routes of the client in the router.
func (m *Batch) SyncRoutes(rid route.RouterID, client route.ClientID, entries []Entry) {
	m.Sync(rid, client)
	for _, e := range entries {
		m.AddRoute(rid, e.Prefix, client, e.Entry)
	}
}

// Apply returns the state with all modifications applied and routes
// resolved, or the original state when nothing changed.
func (m *Batch) Apply(s *state.SwitchState) (*state.SwitchState, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	builders := map[route.RouterID]*rib.RouteTableBuilder{}
	order := []route.RouterID{}
	builder := func(rid route.RouterID) *rib.RouteTableBuilder {
		b, ok := builders[rid]
		if !ok {
			b = s.ModifyRouteTable(rid)
			builders[rid] = b
			order = append(order, rid)
		}
		return b
	}

	for _, o := range m.ops {
		// Only additions create routers.
		if _, ok := builders[o.routerID]; !ok && o.kind != opAdd && s.RouteTable(o.routerID) == nil {
			continue
		}
		b := builder(o.routerID)

		switch o.kind {
		case opAdd:
			table, prefix := b.TableFor(o.prefix)
			table.Create(prefix).SetEntry(o.client, o.entry)
		case opDel:
			table, prefix := b.TableFor(o.prefix)
			removeEntry(table, prefix, o.client)
		case opSync:
			for _, family := range route.Families {
				table := b.Table(family)
				for _, r := range table.Routes() {
					if _, ok := r.Entry(o.client); ok {
						removeEntry(table, r.Prefix(), o.client)
					}
				}
			}
		}
	}

	next := s
	for _, rid := range order {
		b := builders[rid]
		m.resolver.Resolve(b)

		rt := b.Build()
		if rt == s.RouteTable(rid) {
			continue
		}
		if next == s {
			next = s.Clone()
		}
		next.SetRouteTable(rt)
	}

	return next, nil
}

func removeEntry(table *rib.TableBuilder, prefix netip.Prefix, client route.ClientID) {
	r := table.Writable(prefix)
	if r == nil {
		return
	}

	r.RemoveEntry(client)
	if !r.HasEntries() {
		table.Remove(prefix)
	}
}

func (m *Batch) validate() error {
	errs := []error{}
	for _, o := range m.ops {
		if o.client == route.ClientStaticInternal && o.kind != opAdd {
			errs = append(errs, fmt.Errorf("router %d: entries of client %s cannot be removed", o.routerID, o.client))
			continue
		}
		if o.kind == opSync {
			continue
		}

		if !o.prefix.IsValid() {
			errs = append(errs, fmt.Errorf("router %d: invalid prefix %s", o.routerID, o.prefix))
			continue
		}
		if o.kind == opAdd {
			if err := o.entry.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("router %d, prefix %s: %w", o.routerID, o.prefix, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", state.ErrValidation, err)
	}
	return nil
}

// InterfaceRoutes returns a batch replacing connected routes of every
// router with routes derived from interface addresses of the state.
func InterfaceRoutes(s *state.SwitchState, r *resolver.Resolver) *Batch {
	batch := NewBatch(r)

	routers := map[route.RouterID][]Entry{}
	for _, rid := range s.RouteTables().IDs() {
		routers[rid] = nil
	}
	for _, intf := range s.InterfaceList() {
		for _, addr := range intf.Addresses {
			nh := route.NewResolvedNextHop(addr.Addr(), intf.ID, route.ECMPWeight)
			routers[intf.RouterID] = append(routers[intf.RouterID], Entry{
				Prefix: xnetip.Canonical(addr),
				Entry:  route.NewNextHopEntry(route.NextHopSet{nh}, route.DistanceConnected),
			})
		}
	}

	for rid, entries := range routers {
		batch.SyncRoutes(rid, route.ClientInterfaceRoute, entries)
	}
	return batch
}
