package hw

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"sync"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/yanet-platform/switchagent/controlplane/internal/route"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// ErrTableFull is returned when the simulated ASIC runs out of resources.
var ErrTableFull = errors.New("hardware table is full")

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// SimSwitchOption configures the SimSwitch.
type SimSwitchOption func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) SimSwitchOption {
	return func(o *options) {
		o.Log = log
	}
}

type fibKey struct {
	routerID route.RouterID
	prefix   netip.Prefix
}

type nexthopKey struct {
	addr   netip.Addr
	intf   route.InterfaceID
	labels string
}

func newNexthopKey(nh route.NextHop) nexthopKey {
	key := nexthopKey{addr: nh.Addr, intf: nh.Interface}
	if len(nh.Labels) > 0 {
		key.labels = fmt.Sprint(nh.Labels)
	}
	return key
}

// FibEntry is a programmed route.
type FibEntry struct {
	RouterID route.RouterID
	Prefix   netip.Prefix
	Action   route.ForwardAction
	NextHops []route.NextHop
	// Indices are next hop table indices of NextHops.
	Indices []uint32
}

// EcmpGroup is a programmed ECMP group.
type EcmpGroup struct {
	Members []uint32
	Routes  int
}

// Usage describes the consumed simulated ASIC resources.
type Usage struct {
	Routes      int
	RouteMemory datasize.ByteSize
	NextHops    int
	EcmpGroups  int
	EcmpMembers int
	AclEntries  int
}

// tables is the content of the simulated ASIC.
type tables struct {
	fib      map[fibKey]route.ForwardInfo
	nexthops map[nexthopKey]uint32
	groups   map[nexthopMask]int
	acls     int
}

// SimSwitch is a software model of a switch ASIC with limited route, next
// hop and ECMP group tables.
type SimSwitch struct {
	cfg *Config
	log *zap.SugaredLogger

	mu     sync.RWMutex
	tables tables
}

// NewSimSwitch creates an empty simulated ASIC.
func NewSimSwitch(cfg *Config, options ...SimSwitchOption) (*SimSwitch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hardware config: %w", err)
	}

	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &SimSwitch{
		cfg: cfg,
		log: opts.Log,
		tables: tables{
			fib:      map[fibKey]route.ForwardInfo{},
			nexthops: map[nexthopKey]uint32{},
			groups:   map[nexthopMask]int{},
		},
	}, nil
}

// StateChanged programs the delta. Route or ACL table overflow leaves the
// corresponding tables at their previous content while everything else is
// applied.
func (m *SimSwitch) StateChanged(delta state.Delta) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	routes, routesErr := m.planRoutes(delta)
	acls, aclsErr := m.planAcls(delta)
	if routesErr == nil && aclsErr == nil {
		m.commit(routes, acls)
		return Classify(delta, delta.New)
	}

	applied := delta.New.Clone()
	if routesErr != nil {
		applied.SetRouteTables(delta.Old.RouteTables())
		routes = m.tables
	}
	if aclsErr != nil {
		applied.SetAcls(delta.Old.Acls())
		acls = m.tables.acls
	}
	applied.Publish()
	m.commit(routes, acls)

	m.log.Warnw("partially applied state update",
		zap.Uint64("version", delta.New.Version()),
		zap.Error(errors.Join(routesErr, aclsErr)),
	)
	return Classify(delta, applied)
}

// StateChangedTransaction programs the delta entirely or leaves the
// hardware intact.
func (m *SimSwitch) StateChangedTransaction(delta state.Delta) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	routes, routesErr := m.planRoutes(delta)
	acls, aclsErr := m.planAcls(delta)
	if err := errors.Join(routesErr, aclsErr); err != nil {
		m.log.Warnw("rejected transactional state update",
			zap.Uint64("version", delta.New.Version()),
			zap.Error(err),
		)
		return Classify(delta, delta.Old)
	}

	m.commit(routes, acls)
	return Classify(delta, delta.New)
}

// IsValidStateUpdate vetoes states that can never fit the hardware.
func (m *SimSwitch) IsValidStateUpdate(delta state.Delta) bool {
	if delta.New.Acls().Len() > m.cfg.MaxAclEntries {
		m.log.Warnw("too many acl entries",
			zap.Int("count", delta.New.Acls().Len()),
			zap.Int("max", m.cfg.MaxAclEntries),
		)
		return false
	}
	return true
}

// Fib returns the programmed routes ordered by router and prefix.
func (m *SimSwitch) Fib() []FibEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FibEntry, 0, len(m.tables.fib))
	for key, fwd := range m.tables.fib {
		entry := FibEntry{
			RouterID: key.routerID,
			Prefix:   key.prefix,
			Action:   fwd.Action,
			NextHops: slices.Clone(fwd.NextHops),
		}
		for _, nh := range fwd.NextHops {
			entry.Indices = append(entry.Indices, m.tables.nexthops[newNexthopKey(nh)])
		}
		out = append(out, entry)
	}

	slices.SortFunc(out, func(a FibEntry, b FibEntry) int {
		if c := cmp.Compare(a.RouterID, b.RouterID); c != 0 {
			return c
		}
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return cmp.Compare(a.Prefix.Bits(), b.Prefix.Bits())
	})
	return out
}

// Usage returns the consumed resources.
func (m *SimSwitch) Usage() Usage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := 0
	for mask := range m.tables.groups {
		members += mask.count()
	}

	return Usage{
		Routes:      len(m.tables.fib),
		RouteMemory: datasize.ByteSize(len(m.tables.fib)) * m.cfg.RouteEntrySize,
		NextHops:    len(m.tables.nexthops),
		EcmpGroups:  len(m.tables.groups),
		EcmpMembers: members,
		AclEntries:  m.tables.acls,
	}
}

// EcmpGroups returns next hop indices of every ECMP group together with
// the number of routes using it.
func (m *SimSwitch) EcmpGroups() []EcmpGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EcmpGroup, 0, len(m.tables.groups))
	for mask, refs := range m.tables.groups {
		out = append(out, EcmpGroup{
			Members: slices.Collect(mask.indices()),
			Routes:  refs,
		})
	}
	slices.SortFunc(out, func(a EcmpGroup, b EcmpGroup) int {
		return slices.Compare(a.Members, b.Members)
	})
	return out
}

func (m *SimSwitch) commit(routes tables, acls int) {
	m.tables = routes
	m.tables.acls = acls
}

func (m *SimSwitch) planAcls(delta state.Delta) (int, error) {
	count := delta.New.Acls().Len()
	if count > m.cfg.MaxAclEntries {
		return 0, fmt.Errorf("%w: %d acl entries, max %d", ErrTableFull, count, m.cfg.MaxAclEntries)
	}
	return count, nil
}

// planRoutes computes table contents after applying route changes of the
// delta without touching the current ones.
func (m *SimSwitch) planRoutes(delta state.Delta) (tables, error) {
	changes := delta.Routes()
	if len(changes) == 0 {
		return m.tables, nil
	}

	fib := maps.Clone(m.tables.fib)
	for _, change := range changes {
		r := change.New
		if r == nil {
			r = change.Old
		}
		key := fibKey{routerID: change.RouterID, prefix: r.Prefix()}

		// Unresolved routes are not programmed.
		if change.New == nil || !change.New.IsResolved() {
			delete(fib, key)
			continue
		}
		fib[key] = change.New.Forward()
	}

	if capacity := m.cfg.RouteCapacity(); len(fib) > capacity {
		return tables{}, fmt.Errorf("%w: %d routes, capacity %d (%s)", ErrTableFull, len(fib), capacity, m.cfg.TableMemory)
	}

	nexthops, err := m.allocateNexthops(fib)
	if err != nil {
		return tables{}, err
	}

	groups := map[nexthopMask]int{}
	for key, fwd := range fib {
		if len(fwd.NextHops) < 2 {
			continue
		}
		if len(fwd.NextHops) > m.cfg.MaxEcmpWidth {
			return tables{}, fmt.Errorf("%w: route %s has %d next hops, max ecmp width %d",
				ErrTableFull, key.prefix, len(fwd.NextHops), m.cfg.MaxEcmpWidth)
		}

		mask := nexthopMask{}
		for _, nh := range fwd.NextHops {
			mask.insert(nexthops[newNexthopKey(nh)])
		}
		groups[mask]++
	}
	if len(groups) > m.cfg.MaxEcmpGroups {
		return tables{}, fmt.Errorf("%w: %d ecmp groups, max %d", ErrTableFull, len(groups), m.cfg.MaxEcmpGroups)
	}

	return tables{
		fib:      fib,
		nexthops: nexthops,
		groups:   groups,
		acls:     m.tables.acls,
	}, nil
}

// allocateNexthops keeps indices of next hops still in use and assigns the
// lowest free indices to new ones.
func (m *SimSwitch) allocateNexthops(fib map[fibKey]route.ForwardInfo) (map[nexthopKey]uint32, error) {
	used := map[nexthopKey]struct{}{}
	for _, fwd := range fib {
		for _, nh := range fwd.NextHops {
			used[newNexthopKey(nh)] = struct{}{}
		}
	}
	if len(used) > m.cfg.MaxNextHops {
		return nil, fmt.Errorf("%w: %d next hops, max %d", ErrTableFull, len(used), m.cfg.MaxNextHops)
	}

	out := make(map[nexthopKey]uint32, len(used))
	taken := nexthopMask{}
	added := []nexthopKey{}
	for key := range used {
		if idx, ok := m.tables.nexthops[key]; ok {
			out[key] = idx
			taken.insert(idx)
			continue
		}
		added = append(added, key)
	}

	// Deterministic assignment.
	slices.SortFunc(added, func(a nexthopKey, b nexthopKey) int {
		if c := a.addr.Compare(b.addr); c != 0 {
			return c
		}
		if c := cmp.Compare(a.intf, b.intf); c != 0 {
			return c
		}
		return cmp.Compare(a.labels, b.labels)
	})

	next := uint32(0)
	for _, key := range added {
		for taken.has(next) {
			next++
		}
		out[key] = next
		taken.insert(next)
	}

	return out, nil
}
