package neigh

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/switchagent/controlplane/internal/discovery"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// NeighbourCache is a cache of neighbours learned on switch ports.
type NeighbourCache = discovery.Cache[netip.Addr, NeighbourEntry]

// NeighbourCacheView is a read-only view of the neighbour cache.
type NeighbourCacheView = discovery.CacheView[netip.Addr, NeighbourEntry]

// Handler receives neighbours discovered on switch ports.
type Handler interface {
	NeighborDiscovered(port state.PortID, ip netip.Addr, mac net.HardwareAddr)
}

// Netlink is the subset of the netlink API used by the monitor.
type Netlink interface {
	LinkList() ([]netlink.Link, error)
	NeighList(linkIndex int, family int) ([]netlink.Neigh, error)
	NeighSubscribe(ch chan<- netlink.NeighUpdate, done <-chan struct{}) error
}

type kernel struct {
	log *zap.SugaredLogger
}

func (m kernel) LinkList() ([]netlink.Link, error) {
	return netlink.LinkList()
}

func (m kernel) NeighList(linkIndex int, family int) ([]netlink.Neigh, error) {
	return netlink.NeighList(linkIndex, family)
}

func (m kernel) NeighSubscribe(ch chan<- netlink.NeighUpdate, done <-chan struct{}) error {
	return netlink.NeighSubscribeWithOptions(ch, done, netlink.NeighSubscribeOptions{
		ErrorCallback: func(err error) {
			m.log.Warnw("neighbour subscription error", zap.Error(err))
		},
	})
}

// Option is a function that configures the neighbour monitor.
type Option func(*options)

// WithUpdateInterval configures the neighbour monitor with an force-update
// interval.
func WithUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		o.UpdateInterval = interval
	}
}

// WithLog configures the neighbour monitor with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithLinkMap sets which kernel links represent switch ports.
func WithLinkMap(links map[string]state.PortID) Option {
	return func(o *options) {
		o.LinkMap = links
	}
}

// WithNetlink replaces the kernel netlink API.
func WithNetlink(nl Netlink) Option {
	return func(o *options) {
		o.Netlink = nl
	}
}

// WithRetryInterval sets the initial resubscription delay.
func WithRetryInterval(interval time.Duration) Option {
	return func(o *options) {
		o.RetryInterval = interval
	}
}

type options struct {
	UpdateInterval time.Duration
	RetryInterval  time.Duration
	LinkMap        map[string]state.PortID
	Netlink        Netlink
	Log            *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		UpdateInterval: 5 * time.Minute,
		RetryInterval:  time.Second,
		Log:            zap.NewNop().Sugar(),
	}
}

// NeighMonitor is a monitor of neighbour events.
//
// Neighbours resolved by the kernel on mapped links are reported to the
// handler both reactively and periodically.
type NeighMonitor struct {
	cache          *NeighbourCache
	handler        Handler
	links          map[string]state.PortID
	nl             Netlink
	updateInterval time.Duration
	retryInterval  time.Duration
	log            *zap.SugaredLogger
	updates        chan struct{}
}

// NewNeighMonitor creates a new neighbour monitor.
func NewNeighMonitor(cache *NeighbourCache, handler Handler, options ...Option) *NeighMonitor {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	nl := opts.Netlink
	if nl == nil {
		nl = kernel{log: opts.Log}
	}

	return &NeighMonitor{
		cache:          cache,
		handler:        handler,
		links:          opts.LinkMap,
		nl:             nl,
		updateInterval: opts.UpdateInterval,
		retryInterval:  opts.RetryInterval,
		log:            opts.Log,
		updates:        make(chan struct{}, 1),
	}
}

// Cache returns the neighbour cache.
func (m *NeighMonitor) Cache() *NeighbourCache {
	return m.cache
}

// Run runs the neighbour monitor until the specified context is canceled.
func (m *NeighMonitor) Run(ctx context.Context) error {
	m.log.Debugf("starting neighbour monitor")
	defer m.log.Debugf("stopped neighbour monitor")

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		sub := discovery.Subscription[netlink.NeighUpdate]{
			Name:      "neighbours",
			Subscribe: m.nl.NeighSubscribe,
			Resync:    m.requestUpdate,
			Handle:    m.processNeighUpdate,
			BackOff:   discovery.NewBackOff(m.retryInterval),
			Log:       m.log,
		}
		return sub.Run(ctx)
	})
	wg.Go(func() error {
		return m.runUpdates(ctx)
	})

	return wg.Wait()
}

// runUpdates serializes dumps requested by the subscription and by the
// periodic timer. Periodic dumps report every neighbour again, so entries
// purged from the switch are relearned.
func (m *NeighMonitor) runUpdates(ctx context.Context) error {
	timer := time.NewTicker(m.updateInterval)
	defer timer.Stop()

	for {
		refresh := false
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			refresh = true
		case <-m.updates:
		}

		if err := m.updateNeighbours(refresh); err != nil {
			m.log.Warnw("failed to update neighbours", zap.Error(err))
		}
	}
}

func (m *NeighMonitor) requestUpdate() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *NeighMonitor) processNeighUpdate(update netlink.NeighUpdate) {
	m.log.Debugw("processing neighbour update",
		zap.Int("link_index", update.LinkIndex),
		zap.Stringer("state", NeighbourState(update.State)),
		zap.Stringer("addr", update.IP),
		zap.Stringer("link_addr", update.HardwareAddr),
	)

	switch update.Type {
	case unix.RTM_NEWNEIGH:
		m.requestUpdate()
	case unix.RTM_DELNEIGH:
		// Deletions are not propagated to avoid flaps. Neighbours of a port
		// are purged when the port goes down.
	default:
		m.log.Warnf("received unexpected neighbour update type: %d", update.Type)
	}
}

func (m *NeighMonitor) updateNeighbours(refresh bool) error {
	links, err := m.nl.LinkList()
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	names := map[int]string{}
	for _, link := range links {
		attrs := link.Attrs()
		names[attrs.Index] = attrs.Name
	}

	neighs, err := m.nl.NeighList(0, 0)
	if err != nil {
		return fmt.Errorf("failed to list neighbours: %w", err)
	}

	now := time.Now()
	cache := make(map[netip.Addr]NeighbourEntry)
	for _, neigh := range neighs {
		addr, ok := netip.AddrFromSlice(neigh.IP)
		if !ok {
			m.log.Warnf("failed to parse neighbour IP address: %q", neigh.IP)
			continue
		}
		addr = addr.Unmap()

		if !NeighbourState(neigh.State).IsValid() {
			continue
		}
		// Skip entries with invalid MAC.
		if len(neigh.HardwareAddr) != 6 {
			continue
		}

		name, ok := names[neigh.LinkIndex]
		if !ok {
			m.log.Warnf("no link for neighbour link index: %d", neigh.LinkIndex)
			continue
		}
		port, ok := m.links[name]
		if !ok {
			continue
		}

		cache[addr] = NeighbourEntry{
			Addr:      addr,
			LinkAddr:  neigh.HardwareAddr,
			Link:      name,
			Port:      port,
			UpdatedAt: now,
			State:     NeighbourState(neigh.State),
		}
	}

	// Swap the entire table atomically.
	prev := m.cache.Swap(cache)
	m.log.Infow("updated neighbour cache", zap.Int("size", len(cache)))

	for addr, entry := range cache {
		if old, ok := prev.Lookup(addr); ok && old.sameBinding(entry) && !refresh {
			continue
		}

		m.log.Debugw("discovered neighbour",
			zap.Stringer("addr", entry.Addr),
			zap.Stringer("link_addr", entry.LinkAddr),
			zap.String("link", entry.Link),
			zap.Stringer("state", entry.State),
		)
		m.handler.NeighborDiscovered(entry.Port, entry.Addr, entry.LinkAddr)
	}

	return nil
}

// NewNeighbourCache returns an empty neighbour cache.
func NewNeighbourCache() *NeighbourCache {
	return discovery.NewEmptyCache[netip.Addr, NeighbourEntry]()
}
