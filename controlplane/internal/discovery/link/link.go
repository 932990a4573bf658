package link

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/switchagent/controlplane/internal/discovery"
	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

// LinksCache is a cache of netlink links by name.
type LinksCache = discovery.Cache[string, netlink.LinkAttrs]

// LinksCacheView is a read-only view of the links cache.
type LinksCacheView = discovery.CacheView[string, netlink.LinkAttrs]

// Handler receives operational state changes of mapped ports.
type Handler interface {
	LinkStateChanged(port state.PortID, up bool)
}

// Netlink is the subset of the netlink API used by the monitor.
type Netlink interface {
	LinkList() ([]netlink.Link, error)
	LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error
}

type kernel struct {
	log *zap.SugaredLogger
}

func (m kernel) LinkList() ([]netlink.Link, error) {
	return netlink.LinkList()
}

func (m kernel) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	return netlink.LinkSubscribeWithOptions(ch, done, netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			m.log.Warnw("link subscription error", zap.Error(err))
		},
	})
}

// Option is a function that configures the link monitor.
type Option func(*options)

// WithLog configures the link monitor with a logger.
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
	Log           *zap.SugaredLogger
	LinkMap       map[string]state.PortID
	Netlink       Netlink
	RetryInterval time.Duration
}

func newOptions() *options {
	return &options{
		Log:           zap.NewNop().Sugar(),
		RetryInterval: time.Second,
	}
}

// LinkMonitor is a monitor of netlink links.
//
// It reports operational state of links listed in the link map as port
// state changes.
type LinkMonitor struct {
	cache   *LinksCache
	handler Handler
	links   map[string]state.PortID
	nl      Netlink
	retry   time.Duration
	log     *zap.SugaredLogger
	synced  bool
}

// NewLinkMonitor creates a new link monitor.
func NewLinkMonitor(cache *LinksCache, handler Handler, options ...Option) *LinkMonitor {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	nl := opts.Netlink
	if nl == nil {
		nl = kernel{log: opts.Log}
	}

	return &LinkMonitor{
		cache:   cache,
		handler: handler,
		links:   opts.LinkMap,
		nl:      nl,
		retry:   opts.RetryInterval,
		log:     opts.Log,
	}
}

// Run runs the link monitor until the specified context is canceled.
func (m *LinkMonitor) Run(ctx context.Context) error {
	m.log.Debugf("starting links monitor")
	defer m.log.Debugf("stopped links monitor")

	sub := discovery.Subscription[netlink.LinkUpdate]{
		Name:      "links",
		Subscribe: m.nl.LinkSubscribe,
		Resync:    m.resync,
		Handle: func(update netlink.LinkUpdate) {
			m.log.Debugw("processing link update", zap.String("link", update.Attrs().Name))
			m.resync()
		},
		BackOff: discovery.NewBackOff(m.retry),
		Log:     m.log,
	}
	return sub.Run(ctx)
}

func (m *LinkMonitor) resync() {
	if err := m.update(); err != nil {
		m.log.Warnw("failed to process link update", zap.Error(err))
	}
}

func (m *LinkMonitor) update() error {
	links, err := m.nl.LinkList()
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	cache := map[string]netlink.LinkAttrs{}
	for _, link := range links {
		attrs := link.Attrs()
		cache[attrs.Name] = *attrs
	}

	// Swap the entire table atomically.
	prev := m.cache.Swap(cache)
	m.log.Debugw("updated links cache", zap.Int("size", len(cache)))

	for name, port := range m.links {
		attrs, ok := cache[name]
		up := ok && IsUp(attrs)

		prevAttrs, ok := prev.Lookup(name)
		wasUp := ok && IsUp(prevAttrs)
		if m.synced && up == wasUp {
			continue
		}

		m.log.Infow("link state changed",
			zap.String("link", name),
			zap.Uint32("port", uint32(port)),
			zap.Bool("up", up),
		)
		m.handler.LinkStateChanged(port, up)
	}
	m.synced = true

	return nil
}

// IsUp reports whether the link can carry traffic.
func IsUp(attrs netlink.LinkAttrs) bool {
	switch attrs.OperState {
	case netlink.OperUp:
		return true
	case netlink.OperUnknown:
		// Virtual links often do not report operational state.
		return attrs.Flags&net.FlagUp != 0 && attrs.RawFlags&unix.IFF_RUNNING != 0
	default:
		return false
	}
}

// NewLinksCache returns an empty links cache.
func NewLinksCache() *LinksCache {
	return discovery.NewEmptyCache[string, netlink.LinkAttrs]()
}
