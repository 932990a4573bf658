package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/switchagent/controlplane/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTimeout = 5 * time.Second

type fakeNetlink struct {
	mu       sync.Mutex
	links    []netlink.Link
	failures int
	subs     chan chan<- netlink.LinkUpdate
}

func newFakeNetlink(links ...netlink.Link) *fakeNetlink {
	return &fakeNetlink{
		links: links,
		subs:  make(chan chan<- netlink.LinkUpdate, 4),
	}
}

func (m *fakeNetlink) LinkList() ([]netlink.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links, nil
}

func (m *fakeNetlink) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return errors.New("netlink socket is not available")
	}
	m.subs <- ch
	return nil
}

func (m *fakeNetlink) setLinks(links ...netlink.Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = links
}

func (m *fakeNetlink) subscription(t *testing.T) chan<- netlink.LinkUpdate {
	select {
	case ch := <-m.subs:
		return ch
	case <-time.After(testTimeout):
		t.Fatal("no subscription")
		return nil
	}
}

func dummy(index int, name string, oper netlink.LinkOperState) netlink.Link {
	return &netlink.Dummy{
		LinkAttrs: netlink.LinkAttrs{
			Index:     index,
			Name:      name,
			OperState: oper,
		},
	}
}

type event struct {
	port state.PortID
	up   bool
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 16)}
}

func (m *recorder) LinkStateChanged(port state.PortID, up bool) {
	m.events <- event{port: port, up: up}
}

func (m *recorder) next(t *testing.T) event {
	select {
	case ev := <-m.events:
		return ev
	case <-time.After(testTimeout):
		t.Fatal("no link event")
		return event{}
	}
}

func start(t *testing.T, monitor *LinkMonitor) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- monitor.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
	})
}

var linkMap = map[string]state.PortID{
	"eth1": 1,
	"eth2": 2,
	"eth3": 3,
}

func TestLinkMonitor(t *testing.T) {
	nl := newFakeNetlink(
		dummy(1, "eth1", netlink.OperUp),
		dummy(2, "eth2", netlink.OperDown),
		dummy(3, "lo", netlink.OperUnknown),
	)
	rec := newRecorder()
	cache := NewLinksCache()
	start(t, NewLinkMonitor(cache, rec, WithNetlink(nl), WithLinkMap(linkMap)))

	initial := map[state.PortID]bool{}
	for range linkMap {
		ev := rec.next(t)
		initial[ev.port] = ev.up
	}
	require.Equal(t, map[state.PortID]bool{1: true, 2: false, 3: false}, initial)

	ch := nl.subscription(t)
	view := cache.View()
	require.Equal(t, 3, view.Len())
	_, ok := view.Lookup("lo")
	require.True(t, ok)

	eth2 := dummy(2, "eth2", netlink.OperUp)
	nl.setLinks(dummy(1, "eth1", netlink.OperUp), eth2)
	ch <- netlink.LinkUpdate{Link: eth2}
	require.Equal(t, event{port: 2, up: true}, rec.next(t))

	eth1 := dummy(1, "eth1", netlink.OperDown)
	nl.setLinks(eth1, eth2)
	ch <- netlink.LinkUpdate{Link: eth1}
	// Only changed ports are reported.
	require.Equal(t, event{port: 1, up: false}, rec.next(t))
}

func TestLinkMonitorResubscribes(t *testing.T) {
	nl := newFakeNetlink(dummy(1, "eth1", netlink.OperUp))
	nl.failures = 2
	rec := newRecorder()
	monitor := NewLinkMonitor(NewLinksCache(), rec,
		WithNetlink(nl),
		WithLinkMap(map[string]state.PortID{"eth1": 1}),
		WithRetryInterval(time.Millisecond),
	)
	start(t, monitor)

	ch := nl.subscription(t)
	require.Equal(t, event{port: 1, up: true}, rec.next(t))

	// Changes made while the subscription is broken are picked up by the
	// resync after resubscription.
	nl.setLinks(dummy(1, "eth1", netlink.OperDown))
	close(ch)

	nl.subscription(t)
	require.Equal(t, event{port: 1, up: false}, rec.next(t))
}

func TestIsUp(t *testing.T) {
	require.True(t, IsUp(netlink.LinkAttrs{OperState: netlink.OperUp}))
	require.False(t, IsUp(netlink.LinkAttrs{OperState: netlink.OperDown, Flags: net.FlagUp}))
	require.False(t, IsUp(netlink.LinkAttrs{OperState: netlink.OperUnknown, Flags: net.FlagUp}))
	require.True(t, IsUp(netlink.LinkAttrs{
		OperState: netlink.OperUnknown,
		Flags:     net.FlagUp,
		RawFlags:  unix.IFF_UP | unix.IFF_RUNNING,
	}))
}
