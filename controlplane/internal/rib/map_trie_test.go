package rib

import (
	"encoding/binary"
	"math/rand"
	"net/netip"
	"runtime"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

type testTrie = MapTrie[netip.Prefix, netip.Addr, int]

func newTestTrie() testTrie {
	return NewMapTrie[netip.Prefix, netip.Addr, int](0)
}

func TestMapTrieInsert(t *testing.T) {
	cases := []struct {
		prefix      string
		expectedIdx int
	}{
		{"192.168.9.1/16", 0},
		{"192.168.9.1/24", 1},
		{"192.168.18.0/8", 0},
	}

	mt := newTestTrie()
	for idx, c := range cases {
		prefix := netip.MustParsePrefix(c.prefix)
		expected := netip.MustParsePrefix(cases[c.expectedIdx].prefix).Masked()

		mt.Set(prefix, idx)
		actual, value, ok := mt.Lookup(prefix.Addr())
		require.True(t, ok, "lookup %s, expected %s", prefix.Addr(), expected)
		require.Equal(t, expected, actual)
		require.Equal(t, c.expectedIdx, value)
	}
}

func TestMapTrieLookupv6(t *testing.T) {
	addr := netip.MustParseAddr("fd25:cf19:6b13:cafe:babe:be57:f00d:0001")
	cases := []struct {
		prefix string
		match  bool
	}{
		{"fd25:8888:6b13:cafe:babe:be57:f00d:04a5/16", true},
		{"fd25:8888:6b13:cafe:babe:be57:f00d:04a5/64", false},
		{"fd25:cf19:6b13:cafe:babe:be57:f00d:04a5/64", true},
		{"fd25:cf19:6b13:cafe:babe:be57:f00d:04a5/112", true},
		{"fd25:cf19:6b13:cafe:babe:be57:f00d:04a5/120", false},
		{"fd25:cf19:6b13:cafe:babe:be57:f00d:04a5/128", false},
	}

	mt := newTestTrie()
	for idx, c := range cases {
		prefix := netip.MustParsePrefix(c.prefix).Masked()

		mt.Set(prefix, idx)
		mp, _, ok := mt.Lookup(addr)
		ok = ok && prefix == mp
		require.Equal(t, c.match, ok, "addr=%s prefix=%s mp=%s", addr, prefix, mp)
	}
}

func TestMapTrieMatches(t *testing.T) {
	cases := []struct {
		prefix  string
		inMatch bool
	}{
		{"192.168.9.1/32", false},
		{"192.168.9.1/27", false},
		{"192.168.9.1/26", true},
		{"192.168.10.1/24", false},
		{"192.168.9.1/24", true},
		{"192.168.9.1/16", true},
		{"a8c0:109::/16", false},
		{"::ffff:a8c0:109/112", false},
		{"192.168.18.0/8", true},
		{"193.168.9.1/8", false},
		{"192.168.18.0/0", true},
	}

	mt := newTestTrie()
	query := netip.MustParseAddr("192.168.9.32")

	expected := []netip.Prefix{}
	for idx, c := range cases {
		prefix := netip.MustParsePrefix(c.prefix).Masked()
		if c.inMatch {
			expected = append(expected, prefix)
		}
		mt.Set(prefix, idx)
	}

	actual := mt.Matches(query)
	require.ElementsMatch(t, expected, actual)
	// Ordered from the longest prefix.
	for idx := 1; idx < len(actual); idx++ {
		require.Greater(t, actual[idx-1].Bits(), actual[idx].Bits())
	}
}

func TestMapTrieDelete(t *testing.T) {
	mt := newTestTrie()
	p24 := netip.MustParsePrefix("10.1.1.0/24")
	p8 := netip.MustParsePrefix("10.0.0.0/8")
	mt.Set(p24, 24)
	mt.Set(p8, 8)
	require.Equal(t, 2, mt.Len())

	clone := mt.Clone()

	require.True(t, mt.Delete(netip.MustParsePrefix("10.1.1.77/24")))
	require.False(t, mt.Delete(p24))
	require.Equal(t, 1, mt.Len())

	_, value, ok := mt.Lookup(netip.MustParseAddr("10.1.1.1"))
	require.True(t, ok)
	require.Equal(t, 8, value)

	value, ok = clone.Get(p24)
	require.True(t, ok)
	require.Equal(t, 24, value)
	require.Equal(t, 2, clone.Len())

	seen := map[netip.Prefix]int{}
	for prefix, v := range clone.All() {
		seen[prefix] = v
	}
	require.Equal(t, map[netip.Prefix]int{p24: 24, p8: 8}, seen)
}

func FuzzMapTrieInsertAndLookup(f *testing.F) {
	addr := netip.MustParseAddr("fd25:c819:6888:0:b282:ffff:1841:3832").As16()
	allZero := netip.IPv6Unspecified().As16()
	allFF := netip.MustParseAddr("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff").As16()

	f.Add(byte(120), allZero[:], addr[:])
	f.Add(byte(30), addr[:], allFF[:])
	f.Add(byte(0), addr[:], addr[:])
	f.Add(byte(100), allZero[:], allFF[:])
	f.Add(byte(128), allFF[:], allFF[:])

	f.Fuzz(func(t *testing.T, m byte, pb []byte, qb []byte) {
		mt := newTestTrie()

		prefixBytes := [16]byte{}
		copy(prefixBytes[:], pb)
		prefixAddr := netip.AddrFrom16(prefixBytes)

		m = min(m, 128)
		p := netip.PrefixFrom(prefixAddr, int(m)).Masked()
		mt.Set(p, 1)

		queryBytes := [16]byte{}
		copy(queryBytes[:], qb)
		queryAddr := netip.AddrFrom16(queryBytes)

		_, _, ok := mt.Lookup(queryAddr)
		equal := p == netip.PrefixFrom(queryAddr, int(m)).Masked()
		if ok != equal {
			t.Errorf("lookup of %s in %s: found=%t, expected=%t", queryAddr, p, ok, equal)
		}

		matched := len(mt.Matches(queryAddr)) > 0
		if matched != equal {
			t.Errorf("matches of %s in %s: found=%t, expected=%t", queryAddr, p, matched, equal)
		}
	})
}

func heapInUse() uint64 {
	runtime.GC()
	ms := runtime.MemStats{}
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

func initTestData(v4count int, v6count int) ([]netip.Addr, []netip.Prefix) {
	addrs := make([]netip.Addr, 0, v4count+v6count)
	for range v4count {
		v4a := [4]byte{}
		binary.BigEndian.PutUint32(v4a[:], rand.Uint32())
		addrs = append(addrs, netip.AddrFrom4(v4a))
	}
	for range v6count {
		v6a := [16]byte{}
		binary.BigEndian.PutUint64(v6a[:], 0xfe80dada00b0feca)
		binary.BigEndian.PutUint64(v6a[8:], rand.Uint64())
		addrs = append(addrs, netip.AddrFrom16(v6a))
	}

	prefixes := make([]netip.Prefix, len(addrs))
	for idx, a := range addrs {
		p, _ := a.Prefix(rand.Intn(a.BitLen() + 1))
		prefixes[idx] = p
	}
	return addrs, prefixes
}

func TestMapTrieInsertMany(t *testing.T) {
	addrs, prefixes := initTestData(20000, 20000)
	mt := NewMapTrie[netip.Prefix, netip.Addr, int](64)
	for idx, p := range prefixes {
		mt.Set(p, idx)
	}
	for _, addr := range addrs {
		_, _, ok := mt.Lookup(addr)
		require.True(t, ok, "lookup %s", addr)
	}
}

func BenchmarkMapTrieInsert(b *testing.B) {
	_, prefixes := initTestData(100_000, 40_000)

	inuse0 := heapInUse()
	mt := NewMapTrie[netip.Prefix, netip.Addr, int](1024)
	b.ResetTimer()
	for range b.N {
		for idx, p := range prefixes {
			mt.Set(p, idx)
		}
	}
	b.StopTimer()
	inuse1 := heapInUse()

	b.Logf("Total number of prefixes %d: uniq %d", len(prefixes), mt.Len())
	b.Logf("Memory usage by MapTrie %s", datasize.ByteSize(inuse1-inuse0))
}
