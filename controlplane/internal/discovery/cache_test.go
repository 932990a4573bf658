package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheSwap(t *testing.T) {
	cache := NewEmptyCache[string, int]()
	prev := cache.Swap(map[string]int{"a": 1})
	require.Zero(t, prev.Len())

	prev = cache.Swap(map[string]int{"b": 2})
	v, ok := prev.Lookup("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	entries := cache.View().Entries()
	entries["c"] = 3
	require.Equal(t, 1, cache.View().Len())
}
