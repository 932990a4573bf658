package discovery

import (
	"maps"
	"sync"
)

// Cache is a key-value cache of kernel objects that is always replaced as
// a whole after a full dump.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	cache map[K]V
}

// NewCache constructs a new cache using specified underlying map.
func NewCache[K comparable, V any](cache map[K]V) *Cache[K, V] {
	return &Cache[K, V]{
		cache: cache,
	}
}

// NewEmptyCache returns an empty cache.
func NewEmptyCache[K comparable, V any]() *Cache[K, V] {
	return NewCache(map[K]V{})
}

// View returns a read-only snapshot of the cache.
func (m *Cache[K, V]) View() CacheView[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Swapped maps are never modified, so sharing the pointer is safe.
	return CacheView[K, V]{cache: m.cache}
}

// Swap replaces the entire cache and returns the previous content.
func (m *Cache[K, V]) Swap(cache map[K]V) CacheView[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.cache
	m.cache = cache
	return CacheView[K, V]{cache: prev}
}

// CacheView is a read-only view of the cache.
type CacheView[K comparable, V any] struct {
	cache map[K]V
}

// Lookup returns the value for the specified key.
func (m CacheView[K, V]) Lookup(key K) (V, bool) {
	value, ok := m.cache[key]
	return value, ok
}

// Len returns the number of cached entries.
func (m CacheView[K, V]) Len() int {
	return len(m.cache)
}

// Entries returns a copy of all cached entries.
func (m CacheView[K, V]) Entries() map[K]V {
	if m.cache == nil {
		return map[K]V{}
	}
	return maps.Clone(m.cache)
}
