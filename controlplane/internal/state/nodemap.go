package state

import (
	"iter"
	"maps"
	"slices"
)

// NodeMap is an immutable map of state nodes.
//
// Modifications return a new map, leaving the original intact. A nil
// NodeMap is empty.
type NodeMap[K comparable, V any] struct {
	items map[K]V
}

// NewNodeMap creates a map holding the given items.
func NewNodeMap[K comparable, V any](items map[K]V) *NodeMap[K, V] {
	return &NodeMap[K, V]{items: maps.Clone(items)}
}

// Get returns the node stored at the key.
func (m *NodeMap[K, V]) Get(key K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}
	v, ok := m.items[key]
	return v, ok
}

// Len returns the number of nodes.
func (m *NodeMap[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.items)
}

// With returns a copy of the map with the node set.
func (m *NodeMap[K, V]) With(key K, value V) *NodeMap[K, V] {
	out := &NodeMap[K, V]{items: make(map[K]V, m.Len()+1)}
	if m != nil {
		maps.Copy(out.items, m.items)
	}
	out.items[key] = value
	return out
}

// Without returns a copy of the map without the key.
func (m *NodeMap[K, V]) Without(key K) *NodeMap[K, V] {
	if _, ok := m.Get(key); !ok {
		return m
	}

	out := &NodeMap[K, V]{items: maps.Clone(m.items)}
	delete(out.items, key)
	return out
}

// All iterates over nodes in unspecified order.
func (m *NodeMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m == nil {
			return
		}
		for k, v := range m.items {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Keys returns keys ordered by the given comparison function.
func (m *NodeMap[K, V]) Keys(cmp func(K, K) int) []K {
	if m == nil {
		return nil
	}
	return slices.SortedFunc(maps.Keys(m.items), cmp)
}

// Values returns nodes ordered by key.
func (m *NodeMap[K, V]) Values(cmp func(K, K) int) []V {
	keys := m.Keys(cmp)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.items[k])
	}
	return out
}
