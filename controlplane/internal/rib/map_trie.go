package rib

import (
	"iter"
	"maps"
)

// MapTrieKey defines requirements for keys used in the MapTrie.
type MapTrieKey[T any] interface {
	comparable
	// Masked returns a normalized version of the key with only significant
	// bits.
	Masked() T
	// Bits returns the number of significant bits in this key.
	Bits() int
}

// MapTrieQuery defines the interface for objects that can be used for
// querying the MapTrie.
type MapTrieQuery[K MapTrieKey[K]] interface {
	// BitLen returns the maximum number of significant bits in this query.
	BitLen() int
	// Prefix generates a key of the specified bit length from this query.
	Prefix(int) (K, error)
}

// MapTrie is a data structure with properties of a prefix trie but
// implemented using maps, one per prefix length.
//
// It is slow compared to a real trie but trivially correct, so route tables
// keep it as the exact-match index and as the reference for longest prefix
// match verification.
//
// 129 slots cover IPv6 prefixes of every length including /0.
type MapTrie[K MapTrieKey[K], Q MapTrieQuery[K], V any] [129]map[K]V

// NewMapTrie returns a new MapTrie with the specified initial capacity of
// every prefix length.
func NewMapTrie[K MapTrieKey[K], Q MapTrieQuery[K], V any](cap int) MapTrie[K, Q, V] {
	trie := MapTrie[K, Q, V]{}
	for idx := range trie {
		trie[idx] = make(map[K]V, cap)
	}

	return trie
}

// Get returns the value stored exactly at the given key.
func (m *MapTrie[K, Q, V]) Get(key K) (V, bool) {
	key = key.Masked()
	value, ok := m[key.Bits()][key]
	return value, ok
}

// Lookup returns the value with the longest key containing the query.
func (m *MapTrie[K, Q, V]) Lookup(query Q) (K, V, bool) {
	for bits := query.BitLen(); bits >= 0; bits-- {
		key, _ := query.Prefix(bits)

		if value, ok := m[bits][key]; ok {
			return key, value, true
		}
	}

	var zeroKey K
	var zeroValue V
	return zeroKey, zeroValue, false
}

// Matches returns all keys containing the given query, from the longest to
// the shortest one.
func (m *MapTrie[K, Q, V]) Matches(query Q) []K {
	matches := []K{}

	for bits := query.BitLen(); bits >= 0; bits-- {
		key, _ := query.Prefix(bits)

		if _, ok := m[bits][key]; ok {
			matches = append(matches, key)
		}
	}

	return matches
}

// Set stores the value at the given key, replacing the previous one.
func (m *MapTrie[K, Q, V]) Set(key K, value V) {
	key = key.Masked()
	m[key.Bits()][key] = value
}

// Delete removes the given key and reports whether it was present.
func (m *MapTrie[K, Q, V]) Delete(key K) bool {
	key = key.Masked()
	bits := key.Bits()

	if _, ok := m[bits][key]; !ok {
		return false
	}
	delete(m[bits], key)
	return true
}

// Len returns the total number of keys stored in the MapTrie.
func (m *MapTrie[K, Q, V]) Len() int {
	l := 0
	for idx := range m {
		l += len(m[idx])
	}

	return l
}

// All iterates over all entries from the shortest to the longest key.
//
// The order of keys of the same length is unspecified.
func (m *MapTrie[K, Q, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for idx := range m {
			for key, value := range m[idx] {
				if !yield(key, value) {
					return
				}
			}
		}
	}
}

// Clone returns a shallow copy of m.
func (m *MapTrie[K, Q, V]) Clone() MapTrie[K, Q, V] {
	out := MapTrie[K, Q, V]{}
	for idx := range out {
		out[idx] = maps.Clone(m[idx])
		if out[idx] == nil {
			out[idx] = map[K]V{}
		}
	}

	return out
}
