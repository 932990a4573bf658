package hw

import (
	"fmt"
	"iter"
	"math/bits"
)

const maskWords = 16

// MaxNextHops is the size of the simulated next hop table.
const MaxNextHops = 64 * maskWords

// nexthopMask is a fixed-size set of next hop table indices.
//
// It is comparable, so identical ECMP groups share a single map key.
type nexthopMask struct {
	words [maskWords]uint64
}

func (m *nexthopMask) insert(idx uint32) {
	if idx >= MaxNextHops {
		panic(fmt.Sprintf("next hop index %d is out of range [0, %d)", idx, MaxNextHops))
	}

	m.words[idx/64] |= 1 << (idx % 64)
}

func (m *nexthopMask) has(idx uint32) bool {
	return idx < MaxNextHops && m.words[idx/64]&(1<<(idx%64)) != 0
}

func (m *nexthopMask) count() int {
	count := 0
	for _, word := range m.words {
		count += bits.OnesCount64(word)
	}

	return count
}

// indices iterates from the lowest index.
func (m *nexthopMask) indices() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for idx, word := range m.words {
			for word > 0 {
				r := bits.TrailingZeros64(word)
				// Clears the lowest bit set, same as "word &^= 1 << r".
				word &= word - 1

				if !yield(64*uint32(idx) + uint32(r)) {
					return
				}
			}
		}
	}
}
