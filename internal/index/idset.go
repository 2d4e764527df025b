// Package index holds in-memory id indexes used between the two collector
// passes.
package index

import (
	"iter"
	"maps"
	"math/bits"
	"slices"
)

const (
	chunkShift = 16
	chunkBits  = 1 << chunkShift
	chunkMask  = chunkBits - 1
)

type chunk [chunkBits / 64]uint64

// IDSet is a sparse bitmap of object ids. Ids are grouped in chunks of
// 65536 so that large gaps cost nothing; negative ids are supported. An
// IDSet is not safe for concurrent writes.
type IDSet struct {
	chunks map[int64]*chunk
	size   int
}

// NewIDSet returns an empty set.
func NewIDSet() *IDSet {
	return &IDSet{chunks: make(map[int64]*chunk)}
}

func split(id int64) (int64, int) {
	return id >> chunkShift, int(id & chunkMask)
}

// Set adds id to the set.
func (s *IDSet) Set(id int64) {
	key, off := split(id)
	c := s.chunks[key]
	if c == nil {
		c = new(chunk)
		s.chunks[key] = c
	}
	word, bit := off/64, uint64(1)<<(off%64)
	if c[word]&bit == 0 {
		c[word] |= bit
		s.size++
	}
}

// Unset removes id from the set.
func (s *IDSet) Unset(id int64) {
	key, off := split(id)
	c := s.chunks[key]
	if c == nil {
		return
	}
	word, bit := off/64, uint64(1)<<(off%64)
	if c[word]&bit != 0 {
		c[word] &^= bit
		s.size--
	}
}

// Get reports whether id is in the set.
func (s *IDSet) Get(id int64) bool {
	key, off := split(id)
	c := s.chunks[key]
	return c != nil && c[off/64]&(1<<(off%64)) != 0
}

// Len returns the number of ids in the set.
func (s *IDSet) Len() int { return s.size }

// Empty reports whether the set holds no ids.
func (s *IDSet) Empty() bool { return s.size == 0 }

// Clear removes all ids.
func (s *IDSet) Clear() {
	clear(s.chunks)
	s.size = 0
}

// All iterates the ids in ascending order.
func (s *IDSet) All() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for _, key := range slices.Sorted(maps.Keys(s.chunks)) {
			c := s.chunks[key]
			for w, word := range c {
				for word != 0 {
					b := bits.TrailingZeros64(word)
					word &^= 1 << b
					if !yield(key<<chunkShift | int64(w*64+b)) {
						return
					}
				}
			}
		}
	}
}
