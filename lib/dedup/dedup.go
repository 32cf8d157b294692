// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import "sync"

// DefaultBits is the bitmap size used by [New].
const DefaultBits = 1 << 15

// Filter is a process-lifetime set of seen hashes. Safe for concurrent use.
type Filter struct {
	mu   sync.Mutex
	bits []byte
	size uint32
}

// New returns an empty filter of DefaultBits bits.
func New() *Filter {
	return NewWithBits(DefaultBits)
}

// NewWithBits returns an empty filter with the given number of bits,
// rounded up to a whole byte. Panics if bits is not positive.
func NewWithBits(bits int) *Filter {
	if bits <= 0 {
		panic("dedup: bitmap size must be positive")
	}
	byteCount := (bits + 7) / 8
	return &Filter{
		bits: make([]byte, byteCount),
		size: uint32(byteCount * 8),
	}
}

// WasAlreadySeen reports whether hash has been marked before, and marks it.
func (f *Filter) WasAlreadySeen(hash uint32) bool {
	position := hash % f.size

	f.mu.Lock()
	defer f.mu.Unlock()

	mask := byte(1) << (position % 8)
	seen := f.bits[position/8]&mask != 0
	f.bits[position/8] |= mask
	return seen
}

// Size returns the number of bits in the filter.
func (f *Filter) Size() int {
	return int(f.size)
}
