package toktrie

import (
	"encoding/binary"
	"math/bits"
)

// Bitmask has one bit per token, bit `i%32` of word `i/32` being set
// when token `i` is allowed
type Bitmask []uint32

// NewBitmask creates an empty mask for a vocabulary of `n` tokens
func NewBitmask(n int) Bitmask {
	return make(Bitmask, WordsFor(n))
}

// WordsFor returns how many 32-bit words a mask of `n` tokens takes
func WordsFor(n int) int { return (n + 31) / 32 }

func (m Bitmask) Allow(t TokenID) { m[t/32] |= 1 << (t % 32) }

func (m Bitmask) Disallow(t TokenID) { m[t/32] &^= 1 << (t % 32) }

func (m Bitmask) IsAllowed(t TokenID) bool {
	return int(t/32) < len(m) && m[t/32]&(1<<(t%32)) != 0
}

func (m Bitmask) Clear() {
	clear(m)
}

// Count returns how many tokens are allowed
func (m Bitmask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount32(w)
	}
	return n
}

// Tokens returns the allowed tokens in increasing order
func (m Bitmask) Tokens() []TokenID {
	var out []TokenID
	for i, w := range m {
		for w != 0 {
			b := bits.TrailingZeros32(w)
			out = append(out, TokenID(i*32+b))
			w &= w - 1
		}
	}
	return out
}

// Bytes returns the mask as little endian 32-bit words
func (m Bitmask) Bytes() []byte {
	out := make([]byte, 4*len(m))
	m.PutBytes(out)
	return out
}

// PutBytes writes the mask into `dst` as little endian 32-bit words;
// `dst` must have room for all of them
func (m Bitmask) PutBytes(dst []byte) {
	for i, w := range m {
		binary.LittleEndian.PutUint32(dst[4*i:], w)
	}
}
