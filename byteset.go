package gmatch

import (
	"fmt"
	"math/bits"
	"strings"
)

// ByteSet is a bitmap with one bit per byte value.  Membership is a
// shift and a mask, `i>>6` picks the word and `i&63` the bit.
type ByteSet [4]uint64

// ByteSetOf creates a set with the given bytes
func ByteSetOf(bs ...byte) ByteSet {
	var s ByteSet
	for _, b := range bs {
		s.Add(b)
	}
	return s
}

// ByteRange creates a set with all bytes from `lo` to `hi`, both
// ends included
func ByteRange(lo, hi byte) ByteSet {
	var s ByteSet
	s.AddRange(lo, hi)
	return s
}

func (s *ByteSet) Add(b byte) {
	s[b>>6] |= 1 << (b & 63)
}

func (s *ByteSet) AddRange(lo, hi byte) {
	if lo > hi {
		panic(fmt.Sprintf("byte range out of order: %#x > %#x", lo, hi))
	}
	for i := int(lo); i <= int(hi); i++ {
		s.Add(byte(i))
	}
}

func (s ByteSet) Has(b byte) bool {
	return s[b>>6]&(1<<(b&63)) != 0
}

func (s ByteSet) Union(o ByteSet) ByteSet {
	return ByteSet{s[0] | o[0], s[1] | o[1], s[2] | o[2], s[3] | o[3]}
}

func (s ByteSet) IsEmpty() bool {
	return s[0]|s[1]|s[2]|s[3] == 0
}

func (s ByteSet) Len() int {
	return bits.OnesCount64(s[0]) + bits.OnesCount64(s[1]) +
		bits.OnesCount64(s[2]) + bits.OnesCount64(s[3])
}

// Single returns the only member of the set if it has exactly one
func (s ByteSet) Single() (byte, bool) {
	if s.Len() != 1 {
		return 0, false
	}
	for w, word := range s {
		if word != 0 {
			return byte(w<<6 | bits.TrailingZeros64(word)), true
		}
	}
	return 0, false
}

// String renders the set the way a regex character class would look
// like, collapsing runs into ranges.
func (s ByteSet) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < 256; i++ {
		if !s.Has(byte(i)) {
			continue
		}
		j := i
		for j+1 < 256 && s.Has(byte(j+1)) {
			j++
		}
		writeByteEscaped(&sb, byte(i))
		if j > i {
			if j > i+1 {
				sb.WriteByte('-')
			}
			writeByteEscaped(&sb, byte(j))
		}
		i = j
	}
	sb.WriteByte(']')
	return sb.String()
}

func writeByteEscaped(sb *strings.Builder, b byte) {
	switch {
	case b == '\\' || b == ']' || b == '[' || b == '-':
		sb.WriteByte('\\')
		sb.WriteByte(b)
	case b >= 0x20 && b < 0x7f:
		sb.WriteByte(b)
	default:
		fmt.Fprintf(sb, "\\x%02x", b)
	}
}
