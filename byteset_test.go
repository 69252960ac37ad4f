package gmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteSet(t *testing.T) {
	s := ByteSetOf('a', 'c', 0xFF)
	assert.True(t, s.Has('a'))
	assert.False(t, s.Has('b'))
	assert.True(t, s.Has(0xFF))
	assert.Equal(t, 3, s.Len())

	_, ok := s.Single()
	assert.False(t, ok)

	b, ok := ByteSetOf('z').Single()
	assert.True(t, ok)
	assert.Equal(t, byte('z'), b)

	assert.True(t, ByteSet{}.IsEmpty())
	assert.Equal(t, 256, ByteRange(0, 255).Len())
	assert.Equal(t, 4, ByteRange('a', 'c').Union(ByteSetOf('x')).Len())
}

func TestByteSetString(t *testing.T) {
	tests := []struct {
		name     string
		set      ByteSet
		expected string
	}{
		{name: "empty", set: ByteSet{}, expected: "[]"},
		{name: "single", set: ByteSetOf('a'), expected: "[a]"},
		{name: "pair", set: ByteSetOf('a', 'b'), expected: "[ab]"},
		{name: "range", set: ByteRange('a', 'z'), expected: "[a-z]"},
		{name: "escaped", set: ByteSetOf('-', ']'), expected: `[\-\]]`},
		{name: "control", set: ByteSetOf(0), expected: `[\x00]`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, test.set.String())
		})
	}
}

func TestByteRangeOutOfOrder(t *testing.T) {
	assert.Panics(t, func() { ByteRange('z', 'a') })
}
