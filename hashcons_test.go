package gmatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashConsInsert(t *testing.T) {
	h := NewHashCons(func(s string) string { return s })

	a, isNew, err := h.Insert("a")
	require.NoError(t, err)
	assert.True(t, isNew)
	b, isNew, _ := h.Insert("b")
	assert.True(t, isNew)
	again, isNew, _ := h.Insert("a")
	assert.False(t, isNew)

	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, a, again)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, "b", h.Lookup(b))
}

func TestHashConsSetKeys(t *testing.T) {
	// sets of ints are equal regardless of the order of insertion
	h := NewHashCons(func(v []int) string {
		s := append([]int(nil), v...)
		sort.Ints(s)
		return fmt.Sprint(s)
	})
	x, _, _ := h.Insert([]int{3, 1, 2})
	y, isNew, _ := h.Insert([]int{2, 3, 1})
	assert.False(t, isNew)
	assert.Equal(t, x, y)
}

func TestHashConsCrossesChunks(t *testing.T) {
	h := NewHashCons(func(n int) string { return fmt.Sprint(n) })
	for i := 0; i < 3*hcChunkSize; i++ {
		id, isNew, err := h.Insert(i)
		require.NoError(t, err)
		require.True(t, isNew)
		require.Equal(t, uint32(i), id)
	}
	for _, i := range []int{0, hcChunkSize - 1, hcChunkSize, 2*hcChunkSize + 7} {
		assert.Equal(t, i, h.Lookup(uint32(i)))
	}
}

func TestHashConsLookupUnknown(t *testing.T) {
	h := NewHashCons(func(s string) string { return s })
	h.Insert("x")
	assert.Panics(t, func() { h.Lookup(1) })
}

func TestHashConsFull(t *testing.T) {
	h := NewHashCons(func(s string) string { return s })
	h.limit = 2
	_, _, err := h.Insert("a")
	require.NoError(t, err)
	_, _, err = h.Insert("b")
	require.NoError(t, err)

	_, isNew, err := h.Insert("c")
	assert.False(t, isNew)
	assert.ErrorIs(t, err, ErrGrammarTooLarge)
	assert.Equal(t, 2, h.Len())

	// values already in the table are still found
	id, isNew, err := h.Insert("b")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, uint32(1), id)
}

func TestHashConsConcurrent(t *testing.T) {
	h := NewHashCons(strings.ToLower)
	var wg sync.WaitGroup
	ids := make([][]uint32, 8)
	for g := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				// half of the goroutines use upper case keys
				v := fmt.Sprintf("value-%d", i)
				if g%2 == 0 {
					v = strings.ToUpper(v)
				}
				id, _, _ := h.Insert(v)
				ids[g] = append(ids[g], id)
				_ = h.Lookup(id)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, h.Len())
	for g := 1; g < len(ids); g++ {
		assert.Equal(t, ids[0], ids[g])
	}
}
