package gmatch

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	hcChunkBits = 12
	hcChunkSize = 1 << hcChunkBits
	hcChunkMask = hcChunkSize - 1
	hcMaxChunks = 1 << 12
)

// HashCons assigns small sequential ids to values that are equal
// according to their canonical key.  Inserting a value equal to one
// already present returns the existing id.  Values are stored in
// fixed size chunks whose pointers are published atomically, so
// `Lookup` of an id obtained from a previous `Insert` never takes the
// lock, while inserts are serialized among themselves.
type HashCons[V any] struct {
	mu     sync.Mutex
	key    func(V) string
	byKey  map[string]uint32
	size   atomic.Uint32
	limit  uint32
	chunks [hcMaxChunks]atomic.Pointer[[hcChunkSize]V]
}

// NewHashCons creates an empty table.  `key` must return the same
// string for every pair of values considered equal, which for set
// like values means sorting elements before encoding them.
func NewHashCons[V any](key func(V) string) *HashCons[V] {
	return &HashCons[V]{key: key, byKey: map[string]uint32{}, limit: hcMaxChunks * hcChunkSize}
}

// Insert returns the id of `v`, allocating the next id if no equal
// value was inserted before.  The second return tells if the value
// is new.  Once every slot is taken, inserting a new value fails
// with an error wrapping ErrGrammarTooLarge.
func (h *HashCons[V]) Insert(v V) (uint32, bool, error) {
	k := h.key(v)

	h.mu.Lock()
	defer h.mu.Unlock()

	if id, ok := h.byKey[k]; ok {
		return id, false, nil
	}
	id := h.size.Load()
	if id >= h.limit {
		return 0, false, fmt.Errorf("%w: table is full (%d entries)", ErrGrammarTooLarge, id)
	}
	ci := id >> hcChunkBits
	chunk := h.chunks[ci].Load()
	if chunk == nil {
		chunk = new([hcChunkSize]V)
		h.chunks[ci].Store(chunk)
	}
	chunk[id&hcChunkMask] = v
	h.byKey[k] = id
	// the store below publishes the slot written above
	h.size.Store(id + 1)
	return id, true, nil
}

// Lookup returns the value stored under `id`.  It panics when the id
// was never handed out by this table.
func (h *HashCons[V]) Lookup(id uint32) V {
	if id >= h.size.Load() {
		panic(fmt.Sprintf("hashcons: unknown id %d", id))
	}
	return h.chunks[id>>hcChunkBits].Load()[id&hcChunkMask]
}

// Len returns how many distinct values were inserted
func (h *HashCons[V]) Len() int {
	return int(h.size.Load())
}
