package gmatch

import (
	"fmt"
	"sync"
)

// QueryKey is the constraint for query keys - they must be comparable
// for use as map keys.
type QueryKey interface {
	comparable
}

// Query represents a computation that can be cached.  K is the key
// type (input) and V is the value type (output).
type Query[K QueryKey, V any] struct {
	Name    string
	Compute func(db *Database, key K) (V, error)
}

// queryID is a unique identifier for a cached query result, combining
// the query name with its key.
type queryID struct {
	queryName string
	key       any
}

// cachedValue holds a cached computation result along with the
// revision it was computed at
type cachedValue struct {
	value    any
	err      error
	revision int
}

// inflight lets concurrent callers of the same query wait for a
// single computation
type inflight struct {
	done  chan struct{}
	value any
	err   error
}

// Database is the store for query results.  Compiled grammars are
// cached here so that matchers created from the same grammar text
// share a single Grammar, and with it a single lexer automaton.
type Database struct {
	mu sync.Mutex

	// revision is incremented each time the cache is invalidated
	revision int

	// cache stores computed query results
	cache map[queryID]cachedValue

	// running holds the queries being computed right now
	running map[queryID]*inflight

	hits, misses int
}

// NewDatabase creates an empty query database
func NewDatabase() *Database {
	return &Database{
		cache:   make(map[queryID]cachedValue),
		running: make(map[queryID]*inflight),
	}
}

// Revision returns the current database revision
func (db *Database) Revision() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.revision
}

// Get executes a query, returning a cached result if available, or
// computing and caching a new result.  Errors are cached too, so a
// broken grammar isn't compiled over and over.
func Get[K QueryKey, V any](db *Database, q *Query[K, V], key K) (V, error) {
	id := queryID{queryName: q.Name, key: key}

	db.mu.Lock()

	// Check cache
	if cached, ok := db.cache[id]; ok {
		db.hits++
		db.mu.Unlock()
		return unwrapCached[V](cached.value, cached.err)
	}

	// Wait for whoever is computing the same query
	if fl, ok := db.running[id]; ok {
		db.hits++
		db.mu.Unlock()
		<-fl.done
		return unwrapCached[V](fl.value, fl.err)
	}

	db.misses++
	fl := &inflight{done: make(chan struct{})}
	db.running[id] = fl
	revision := db.revision
	db.mu.Unlock()

	// Compute the value (outside the lock to allow nested queries)
	value, err := q.Compute(db, key)
	fl.value, fl.err = value, err

	db.mu.Lock()
	delete(db.running, id)
	// a value computed before an invalidation is stale
	if revision == db.revision {
		db.cache[id] = cachedValue{
			value:    value,
			err:      err,
			revision: db.revision,
		}
	}
	db.mu.Unlock()
	close(fl.done)

	return value, err
}

func unwrapCached[V any](value any, err error) (V, error) {
	if err != nil {
		var zero V
		return zero, err
	}
	return value.(V), nil
}

// Invalidate removes a cached value from the cache.  This forces
// recomputation on the next query.
func Invalidate[K QueryKey, V any](db *Database, q *Query[K, V], key K) {
	id := queryID{queryName: q.Name, key: key}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.revision++
	delete(db.cache, id)
}

// InvalidateAll clears all cached values, forcing full recomputation
func (db *Database) InvalidateAll() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.revision++
	db.cache = make(map[queryID]cachedValue)
}

// Stats returns statistics about the query cache (mostly for debugging/testing).
func (db *Database) Stats() DatabaseStats {
	db.mu.Lock()
	defer db.mu.Unlock()

	return DatabaseStats{
		Revision:    db.revision,
		CachedCount: len(db.cache),
		Hits:        db.hits,
		Misses:      db.misses,
	}
}

// DatabaseStats holds statistics about the query database.
type DatabaseStats struct {
	Revision    int
	CachedCount int
	Hits        int
	Misses      int
}

func (s DatabaseStats) String() string {
	return fmt.Sprintf("Database{revision=%d, cached=%d, hits=%d, misses=%d}",
		s.Revision, s.CachedCount, s.Hits, s.Misses)
}
