package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/fieldcache/fieldcache/pkg/types"
)

// Policy selects which operations refresh an entry's recency.
type Policy int

const (
	// InsertionOnly refreshes recency on Insert only. Queries never reorder.
	InsertionOnly Policy = iota
	// TouchOnQuery refreshes recency on both Insert and Query.
	TouchOnQuery
)

func (p Policy) String() string {
	if p == TouchOnQuery {
		return "touch_on_query"
	}
	return "insertion_only"
}

// LRU is a capacity-bounded, thread-safe cache of heavyweight values. It has
// no notion of values being in use: a value returned by Query stays cached
// until at least Cap() further distinct insertions have happened.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[K, V]
	policy   Policy
	capacity int

	hits      uint64
	misses    uint64
	evictions uint64
}

// LRUOption configures an LRU.
type LRUOption[K comparable, V any] func(*lruOptions[K, V])

type lruOptions[K comparable, V any] struct {
	onEvict func(K, V)
}

// WithEvictCallback registers fn to run when an entry leaves the cache
// because of capacity pressure or Remove/Purge. fn runs with the cache
// lock held and must not call back into the cache.
func WithEvictCallback[K comparable, V any](fn func(K, V)) LRUOption[K, V] {
	return func(o *lruOptions[K, V]) {
		o.onEvict = fn
	}
}

// NewLRU creates a cache holding at most capacity entries. Capacities below
// one are raised to one.
func NewLRU[K comparable, V any](capacity int, policy Policy, opts ...LRUOption[K, V]) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}

	var o lruOptions[K, V]
	for _, opt := range opts {
		opt(&o)
	}

	c := &LRU[K, V]{policy: policy, capacity: capacity}
	onEvict := func(k K, v V) {
		c.evictions++
		if o.onEvict != nil {
			o.onEvict(k, v)
		}
	}

	// NewLRU only fails on a non-positive size, excluded above.
	l, err := simplelru.NewLRU[K, V](capacity, onEvict)
	if err != nil {
		panic(err)
	}
	c.lru = l
	return c
}

// Query returns the value cached under key. Ownership stays with the cache.
func (c *LRU[K, V]) Query(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		v  V
		ok bool
	)
	if c.policy == TouchOnQuery {
		v, ok = c.lru.Get(key)
	} else {
		v, ok = c.lru.Peek(key)
	}

	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Insert stores value under key, replacing and refreshing an existing entry.
// It reports whether an older entry was evicted to make room.
func (c *LRU[K, V]) Insert(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Add(key, value)
}

// Remove drops key from the cache.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Keys returns the cached keys, oldest first.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cap returns the configured capacity.
func (c *LRU[K, V]) Cap() int {
	return c.capacity
}

// Policy returns the recency policy fixed at construction.
func (c *LRU[K, V]) Policy() Policy {
	return c.policy
}

// Stats returns hit, miss and eviction counters.
func (c *LRU[K, V]) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      int64(c.lru.Len()),
		Capacity:  int64(c.capacity),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}
