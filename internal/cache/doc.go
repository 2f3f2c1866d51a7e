/*
Package cache provides the two caches beneath the variable access engine.

# LRU

LRU is a generic, capacity-bounded cache of heavyweight objects such as grid
auxiliary structures and connectivity arrays. The recency policy is fixed at
construction:

	InsertionOnly  - only Insert refreshes recency; the cache behaves as a FIFO
	                 for entries that are never re-inserted
	TouchOnQuery   - Query also refreshes recency

Each operation is atomic. Compound check-then-insert sequences must be guarded
by the caller.

	aux := cache.NewLRU[string, *SpatialIndex](10, cache.TouchOnQuery)
	if idx, ok := aux.Query(key); ok {
		return idx
	}
	aux.Insert(key, build())

# RegionIndex

RegionIndex holds decoded regions keyed by RegionKey (timestep, variable,
level, LOD, block range, block size) in least-recently-used order, each with a
lock count:

	┌───────────┐  Insert/Acquire   ┌───────────────────────┐
	│  engine   │ ────────────────► │ front (most recent)   │
	└───────────┘                   │   ...                 │
	      │        EvictOne         │ back (least recent)   │
	      └───────────────────────► └───────────────────────┘
	                                  skips locks > 0

Insert and Acquire return with one lock held. EvictOne releases the least
recently used region whose lock count is zero. Purge removes matching regions
from the index at once, but a locked region keeps its memory until the last
Unlock.
*/
package cache
