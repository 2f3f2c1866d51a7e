package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/fieldcache/fieldcache/pkg/types"
)

// RegionKey identifies a decoded, block-aligned region of one variable.
// Block bounds and block size are padded to three axes with zeros.
type RegionKey struct {
	TS    int
	Name  string
	Level int
	LOD   int
	BMin  [3]int
	BMax  [3]int
	BS    [3]int
}

func (k RegionKey) String() string {
	return fmt.Sprintf("%s:%d:%d:%d:%v-%v/%v", k.Name, k.TS, k.Level, k.LOD, k.BMin, k.BMax, k.BS)
}

// RegionID refers to one resident region for locking and unlocking. IDs are
// never reused, so an ID outlives removal of its key from the index.
type RegionID uint64

// RegionIndex tracks resident regions in least-recently-used order together
// with a lock count per region. Regions with a nonzero lock count are never
// released. Regions dropped by Purge while locked stay allocated until their
// last lock goes away.
type RegionIndex[V any] struct {
	mu        sync.Mutex
	items     map[RegionKey]*regionItem[V]
	byID      map[RegionID]*regionItem[V]
	evictList *list.List
	nextID    RegionID

	release func(V)
	size    func(V) int64

	currentSize int64
	stats       types.CacheStats
}

type regionItem[V any] struct {
	id      RegionID
	key     RegionKey
	value   V
	locks   int
	size    int64
	orphan  bool
	element *list.Element
}

// NewRegionIndex creates an empty index. release is called exactly once per
// region when it is evicted or purged and no longer locked. size reports the
// bytes a value occupies for statistics; nil counts every region as zero.
func NewRegionIndex[V any](release func(V), size func(V) int64) *RegionIndex[V] {
	if release == nil {
		release = func(V) {}
	}
	if size == nil {
		size = func(V) int64 { return 0 }
	}
	return &RegionIndex[V]{
		items:     make(map[RegionKey]*regionItem[V]),
		byID:      make(map[RegionID]*regionItem[V]),
		evictList: list.New(),
		release:   release,
		size:      size,
	}
}

// Acquire looks up key, refreshes its recency and adds one lock.
func (r *RegionIndex[V]) Acquire(key RegionKey) (RegionID, V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, exists := r.items[key]
	if !exists {
		r.stats.Misses++
		var zero V
		return 0, zero, false
	}

	r.evictList.MoveToFront(item.element)
	item.locks++
	r.stats.Hits++
	return item.id, item.value, true
}

// Insert adds value under key with one lock held. When key is already
// resident the existing region is acquired instead and inserted is false;
// the caller then owns value and must dispose of it.
func (r *RegionIndex[V]) Insert(key RegionKey, value V) (id RegionID, resident V, inserted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item, exists := r.items[key]; exists {
		r.evictList.MoveToFront(item.element)
		item.locks++
		return item.id, item.value, false
	}

	r.nextID++
	item := &regionItem[V]{
		id:    r.nextID,
		key:   key,
		value: value,
		locks: 1,
		size:  r.size(value),
	}
	item.element = r.evictList.PushFront(item)
	r.items[key] = item
	r.byID[item.id] = item
	r.currentSize += item.size
	return item.id, value, true
}

// Lock adds one lock to a resident or orphaned region.
func (r *RegionIndex[V]) Lock(id RegionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.byID[id]
	if !ok {
		return false
	}
	item.locks++
	return true
}

// Unlock drops one lock. An orphaned region is released once its count
// reaches zero. Unlocking an unknown or unlocked region is a no-op that
// returns false.
func (r *RegionIndex[V]) Unlock(id RegionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.byID[id]
	if !ok || item.locks == 0 {
		return false
	}
	item.locks--
	if item.locks == 0 && item.orphan {
		delete(r.byID, id)
		r.currentSize -= item.size
		r.release(item.value)
	}
	return true
}

// EvictOne releases the least-recently-used unlocked region and reports
// whether one was found.
func (r *RegionIndex[V]) EvictOne() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for e := r.evictList.Back(); e != nil; e = e.Prev() {
		item := e.Value.(*regionItem[V])
		if item.locks > 0 {
			continue
		}
		r.removeItem(item)
		r.stats.Evictions++
		return true
	}
	return false
}

// Purge removes every region whose key matches. Unlocked regions are
// released now; locked ones become orphans. It returns the number removed.
func (r *RegionIndex[V]) Purge(match func(RegionKey) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var victims []*regionItem[V]
	for e := r.evictList.Front(); e != nil; e = e.Next() {
		item := e.Value.(*regionItem[V])
		if match == nil || match(item.key) {
			victims = append(victims, item)
		}
	}
	for _, item := range victims {
		r.removeItem(item)
	}
	return len(victims)
}

// removeItem must be called with r.mu held.
func (r *RegionIndex[V]) removeItem(item *regionItem[V]) {
	r.evictList.Remove(item.element)
	item.element = nil
	delete(r.items, item.key)

	if item.locks > 0 {
		item.orphan = true
		return
	}
	delete(r.byID, item.id)
	r.currentSize -= item.size
	r.release(item.value)
}

// LockCount returns the lock count of the resident region under key.
func (r *RegionIndex[V]) LockCount(key RegionKey) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[key]
	if !ok {
		return 0, false
	}
	return item.locks, true
}

// Contains reports whether key is resident without touching it.
func (r *RegionIndex[V]) Contains(key RegionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[key]
	return ok
}

// Len returns the number of resident regions. Orphans are not counted.
func (r *RegionIndex[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Orphans returns the number of purged regions still held by locks.
func (r *RegionIndex[V]) Orphans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID) - len(r.items)
}

// Stats returns cache statistics. Size counts resident and orphaned bytes.
func (r *RegionIndex[V]) Stats() types.CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.stats
	stats.Size = r.currentSize
	for _, item := range r.items {
		if item.locks > 0 {
			stats.Locked++
		}
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
