package buffer

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Handle refers to one live allocation in a BlockPool. The zero Handle is
// never issued.
type Handle uint32

// BlockPool is a bounded arena of float64 sample buffers addressed by
// handles. Freed buffers are recycled by exact length, so the memory held
// by live buffers equals InUse. All methods are safe for concurrent use.
type BlockPool struct {
	mu       sync.Mutex
	capacity int64
	inUse    int64
	slots    [][]float64
	used     *bitset.BitSet

	pools map[int]*sync.Pool

	stats PoolStats
}

// PoolStats reports pool usage in elements.
type PoolStats struct {
	Capacity    int64  `json:"capacity"`
	InUse       int64  `json:"in_use"`
	Live        int    `json:"live"`
	Allocs      uint64 `json:"allocs"`
	Frees       uint64 `json:"frees"`
	Exhaustions uint64 `json:"exhaustions"`
}

// maxSizes bounds the number of distinct buffer lengths recycled. Lengths
// beyond it are allocated and dropped without pooling.
const maxSizes = 256

// NewBlockPool creates a pool holding at most capacity float64 elements.
func NewBlockPool(capacity int64) *BlockPool {
	return &BlockPool{
		capacity: capacity,
		used:     bitset.New(64),
		pools:    make(map[int]*sync.Pool),
		stats:    PoolStats{Capacity: capacity},
	}
}

// Alloc reserves a zeroed buffer of n elements. It fails with a
// CACHE_EXHAUSTED error when the request would exceed capacity.
func (p *BlockPool) Alloc(n int) (Handle, []float64, error) {
	if n <= 0 {
		return 0, nil, errors.Newf(errors.ErrCodeInvalidArgument, "invalid allocation size %d", n).
			WithComponent("buffer")
	}

	p.mu.Lock()
	if p.inUse+int64(n) > p.capacity {
		p.stats.Exhaustions++
		inUse := p.inUse
		p.mu.Unlock()
		return 0, nil, errors.Newf(errors.ErrCodeCacheExhausted, "block pool exhausted: need %d elements, %d of %d in use", n, inUse, p.capacity).
			WithComponent("buffer").
			WithDetail("requested", n)
	}
	p.inUse += int64(n)
	p.mu.Unlock()

	buf := p.get(n)

	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.used.NextClear(0)
	if !ok || slot >= uint(len(p.slots)) {
		slot = uint(len(p.slots))
		p.slots = append(p.slots, nil)
	}
	p.used.Set(slot)
	p.slots[slot] = buf
	p.stats.Allocs++

	return Handle(slot + 1), buf, nil
}

// Free returns the buffer behind h to the pool. Freeing an unknown handle
// is an error.
func (p *BlockPool) Free(h Handle) error {
	p.mu.Lock()
	slot := uint(h) - 1
	if h == 0 || slot >= uint(len(p.slots)) || !p.used.Test(slot) {
		p.mu.Unlock()
		return errors.Newf(errors.ErrCodeInvalidArgument, "free of unknown block handle %d", h).
			WithComponent("buffer")
	}
	buf := p.slots[slot]
	p.slots[slot] = nil
	p.used.Clear(slot)
	p.inUse -= int64(len(buf))
	p.stats.Frees++
	p.mu.Unlock()

	p.put(buf)
	return nil
}

// Get returns the buffer behind h, or nil for an unknown handle.
func (p *BlockPool) Get(h Handle) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := uint(h) - 1
	if h == 0 || slot >= uint(len(p.slots)) || !p.used.Test(slot) {
		return nil
	}
	return p.slots[slot]
}

// InUse returns the number of elements currently allocated.
func (p *BlockPool) InUse() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the element capacity.
func (p *BlockPool) Capacity() int64 {
	return p.capacity
}

// Stats returns current pool statistics
func (p *BlockPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.InUse = p.inUse
	stats.Live = int(p.used.Count())
	return stats
}

// sizePool returns the recycler for buffers of length n, creating it if
// there is room.
func (p *BlockPool) sizePool(n int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.pools[n]
	if !ok && len(p.pools) < maxSizes {
		pool = &sync.Pool{}
		p.pools[n] = pool
	}
	return pool
}

func (p *BlockPool) get(n int) []float64 {
	if pool := p.sizePool(n); pool != nil {
		if bufp, ok := pool.Get().(*[]float64); ok {
			buf := *bufp
			clear(buf)
			return buf
		}
	}
	return make([]float64, n)
}

func (p *BlockPool) put(buf []float64) {
	if pool := p.sizePool(len(buf)); pool != nil {
		pool.Put(&buf)
	}
}
