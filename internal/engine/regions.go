package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcache/fieldcache/internal/buffer"
	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
)

// regionData is one resident block range held in the pool.
type regionData struct {
	handle buffer.Handle
	buf    []float64
	rank   int
	bmin   region.Dims
	bmax   region.Dims
	bs     region.Dims
}

func (e *Engine) releaseRegion(r *regionData) {
	if err := e.pool.Free(r.handle); err != nil {
		e.logger.Error("region release failed", zap.Error(err))
	}
}

// regionRef is a region with one lock held by the holder of the ref.
type regionRef struct {
	id   cache.RegionID
	data *regionData
}

// acquire returns the region for key with one lock held, decoding it on a
// miss. Concurrent misses on the same key share one decode.
func (e *Engine) acquire(ctx context.Context, key cache.RegionKey, rank int) (regionRef, error) {
	for attempt := 0; attempt <= loadAttempts; attempt++ {
		if id, data, ok := e.regions.Acquire(key); ok {
			if attempt == 0 {
				e.metrics.RecordRegionHit(key.Name)
			}
			return regionRef{id: id, data: data}, nil
		}
		if attempt == loadAttempts {
			break
		}
		_, err, _ := e.loads.Do(key.String(), func() (any, error) {
			return nil, e.load(ctx, key, rank)
		})
		if err != nil {
			return regionRef{}, err
		}
	}
	return regionRef{}, errors.Newf(errors.ErrCodeCacheExhausted, "region %s evicted before it could be locked", key).
		WithComponent("engine").
		WithOperation("acquire")
}

// load decodes key into fresh pool memory and makes it resident unlocked.
func (e *Engine) load(ctx context.Context, key cache.RegionKey, rank int) error {
	n := region.BlockedLen(key.BMin, key.BMax, key.BS)
	h, buf, err := e.alloc(n)
	if err != nil {
		e.logger.Warn("block pool exhausted",
			zap.String("region", key.String()),
			zap.Int("samples", n),
			zap.Int("locked_grids", e.LockedGrids()))
		return err
	}

	start := time.Now()
	if err := e.decodeRegion(ctx, key, rank, buf); err != nil {
		_ = e.pool.Free(h)
		e.updatePool()
		e.logger.Warn("region decode failed", zap.String("region", key.String()), zap.Error(err))
		return err
	}

	data := &regionData{handle: h, buf: buf, rank: rank, bmin: key.BMin, bmax: key.BMax, bs: key.BS}
	id, _, inserted := e.regions.Insert(key, data)
	if !inserted {
		_ = e.pool.Free(h)
	}
	e.regions.Unlock(id)
	e.updatePool()

	e.metrics.RecordRegionMiss(key.Name, int64(n)*8)
	e.logger.Debug("region decoded",
		zap.String("region", key.String()),
		zap.Int("samples", n),
		zap.Duration("took", time.Since(start)))
	return nil
}

// alloc takes n samples from the pool, evicting unlocked regions in LRU
// order until the allocation fits or nothing is left to evict.
func (e *Engine) alloc(n int) (buffer.Handle, []float64, error) {
	evicted := 0
	defer func() {
		if evicted > 0 {
			e.metrics.RecordEvictions(evicted)
			e.logger.Debug("regions evicted", zap.Int("count", evicted))
		}
	}()

	for {
		h, buf, err := e.pool.Alloc(n)
		if err == nil {
			return h, buf, nil
		}
		if errors.CodeOf(err) != errors.ErrCodeCacheExhausted {
			return 0, nil, err
		}
		if !e.regions.EvictOne() {
			return 0, nil, err
		}
		evicted++
	}
}

// decodeRegion reads the block range of key into buf. The range is cut
// into slabs along its slowest multi-block axis; each slab is contiguous
// in buf and is read concurrently, bounded by the engine-wide decode
// semaphore.
func (e *Engine) decodeRegion(ctx context.Context, key cache.RegionKey, rank int, buf []float64) error {
	nb := region.NumBlocks(key.BMin, key.BMax)
	axis := -1
	for a := rank - 1; a >= 0; a-- {
		if nb[a] > 1 {
			axis = a
			break
		}
	}

	read := func(ctx context.Context, bmin, bmax region.Dims, out []float64) error {
		return e.retry.Do(ctx, func(ctx context.Context) error {
			if err := e.decode.Acquire(ctx, 1); err != nil {
				return err
			}
			defer e.decode.Release(1)

			err := region.ReadBlocks(ctx, e.dc, key.TS, key.Name, key.Level, key.LOD,
				region.Trim(bmin, rank), region.Trim(bmax, rank), out)
			if err != nil && errors.CodeOf(err) == "" {
				return errors.Wrap(err, errors.ErrCodeDecodeFailed, "read "+key.Name).
					WithComponent("engine").
					WithOperation("decode")
			}
			return err
		})
	}

	if axis < 0 {
		return read(ctx, key.BMin, key.BMax, buf)
	}

	layer := len(buf) / nb[axis]
	chunks := min(nb[axis], e.cfg.numThreads)
	per := (nb[axis] + chunks - 1) / chunks

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.numThreads)
	for first := 0; first < nb[axis]; first += per {
		last := min(first+per, nb[axis]) - 1
		bmin, bmax := key.BMin, key.BMax
		bmin[axis] = key.BMin[axis] + first
		bmax[axis] = key.BMin[axis] + last
		out := buf[first*layer : (last+1)*layer]
		g.Go(func() error {
			return read(gctx, bmin, bmax, out)
		})
	}
	return g.Wait()
}

// regionKey builds the cache key of the block range covering voxels
// [vmin, vmax] of a variable.
func regionKey(ts int, name string, level, lod int, vmin, vmax, bs region.Dims) cache.RegionKey {
	bmin, bmax := region.BlockRange(vmin, vmax, bs)
	return cache.RegionKey{TS: ts, Name: name, Level: level, LOD: lod, BMin: bmin, BMax: bmax, BS: bs}
}

// voxelOrigin is the first voxel of a region.
func (r *regionData) voxelOrigin() region.Dims {
	return region.Dims{r.bmin[0] * r.bs[0], r.bmin[1] * r.bs[1], r.bmin[2] * r.bs[2]}
}

// dense copies voxels [vmin, vmax] out of the region.
func (r *regionData) dense(vmin, vmax region.Dims) []float64 {
	origin := r.voxelOrigin()
	offset := region.Dims{vmin[0] - origin[0], vmin[1] - origin[1], vmin[2] - origin[2]}
	ext := region.Extent(vmin, vmax)
	out := make([]float64, region.Product(ext))
	region.Unblock(out, r.buf, offset, ext, r.bs, region.NumBlocks(r.bmin, r.bmax))
	return out
}
