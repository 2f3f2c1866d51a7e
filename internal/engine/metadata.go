package engine

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/jellydator/ttlcache/v3"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Metadata keys are "kind|variable|...".
func metaKey(kind, name string, args ...int) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('|')
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(a))
	}
	return b.String()
}

func metaKeyName(key string) string {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// cached returns the metadata entry under key, computing it once across
// concurrent callers on a miss. Failures are not cached.
func cached[V any](e *Engine, key string, load func() (V, error)) (V, error) {
	if item := e.meta.Get(key); item != nil {
		if v, ok := item.Value().(V); ok {
			return v, nil
		}
	}
	r, err, _ := e.metaLoads.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		e.meta.Set(key, v, ttlcache.DefaultTTL)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return r.(V), nil
}

// GetVarInfo returns the descriptor of a data or coordinate variable.
func (e *Engine) GetVarInfo(name string) (types.VarInfo, error) {
	info, err := cached(e, metaKey("info", name), func() (types.VarInfo, error) {
		return e.dc.GetBaseVarInfo(name)
	})
	if err != nil {
		return types.VarInfo{}, err
	}
	return info.Clone(), nil
}

// VariableExists reports whether name can be read at the given fidelity.
// No correction is applied.
func (e *Engine) VariableExists(ts int, name string, level, lod int) bool {
	return e.dc.VariableExists(ts, name, level, lod)
}

// IsTimeVarying reports whether name has a time dimension. Unknown
// variables report false.
func (e *Engine) IsTimeVarying(name string) bool {
	info, err := e.GetVarInfo(name)
	return err == nil && info.IsTimeVarying()
}

func (e *Engine) GetDataVarNames() []string       { return e.dc.GetDataVarNames() }
func (e *Engine) GetCoordVarNames() []string      { return e.dc.GetCoordVarNames() }
func (e *Engine) GetNumTimeSteps(name string) int { return e.dc.GetNumTimeSteps(name) }
func (e *Engine) GetNumRefLevels(name string) int { return e.dc.GetNumRefLevels(name) }
func (e *Engine) GetCRatios(name string) []int    { return e.dc.GetCRatios(name) }

// GetDimLensAtLevel returns dimension lengths and block size of name at a
// corrected level.
func (e *Engine) GetDimLensAtLevel(name string, level int) (dims, bs []int, err error) {
	l, _ := CorrectLevel(level, e.dc.GetNumRefLevels(name))
	return e.dc.GetDimLensAtLevel(name, l)
}

// GetVariableExtents returns the user-space bounding box of a variable's
// nodes at time step ts and a corrected level. Unused axes are zero.
func (e *Engine) GetVariableExtents(ctx context.Context, ts int, name string, level int) (grid.Coord, grid.Coord, error) {
	v, err := e.resolve(ts, name, level, -1)
	if err != nil {
		return grid.Coord{}, grid.Coord{}, err
	}

	type extents struct{ min, max grid.Coord }
	ext, err := cached(e, metaKey("extents", name, v.ts, v.level), func() (extents, error) {
		coords, _, err := e.spatialCoords(v.info)
		if err != nil {
			return extents{}, err
		}
		if len(coords) == 0 {
			return extents{}, errors.Newf(errors.ErrCodeUnsupportedGrid, "%s has no spatial coordinates", name).
				WithComponent("engine")
		}

		var out extents
		for _, c := range coords {
			p, err := e.planCoord(v, c)
			if err != nil {
				return extents{}, err
			}
			vals, err := e.denseCoord(ctx, p)
			if err != nil {
				return extents{}, err
			}
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, x := range vals {
				lo, hi = min(lo, x), max(hi, x)
			}
			out.min[c.Axis], out.max[c.Axis] = lo, hi
		}
		return out, nil
	})
	if err != nil {
		return grid.Coord{}, grid.Coord{}, err
	}
	return ext.min, ext.max, nil
}

// GetDataRange returns the smallest and largest non-missing sample of a
// variable. A variable with only missing samples reports the missing value
// for both.
func (e *Engine) GetDataRange(ctx context.Context, ts int, name string, level, lod int) (lo, hi float64, err error) {
	v, err := e.resolve(ts, name, level, lod)
	if err != nil {
		return 0, 0, err
	}

	r, err := cached(e, metaKey("range", name, v.ts, v.level, v.lod), func() ([2]float64, error) {
		full := region.Dims{v.dims[0] - 1, v.dims[1] - 1, v.dims[2] - 1}
		ref, err := e.acquire(ctx, regionKey(v.ts, name, v.level, v.lod, region.Dims{}, full, v.bs), v.rank)
		if err != nil {
			return [2]float64{}, err
		}
		defer e.unlock([]cache.RegionID{ref.id})

		vals := ref.data.dense(region.Dims{}, full)
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, x := range vals {
			if v.info.HasMissing && x == v.info.MissingValue {
				continue
			}
			lo, hi = min(lo, x), max(hi, x)
		}
		if lo > hi {
			return [2]float64{v.info.MissingValue, v.info.MissingValue}, nil
		}
		return [2]float64{lo, hi}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	return r[0], r[1], nil
}

// GetTimeCoordinates returns the value of the time coordinate at every
// time step, or nil when no variable describes time.
func (e *Engine) GetTimeCoordinates(ctx context.Context) ([]float64, error) {
	var name string
	for _, n := range e.dc.GetCoordVarNames() {
		if info, err := e.GetVarInfo(n); err == nil && info.Axis == 3 {
			name = n
			break
		}
	}
	if name == "" {
		return nil, nil
	}

	times, err := cached(e, metaKey("times", name), func() ([]float64, error) {
		n := e.dc.GetNumTimeSteps(name)
		out := make([]float64, n)
		for ts := range out {
			ref, err := e.acquire(ctx, regionKey(ts, name, 0, 0, region.Dims{}, region.Dims{}, region.Dims{1, 1, 1}), 0)
			if err != nil {
				return nil, err
			}
			out[ts] = ref.data.buf[0]
			e.unlock([]cache.RegionID{ref.id})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), times...), nil
}
