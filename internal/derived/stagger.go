package derived

import (
	"context"
	"slices"

	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Resampled moves a variable between cell centres and cell faces along
// one axis. Staggering turns n centres into n+1 faces, extrapolating half
// a spacing beyond each end. Unstaggering turns n+1 faces into n centres
// by averaging neighbours.
type Resampled struct {
	src     types.DataConnector
	in      string
	info    types.VarInfo
	axis    int
	stagger bool
	dim     types.Dimension
}

// NewStaggered derives name from in with dimension axis replaced by the
// n+1 long dimension newDim.
func NewStaggered(src types.DataConnector, name, in string, axis int, newDim string) (*Resampled, error) {
	return newResampled(src, name, in, axis, newDim, true)
}

// NewUnstaggered derives name from in with dimension axis replaced by the
// n-1 long dimension newDim.
func NewUnstaggered(src types.DataConnector, name, in string, axis int, newDim string) (*Resampled, error) {
	return newResampled(src, name, in, axis, newDim, false)
}

func newResampled(src types.DataConnector, name, in string, axis int, newDim string, stagger bool) (*Resampled, error) {
	info, err := src.GetBaseVarInfo(in)
	if err != nil {
		return nil, err
	}
	if axis < 0 || axis >= info.Rank() {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "%s has no axis %d", in, axis).WithComponent("derived")
	}
	d, err := src.GetDimension(info.DimNames[axis])
	if err != nil {
		return nil, err
	}
	n := d.Length + 1
	if !stagger {
		n = d.Length - 1
	}
	if n < 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "cannot unstagger %s of length %d", in, d.Length).
			WithComponent("derived")
	}

	info.Name = name
	info.DimNames[axis] = newDim
	info.Derived = true
	info.Uniform = false
	return &Resampled{
		src:     src,
		in:      in,
		info:    info,
		axis:    axis,
		stagger: stagger,
		dim:     types.Dimension{Name: newDim, Length: n},
	}, nil
}

func (r *Resampled) Name() string                { return r.info.Name }
func (r *Resampled) Info() types.VarInfo         { return r.info.Clone() }
func (r *Resampled) Inputs() []string            { return []string{r.in} }
func (r *Resampled) NumTimeSteps() int           { return r.src.GetNumTimeSteps(r.in) }
func (r *Resampled) NumRefLevels() int           { return r.src.GetNumRefLevels(r.in) }
func (r *Resampled) Dimension() types.Dimension { return r.dim }

func (r *Resampled) DimLensAtLevel(level int) ([]int, []int, error) {
	dims, bs, err := r.src.GetDimLensAtLevel(r.in, level)
	if err != nil {
		return nil, nil, err
	}
	if r.stagger {
		dims[r.axis]++
	} else {
		dims[r.axis]--
	}
	return dims, bs, nil
}

func (r *Resampled) Exists(ts, level, lod int) bool {
	return r.src.VariableExists(ts, r.in, level, lod)
}

// ReadRegion reads the input slab needed for output samples [lo, hi]
// along the resampled axis and interpolates.
func (r *Resampled) ReadRegion(ctx context.Context, ts, level, lod int, lo, hi []int) ([]float64, error) {
	inDims, _, err := r.src.GetDimLensAtLevel(r.in, level)
	if err != nil {
		return nil, err
	}
	n := inDims[r.axis]
	a := r.axis

	inLo, inHi := slices.Clone(lo), slices.Clone(hi)
	if r.stagger {
		inLo[a] = max(0, min(lo[a]-1, n-2))
		inHi[a] = min(n-1, max(hi[a], 1))
	} else {
		inHi[a] = hi[a] + 1
	}
	in, err := region.ReadDense(ctx, r.src, ts, r.in, level, lod, inLo, inHi)
	if err != nil {
		return nil, err
	}

	inExt := region.Extent(region.Pad3(inLo, 0), region.Pad3(inHi, 0))
	outExt := region.Extent(region.Pad3(lo, 0), region.Pad3(hi, 0))
	out := make([]float64, region.Product(outExt))
	at := func(i, j, k int) float64 { return in[(k*inExt[1]+j)*inExt[0]+i] }

	for k := 0; k < outExt[2]; k++ {
		for j := 0; j < outExt[1]; j++ {
			for i := 0; i < outExt[0]; i++ {
				idx := [3]int{i, j, k}
				o := idx[a] + lo[a]
				sample := func(g int) float64 {
					p := idx
					p[a] = g - inLo[a]
					return at(p[0], p[1], p[2])
				}
				var v float64
				switch {
				case !r.stagger:
					v = 0.5 * (sample(o) + sample(o+1))
				case n == 1:
					v = sample(0)
				case o == 0:
					v = sample(0) - 0.5*(sample(1)-sample(0))
				case o == n:
					v = sample(n-1) + 0.5*(sample(n-1)-sample(n-2))
				default:
					v = 0.5 * (sample(o-1) + sample(o))
				}
				out[(k*outExt[1]+j)*outExt[0]+i] = v
			}
		}
	}
	return out, nil
}
