package derived

import (
	"context"
	"slices"

	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

type pcsShape int

const (
	// each output sample depends on one input sample of the same axis
	pcsSeparable pcsShape = iota
	// 1D lon and lat replicated onto their 2D product
	pcsProduct
	// lon and lat share dimensions and map pointwise
	pcsPointwise
)

// Projected is one component of a projected coordinate pair. In forward
// mode it maps (lon, lat) in degrees to x or y in metres; in inverse mode
// it maps (x, y) back to lon or lat.
type Projected struct {
	src       types.DataConnector
	proj      Projection
	info      types.VarInfo
	a, b      string
	component int
	inverse   bool
	shape     pcsShape
}

// NewProjected derives component (0 for x or lon, 1 for y or lat) of the
// projection of the coordinate pair (a, b) read from src.
func NewProjected(src types.DataConnector, name string, proj Projection, a, b string, component int, inverse bool) (*Projected, error) {
	fail := func(format string, args ...interface{}) (*Projected, error) {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, format, args...).
			WithComponent("derived").
			WithContext("variable", name)
	}
	if component != 0 && component != 1 {
		return fail("component %d is not 0 or 1", component)
	}
	ia, err := src.GetBaseVarInfo(a)
	if err != nil {
		return nil, err
	}
	ib, err := src.GetBaseVarInfo(b)
	if err != nil {
		return nil, err
	}

	p := &Projected{src: src, proj: proj, a: a, b: b, component: component, inverse: inverse}
	in := ia
	if component == 1 {
		in = ib
	}
	info := types.VarInfo{
		Name:        name,
		Units:       "m",
		TimeDimName: ia.TimeDimName,
		CRatios:     slices.Clone(ia.CRatios),
		Mesh:        ia.Mesh,
		Axis:        component,
		Derived:     true,
	}
	if inverse {
		info.Units = "degrees_east"
		if component == 1 {
			info.Units = "degrees_north"
		}
	}

	switch {
	case ia.Rank() == 1 && ib.Rank() == 1 && ia.Mesh != "":
		if ia.DimNames[0] != ib.DimNames[0] {
			return fail("mesh coordinates %s and %s do not share a dimension", a, b)
		}
		p.shape = pcsPointwise
		info.DimNames = slices.Clone(ia.DimNames)
	case ia.Rank() == 1 && ib.Rank() == 1 && proj.Cylindrical():
		p.shape = pcsSeparable
		info.DimNames = slices.Clone(in.DimNames)
		info.Uniform = in.Uniform && linear(proj)
		if in.IsPeriodic(0) {
			info.Periodic = []bool{true}
		}
	case ia.Rank() == 1 && ib.Rank() == 1:
		p.shape = pcsProduct
		info.DimNames = []string{ia.DimNames[0], ib.DimNames[0]}
		info.Periodic = []bool{ia.IsPeriodic(0), ib.IsPeriodic(0)}
	case ia.Rank() == 2 && slices.Equal(ia.DimNames, ib.DimNames):
		p.shape = pcsPointwise
		info.DimNames = slices.Clone(ia.DimNames)
		info.Periodic = slices.Clone(ia.Periodic)
	default:
		return fail("cannot project %s(%d) and %s(%d)", a, ia.Rank(), b, ib.Rank())
	}
	p.info = info
	return p, nil
}

func linear(p Projection) bool {
	switch p.(type) {
	case latLong, eqc:
		return true
	}
	return false
}

func (p *Projected) Name() string        { return p.info.Name }
func (p *Projected) Info() types.VarInfo { return p.info.Clone() }
func (p *Projected) Inputs() []string    { return []string{p.a, p.b} }
func (p *Projected) NumTimeSteps() int   { return p.src.GetNumTimeSteps(p.a) }

func (p *Projected) NumRefLevels() int {
	return min(p.src.GetNumRefLevels(p.a), p.src.GetNumRefLevels(p.b))
}

func (p *Projected) DimLensAtLevel(level int) ([]int, []int, error) {
	da, ba, err := p.src.GetDimLensAtLevel(p.a, level)
	if err != nil {
		return nil, nil, err
	}
	db, bb, err := p.src.GetDimLensAtLevel(p.b, level)
	if err != nil {
		return nil, nil, err
	}
	switch p.shape {
	case pcsSeparable:
		if p.component == 1 {
			return db, bb, nil
		}
		return da, ba, nil
	case pcsProduct:
		return []int{da[0], db[0]}, []int{ba[0], bb[0]}, nil
	}
	return da, ba, nil
}

func (p *Projected) Exists(ts, level, lod int) bool {
	return p.src.VariableExists(ts, p.a, level, p.inputLOD(p.a, lod)) &&
		p.src.VariableExists(ts, p.b, level, p.inputLOD(p.b, lod))
}

func (p *Projected) inputLOD(name string, lod int) int {
	return min(lod, len(p.src.GetCRatios(name))-1)
}

func (p *Projected) apply(u, v float64) float64 {
	var x, y float64
	if p.inverse {
		x, y = p.proj.Inverse(u, v)
	} else {
		x, y = p.proj.Forward(u, v)
	}
	if p.component == 1 {
		return y
	}
	return x
}

func (p *Projected) ReadRegion(ctx context.Context, ts, level, lod int, lo, hi []int) ([]float64, error) {
	read := func(name string, lo, hi []int) ([]float64, error) {
		return region.ReadDense(ctx, p.src, ts, name, level, p.inputLOD(name, lod), lo, hi)
	}

	switch p.shape {
	case pcsSeparable:
		name := p.a
		if p.component == 1 {
			name = p.b
		}
		in, err := read(name, lo, hi)
		if err != nil {
			return nil, err
		}
		for i, v := range in {
			if p.component == 1 {
				in[i] = p.apply(0, v)
			} else {
				in[i] = p.apply(v, 0)
			}
		}
		return in, nil

	case pcsProduct:
		xs, err := read(p.a, lo[:1], hi[:1])
		if err != nil {
			return nil, err
		}
		ys, err := read(p.b, lo[1:2], hi[1:2])
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(xs)*len(ys))
		for j, y := range ys {
			for i, x := range xs {
				out[j*len(xs)+i] = p.apply(x, y)
			}
		}
		return out, nil
	}

	xs, err := read(p.a, lo, hi)
	if err != nil {
		return nil, err
	}
	ys, err := read(p.b, lo, hi)
	if err != nil {
		return nil, err
	}
	for i := range xs {
		xs[i] = p.apply(xs[i], ys[i])
	}
	return xs, nil
}
