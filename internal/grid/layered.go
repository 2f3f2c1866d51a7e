package grid

import (
	"iter"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Layered is a 3D grid with uniform horizontal spacing and a vertical
// coordinate that varies per column, such as terrain-following levels.
// The vertical coordinate must be monotonic along k in every column.
type Layered struct {
	structured
	z     *BlockArray
	minu  Coord
	maxu  Coord
	delta Coord
}

// NewLayered creates a layered grid. minXY and maxXY give the horizontal
// extents; z holds one vertical coordinate per node.
func NewLayered(vals, z *BlockArray, minXY, maxXY [2]float64) (*Layered, error) {
	dims := vals.Dims()
	if z.Dims() != dims {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, "vertical coordinate dims %v differ from data dims %v", z.Dims(), dims).
			WithComponent("grid")
	}
	if dims[2] < 1 {
		return nil, errors.NewError(errors.ErrCodeConstructionFailed, "layered grid needs a vertical axis").
			WithComponent("grid")
	}

	g := &Layered{z: z}
	g.structured = structured{base: newBase(KindLayered, 3, 3, dims, vals), shape: g}
	for i := 0; i < 2; i++ {
		g.minu[i], g.maxu[i] = minXY[i], maxXY[i]
		if dims[i] > 1 {
			g.delta[i] = (maxXY[i] - minXY[i]) / float64(dims[i]-1)
		}
	}

	// Vertical extents come from the bottom and top layers only.
	g.minu[2], g.maxu[2] = g.zRange(Index{0, 0, 0}, Index{dims[0] - 1, dims[1] - 1, dims[2] - 1})
	return g, nil
}

func (g *Layered) zRange(min, max Index) (float64, float64) {
	lo, hi := g.z.At(min[0], min[1], min[2]), g.z.At(min[0], min[1], min[2])
	for _, k := range []int{min[2], max[2]} {
		for j := min[1]; j <= max[1]; j++ {
			for i := min[0]; i <= max[0]; i++ {
				v := g.z.At(i, j, k)
				lo = minf(lo, v)
				hi = maxf(hi, v)
			}
		}
	}
	return lo, hi
}

func (g *Layered) GetUserExtents() (Coord, Coord) {
	return g.minu, g.maxu
}

func (g *Layered) xy(axis, i int) float64 {
	if i == g.dims[axis]-1 && i > 0 {
		return g.maxu[axis]
	}
	return g.minu[axis] + float64(i)*g.delta[axis]
}

func (g *Layered) GetUserCoordinates(idx Index) (Coord, bool) {
	if !g.validNode(idx) {
		return Coord{}, false
	}
	return Coord{g.xy(0, idx[0]), g.xy(1, idx[1]), g.z.At(idx[0], idx[1], idx[2])}, true
}

func (g *Layered) GetBoundingBox(min, max Index) (Coord, Coord) {
	min, max = clampRange(min, max, g.dims)
	zlo, zhi := g.zRange(min, max)
	return Coord{g.xy(0, min[0]), g.xy(1, min[1]), zlo}, Coord{g.xy(0, max[0]), g.xy(1, max[1]), zhi}
}

func (g *Layered) locate(c Coord) (Index, [3]float64, bool) {
	var (
		cell Index
		lam  [3]float64
	)
	for i := 0; i < 2; i++ {
		ci, li, ok := uniformInterval(c[i], g.minu[i], g.delta[i], g.dims[i])
		if !ok {
			return Index{}, lam, false
		}
		cell[i], lam[i] = ci, li
	}

	column := make([]float64, g.dims[2])
	i1, j1 := min(cell[0]+1, g.dims[0]-1), min(cell[1]+1, g.dims[1]-1)
	for k := range column {
		column[k] = (1-lam[0])*(1-lam[1])*g.z.At(cell[0], cell[1], k) +
			lam[0]*(1-lam[1])*g.z.At(i1, cell[1], k) +
			lam[0]*lam[1]*g.z.At(i1, j1, k) +
			(1-lam[0])*lam[1]*g.z.At(cell[0], j1, k)
	}
	k, lz, ok := findInterval(column, c[2])
	if !ok {
		return Index{}, lam, false
	}
	cell[2], lam[2] = k, lz
	return cell, lam, true
}

// Nodes narrows the horizontal range in closed form before walking the
// columns, so only columns under box are read.
func (g *Layered) Nodes(box *Box) iter.Seq2[Index, Coord] {
	lo, hi := fullRange(g.dims)
	if box != nil && !narrowUniform(&lo, &hi, box, g.minu, g.delta, 2) {
		return emptySeq
	}
	return nodeSeq(g, box, lo, hi)
}

func (g *Layered) Cells(box *Box) iter.Seq2[Index, Coord] {
	return cellSeq(g, box)
}

func minf(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}

func maxf(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}
