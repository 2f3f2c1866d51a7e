package grid

import (
	"iter"
	"math"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Curvilinear is a grid whose horizontal node positions are full 2D arrays.
// The vertical coordinate, when present, is either a 1D array shared by all
// columns or a 3D array with one value per node.
type Curvilinear struct {
	structured
	x, y  *BlockArray
	z1d   []float64
	z3d   *BlockArray
	index *CellIndex
	minu  Coord
	maxu  Coord
}

// CurvilinearZ selects the optional vertical coordinate. At most one field
// may be set.
type CurvilinearZ struct {
	Z1D []float64
	Z3D *BlockArray
}

// NewCurvilinear creates a curvilinear grid. index may be nil, in which
// case one is built from x and y.
func NewCurvilinear(vals, x, y *BlockArray, z CurvilinearZ, index *CellIndex) (*Curvilinear, error) {
	dims := vals.Dims()
	hd := Index{dims[0], dims[1], 1}
	if x.Dims() != hd || y.Dims() != hd {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, "horizontal coordinate dims %v/%v do not match %v", x.Dims(), y.Dims(), hd).
			WithComponent("grid")
	}

	rank := 2
	switch {
	case z.Z1D != nil && z.Z3D != nil:
		return nil, errors.NewError(errors.ErrCodeConstructionFailed, "both 1D and 3D vertical coordinates given").
			WithComponent("grid")
	case z.Z1D != nil:
		rank = 3
		if len(z.Z1D) != dims[2] || !monotonic(z.Z1D) {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "1D vertical coordinate of length %d invalid for %d layers", len(z.Z1D), dims[2]).
				WithComponent("grid")
		}
	case z.Z3D != nil:
		rank = 3
		if z.Z3D.Dims() != dims {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "3D vertical coordinate dims %v differ from %v", z.Z3D.Dims(), dims).
				WithComponent("grid")
		}
	default:
		if dims[2] != 1 {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "3D data dims %v without vertical coordinate", dims).
				WithComponent("grid")
		}
	}

	if index == nil {
		index = NewQuadCellIndex(x, y)
	}

	g := &Curvilinear{x: x, y: y, z1d: z.Z1D, z3d: z.Z3D, index: index}
	g.structured = structured{base: newBase(KindCurvilinear, rank, rank, dims, vals), shape: g}

	g.minu[0], g.maxu[0], _ = x.MinMax(nil)
	g.minu[1], g.maxu[1], _ = y.MinMax(nil)
	switch {
	case g.z1d != nil:
		g.minu[2], g.maxu[2] = minf(g.z1d[0], g.z1d[len(g.z1d)-1]), maxf(g.z1d[0], g.z1d[len(g.z1d)-1])
	case g.z3d != nil:
		g.minu[2], g.maxu[2], _ = g.z3d.MinMax(nil)
	}
	return g, nil
}

// CellIndex returns the horizontal spatial index.
func (g *Curvilinear) CellIndex() *CellIndex {
	return g.index
}

func (g *Curvilinear) GetUserExtents() (Coord, Coord) {
	return g.minu, g.maxu
}

func (g *Curvilinear) zAt(i, j, k int) float64 {
	switch {
	case g.z1d != nil:
		return g.z1d[k]
	case g.z3d != nil:
		return g.z3d.At(i, j, k)
	}
	return 0
}

func (g *Curvilinear) GetUserCoordinates(idx Index) (Coord, bool) {
	if !g.validNode(idx) {
		return Coord{}, false
	}
	i, j, k := idx[0], idx[1], idx[2]
	return Coord{g.x.At(i, j, 0), g.y.At(i, j, 0), g.zAt(i, j, k)}, true
}

func (g *Curvilinear) GetBoundingBox(min, max Index) (Coord, Coord) {
	min, max = clampRange(min, max, g.dims)
	lo, _ := g.GetUserCoordinates(min)
	hi := lo
	for k := min[2]; k <= max[2]; k++ {
		for j := min[1]; j <= max[1]; j++ {
			for i := min[0]; i <= max[0]; i++ {
				c, _ := g.GetUserCoordinates(Index{i, j, k})
				for a := 0; a < g.geomDim; a++ {
					lo[a], hi[a] = minf(lo[a], c[a]), maxf(hi[a], c[a])
				}
			}
		}
	}
	return lo, hi
}

func (g *Curvilinear) locate(c Coord) (Index, [3]float64, bool) {
	var lam [3]float64
	nx := max(g.dims[0]-1, 1)

	for _, cell := range g.index.Candidates(c[0], c[1]) {
		i, j := cell%nx, cell/nx
		i1, j1 := min(i+1, g.dims[0]-1), min(j+1, g.dims[1]-1)
		quad := [4][2]float64{
			{g.x.At(i, j, 0), g.y.At(i, j, 0)},
			{g.x.At(i1, j, 0), g.y.At(i1, j, 0)},
			{g.x.At(i1, j1, 0), g.y.At(i1, j1, 0)},
			{g.x.At(i, j1, 0), g.y.At(i, j1, 0)},
		}
		s, t, ok := inverseBilinear(quad, c[0], c[1])
		if !ok {
			continue
		}
		lam[0], lam[1] = s, t
		if g.topoDim == 2 {
			return Index{i, j, 0}, lam, true
		}

		column := g.z1d
		if g.z3d != nil {
			column = make([]float64, g.dims[2])
			for k := range column {
				column[k] = (1-s)*(1-t)*g.z3d.At(i, j, k) + s*(1-t)*g.z3d.At(i1, j, k) +
					s*t*g.z3d.At(i1, j1, k) + (1-s)*t*g.z3d.At(i, j1, k)
			}
		}
		k, lz, ok := findInterval(column, c[2])
		if !ok {
			return Index{}, lam, false
		}
		lam[2] = lz
		return Index{i, j, k}, lam, true
	}
	return Index{}, lam, false
}

// inverseBilinear solves for the parametric position (s, t) of (x, y) in a
// quad given counter-clockwise from its (0,0) corner.
func inverseBilinear(q [4][2]float64, x, y float64) (float64, float64, bool) {
	s, t := 0.5, 0.5
	for n := 0; n < 30; n++ {
		px := (1-s)*(1-t)*q[0][0] + s*(1-t)*q[1][0] + s*t*q[2][0] + (1-s)*t*q[3][0]
		py := (1-s)*(1-t)*q[0][1] + s*(1-t)*q[1][1] + s*t*q[2][1] + (1-s)*t*q[3][1]
		rx, ry := px-x, py-y

		dxs := (1-t)*(q[1][0]-q[0][0]) + t*(q[2][0]-q[3][0])
		dys := (1-t)*(q[1][1]-q[0][1]) + t*(q[2][1]-q[3][1])
		dxt := (1-s)*(q[3][0]-q[0][0]) + s*(q[2][0]-q[1][0])
		dyt := (1-s)*(q[3][1]-q[0][1]) + s*(q[2][1]-q[1][1])

		det := dxs*dyt - dxt*dys
		if det == 0 {
			return 0, 0, false
		}
		ds := (rx*dyt - ry*dxt) / det
		dt := (ry*dxs - rx*dys) / det
		s -= ds
		t -= dt
		if math.Abs(ds) < 1e-13 && math.Abs(dt) < 1e-13 {
			break
		}
	}
	const tol = 1e-7
	if s < -tol || s > 1+tol || t < -tol || t > 1+tol {
		return 0, 0, false
	}
	return snap(s), snap(t), true
}

// Nodes tests the horizontal position of each column once and walks k only
// in the columns under box.
func (g *Curvilinear) Nodes(box *Box) iter.Seq2[Index, Coord] {
	lo, hi := fullRange(g.dims)
	if box == nil {
		return nodeSeq(g, box, lo, hi)
	}
	var columns [][2]int
	for j := 0; j < g.dims[1]; j++ {
		for i := 0; i < g.dims[0]; i++ {
			c, ok := g.GetUserCoordinates(Index{i, j, 0})
			if ok && box.Contains(c, 2) {
				columns = append(columns, [2]int{i, j})
			}
		}
	}
	return func(yield func(Index, Coord) bool) {
		for k := 0; k < g.dims[2]; k++ {
			for _, col := range columns {
				idx := Index{col[0], col[1], k}
				c, ok := g.GetUserCoordinates(idx)
				if !ok || !box.Contains(c, g.geomDim) {
					continue
				}
				if !yield(idx, c) {
					return
				}
			}
		}
	}
}

func (g *Curvilinear) Cells(box *Box) iter.Seq2[Index, Coord] {
	return cellSeq(g, box)
}
