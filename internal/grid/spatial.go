package grid

import (
	"sort"

	"github.com/tidwall/rtree"
)

// CellIndex is a 2D R-tree over cell bounding boxes. It narrows point
// location on curvilinear and unstructured grids to a handful of
// candidate cells. A CellIndex is immutable after construction and may be
// shared between grids with identical horizontal coordinates.
type CellIndex struct {
	tr    rtree.RTreeG[int]
	cells int
}

// NewCellIndex indexes n cells whose bounding boxes are given by bbox.
func NewCellIndex(n int, bbox func(cell int) (min, max [2]float64)) *CellIndex {
	ci := &CellIndex{cells: n}
	for c := 0; c < n; c++ {
		lo, hi := bbox(c)
		ci.tr.Insert(lo, hi, c)
	}
	return ci
}

// Candidates returns the cells whose bounding box contains (x, y), in
// ascending order.
func (ci *CellIndex) Candidates(x, y float64) []int {
	p := [2]float64{x, y}
	var out []int
	ci.tr.Search(p, p, func(_, _ [2]float64, cell int) bool {
		out = append(out, cell)
		return true
	})
	sort.Ints(out)
	return out
}

// Len returns the number of indexed cells.
func (ci *CellIndex) Len() int {
	return ci.cells
}

// NewQuadCellIndex indexes the quads of a 2D curvilinear lattice. Cell
// (i, j) is stored as i + j*(nx-1).
func NewQuadCellIndex(x, y *BlockArray) *CellIndex {
	d := x.Dims()
	nx, ny := max(d[0]-1, 1), max(d[1]-1, 1)
	return NewCellIndex(nx*ny, func(cell int) ([2]float64, [2]float64) {
		i, j := cell%nx, cell/nx
		lo := [2]float64{x.At(i, j, 0), y.At(i, j, 0)}
		hi := lo
		for _, c := range [][2]int{{i + 1, j}, {i + 1, j + 1}, {i, j + 1}} {
			ci, cj := min(c[0], d[0]-1), min(c[1], d[1]-1)
			px, py := x.At(ci, cj, 0), y.At(ci, cj, 0)
			lo[0], lo[1] = minf(lo[0], px), minf(lo[1], py)
			hi[0], hi[1] = maxf(hi[0], px), maxf(hi[1], py)
		}
		return pad(lo, hi)
	})
}

// NewFaceCellIndex indexes the faces of an unstructured mesh.
func NewFaceCellIndex(m *Mesh2D) *CellIndex {
	return NewCellIndex(m.NumFaces(), func(f int) ([2]float64, [2]float64) {
		nodes := m.FaceNodes(f)
		lo := [2]float64{m.x[nodes[0]], m.y[nodes[0]]}
		hi := lo
		for _, n := range nodes[1:] {
			lo[0], lo[1] = minf(lo[0], m.x[n]), minf(lo[1], m.y[n])
			hi[0], hi[1] = maxf(hi[0], m.x[n]), maxf(hi[1], m.y[n])
		}
		return pad(lo, hi)
	})
}

// pad widens a box slightly so points on cell edges find every adjacent cell.
func pad(lo, hi [2]float64) ([2]float64, [2]float64) {
	for i := 0; i < 2; i++ {
		e := snapEps * maxf(1, hi[i]-lo[i])
		lo[i] -= e
		hi[i] += e
	}
	return lo, hi
}
