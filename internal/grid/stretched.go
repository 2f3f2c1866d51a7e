package grid

import (
	"iter"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Stretched is a rectilinear grid whose node spacing varies along each axis.
// Each axis has a monotonic 1D coordinate array.
type Stretched struct {
	structured
	coords [3][]float64
	minu   Coord
	maxu   Coord
}

// NewStretched creates a stretched grid from one coordinate array per axis.
func NewStretched(vals *BlockArray, coords ...[]float64) (*Stretched, error) {
	rank := len(coords)
	if err := checkRank(rank, 1, 3); err != nil {
		return nil, err
	}
	dims := vals.Dims()
	if err := checkTrailing(dims, rank); err != nil {
		return nil, err
	}

	g := &Stretched{}
	g.structured = structured{base: newBase(KindStretched, rank, rank, dims, vals), shape: g}
	for i, c := range coords {
		if len(c) != dims[i] {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "axis %d has %d coordinates for %d nodes", i, len(c), dims[i]).
				WithComponent("grid")
		}
		if !monotonic(c) {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "axis %d coordinates not monotonic", i).
				WithComponent("grid")
		}
		g.coords[i] = c
		g.minu[i], g.maxu[i] = c[0], c[len(c)-1]
		if g.minu[i] > g.maxu[i] {
			g.minu[i], g.maxu[i] = g.maxu[i], g.minu[i]
		}
	}
	return g, nil
}

func monotonic(c []float64) bool {
	if len(c) < 2 {
		return true
	}
	inc := c[len(c)-1] >= c[0]
	for i := 1; i < len(c); i++ {
		if (inc && c[i] < c[i-1]) || (!inc && c[i] > c[i-1]) {
			return false
		}
	}
	return true
}

func (g *Stretched) GetUserExtents() (Coord, Coord) {
	return g.minu, g.maxu
}

func (g *Stretched) GetUserCoordinates(idx Index) (Coord, bool) {
	if !g.validNode(idx) {
		return Coord{}, false
	}
	var c Coord
	for i := 0; i < g.geomDim; i++ {
		c[i] = g.coords[i][idx[i]]
	}
	return c, true
}

func (g *Stretched) GetBoundingBox(min, max Index) (Coord, Coord) {
	min, max = clampRange(min, max, g.dims)
	var lo, hi Coord
	for i := 0; i < g.geomDim; i++ {
		a, b := g.coords[i][min[i]], g.coords[i][max[i]]
		if a > b {
			a, b = b, a
		}
		lo[i], hi[i] = a, b
	}
	return lo, hi
}

func (g *Stretched) locate(c Coord) (Index, [3]float64, bool) {
	var (
		cell Index
		lam  [3]float64
	)
	for i := 0; i < g.topoDim; i++ {
		ci, li, ok := findInterval(g.coords[i], c[i])
		if !ok {
			return Index{}, lam, false
		}
		cell[i], lam[i] = ci, li
	}
	return cell, lam, true
}

func (g *Stretched) nodeRange(box *Box) (Index, Index, bool) {
	lo, hi := fullRange(g.dims)
	if box == nil {
		return lo, hi, true
	}
	for i := 0; i < g.geomDim; i++ {
		first, last := -1, -1
		for n, v := range g.coords[i] {
			if v >= box.Min[i] && v <= box.Max[i] {
				if first < 0 {
					first = n
				}
				last = n
			}
		}
		if first < 0 {
			return lo, hi, false
		}
		lo[i], hi[i] = first, last
	}
	return lo, hi, true
}

func (g *Stretched) Nodes(box *Box) iter.Seq2[Index, Coord] {
	lo, hi, ok := g.nodeRange(box)
	if !ok {
		return emptySeq
	}
	return nodeSeq(g, box, lo, hi)
}

func (g *Stretched) Cells(box *Box) iter.Seq2[Index, Coord] {
	return cellSeq(g, box)
}
