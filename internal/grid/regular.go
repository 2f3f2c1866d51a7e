package grid

import (
	"iter"
	"math"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Regular is a grid with uniform node spacing along every axis. Node
// coordinates are computed in closed form from the user extents.
type Regular struct {
	structured
	minu  Coord
	maxu  Coord
	delta Coord
}

// NewRegular creates a regular grid of topological and geometric dimension
// rank over the user-space box [minu, maxu].
func NewRegular(vals *BlockArray, rank int, minu, maxu Coord) (*Regular, error) {
	if err := checkRank(rank, 1, 3); err != nil {
		return nil, err
	}
	dims := vals.Dims()
	if err := checkTrailing(dims, rank); err != nil {
		return nil, err
	}

	g := &Regular{minu: minu, maxu: maxu}
	g.structured = structured{base: newBase(KindRegular, rank, rank, dims, vals), shape: g}
	for i := 0; i < rank; i++ {
		if maxu[i] < minu[i] {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "axis %d extents [%g, %g] inverted", i, minu[i], maxu[i]).
				WithComponent("grid")
		}
		if dims[i] > 1 {
			g.delta[i] = (maxu[i] - minu[i]) / float64(dims[i]-1)
		}
	}
	return g, nil
}

func (g *Regular) GetUserExtents() (Coord, Coord) {
	return g.minu, g.maxu
}

func (g *Regular) GetUserCoordinates(idx Index) (Coord, bool) {
	if !g.validNode(idx) {
		return Coord{}, false
	}
	var c Coord
	for i := 0; i < g.geomDim; i++ {
		c[i] = g.axisCoord(i, idx[i])
	}
	return c, true
}

func (g *Regular) axisCoord(axis, i int) float64 {
	if i == g.dims[axis]-1 && i > 0 {
		return g.maxu[axis]
	}
	return g.minu[axis] + float64(i)*g.delta[axis]
}

func (g *Regular) GetBoundingBox(min, max Index) (Coord, Coord) {
	min, max = clampRange(min, max, g.dims)
	var lo, hi Coord
	for i := 0; i < g.geomDim; i++ {
		lo[i] = g.axisCoord(i, min[i])
		hi[i] = g.axisCoord(i, max[i])
	}
	return lo, hi
}

func (g *Regular) locate(c Coord) (Index, [3]float64, bool) {
	var (
		cell Index
		lam  [3]float64
	)
	for i := 0; i < g.topoDim; i++ {
		ci, li, ok := uniformInterval(c[i], g.minu[i], g.delta[i], g.dims[i])
		if !ok {
			return Index{}, lam, false
		}
		cell[i], lam[i] = ci, li
	}
	return cell, lam, true
}

// uniformInterval is findInterval for evenly spaced nodes.
func uniformInterval(v, min, delta float64, n int) (int, float64, bool) {
	if n == 1 || delta == 0 {
		if math.Abs(v-min) <= snapEps {
			return 0, 0, true
		}
		return 0, 0, false
	}
	x := (v - min) / delta
	if x < -snapEps || x > float64(n-1)+snapEps {
		return 0, 0, false
	}
	cell := int(math.Floor(x))
	if cell < 0 {
		cell = 0
	}
	if cell > n-2 {
		cell = n - 2
	}
	return cell, snap(x - float64(cell)), true
}

// nodeRange returns the index range of nodes that can fall inside box.
func (g *Regular) nodeRange(box *Box) (Index, Index, bool) {
	lo, hi := fullRange(g.dims)
	if box == nil {
		return lo, hi, true
	}
	ok := narrowUniform(&lo, &hi, box, g.minu, g.delta, g.geomDim)
	return lo, hi, ok
}

// narrowUniform clips [lo, hi] along the first n axes to the nodes of a
// uniform lattice that fall inside box. It reports false when none do.
func narrowUniform(lo, hi *Index, box *Box, minu, delta Coord, n int) bool {
	for i := 0; i < n; i++ {
		if delta[i] == 0 {
			continue
		}
		a := int(math.Ceil((box.Min[i]-minu[i])/delta[i] - snapEps))
		b := int(math.Floor((box.Max[i]-minu[i])/delta[i] + snapEps))
		lo[i] = max(lo[i], a)
		hi[i] = min(hi[i], b)
		if lo[i] > hi[i] {
			return false
		}
	}
	return true
}

func (g *Regular) Nodes(box *Box) iter.Seq2[Index, Coord] {
	lo, hi, ok := g.nodeRange(box)
	if !ok {
		return emptySeq
	}
	return nodeSeq(g, box, lo, hi)
}

func (g *Regular) Cells(box *Box) iter.Seq2[Index, Coord] {
	return cellSeq(g, box)
}

func emptySeq(func(Index, Coord) bool) {}

func clampRange(min, max, dims Index) (Index, Index) {
	for i := 0; i < 3; i++ {
		if min[i] < 0 {
			min[i] = 0
		}
		if max[i] > dims[i]-1 {
			max[i] = dims[i] - 1
		}
		if min[i] > max[i] {
			min[i] = max[i]
		}
	}
	return min, max
}

func checkRank(rank, lo, hi int) error {
	if rank < lo || rank > hi {
		return errors.Newf(errors.ErrCodeConstructionFailed, "rank %d outside [%d, %d]", rank, lo, hi).
			WithComponent("grid")
	}
	return nil
}

func checkTrailing(dims Index, rank int) error {
	for i := rank; i < 3; i++ {
		if dims[i] != 1 {
			return errors.Newf(errors.ErrCodeConstructionFailed, "dims %v exceed rank %d", dims, rank).
				WithComponent("grid")
		}
	}
	return nil
}
