package grid

import (
	"iter"
	"math"
)

// Constant returns one value everywhere and has unbounded extents. It lets
// callers sample a missing component uniformly where a grid is expected.
// Adjacency and iteration are empty.
type Constant struct {
	base
	value float64
}

// NewConstant creates a constant grid of the given geometric dimension.
func NewConstant(value float64, geomDim int) *Constant {
	g := &Constant{value: value}
	g.base = newBase(KindConstant, geomDim, geomDim, Index{1, 1, 1}, nil)
	return g
}

// Value returns the constant.
func (g *Constant) Value() float64 { return g.value }

func (g *Constant) AccessIJK(i, j, k int) float64 {
	if i != 0 || j != 0 || k != 0 {
		return g.missing
	}
	return g.value
}

func (g *Constant) AccessIndex(idx Index) float64 {
	return g.AccessIJK(idx[0], idx[1], idx[2])
}

func (g *Constant) GetValue(Coord) float64             { return g.value }
func (g *Constant) GetIndices(Coord) (Index, bool)     { return Index{}, true }
func (g *Constant) GetIndicesCell(Coord) (Index, bool) { return Index{}, true }
func (g *Constant) InsideGrid(Coord) bool              { return true }

func (g *Constant) GetUserCoordinates(idx Index) (Coord, bool) {
	return Coord{}, idx == Index{}
}

func (g *Constant) GetUserExtents() (Coord, Coord) {
	lo, hi := Coord{}, Coord{}
	for i := 0; i < g.geomDim; i++ {
		lo[i], hi[i] = -math.MaxFloat64, math.MaxFloat64
	}
	return lo, hi
}

func (g *Constant) GetBoundingBox(Index, Index) (Coord, Coord) {
	return g.GetUserExtents()
}

func (g *Constant) GetCellNodes(Index) []Index     { return nil }
func (g *Constant) GetCellNeighbors(Index) []Index { return nil }
func (g *Constant) GetNodeCells(Index) []Index     { return nil }

func (g *Constant) Nodes(*Box) iter.Seq2[Index, Coord] { return emptySeq }
func (g *Constant) Cells(*Box) iter.Seq2[Index, Coord] { return emptySeq }

// Lifted2D presents a 2D grid as 3D by injecting a fixed coordinate on the
// third axis. Sampling ignores the third coordinate. Adjacency is empty.
type Lifted2D struct {
	inner Grid
	z     float64
}

// NewLifted2D wraps g, which must have geometric dimension 2.
func NewLifted2D(g Grid, z float64) *Lifted2D {
	return &Lifted2D{inner: g, z: z}
}

// Inner returns the wrapped grid.
func (g *Lifted2D) Inner() Grid { return g.inner }

// Z returns the injected coordinate.
func (g *Lifted2D) Z() float64 { return g.z }

func (g *Lifted2D) Kind() Kind       { return KindLifted2D }
func (g *Lifted2D) TopologyDim() int { return g.inner.TopologyDim() }
func (g *Lifted2D) GeometryDim() int { return 3 }
func (g *Lifted2D) Dims() Index      { return g.inner.Dims() }
func (g *Lifted2D) CellDims() Index  { return g.inner.CellDims() }

func (g *Lifted2D) AccessIndex(idx Index) float64 { return g.inner.AccessIndex(idx) }
func (g *Lifted2D) AccessIJK(i, j, k int) float64 { return g.inner.AccessIJK(i, j, k) }

func (g *Lifted2D) flat(c Coord) Coord {
	c[2] = 0
	return c
}

func (g *Lifted2D) GetValue(c Coord) float64             { return g.inner.GetValue(g.flat(c)) }
func (g *Lifted2D) GetIndices(c Coord) (Index, bool)     { return g.inner.GetIndices(g.flat(c)) }
func (g *Lifted2D) GetIndicesCell(c Coord) (Index, bool) { return g.inner.GetIndicesCell(g.flat(c)) }
func (g *Lifted2D) InsideGrid(c Coord) bool              { return g.inner.InsideGrid(g.flat(c)) }

func (g *Lifted2D) GetUserCoordinates(idx Index) (Coord, bool) {
	c, ok := g.inner.GetUserCoordinates(idx)
	c[2] = g.z
	return c, ok
}

func (g *Lifted2D) GetUserExtents() (Coord, Coord) {
	lo, hi := g.inner.GetUserExtents()
	lo[2], hi[2] = g.z, g.z
	return lo, hi
}

func (g *Lifted2D) GetBoundingBox(min, max Index) (Coord, Coord) {
	lo, hi := g.inner.GetBoundingBox(min, max)
	lo[2], hi[2] = g.z, g.z
	return lo, hi
}

func (g *Lifted2D) GetCellNodes(Index) []Index     { return nil }
func (g *Lifted2D) GetCellNeighbors(Index) []Index { return nil }
func (g *Lifted2D) GetNodeCells(Index) []Index     { return nil }

func (g *Lifted2D) Nodes(box *Box) iter.Seq2[Index, Coord] {
	return func(yield func(Index, Coord) bool) {
		if box != nil && (g.z < box.Min[2] || g.z > box.Max[2]) {
			return
		}
		for idx, c := range g.inner.Nodes(box) {
			c[2] = g.z
			if !yield(idx, c) {
				return
			}
		}
	}
}

func (g *Lifted2D) Cells(*Box) iter.Seq2[Index, Coord] { return emptySeq }

func (g *Lifted2D) MissingValue() float64     { return g.inner.MissingValue() }
func (g *Lifted2D) HasMissing() bool          { return g.inner.HasMissing() }
func (g *Lifted2D) SetMissingValue(v float64) { g.inner.SetMissingValue(v) }
func (g *Lifted2D) SetHasMissing(has bool)    { g.inner.SetHasMissing(has) }
func (g *Lifted2D) InterpolationOrder() int   { return g.inner.InterpolationOrder() }

func (g *Lifted2D) SetInterpolationOrder(order int) error {
	return g.inner.SetInterpolationOrder(order)
}

func (g *Lifted2D) Periodic() [3]bool {
	p := g.inner.Periodic()
	p[2] = false
	return p
}

func (g *Lifted2D) SetPeriodic(p [3]bool) {
	p[2] = false
	g.inner.SetPeriodic(p)
}

func (g *Lifted2D) Level() int                 { return g.inner.Level() }
func (g *Lifted2D) LOD() int                   { return g.inner.LOD() }
func (g *Lifted2D) SetFidelity(level, lod int) { g.inner.SetFidelity(level, lod) }
func (g *Lifted2D) MinAbs() Index              { return g.inner.MinAbs() }
func (g *Lifted2D) SetMinAbs(idx Index)        { g.inner.SetMinAbs(idx) }
