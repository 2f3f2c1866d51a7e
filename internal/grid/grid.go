// Package grid provides queryable views over decoded sample blocks.
//
// A Grid combines a block array of node-centred samples with the coordinate
// description of where each node sits in user space. Grids never own their
// blocks: the engine that produced them keeps the memory alive until the grid
// is unlocked.
package grid

import (
	"iter"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Kind identifies a grid variant.
type Kind int

const (
	KindRegular Kind = iota
	KindStretched
	KindLayered
	KindCurvilinear
	KindUnstructured2D
	KindUnstructuredLayered
	KindConstant
	KindLifted2D
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindStretched:
		return "stretched"
	case KindLayered:
		return "layered"
	case KindCurvilinear:
		return "curvilinear"
	case KindUnstructured2D:
		return "unstructured_2d"
	case KindUnstructuredLayered:
		return "unstructured_layered"
	case KindConstant:
		return "constant"
	case KindLifted2D:
		return "lifted_2d"
	default:
		return "unknown"
	}
}

// Index is a node or cell index, fastest-varying first. Unused axes are 0.
type Index = [3]int

// Coord is a point in user space. Unused axes are ignored.
type Coord = [3]float64

// NoIndex fills neighbour slots that fall outside the grid.
var NoIndex = Index{-1, -1, -1}

// Box is an axis-aligned region in user space.
type Box struct {
	Min Coord
	Max Coord
}

// Contains reports whether c lies inside the box on the first n axes.
func (b Box) Contains(c Coord, n int) bool {
	for i := 0; i < n; i++ {
		if c[i] < b.Min[i] || c[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Intersects reports whether [min, max] overlaps the box on the first n axes.
func (b Box) Intersects(min, max Coord, n int) bool {
	for i := 0; i < n; i++ {
		if max[i] < b.Min[i] || min[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Grid is the capability set shared by every grid variant.
type Grid interface {
	Kind() Kind
	TopologyDim() int
	GeometryDim() int
	Dims() Index
	CellDims() Index

	AccessIndex(idx Index) float64
	AccessIJK(i, j, k int) float64
	GetValue(c Coord) float64
	GetIndices(c Coord) (Index, bool)
	GetIndicesCell(c Coord) (Index, bool)
	GetUserCoordinates(idx Index) (Coord, bool)
	GetUserExtents() (Coord, Coord)
	GetBoundingBox(min, max Index) (Coord, Coord)
	InsideGrid(c Coord) bool

	GetCellNodes(cell Index) []Index
	GetCellNeighbors(cell Index) []Index
	GetNodeCells(node Index) []Index

	Nodes(box *Box) iter.Seq2[Index, Coord]
	Cells(box *Box) iter.Seq2[Index, Coord]

	MissingValue() float64
	HasMissing() bool
	SetMissingValue(v float64)
	SetHasMissing(has bool)
	InterpolationOrder() int
	SetInterpolationOrder(order int) error
	Periodic() [3]bool
	SetPeriodic(p [3]bool)

	Level() int
	LOD() int
	SetFidelity(level, lod int)
	MinAbs() Index
	SetMinAbs(idx Index)
}

// base carries the state common to all variants.
type base struct {
	kind     Kind
	topoDim  int
	geomDim  int
	dims     Index
	cellDims Index
	vals     *BlockArray

	missing    float64
	hasMissing bool
	order      int
	periodic   [3]bool

	level  int
	lod    int
	minAbs Index
}

func newBase(kind Kind, topoDim, geomDim int, dims Index, vals *BlockArray) base {
	b := base{
		kind:    kind,
		topoDim: topoDim,
		geomDim: geomDim,
		dims:    dims,
		vals:    vals,
		order:   1,
	}
	for i := 0; i < 3; i++ {
		b.cellDims[i] = 1
		if i < topoDim && dims[i] > 1 {
			b.cellDims[i] = dims[i] - 1
		}
	}
	return b
}

func (b *base) Kind() Kind        { return b.kind }
func (b *base) TopologyDim() int  { return b.topoDim }
func (b *base) GeometryDim() int  { return b.geomDim }
func (b *base) Dims() Index       { return b.dims }
func (b *base) CellDims() Index   { return b.cellDims }
func (b *base) Level() int        { return b.level }
func (b *base) LOD() int          { return b.lod }
func (b *base) MinAbs() Index     { return b.minAbs }
func (b *base) SetMinAbs(i Index) { b.minAbs = i }
func (b *base) Periodic() [3]bool { return b.periodic }

func (b *base) SetPeriodic(p [3]bool) { b.periodic = p }

func (b *base) SetFidelity(level, lod int) {
	b.level, b.lod = level, lod
}

func (b *base) MissingValue() float64     { return b.missing }
func (b *base) HasMissing() bool          { return b.hasMissing }
func (b *base) SetMissingValue(v float64) { b.missing = v }
func (b *base) SetHasMissing(has bool)    { b.hasMissing = has }
func (b *base) InterpolationOrder() int   { return b.order }

func (b *base) SetInterpolationOrder(order int) error {
	if order != 0 && order != 1 {
		return errors.Newf(errors.ErrCodeInvalidArgument, "unsupported interpolation order %d", order).
			WithComponent("grid")
	}
	b.order = order
	return nil
}

// AccessIJK returns the sample at a node, or the missing value when the
// index lies outside the grid.
func (b *base) AccessIJK(i, j, k int) float64 {
	if !b.validNode(Index{i, j, k}) {
		return b.missing
	}
	return b.vals.At(i, j, k)
}

func (b *base) AccessIndex(idx Index) float64 {
	return b.AccessIJK(idx[0], idx[1], idx[2])
}

func (b *base) validNode(idx Index) bool {
	for i := 0; i < 3; i++ {
		if idx[i] < 0 || idx[i] >= b.dims[i] {
			return false
		}
	}
	return true
}

func (b *base) validCell(idx Index) bool {
	for i := 0; i < 3; i++ {
		if idx[i] < 0 || idx[i] >= b.cellDims[i] {
			return false
		}
	}
	return true
}

// isMissing reports whether v is the missing sentinel on a grid that has one.
func (b *base) isMissing(v float64) bool {
	return b.hasMissing && v == b.missing
}

func (b *base) numNodes() int {
	return b.dims[0] * b.dims[1] * b.dims[2]
}

var (
	_ Grid = (*Regular)(nil)
	_ Grid = (*Stretched)(nil)
	_ Grid = (*Layered)(nil)
	_ Grid = (*Curvilinear)(nil)
	_ Grid = (*Unstructured2D)(nil)
	_ Grid = (*UnstructuredLayered)(nil)
	_ Grid = (*Constant)(nil)
	_ Grid = (*Lifted2D)(nil)
)
