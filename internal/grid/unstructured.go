package grid

import (
	"iter"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Unstructured2D is a node-centred field on a planar face/node mesh. Node
// n has index (n, 0, 0); face f is cell (f, 0, 0).
type Unstructured2D struct {
	base
	mesh *Mesh2D
	minu Coord
	maxu Coord
}

// NewUnstructured2D creates a grid over mesh with one sample per node.
func NewUnstructured2D(vals *BlockArray, mesh *Mesh2D) (*Unstructured2D, error) {
	dims := vals.Dims()
	if dims != (Index{mesh.NumNodes(), 1, 1}) {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, "data dims %v do not match %d mesh nodes", dims, mesh.NumNodes()).
			WithComponent("grid")
	}
	g := &Unstructured2D{mesh: mesh}
	g.base = newBase(KindUnstructured2D, 2, 2, dims, vals)
	g.cellDims = Index{mesh.NumFaces(), 1, 1}
	lo, hi := mesh.Extents()
	g.minu, g.maxu = Coord{lo[0], lo[1]}, Coord{hi[0], hi[1]}
	return g, nil
}

// Mesh returns the horizontal mesh.
func (g *Unstructured2D) Mesh() *Mesh2D { return g.mesh }

func (g *Unstructured2D) wrap(c Coord) Coord {
	return wrapPeriodic(c, g.minu, g.maxu, g.periodic, 2)
}

func (g *Unstructured2D) GetValue(c Coord) float64 {
	c = g.wrap(c)
	_, nodes, w, ok := g.mesh.Locate(c[0], c[1])
	if !ok {
		return g.missing
	}
	idx := make([]Index, len(nodes))
	for i, n := range nodes {
		idx[i] = Index{n, 0, 0}
	}
	return g.weighted(idx, w)
}

func (g *Unstructured2D) GetIndices(c Coord) (Index, bool) {
	c = g.wrap(c)
	_, nodes, w, ok := g.mesh.Locate(c[0], c[1])
	if !ok {
		return Index{}, false
	}
	return Index{nodes[argmax(w)], 0, 0}, true
}

func (g *Unstructured2D) GetIndicesCell(c Coord) (Index, bool) {
	c = g.wrap(c)
	f, _, _, ok := g.mesh.Locate(c[0], c[1])
	if !ok {
		return Index{}, false
	}
	return Index{f, 0, 0}, true
}

func (g *Unstructured2D) InsideGrid(c Coord) bool {
	_, ok := g.GetIndicesCell(c)
	return ok
}

func (g *Unstructured2D) GetUserCoordinates(idx Index) (Coord, bool) {
	if !g.validNode(idx) {
		return Coord{}, false
	}
	return Coord{g.mesh.x[idx[0]], g.mesh.y[idx[0]]}, true
}

func (g *Unstructured2D) GetUserExtents() (Coord, Coord) {
	return g.minu, g.maxu
}

func (g *Unstructured2D) GetBoundingBox(min, max Index) (Coord, Coord) {
	return scanBox(g, min, max, g.dims)
}

func (g *Unstructured2D) GetCellNodes(cell Index) []Index {
	if !g.validCell(cell) {
		return nil
	}
	nodes := g.mesh.FaceNodes(cell[0])
	out := make([]Index, len(nodes))
	for i, n := range nodes {
		out[i] = Index{n, 0, 0}
	}
	return out
}

// GetCellNeighbors returns one entry per face edge, NoIndex on the boundary.
func (g *Unstructured2D) GetCellNeighbors(cell Index) []Index {
	if !g.validCell(cell) {
		return nil
	}
	nb := g.mesh.FaceNeighbors(cell[0])
	out := make([]Index, len(nb))
	for i, f := range nb {
		out[i] = NoIndex
		if f >= 0 {
			out[i] = Index{f, 0, 0}
		}
	}
	return out
}

func (g *Unstructured2D) GetNodeCells(node Index) []Index {
	if !g.validNode(node) {
		return nil
	}
	faces := g.mesh.NodeFaces(node[0])
	out := make([]Index, len(faces))
	for i, f := range faces {
		out[i] = Index{f, 0, 0}
	}
	return out
}

func (g *Unstructured2D) Nodes(box *Box) iter.Seq2[Index, Coord] {
	lo, hi := fullRange(g.dims)
	return nodeSeq(g, box, lo, hi)
}

func (g *Unstructured2D) Cells(box *Box) iter.Seq2[Index, Coord] {
	return cellSeq(g, box)
}

// UnstructuredLayered extrudes a planar mesh along a layer axis. Node
// (n, k) sits above mesh node n at layer k; cell (f, k) spans layers k and
// k+1 above face f.
type UnstructuredLayered struct {
	base
	mesh *Mesh2D
	z    *BlockArray
	minu Coord
	maxu Coord
}

// NewUnstructuredLayered creates a layered unstructured grid. z holds the
// vertical coordinate of every node and must be monotonic along layers.
func NewUnstructuredLayered(vals, z *BlockArray, mesh *Mesh2D) (*UnstructuredLayered, error) {
	dims := vals.Dims()
	if dims[0] != mesh.NumNodes() || dims[2] != 1 {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, "data dims %v do not match %d mesh nodes", dims, mesh.NumNodes()).
			WithComponent("grid")
	}
	if z.Dims() != dims {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, "vertical coordinate dims %v differ from %v", z.Dims(), dims).
			WithComponent("grid")
	}

	g := &UnstructuredLayered{mesh: mesh, z: z}
	g.base = newBase(KindUnstructuredLayered, 3, 3, dims, vals)
	g.cellDims = Index{mesh.NumFaces(), max(dims[1]-1, 1), 1}
	lo, hi := mesh.Extents()
	zlo, zhi, _ := z.MinMax(nil)
	g.minu, g.maxu = Coord{lo[0], lo[1], zlo}, Coord{hi[0], hi[1], zhi}
	return g, nil
}

// Mesh returns the horizontal mesh.
func (g *UnstructuredLayered) Mesh() *Mesh2D { return g.mesh }

// locate returns the face, its nodes with horizontal weights, and the
// layer interval containing c.
func (g *UnstructuredLayered) locate(c Coord) (int, []int, []float64, int, float64, bool) {
	c = wrapPeriodic(c, g.minu, g.maxu, g.periodic, 2)
	f, nodes, w, ok := g.mesh.Locate(c[0], c[1])
	if !ok {
		return 0, nil, nil, 0, 0, false
	}
	column := make([]float64, g.dims[1])
	for k := range column {
		for i, n := range nodes {
			column[k] += w[i] * g.z.At(n, k, 0)
		}
	}
	k, lz, ok := findInterval(column, c[2])
	if !ok {
		return 0, nil, nil, 0, 0, false
	}
	return f, nodes, w, k, lz, true
}

func (g *UnstructuredLayered) GetValue(c Coord) float64 {
	_, nodes, w, k, lz, ok := g.locate(c)
	if !ok {
		return g.missing
	}
	k1 := min(k+1, g.dims[1]-1)
	idx := make([]Index, 0, 2*len(nodes))
	wt := make([]float64, 0, 2*len(nodes))
	for i, n := range nodes {
		idx = append(idx, Index{n, k, 0}, Index{n, k1, 0})
		wt = append(wt, w[i]*(1-lz), w[i]*lz)
	}
	return g.weighted(idx, wt)
}

func (g *UnstructuredLayered) GetIndices(c Coord) (Index, bool) {
	_, nodes, w, k, lz, ok := g.locate(c)
	if !ok {
		return Index{}, false
	}
	if lz > 0.5 && k+1 < g.dims[1] {
		k++
	}
	return Index{nodes[argmax(w)], k, 0}, true
}

func (g *UnstructuredLayered) GetIndicesCell(c Coord) (Index, bool) {
	f, _, _, k, _, ok := g.locate(c)
	if !ok {
		return Index{}, false
	}
	return Index{f, k, 0}, true
}

func (g *UnstructuredLayered) InsideGrid(c Coord) bool {
	_, ok := g.GetIndicesCell(c)
	return ok
}

func (g *UnstructuredLayered) GetUserCoordinates(idx Index) (Coord, bool) {
	if !g.validNode(idx) {
		return Coord{}, false
	}
	n, k := idx[0], idx[1]
	return Coord{g.mesh.x[n], g.mesh.y[n], g.z.At(n, k, 0)}, true
}

func (g *UnstructuredLayered) GetUserExtents() (Coord, Coord) {
	return g.minu, g.maxu
}

func (g *UnstructuredLayered) GetBoundingBox(min, max Index) (Coord, Coord) {
	return scanBox(g, min, max, g.dims)
}

func (g *UnstructuredLayered) GetCellNodes(cell Index) []Index {
	if !g.validCell(cell) {
		return nil
	}
	nodes := g.mesh.FaceNodes(cell[0])
	k, k1 := cell[1], min(cell[1]+1, g.dims[1]-1)
	out := make([]Index, 0, 2*len(nodes))
	for _, n := range nodes {
		out = append(out, Index{n, k, 0})
	}
	for _, n := range nodes {
		out = append(out, Index{n, k1, 0})
	}
	return out
}

// GetCellNeighbors returns the horizontal neighbours in edge order, then
// the cells below and above. Boundary slots hold NoIndex.
func (g *UnstructuredLayered) GetCellNeighbors(cell Index) []Index {
	if !g.validCell(cell) {
		return nil
	}
	k := cell[1]
	nb := g.mesh.FaceNeighbors(cell[0])
	out := make([]Index, 0, len(nb)+2)
	for _, f := range nb {
		if f < 0 {
			out = append(out, NoIndex)
			continue
		}
		out = append(out, Index{f, k, 0})
	}
	for _, kk := range []int{k - 1, k + 1} {
		c := Index{cell[0], kk, 0}
		if !g.validCell(c) {
			c = NoIndex
		}
		out = append(out, c)
	}
	return out
}

func (g *UnstructuredLayered) GetNodeCells(node Index) []Index {
	if !g.validNode(node) {
		return nil
	}
	var out []Index
	for _, f := range g.mesh.NodeFaces(node[0]) {
		for _, k := range []int{node[1] - 1, node[1]} {
			c := Index{f, k, 0}
			if g.validCell(c) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (g *UnstructuredLayered) Nodes(box *Box) iter.Seq2[Index, Coord] {
	lo, hi := fullRange(g.dims)
	return nodeSeq(g, box, lo, hi)
}

func (g *UnstructuredLayered) Cells(box *Box) iter.Seq2[Index, Coord] {
	return cellSeq(g, box)
}

func argmax(w []float64) int {
	best := 0
	for i := range w {
		if w[i] > w[best] {
			best = i
		}
	}
	return best
}

// scanBox computes the coordinate bounds of nodes in [min, max].
func scanBox(g Grid, min, max, dims Index) (Coord, Coord) {
	min, max = clampRange(min, max, dims)
	lo, _ := g.GetUserCoordinates(min)
	hi := lo
	for k := min[2]; k <= max[2]; k++ {
		for j := min[1]; j <= max[1]; j++ {
			for i := min[0]; i <= max[0]; i++ {
				c, _ := g.GetUserCoordinates(Index{i, j, k})
				for a := 0; a < g.GeometryDim(); a++ {
					lo[a], hi[a] = minf(lo[a], c[a]), maxf(hi[a], c[a])
				}
			}
		}
	}
	return lo, hi
}
