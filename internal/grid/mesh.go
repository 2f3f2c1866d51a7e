package grid

import (
	"math"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

// Mesh2D is the horizontal connectivity of an unstructured grid. Faces list
// their nodes counter-clockwise in fixed-width rows of maxNodes entries,
// padded with negative values. Node-to-face rows are padded the same way.
// A Mesh2D is immutable and may be shared between grids.
type Mesh2D struct {
	x, y      []float64
	faceNodes []int
	nodeFaces []int
	faceFaces []int
	maxNodes  int
	maxFaces  int
	nfaces    int
	index     *CellIndex
}

// MeshConfig collects the arrays needed to build a Mesh2D. FaceFaces is
// optional; neighbours are derived from NodeFaces when it is nil.
type MeshConfig struct {
	X, Y            []float64
	FaceNodes       []int
	NodeFaces       []int
	FaceFaces       []int
	MaxNodesPerFace int
	MaxFacesPerNode int
}

// NewMesh2D validates connectivity and builds the face spatial index.
func NewMesh2D(cfg MeshConfig) (*Mesh2D, error) {
	fail := func(format string, args ...interface{}) (*Mesh2D, error) {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, format, args...).WithComponent("grid")
	}

	nnodes := len(cfg.X)
	switch {
	case len(cfg.Y) != nnodes:
		return fail("x has %d nodes, y has %d", nnodes, len(cfg.Y))
	case cfg.MaxNodesPerFace < 3:
		return fail("faces need at least 3 nodes, got %d", cfg.MaxNodesPerFace)
	case len(cfg.FaceNodes)%cfg.MaxNodesPerFace != 0:
		return fail("face-node array length %d not a multiple of %d", len(cfg.FaceNodes), cfg.MaxNodesPerFace)
	case cfg.MaxFacesPerNode < 1 || len(cfg.NodeFaces) != nnodes*cfg.MaxFacesPerNode:
		return fail("node-face array length %d does not match %d nodes x %d", len(cfg.NodeFaces), nnodes, cfg.MaxFacesPerNode)
	}

	nfaces := len(cfg.FaceNodes) / cfg.MaxNodesPerFace
	if cfg.FaceFaces != nil && len(cfg.FaceFaces) != len(cfg.FaceNodes) {
		return fail("face-face array length %d, want %d", len(cfg.FaceFaces), len(cfg.FaceNodes))
	}
	for f := 0; f < nfaces; f++ {
		count := 0
		for _, n := range cfg.FaceNodes[f*cfg.MaxNodesPerFace : (f+1)*cfg.MaxNodesPerFace] {
			if n < 0 {
				continue
			}
			if n >= nnodes {
				return fail("face %d references node %d of %d", f, n, nnodes)
			}
			count++
		}
		if count < 3 {
			return fail("face %d has %d nodes", f, count)
		}
	}
	for _, f := range cfg.NodeFaces {
		if f >= nfaces {
			return fail("node-face entry %d exceeds %d faces", f, nfaces)
		}
	}

	m := &Mesh2D{
		x:         cfg.X,
		y:         cfg.Y,
		faceNodes: cfg.FaceNodes,
		nodeFaces: cfg.NodeFaces,
		faceFaces: cfg.FaceFaces,
		maxNodes:  cfg.MaxNodesPerFace,
		maxFaces:  cfg.MaxFacesPerNode,
		nfaces:    nfaces,
	}
	m.index = NewFaceCellIndex(m)
	return m, nil
}

// NumNodes returns the node count.
func (m *Mesh2D) NumNodes() int { return len(m.x) }

// NumFaces returns the face count.
func (m *Mesh2D) NumFaces() int { return m.nfaces }

// FaceNodes returns the nodes of face f, counter-clockwise.
func (m *Mesh2D) FaceNodes(f int) []int {
	row := m.faceNodes[f*m.maxNodes : (f+1)*m.maxNodes]
	out := make([]int, 0, len(row))
	for _, n := range row {
		if n >= 0 {
			out = append(out, n)
		}
	}
	return out
}

// NodeFaces returns the faces sharing node n.
func (m *Mesh2D) NodeFaces(n int) []int {
	row := m.nodeFaces[n*m.maxFaces : (n+1)*m.maxFaces]
	out := make([]int, 0, len(row))
	for _, f := range row {
		if f >= 0 {
			out = append(out, f)
		}
	}
	return out
}

// FaceNeighbors returns, for each edge of f in node order, the face across
// that edge or -1 on the mesh boundary.
func (m *Mesh2D) FaceNeighbors(f int) []int {
	nodes := m.FaceNodes(f)
	out := make([]int, len(nodes))
	if m.faceFaces != nil {
		row := m.faceFaces[f*m.maxNodes : (f+1)*m.maxNodes]
		for e := range out {
			out[e] = row[e]
			if out[e] >= m.nfaces {
				out[e] = -1
			}
		}
		return out
	}

	for e := range nodes {
		a, b := nodes[e], nodes[(e+1)%len(nodes)]
		out[e] = -1
		for _, other := range m.NodeFaces(a) {
			if other != f && m.faceHasNode(other, b) {
				out[e] = other
				break
			}
		}
	}
	return out
}

func (m *Mesh2D) faceHasNode(f, n int) bool {
	for _, v := range m.faceNodes[f*m.maxNodes : (f+1)*m.maxNodes] {
		if v == n {
			return true
		}
	}
	return false
}

// Locate finds the face containing (x, y) and the generalized barycentric
// weights of its nodes.
func (m *Mesh2D) Locate(x, y float64) (face int, nodes []int, w []float64, ok bool) {
	for _, f := range m.index.Candidates(x, y) {
		fn := m.FaceNodes(f)
		if !m.inside(fn, x, y) {
			continue
		}
		return f, fn, m.weights(fn, x, y), true
	}
	return -1, nil, nil, false
}

func (m *Mesh2D) inside(nodes []int, x, y float64) bool {
	n := len(nodes)
	for e := 0; e < n; e++ {
		a, b := nodes[e], nodes[(e+1)%n]
		ex, ey := m.x[b]-m.x[a], m.y[b]-m.y[a]
		cross := ex*(y-m.y[a]) - ey*(x-m.x[a])
		if cross < -snapEps*math.Max(1, ex*ex+ey*ey) {
			return false
		}
	}
	return true
}

func area2(ax, ay, bx, by, cx, cy float64) float64 {
	return (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
}

// weights returns Wachspress coordinates of (x, y) in a convex polygon.
// Points on a vertex or an edge get exact linear weights.
func (m *Mesh2D) weights(nodes []int, x, y float64) []float64 {
	n := len(nodes)
	w := make([]float64, n)

	for i, a := range nodes {
		if math.Abs(m.x[a]-x) <= snapEps && math.Abs(m.y[a]-y) <= snapEps {
			w[i] = 1
			return w
		}
	}

	for i := 0; i < n; i++ {
		a, b := nodes[i], nodes[(i+1)%n]
		ex, ey := m.x[b]-m.x[a], m.y[b]-m.y[a]
		l2 := ex*ex + ey*ey
		if math.Abs(area2(m.x[a], m.y[a], m.x[b], m.y[b], x, y)) <= snapEps*math.Max(1, l2) {
			t := snap(((x-m.x[a])*ex + (y-m.y[a])*ey) / l2)
			w[i] = 1 - t
			w[(i+1)%n] = t
			return w
		}
	}

	var sum float64
	for i := 0; i < n; i++ {
		prev, cur, next := nodes[(i+n-1)%n], nodes[i], nodes[(i+1)%n]
		c := area2(m.x[prev], m.y[prev], m.x[cur], m.y[cur], m.x[next], m.y[next])
		a0 := area2(x, y, m.x[prev], m.y[prev], m.x[cur], m.y[cur])
		a1 := area2(x, y, m.x[cur], m.y[cur], m.x[next], m.y[next])
		w[i] = c / (a0 * a1)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// Extents returns the horizontal bounding box of every node.
func (m *Mesh2D) Extents() ([2]float64, [2]float64) {
	lo := [2]float64{math.Inf(1), math.Inf(1)}
	hi := [2]float64{math.Inf(-1), math.Inf(-1)}
	for n := range m.x {
		lo[0], lo[1] = minf(lo[0], m.x[n]), minf(lo[1], m.y[n])
		hi[0], hi[1] = maxf(hi[0], m.x[n]), maxf(hi[1], m.y[n])
	}
	return lo, hi
}

// CellIndex returns the face spatial index.
func (m *Mesh2D) CellIndex() *CellIndex {
	return m.index
}
