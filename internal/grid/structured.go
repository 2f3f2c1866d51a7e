package grid

// shape is implemented by each structured variant.
type shape interface {
	// locate returns the cell containing c and the fractional position of c
	// inside it along each topological axis.
	locate(c Coord) (cell Index, lam [3]float64, ok bool)
	GetUserExtents() (Coord, Coord)
}

// structured provides value lookup and adjacency for logically
// rectangular node lattices.
type structured struct {
	base
	shape shape
}

func (s *structured) wrap(c Coord) Coord {
	if s.periodic == [3]bool{} {
		return c
	}
	min, max := s.shape.GetUserExtents()
	return wrapPeriodic(c, min, max, s.periodic, s.geomDim)
}

// GetValue reconstructs the field at c.
func (s *structured) GetValue(c Coord) float64 {
	cell, lam, ok := s.shape.locate(s.wrap(c))
	if !ok {
		return s.missing
	}
	if s.order == 0 {
		return s.AccessIndex(nearestCorner(cell, lam, s.dims))
	}
	nodes, w := s.cellCorners(cell, lam)
	return s.weighted(nodes, w)
}

func (s *structured) GetIndices(c Coord) (Index, bool) {
	cell, lam, ok := s.shape.locate(s.wrap(c))
	if !ok {
		return Index{}, false
	}
	return nearestCorner(cell, lam, s.dims), true
}

func (s *structured) GetIndicesCell(c Coord) (Index, bool) {
	cell, _, ok := s.shape.locate(s.wrap(c))
	return cell, ok
}

func (s *structured) InsideGrid(c Coord) bool {
	_, _, ok := s.shape.locate(s.wrap(c))
	return ok
}

// GetCellNodes returns the corners of a cell, counter-clockwise for each
// constant-k face, bottom face first.
func (s *structured) GetCellNodes(cell Index) []Index {
	if !s.validCell(cell) {
		return nil
	}
	i, j, k := cell[0], cell[1], cell[2]
	up := func(v, axis int) int {
		if v+1 < s.dims[axis] {
			return v + 1
		}
		return v
	}

	switch s.topoDim {
	case 1:
		return []Index{{i, 0, 0}, {up(i, 0), 0, 0}}
	case 2:
		return []Index{{i, j, 0}, {up(i, 0), j, 0}, {up(i, 0), up(j, 1), 0}, {i, up(j, 1), 0}}
	default:
		k1 := up(k, 2)
		return []Index{
			{i, j, k}, {up(i, 0), j, k}, {up(i, 0), up(j, 1), k}, {i, up(j, 1), k},
			{i, j, k1}, {up(i, 0), j, k1}, {up(i, 0), up(j, 1), k1}, {i, up(j, 1), k1},
		}
	}
}

// GetCellNeighbors returns the face neighbours of a cell in the order
// -y, +x, +y, -x, then -z, +z for 3D cells (-x, +x for 1D). Slots outside
// the grid hold NoIndex.
func (s *structured) GetCellNeighbors(cell Index) []Index {
	if !s.validCell(cell) {
		return nil
	}
	i, j, k := cell[0], cell[1], cell[2]

	var cand []Index
	switch s.topoDim {
	case 1:
		cand = []Index{{i - 1, 0, 0}, {i + 1, 0, 0}}
	case 2:
		cand = []Index{{i, j - 1, 0}, {i + 1, j, 0}, {i, j + 1, 0}, {i - 1, j, 0}}
	default:
		cand = []Index{{i, j - 1, k}, {i + 1, j, k}, {i, j + 1, k}, {i - 1, j, k}, {i, j, k - 1}, {i, j, k + 1}}
	}
	for n, c := range cand {
		if !s.validCell(c) {
			cand[n] = NoIndex
		}
	}
	return cand
}

// GetNodeCells returns the cells sharing a node.
func (s *structured) GetNodeCells(node Index) []Index {
	if !s.validNode(node) {
		return nil
	}
	var cells []Index
	kLo, jLo := node[2], node[1]
	if s.topoDim > 2 {
		kLo--
	}
	if s.topoDim > 1 {
		jLo--
	}
	for k := kLo; k <= node[2]; k++ {
		for j := jLo; j <= node[1]; j++ {
			for i := node[0] - 1; i <= node[0]; i++ {
				c := Index{i, j, k}
				if s.validCell(c) {
					cells = append(cells, c)
				}
			}
		}
	}
	return cells
}
