package grid

import "iter"

// nodeSeq yields the nodes in [lo, hi] whose coordinates fall inside box.
func nodeSeq(g Grid, box *Box, lo, hi Index) iter.Seq2[Index, Coord] {
	return func(yield func(Index, Coord) bool) {
		n := g.GeometryDim()
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					idx := Index{i, j, k}
					c, ok := g.GetUserCoordinates(idx)
					if !ok {
						continue
					}
					if box != nil && !box.Contains(c, n) {
						continue
					}
					if !yield(idx, c) {
						return
					}
				}
			}
		}
	}
}

// cellSeq yields each cell whose node bounding box overlaps box, paired
// with the centroid of its nodes.
func cellSeq(g Grid, box *Box) iter.Seq2[Index, Coord] {
	return func(yield func(Index, Coord) bool) {
		n := g.GeometryDim()
		cd := g.CellDims()
		for k := 0; k < cd[2]; k++ {
			for j := 0; j < cd[1]; j++ {
				for i := 0; i < cd[0]; i++ {
					cell := Index{i, j, k}
					nodes := g.GetCellNodes(cell)
					if len(nodes) == 0 {
						continue
					}
					var lo, hi, centroid Coord
					for m, node := range nodes {
						c, _ := g.GetUserCoordinates(node)
						for a := 0; a < n; a++ {
							if m == 0 || c[a] < lo[a] {
								lo[a] = c[a]
							}
							if m == 0 || c[a] > hi[a] {
								hi[a] = c[a]
							}
							centroid[a] += c[a] / float64(len(nodes))
						}
					}
					if box != nil && !box.Intersects(lo, hi, n) {
						continue
					}
					if !yield(cell, centroid) {
						return
					}
				}
			}
		}
	}
}

func fullRange(dims Index) (Index, Index) {
	return Index{}, Index{dims[0] - 1, dims[1] - 1, dims[2] - 1}
}

// DataRange returns the minimum and maximum of the non-missing node samples.
func DataRange(g Grid) (lo, hi float64, ok bool) {
	dims := g.Dims()
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				v := g.AccessIJK(i, j, k)
				if g.HasMissing() && v == g.MissingValue() {
					continue
				}
				if !ok || v < lo {
					lo = v
				}
				if !ok || v > hi {
					hi = v
				}
				ok = true
			}
		}
	}
	return lo, hi, ok
}
