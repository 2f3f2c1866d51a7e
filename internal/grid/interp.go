package grid

import "math"

// snapEps absorbs round-off so that points on a node reproduce the node
// sample exactly.
const snapEps = 1e-9

func snap(l float64) float64 {
	switch {
	case math.Abs(l) < snapEps:
		return 0
	case math.Abs(1-l) < snapEps:
		return 1
	case l < 0:
		return 0
	case l > 1:
		return 1
	}
	return l
}

// wrapPeriodic maps periodic axes of c into [min, max]. The period is
// max-min. Points on either end node are left alone.
func wrapPeriodic(c Coord, min, max Coord, periodic [3]bool, n int) Coord {
	for i := 0; i < n; i++ {
		if !periodic[i] {
			continue
		}
		period := max[i] - min[i]
		if period <= 0 {
			continue
		}
		tol := snapEps * period
		if c[i] < min[i]-tol || c[i] > max[i]+tol {
			c[i] = min[i] + math.Mod(c[i]-min[i], period)
			if c[i] < min[i] {
				c[i] += period
			}
		}
	}
	return c
}

// findInterval locates v in the monotonic sequence coords, returning the
// lower node i and the fractional position within [coords[i], coords[i+1]].
func findInterval(coords []float64, v float64) (int, float64, bool) {
	n := len(coords)
	switch n {
	case 0:
		return 0, 0, false
	case 1:
		if math.Abs(v-coords[0]) <= snapEps {
			return 0, 0, true
		}
		return 0, 0, false
	}

	lo, hi := coords[0], coords[n-1]
	increasing := hi >= lo
	if !increasing {
		lo, hi = hi, lo
	}
	tol := snapEps * math.Max(1, math.Abs(hi-lo))
	if v < lo-tol || v > hi+tol {
		return 0, 0, false
	}

	// first node strictly beyond v
	a, b := 0, n-1
	for a < b {
		m := (a + b) / 2
		if (increasing && coords[m] > v) || (!increasing && coords[m] < v) {
			b = m
		} else {
			a = m + 1
		}
	}
	i := a - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}

	d := coords[i+1] - coords[i]
	if d == 0 {
		return i, 0, true
	}
	return i, snap((v - coords[i]) / d), true
}

// weighted combines samples of nodes with weights w. Order 0 picks the
// node with the largest weight. Any contributing missing sample makes the
// result missing.
func (b *base) weighted(nodes []Index, w []float64) float64 {
	if len(nodes) == 0 {
		return b.missing
	}

	if b.order == 0 {
		best := 0
		for i := range w {
			if w[i] > w[best] {
				best = i
			}
		}
		return b.AccessIndex(nodes[best])
	}

	var sum float64
	for i, idx := range nodes {
		if w[i] == 0 {
			continue
		}
		v := b.AccessIndex(idx)
		if b.isMissing(v) {
			return b.missing
		}
		sum += w[i] * v
	}
	return sum
}

// cellCorners expands a structured cell and per-axis fractions into its
// corner nodes and multilinear weights. Corners with zero weight are kept
// so that order 0 can choose among them.
func (b *base) cellCorners(cell Index, lam [3]float64) ([]Index, []float64) {
	n := 1 << b.topoDim
	nodes := make([]Index, 0, n)
	w := make([]float64, 0, n)
	for c := 0; c < n; c++ {
		idx := cell
		weight := 1.0
		for axis := 0; axis < b.topoDim; axis++ {
			if c&(1<<axis) != 0 {
				idx[axis]++
				weight *= lam[axis]
			} else {
				weight *= 1 - lam[axis]
			}
		}
		if !b.validNode(idx) {
			if weight != 0 {
				continue
			}
			idx = cell
		}
		nodes = append(nodes, idx)
		w = append(w, weight)
	}
	return nodes, w
}

// nearestCorner returns the corner closest in index space.
func nearestCorner(cell Index, lam [3]float64, dims Index) Index {
	idx := cell
	for i := 0; i < 3; i++ {
		if lam[i] > 0.5 && idx[i]+1 < dims[i] {
			idx[i]++
		}
	}
	return idx
}
