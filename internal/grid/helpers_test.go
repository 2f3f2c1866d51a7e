package grid

import (
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldcache/fieldcache/internal/region"
)

// makeArray samples f over dims and stores it in blocks of size bs.
func makeArray(t *testing.T, dims, bs Index, f func(i, j, k int) float64) *BlockArray {
	t.Helper()
	dense := make([]float64, dims[0]*dims[1]*dims[2])
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				dense[(k*dims[1]+j)*dims[0]+i] = f(i, j, k)
			}
		}
	}
	var nb Index
	for i := 0; i < 3; i++ {
		nb[i] = (dims[i] + bs[i] - 1) / bs[i]
	}
	buf := make([]float64, nb[0]*nb[1]*nb[2]*bs[0]*bs[1]*bs[2])
	region.Block(buf, dense, dims, bs, nb)

	a, err := NewBlockArray(SplitBlocks(buf, bs), dims, bs)
	require.NoError(t, err)
	return a
}

func countSeq[K, V any](seq iter.Seq2[K, V]) int {
	n := 0
	for range seq {
		n++
	}
	return n
}
