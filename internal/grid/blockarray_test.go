package grid

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcache/fieldcache/pkg/errors"
)

func TestBlockArrayAt(t *testing.T) {
	dims := Index{5, 3, 2}
	a := makeArray(t, dims, Index{2, 2, 2}, func(i, j, k int) float64 {
		return float64(i + 10*j + 100*k)
	})

	assert.Equal(t, Index{3, 2, 1}, a.NumBlocks())
	assert.Equal(t, Index{2, 2, 2}, a.BlockSize())
	assert.Equal(t, dims, a.Dims())
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				require.Equal(t, float64(i+10*j+100*k), a.At(i, j, k))
			}
		}
	}

	lo, hi, ok := a.MinMax(nil)
	require.True(t, ok)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 124.0, hi)

	lo, _, _ = a.MinMax(func(v float64) bool { return v == 0 })
	assert.Equal(t, 1.0, lo)
}

func TestBlockArrayRejectsInconsistentBlocks(t *testing.T) {
	tests := []struct {
		name string
		blks [][]float64
		dims Index
		bs   Index
	}{
		{"too few blocks", [][]float64{make([]float64, 4)}, Index{4, 2, 1}, Index{2, 2, 1}},
		{"short block", [][]float64{make([]float64, 4), make([]float64, 3)}, Index{4, 2, 1}, Index{2, 2, 1}},
		{"zero dims", [][]float64{}, Index{0, 2, 1}, Index{2, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBlockArray(tt.blks, tt.dims, tt.bs)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrConstruction))
		})
	}
}

func TestSplitBlocksAndDense(t *testing.T) {
	buf := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	blks := SplitBlocks(buf, Index{2, 2, 1})
	require.Len(t, blks, 2)
	assert.Equal(t, []float64{4, 5, 6, 7}, blks[1])

	a, err := DenseArray([]float64{1, 2, 3, 4, 5, 6}, Index{3, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, 6.0, a.At(2, 1, 0))
}
