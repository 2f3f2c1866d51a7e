package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockRangeAndAlign(t *testing.T) {
	tests := []struct {
		name             string
		min, max         Dims
		bs, dims         Dims
		wantBmin         Dims
		wantBmax         Dims
		wantAmin, wantAm Dims
	}{
		{
			name: "interior",
			min:  Dims{5, 9, 0}, max: Dims{12, 9, 0},
			bs: Dims{4, 4, 1}, dims: Dims{20, 20, 1},
			wantBmin: Dims{1, 2, 0}, wantBmax: Dims{3, 2, 0},
			wantAmin: Dims{4, 8, 0}, wantAm: Dims{15, 11, 0},
		},
		{
			name: "boundary block partially used",
			min:  Dims{0, 0, 0}, max: Dims{9, 6, 2},
			bs: Dims{4, 4, 2}, dims: Dims{10, 7, 3},
			wantBmin: Dims{0, 0, 0}, wantBmax: Dims{2, 1, 1},
			wantAmin: Dims{0, 0, 0}, wantAm: Dims{9, 6, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bmin, bmax := BlockRange(tt.min, tt.max, tt.bs)
			assert.Equal(t, tt.wantBmin, bmin)
			assert.Equal(t, tt.wantBmax, bmax)

			amin, amax := AlignToBlocks(tt.min, tt.max, tt.bs, tt.dims)
			assert.Equal(t, tt.wantAmin, amin)
			assert.Equal(t, tt.wantAm, amax)
		})
	}
}

func TestPadTrimAndCounts(t *testing.T) {
	assert.Equal(t, Dims{7, 1, 1}, Pad3([]int{7}, 1))
	assert.Equal(t, Dims{7, 3, 0}, Pad3([]int{7, 3}, 0))
	assert.Equal(t, []int{7, 3}, Trim(Dims{7, 3, 1}, 2))

	assert.Equal(t, Dims{3, 1, 2}, NumBlocks(Dims{1, 4, 0}, Dims{3, 4, 1}))
	assert.Equal(t, 3*1*2*4*4*2, BlockedLen(Dims{1, 4, 0}, Dims{3, 4, 1}, Dims{4, 4, 2}))
	assert.Equal(t, 24, Product(Extent(Dims{0, 0, 0}, Dims{3, 2, 1})))
}

func TestValidate(t *testing.T) {
	dims := Dims{10, 5, 1}
	assert.NoError(t, Validate(Dims{0, 0, 0}, Dims{9, 4, 0}, dims))
	assert.Error(t, Validate(Dims{0, 0, 0}, Dims{10, 4, 0}, dims))
	assert.Error(t, Validate(Dims{3, 0, 0}, Dims{2, 4, 0}, dims))
	assert.Error(t, Validate(Dims{-1, 0, 0}, Dims{2, 4, 0}, dims))
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	dims := Dims{5, 3, 2}
	src := make([]float64, Product(dims))
	for i := range src {
		src[i] = float64(i)
	}

	bs := Dims{2, 2, 2}
	bmin, bmax := BlockRange(Dims{}, Dims{4, 2, 1}, bs)
	nb := NumBlocks(bmin, bmax)
	require.Equal(t, Dims{3, 2, 1}, nb)

	blocked := make([]float64, BlockedLen(bmin, bmax, bs))
	Block(blocked, src, dims, bs, nb)

	// sample (3,1,1) sits in block (1,0,0) at inner offset (1,1,1)
	assert.Equal(t, src[(1*3+1)*5+3], blocked[1*8+7])

	// padding repeats the edge sample
	assert.Equal(t, src[4], blocked[BlockedOffset(5, 0, 0, bs, nb)])

	dense := make([]float64, len(src))
	Unblock(dense, blocked, Dims{}, dims, bs, nb)
	assert.Equal(t, src, dense)

	sub := make([]float64, 2*2*1)
	Unblock(sub, blocked, Dims{3, 1, 1}, Dims{2, 2, 1}, bs, nb)
	assert.Equal(t, Dense(src, dims, Dims{3, 1, 1}, Dims{4, 2, 1}), sub)
}

func TestDense(t *testing.T) {
	dims := Dims{4, 3, 1}
	src := []float64{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
	}
	assert.Equal(t, []float64{5, 6, 9, 10}, Dense(src, dims, Dims{1, 1, 0}, Dims{2, 2, 0}))
	assert.Equal(t, []float64{3, 7, 11}, Dense(src, dims, Dims{3, 0, 0}, Dims{3, 2, 0}))
}
