package grid

import (
	"github.com/fieldcache/fieldcache/pkg/errors"
)

// BlockArray addresses samples stored as equally sized blocks. The first
// sample of the first block is index (0,0,0). Blocks are ordered x-fastest,
// and so are samples within a block.
type BlockArray struct {
	blks [][]float64
	bs   Index
	nb   Index
	dims Index
}

// NewBlockArray wraps blocks covering dims. The block count must equal the
// number of blocks needed to cover dims and every block must hold exactly
// bs[0]*bs[1]*bs[2] samples.
func NewBlockArray(blks [][]float64, dims, bs Index) (*BlockArray, error) {
	var nb Index
	for i := 0; i < 3; i++ {
		if dims[i] < 1 || bs[i] < 1 {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "invalid dims %v or block size %v", dims, bs).
				WithComponent("grid")
		}
		nb[i] = (dims[i] + bs[i] - 1) / bs[i]
	}

	want := nb[0] * nb[1] * nb[2]
	if len(blks) != want {
		return nil, errors.Newf(errors.ErrCodeConstructionFailed, "got %d blocks, dims %v with block size %v need %d", len(blks), dims, bs, want).
			WithComponent("grid")
	}
	blockLen := bs[0] * bs[1] * bs[2]
	for i, blk := range blks {
		if len(blk) != blockLen {
			return nil, errors.Newf(errors.ErrCodeConstructionFailed, "block %d holds %d samples, want %d", i, len(blk), blockLen).
				WithComponent("grid")
		}
	}

	return &BlockArray{blks: blks, bs: bs, nb: nb, dims: dims}, nil
}

// DenseArray wraps a dense x-fastest array as a single block.
func DenseArray(data []float64, dims Index) (*BlockArray, error) {
	return NewBlockArray([][]float64{data}, dims, dims)
}

// SplitBlocks slices a contiguous blocked buffer into per-block views.
func SplitBlocks(buf []float64, bs Index) [][]float64 {
	n := bs[0] * bs[1] * bs[2]
	if n == 0 {
		return nil
	}
	blks := make([][]float64, 0, len(buf)/n)
	for off := 0; off+n <= len(buf); off += n {
		blks = append(blks, buf[off:off+n:off+n])
	}
	return blks
}

// At returns the sample at (i, j, k). The index must be inside Dims.
func (a *BlockArray) At(i, j, k int) float64 {
	bs := a.bs
	blk := a.blks[((k/bs[2])*a.nb[1]+j/bs[1])*a.nb[0]+i/bs[0]]
	return blk[((k%bs[2])*bs[1]+j%bs[1])*bs[0]+i%bs[0]]
}

// Dims returns the logical extent.
func (a *BlockArray) Dims() Index {
	return a.dims
}

// BlockSize returns the block size.
func (a *BlockArray) BlockSize() Index {
	return a.bs
}

// NumBlocks returns the block count per axis.
func (a *BlockArray) NumBlocks() Index {
	return a.nb
}

// MinMax scans every sample, skipping skip(v) values.
func (a *BlockArray) MinMax(skip func(float64) bool) (lo, hi float64, ok bool) {
	for k := 0; k < a.dims[2]; k++ {
		for j := 0; j < a.dims[1]; j++ {
			for i := 0; i < a.dims[0]; i++ {
				v := a.At(i, j, k)
				if skip != nil && skip(v) {
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
