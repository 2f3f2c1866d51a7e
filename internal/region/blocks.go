// Package region implements block and voxel index arithmetic for
// block-structured variables, and conversion between dense and blocked
// sample layouts.
//
// All index triples are ordered fastest-varying first. Unused trailing axes
// carry a length or block size of 1 and index 0. A blocked buffer for the
// inclusive block range [bmin, bmax] stores whole blocks one after another,
// x-fastest across blocks, and samples x-fastest within each block.
package region

import "fmt"

// Dims is a padded three-axis extent or index.
type Dims = [3]int

// Pad3 copies v into a three-axis triple, filling missing axes with fill.
func Pad3(v []int, fill int) Dims {
	d := Dims{fill, fill, fill}
	copy(d[:], v)
	return d
}

// Trim returns the first n entries of d as a slice.
func Trim(d Dims, n int) []int {
	out := make([]int, n)
	copy(out, d[:n])
	return out
}

// BlockRange returns the inclusive block range covering voxels [min, max].
func BlockRange(min, max, bs Dims) (bmin, bmax Dims) {
	for i := 0; i < 3; i++ {
		bmin[i] = min[i] / bs[i]
		bmax[i] = max[i] / bs[i]
	}
	return bmin, bmax
}

// AlignToBlocks expands voxels [min, max] outward to whole blocks, clipped
// to the variable's dimensions.
func AlignToBlocks(min, max, bs, dims Dims) (amin, amax Dims) {
	bmin, bmax := BlockRange(min, max, bs)
	for i := 0; i < 3; i++ {
		amin[i] = bmin[i] * bs[i]
		amax[i] = (bmax[i]+1)*bs[i] - 1
		if amax[i] > dims[i]-1 {
			amax[i] = dims[i] - 1
		}
	}
	return amin, amax
}

// NumBlocks returns the per-axis block count of an inclusive block range.
func NumBlocks(bmin, bmax Dims) Dims {
	return Dims{bmax[0] - bmin[0] + 1, bmax[1] - bmin[1] + 1, bmax[2] - bmin[2] + 1}
}

// BlockedLen returns the number of samples in a blocked buffer covering
// the inclusive block range.
func BlockedLen(bmin, bmax, bs Dims) int {
	nb := NumBlocks(bmin, bmax)
	return nb[0] * nb[1] * nb[2] * bs[0] * bs[1] * bs[2]
}

// Extent returns max-min+1 per axis.
func Extent(min, max Dims) Dims {
	return Dims{max[0] - min[0] + 1, max[1] - min[1] + 1, max[2] - min[2] + 1}
}

// Product multiplies the three axes.
func Product(d Dims) int {
	return d[0] * d[1] * d[2]
}

// Validate checks that [min, max] is a non-empty range inside dims.
func Validate(min, max, dims Dims) error {
	for i := 0; i < 3; i++ {
		if min[i] < 0 || max[i] < min[i] || max[i] >= dims[i] {
			return fmt.Errorf("axis %d range [%d, %d] outside [0, %d)", i, min[i], max[i], dims[i])
		}
	}
	return nil
}

// BlockedOffset returns the offset in a blocked buffer of the sample at
// (i, j, k), relative to the first voxel of the first block.
func BlockedOffset(i, j, k int, bs, nb Dims) int {
	bi, bj, bk := i/bs[0], j/bs[1], k/bs[2]
	block := (bk*nb[1]+bj)*nb[0] + bi
	inner := ((k%bs[2])*bs[1]+(j%bs[1]))*bs[0] + i%bs[0]
	return block*bs[0]*bs[1]*bs[2] + inner
}

// Block copies the dense array src (extent srcDims, origin at the first
// voxel of block bmin) into the blocked buffer dst with nb blocks of size
// bs. Padding samples beyond srcDims repeat the nearest edge sample.
func Block(dst, src []float64, srcDims, bs, nb Dims) {
	full := Dims{nb[0] * bs[0], nb[1] * bs[1], nb[2] * bs[2]}
	for k := 0; k < full[2]; k++ {
		sk := min(k, srcDims[2]-1)
		for j := 0; j < full[1]; j++ {
			sj := min(j, srcDims[1]-1)
			row := (sk*srcDims[1] + sj) * srcDims[0]
			for i := 0; i < full[0]; i++ {
				si := min(i, srcDims[0]-1)
				dst[BlockedOffset(i, j, k, bs, nb)] = src[row+si]
			}
		}
	}
}

// Unblock copies the dense sub-array of extent dstDims, starting at offset
// within the blocked buffer src, into dst.
func Unblock(dst, src []float64, offset, dstDims, bs, nb Dims) {
	for k := 0; k < dstDims[2]; k++ {
		for j := 0; j < dstDims[1]; j++ {
			row := (k*dstDims[1] + j) * dstDims[0]
			for i := 0; i < dstDims[0]; i++ {
				dst[row+i] = src[BlockedOffset(i+offset[0], j+offset[1], k+offset[2], bs, nb)]
			}
		}
	}
}

// Dense extracts the hyperslab [min, max] of a dense array with extent dims.
func Dense(src []float64, dims, min, max Dims) []float64 {
	ext := Extent(min, max)
	out := make([]float64, Product(ext))
	for k := 0; k < ext[2]; k++ {
		for j := 0; j < ext[1]; j++ {
			srow := ((k+min[2])*dims[1]+(j+min[1]))*dims[0] + min[0]
			drow := (k*ext[1] + j) * ext[0]
			copy(out[drow:drow+ext[0]], src[srow:srow+ext[0]])
		}
	}
	return out
}
