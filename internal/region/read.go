package region

import (
	"context"
	"fmt"

	"github.com/fieldcache/fieldcache/pkg/types"
)

// ReadBlocks reads the inclusive block range of one variable into out,
// which must hold BlockedLen samples for the variable's block size.
func ReadBlocks(ctx context.Context, dc types.DataConnector, ts int, name string, level, lod int, bmin, bmax []int, out []float64) error {
	h, err := dc.OpenVariableRead(ctx, ts, name, level, lod)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer dc.CloseVariable(h)

	if err := dc.ReadRegionBlock(ctx, h, bmin, bmax, out); err != nil {
		return fmt.Errorf("read %s blocks %v-%v: %w", name, bmin, bmax, err)
	}
	return nil
}

// ReadDense reads voxels [min, max] of a variable as a dense array,
// fetching whole blocks from the connector and cropping.
func ReadDense(ctx context.Context, dc types.DataConnector, ts int, name string, level, lod int, min, max []int) ([]float64, error) {
	dims, bsz, err := dc.GetDimLensAtLevel(name, level)
	if err != nil {
		return nil, err
	}
	rank := len(dims)
	d, bs := Pad3(dims, 1), Pad3(bsz, 1)
	vmin, vmax := Pad3(min, 0), Pad3(max, 0)
	if err := Validate(vmin, vmax, d); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	bmin, bmax := BlockRange(vmin, vmax, bs)
	nb := NumBlocks(bmin, bmax)
	blocked := make([]float64, BlockedLen(bmin, bmax, bs))
	if err := ReadBlocks(ctx, dc, ts, name, level, lod, Trim(bmin, rank), Trim(bmax, rank), blocked); err != nil {
		return nil, err
	}

	var offset Dims
	for i := 0; i < 3; i++ {
		offset[i] = vmin[i] - bmin[i]*bs[i]
	}
	out := make([]float64, Product(Extent(vmin, vmax)))
	Unblock(out, blocked, offset, Extent(vmin, vmax), bs, nb)
	return out, nil
}

// ReadAll reads a whole variable as a dense array.
func ReadAll(ctx context.Context, dc types.DataConnector, ts int, name string, level, lod int) ([]float64, []int, error) {
	dims, _, err := dc.GetDimLensAtLevel(name, level)
	if err != nil {
		return nil, nil, err
	}
	max := make([]int, len(dims))
	for i, n := range dims {
		max[i] = n - 1
	}
	data, err := ReadDense(ctx, dc, ts, name, level, lod, make([]int, len(dims)), max)
	return data, dims, err
}
