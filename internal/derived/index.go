package derived

import (
	"context"
	"slices"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

const maxIndexBlock = 64

// IndexCoord is a 1D coordinate whose value is the sample index along a
// dimension. When it follows the levels of another variable, coarse
// levels spread their samples evenly over the full-resolution index range.
type IndexCoord struct {
	src    types.DataConnector
	info   types.VarInfo
	length int
	like   string
	pos    int
}

// NewIndexCoord builds an index ramp over dim. like names a variable
// using dim whose refinement levels the ramp follows; empty means a
// single level.
func NewIndexCoord(src types.DataConnector, name, dim string, axis int, like string) (*IndexCoord, error) {
	d, err := src.GetDimension(dim)
	if err != nil {
		return nil, err
	}
	c := &IndexCoord{
		src:    src,
		length: d.Length,
		like:   like,
		info: types.VarInfo{
			Name:     name,
			DimNames: []string{dim},
			CRatios:  []int{1},
			Axis:     axis,
			Uniform:  true,
			Derived:  true,
		},
	}
	if like != "" {
		li, err := src.GetBaseVarInfo(like)
		if err != nil {
			return nil, err
		}
		c.pos = slices.Index(li.DimNames, dim)
		if c.pos < 0 {
			return nil, errors.Newf(errors.ErrCodeInvalidArgument, "%s does not use dimension %s", like, dim).
				WithComponent("derived")
		}
	}
	return c, nil
}

func (c *IndexCoord) Name() string        { return c.info.Name }
func (c *IndexCoord) Info() types.VarInfo { return c.info.Clone() }
func (c *IndexCoord) NumTimeSteps() int   { return 1 }

func (c *IndexCoord) Inputs() []string {
	if c.like == "" {
		return nil
	}
	return []string{c.like}
}

func (c *IndexCoord) NumRefLevels() int {
	if c.like == "" {
		return 1
	}
	return c.src.GetNumRefLevels(c.like)
}

func (c *IndexCoord) DimLensAtLevel(level int) ([]int, []int, error) {
	if c.like == "" {
		if level != 0 {
			return nil, nil, errors.Newf(errors.ErrCodeLevelOutOfRange, "%s has a single level", c.info.Name)
		}
		return []int{c.length}, []int{min(c.length, maxIndexBlock)}, nil
	}
	dims, bs, err := c.src.GetDimLensAtLevel(c.like, level)
	if err != nil {
		return nil, nil, err
	}
	return []int{dims[c.pos]}, []int{bs[c.pos]}, nil
}

func (c *IndexCoord) Exists(_, level, lod int) bool {
	return level >= 0 && level < c.NumRefLevels() && lod == 0
}

func (c *IndexCoord) ReadRegion(_ context.Context, _, level, _ int, lo, hi []int) ([]float64, error) {
	dims, _, err := c.DimLensAtLevel(level)
	if err != nil {
		return nil, err
	}
	step := 1.0
	if n := dims[0]; n > 1 {
		step = float64(c.length-1) / float64(n-1)
	}
	out := make([]float64, hi[0]-lo[0]+1)
	for i := range out {
		out[i] = float64(lo[0]+i) * step
	}
	return out, nil
}
