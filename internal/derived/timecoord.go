package derived

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// ParseTimestamp decodes "YYYY-MM-DD_hh:mm:ss", or "YYYY-DDDDD_hh:mm:ss"
// with a day of year, as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	var year, mon, day, hour, minute, sec int
	if n, _ := fmt.Sscanf(s, "%4d-%2d-%2d_%2d:%2d:%2d", &year, &mon, &day, &hour, &minute, &sec); n == 6 {
		return time.Date(year, time.Month(mon), day, hour, minute, sec, 0, time.UTC), nil
	}
	if n, _ := fmt.Sscanf(s, "%4d-%5d_%2d:%2d:%2d", &year, &day, &hour, &minute, &sec); n == 5 {
		return time.Date(year, time.January, day, hour, minute, sec, 0, time.UTC), nil
	}
	return time.Time{}, errors.Newf(errors.ErrCodeDecodeFailed, "unrecognized time stamp %q", s).
		WithComponent("derived")
}

// TimeCoord is the time coordinate decoded from formatted timestamps, in
// seconds since the Unix epoch multiplied by a scale factor.
type TimeCoord struct {
	info   types.VarInfo
	source string
	times  []float64
	order  []int
}

// NewTimeCoord reads and decodes the timestamps published under source.
// A scale of zero is treated as 1.
func NewTimeCoord(ctx context.Context, ts types.TimestampSource, name, source, dim string, scale float64) (*TimeCoord, error) {
	stamps, err := ts.ReadTimestamps(ctx, source)
	if err != nil {
		return nil, err
	}
	if scale == 0 {
		scale = 1
	}
	c := &TimeCoord{
		source: source,
		info: types.VarInfo{
			Name:        name,
			Units:       "seconds",
			TimeDimName: dim,
			CRatios:     []int{1},
			Axis:        3,
			Derived:     true,
		},
		times: make([]float64, len(stamps)),
		order: make([]int, len(stamps)),
	}
	for i, s := range stamps {
		t, err := ParseTimestamp(s)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDecodeFailed, "decode time coordinate").
				WithContext("variable", name).
				WithDetail("index", i)
		}
		c.times[i] = float64(t.Unix()) * scale
		c.order[i] = i
	}
	sort.SliceStable(c.order, func(i, j int) bool { return c.times[c.order[i]] < c.times[c.order[j]] })
	return c, nil
}

func (c *TimeCoord) Name() string        { return c.info.Name }
func (c *TimeCoord) Info() types.VarInfo { return c.info.Clone() }
func (c *TimeCoord) Inputs() []string    { return []string{c.source} }
func (c *TimeCoord) NumTimeSteps() int   { return len(c.times) }
func (c *TimeCoord) NumRefLevels() int   { return 1 }

// Times returns the decoded values in source order.
func (c *TimeCoord) Times() []float64 { return slices.Clone(c.times) }

// TimeStepOrder returns source time step indices sorted chronologically.
func (c *TimeCoord) TimeStepOrder() []int { return slices.Clone(c.order) }

// TimeLookup maps the i-th chronological step to its source index.
func (c *TimeCoord) TimeLookup(i int) int {
	if i < 0 || i >= len(c.order) {
		return 0
	}
	return c.order[i]
}

// DimLensAtLevel reports a scalar per time step.
func (c *TimeCoord) DimLensAtLevel(level int) ([]int, []int, error) {
	if level != 0 {
		return nil, nil, errors.Newf(errors.ErrCodeLevelOutOfRange, "%s has a single level", c.info.Name)
	}
	return []int{}, []int{}, nil
}

func (c *TimeCoord) Exists(ts, level, lod int) bool {
	return ts >= 0 && ts < len(c.times) && level == 0 && lod == 0
}

func (c *TimeCoord) ReadRegion(_ context.Context, ts, _, _ int, _, _ []int) ([]float64, error) {
	if ts < 0 || ts >= len(c.times) {
		return nil, errors.Newf(errors.ErrCodeNotFound, "%s: time step %d not in [0, %d)", c.info.Name, ts, len(c.times))
	}
	return []float64{c.times[ts]}, nil
}
