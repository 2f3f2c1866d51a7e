package derived

import (
	"context"
	stderrors "errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcache/fieldcache/internal/connector/memdc"
	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

func newConn(t *testing.T, vars ...memdc.Variable) *memdc.Connector {
	t.Helper()
	c, err := memdc.New()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	for _, v := range vars {
		require.NoError(t, c.AddVariable(v))
	}
	return c
}

func line(name, dim string, axis int, units string, vals ...float64) memdc.Variable {
	return memdc.Variable{
		Info:      types.VarInfo{Name: name, DimNames: []string{dim}, Axis: axis, Units: units, Uniform: true},
		Dims:      []int{len(vals)},
		BlockSize: []int{2},
		Steps:     [][]float64{vals},
	}
}

func readAll(t *testing.T, dc types.DataConnector, ts int, name string) ([]float64, []int) {
	t.Helper()
	data, dims, err := region.ReadAll(context.Background(), dc, ts, name, 0, 0)
	require.NoError(t, err)
	return data, dims
}

func TestStaggered(t *testing.T) {
	c := newConn(t, line("u", "x", -1, "m/s", 0, 2, 4, 6, 8))
	r := NewRegistry(c)

	s, err := NewStaggered(r, "u_faces", "u", 0, "x_faces")
	require.NoError(t, err)
	require.NoError(t, r.Add(s))

	data, dims := readAll(t, r, 0, "u_faces")
	assert.Equal(t, []int{6}, dims)
	assert.Equal(t, []float64{-1, 1, 3, 5, 7, 9}, data)

	sub, err := region.ReadDense(context.Background(), r, 0, "u_faces", 0, 0, []int{2}, []int{3})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5}, sub)

	last, err := region.ReadDense(context.Background(), r, 0, "u_faces", 0, 0, []int{5}, []int{5})
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, last)

	d, err := r.GetDimension("x_faces")
	require.NoError(t, err)
	assert.Equal(t, 6, d.Length)

	info, err := r.GetBaseVarInfo("u_faces")
	require.NoError(t, err)
	assert.Equal(t, []string{"x_faces"}, info.DimNames)
	assert.True(t, info.Derived)
}

func TestUnstaggered(t *testing.T) {
	c := newConn(t, line("w", "z", -1, "m/s", 0, 2, 4, 6, 8))
	r := NewRegistry(c)

	u, err := NewUnstaggered(r, "w_centres", "w", 0, "z_centres")
	require.NoError(t, err)
	require.NoError(t, r.Add(u))

	data, dims := readAll(t, r, 0, "w_centres")
	assert.Equal(t, []int{4}, dims)
	assert.Equal(t, []float64{1, 3, 5, 7}, data)
}

func TestStaggeredAlongSecondAxis(t *testing.T) {
	vals := make([]float64, 9)
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			vals[j*3+i] = float64(i + 10*j)
		}
	}
	c := newConn(t, memdc.Variable{
		Info:      types.VarInfo{Name: "v", DimNames: []string{"x", "y"}, Axis: -1},
		Dims:      []int{3, 3},
		BlockSize: []int{2, 2},
		Steps:     [][]float64{vals},
	})
	r := NewRegistry(c)
	s, err := NewStaggered(r, "v_stag", "v", 1, "y_stag")
	require.NoError(t, err)
	require.NoError(t, r.Add(s))

	data, dims := readAll(t, r, 0, "v_stag")
	require.Equal(t, []int{3, 4}, dims)
	for j, base := range []float64{-5, 5, 15, 25} {
		for i := 0; i < 3; i++ {
			assert.Equal(t, base+float64(i), data[j*3+i], "(%d,%d)", i, j)
		}
	}
	assert.Contains(t, r.GetDataVarNames(), "v_stag")
}

func TestResampledPropagatesDecodeErrors(t *testing.T) {
	c := newConn(t, line("u", "x", -1, "", 0, 2, 4, 6, 8))
	r := NewRegistry(c)
	s, err := NewStaggered(r, "u_faces", "u", 0, "x_faces")
	require.NoError(t, err)
	require.NoError(t, r.Add(s))
	require.NoError(t, c.Corrupt("u", 0))

	_, _, err = region.ReadAll(context.Background(), r, 0, "u_faces", 0, 0)
	assert.True(t, stderrors.Is(err, errors.ErrDecode))
}

func TestRegistryOverlay(t *testing.T) {
	c := newConn(t,
		line("xc", "x", 0, "m", 0, 1, 2),
		memdc.Variable{
			Info:      types.VarInfo{Name: "q", DimNames: []string{"x"}, CoordVars: []string{"xc"}, Axis: -1},
			Dims:      []int{3},
			BlockSize: []int{2},
			Steps:     [][]float64{{5, 6, 7}},
		},
	)
	r := NewRegistry(c)
	assert.Same(t, c, r.Native())

	dup, err := NewStaggered(r, "q", "q", 0, "xs")
	require.NoError(t, err)
	assert.True(t, stderrors.Is(r.Add(dup), errors.ErrDuplicate))

	s, err := NewStaggered(r, "xc_faces", "xc", 0, "x_faces")
	require.NoError(t, err)
	require.NoError(t, r.Add(s))
	assert.True(t, stderrors.Is(r.Add(s), errors.ErrDuplicate))

	assert.Equal(t, []string{"q"}, r.GetDataVarNames())
	assert.Equal(t, []string{"xc", "xc_faces"}, r.GetCoordVarNames())
	assert.Equal(t, []string{"xc_faces"}, r.Names())
	assert.True(t, r.IsDerived("xc_faces"))
	assert.False(t, r.IsDerived("xc"))

	assert.True(t, r.VariableExists(0, "q", 0, 0))
	assert.True(t, r.VariableExists(0, "xc_faces", 0, 0))
	assert.False(t, r.VariableExists(0, "xc_faces", 1, 0))
	_, err = r.OpenVariableRead(context.Background(), 0, "xc_faces", 1, 0)
	assert.True(t, stderrors.Is(err, errors.ErrNotFound))

	data, _ := readAll(t, r, 0, "q")
	assert.Equal(t, []float64{5, 6, 7}, data)

	r.SetCoordVars("q", []string{"xc_faces"})
	info, err := r.GetBaseVarInfo("q")
	require.NoError(t, err)
	assert.Equal(t, []string{"xc_faces"}, info.CoordVars)

	assert.True(t, r.Remove("xc_faces"))
	assert.False(t, r.Remove("xc_faces"))
	assert.Empty(t, r.Names())
	assert.False(t, r.VariableExists(0, "xc_faces", 0, 0))
}

func TestIndexCoord(t *testing.T) {
	vals := make([]float64, 9*5)
	c := newConn(t, memdc.Variable{
		Info:      types.VarInfo{Name: "q", DimNames: []string{"x", "y"}, Axis: -1},
		Dims:      []int{9, 5},
		BlockSize: []int{4, 4},
		Levels:    3,
		Steps:     [][]float64{vals},
	})
	r := NewRegistry(c)

	flat, err := NewIndexCoord(r, "y_ramp", "y", 1, "")
	require.NoError(t, err)
	require.NoError(t, r.Add(flat))
	data, dims := readAll(t, r, 0, "y_ramp")
	assert.Equal(t, []int{5}, dims)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, data)
	assert.Equal(t, 1, r.GetNumRefLevels("y_ramp"))
	yi, err := r.GetBaseVarInfo("y_ramp")
	require.NoError(t, err)
	assert.True(t, yi.Uniform)

	like, err := NewIndexCoord(r, "x_ramp", "x", 0, "q")
	require.NoError(t, err)
	require.NoError(t, r.Add(like))
	assert.Equal(t, 3, r.GetNumRefLevels("x_ramp"))

	coarse, _, err := region.ReadAll(context.Background(), r, 0, "x_ramp", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4, 8}, coarse)
	fine, _, err := region.ReadAll(context.Background(), r, 0, "x_ramp", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8}, fine)

	_, err = NewIndexCoord(r, "z_ramp", "x", 0, "y_ramp")
	assert.Error(t, err)
}

func TestSynthesizeIndexCoords(t *testing.T) {
	c := newConn(t,
		line("xc", "x", 0, "m", 0, 1, 2),
		memdc.Variable{
			Info:      types.VarInfo{Name: "q", DimNames: []string{"x", "y"}, CoordVars: []string{"xc"}, Axis: -1},
			Dims:      []int{3, 2},
			BlockSize: []int{2, 2},
			Steps:     [][]float64{make([]float64, 6)},
		},
	)
	r := NewRegistry(c)
	require.NoError(t, r.SynthesizeIndexCoords())
	require.NoError(t, r.SynthesizeIndexCoords())

	info, err := r.GetBaseVarInfo("q")
	require.NoError(t, err)
	assert.Equal(t, []string{"xc", "y_index"}, info.CoordVars)
	assert.Equal(t, []string{"y_index"}, r.Names())

	yi, err := r.GetBaseVarInfo("y_index")
	require.NoError(t, err)
	assert.Equal(t, 1, yi.Axis)
}

type stamps []string

func (s stamps) ReadTimestamps(context.Context, string) ([]string, error) { return s, nil }

func TestTimeCoord(t *testing.T) {
	src := stamps{"2024-01-01_02:00:00", "2024-01-01_00:00:00", "2023-365_12:00:00"}
	tc, err := NewTimeCoord(context.Background(), src, "Time", "Times", "time", 0)
	require.NoError(t, err)

	want := []float64{
		float64(time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC).Unix()),
		float64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()),
		float64(time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC).Unix()),
	}
	assert.Equal(t, want, tc.Times())
	assert.Equal(t, []int{2, 1, 0}, tc.TimeStepOrder())
	assert.Equal(t, 2, tc.TimeLookup(0))
	assert.Equal(t, 0, tc.TimeLookup(7))
	assert.True(t, tc.Exists(2, 0, 0))
	assert.False(t, tc.Exists(3, 0, 0))

	r := NewRegistry(newConn(t))
	require.NoError(t, r.Add(tc))
	assert.Equal(t, 3, r.GetNumTimeSteps("Time"))
	assert.Equal(t, []string{"Time"}, r.GetCoordVarNames())

	data, dims := readAll(t, r, 1, "Time")
	assert.Empty(t, dims)
	assert.Equal(t, []float64{want[1]}, data)

	hours, err := NewTimeCoord(context.Background(), src, "Hours", "Times", "time", 1.0/3600)
	require.NoError(t, err)
	assert.InDelta(t, want[0]/3600, hours.Times()[0], 1e-6)
}

func TestParseTimestamp(t *testing.T) {
	tm, err := ParseTimestamp("2020-02-29_23:59:58")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 2, 29, 23, 59, 58, 0, time.UTC), tm)

	tm, err = ParseTimestamp("2020-00060_06:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 2, 29, 6, 0, 0, 0, time.UTC), tm)

	_, err = ParseTimestamp("yesterday")
	assert.True(t, stderrors.Is(err, errors.ErrDecode))

	_, err = NewTimeCoord(context.Background(), stamps{"bad"}, "T", "Times", "time", 1)
	assert.True(t, stderrors.Is(err, errors.ErrDecode))
}

func TestProjectionRoundTrip(t *testing.T) {
	cases := []struct {
		def    string
		points [][2]float64
	}{
		{"+proj=latlong", [][2]float64{{-100, 35}, {10, -20}}},
		{"+proj=eqc +lat_ts=30 +lon_0=-100", [][2]float64{{-100, 35}, {-80, 10}, {-120, -40}}},
		{"+proj=merc +lon_0=-100", [][2]float64{{-100, 0}, {-90, 50}, {-130, -60}}},
		{"+proj=merc +lat_ts=45", [][2]float64{{5, 45}, {-5, 60}}},
		{"+proj=lcc +lat_1=33 +lat_2=45 +lat_0=39 +lon_0=-96", [][2]float64{{-96, 39}, {-80, 30}, {-120, 50}}},
		{"+proj=lcc +lat_1=-30 +lat_0=-30 +lon_0=140", [][2]float64{{140, -30}, {150, -20}, {120, -45}}},
		{"+proj=stere +lat_0=90 +lat_ts=60 +lon_0=-45", [][2]float64{{-45, 80}, {30, 60}, {-170, 45}}},
		{"+proj=stere +lat_0=45 +lon_0=10", [][2]float64{{10, 45}, {20, 50}, {-5, 30}}},
	}
	for _, tc := range cases {
		t.Run(tc.def, func(t *testing.T) {
			p, err := ParseProjection(tc.def)
			require.NoError(t, err)
			assert.Equal(t, tc.def, p.String())
			for _, pt := range tc.points {
				x, y := p.Forward(pt[0], pt[1])
				lon, lat := p.Inverse(x, y)
				assert.InDelta(t, pt[0], lon, 1e-6, "lon of %v", pt)
				assert.InDelta(t, pt[1], lat, 1e-6, "lat of %v", pt)
			}
		})
	}
}

func TestProjectionValues(t *testing.T) {
	m, err := ParseProjection("+proj=merc +lon_0=-100")
	require.NoError(t, err)
	x, y := m.Forward(-100, 0)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)
	x, _ = m.Forward(-99, 0)
	assert.InDelta(t, EarthRadius*math.Pi/180, x, 1e-6)

	e, err := ParseProjection("+proj=eqc +lat_ts=60 +R=1000")
	require.NoError(t, err)
	x, y = e.Forward(90, 45)
	assert.InDelta(t, 1000*math.Pi/2*0.5, x, 1e-9)
	assert.InDelta(t, 1000*math.Pi/4, y, 1e-9)

	l, err := ParseProjection("+proj=lcc +lat_1=33 +lat_2=45 +lat_0=39 +lon_0=-96 +x_0=500")
	require.NoError(t, err)
	x, y = l.Forward(-96, 39)
	assert.InDelta(t, 500, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
	assert.False(t, l.Cylindrical())

	s, err := ParseProjection("+proj=stere +lat_0=90 +lon_0=0")
	require.NoError(t, err)
	x, y = s.Forward(0, 90)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
	_, y = s.Forward(0, 80)
	assert.Less(t, y, 0.0)
}

func TestParseProjectionErrors(t *testing.T) {
	for _, def := range []string{"", "+lon_0=3", "+proj=utm +zone=33", "+proj=lcc +lon_0=3", "+proj=merc +lon_0=abc", "+proj=lcc +lat_1=0"} {
		_, err := ParseProjection(def)
		assert.True(t, stderrors.Is(err, errors.ErrInvalidArg), "%q", def)
	}
}

func lonLatConn(t *testing.T) *memdc.Connector {
	return newConn(t,
		line("lon", "x", 0, "degrees_east", -100, -99, -98, -97),
		line("lat", "y", 1, "degrees_north", 30, 31, 32),
		memdc.Variable{
			Info: types.VarInfo{
				Name: "sst", DimNames: []string{"x", "y"}, CoordVars: []string{"lon", "lat"},
				Axis: -1, Periodic: []bool{true, false},
			},
			Dims:      []int{4, 3},
			BlockSize: []int{2, 2},
			Steps:     [][]float64{make([]float64, 12)},
		},
	)
}

func TestProjectedSeparable(t *testing.T) {
	r := NewRegistry(lonLatConn(t))
	p, err := ParseProjection("+proj=merc +lon_0=-100")
	require.NoError(t, err)

	x, err := NewProjected(r, "X", p, "lon", "lat", 0, false)
	require.NoError(t, err)
	y, err := NewProjected(r, "Y", p, "lon", "lat", 1, false)
	require.NoError(t, err)
	require.NoError(t, r.Add(x))
	require.NoError(t, r.Add(y))

	xs, dims := readAll(t, r, 0, "X")
	assert.Equal(t, []int{4}, dims)
	for i, lon := range []float64{-100, -99, -98, -97} {
		want, _ := p.Forward(lon, 0)
		assert.InDelta(t, want, xs[i], 1e-6)
	}
	ys, dims := readAll(t, r, 0, "Y")
	assert.Equal(t, []int{3}, dims)
	_, want := p.Forward(0, 31)
	assert.InDelta(t, want, ys[1], 1e-6)

	info := x.Info()
	assert.Equal(t, 0, info.Axis)
	assert.Equal(t, "m", info.Units)
	assert.False(t, info.Uniform)
}

func TestProjectedProductAndInverse(t *testing.T) {
	r := NewRegistry(lonLatConn(t))
	p, err := ParseProjection("+proj=lcc +lat_1=33 +lat_2=45 +lat_0=39 +lon_0=-96")
	require.NoError(t, err)

	for comp, name := range []string{"X", "Y"} {
		v, err := NewProjected(r, name, p, "lon", "lat", comp, false)
		require.NoError(t, err)
		require.NoError(t, r.Add(v))
	}
	xs, dims := readAll(t, r, 0, "X")
	require.Equal(t, []int{4, 3}, dims)
	wantX, _ := p.Forward(-98, 32)
	assert.InDelta(t, wantX, xs[2*4+2], 1e-6)

	inv, err := NewProjected(r, "LON", p, "X", "Y", 0, true)
	require.NoError(t, err)
	require.NoError(t, r.Add(inv))
	lons, dims := readAll(t, r, 0, "LON")
	require.Equal(t, []int{4, 3}, dims)
	for j := 0; j < 3; j++ {
		for i, lon := range []float64{-100, -99, -98, -97} {
			assert.InDelta(t, lon, lons[j*4+i], 1e-6)
		}
	}
	assert.Equal(t, "degrees_east", inv.Info().Units)
}

func TestProjectLonLat(t *testing.T) {
	r := NewRegistry(lonLatConn(t))
	p, err := ParseProjection("+proj=stere +lat_0=90 +lon_0=-100")
	require.NoError(t, err)
	require.NoError(t, r.ProjectLonLat(p))
	require.NoError(t, r.ProjectLonLat(p))

	info, err := r.GetBaseVarInfo("sst")
	require.NoError(t, err)
	assert.Equal(t, []string{"lon_X", "lat_Y"}, info.CoordVars)

	xi, err := r.GetBaseVarInfo("lon_X")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, xi.DimNames)
	assert.Equal(t, []bool{false, false}, xi.Periodic)
}
