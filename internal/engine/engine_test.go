package engine

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcache/fieldcache/internal/connector/memdc"
	"github.com/fieldcache/fieldcache/internal/derived"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/internal/metrics"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/retry"
)

// Full-resolution sample counts of the synthetic data set with the default
// 8x8x4 blocks.
const (
	tempSamples  = 3 * 2 * 3 * 8 * 8 * 4
	coordSamples = 3*8 + 2*8 + 3*4
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memdc.Connector) {
	t.Helper()
	conn, err := memdc.NewSynthetic(memdc.DefaultSyntheticConfig())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	reg := derived.NewRegistry(conn)
	tc, err := derived.NewTimeCoord(context.Background(), conn, "time", "Times", "time", 1)
	require.NoError(t, err)
	require.NoError(t, reg.Add(tc))

	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithNumThreads(4)}, opts...)
	e := New(reg, opts...)
	t.Cleanup(func() { e.Close() })
	return e, conn
}

func get(t *testing.T, e *Engine, req Request) grid.Grid {
	t.Helper()
	g, err := e.GetVariable(context.Background(), req)
	require.NoError(t, err)
	return g
}

func temp(i, j, k, ts int) float64 {
	return memdc.SyntheticValue(float64(i)*memdc.Spacing, float64(j)*memdc.Spacing, float64(k)*memdc.VertSpacing, ts)
}

func samples(g grid.Grid) []float64 {
	d := g.Dims()
	out := make([]float64, 0, d[0]*d[1]*d[2])
	for k := 0; k < d[2]; k++ {
		for j := 0; j < d[1]; j++ {
			for i := 0; i < d[0]; i++ {
				out = append(out, g.AccessIJK(i, j, k))
			}
		}
	}
	return out
}

func TestCorrectLevel(t *testing.T) {
	tests := []struct {
		req, n      int
		want        int
		wantChanged bool
	}{
		{0, 3, 0, false},
		{2, 3, 2, false},
		{-1, 3, 2, false},
		{-3, 3, 0, false},
		{5, 3, 2, true},
		{-7, 3, 0, true},
		{1, 0, 0, true},
	}
	for _, tt := range tests {
		got, changed := CorrectLevel(tt.req, tt.n)
		assert.Equal(t, tt.want, got, "CorrectLevel(%d, %d)", tt.req, tt.n)
		assert.Equal(t, tt.wantChanged, changed, "CorrectLevel(%d, %d) changed", tt.req, tt.n)
	}

	assert.Equal(t, 2, coordLevel(2, 3, 3))
	assert.Equal(t, 0, coordLevel(1, 3, 1))
	assert.Equal(t, 0, coordLevel(0, 3, 2))
	assert.Equal(t, 1, coordLevel(2, 3, 2))
}

func TestGetVariableRegular(t *testing.T) {
	e, _ := newTestEngine(t)

	g := get(t, e, Request{Name: "temp", Level: -1, LOD: -1})
	assert.Equal(t, grid.KindRegular, g.Kind())
	assert.Equal(t, grid.Index{17, 13, 9}, g.Dims())
	assert.Equal(t, 2, g.Level())
	assert.Equal(t, 2, g.LOD())
	assert.Equal(t, temp(3, 2, 1, 0), g.AccessIJK(3, 2, 1))
	assert.InDelta(t, 4.5, g.GetValue(grid.Coord{2500, 1000, 0}), 1e-9)

	lo, hi := g.GetUserExtents()
	assert.Equal(t, grid.Coord{0, 0, 0}, lo)
	assert.Equal(t, grid.Coord{16000, 12000, 800}, hi)
}

func TestFidelityIsClamped(t *testing.T) {
	e, _ := newTestEngine(t)

	g := get(t, e, Request{Name: "temp", Level: 10, LOD: 10})
	assert.Equal(t, 2, g.Level())
	assert.Equal(t, 2, g.LOD())

	g = get(t, e, Request{Name: "temp", Level: -10, LOD: -1})
	assert.Equal(t, 0, g.Level())
	assert.Equal(t, grid.Index{5, 4, 3}, g.Dims())
	// Level 0 keeps every fourth node.
	assert.Equal(t, temp(4, 4, 4, 0), g.AccessIJK(1, 1, 1))
	c, ok := g.GetUserCoordinates(grid.Index{1, 1, 1})
	require.True(t, ok)
	assert.Equal(t, grid.Coord{4000, 4000, 400}, c)
}

func TestGetVariableKinds(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		name string
		want grid.Kind
	}{
		{"temp", grid.KindRegular},
		{"pres", grid.KindStretched},
		{"theta", grid.KindLayered},
		{"swirl", grid.KindCurvilinear},
		{"sst", grid.KindRegular},
		{"eta", grid.KindUnstructured2D},
		{"salt", grid.KindUnstructuredLayered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := get(t, e, Request{Name: tt.name, Level: -1, LOD: -1})
			assert.Equal(t, tt.want, g.Kind())
		})
	}
}

func TestGetVariableUnstructured(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := memdc.DefaultSyntheticConfig()

	g := get(t, e, Request{Name: "eta", Level: -1, LOD: -1})
	assert.Equal(t, grid.Index{cfg.MeshX * cfg.MeshY, 1, 1}, g.Dims())

	x, y := memdc.MeshNode(cfg, 6)
	assert.Equal(t, memdc.SyntheticValue(x, y, 0, 0), g.AccessIJK(6, 0, 0))
	assert.InDelta(t, memdc.SyntheticValue(x, y, 0, 0), g.GetValue(grid.Coord{x, y, 0}), 1e-9)

	// A box never crops an unstructured grid.
	box := &grid.Box{Min: grid.Coord{0, 0, 0}, Max: grid.Coord{1000, 1000, 0}}
	g = get(t, e, Request{Name: "eta", Box: box})
	assert.Equal(t, cfg.MeshX*cfg.MeshY, g.Dims()[0])
}

func TestRegionsAreReused(t *testing.T) {
	e, conn := newTestEngine(t)

	want := samples(get(t, e, Request{TS: 1, Name: "temp", Level: -1, LOD: -1}))
	reads := conn.BlockReads()

	get(t, e, Request{Name: "pres", Level: -1, LOD: -1})
	after := conn.BlockReads()
	assert.Greater(t, after, reads)

	got := samples(get(t, e, Request{TS: 1, Name: "temp", Level: -1, LOD: -1}))
	assert.Equal(t, want, got)
	assert.Equal(t, after, conn.BlockReads(), "second request decoded blocks")
	assert.Equal(t, temp(16, 12, 8, 1), got[len(got)-1])

	st := e.Stats()
	assert.NotZero(t, st.Regions.Hits)
	assert.Zero(t, st.LockedGrids)
}

func TestLockedGridSurvivesPressure(t *testing.T) {
	// Room for one locked grid and one more data region.
	e, _ := newTestEngine(t, WithCacheBytes(int64(2*tempSamples+coordSamples+512)*8))

	g0 := get(t, e, Request{TS: 0, Name: "temp", Level: -1, LOD: -1, Lock: true})
	want := samples(g0)
	require.Equal(t, 1, e.LockedGrids())

	for ts := 1; ts < 3; ts++ {
		g := get(t, e, Request{TS: ts, Name: "temp", Level: -1, LOD: -1})
		assert.Equal(t, temp(5, 5, 5, ts), g.AccessIJK(5, 5, 5))
	}
	assert.Equal(t, want, samples(g0))
	assert.Equal(t, temp(16, 12, 8, 0), g0.AccessIJK(16, 12, 8))

	assert.True(t, e.UnlockGrid(g0))
	assert.False(t, e.UnlockGrid(g0))
	assert.Equal(t, 0, e.LockedGrids())
}

func TestCacheExhausted(t *testing.T) {
	e, _ := newTestEngine(t, WithCacheBytes(int64(tempSamples+coordSamples+512)*8))

	g0 := get(t, e, Request{TS: 0, Name: "temp", Level: -1, LOD: -1, Lock: true})
	inUse := e.Stats().Pool.InUse

	_, err := e.GetVariable(context.Background(), Request{TS: 1, Name: "temp", Level: -1, LOD: -1})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCacheExhausted, errors.CodeOf(err))
	assert.Equal(t, inUse, e.Stats().Pool.InUse, "failed request leaked pool memory")

	require.True(t, e.UnlockGrid(g0))
	g1 := get(t, e, Request{TS: 1, Name: "temp", Level: -1, LOD: -1})
	assert.Equal(t, temp(1, 2, 3, 1), g1.AccessIJK(1, 2, 3))
}

func TestConcurrentGetVariable(t *testing.T) {
	e, _ := newTestEngine(t, WithCacheBytes(int64(4*tempSamples+4096)*8))

	var g errgroup.Group
	for n := 0; n < 16; n++ {
		ts := n % 3
		g.Go(func() error {
			gr, err := e.GetVariable(context.Background(), Request{TS: ts, Name: "temp", Level: -1, LOD: -1, Lock: true})
			if err != nil {
				return err
			}
			defer e.UnlockGrid(gr)
			if got, want := gr.AccessIJK(7, 6, 5), temp(7, 6, 5, ts); got != want {
				return stderrors.New("unexpected sample")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, e.LockedGrids())
	assert.Equal(t, 0, e.Stats().Orphans)
}

func TestDecodeFailure(t *testing.T) {
	e, conn := newTestEngine(t)
	require.NoError(t, conn.Corrupt("temp", 2))

	_, err := e.GetVariable(context.Background(), Request{TS: 2, Name: "temp", Level: -1, LOD: -1})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))
	assert.Equal(t, 0, e.LockedGrids())

	conn.SetFault(func(ts int, name string, level, lod int) error {
		if name == "pres" {
			return stderrors.New("device gone")
		}
		return nil
	})
	_, err = e.GetVariable(context.Background(), Request{Name: "pres"})
	assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))

	// Other variables and time steps are unaffected.
	g := get(t, e, Request{TS: 0, Name: "temp", Level: -1, LOD: -1})
	assert.Equal(t, temp(2, 2, 2, 0), g.AccessIJK(2, 2, 2))
}

func TestTransientReadIsRetried(t *testing.T) {
	e, conn := newTestEngine(t, WithReadRetry(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}))

	var failures atomic.Int32
	conn.SetFault(func(ts int, name string, level, lod int) error {
		if name == "pres" && failures.Add(1) <= 2 {
			return errors.NewError(errors.ErrCodeDecodeFailed, "busy").WithRetryable(true)
		}
		return nil
	})
	g := get(t, e, Request{Name: "pres", Level: -1, LOD: -1})
	assert.Equal(t, memdc.SyntheticValue(3*memdc.Spacing, 0, 0, 0), g.AccessIJK(3, 0, 0))

	var calls atomic.Int32
	conn.SetFault(func(ts int, name string, level, lod int) error {
		if name == "theta" {
			calls.Add(1)
			return errors.NewError(errors.ErrCodeDecodeFailed, "busy").WithRetryable(true)
		}
		return nil
	})
	_, err := e.GetVariable(context.Background(), Request{Name: "theta", Level: -1, LOD: -1})
	assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
	assert.Equal(t, 0, e.LockedGrids())
}

func TestBoxRequest(t *testing.T) {
	e, _ := newTestEngine(t)

	box := &grid.Box{Min: grid.Coord{10000, 0, 0}, Max: grid.Coord{12000, 1000, 100}}
	g := get(t, e, Request{Name: "temp", Level: -1, LOD: -1, Box: box})
	assert.Equal(t, grid.Index{8, 0, 0}, g.MinAbs())
	assert.Equal(t, grid.Index{8, 8, 4}, g.Dims())
	assert.Equal(t, temp(8, 0, 0, 0), g.AccessIJK(0, 0, 0))
	assert.InDelta(t, 10.5, g.GetValue(grid.Coord{10500, 0, 0}), 1e-9)
	assert.True(t, g.InsideGrid(grid.Coord{11000, 500, 50}))
	assert.False(t, g.InsideGrid(grid.Coord{1000, 500, 50}))

	// A box that holds no node selects the whole domain.
	far := &grid.Box{Min: grid.Coord{1e9, 1e9, 1e9}, Max: grid.Coord{2e9, 2e9, 2e9}}
	g = get(t, e, Request{Name: "temp", Level: -1, LOD: -1, Box: far})
	assert.Equal(t, grid.Index{17, 13, 9}, g.Dims())
}

func TestVoxelRequest(t *testing.T) {
	e, _ := newTestEngine(t)

	g := get(t, e, Request{Name: "temp", Level: -1, LOD: -1, VoxelMin: []int{9, 0, 0}, VoxelMax: []int{10, 1, 1}})
	assert.Equal(t, grid.Index{8, 0, 0}, g.MinAbs())
	assert.Equal(t, grid.Index{8, 8, 4}, g.Dims())
	assert.Equal(t, temp(9, 1, 1, 0), g.AccessIJK(1, 1, 1))

	// The last block is clipped to the domain.
	g = get(t, e, Request{Name: "temp", Level: -1, LOD: -1, VoxelMin: []int{16, 12, 8}, VoxelMax: []int{16, 12, 8}})
	assert.Equal(t, grid.Index{16, 8, 8}, g.MinAbs())
	assert.Equal(t, grid.Index{1, 5, 1}, g.Dims())

	_, err := e.GetVariable(context.Background(), Request{Name: "temp", Level: -1, VoxelMin: []int{0, 0, 0}, VoxelMax: []int{20, 0, 0}})
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.CodeOf(err))
}

func TestPeriodicOnlyOnFullAxis(t *testing.T) {
	e, _ := newTestEngine(t)

	g := get(t, e, Request{Name: "sst", Level: -1})
	assert.Equal(t, [3]bool{true, false, false}, g.Periodic())

	g = get(t, e, Request{Name: "sst", Level: -1, VoxelMin: []int{0, 0}, VoxelMax: []int{3, 3}})
	assert.Equal(t, [3]bool{false, false, false}, g.Periodic())
}

func TestNodeValuesAreExact(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, name := range []string{"temp", "pres", "theta", "swirl", "sst", "eta", "salt"} {
		for _, level := range []int{-1, 0, 1} {
			g := get(t, e, Request{Name: name, Level: level, LOD: -1})
			for _, order := range []int{0, 1} {
				require.NoError(t, g.SetInterpolationOrder(order))
				bad := 0
				for idx, c := range g.Nodes(nil) {
					if g.GetValue(c) != g.AccessIndex(idx) {
						bad++
					}
				}
				assert.Zero(t, bad, "%s level %d order %d", name, level, order)
			}
		}
	}
}

func TestParametricVerticalCoordinate(t *testing.T) {
	e, _ := newTestEngine(t)
	nz := memdc.DefaultSyntheticConfig().NZ

	g := get(t, e, Request{Name: "rho", Level: -1, LOD: -1})
	assert.Equal(t, grid.KindStretched, g.Kind(), "s levels are dimensionless")

	reg := e.Connector().(*derived.Registry)
	require.NoError(t, reg.TransformVertical())
	e.PurgeVariable("rho")

	for level, shift := range map[int]int{-1: 0, 1: 1} {
		g := get(t, e, Request{Name: "rho", Level: level, LOD: -1})
		require.Equal(t, grid.KindLayered, g.Kind())
		n := 0
		for idx, c := range g.Nodes(nil) {
			i, j, k := idx[0]<<shift, idx[1]<<shift, idx[2]<<shift
			assert.InDelta(t, memdc.OceanZ(i, j, k, nz), c[2], 1e-9, "node %v level %d", idx, level)
			assert.InDelta(t, g.AccessIndex(idx), g.GetValue(c), 1e-9, "node %v level %d", idx, level)
			n++
		}
		d := g.Dims()
		assert.Equal(t, d[0]*d[1]*d[2], n)
	}

	info, err := e.GetVarInfo("rho")
	require.NoError(t, err)
	assert.Equal(t, []string{"xc", "yc", "Z_s_rho"}, info.CoordVars)
}

func TestMissingValues(t *testing.T) {
	e, _ := newTestEngine(t)

	g := get(t, e, Request{Name: "pres", Level: -1})
	assert.True(t, g.HasMissing())
	assert.Equal(t, memdc.Missing, g.MissingValue())
	assert.Equal(t, memdc.Missing, g.AccessIJK(0, 0, 0))

	lo, hi, err := e.GetDataRange(context.Background(), 0, "pres", -1, -1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 16+2*12+3*memdc.StretchedZ(8)/memdc.VertSpacing, hi)
}

func TestExtents(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	lo, hi, err := e.GetVariableExtents(ctx, 0, "temp", -1)
	require.NoError(t, err)
	assert.Equal(t, grid.Coord{0, 0, 0}, lo)
	assert.Equal(t, grid.Coord{16000, 12000, 800}, hi)

	lo, hi, err = e.GetVariableExtents(ctx, 0, "sst", 0)
	require.NoError(t, err)
	assert.Equal(t, grid.Coord{-120, 30, 0}, lo)
	assert.Equal(t, grid.Coord{-112, 36, 0}, hi)

	cfg := memdc.DefaultSyntheticConfig()
	_, hi, err = e.GetVariableExtents(ctx, 0, "eta", 0)
	require.NoError(t, err)
	assert.Equal(t, grid.Coord{float64(cfg.MeshX-1) * memdc.Spacing, float64(cfg.MeshY-1) * memdc.Spacing, 0}, hi)

	_, _, err = e.GetVariableExtents(ctx, 0, "nope", 0)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestTimeCoordinates(t *testing.T) {
	e, _ := newTestEngine(t)

	times, err := e.GetTimeCoordinates(context.Background())
	require.NoError(t, err)
	require.Len(t, times, 3)
	assert.Equal(t, 1704067200.0, times[0])
	assert.Equal(t, 3600.0, times[2]-times[1])

	assert.True(t, e.IsTimeVarying("temp"))
	assert.False(t, e.IsTimeVarying("pres"))
	assert.Equal(t, 3, e.GetNumTimeSteps("temp"))
}

func TestIntrospection(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Contains(t, e.GetDataVarNames(), "temp")
	assert.Contains(t, e.GetCoordVarNames(), "time")
	assert.Equal(t, 3, e.GetNumRefLevels("temp"))
	assert.Equal(t, []int{16, 4, 1}, e.GetCRatios("temp"))

	dims, bs, err := e.GetDimLensAtLevel("temp", 99)
	require.NoError(t, err)
	assert.Equal(t, []int{17, 13, 9}, dims)
	assert.Equal(t, []int{8, 8, 4}, bs)

	info, err := e.GetVarInfo("temp")
	require.NoError(t, err)
	info.DimNames[0] = "changed"
	again, err := e.GetVarInfo("temp")
	require.NoError(t, err)
	assert.Equal(t, "x", again.DimNames[0])

	assert.True(t, e.VariableExists(0, "temp", 0, 0))
	assert.False(t, e.VariableExists(0, "temp", 3, 0))
}

func TestGetVariableNotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.GetVariable(context.Background(), Request{Name: "nope"})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	// Beyond the last time step.
	_, err = e.GetVariable(context.Background(), Request{TS: 7, Name: "temp"})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestClearKeepsLockedGrids(t *testing.T) {
	e, _ := newTestEngine(t)

	g := get(t, e, Request{Name: "temp", Level: -1, LOD: -1, Lock: true})
	want := samples(g)

	e.Clear()
	st := e.Stats()
	assert.NotZero(t, st.Orphans)
	assert.Equal(t, 0, st.Regions.Locked)
	assert.Equal(t, want, samples(g))

	require.True(t, e.UnlockGrid(g))
	st = e.Stats()
	assert.Equal(t, 0, st.Orphans)
	assert.Equal(t, int64(0), st.Pool.InUse)
}

func TestPurgeVariable(t *testing.T) {
	e, conn := newTestEngine(t)
	ctx := context.Background()

	get(t, e, Request{Name: "pres", Level: -1})
	_, _, err := e.GetDataRange(ctx, 0, "pres", -1, -1)
	require.NoError(t, err)
	get(t, e, Request{Name: "temp", Level: -1, LOD: -1})

	e.PurgeVariable("pres")
	for _, key := range e.meta.Keys() {
		assert.NotEqual(t, "pres", metaKeyName(key))
	}

	reads := conn.BlockReads()
	get(t, e, Request{Name: "temp", Level: -1, LOD: -1})
	assert.Equal(t, reads, conn.BlockReads(), "temp was purged with pres")
	get(t, e, Request{Name: "pres", Level: -1})
	assert.Greater(t, conn.BlockReads(), reads)
}

func TestPurgeVariableDropsDependents(t *testing.T) {
	e, conn := newTestEngine(t)
	ctx := context.Background()
	reg := e.Connector().(*derived.Registry)

	merc, err := derived.ParseProjection("+proj=merc")
	require.NoError(t, err)
	require.NoError(t, reg.ProjectLonLat(merc))

	lo, hi, err := e.GetVariableExtents(ctx, 0, "sst", -1)
	require.NoError(t, err)
	_, _, err = e.GetDataRange(ctx, 0, "sst", -1, -1)
	require.NoError(t, err)

	// Redefine the projected coordinates.
	eqc, err := derived.ParseProjection("+proj=eqc +R=1000")
	require.NoError(t, err)
	for comp, name := range []string{"lon_X", "lat_Y"} {
		require.True(t, reg.Remove(name))
		p, err := derived.NewProjected(reg, name, eqc, "lon", "lat", comp, false)
		require.NoError(t, err)
		require.NoError(t, reg.Add(p))
		e.PurgeVariable(name)
	}
	for _, key := range e.meta.Keys() {
		assert.NotEqual(t, "sst", metaKeyName(key), key)
	}

	lo2, hi2, err := e.GetVariableExtents(ctx, 0, "sst", -1)
	require.NoError(t, err)
	assert.NotEqual(t, lo, lo2)
	assert.NotEqual(t, hi, hi2)

	g := get(t, e, Request{Name: "sst", Level: -1})
	glo, ghi := g.GetUserExtents()
	assert.InDeltaSlice(t, glo[:2], lo2[:2], 1e-6)
	assert.InDeltaSlice(t, ghi[:2], hi2[:2], 1e-6)

	// Variables that do not use the projected coordinates stay cached.
	get(t, e, Request{Name: "temp", Level: -1, LOD: -1})
	reads := conn.BlockReads()
	e.PurgeVariable("lon_X")
	get(t, e, Request{Name: "temp", Level: -1, LOD: -1})
	assert.Equal(t, reads, conn.BlockReads())
}

func TestLiftZ(t *testing.T) {
	e, _ := newTestEngine(t)

	z := 50.0
	g := get(t, e, Request{Name: "swirl", Level: -1, LiftZ: &z, Lock: true})
	assert.Equal(t, grid.KindLifted2D, g.Kind())
	assert.Equal(t, 3, g.GeometryDim())
	assert.True(t, e.UnlockGrid(g))

	// Already 3D grids are returned unchanged.
	g = get(t, e, Request{Name: "temp", Level: -1, LiftZ: &z})
	assert.Equal(t, grid.KindRegular, g.Kind())
}

func TestLockByDefault(t *testing.T) {
	e, _ := newTestEngine(t, WithLockByDefault(true))

	g := get(t, e, Request{Name: "temp"})
	assert.Equal(t, 1, e.LockedGrids())
	assert.NotZero(t, e.Stats().Regions.Locked)
	assert.True(t, e.UnlockGrid(g))
	assert.Zero(t, e.Stats().Regions.Locked)
}

func TestInterpolationOrder(t *testing.T) {
	e, _ := newTestEngine(t, WithInterpolationOrder(0))
	g := get(t, e, Request{Name: "temp", Level: -1, LOD: -1})
	assert.Equal(t, 0, g.InterpolationOrder())

	bad, _ := newTestEngine(t, WithInterpolationOrder(3))
	_, err := bad.GetVariable(context.Background(), Request{Name: "temp"})
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.CodeOf(err))
}

func TestMetricsAreRecorded(t *testing.T) {
	m, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "test", MaxTrackedVariables: 16})
	require.NoError(t, err)
	e, _ := newTestEngine(t, WithMetrics(m))

	get(t, e, Request{Name: "temp", Level: -1, LOD: -1})
	get(t, e, Request{Name: "temp", Level: -1, LOD: -1})

	var found bool
	for _, v := range m.TopVariables(-1) {
		if v.Name == "temp" {
			found = true
			assert.Equal(t, int64(1), v.Misses)
			assert.Equal(t, int64(1), v.Hits)
			assert.Equal(t, int64(tempSamples*8), v.BytesDecoded)
		}
	}
	assert.True(t, found, "temp not tracked")
}
