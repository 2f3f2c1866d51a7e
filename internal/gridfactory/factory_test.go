package gridfactory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

func field(dims, bs grid.Index, f func(i, j, k int) float64) Field {
	dense := make([]float64, dims[0]*dims[1]*dims[2])
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				dense[(k*dims[1]+j)*dims[0]+i] = f(i, j, k)
			}
		}
	}
	var nb grid.Index
	for i := 0; i < 3; i++ {
		nb[i] = (dims[i] + bs[i] - 1) / bs[i]
	}
	buf := make([]float64, nb[0]*nb[1]*nb[2]*bs[0]*bs[1]*bs[2])
	region.Block(buf, dense, dims, bs, nb)
	return Field{Blocks: grid.SplitBlocks(buf, bs), Dims: dims, BlockSize: bs}
}

func axis(vals ...float64) Field {
	return field(grid.Index{len(vals), 1, 1}, grid.Index{2, 1, 1}, func(i, _, _ int) float64 { return vals[i] })
}

func TestClassifyTopology(t *testing.T) {
	line := func(axis int, uniform bool) types.VarInfo {
		return types.VarInfo{Name: fmt.Sprintf("c%d", axis), DimNames: []string{"d"}, Axis: axis, Uniform: uniform}
	}
	plane := func(axis int) types.VarInfo {
		return types.VarInfo{Name: fmt.Sprintf("p%d", axis), DimNames: []string{"x", "y"}, Axis: axis}
	}
	volume := types.VarInfo{Name: "zz", DimNames: []string{"x", "y", "z"}, Axis: 2}
	timeCoord := types.VarInfo{Name: "time", DimNames: []string{"t"}, Axis: 3}
	data2 := types.VarInfo{Name: "v", DimNames: []string{"x", "y"}, Axis: -1}
	data3 := types.VarInfo{Name: "v", DimNames: []string{"x", "y", "z"}, Axis: -1}

	tests := []struct {
		name   string
		data   types.VarInfo
		coords []types.VarInfo
		want   grid.Kind
		fails  bool
	}{
		{"uniform lines", data2, []types.VarInfo{line(1, true), line(0, true)}, grid.KindRegular, false},
		{"time coordinate ignored", data2, []types.VarInfo{line(0, true), line(1, true), timeCoord}, grid.KindRegular, false},
		{"one stretched axis", data3, []types.VarInfo{line(0, true), line(1, true), line(2, false)}, grid.KindStretched, false},
		{"terrain following", data3, []types.VarInfo{line(0, true), line(1, true), volume}, grid.KindLayered, false},
		{"curvilinear 2D", data2, []types.VarInfo{plane(0), plane(1)}, grid.KindCurvilinear, false},
		{"curvilinear 1D z", data3, []types.VarInfo{plane(0), plane(1), line(2, false)}, grid.KindCurvilinear, false},
		{"curvilinear 3D z", data3, []types.VarInfo{plane(0), plane(1), volume}, grid.KindCurvilinear, false},
		{"stretched horizontal with 3D z", data3, []types.VarInfo{line(0, false), line(1, true), volume}, 0, true},
		{"no coordinates", data2, nil, 0, true},
		{"rank mismatch", data3, []types.VarInfo{line(0, true), line(1, true)}, 0, true},
		{"gap in axes", data2, []types.VarInfo{line(0, true), line(2, true)}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyTopology(tt.data, tt.coords, nil)
			if tt.fails {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyTopologyMesh(t *testing.T) {
	data := types.VarInfo{Name: "eta", DimNames: []string{"nodes"}, Mesh: "m", Axis: -1}
	kind, err := ClassifyTopology(data, nil, &types.Mesh{Name: "m", Type: types.MeshUnstructured2D})
	require.NoError(t, err)
	assert.Equal(t, grid.KindUnstructured2D, kind)

	kind, err = ClassifyTopology(data, nil, &types.Mesh{Name: "m", Type: types.MeshUnstructuredLayered})
	require.NoError(t, err)
	assert.Equal(t, grid.KindUnstructuredLayered, kind)

	_, err = ClassifyTopology(data, nil, nil)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestBuildRegularAndStretched(t *testing.T) {
	f := New(4, cache.InsertionOnly)
	data := field(grid.Index{3, 2, 1}, grid.Index{2, 2, 1}, func(i, j, _ int) float64 { return float64(i + 10*j) })

	g, err := f.Build(Request{Kind: grid.KindRegular, Data: data, Coords: []Field{axis(0, 5, 10), axis(-1, 1)}})
	require.NoError(t, err)
	assert.Equal(t, grid.KindRegular, g.Kind())
	lo, hi := g.GetUserExtents()
	assert.Equal(t, grid.Coord{0, -1}, lo)
	assert.Equal(t, grid.Coord{10, 1}, hi)
	assert.InDelta(t, 6.5, g.GetValue(grid.Coord{7.5, 0}), 1e-12)

	// decreasing uniform axes fall back to explicit coordinates
	g, err = f.Build(Request{Kind: grid.KindRegular, Data: data, Coords: []Field{axis(10, 5, 0), axis(-1, 1)}})
	require.NoError(t, err)
	assert.Equal(t, grid.KindStretched, g.Kind())
	assert.Equal(t, 2.0, g.GetValue(grid.Coord{0, -1}))

	g, err = f.Build(Request{Kind: grid.KindStretched, Data: data, Coords: []Field{axis(0, 1, 4), axis(0, 2)}})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, g.GetValue(grid.Coord{2.5, 0}), 1e-12)
}

func TestBuildRejectsInconsistentInput(t *testing.T) {
	f := New(4, cache.InsertionOnly)
	data := field(grid.Index{3, 2, 1}, grid.Index{2, 2, 1}, func(int, int, int) float64 { return 0 })

	short := data
	short.Blocks = short.Blocks[:1]
	_, err := f.Build(Request{Kind: grid.KindRegular, Data: short, Coords: []Field{axis(0, 1, 2), axis(0, 1)}})
	assert.ErrorIs(t, err, errors.ErrConstruction)

	_, err = f.Build(Request{Kind: grid.KindRegular, Data: data, Coords: []Field{axis(0, 1), axis(0, 1)}})
	assert.ErrorIs(t, err, errors.ErrConstruction)

	_, err = f.Build(Request{Kind: grid.KindLayered, Data: data, Coords: []Field{axis(0, 1, 2)}})
	assert.ErrorIs(t, err, errors.ErrConstruction)

	_, err = f.Build(Request{Kind: grid.KindUnstructured2D, Data: data, Coords: []Field{axis(0, 1, 2), axis(0, 1, 2)}})
	assert.ErrorIs(t, err, errors.ErrConstruction)

	_, err = f.Build(Request{Kind: grid.KindConstant, Data: data})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestBuildLayered(t *testing.T) {
	f := New(4, cache.InsertionOnly)
	dims := grid.Index{3, 2, 4}
	bs := grid.Index{2, 2, 2}
	zf := func(i, j, k int) float64 { return float64(100*k + i + j) }
	g, err := f.Build(Request{
		Kind:   grid.KindLayered,
		Data:   field(dims, bs, zf),
		Coords: []Field{axis(0, 1, 2), axis(0, 1), field(dims, bs, zf)},
	})
	require.NoError(t, err)
	assert.Equal(t, grid.KindLayered, g.Kind())
	assert.InDelta(t, 152.0, g.GetValue(grid.Coord{1, 1, 152}), 1e-9)
}

func TestBuildCurvilinearSharesCellIndex(t *testing.T) {
	f := New(4, cache.TouchOnQuery)
	dims := grid.Index{4, 3, 1}
	bs := grid.Index{2, 2, 1}
	x := field(dims, bs, func(i, j, _ int) float64 { return float64(i) + 0.25*float64(j) })
	y := field(dims, bs, func(_, j, _ int) float64 { return float64(j) })
	req := Request{
		Kind:   grid.KindCurvilinear,
		Data:   field(dims, bs, func(i, j, _ int) float64 { return float64(i * j) }),
		Coords: []Field{x, y},
		Key:    AuxKey{Coords: CoordKey([]string{"lon", "lat"}), BMax: [3]int{1, 1, 0}},
	}

	g1, err := f.Build(req)
	require.NoError(t, err)
	g2, err := f.Build(req)
	require.NoError(t, err)

	c1 := g1.(*grid.Curvilinear).CellIndex()
	assert.Same(t, c1, g2.(*grid.Curvilinear).CellIndex())
	assert.Equal(t, uint64(1), f.AuxStats().Hits)

	req.Key.TS = 1
	g3, err := f.Build(req)
	require.NoError(t, err)
	assert.NotSame(t, c1, g3.(*grid.Curvilinear).CellIndex())

	assert.InDelta(t, 2.0, g1.GetValue(grid.Coord{2.25, 1}), 1e-9)

	f.Purge()
	assert.Equal(t, int64(0), f.AuxStats().Size)
}

func TestBuildCurvilinear3D(t *testing.T) {
	f := New(4, cache.InsertionOnly)
	dims := grid.Index{2, 2, 3}
	bs := grid.Index{2, 2, 2}
	hd := grid.Index{2, 2, 1}
	x := field(hd, bs, func(i, _, _ int) float64 { return float64(i) })
	y := field(hd, bs, func(_, j, _ int) float64 { return float64(j) })
	data := field(dims, bs, func(_, _, k int) float64 { return float64(k) })

	g, err := f.Build(Request{Kind: grid.KindCurvilinear, Data: data, Coords: []Field{x, y, axis(0, 10, 20)}})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, g.GetValue(grid.Coord{0.5, 0.5, 15}), 1e-9)

	z3 := field(dims, bs, func(i, _, k int) float64 { return float64(10*k + i) })
	g, err = f.Build(Request{Kind: grid.KindCurvilinear, Data: data, Coords: []Field{x, y, z3}})
	require.NoError(t, err)
	_, hi := g.GetUserExtents()
	assert.Equal(t, 21.0, hi[2])
}

type auxConnector struct {
	types.DataConnector
	arrays map[string][]int
	reads  int
}

func (c *auxConnector) ReadAuxVariable(_ context.Context, name string) ([]int, error) {
	c.reads++
	v, ok := c.arrays[name]
	if !ok {
		return nil, fmt.Errorf("no variable %s", name)
	}
	return v, nil
}

func TestBuildUnstructured(t *testing.T) {
	dc := &auxConnector{arrays: map[string][]int{
		"face_nodes": {0, 1, 2, 1, 3, 2},
		"node_faces": {0, -1, 0, 1, 0, 1, 1, -1},
	}}
	mesh := types.Mesh{
		Name:            "m",
		Type:            types.MeshUnstructured2D,
		FaceNodeVar:     "face_nodes",
		NodeFaceVar:     "node_faces",
		MaxNodesPerFace: 3,
		MaxFacesPerNode: 2,
	}

	f := New(4, cache.InsertionOnly)
	conn, err := f.Connectivity(context.Background(), dc, mesh)
	require.NoError(t, err)
	_, err = f.Connectivity(context.Background(), dc, mesh)
	require.NoError(t, err)
	assert.Equal(t, 2, dc.reads)
	assert.Nil(t, conn.FaceFaces)

	nodes := grid.Index{4, 1, 1}
	bs := grid.Index{4, 1, 1}
	xs := []float64{0, 1, 0, 1}
	ys := []float64{0, 0, 1, 1}
	req := Request{
		Kind: grid.KindUnstructured2D,
		Data: field(nodes, bs, func(i, _, _ int) float64 { return xs[i] + ys[i] }),
		Coords: []Field{
			field(nodes, bs, func(i, _, _ int) float64 { return xs[i] }),
			field(nodes, bs, func(i, _, _ int) float64 { return ys[i] }),
		},
		Conn: conn,
		Key:  AuxKey{Coords: "x,y"},
	}
	g, err := f.Build(req)
	require.NoError(t, err)
	assert.Equal(t, grid.KindUnstructured2D, g.Kind())
	assert.InDelta(t, 0.75, g.GetValue(grid.Coord{0.25, 0.5}), 1e-12)

	layers := grid.Index{4, 2, 1}
	lreq := req
	lreq.Kind = grid.KindUnstructuredLayered
	lreq.Data = field(layers, grid.Index{4, 2, 1}, func(i, k, _ int) float64 { return xs[i] + float64(k) })
	lreq.Coords = append(lreq.Coords[:2:2], field(layers, grid.Index{4, 2, 1}, func(_, k, _ int) float64 { return float64(k) }))
	lg, err := f.Build(lreq)
	require.NoError(t, err)
	assert.Same(t, g.(*grid.Unstructured2D).Mesh(), lg.(*grid.UnstructuredLayered).Mesh())
	assert.InDelta(t, 1.0, lg.GetValue(grid.Coord{0.5, 0.25, 0.5}), 1e-12)

	_, err = f.Connectivity(context.Background(), dc, types.Mesh{Name: "bad", FaceNodeVar: "missing", NodeFaceVar: "node_faces"})
	assert.ErrorIs(t, err, errors.ErrDecode)
	_, err = f.Connectivity(context.Background(), dc, types.Mesh{Name: "bad"})
	assert.ErrorIs(t, err, errors.ErrConstruction)

	req.Conn = nil
	req.Key.TS = 5
	_, err = f.Build(req)
	assert.ErrorIs(t, err, errors.ErrConstruction)
}

func TestLiftAndConstant(t *testing.T) {
	f := New(2, cache.InsertionOnly)
	data := field(grid.Index{2, 2, 1}, grid.Index{2, 2, 1}, func(i, j, _ int) float64 { return float64(i + j) })
	g, err := f.Build(Request{Kind: grid.KindRegular, Data: data, Coords: []Field{axis(0, 1), axis(0, 1)}})
	require.NoError(t, err)

	lifted := Lift(g, 3)
	assert.Equal(t, grid.KindLifted2D, lifted.Kind())
	assert.Equal(t, 1.0, lifted.GetValue(grid.Coord{0.5, 0.5, 100}))
	assert.Same(t, lifted, Lift(lifted, 7))

	c := Constant(0, 3)
	assert.Equal(t, 0.0, c.GetValue(grid.Coord{1e9, 1e9, 1e9}))
}
