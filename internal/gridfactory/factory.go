package gridfactory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

// Field is a set of decoded blocks covering a block-aligned region. The
// first sample of the first block is the region origin.
type Field struct {
	Blocks    [][]float64
	Dims      grid.Index
	BlockSize grid.Index
}

func (f Field) array(what string) (*grid.BlockArray, error) {
	a, err := grid.NewBlockArray(f.Blocks, f.Dims, f.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConstructionFailed, what).
			WithComponent("gridfactory").
			WithOperation("build")
	}
	return a, nil
}

// Connectivity holds the unstructured mesh arrays of a variable.
type Connectivity struct {
	FaceNodes       []int
	NodeFaces       []int
	FaceFaces       []int
	MaxNodesPerFace int
	MaxFacesPerNode int
}

// AuxKey identifies an auxiliary structure derived from coordinates.
type AuxKey struct {
	Kind   grid.Kind
	TS     int
	Level  int
	LOD    int
	Coords string
	BMin   [3]int
	BMax   [3]int
}

// CoordKey joins coordinate names into the Coords field of an AuxKey.
func CoordKey(names []string) string {
	return strings.Join(names, ",")
}

// Request carries everything Build needs for one grid. Coords are in axis
// order. Conn is required for unstructured kinds.
type Request struct {
	Kind   grid.Kind
	Data   Field
	Coords []Field
	Conn   *Connectivity
	Key    AuxKey
}

// Factory builds grids and caches the spatial indices and meshes they
// share.
type Factory struct {
	aux    *cache.LRU[AuxKey, any]
	conn   *cache.LRU[string, []int]
	logger *zap.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Factory) {
		f.logger = utils.OrNop(l).Named("gridfactory")
	}
}

// New creates a factory whose auxiliary caches hold auxEntries entries each.
func New(auxEntries int, policy cache.Policy, opts ...Option) *Factory {
	f := &Factory{
		aux:    cache.NewLRU[AuxKey, any](auxEntries, policy),
		conn:   cache.NewLRU[string, []int](auxEntries, policy),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Purge drops all cached auxiliary structures.
func (f *Factory) Purge() {
	f.aux.Purge()
	f.conn.Purge()
}

// AuxStats reports the auxiliary structure cache counters.
func (f *Factory) AuxStats() types.CacheStats {
	return f.aux.Stats()
}

// Connectivity reads the connectivity arrays of mesh, caching each array
// by variable name.
func (f *Factory) Connectivity(ctx context.Context, dc types.DataConnector, mesh types.Mesh) (*Connectivity, error) {
	read := func(name string, required bool) ([]int, error) {
		if name == "" {
			if required {
				return nil, errors.Newf(errors.ErrCodeConstructionFailed, "mesh %s lacks a required connectivity variable", mesh.Name).
					WithComponent("gridfactory")
			}
			return nil, nil
		}
		if v, ok := f.conn.Query(name); ok {
			return v, nil
		}
		v, err := dc.ReadAuxVariable(ctx, name)
		if err != nil {
			if errors.CodeOf(err) != "" {
				return nil, err
			}
			return nil, errors.Wrap(err, errors.ErrCodeDecodeFailed, "read connectivity "+name).
				WithComponent("gridfactory")
		}
		f.conn.Insert(name, v)
		f.logger.Debug("connectivity loaded", zap.String("mesh", mesh.Name), zap.String("var", name), zap.Int("len", len(v)))
		return v, nil
	}

	fn, err := read(mesh.FaceNodeVar, true)
	if err != nil {
		return nil, err
	}
	nf, err := read(mesh.NodeFaceVar, true)
	if err != nil {
		return nil, err
	}
	ff, err := read(mesh.FaceFaceVar, false)
	if err != nil {
		return nil, err
	}
	return &Connectivity{
		FaceNodes:       fn,
		NodeFaces:       nf,
		FaceFaces:       ff,
		MaxNodesPerFace: mesh.MaxNodesPerFace,
		MaxFacesPerNode: mesh.MaxFacesPerNode,
	}, nil
}

func constructionError(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeConstructionFailed, format, args...).
		WithComponent("gridfactory").
		WithOperation("build")
}

// Build assembles the grid described by req. Inconsistent block counts,
// dimensions or coordinate shapes fail with CONSTRUCTION_FAILED.
func (f *Factory) Build(req Request) (grid.Grid, error) {
	vals, err := req.Data.array("data blocks")
	if err != nil {
		return nil, err
	}
	dims := vals.Dims()

	coords := make([]*grid.BlockArray, len(req.Coords))
	for i, c := range req.Coords {
		if coords[i], err = c.array("coordinate blocks"); err != nil {
			return nil, err
		}
	}

	switch req.Kind {
	case grid.KindRegular, grid.KindStretched:
		lines := make([][]float64, len(coords))
		for i, c := range coords {
			if err := checkLine(c, dims[i], i); err != nil {
				return nil, err
			}
			lines[i] = line(c)
		}
		if req.Kind == grid.KindRegular && increasing(lines) {
			var minu, maxu grid.Coord
			for i, l := range lines {
				minu[i], maxu[i] = l[0], l[len(l)-1]
			}
			return built(grid.NewRegular(vals, len(lines), minu, maxu))
		}
		return built(grid.NewStretched(vals, lines...))

	case grid.KindLayered:
		if len(coords) != 3 {
			return nil, constructionError("layered grid needs 3 coordinates, got %d", len(coords))
		}
		for i := 0; i < 2; i++ {
			if err := checkLine(coords[i], dims[i], i); err != nil {
				return nil, err
			}
		}
		x, y := line(coords[0]), line(coords[1])
		return built(grid.NewLayered(vals, coords[2],
			[2]float64{x[0], y[0]}, [2]float64{x[len(x)-1], y[len(y)-1]}))

	case grid.KindCurvilinear:
		if len(coords) < 2 || len(coords) > 3 {
			return nil, constructionError("curvilinear grid needs 2 or 3 coordinates, got %d", len(coords))
		}
		var z grid.CurvilinearZ
		if len(coords) == 3 {
			if zd := coords[2].Dims(); zd[1] == 1 && zd[2] == 1 {
				z.Z1D = line(coords[2])
			} else {
				z.Z3D = coords[2]
			}
		}
		key := req.Key
		key.Kind = grid.KindCurvilinear
		key.BMin[2], key.BMax[2] = 0, 0
		var index *grid.CellIndex
		if v, ok := f.aux.Query(key); ok {
			index, _ = v.(*grid.CellIndex)
		}
		g, err := grid.NewCurvilinear(vals, coords[0], coords[1], z, index)
		if err != nil {
			return nil, err
		}
		if index == nil {
			f.aux.Insert(key, g.CellIndex())
			f.logger.Debug("cell index built", zap.String("coords", key.Coords), zap.Int("cells", g.CellIndex().Len()))
		}
		return g, nil

	case grid.KindUnstructured2D, grid.KindUnstructuredLayered:
		if len(coords) < 2 {
			return nil, constructionError("unstructured grid needs node coordinates")
		}
		mesh, err := f.mesh(req, coords[0], coords[1], dims[0])
		if err != nil {
			return nil, err
		}
		if req.Kind == grid.KindUnstructured2D {
			return built(grid.NewUnstructured2D(vals, mesh))
		}
		if len(coords) != 3 {
			return nil, constructionError("layered unstructured grid needs a vertical coordinate")
		}
		return built(grid.NewUnstructuredLayered(vals, coords[2], mesh))
	}

	return nil, errors.Newf(errors.ErrCodeUnsupportedGrid, "cannot build %s grid", req.Kind).
		WithComponent("gridfactory").
		WithOperation("build")
}

func (f *Factory) mesh(req Request, x, y *grid.BlockArray, nnodes int) (*grid.Mesh2D, error) {
	if req.Conn == nil {
		return nil, constructionError("unstructured grid without connectivity")
	}
	if err := checkLine(x, nnodes, 0); err != nil {
		return nil, err
	}
	if err := checkLine(y, nnodes, 1); err != nil {
		return nil, err
	}

	key := req.Key
	key.Kind = grid.KindUnstructured2D
	key.BMin, key.BMax = [3]int{}, [3]int{}
	if v, ok := f.aux.Query(key); ok {
		if m, ok := v.(*grid.Mesh2D); ok && m.NumNodes() == nnodes {
			return m, nil
		}
	}

	m, err := grid.NewMesh2D(grid.MeshConfig{
		X:               line(x),
		Y:               line(y),
		FaceNodes:       req.Conn.FaceNodes,
		NodeFaces:       req.Conn.NodeFaces,
		FaceFaces:       req.Conn.FaceFaces,
		MaxNodesPerFace: req.Conn.MaxNodesPerFace,
		MaxFacesPerNode: req.Conn.MaxFacesPerNode,
	})
	if err != nil {
		return nil, err
	}
	f.aux.Insert(key, m)
	f.logger.Debug("mesh built", zap.String("coords", key.Coords), zap.Int("faces", m.NumFaces()))
	return m, nil
}

// built converts a typed constructor result without leaking a typed nil.
func built[G grid.Grid](g G, err error) (grid.Grid, error) {
	if err != nil {
		return nil, err
	}
	return g, nil
}

func checkLine(c *grid.BlockArray, n, axis int) error {
	d := c.Dims()
	if d[0] != n || d[1] != 1 || d[2] != 1 {
		return constructionError("axis %d coordinate dims %v, want [%d 1 1]", axis, d, n)
	}
	return nil
}

func line(c *grid.BlockArray) []float64 {
	out := make([]float64, c.Dims()[0])
	for i := range out {
		out[i] = c.At(i, 0, 0)
	}
	return out
}

func increasing(lines [][]float64) bool {
	for _, l := range lines {
		if l[len(l)-1] < l[0] {
			return false
		}
	}
	return true
}

// Lift presents a 2D grid as 3D at height z. Grids that are already 3D are
// returned unchanged.
func Lift(g grid.Grid, z float64) grid.Grid {
	if g.GeometryDim() != 2 {
		return g
	}
	return grid.NewLifted2D(g, z)
}

// Constant returns a grid that samples to value everywhere.
func Constant(value float64, geomDim int) grid.Grid {
	return grid.NewConstant(value, geomDim)
}
