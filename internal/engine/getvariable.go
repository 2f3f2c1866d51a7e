package engine

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/internal/gridfactory"
	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// varShape is a variable resolved at a corrected fidelity.
type varShape struct {
	info  types.VarInfo
	ts    int
	level int
	lod   int
	rank  int
	dims  region.Dims
	bs    region.Dims
}

// resolve corrects level and lod for name and checks the variable exists
// there at time step ts.
func (e *Engine) resolve(ts int, name string, level, lod int) (varShape, error) {
	info, err := e.GetVarInfo(name)
	if err != nil {
		return varShape{}, err
	}

	nl := e.dc.GetNumRefLevels(name)
	cl, lchanged := CorrectLevel(level, nl)
	nlod := len(info.CRatios)
	clod, lodchanged := CorrectLOD(lod, nlod)
	if lchanged || lodchanged {
		e.logger.Debug("fidelity corrected",
			zap.String("variable", name),
			zap.Int("level", level), zap.Int("corrected_level", cl),
			zap.Int("lod", lod), zap.Int("corrected_lod", clod))
	}
	if !info.IsTimeVarying() {
		ts = 0
	}
	if !e.dc.VariableExists(ts, name, cl, clod) {
		return varShape{}, errors.Newf(errors.ErrCodeNotFound, "%s not available at time step %d, level %d, lod %d", name, ts, cl, clod).
			WithComponent("engine")
	}

	dims, bs, err := e.dc.GetDimLensAtLevel(name, cl)
	if err != nil {
		return varShape{}, err
	}
	return varShape{
		info:  info,
		ts:    ts,
		level: cl,
		lod:   clod,
		rank:  len(dims),
		dims:  region.Pad3(dims, 1),
		bs:    region.Pad3(bs, 1),
	}, nil
}

// coordNames returns the coordinate variables of a data variable, taking
// them from its mesh for unstructured variables.
func (e *Engine) coordNames(info types.VarInfo) ([]string, *types.Mesh, error) {
	if info.Mesh == "" {
		return info.CoordVars, nil, nil
	}
	m, err := e.dc.GetMesh(info.Mesh)
	if err != nil {
		return nil, nil, err
	}
	return m.CoordVars, &m, nil
}

// spatialCoords returns the spatial coordinate descriptors of info in axis
// order together with the mesh, if any.
func (e *Engine) spatialCoords(info types.VarInfo) ([]types.VarInfo, *types.Mesh, error) {
	names, mesh, err := e.coordNames(info)
	if err != nil {
		return nil, nil, err
	}
	infos := make([]types.VarInfo, 0, len(names))
	for _, n := range names {
		ci, err := e.GetVarInfo(n)
		if err != nil {
			return nil, nil, err
		}
		infos = append(infos, ci)
	}
	return gridfactory.SpatialCoords(infos), mesh, nil
}

// coordPlan describes how a coordinate variable lines up with a data
// variable: pos[m] is the data axis of the coordinate's m-th dimension.
type coordPlan struct {
	shape varShape
	pos   []int
}

// planCoord resolves coordinate c for data variable v at v's level. The
// coordinate is read at its finest level of detail.
func (e *Engine) planCoord(v varShape, c types.VarInfo) (coordPlan, error) {
	nl := e.dc.GetNumRefLevels(v.info.Name)
	cl := coordLevel(v.level, nl, e.dc.GetNumRefLevels(c.Name))
	cs, err := e.resolve(v.ts, c.Name, cl, -1)
	if err != nil {
		return coordPlan{}, err
	}

	pos := make([]int, len(c.DimNames))
	for m, dn := range c.DimNames {
		p := slices.Index(v.info.DimNames, dn)
		if p < 0 {
			return coordPlan{}, errors.Newf(errors.ErrCodeConstructionFailed, "coordinate %s dimension %s not a dimension of %s", c.Name, dn, v.info.Name).
				WithComponent("engine")
		}
		if cs.dims[m] != v.dims[p] {
			return coordPlan{}, errors.Newf(errors.ErrCodeConstructionFailed, "coordinate %s has %d samples along %s at level %d, %s has %d", c.Name, cs.dims[m], dn, cs.level, v.info.Name, v.dims[p]).
				WithComponent("engine")
		}
		pos[m] = p
	}
	return coordPlan{shape: cs, pos: pos}, nil
}

// project maps a data voxel range onto the coordinate's own axes.
func (p coordPlan) project(vmin, vmax region.Dims) (cmin, cmax region.Dims) {
	for m, a := range p.pos {
		cmin[m], cmax[m] = vmin[a], vmax[a]
	}
	return cmin, cmax
}

func (e *Engine) getVariable(ctx context.Context, req Request) (grid.Grid, error) {
	v, err := e.resolve(req.TS, req.Name, req.Level, req.LOD)
	if err != nil {
		return nil, err
	}

	coords, mesh, err := e.spatialCoords(v.info)
	if err != nil {
		return nil, err
	}
	kind, err := gridfactory.ClassifyTopology(v.info, coords, mesh)
	if err != nil {
		return nil, err
	}
	plans := make([]coordPlan, len(coords))
	for i, c := range coords {
		if plans[i], err = e.planCoord(v, c); err != nil {
			return nil, err
		}
	}

	full := region.Dims{v.dims[0] - 1, v.dims[1] - 1, v.dims[2] - 1}
	vmin, vmax := region.Dims{}, full
	unstructured := kind == grid.KindUnstructured2D || kind == grid.KindUnstructuredLayered
	switch {
	case unstructured:
	case req.Box != nil:
		if vmin, vmax, err = e.boxVoxels(ctx, v, coords, plans, *req.Box); err != nil {
			return nil, err
		}
	case req.VoxelMin != nil || req.VoxelMax != nil:
		vmin, vmax = region.Pad3(req.VoxelMin, 0), region.Pad3(req.VoxelMax, 0)
		if err := region.Validate(vmin, vmax, v.dims); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidArgument, "voxel range of "+v.info.Name).
				WithComponent("engine")
		}
	}
	amin, amax := region.AlignToBlocks(vmin, vmax, v.bs, v.dims)

	var (
		mu   sync.Mutex
		held []cache.RegionID
	)
	hold := func(ref regionRef) {
		mu.Lock()
		held = append(held, ref.id)
		mu.Unlock()
	}

	var data gridfactory.Field
	coordFields := make([]gridfactory.Field, len(coords))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ref, err := e.acquire(gctx, regionKey(v.ts, v.info.Name, v.level, v.lod, amin, amax, v.bs), v.rank)
		if err != nil {
			return err
		}
		hold(ref)
		data = gridfactory.Field{
			Blocks:    grid.SplitBlocks(ref.data.buf, v.bs),
			Dims:      region.Extent(amin, amax),
			BlockSize: v.bs,
		}
		return nil
	})
	for i, p := range plans {
		g.Go(func() error {
			f, ref, err := e.coordField(gctx, p, amin, amax)
			if err != nil {
				return err
			}
			if ref != nil {
				hold(*ref)
			}
			coordFields[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.unlock(held)
		return nil, err
	}

	breq := gridfactory.Request{
		Kind:   kind,
		Data:   data,
		Coords: coordFields,
		Key: gridfactory.AuxKey{
			TS:     coordTS(plans),
			Level:  v.level,
			LOD:    v.lod,
			Coords: gridfactory.CoordKey(coordNamesOf(coords)),
			BMin:   amin,
			BMax:   amax,
		},
	}
	if unstructured {
		conn, err := e.factory.Connectivity(ctx, e.dc, *mesh)
		if err != nil {
			e.unlock(held)
			return nil, err
		}
		breq.Conn = conn
	}

	gr, err := e.factory.Build(breq)
	if err != nil {
		e.unlock(held)
		return nil, err
	}
	if err := e.finish(gr, v, amin, amax); err != nil {
		e.unlock(held)
		return nil, err
	}
	if req.LiftZ != nil {
		gr = gridfactory.Lift(gr, *req.LiftZ)
	}

	if req.Lock || e.cfg.lockByDefault {
		e.mu.Lock()
		e.locked[gr] = held
		e.mu.Unlock()
	} else {
		e.unlock(held)
	}

	e.logger.Debug("grid assembled",
		zap.String("variable", v.info.Name),
		zap.Stringer("kind", gr.Kind()),
		zap.Int("ts", v.ts),
		zap.Int("level", v.level),
		zap.Int("lod", v.lod),
		zap.Ints("min", amin[:v.rank]),
		zap.Ints("max", amax[:v.rank]))
	return gr, nil
}

// finish applies the descriptor-level grid settings.
func (e *Engine) finish(g grid.Grid, v varShape, amin, amax region.Dims) error {
	g.SetMissingValue(v.info.MissingValue)
	g.SetHasMissing(v.info.HasMissing)
	if err := g.SetInterpolationOrder(e.cfg.order); err != nil {
		return err
	}

	// An axis wraps only when the variable is periodic along it and the
	// region covers the whole axis.
	var periodic [3]bool
	for a := 0; a < v.rank && a < 3; a++ {
		periodic[a] = v.info.IsPeriodic(a) && amin[a] == 0 && amax[a] == v.dims[a]-1
	}
	g.SetPeriodic(periodic)
	g.SetFidelity(v.level, v.lod)
	g.SetMinAbs(amin)
	return nil
}

// coordField reads the part of a coordinate that matches the data voxel
// range [amin, amax]. When the coordinate's own blocks line up with that
// range the pool blocks are used directly and the returned ref must be
// held with the grid; otherwise the samples are copied out.
func (e *Engine) coordField(ctx context.Context, p coordPlan, amin, amax region.Dims) (gridfactory.Field, *regionRef, error) {
	cs := p.shape
	cmin, cmax := p.project(amin, amax)
	for m := len(p.pos); m < 3; m++ {
		cmin[m], cmax[m] = 0, 0
	}

	ref, err := e.acquire(ctx, regionKey(cs.ts, cs.info.Name, cs.level, cs.lod, cmin, cmax, cs.bs), cs.rank)
	if err != nil {
		return gridfactory.Field{}, nil, err
	}

	ext := region.Extent(cmin, cmax)
	if ref.data.voxelOrigin() == cmin {
		return gridfactory.Field{
			Blocks:    grid.SplitBlocks(ref.data.buf, cs.bs),
			Dims:      ext,
			BlockSize: cs.bs,
		}, &ref, nil
	}

	dense := ref.data.dense(cmin, cmax)
	e.unlock([]cache.RegionID{ref.id})
	return gridfactory.Field{Blocks: [][]float64{dense}, Dims: ext, BlockSize: ext}, nil, nil
}

func coordTS(plans []coordPlan) int {
	for _, p := range plans {
		if p.shape.info.IsTimeVarying() {
			return p.shape.ts
		}
	}
	return 0
}

func coordNamesOf(coords []types.VarInfo) []string {
	out := make([]string, len(coords))
	for i, c := range coords {
		out[i] = c.Name
	}
	return out
}

// denseCoord reads the whole of a planned coordinate at its level.
func (e *Engine) denseCoord(ctx context.Context, p coordPlan) ([]float64, error) {
	cs := p.shape
	cmax := region.Dims{cs.dims[0] - 1, cs.dims[1] - 1, cs.dims[2] - 1}
	ref, err := e.acquire(ctx, regionKey(cs.ts, cs.info.Name, cs.level, cs.lod, region.Dims{}, cmax, cs.bs), cs.rank)
	if err != nil {
		return nil, err
	}
	defer e.unlock([]cache.RegionID{ref.id})
	return ref.data.dense(region.Dims{}, cmax), nil
}

// boxVoxels finds the smallest voxel range whose nodes cover box, grown by
// one node on each side so cells straddling the box edge are kept. A box
// that contains no node selects the whole domain.
func (e *Engine) boxVoxels(ctx context.Context, v varShape, coords []types.VarInfo, plans []coordPlan, box grid.Box) (vmin, vmax region.Dims, err error) {
	full := region.Dims{v.dims[0] - 1, v.dims[1] - 1, v.dims[2] - 1}
	vals := make([][]float64, len(plans))
	for i, p := range plans {
		if vals[i], err = e.denseCoord(ctx, p); err != nil {
			return vmin, vmax, err
		}
	}

	vmin = full
	found := false
	var idx, ci region.Dims
	for idx[2] = 0; idx[2] < v.dims[2]; idx[2]++ {
		for idx[1] = 0; idx[1] < v.dims[1]; idx[1]++ {
			for idx[0] = 0; idx[0] < v.dims[0]; idx[0]++ {
				inside := true
				for i, p := range plans {
					ci = region.Dims{}
					for m, a := range p.pos {
						ci[m] = idx[a]
					}
					d := p.shape.dims
					x := vals[i][(ci[2]*d[1]+ci[1])*d[0]+ci[0]]
					axis := coords[i].Axis
					if x < box.Min[axis] || x > box.Max[axis] {
						inside = false
						break
					}
				}
				if !inside {
					continue
				}
				found = true
				for a := 0; a < 3; a++ {
					vmin[a] = min(vmin[a], idx[a])
					vmax[a] = max(vmax[a], idx[a])
				}
			}
		}
	}
	if !found {
		e.logger.Debug("box selects no node, using full domain", zap.String("variable", v.info.Name))
		return region.Dims{}, full, nil
	}
	for a := 0; a < 3; a++ {
		vmin[a] = max(0, vmin[a]-1)
		vmax[a] = min(full[a], vmax[a]+1)
	}
	return vmin, vmax, nil
}
