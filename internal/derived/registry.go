// Package derived synthesizes variables that a data store does not hold
// natively: projected coordinates, index ramps, time coordinates decoded
// from timestamps, staggered or unstaggered resamplings, and vertical
// coordinates evaluated from CF formula_terms.
//
// A Registry overlays a native DataConnector. Derived names are resolved
// first; every other request is forwarded to the native connector.
package derived

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

// Var is a synthetic variable. ReadRegion returns the dense, x-fastest
// samples of voxels [min, max] at the given fidelity.
type Var interface {
	Name() string
	Info() types.VarInfo
	Inputs() []string
	NumTimeSteps() int
	NumRefLevels() int
	DimLensAtLevel(level int) (dims, bs []int, err error)
	Exists(ts, level, lod int) bool
	ReadRegion(ctx context.Context, ts, level, lod int, min, max []int) ([]float64, error)
}

// dimensioned is implemented by variables that introduce a dimension.
type dimensioned interface {
	Dimension() types.Dimension
}

// Registry is a DataConnector that serves derived variables and forwards
// everything else to a native connector.
type Registry struct {
	mu     sync.RWMutex
	native types.DataConnector
	vars   map[string]Var
	order  []string
	// coords replaces the coordinate list of native data variables.
	coords map[string][]string
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty registry over native.
func NewRegistry(native types.DataConnector, opts ...Option) *Registry {
	r := &Registry{
		native: native,
		vars:   make(map[string]Var),
		coords: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger).Named("derived")
	return r
}

// Native returns the underlying connector.
func (r *Registry) Native() types.DataConnector { return r.native }

func (r *Registry) nativeHas(name string) bool {
	return slices.Contains(r.native.GetDataVarNames(), name) ||
		slices.Contains(r.native.GetCoordVarNames(), name)
}

// Add registers v. A name already defined natively or by another derived
// variable fails with DUPLICATE_VARIABLE.
func (r *Registry) Add(v Var) error {
	name := v.Name()
	if r.nativeHas(name) {
		return errors.Newf(errors.ErrCodeDuplicateVariable, "%s is a native variable", name).
			WithComponent("derived").WithOperation("add")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.vars[name]; dup {
		return errors.Newf(errors.ErrCodeDuplicateVariable, "%s already registered", name).
			WithComponent("derived").WithOperation("add")
	}
	r.vars[name] = v
	r.order = append(r.order, name)
	r.logger.Debug("derived variable registered", zap.String("name", name), zap.Strings("inputs", v.Inputs()))
	return nil
}

// Remove unregisters name, reporting whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vars[name]; !ok {
		return false
	}
	delete(r.vars, name)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == name })
	return true
}

// Lookup returns the derived variable registered under name.
func (r *Registry) Lookup(name string) (Var, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vars[name]
	return v, ok
}

// Inputs lists the variables name is computed from. Native variables have
// none.
func (r *Registry) Inputs(name string) []string {
	if v, ok := r.Lookup(name); ok {
		return v.Inputs()
	}
	return nil
}

// IsDerived reports whether name is served by the registry.
func (r *Registry) IsDerived(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names lists derived variables in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// SetCoordVars replaces the coordinate list reported for a native data
// variable.
func (r *Registry) SetCoordVars(name string, coords []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coords[name] = slices.Clone(coords)
}

func (r *Registry) names(coord bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, n := range r.order {
		if r.vars[n].Info().IsCoord() == coord {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) GetDataVarNames() []string {
	return append(r.native.GetDataVarNames(), r.names(false)...)
}

func (r *Registry) GetCoordVarNames() []string {
	return append(r.native.GetCoordVarNames(), r.names(true)...)
}

func (r *Registry) GetDimension(name string) (types.Dimension, error) {
	r.mu.RLock()
	for _, n := range r.order {
		if d, ok := r.vars[n].(dimensioned); ok && d.Dimension().Name == name {
			r.mu.RUnlock()
			return d.Dimension(), nil
		}
	}
	r.mu.RUnlock()
	return r.native.GetDimension(name)
}

func (r *Registry) GetBaseVarInfo(name string) (types.VarInfo, error) {
	if v, ok := r.Lookup(name); ok {
		return v.Info(), nil
	}
	info, err := r.native.GetBaseVarInfo(name)
	if err != nil {
		return info, err
	}
	r.mu.RLock()
	if c, ok := r.coords[name]; ok {
		info.CoordVars = slices.Clone(c)
	}
	r.mu.RUnlock()
	return info, nil
}

func (r *Registry) GetMesh(name string) (types.Mesh, error) {
	return r.native.GetMesh(name)
}

func (r *Registry) GetNumTimeSteps(name string) int {
	if v, ok := r.Lookup(name); ok {
		return v.NumTimeSteps()
	}
	return r.native.GetNumTimeSteps(name)
}

func (r *Registry) GetNumRefLevels(name string) int {
	if v, ok := r.Lookup(name); ok {
		return v.NumRefLevels()
	}
	return r.native.GetNumRefLevels(name)
}

func (r *Registry) GetCRatios(name string) []int {
	if v, ok := r.Lookup(name); ok {
		return slices.Clone(v.Info().CRatios)
	}
	return r.native.GetCRatios(name)
}

func (r *Registry) GetDimLensAtLevel(name string, level int) ([]int, []int, error) {
	if v, ok := r.Lookup(name); ok {
		return v.DimLensAtLevel(level)
	}
	return r.native.GetDimLensAtLevel(name, level)
}

// VariableExists consults the derived variable before the native store.
func (r *Registry) VariableExists(ts int, name string, level, lod int) bool {
	if v, ok := r.Lookup(name); ok {
		return v.Exists(ts, level, lod)
	}
	return r.native.VariableExists(ts, name, level, lod)
}

type handle struct {
	v     Var
	ts    int
	level int
	lod   int
}

func (h *handle) Name() string { return h.v.Name() }

func (r *Registry) OpenVariableRead(ctx context.Context, ts int, name string, level, lod int) (types.VarHandle, error) {
	v, ok := r.Lookup(name)
	if !ok {
		return r.native.OpenVariableRead(ctx, ts, name, level, lod)
	}
	if !v.Exists(ts, level, lod) {
		return nil, errors.Newf(errors.ErrCodeNotFound, "%s not available at ts=%d level=%d lod=%d", name, ts, level, lod).
			WithComponent("derived").WithOperation("open")
	}
	return &handle{v: v, ts: ts, level: level, lod: lod}, nil
}

// ReadRegionBlock computes the voxels covered by the block range and
// reblocks them into out.
func (r *Registry) ReadRegionBlock(ctx context.Context, h types.VarHandle, bmin, bmax []int, out []float64) error {
	dh, ok := h.(*handle)
	if !ok {
		return r.native.ReadRegionBlock(ctx, h, bmin, bmax, out)
	}
	dimsl, bsl, err := dh.v.DimLensAtLevel(dh.level)
	if err != nil {
		return err
	}
	rank := len(dimsl)
	dims, bs := region.Pad3(dimsl, 1), region.Pad3(bsl, 1)
	lo, hi := region.Pad3(bmin, 0), region.Pad3(bmax, 0)
	var vmin, vmax region.Dims
	for i := 0; i < 3; i++ {
		vmin[i] = lo[i] * bs[i]
		vmax[i] = min((hi[i]+1)*bs[i], dims[i]) - 1
	}
	if err := region.Validate(vmin, vmax, dims); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidArgument, "block range").WithContext("variable", dh.v.Name())
	}
	nb := region.NumBlocks(lo, hi)
	if need := region.BlockedLen(lo, hi, bs); len(out) < need {
		return errors.Newf(errors.ErrCodeInvalidArgument, "%s: buffer holds %d samples, need %d", dh.v.Name(), len(out), need)
	}

	dense, err := dh.v.ReadRegion(ctx, dh.ts, dh.level, dh.lod, region.Trim(vmin, rank), region.Trim(vmax, rank))
	if err != nil {
		if errors.CodeOf(err) != "" {
			return err
		}
		return errors.Wrap(err, errors.ErrCodeDecodeFailed, "derive "+dh.v.Name()).WithComponent("derived")
	}
	region.Block(out, dense, region.Extent(vmin, vmax), bs, nb)
	return nil
}

func (r *Registry) CloseVariable(h types.VarHandle) error {
	if _, ok := h.(*handle); ok {
		return nil
	}
	return r.native.CloseVariable(h)
}

func (r *Registry) ReadAuxVariable(ctx context.Context, name string) ([]int, error) {
	return r.native.ReadAuxVariable(ctx, name)
}

var _ types.DataConnector = (*Registry)(nil)
