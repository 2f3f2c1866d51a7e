// Package memdc is an in-memory multiresolution data connector. Variables
// are stored as zstd-compressed blocks, one set per time step, refinement
// level and level of detail.
//
// Refinement level l of an n-sample axis keeps every 2^s-th sample, with
// s = levels-1-l, giving ((n-1)>>s)+1 samples. Level of detail i quantizes
// samples to a step proportional to the i-th compression ratio; a ratio of
// 1 is lossless.
package memdc

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/fieldcache/fieldcache/internal/region"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

const quantSteps = 1 << 20

// Variable is the input to AddVariable.
type Variable struct {
	Info      types.VarInfo
	Dims      []int
	BlockSize []int
	// Levels is the number of refinement levels, at least 1.
	Levels int
	// Steps holds one dense full-resolution array per time step.
	Steps [][]float64
}

// FaultFunc is consulted before every block read. A non-nil return fails
// the read.
type FaultFunc func(ts int, name string, level, lod int) error

type variable struct {
	info      types.VarInfo
	levels    int
	levelDims [][]int
	bs        []int
	// blocks[ts][level][lod][block]
	blocks [][][][][]byte
}

type handle struct {
	v     *variable
	ts    int
	level int
	lod   int
}

func (h *handle) Name() string { return h.v.info.Name }

// Connector implements types.DataConnector and types.TimestampSource.
type Connector struct {
	mu         sync.RWMutex
	vars       map[string]*variable
	dataNames  []string
	coordNames []string
	dims       map[string]types.Dimension
	meshes     map[string]types.Mesh
	aux        map[string][]int
	stamps     map[string][]string
	fault      FaultFunc

	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *zap.Logger

	blockReads atomic.Int64
	auxReads   atomic.Int64
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// New returns an empty connector.
func New(opts ...Option) (*Connector, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	c := &Connector{
		vars:    make(map[string]*variable),
		dims:    make(map[string]types.Dimension),
		meshes:  make(map[string]types.Mesh),
		aux:     make(map[string][]int),
		stamps:  make(map[string][]string),
		encoder: enc,
		decoder: dec,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger).Named("memdc")
	return c, nil
}

// Close releases the codec state.
func (c *Connector) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}

// AddDimension registers a named dimension.
func (c *Connector) AddDimension(name string, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dims[name] = types.Dimension{Name: name, Length: length}
}

// AddMesh registers a mesh description.
func (c *Connector) AddMesh(m types.Mesh) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meshes[m.Name] = m
}

// AddAux registers an integer connectivity array.
func (c *Connector) AddAux(name string, vals []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aux[name] = slices.Clone(vals)
}

// AddTimestamps registers formatted timestamps under name.
func (c *Connector) AddTimestamps(name string, stamps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stamps[name] = slices.Clone(stamps)
}

// SetFault installs a read fault hook. Pass nil to clear it.
func (c *Connector) SetFault(f FaultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = f
}

// Corrupt overwrites every stored block of a variable at one time step
// with bytes that are not a zstd frame.
func (c *Connector) Corrupt(name string, ts int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[name]
	if !ok {
		return notFound(name)
	}
	if ts < 0 || ts >= len(v.blocks) {
		return errors.Newf(errors.ErrCodeInvalidArgument, "%s: time step %d out of range", name, ts)
	}
	for _, lvl := range v.blocks[ts] {
		for _, lod := range lvl {
			for i := range lod {
				lod[i] = []byte("not a zstd frame")
			}
		}
	}
	return nil
}

// BlockReads returns the number of blocks decoded so far.
func (c *Connector) BlockReads() int64 { return c.blockReads.Load() }

// AuxReads returns the number of ReadAuxVariable calls so far.
func (c *Connector) AuxReads() int64 { return c.auxReads.Load() }

// AddVariable encodes a variable at every time step, level and LOD.
func (c *Connector) AddVariable(in Variable) error {
	info := in.Info.Clone()
	rank := len(in.Dims)
	if info.Name == "" {
		return errors.NewError(errors.ErrCodeInvalidArgument, "variable has no name")
	}
	if rank != info.Rank() || len(in.BlockSize) != rank {
		return errors.Newf(errors.ErrCodeInvalidArgument,
			"%s: %d dims, %d block sizes, %d dim names", info.Name, rank, len(in.BlockSize), info.Rank())
	}
	if in.Levels < 1 {
		in.Levels = 1
	}
	if info.Mesh != "" && in.Levels > 1 {
		return errors.Newf(errors.ErrCodeInvalidArgument, "%s: mesh variables have a single level", info.Name)
	}
	if len(info.CRatios) == 0 {
		info.CRatios = []int{1}
	}
	if len(in.Steps) == 0 {
		return errors.Newf(errors.ErrCodeInvalidArgument, "%s: no time steps", info.Name)
	}
	if !info.IsTimeVarying() && len(in.Steps) != 1 {
		return errors.Newf(errors.ErrCodeInvalidArgument, "%s: %d steps for a constant variable", info.Name, len(in.Steps))
	}
	full := region.Pad3(in.Dims, 1)
	for ts, s := range in.Steps {
		if len(s) != region.Product(full) {
			return errors.Newf(errors.ErrCodeInvalidArgument, "%s: step %d has %d samples, want %d",
				info.Name, ts, len(s), region.Product(full))
		}
	}

	v := &variable{info: info, levels: in.Levels, bs: slices.Clone(in.BlockSize)}
	for l := 0; l < in.Levels; l++ {
		v.levelDims = append(v.levelDims, levelDims(in.Dims, in.Levels-1-l))
	}
	v.blocks = make([][][][][]byte, len(in.Steps))
	for ts, s := range in.Steps {
		v.blocks[ts] = make([][][][]byte, in.Levels)
		for l := 0; l < in.Levels; l++ {
			dense := decimate(s, full, in.Levels-1-l)
			v.blocks[ts][l] = make([][][]byte, len(info.CRatios))
			for lod, cr := range info.CRatios {
				q := quantize(dense, cr, info)
				v.blocks[ts][l][lod] = c.encodeBlocks(q, region.Pad3(v.levelDims[l], 1), region.Pad3(v.bs, 1))
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.vars[info.Name]; dup {
		return errors.Newf(errors.ErrCodeDuplicateVariable, "variable %s already defined", info.Name)
	}
	c.vars[info.Name] = v
	if info.IsCoord() {
		c.coordNames = append(c.coordNames, info.Name)
	} else {
		c.dataNames = append(c.dataNames, info.Name)
	}
	for i, d := range info.DimNames {
		if _, ok := c.dims[d]; !ok {
			c.dims[d] = types.Dimension{Name: d, Length: in.Dims[i]}
		}
	}
	if info.IsTimeVarying() {
		if _, ok := c.dims[info.TimeDimName]; !ok {
			c.dims[info.TimeDimName] = types.Dimension{Name: info.TimeDimName, Length: len(in.Steps)}
		}
	}
	c.logger.Debug("variable added",
		zap.String("name", info.Name),
		zap.Ints("dims", in.Dims),
		zap.Int("levels", in.Levels),
		zap.Int("steps", len(in.Steps)))
	return nil
}

func (c *Connector) encodeBlocks(dense []float64, dims, bs region.Dims) [][]byte {
	nb := region.Dims{}
	for i := 0; i < 3; i++ {
		nb[i] = (dims[i] + bs[i] - 1) / bs[i]
	}
	blockLen := region.Product(bs)
	blocked := make([]float64, region.Product(nb)*blockLen)
	region.Block(blocked, dense, dims, bs, nb)

	out := make([][]byte, region.Product(nb))
	raw := make([]byte, blockLen*8)
	for b := range out {
		for i, f := range blocked[b*blockLen : (b+1)*blockLen] {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(f))
		}
		out[b] = c.encoder.EncodeAll(raw, nil)
	}
	return out
}

func levelDims(dims []int, shift int) []int {
	out := make([]int, len(dims))
	for i, n := range dims {
		out[i] = ((n - 1) >> shift) + 1
	}
	return out
}

func decimate(src []float64, full region.Dims, shift int) []float64 {
	if shift == 0 {
		return src
	}
	var d region.Dims
	for i := 0; i < 3; i++ {
		d[i] = ((full[i] - 1) >> shift) + 1
	}
	out := make([]float64, region.Product(d))
	for k := 0; k < d[2]; k++ {
		for j := 0; j < d[1]; j++ {
			for i := 0; i < d[0]; i++ {
				out[(k*d[1]+j)*d[0]+i] = src[((k<<shift)*full[1]+(j<<shift))*full[0]+(i<<shift)]
			}
		}
	}
	return out
}

func quantize(src []float64, cratio int, info types.VarInfo) []float64 {
	if cratio <= 1 {
		return src
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, f := range src {
		if info.HasMissing && f == info.MissingValue {
			continue
		}
		lo, hi = math.Min(lo, f), math.Max(hi, f)
	}
	if !(hi > lo) {
		return src
	}
	step := (hi - lo) * float64(cratio) / quantSteps
	out := make([]float64, len(src))
	for i, f := range src {
		if info.HasMissing && f == info.MissingValue {
			out[i] = f
			continue
		}
		out[i] = lo + math.Round((f-lo)/step)*step
	}
	return out
}

func notFound(name string) error {
	return errors.Newf(errors.ErrCodeNotFound, "variable %s not found", name).WithComponent("memdc")
}

func (c *Connector) lookup(name string) (*variable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	if !ok {
		return nil, notFound(name)
	}
	return v, nil
}

// GetDataVarNames returns data variable names in insertion order.
func (c *Connector) GetDataVarNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.dataNames)
}

// GetCoordVarNames returns coordinate variable names in insertion order.
func (c *Connector) GetCoordVarNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.coordNames)
}

func (c *Connector) GetDimension(name string) (types.Dimension, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.dims[name]
	if !ok {
		return types.Dimension{}, errors.Newf(errors.ErrCodeNotFound, "dimension %s not found", name)
	}
	return d, nil
}

func (c *Connector) GetBaseVarInfo(name string) (types.VarInfo, error) {
	v, err := c.lookup(name)
	if err != nil {
		return types.VarInfo{}, err
	}
	return v.info.Clone(), nil
}

func (c *Connector) GetMesh(name string) (types.Mesh, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.meshes[name]
	if !ok {
		return types.Mesh{}, errors.Newf(errors.ErrCodeNotFound, "mesh %s not found", name)
	}
	return m, nil
}

// GetNumTimeSteps returns 0 for unknown variables.
func (c *Connector) GetNumTimeSteps(name string) int {
	v, err := c.lookup(name)
	if err != nil {
		return 0
	}
	return len(v.blocks)
}

func (c *Connector) GetNumRefLevels(name string) int {
	v, err := c.lookup(name)
	if err != nil {
		return 0
	}
	return v.levels
}

func (c *Connector) GetCRatios(name string) []int {
	v, err := c.lookup(name)
	if err != nil {
		return nil
	}
	return slices.Clone(v.info.CRatios)
}

func (c *Connector) GetDimLensAtLevel(name string, level int) ([]int, []int, error) {
	v, err := c.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	if level < 0 || level >= v.levels {
		return nil, nil, errors.Newf(errors.ErrCodeLevelOutOfRange, "%s: level %d not in [0, %d)", name, level, v.levels)
	}
	return slices.Clone(v.levelDims[level]), slices.Clone(v.bs), nil
}

func (c *Connector) VariableExists(ts int, name string, level, lod int) bool {
	v, err := c.lookup(name)
	if err != nil {
		return false
	}
	return v.valid(ts, level, lod) == nil
}

func (v *variable) valid(ts, level, lod int) error {
	if v.info.IsTimeVarying() && (ts < 0 || ts >= len(v.blocks)) {
		return errors.Newf(errors.ErrCodeNotFound, "%s: time step %d not in [0, %d)", v.info.Name, ts, len(v.blocks))
	}
	if level < 0 || level >= v.levels {
		return errors.Newf(errors.ErrCodeLevelOutOfRange, "%s: level %d not in [0, %d)", v.info.Name, level, v.levels)
	}
	if lod < 0 || lod >= len(v.info.CRatios) {
		return errors.Newf(errors.ErrCodeLODOutOfRange, "%s: lod %d not in [0, %d)", v.info.Name, lod, len(v.info.CRatios))
	}
	return nil
}

// OpenVariableRead validates the request and returns a read handle. Constant
// variables accept any time step.
func (c *Connector) OpenVariableRead(ctx context.Context, ts int, name string, level, lod int) (types.VarHandle, error) {
	v, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := v.valid(ts, level, lod); err != nil {
		return nil, err
	}
	if !v.info.IsTimeVarying() {
		ts = 0
	}
	return &handle{v: v, ts: ts, level: level, lod: lod}, nil
}

// ReadRegionBlock decodes the inclusive block range into out.
func (c *Connector) ReadRegionBlock(ctx context.Context, h types.VarHandle, bmin, bmax []int, out []float64) error {
	hd, ok := h.(*handle)
	if !ok {
		return errors.NewError(errors.ErrCodeInvalidArgument, "foreign variable handle")
	}
	v := hd.v
	c.mu.RLock()
	fault := c.fault
	c.mu.RUnlock()
	if fault != nil {
		if err := fault(hd.ts, v.info.Name, hd.level, hd.lod); err != nil {
			return err
		}
	}

	dims := region.Pad3(v.levelDims[hd.level], 1)
	bs := region.Pad3(v.bs, 1)
	var total region.Dims
	for i := 0; i < 3; i++ {
		total[i] = (dims[i] + bs[i] - 1) / bs[i]
	}
	lo, hi := region.Pad3(bmin, 0), region.Pad3(bmax, 0)
	if err := region.Validate(lo, hi, total); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidArgument, "block range").WithContext("variable", v.info.Name)
	}
	blockLen := region.Product(bs)
	if need := region.BlockedLen(lo, hi, bs); len(out) < need {
		return errors.Newf(errors.ErrCodeInvalidArgument, "%s: buffer holds %d samples, need %d", v.info.Name, len(out), need)
	}

	c.mu.RLock()
	stored := v.blocks[hd.ts][hd.level][hd.lod]
	c.mu.RUnlock()

	n := 0
	raw := make([]byte, 0, blockLen*8)
	for bk := lo[2]; bk <= hi[2]; bk++ {
		for bj := lo[1]; bj <= hi[1]; bj++ {
			for bi := lo[0]; bi <= hi[0]; bi++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				var err error
				raw, err = c.decoder.DecodeAll(stored[(bk*total[1]+bj)*total[0]+bi], raw[:0])
				if err != nil || len(raw) != blockLen*8 {
					if err == nil {
						err = fmt.Errorf("block decodes to %d bytes, want %d", len(raw), blockLen*8)
					}
					c.logger.Warn("block decode failed",
						zap.String("variable", v.info.Name),
						zap.Int("ts", hd.ts),
						zap.Ints("block", []int{bi, bj, bk}),
						zap.Error(err))
					return errors.Wrap(err, errors.ErrCodeDecodeFailed, "decode block").
						WithComponent("memdc").
						WithContext("variable", v.info.Name)
				}
				dst := out[n*blockLen : (n+1)*blockLen]
				for i := range dst {
					dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
				}
				n++
				c.blockReads.Add(1)
			}
		}
	}
	return nil
}

func (c *Connector) CloseVariable(h types.VarHandle) error {
	if _, ok := h.(*handle); !ok {
		return errors.NewError(errors.ErrCodeInvalidArgument, "foreign variable handle")
	}
	return nil
}

func (c *Connector) ReadAuxVariable(ctx context.Context, name string) ([]int, error) {
	c.auxReads.Add(1)
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.aux[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "aux variable %s not found", name)
	}
	return slices.Clone(a), nil
}

// ReadTimestamps implements types.TimestampSource.
func (c *Connector) ReadTimestamps(ctx context.Context, name string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stamps[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "timestamps %s not found", name)
	}
	return slices.Clone(s), nil
}

var (
	_ types.DataConnector   = (*Connector)(nil)
	_ types.TimestampSource = (*Connector)(nil)
)
