package engine

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/fieldcache/fieldcache/internal/buffer"
	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/internal/gridfactory"
	"github.com/fieldcache/fieldcache/pkg/retry"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

const (
	defaultCacheBytes = 512 << 20
	defaultAuxEntries = 10

	// loadAttempts bounds how often a freshly loaded region may be evicted
	// by concurrent allocations before its requester gets to lock it.
	loadAttempts = 3
)

// Engine serves variables of a DataConnector as grids, keeping decoded
// regions in a bounded block pool. All methods are safe for concurrent use.
type Engine struct {
	id string
	dc types.DataConnector

	pool    *buffer.BlockPool
	regions *cache.RegionIndex[*regionData]
	factory *gridfactory.Factory
	loads   singleflight.Group
	decode  *semaphore.Weighted
	retry   *retry.Retryer

	meta      *ttlcache.Cache[string, any]
	metaLoads singleflight.Group

	cfg     options
	logger  *zap.Logger
	metrics types.MetricsCollector

	mu     sync.Mutex
	locked map[grid.Grid][]cache.RegionID
}

type options struct {
	cacheBytes    int64
	numThreads    int
	order         int
	auxEntries    int
	policy        cache.Policy
	metadataTTL   time.Duration
	lockByDefault bool
	readRetry     retry.Config
	logger        *zap.Logger
	metrics       types.MetricsCollector
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink. nil disables metrics.
func WithMetrics(m types.MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithCacheBytes bounds the block pool.
func WithCacheBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheBytes = n
		}
	}
}

// WithNumThreads bounds concurrent block decodes across all requests.
func WithNumThreads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.numThreads = n
		}
	}
}

// WithInterpolationOrder sets the order of returned grids, 0 or 1.
func WithInterpolationOrder(order int) Option {
	return func(o *options) { o.order = order }
}

// WithAuxCache sizes and selects the policy of the grid factory caches.
func WithAuxCache(entries int, policy cache.Policy) Option {
	return func(o *options) {
		if entries > 0 {
			o.auxEntries = entries
		}
		o.policy = policy
	}
}

// WithMetadataTTL sets how long extents, data ranges and descriptors stay
// cached. Zero keeps them until Clear.
func WithMetadataTTL(ttl time.Duration) Option {
	return func(o *options) { o.metadataTTL = ttl }
}

// WithReadRetry sets how connector reads failing with retryable errors
// are repeated.
func WithReadRetry(c retry.Config) Option {
	return func(o *options) { o.readRetry = c }
}

// WithLockByDefault makes every GetVariable return a locked grid.
func WithLockByDefault(lock bool) Option {
	return func(o *options) { o.lockByDefault = lock }
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, time.Duration, bool) {}
func (noopMetrics) RecordRegionHit(string)                      {}
func (noopMetrics) RecordRegionMiss(string, int64)              {}
func (noopMetrics) RecordEvictions(int)                         {}
func (noopMetrics) RecordError(string, error)                   {}
func (noopMetrics) UpdatePoolUsage(int64, int64)                {}

// New creates an engine over dc, which is usually a derived.Registry
// layered on a native connector.
func New(dc types.DataConnector, opts ...Option) *Engine {
	cfg := options{
		cacheBytes: defaultCacheBytes,
		numThreads: runtime.GOMAXPROCS(0),
		order:      1,
		auxEntries: defaultAuxEntries,
		policy:     cache.TouchOnQuery,
		readRetry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		id:     uuid.NewString(),
		dc:     dc,
		pool:   buffer.NewBlockPool(cfg.cacheBytes / 8),
		decode: semaphore.NewWeighted(int64(cfg.numThreads)),
		cfg:    cfg,
		locked: make(map[grid.Grid][]cache.RegionID),
	}
	e.logger = utils.OrNop(cfg.logger).Named("engine").With(zap.String("engine_id", e.id))
	e.metrics = cfg.metrics
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}

	rc := cfg.readRetry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.logger.Debug("retrying block read",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	e.retry = retry.New(rc)

	e.regions = cache.NewRegionIndex(e.releaseRegion, func(r *regionData) int64 {
		return int64(len(r.buf)) * 8
	})
	e.factory = gridfactory.New(cfg.auxEntries, cfg.policy, gridfactory.WithLogger(cfg.logger))
	e.meta = ttlcache.New(ttlcache.WithTTL[string, any](cfg.metadataTTL))
	go e.meta.Start()

	e.logger.Info("engine created",
		zap.String("cache_size", utils.FormatBytes(cfg.cacheBytes)),
		zap.Int("num_threads", cfg.numThreads),
		zap.Int("interpolation_order", cfg.order),
		zap.Stringer("aux_policy", cfg.policy))
	return e
}

// ID identifies this engine in logs.
func (e *Engine) ID() string { return e.id }

// Connector returns the connector the engine reads from.
func (e *Engine) Connector() types.DataConnector { return e.dc }

// Close drops every cached region and stops the metadata cache.
func (e *Engine) Close() error {
	e.Clear()
	e.meta.Stop()
	return nil
}

// Request selects a grid. Box takes precedence over VoxelMin/VoxelMax;
// with neither the full domain is returned. Voxel indices refer to the
// corrected level.
type Request struct {
	TS    int
	Name  string
	Level int
	LOD   int

	Box      *grid.Box
	VoxelMin []int
	VoxelMax []int

	// Lock keeps the grid's regions resident until UnlockGrid.
	Lock bool
	// LiftZ presents a 2D grid as 3D at this height.
	LiftZ *float64
}

// GetVariable returns the grid for req. Out-of-range levels and LODs are
// clamped; the effective values are reported by the grid's Level and LOD.
//
// An unlocked grid reads pool memory that later requests may reclaim, so
// it must not be used after the next GetVariable on this engine.
func (e *Engine) GetVariable(ctx context.Context, req Request) (grid.Grid, error) {
	start := time.Now()
	g, err := e.getVariable(ctx, req)
	e.metrics.RecordOperation("get_variable", time.Since(start), err == nil)
	if err != nil {
		e.metrics.RecordError("get_variable", err)
		return nil, err
	}
	return g, nil
}

// UnlockGrid releases the regions held by a locked grid. It reports false
// for grids that are not locked.
func (e *Engine) UnlockGrid(g grid.Grid) bool {
	e.mu.Lock()
	ids, ok := e.locked[g]
	delete(e.locked, g)
	e.mu.Unlock()

	if !ok {
		return false
	}
	e.unlock(ids)
	return true
}

// LockedGrids returns the number of grids awaiting UnlockGrid.
func (e *Engine) LockedGrids() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.locked)
}

// Clear drops every cached region, auxiliary structure and metadata entry.
// Regions of locked grids stay allocated until those grids are unlocked.
func (e *Engine) Clear() {
	n := e.regions.Purge(nil)
	e.factory.Purge()
	e.meta.DeleteAll()
	e.updatePool()
	e.logger.Info("cache cleared", zap.Int("regions", n), zap.Int("orphans", e.regions.Orphans()))
}

// PurgeVariable drops the cached regions and metadata of one variable and
// of every variable that depends on it through its coordinates or, for
// derived variables, its inputs.
func (e *Engine) PurgeVariable(name string) {
	affected := e.dependents(name)
	n := e.regions.Purge(func(k cache.RegionKey) bool { return affected[k.Name] })
	for _, key := range e.meta.Keys() {
		if affected[metaKeyName(key)] {
			e.meta.Delete(key)
		}
	}
	for v := range affected {
		if info, err := e.dc.GetBaseVarInfo(v); err == nil && info.IsCoord() {
			e.factory.Purge()
			break
		}
	}
	e.updatePool()
	e.logger.Info("variable purged",
		zap.String("variable", name),
		zap.Int("dependents", len(affected)-1),
		zap.Int("regions", n))
}

// inputLister is implemented by connectors that compute variables from
// others, such as derived.Registry.
type inputLister interface {
	Inputs(name string) []string
}

// dependents returns name together with every variable whose coordinates
// or inputs reach name, directly or transitively.
func (e *Engine) dependents(name string) map[string]bool {
	out := map[string]bool{name: true}
	deps := make(map[string][]string)
	lister, _ := e.dc.(inputLister)
	for _, v := range slices.Concat(e.dc.GetDataVarNames(), e.dc.GetCoordVarNames()) {
		var d []string
		if info, err := e.dc.GetBaseVarInfo(v); err == nil {
			d = slices.Clone(info.CoordVars)
			if names, _, err := e.coordNames(info); err == nil {
				d = append(d, names...)
			}
		}
		if lister != nil {
			d = append(d, lister.Inputs(v)...)
		}
		deps[v] = d
	}

	for changed := true; changed; {
		changed = false
		for v, d := range deps {
			if !out[v] && slices.ContainsFunc(d, func(s string) bool { return out[s] }) {
				out[v] = true
				changed = true
			}
		}
	}
	return out
}

// Stats is a snapshot of engine resource usage.
type Stats struct {
	ID          string           `json:"id"`
	Regions     types.CacheStats `json:"regions"`
	Orphans     int              `json:"orphans"`
	LockedGrids int              `json:"locked_grids"`
	Pool        buffer.PoolStats `json:"pool"`
	Aux         types.CacheStats `json:"aux"`
	Metadata    ttlcache.Metrics `json:"metadata"`
}

// Stats reports cache and pool usage.
func (e *Engine) Stats() Stats {
	regions := e.regions.Stats()
	regions.Capacity = e.pool.Capacity() * 8
	if regions.Capacity > 0 {
		regions.Utilization = float64(regions.Size) / float64(regions.Capacity)
	}
	return Stats{
		ID:          e.id,
		Regions:     regions,
		Orphans:     e.regions.Orphans(),
		LockedGrids: e.LockedGrids(),
		Pool:        e.pool.Stats(),
		Aux:         e.factory.AuxStats(),
		Metadata:    e.meta.Metrics(),
	}
}

func (e *Engine) unlock(ids []cache.RegionID) {
	for _, id := range ids {
		e.regions.Unlock(id)
	}
	e.updatePool()
}

func (e *Engine) updatePool() {
	e.metrics.UpdatePoolUsage(e.pool.InUse()*8, e.pool.Capacity()*8)
}
