package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldcache/fieldcache/internal/cache"
	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/internal/connector/memdc"
	"github.com/fieldcache/fieldcache/internal/derived"
	"github.com/fieldcache/fieldcache/internal/engine"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/internal/metrics"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/retry"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

// Adapter wires a data source, the derived variable registry, the engine
// and the metrics collector together from one configuration.
type Adapter struct {
	sourceURI string
	config    *config.Configuration
	native    types.DataConnector
	logger    *zap.Logger

	mu       sync.Mutex
	started  bool
	conn     *memdc.Connector
	registry *derived.Registry
	engine   *engine.Engine
	metrics  *metrics.Collector
	grids    *cache.LRU[GridKey, grid.Grid]
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger replaces the logger built from the global configuration.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithConnector serves dc instead of the source named by the URI.
func WithConnector(dc types.DataConnector) Option {
	return func(a *Adapter) { a.native = dc }
}

// GridKey identifies a grid held by the adapter's grid cache.
type GridKey struct {
	TS, Level, LOD int
	Name           string
	Box            grid.Box
	HasBox         bool
}

// New creates a new adapter instance
func New(ctx context.Context, sourceURI string, cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	a := &Adapter{sourceURI: sourceURI, config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.native == nil {
		if _, err := parseSourceURI(sourceURI); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid source URI").
				WithComponent("adapter").
				WithContext("uri", sourceURI)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if a.logger == nil {
		l, err := utils.NewLogger(utils.LoggerConfig{
			ServiceName: "fieldcache",
			Level:       cfg.Global.LogLevel,
			Format:      cfg.Global.LogFormat,
			File:        cfg.Global.LogFile,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to build logger").
				WithComponent("adapter")
		}
		a.logger = l
	}
	a.logger = a.logger.Named("adapter")
	return a, nil
}

// Start opens the data source and builds every component.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.NewError(errors.ErrCodeInvalidArgument, "adapter already started").
			WithComponent("adapter")
	}
	cfg := a.config

	a.logger.Info("starting adapter",
		zap.String("source", a.sourceURI),
		zap.String("cache_size", cfg.Engine.CacheSize),
		zap.Int("num_threads", cfg.Engine.NumThreads))

	m, err := metrics.NewCollector(&metrics.Config{
		Enabled:             cfg.Monitoring.Metrics.Enabled,
		Port:                cfg.Monitoring.Metrics.Port,
		Path:                cfg.Monitoring.Metrics.Path,
		Namespace:           cfg.Monitoring.Metrics.Namespace,
		MaxTrackedVariables: metrics.DefaultConfig().MaxTrackedVariables,
	}, metrics.WithLogger(a.logger))
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}

	native := a.native
	if native == nil {
		sc, _ := parseSourceURI(a.sourceURI)
		conn, err := memdc.NewSynthetic(sc, memdc.WithLogger(a.logger))
		if err != nil {
			_ = m.Stop(ctx)
			return err
		}
		a.conn = conn
		native = conn
	}

	reg, err := a.buildRegistry(ctx, native)
	if err != nil {
		a.closeConn()
		_ = m.Stop(ctx)
		return err
	}

	cacheBytes, _ := cfg.CacheBytes()
	policy := cache.InsertionOnly
	if cfg.Grid.TouchOnQuery {
		policy = cache.TouchOnQuery
	}
	eng := engine.New(reg,
		engine.WithLogger(a.logger),
		engine.WithMetrics(m),
		engine.WithCacheBytes(cacheBytes),
		engine.WithNumThreads(cfg.Engine.NumThreads),
		engine.WithInterpolationOrder(cfg.Engine.InterpolationOrder),
		engine.WithAuxCache(cfg.Grid.AuxCacheEntries, policy),
		engine.WithMetadataTTL(cfg.Engine.MetadataTTL),
		engine.WithLockByDefault(cfg.Engine.LockByDefault),
		engine.WithReadRetry(retry.Config{
			MaxAttempts:  cfg.Engine.ReadAttempts,
			InitialDelay: cfg.Engine.ReadRetryDelay,
			Jitter:       true,
		}))

	// Cached grids hold their regions locked; eviction releases them.
	a.grids = cache.NewLRU[GridKey, grid.Grid](cfg.Grid.ObjectCacheEntries, policy,
		cache.WithEvictCallback[GridKey, grid.Grid](func(_ GridKey, g grid.Grid) { eng.UnlockGrid(g) }))

	a.metrics = m
	a.registry = reg
	a.engine = eng
	a.started = true

	a.logger.Info("adapter started",
		zap.String("engine_id", eng.ID()),
		zap.Int("data_vars", len(reg.GetDataVarNames())),
		zap.Int("coord_vars", len(reg.GetCoordVarNames())))
	return nil
}

// buildRegistry layers the configured derived variables over native.
func (a *Adapter) buildRegistry(ctx context.Context, native types.DataConnector) (*derived.Registry, error) {
	cfg := a.config.Derived
	reg := derived.NewRegistry(native, derived.WithLogger(a.logger))

	if cfg.Projection != "" {
		proj, err := derived.ParseProjection(cfg.Projection)
		if err != nil {
			return nil, err
		}
		if err := reg.ProjectLonLat(proj); err != nil {
			return nil, err
		}
	}
	if cfg.TransformVertical {
		if err := reg.TransformVertical(); err != nil {
			return nil, err
		}
	}
	if cfg.SynthesizeIndexCoords {
		if err := reg.SynthesizeIndexCoords(); err != nil {
			return nil, err
		}
	}

	if cfg.TimestampVar != "" {
		src, ok := native.(types.TimestampSource)
		if !ok {
			a.logger.Warn("connector publishes no timestamps", zap.String("timestamp_var", cfg.TimestampVar))
			return reg, nil
		}
		tc, err := derived.NewTimeCoord(ctx, src, "time", cfg.TimestampVar, "time", cfg.TimeScale)
		switch {
		case errors.CodeOf(err) == errors.ErrCodeNotFound:
			a.logger.Warn("timestamps not found", zap.String("timestamp_var", cfg.TimestampVar))
		case err != nil:
			return nil, err
		default:
			if err := reg.Add(tc); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

// Stop releases cached grids, the engine, the metrics endpoint and the
// data source.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return errors.NewError(errors.ErrCodeInvalidArgument, "adapter not started").
			WithComponent("adapter")
	}
	a.logger.Info("stopping adapter")

	a.grids.Purge()
	err := a.engine.Close()
	if serr := a.metrics.Stop(ctx); err == nil {
		err = serr
	}
	a.closeConn()
	a.started = false

	_ = a.logger.Sync()
	return err
}

func (a *Adapter) closeConn() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

// Engine returns the engine, or nil before Start.
func (a *Adapter) Engine() *engine.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// Registry returns the derived variable registry, or nil before Start.
func (a *Adapter) Registry() *derived.Registry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry
}

// Metrics returns the metrics collector, or nil before Start.
func (a *Adapter) Metrics() *metrics.Collector {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// Logger returns the adapter's logger.
func (a *Adapter) Logger() *zap.Logger { return a.logger }

// Grid returns a locked grid for the request, reusing a cached one when the
// same request was served before. Cached grids stay valid until they are
// evicted by newer requests or the adapter stops, so callers must not hold
// them across more than the configured number of distinct requests.
//
// When the engine runs out of pool memory the grid cache is emptied and the
// request retried once.
func (a *Adapter) Grid(ctx context.Context, key GridKey) (grid.Grid, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "adapter not started").
			WithComponent("adapter")
	}

	if g, ok := a.grids.Query(key); ok {
		return g, nil
	}

	req := engine.Request{TS: key.TS, Name: key.Name, Level: key.Level, LOD: key.LOD, Lock: true}
	if key.HasBox {
		box := key.Box
		req.Box = &box
	}
	g, err := a.engine.GetVariable(ctx, req)
	if errors.CodeOf(err) == errors.ErrCodeCacheExhausted && a.grids.Len() > 0 {
		a.logger.Debug("pool exhausted, releasing cached grids", zap.Int("grids", a.grids.Len()))
		a.grids.Purge()
		g, err = a.engine.GetVariable(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	a.grids.Insert(key, g)
	return g, nil
}

// CachedGrids returns the number of grids held by the adapter.
func (a *Adapter) CachedGrids() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grids == nil {
		return 0
	}
	return a.grids.Len()
}

// parseSourceURI validates the source URI format. The only scheme is
// synthetic://, whose query may override the synthetic data set size:
//
//	synthetic://?nx=65&ny=33&nz=17&steps=4&levels=3
func parseSourceURI(uri string) (memdc.SyntheticConfig, error) {
	cfg := memdc.DefaultSyntheticConfig()
	parsed, err := url.Parse(uri)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse URI: %w", err)
	}

	switch parsed.Scheme {
	case "synthetic":
	default:
		return cfg, fmt.Errorf("unsupported source scheme: %q (only synthetic:// supported)", parsed.Scheme)
	}

	fields := map[string]*int{
		"nx": &cfg.NX, "ny": &cfg.NY, "nz": &cfg.NZ,
		"steps": &cfg.Steps, "levels": &cfg.Levels,
		"mesh_x": &cfg.MeshX, "mesh_y": &cfg.MeshY, "layers": &cfg.Layers,
	}
	for name, vals := range parsed.Query() {
		dst, ok := fields[name]
		if !ok {
			return cfg, fmt.Errorf("unknown source parameter %q", name)
		}
		n, err := strconv.Atoi(vals[len(vals)-1])
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("source parameter %s must be a positive integer, got %q", name, vals[len(vals)-1])
		}
		*dst = n
	}
	if cfg.MeshX < 2 || cfg.MeshY < 2 {
		return cfg, fmt.Errorf("mesh needs at least 2x2 nodes")
	}
	return cfg, nil
}
