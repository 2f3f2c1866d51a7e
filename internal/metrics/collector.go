package metrics

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Collector exports engine activity to Prometheus and keeps a per-variable
// summary for the CLI.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	regionCounter     *prometheus.CounterVec
	decodeBytes       prometheus.Counter
	evictionCounter   prometheus.Counter
	poolInUse         prometheus.Gauge
	poolCapacity      prometheus.Gauge
	errorCounter      *prometheus.CounterVec

	variables *VariableStats
	lastReset time.Time

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	// MaxTrackedVariables bounds the per-variable summary.
	MaxTrackedVariables int `yaml:"max_tracked_variables"`
}

// DefaultConfig returns the configuration used when NewCollector gets nil.
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		Port:                8080,
		Path:                "/metrics",
		Namespace:           "fieldcache",
		Labels:              make(map[string]string),
		MaxTrackedVariables: 256,
	}
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger used by the HTTP endpoint.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

var _ types.MetricsCollector = (*Collector)(nil)

// NewCollector creates a new metrics collector. A disabled collector accepts
// every call and records nothing.
func NewCollector(config *Config, opts ...Option) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Collector{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.variables = NewVariableStats(config.MaxTrackedVariables)
	c.lastReset = time.Now()

	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to register metrics").
			WithComponent("metrics")
	}

	return c, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool { return c.config.Enabled }

// Registry returns the private Prometheus registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint until Stop is called or ctx is done.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/variables", c.debugVariablesHandler)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to listen for metrics").
			WithComponent("metrics").
			WithDetail("port", c.config.Port)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := c.server
	c.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	c.logger.Info("metrics endpoint started",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", c.config.Path))
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records an engine call and its latency.
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// RecordRegionHit records a request served from a cached region.
func (c *Collector) RecordRegionHit(variable string) {
	if !c.config.Enabled {
		return
	}

	c.regionCounter.With(prometheus.Labels{"type": "hit"}).Inc()
	c.variables.hit(variable)
}

// RecordRegionMiss records a region decoded from the connector.
func (c *Collector) RecordRegionMiss(variable string, bytes int64) {
	if !c.config.Enabled {
		return
	}

	c.regionCounter.With(prometheus.Labels{"type": "miss"}).Inc()
	c.decodeBytes.Add(float64(bytes))
	c.variables.miss(variable, bytes)
}

// RecordEvictions records regions dropped to make room in the pool.
func (c *Collector) RecordEvictions(count int) {
	if !c.config.Enabled || count <= 0 {
		return
	}

	c.evictionCounter.Add(float64(count))
}

// RecordError records an error, labelled with its error code.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"code":      classifyError(err),
	}).Inc()
}

// UpdatePoolUsage records block pool occupancy.
func (c *Collector) UpdatePoolUsage(inUse, capacity int64) {
	if !c.config.Enabled {
		return
	}

	c.poolInUse.Set(float64(inUse))
	c.poolCapacity.Set(float64(capacity))
}

// TopVariables returns the n variables with the most region requests.
func (c *Collector) TopVariables(n int) []VariableSummary {
	if !c.config.Enabled {
		return nil
	}
	return c.variables.Top(n)
}

// ResetMetrics clears the per-variable summary. Prometheus counters are
// monotonic and are left alone.
func (c *Collector) ResetMetrics() {
	if !c.config.Enabled {
		return
	}
	c.variables.Reset()
	c.mu.Lock()
	c.lastReset = time.Now()
	c.mu.Unlock()
}

func (c *Collector) initMetrics() {
	constLabels := prometheus.Labels(c.config.Labels)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of engine operations",
			ConstLabels: constLabels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of engine operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 18), // 100us to ~13s
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	c.regionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "region_requests_total",
			Help:        "Region cache lookups by result",
			ConstLabels: constLabels,
		},
		[]string{"type"},
	)

	c.decodeBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "decode_bytes_total",
			Help:        "Bytes of samples decoded into the block pool",
			ConstLabels: constLabels,
		},
	)

	c.evictionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "region_evictions_total",
			Help:        "Regions evicted from the block pool",
			ConstLabels: constLabels,
		},
	)

	c.poolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "pool_bytes_in_use",
			Help:        "Bytes of the block pool held by regions",
			ConstLabels: constLabels,
		},
	)

	c.poolCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "pool_bytes_capacity",
			Help:        "Capacity of the block pool in bytes",
			ConstLabels: constLabels,
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors by error code",
			ConstLabels: constLabels,
		},
		[]string{"operation", "code"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.regionCounter,
		c.decodeBytes,
		c.evictionCounter,
		c.poolInUse,
		c.poolCapacity,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return "CANCELED"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	default:
		return "OTHER"
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"fieldcache-metrics"}`))
}

func (c *Collector) debugVariablesHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	since := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Region requests since %s\n\n", since.Format(time.RFC3339))
	top := c.TopVariables(50)
	if len(top) == 0 {
		writef("No requests recorded.\n")
		return
	}
	writef("%-24s %10s %10s %10s %12s\n", "Variable", "Requests", "Hits", "Hit rate", "Decoded")
	for _, v := range top {
		writef("%-24s %10d %10d %9.1f%% %12d\n",
			v.Name, v.Requests, v.Hits, 100*v.HitRate, v.BytesDecoded)
	}
}
