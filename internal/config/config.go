package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIELDCACHE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global" envPrefix:"GLOBAL_"`
	Engine     EngineConfig     `yaml:"engine" envPrefix:"ENGINE_"`
	Grid       GridConfig       `yaml:"grid" envPrefix:"GRID_"`
	Derived    DerivedConfig    `yaml:"derived" envPrefix:"DERIVED_"`
	Monitoring MonitoringConfig `yaml:"monitoring" envPrefix:"MONITORING_"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFile   string `yaml:"log_file" env:"LOG_FILE"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

// EngineConfig sizes the variable access engine.
type EngineConfig struct {
	CacheSize          string        `yaml:"cache_size" env:"CACHE_SIZE"`
	NumThreads         int           `yaml:"num_threads" env:"NUM_THREADS"`
	MetadataTTL        time.Duration `yaml:"metadata_ttl" env:"METADATA_TTL"`
	InterpolationOrder int           `yaml:"interpolation_order" env:"INTERPOLATION_ORDER"`
	LockByDefault      bool          `yaml:"lock_by_default" env:"LOCK_BY_DEFAULT"`
	// ReadAttempts bounds attempts at a block read failing with a
	// retryable error; ReadRetryDelay is the first backoff.
	ReadAttempts   int           `yaml:"read_attempts" env:"READ_ATTEMPTS"`
	ReadRetryDelay time.Duration `yaml:"read_retry_delay" env:"READ_RETRY_DELAY"`
}

// GridConfig sizes the grid object caches.
type GridConfig struct {
	AuxCacheEntries    int  `yaml:"aux_cache_entries" env:"AUX_CACHE_ENTRIES"`
	ObjectCacheEntries int  `yaml:"object_cache_entries" env:"OBJECT_CACHE_ENTRIES"`
	TouchOnQuery       bool `yaml:"touch_on_query" env:"TOUCH_ON_QUERY"`
}

// DerivedConfig selects the derived variables registered at startup.
type DerivedConfig struct {
	// Projection is a proj4-style definition; empty disables projected
	// coordinates.
	Projection            string `yaml:"projection" env:"PROJECTION"`
	SynthesizeIndexCoords bool   `yaml:"synthesize_index_coords" env:"SYNTHESIZE_INDEX_COORDS"`
	// TransformVertical evaluates CF parametric vertical coordinates.
	TransformVertical bool    `yaml:"transform_vertical" env:"TRANSFORM_VERTICAL"`
	TimestampVar      string  `yaml:"timestamp_var" env:"TIMESTAMP_VAR"`
	TimeScale         float64 `yaml:"time_scale" env:"TIME_SCALE"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Port      int    `yaml:"port" env:"PORT"`
	Path      string `yaml:"path" env:"PATH"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
		},
		Engine: EngineConfig{
			CacheSize:          "512MB",
			NumThreads:         4,
			MetadataTTL:        5 * time.Minute,
			InterpolationOrder: 1,
			ReadAttempts:       3,
			ReadRetryDelay:     10 * time.Millisecond,
		},
		Grid: GridConfig{
			AuxCacheEntries:    10,
			ObjectCacheEntries: 16,
			TouchOnQuery:       true,
		},
		Derived: DerivedConfig{
			SynthesizeIndexCoords: true,
			TransformVertical:     true,
			TimestampVar:          "Times",
			TimeScale:             1,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Port:      8080,
				Path:      "/metrics",
				Namespace: "fieldcache",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv applies FIELDCACHE_* environment overrides. Unset variables
// leave the current value in place.
func (c *Configuration) LoadFromEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse environment")
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file")
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithComponent("config")
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !slices.Contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if f := c.Global.LogFormat; f != "" && f != "json" && f != "console" {
		return invalid("invalid log_format: %s", f)
	}

	if _, err := c.CacheBytes(); err != nil {
		return err
	}
	if c.Engine.NumThreads <= 0 {
		return invalid("num_threads must be greater than 0")
	}
	if c.Engine.MetadataTTL < 0 {
		return invalid("metadata_ttl must not be negative")
	}
	if c.Engine.ReadAttempts < 0 || c.Engine.ReadRetryDelay < 0 {
		return invalid("read_attempts and read_retry_delay must not be negative")
	}
	if o := c.Engine.InterpolationOrder; o != 0 && o != 1 {
		return invalid("interpolation_order must be 0 or 1, got %d", o)
	}

	if c.Grid.AuxCacheEntries <= 0 {
		return invalid("aux_cache_entries must be greater than 0")
	}
	if c.Grid.ObjectCacheEntries <= 0 {
		return invalid("object_cache_entries must be greater than 0")
	}

	if c.Monitoring.Metrics.Enabled {
		if p := c.Monitoring.Metrics.Port; p <= 0 || p > 65535 {
			return invalid("metrics port %d out of range", p)
		}
		if !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
			return invalid("metrics path %q must start with /", c.Monitoring.Metrics.Path)
		}
	}

	return nil
}

// CacheBytes parses engine.cache_size.
func (c *Configuration) CacheBytes() (int64, error) {
	n, err := utils.ParseBytes(c.Engine.CacheSize)
	if err != nil {
		return 0, invalid("invalid cache_size %q: %v", c.Engine.CacheSize, err)
	}
	if n <= 0 {
		return 0, invalid("cache_size must be greater than 0")
	}
	return n, nil
}

// String renders the configuration as YAML.
func (c *Configuration) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
