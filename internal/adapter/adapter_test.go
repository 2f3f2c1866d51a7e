package adapter

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/internal/connector/memdc"
	"github.com/fieldcache/fieldcache/internal/grid"
	"github.com/fieldcache/fieldcache/pkg/errors"
)

func TestParseSourceURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		uri         string
		wantErr     bool
		errContains string
		check       func(memdc.SyntheticConfig) bool
	}{
		{
			name: "default synthetic",
			uri:  "synthetic://",
			check: func(c memdc.SyntheticConfig) bool {
				return c.NX == memdc.DefaultSyntheticConfig().NX
			},
		},
		{
			name: "sized synthetic",
			uri:  "synthetic://?nx=33&ny=9&steps=2",
			check: func(c memdc.SyntheticConfig) bool {
				return c.NX == 33 && c.NY == 9 && c.Steps == 2
			},
		},
		{
			name:        "unknown parameter",
			uri:         "synthetic://?depth=3",
			wantErr:     true,
			errContains: "unknown source parameter",
		},
		{
			name:        "non numeric parameter",
			uri:         "synthetic://?nx=big",
			wantErr:     true,
			errContains: "positive integer",
		},
		{
			name:        "zero parameter",
			uri:         "synthetic://?levels=0",
			wantErr:     true,
			errContains: "positive integer",
		},
		{
			name:        "degenerate mesh",
			uri:         "synthetic://?mesh_x=1",
			wantErr:     true,
			errContains: "2x2",
		},
		{
			name:        "unsupported scheme",
			uri:         "s3://bucket/data",
			wantErr:     true,
			errContains: "unsupported source scheme",
		},
		{
			name:        "empty URI",
			uri:         "",
			wantErr:     true,
			errContains: "unsupported source scheme",
		},
		{
			name:        "invalid URI",
			uri:         "://invalid",
			wantErr:     true,
			errContains: "failed to parse URI",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := parseSourceURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSourceURI(%q) error = nil, want error", tt.uri)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("parseSourceURI(%q) error = %v, want it to contain %q", tt.uri, err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSourceURI(%q) error = %v", tt.uri, err)
			}
			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("parseSourceURI(%q) = %+v", tt.uri, cfg)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("valid configuration", func(t *testing.T) {
		adapter, err := New(ctx, "synthetic://", createTestConfig(), WithLogger(zaptest.NewLogger(t)))
		if err != nil {
			t.Fatalf("New() error = %v, want nil", err)
		}
		if adapter.sourceURI != "synthetic://" {
			t.Errorf("adapter.sourceURI = %q", adapter.sourceURI)
		}
		if adapter.started {
			t.Error("adapter.started = true, want false")
		}
		if adapter.Engine() != nil {
			t.Error("engine built before Start")
		}
	})

	t.Run("nil configuration uses defaults", func(t *testing.T) {
		adapter, err := New(ctx, "synthetic://", nil, WithLogger(zaptest.NewLogger(t)))
		if err != nil {
			t.Fatalf("New() error = %v, want nil", err)
		}
		if adapter.config.Engine.CacheSize != "512MB" {
			t.Errorf("cache size = %q, want default", adapter.config.Engine.CacheSize)
		}
	})

	t.Run("invalid source URI", func(t *testing.T) {
		_, err := New(ctx, "gcs://invalid", createTestConfig())
		if err == nil {
			t.Fatal("New() with invalid URI should return error")
		}
		if errors.CodeOf(err) != errors.ErrCodeInvalidConfig {
			t.Errorf("error code = %q, want INVALID_CONFIG", errors.CodeOf(err))
		}
		if !strings.Contains(err.Error(), "invalid source URI") {
			t.Errorf("error should contain 'invalid source URI', got %v", err)
		}
	})

	t.Run("invalid configuration", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.Engine.CacheSize = ""
		_, err := New(ctx, "synthetic://", cfg)
		if err == nil {
			t.Fatal("New() with invalid config should return error")
		}
		if errors.CodeOf(err) != errors.ErrCodeInvalidConfig {
			t.Errorf("error code = %q, want INVALID_CONFIG", errors.CodeOf(err))
		}
	})

	t.Run("custom connector skips URI check", func(t *testing.T) {
		conn, err := memdc.New()
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		if _, err := New(ctx, "", createTestConfig(), WithConnector(conn), WithLogger(zaptest.NewLogger(t))); err != nil {
			t.Errorf("New() error = %v, want nil", err)
		}
	})
}

func startAdapter(t *testing.T, cfg *config.Configuration) *Adapter {
	t.Helper()
	ctx := context.Background()
	a, err := New(ctx, "synthetic://", cfg, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if a.started {
			_ = a.Stop(context.Background())
		}
	})
	return a
}

func TestAdapterLifecycle(t *testing.T) {
	t.Parallel()

	a := startAdapter(t, createTestConfig())
	ctx := context.Background()

	if a.Engine() == nil || a.Registry() == nil || a.Metrics() == nil {
		t.Fatal("Start() left components unset")
	}
	if err := a.Start(ctx); err == nil || !strings.Contains(err.Error(), "already started") {
		t.Errorf("second Start() error = %v, want 'already started'", err)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := a.Stop(ctx); err == nil || !strings.Contains(err.Error(), "not started") {
		t.Errorf("second Stop() error = %v, want 'not started'", err)
	}
	if _, err := a.Grid(ctx, GridKey{Name: "temp"}); err == nil {
		t.Error("Grid() after Stop should fail")
	}
}

func TestAdapterDerivedVariables(t *testing.T) {
	t.Parallel()

	cfg := createTestConfig()
	cfg.Derived.Projection = "+proj=stere +lat_0=90 +lon_0=-100"
	a := startAdapter(t, cfg)
	ctx := context.Background()

	info, err := a.Engine().GetVarInfo("sst")
	if err != nil {
		t.Fatalf("GetVarInfo(sst) error = %v", err)
	}
	if got := strings.Join(info.CoordVars, ","); got != "lon_X,lat_Y" {
		t.Errorf("sst coordinates = %s, want lon_X,lat_Y", got)
	}

	// A polar projection maps the lon/lat lines onto a 2D lattice.
	g, err := a.Grid(ctx, GridKey{Name: "sst", Level: -1})
	if err != nil {
		t.Fatalf("Grid(sst) error = %v", err)
	}
	if g.Kind() != grid.KindCurvilinear {
		t.Errorf("sst kind = %v, want curvilinear", g.Kind())
	}

	// s_rho carries ocean_s_coordinate_g2 formula terms.
	rho, err := a.Grid(ctx, GridKey{Name: "rho", Level: -1})
	if err != nil {
		t.Fatalf("Grid(rho) error = %v", err)
	}
	if rho.Kind() != grid.KindLayered {
		t.Errorf("rho kind = %v, want layered", rho.Kind())
	}

	times, err := a.Engine().GetTimeCoordinates(ctx)
	if err != nil {
		t.Fatalf("GetTimeCoordinates() error = %v", err)
	}
	if len(times) != memdc.DefaultSyntheticConfig().Steps {
		t.Errorf("got %d times, want %d", len(times), memdc.DefaultSyntheticConfig().Steps)
	}
}

func TestAdapterGridCache(t *testing.T) {
	t.Parallel()

	cfg := createTestConfig()
	cfg.Grid.ObjectCacheEntries = 2
	a := startAdapter(t, cfg)
	ctx := context.Background()
	eng := a.Engine()

	first, err := a.Grid(ctx, GridKey{Name: "temp", Level: -1, LOD: -1})
	if err != nil {
		t.Fatalf("Grid() error = %v", err)
	}
	again, err := a.Grid(ctx, GridKey{Name: "temp", Level: -1, LOD: -1})
	if err != nil {
		t.Fatalf("Grid() error = %v", err)
	}
	if first != again {
		t.Error("identical request was not served from the grid cache")
	}
	if eng.LockedGrids() != 1 {
		t.Errorf("locked grids = %d, want 1", eng.LockedGrids())
	}

	box := grid.Box{Max: grid.Coord{2000, 2000, 100}}
	for _, key := range []GridKey{
		{Name: "pres", Level: -1},
		{Name: "temp", Level: -1, LOD: -1, Box: box, HasBox: true},
	} {
		if _, err := a.Grid(ctx, key); err != nil {
			t.Fatalf("Grid(%+v) error = %v", key, err)
		}
	}
	if a.CachedGrids() != 2 {
		t.Errorf("cached grids = %d, want 2", a.CachedGrids())
	}
	if eng.LockedGrids() != 2 {
		t.Errorf("locked grids = %d, want 2 after eviction", eng.LockedGrids())
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if eng.LockedGrids() != 0 {
		t.Errorf("locked grids after Stop = %d, want 0", eng.LockedGrids())
	}
}

func TestAdapterReleasesCachedGridsUnderPressure(t *testing.T) {
	t.Parallel()

	cfg := createTestConfig()
	// Enough for one full-resolution temp grid and its coordinates.
	cfg.Engine.CacheSize = "48KB"
	a := startAdapter(t, cfg)
	ctx := context.Background()

	for ts := 0; ts < 3; ts++ {
		g, err := a.Grid(ctx, GridKey{TS: ts, Name: "temp", Level: -1, LOD: -1})
		if err != nil {
			t.Fatalf("Grid(ts=%d) error = %v", ts, err)
		}
		want := memdc.SyntheticValue(3*memdc.Spacing, 0, 0, ts)
		if got := g.AccessIJK(3, 0, 0); got != want {
			t.Errorf("ts=%d sample = %v, want %v", ts, got, want)
		}
	}
	if a.CachedGrids() != 1 {
		t.Errorf("cached grids = %d, want 1", a.CachedGrids())
	}
}

// createTestConfig creates a valid test configuration
func createTestConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Global.LogLevel = "DEBUG"
	cfg.Engine.CacheSize = "16MB"
	cfg.Engine.NumThreads = 2
	return cfg
}
