/*
Package adapter assembles a running fieldcache instance from configuration.

The adapter is the single place where configuration is turned into
components. Start builds them bottom-up:

	┌──────────────────────────────────────────────┐
	│        config.Configuration (YAML/env)       │
	└──────────────────────────────────────────────┘
	         │ global            │ monitoring
	┌────────┴───────┐  ┌────────┴───────────────┐
	│  zap logger    │  │ metrics.Collector      │
	└────────────────┘  └────────────────────────┘
	         │ source URI
	┌──────────────────────────────────────────────┐
	│  native connector (memdc synthetic://)       │
	└──────────────────────────────────────────────┘
	         │ derived
	┌──────────────────────────────────────────────┐
	│  derived.Registry: projected coordinates,    │
	│  index coordinates, time coordinate          │
	└──────────────────────────────────────────────┘
	         │ engine, grid
	┌──────────────────────────────────────────────┐
	│  engine.Engine + cache of locked grids       │
	└──────────────────────────────────────────────┘

# Source URIs

Only synthetic:// is understood. Its query sizes the generated data set:

	synthetic://?nx=65&ny=33&nz=17&steps=4&levels=3&mesh_x=9&mesh_y=9&layers=4

Callers with their own DataConnector pass it with WithConnector and the URI
is ignored.

# Grid cache

Grid keeps up to grid.object_cache_entries grids locked in the engine and
hands out the same grid for a repeated request. Evicting a grid unlocks its
regions. If the engine reports CACHE_EXHAUSTED the cached grids are all
released and the request is retried once.

# Usage Example

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("fieldcache.yaml"); err != nil {
		return err
	}
	a, err := adapter.New(ctx, "synthetic://", cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(ctx)

	g, err := a.Grid(ctx, adapter.GridKey{Name: "temp", Level: -1, LOD: -1})
*/
package adapter
