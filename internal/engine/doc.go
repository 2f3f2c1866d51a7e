/*
Package engine serves the variables of a DataConnector as grids.

An Engine decodes block-aligned regions of a variable into a bounded
buffer.BlockPool and indexes them by (time step, variable, level, level of
detail, block range). Regions stay resident until the pool needs room and
they are the least recently used unlocked ones; a region referenced by a
locked grid is never evicted.

	e := engine.New(registry,
		engine.WithCacheBytes(256<<20),
		engine.WithLogger(logger),
		engine.WithMetrics(collector))
	defer e.Close()

	g, err := e.GetVariable(ctx, engine.Request{TS: 0, Name: "temp", Level: -1, LOD: -1, Lock: true})
	if err != nil {
		return err
	}
	defer e.UnlockGrid(g)

Requests name their fidelity with the same convention as the connector:
level 0 is the coarsest refinement and negative values count back from the
finest. Requests outside the available range are clamped; the grid reports
the level it was built at.

Concurrent misses on one region share a single decode, and block decodes
across all requests are bounded by WithNumThreads.
*/
package engine
