/*
Package metrics exports variable access engine activity to Prometheus.

Collector implements types.MetricsCollector on a private registry, so several
engines in one process never collide on metric names. When metrics are
disabled the collector is still safe to call and records nothing.

# Exported series

All names carry the configured namespace (and subsystem, when set):

	operations_total{operation,status}    engine calls by outcome
	operation_duration_seconds{operation} engine call latency
	region_requests_total{type}           region cache lookups, type=hit|miss
	decode_bytes_total                    bytes decoded into the block pool
	region_evictions_total                regions evicted for space
	pool_bytes_in_use                     block pool occupancy
	pool_bytes_capacity                   block pool size
	errors_total{operation,code}          errors by fieldcache error code

# Endpoints

Start serves:

	<path>            Prometheus exposition (OpenMetrics enabled)
	/health           liveness probe
	/debug/variables  plain-text table of the busiest variables

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "fieldcache",
	}, metrics.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	eng := engine.New(reg, engine.WithMetrics(collector))
*/
package metrics
