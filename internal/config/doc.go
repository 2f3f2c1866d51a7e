/*
Package config holds the fieldcache configuration.

Values come from three layers, later layers overriding earlier ones:

 1. compiled-in defaults (NewDefault)
 2. a YAML file (LoadFromFile)
 3. FIELDCACHE_* environment variables (LoadFromEnv)

# Sections

	global:
	  log_level: INFO          # DEBUG, INFO, WARN or ERROR
	  log_file: ""             # stdout when empty
	  log_format: json         # json or console
	engine:
	  cache_size: 512MB        # block pool capacity
	  num_threads: 4           # parallel block decodes per request
	  metadata_ttl: 5m         # extents and data range cache lifetime
	  interpolation_order: 1   # 0 nearest node, 1 linear
	  lock_by_default: false
	grid:
	  aux_cache_entries: 10    # cell indices and meshes
	  object_cache_entries: 16
	  touch_on_query: true     # LRU policy of the object caches
	derived:
	  projection: ""           # e.g. "+proj=lcc +lat_1=33 +lat_2=45 +lon_0=-97"
	  synthesize_index_coords: true
	  transform_vertical: true # evaluate CF formula_terms vertical coordinates
	  timestamp_var: Times
	  time_scale: 1
	monitoring:
	  metrics:
	    enabled: false
	    port: 8080
	    path: /metrics
	    namespace: fieldcache

Environment variable names join the section prefixes with the key, for
example FIELDCACHE_ENGINE_CACHE_SIZE or FIELDCACHE_MONITORING_METRICS_PORT.

Validate reports problems as INVALID_CONFIG errors.
*/
package config
