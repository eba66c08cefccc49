// Package cache provides an advisory response cache on top of the shared
// Redis store.
//
// The cache manager is built for callers that must keep working when the
// store is down:
//
// - Disabled or unreachable store degrades to misses and no-ops
// - Deterministic request fingerprints as cache keys
// - Values wrapped in an Envelope with creation time and key
// - Fixed TTL per manager, applied on every write
// - SCAN-based pattern clears
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	cfg, _ := config.Load(".env")
//	conns := connection.NewManager(cfg, logger)
//	defer conns.Close()
//
//	manager := cache.NewManager(ctx, cfg, conns, logger)
//
//	// Look up a previous response
//	env, err := cache.GetCachedResponse[Profile](ctx, manager, "user_profile", req)
//	if err != nil {
//		return err // corrupt entry or rejected command
//	}
//	if env == nil {
//		// Miss (or store unavailable) - compute and cache
//		profile := loadProfile(req)
//		if _, err := cache.CacheResponse(ctx, manager, "user_profile", req, profile); err != nil {
//			return err
//		}
//	}
//
// # Cache Keys
//
// GenerateCacheKey hashes a canonical encoding of the request, so two
// requests that are equal as JSON values share a key regardless of field or
// map order:
//
//	key, _ := cache.GenerateCacheKey("user_profile", UserRequest{UserID: 123})
//	// user_profile:<64 hex chars>
//
// Fields tagged `json:"-"` do not contribute to the key.
//
// # Errors
//
// Connection errors never leave the manager. Serialization errors always do,
// wrapping storeerr.ErrSerialization; a stored value that cannot be decoded
// is deleted before the error is returned. Commands the store rejects are
// returned as storeerr.ErrStoreCommand.
//
// # Metrics
//
//   - shared_redis_cache_hits_total - Cache hits
//   - shared_redis_cache_misses_total - Cache misses
//   - shared_redis_cache_errors_total{operation} - Cache operation errors
//   - shared_redis_cache_degraded_total{operation} - Operations without a store
//   - shared_redis_cache_entry_bytes - Encoded envelope sizes
//   - shared_redis_cache_cleared_keys_total - Keys removed by pattern clears
package cache
