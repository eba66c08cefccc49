// Package metrics provides the Prometheus registry reference and HTTP handler
// for shared-redis. Metrics are defined in their respective packages
// (connection, cache, operations) to avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "shared_redis"

// Registry is the registerer all packages register against via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Connection Metrics (pkg/connection):
//   - shared_redis_connection_acquire_total{result} (Counter): acquisition attempts by result (ok, reused, shared, failed)
//
// Cache Metrics (pkg/cache):
//   - shared_redis_cache_hits_total (Counter): envelopes found
//   - shared_redis_cache_misses_total (Counter): lookups that found nothing, including unavailable store
//   - shared_redis_cache_errors_total{operation} (Counter): failed cache operations
//   - shared_redis_cache_degraded_total{operation} (Counter): operations skipped because the store was unavailable
//   - shared_redis_cache_entry_bytes (Histogram): size of encoded envelopes
//   - shared_redis_cache_cleared_keys_total (Counter): keys removed by pattern clears
//
// Operations Metrics (pkg/operations):
//   - shared_redis_ops_errors_total{operation} (Counter): failed data and pub/sub operations
//   - shared_redis_pubsub_published_total (Counter): messages published
//   - shared_redis_pubsub_received_total (Counter): messages delivered to subscribers
//   - shared_redis_idempotent_claims_total{result} (Counter): set-if-absent outcomes (won, lost)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(shared_redis_cache_hits_total[5m])) /
//   (sum(rate(shared_redis_cache_hits_total[5m])) + sum(rate(shared_redis_cache_misses_total[5m])))
//
//   # Degraded operations (store unreachable)
//   sum by (operation) (rate(shared_redis_cache_degraded_total[5m]))
