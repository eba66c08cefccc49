package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/shared-redis/pkg/metrics"
)

var (
	// CacheHits tracks envelopes found in the store
	CacheHits = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
	)

	// CacheMisses tracks lookups that found nothing, including lookups
	// answered without a store
	CacheMisses = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "cache_errors_total",
			Help:      "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "decode", "encode", "delete", "clear", "ttl"
	)

	// CacheDegraded tracks operations skipped because the store was unavailable
	CacheDegraded = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "cache_degraded_total",
			Help:      "Total number of cache operations answered without a store",
		},
		[]string{"operation"},
	)

	// CacheEntryBytes tracks the size of encoded envelopes
	CacheEntryBytes = promauto.With(metrics.Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Name:      "cache_entry_bytes",
			Help:      "Size of encoded cache envelopes in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8), // 64B .. 1MiB
		},
	)

	// CacheClearedKeys tracks keys removed by pattern clears
	CacheClearedKeys = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "cache_cleared_keys_total",
			Help:      "Total number of keys removed by pattern clears",
		},
	)
)
