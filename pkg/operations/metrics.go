package operations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/shared-redis/pkg/metrics"
)

var (
	// OpsErrors tracks failed data and pub/sub operations
	OpsErrors = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "ops_errors_total",
			Help:      "Total number of failed data and pub/sub operations",
		},
		[]string{"operation"}, // "set", "get", "setnx", "publish", "subscribe", "receive"
	)

	// PubSubPublished tracks messages published
	PubSubPublished = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "pubsub_published_total",
			Help:      "Total number of messages published",
		},
	)

	// PubSubReceived tracks messages delivered to subscribers
	PubSubReceived = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "pubsub_received_total",
			Help:      "Total number of messages delivered to subscribers",
		},
	)

	// IdempotentClaims tracks set-if-absent outcomes
	IdempotentClaims = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Name:      "idempotent_claims_total",
			Help:      "Total number of set-if-absent calls by outcome",
		},
		[]string{"result"}, // "won", "lost"
	)
)
