// Package metrics exposes Prometheus instrumentation for the relay's
// ingestion and replication paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Registry is the relay's private metrics registry, used instead of the
// global default so tests can construct fresh collectors without collisions.
var Registry = prometheus.NewRegistry()

var (
	EventsIngested = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "ingested_total",
			Help:      "Total number of events successfully persisted, by source",
		},
		[]string{"source"}, // push, replicate
	)

	EventsRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "rejected_total",
			Help:      "Total number of events rejected during admission, by reason",
		},
		[]string{"reason"}, // batch_too_large, schema_invalid, invalid_signature
	)

	ReplicationPushes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "pushes_total",
			Help:      "Total number of outbound replication pushes, by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	ReplicationBatchSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "batch_size",
			Help:      "Number of events in each outbound replication batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		},
	)

	ReplicationCursorLagSeconds = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "cursor_lag_seconds",
			Help:      "Age of the oldest unreplicated event per peer",
		},
		[]string{"peer_id"},
	)
)

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
