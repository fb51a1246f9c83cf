// Package metrics defines the Prometheus collectors exported by docchat.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docchat"

// Pipeline metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding batch requests by outcome",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingZeroFilledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_zero_filled_total",
			Help:      "Vectors replaced by zero vectors after a failed batch",
		},
		[]string{"provider", "model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Query embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Generation attempts by outcome",
		},
		[]string{"provider", "status"},
	)

	QueryStatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_states_total",
			Help:      "Query state machine transitions",
		},
		[]string{"state"},
	)

	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Ingested files by extraction path and outcome",
		},
		[]string{"path", "status"},
	)

	IngestedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Chunks written to the vector index",
		},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Background tasks by name and final status",
		},
		[]string{"name", "status"},
	)

	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Background tasks pending or running",
		},
	)
)

var registerOnce sync.Once

// Register registers every docchat collector with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingZeroFilledTotal,
			EmbeddingCacheTotal,
			GenerationRequestsTotal,
			QueryStatesTotal,
			IngestTotal,
			IngestedChunksTotal,
			TasksTotal,
			TasksInFlight,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
