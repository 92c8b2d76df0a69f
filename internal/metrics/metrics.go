// Package metrics exposes pipeline counters on the default Prometheus
// registry. Consumers that mount an HTTP handler get them for free;
// everything else just increments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksStarted counts accepted indexing tasks by type.
	TasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repograph_tasks_started_total",
		Help: "Indexing tasks accepted, by task type.",
	}, []string{"type"})

	// TasksFinished counts terminal task outcomes.
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repograph_tasks_finished_total",
		Help: "Indexing tasks reaching a terminal status.",
	}, []string{"status"})

	// FilesIndexed counts files that went through parse+embed.
	FilesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repograph_files_indexed_total",
		Help: "Files parsed and embedded.",
	})

	// ChunksEmbedded counts chunks written to the vector store.
	ChunksEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repograph_chunks_embedded_total",
		Help: "Chunks embedded and committed to the vector store.",
	})

	// EmbedBatches observes per-batch embedding latency.
	EmbedBatches = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repograph_embed_batch_seconds",
		Help:    "Latency of embedding provider batches.",
		Buckets: prometheus.DefBuckets,
	})

	// StageRetries counts transient stage failures that were retried.
	StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repograph_stage_retries_total",
		Help: "Stage retries after transient failures, by stage.",
	}, []string{"stage"})
)
