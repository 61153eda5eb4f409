// Package metrics defines the Prometheus collectors for the ingestion pipeline
// and exposes them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Row outcomes.
const (
	RowAccepted  = "accepted"
	RowRejected  = "rejected"
	RowMalformed = "malformed"
)

// Batch results.
const (
	BatchOK        = "ok"
	BatchPartial   = "partial"
	BatchDuplicate = "duplicate"
	BatchFailed    = "failed"
)

var (
	// RowsTotal counts source rows by outcome.
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rows_total",
			Help: "Source rows processed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	// RejectionsTotal counts validation rejections by reason code.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rejections_total",
			Help: "Rows rejected by validation, partitioned by reason.",
		},
		[]string{"reason"},
	)

	// BatchesTotal counts batch writes by result.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batches_total",
			Help: "Batch writes, partitioned by result.",
		},
		[]string{"result"},
	)

	// RecordsWritten counts records by write outcome.
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_written_total",
			Help: "Records handed to the batch writer, partitioned by status.",
		},
		[]string{"status"},
	)

	// BatchRetries counts retry attempts after transient failures.
	BatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_batch_retries_total",
		Help: "Batch write retries after transient storage errors.",
	})

	// BatchDuration observes batch write latency including retries.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_batch_duration_seconds",
		Help:    "Batch write latency including retries.",
		Buckets: prometheus.DefBuckets,
	})

	// JobsTotal counts finished pipeline runs by final status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_total",
			Help: "Finished pipeline runs, partitioned by final status.",
		},
		[]string{"status"},
	)

	// JobsActive is the number of pipelines currently running.
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_jobs_active",
		Help: "Pipelines currently running.",
	})

	// ChunksTotal counts received upload chunks by result.
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_upload_chunks_total",
			Help: "Upload chunks received, partitioned by result.",
		},
		[]string{"result"},
	)

	// UploadBytes counts bytes stored to the blob store.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_upload_bytes_total",
		Help: "Bytes of reassembled uploads written to the blob store.",
	})
)

// Handler returns the scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
