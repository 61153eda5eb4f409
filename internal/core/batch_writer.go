package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JonMunkholm/ingest/internal/metrics"
)

// Default batch write settings.
const (
	DefaultBatchSize   = 2000
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 200 * time.Millisecond
	DefaultMaxBackoff  = 5 * time.Second
)

// BatchWriterConfig holds retry settings for the batch writer.
type BatchWriterConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// BatchResult is the outcome of writing one batch. Inserted+Failed always
// equals the batch length.
type BatchResult struct {
	Inserted int
	Failed   int
	Attempts int
	Err      error // last error seen, nil on full success
}

// BatchWriter persists batches of accepted records with bounded retry.
// A failing batch never aborts the job; its unwritten records are counted
// as failed.
type BatchWriter struct {
	store RecordStore
	cfg   BatchWriterConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchWriter creates a writer over store.
func NewBatchWriter(store RecordStore, cfg BatchWriterConfig) *BatchWriter {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &BatchWriter{store: store, cfg: cfg, sleep: sleepContext}
}

// Write inserts records. Transient failures are retried for the records not
// yet attempted, with exponential backoff. Duplicate-key failures are not
// retried: what was inserted counts as success and the rest as failed. Any
// other error fails the remainder.
func (w *BatchWriter) Write(ctx context.Context, records []Record) BatchResult {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	var res BatchResult
	remaining := records

	for attempt := 0; len(remaining) > 0; attempt++ {
		res.Attempts++
		n, err := w.store.InsertRecords(ctx, remaining)
		if err == nil {
			if n > len(remaining) {
				n = len(remaining)
			}
			res.Inserted += n
			res.Failed += len(remaining) - n
			remaining = nil
			break
		}

		inserted, failed := n, 0
		var bw *BulkWriteError
		if errors.As(err, &bw) {
			inserted, failed = bw.Inserted, bw.Failed
		}
		done := min(inserted+failed, len(remaining))
		res.Inserted += inserted
		res.Failed += done - inserted
		remaining = remaining[done:]
		res.Err = err

		if len(remaining) == 0 {
			break
		}
		if IsDuplicate(err) || !IsTransient(err) || attempt >= w.cfg.MaxRetries {
			break
		}

		backoff := w.backoff(attempt)
		slog.Warn("batch write failed, retrying",
			"attempt", attempt+1,
			"remaining", len(remaining),
			"backoff_ms", backoff.Milliseconds(),
			"error", err,
		)
		metrics.BatchRetries.Inc()
		if serr := w.sleep(ctx, backoff); serr != nil {
			res.Err = serr
			break
		}
	}

	res.Failed += len(remaining)
	if res.Failed == 0 {
		res.Err = nil
	}
	recordBatchMetrics(res)
	return res
}

func (w *BatchWriter) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff * time.Duration(1<<attempt)
	if d > w.cfg.MaxBackoff || d <= 0 {
		d = w.cfg.MaxBackoff
	}
	return d
}

func recordBatchMetrics(res BatchResult) {
	metrics.RecordsWritten.WithLabelValues("inserted").Add(float64(res.Inserted))
	metrics.RecordsWritten.WithLabelValues("failed").Add(float64(res.Failed))

	switch {
	case res.Failed == 0:
		metrics.BatchesTotal.WithLabelValues(metrics.BatchOK).Inc()
	case IsDuplicate(res.Err):
		metrics.BatchesTotal.WithLabelValues(metrics.BatchDuplicate).Inc()
	case res.Inserted > 0:
		metrics.BatchesTotal.WithLabelValues(metrics.BatchPartial).Inc()
	default:
		metrics.BatchesTotal.WithLabelValues(metrics.BatchFailed).Inc()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
