package core

// pipeline.go composes one ingestion run:
//
//	blob stream -> row parser -> transformer -> backpressure -> batch writer
//
// A producer goroutine parses and validates rows and a consumer goroutine
// writes batches; the Backpressure controller keeps them in lock-step. All
// counters go through the job's Tracker.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/JonMunkholm/ingest/internal/blob"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultRejectLogLimit is how many rejected rows are logged individually per run.
const DefaultRejectLogLimit = 5

// PipelineConfig holds per-run settings.
type PipelineConfig struct {
	BatchSize          int
	HeaderScanLines    int
	HeaderPreviewBytes int64
	RejectLogLimit     int
	Transform          TransformOptions
}

// Pipeline streams a stored file into the record store.
type Pipeline struct {
	blobs  blob.Store
	writer *BatchWriter
	cfg    PipelineConfig
}

// RunStats summarizes one run.
type RunStats struct {
	HeaderIndex int
	Rows        int64
	Accepted    int64
	Rejected    map[Rejection]int64
	Malformed   int64
	Batches     int
	HighWater   int
	Duration    time.Duration
}

// NewPipeline creates a pipeline reading from blobs and writing through writer.
func NewPipeline(blobs blob.Store, writer *BatchWriter, cfg PipelineConfig) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HeaderScanLines <= 0 {
		cfg.HeaderScanLines = DefaultHeaderScanLines
	}
	if cfg.HeaderPreviewBytes <= 0 {
		cfg.HeaderPreviewBytes = DefaultHeaderPreviewBytes
	}
	if cfg.RejectLogLimit < 0 {
		cfg.RejectLogLimit = 0
	}
	return &Pipeline{blobs: blobs, writer: writer, cfg: cfg}
}

// Run ingests job's stored file, reporting counters to tracker. The returned
// error is non-nil only for stream-fatal failures; per-row and per-batch
// failures are counted and do not stop the run.
func (p *Pipeline) Run(ctx context.Context, job Job, tracker *Tracker) (RunStats, error) {
	start := time.Now()
	logger := slog.Default().With("job_id", job.ID, "storage_key", job.StorageKey)
	stats := RunStats{Rejected: make(map[Rejection]int64)}

	headers := job.Headers
	match, err := p.locateHeader(ctx, job)
	if err != nil {
		return stats, &StreamFatalError{Err: err}
	}
	stats.HeaderIndex = match.Index
	if len(headers) == 0 {
		headers = match.Headers
	}
	logger.Info("pipeline started",
		"header_index", match.Index,
		"header_matched", match.Matched,
		"columns", len(headers),
		"batch_size", p.cfg.BatchSize,
	)

	rc, err := p.blobs.Get(ctx, job.StorageKey)
	if err != nil {
		return stats, &StreamFatalError{Err: fmt.Errorf("open %s: %w", job.StorageKey, err)}
	}
	defer rc.Close()

	bp := NewBackpressure(p.cfg.BatchSize)
	g, gctx := errgroup.WithContext(ctx)

	// Consumer: write each batch, report, acknowledge. It writes with the
	// parent ctx so the final flush after a stream failure still lands.
	g.Go(func() error {
		for batch := range bp.Batches() {
			res := p.writer.Write(ctx, batch)
			tracker.AddResults(int64(res.Inserted), int64(res.Failed))
			if res.Err != nil {
				logger.Warn("batch partially failed",
					"inserted", res.Inserted,
					"failed", res.Failed,
					"attempts", res.Attempts,
					"error", res.Err,
				)
			}
			bp.Ack()
		}
		return nil
	})

	// Producer: parse, validate, buffer.
	g.Go(func() error {
		streamErr := p.produce(gctx, rc, match.Index+1, headers, job, tracker, bp, &stats, logger)

		// Flush what was accepted so far even when the stream failed.
		dropped, cerr := bp.Close(ctx)
		if dropped > 0 {
			tracker.AddResults(0, int64(dropped))
		}
		if streamErr != nil {
			return streamErr
		}
		return cerr
	})

	err = g.Wait()
	stats.Batches = bp.Handoffs()
	stats.HighWater = bp.HighWater()
	stats.Duration = time.Since(start)

	if len(stats.Rejected) > 0 {
		logger.Info("rows rejected", "by_reason", stats.Rejected)
	}
	if err != nil {
		var sf *StreamFatalError
		if !errors.As(err, &sf) {
			err = &StreamFatalError{Err: err}
		}
		return stats, err
	}
	return stats, nil
}

func (p *Pipeline) produce(
	ctx context.Context,
	r io.Reader,
	skip int,
	headers []string,
	job Job,
	tracker *Tracker,
	bp *Backpressure,
	stats *RunStats,
	logger *slog.Logger,
) error {
	var (
		pendingRows   int64
		pendingFailed int64
		logged        int
		malformed     int
	)
	report := func() {
		tracker.AddRows(pendingRows)
		tracker.AddResults(0, pendingFailed)
		pendingRows, pendingFailed = 0, 0
	}
	defer report()
	// Rows that never reach a batch still show up within one batch of lag.
	reportIfDue := func() {
		if pendingRows >= int64(p.cfg.BatchSize) {
			report()
		}
	}

	for fields, err := range ReadRows(WrapForStreaming(r, 0), skip) {
		if err != nil {
			if !IsMalformedRow(err) {
				return err
			}
			stats.Rows++
			stats.Malformed++
			pendingRows++
			pendingFailed++
			metrics.RowsTotal.WithLabelValues(metrics.RowMalformed).Inc()
			if malformed < p.cfg.RejectLogLimit {
				malformed++
				logger.Debug("row malformed", "row", stats.Rows, "error", err)
			}
			reportIfDue()
			continue
		}

		stats.Rows++
		pendingRows++

		cand, reason := Transform(RowMap(headers, fields), job.Mapping, p.cfg.Transform)
		if reason != "" {
			stats.Rejected[reason]++
			pendingFailed++
			metrics.RowsTotal.WithLabelValues(metrics.RowRejected).Inc()
			metrics.RejectionsTotal.WithLabelValues(string(reason)).Inc()
			if logged < p.cfg.RejectLogLimit {
				logged++
				logger.Debug("row rejected", "row", stats.Rows, "reason", reason)
			}
			reportIfDue()
			continue
		}

		stats.Accepted++
		metrics.RowsTotal.WithLabelValues(metrics.RowAccepted).Inc()

		rec := Record{
			Candidate:      cand,
			SourceFile:     job.FileName,
			IngestionJobID: job.ID,
		}
		// Row counts must reach the tracker before the batch holding this
		// record can report its results.
		if bp.Len()+1 >= p.cfg.BatchSize {
			report()
		}
		if err := bp.Push(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) locateHeader(ctx context.Context, job Job) (HeaderMatch, error) {
	rc, err := p.blobs.GetRange(ctx, job.StorageKey, 0, p.cfg.HeaderPreviewBytes-1)
	if err != nil {
		return HeaderMatch{}, fmt.Errorf("read header range: %w", err)
	}
	defer rc.Close()
	return LocateHeader(rc, job.Mapping.ExpectedHeaders(), p.cfg.HeaderScanLines)
}
