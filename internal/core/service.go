package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/ingest/internal/blob"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/google/uuid"
)

// Job listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ServiceConfig wires the service's components.
type ServiceConfig struct {
	UploadDir            string
	MaxConcurrentUploads int
	MaxUploadWait        time.Duration
	HeaderTimeout        time.Duration

	Workers          int
	QueueSize        int
	ProgressInterval time.Duration

	Writer   BatchWriterConfig
	Pipeline PipelineConfig
}

// Service is the entry point for uploads, header preview and job control.
type Service struct {
	store    Store
	blobs    blob.Store
	cfg      ServiceConfig
	chunks   *Reassembler
	limiter  *UploadLimiter
	runner   *Runner
	pipeline *Pipeline
	now      func() time.Time

	mu      sync.Mutex
	uploads map[string]uuid.UUID // upload id -> UPLOADING job
}

// NewService creates a Service. Call Start before submitting jobs.
func NewService(store Store, blobs blob.Store, cfg ServiceConfig) (*Service, error) {
	chunks, err := NewReassembler(cfg.UploadDir, blobs, cfg.HeaderTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}

	writer := NewBatchWriter(store, cfg.Writer)

	return &Service{
		store:    store,
		blobs:    blobs,
		cfg:      cfg,
		chunks:   chunks,
		limiter:  NewUploadLimiter(cfg.MaxConcurrentUploads, cfg.MaxUploadWait),
		runner:   NewRunner(cfg.Workers, cfg.QueueSize),
		pipeline: NewPipeline(blobs, writer, cfg.Pipeline),
		now:      time.Now,
		uploads:  make(map[string]uuid.UUID),
	}, nil
}

// Start launches the job runner. Workers stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.runner.Start(ctx)
}

// Wait blocks until the runner's workers exit or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	return s.runner.Wait(ctx)
}

// WaitForUploads blocks until no chunk request is in flight or ctx is done.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// UploadLimiterStatus reports chunk slot usage.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// ActiveJobs returns the number of queued or running pipelines.
func (s *Service) ActiveJobs() int {
	return s.runner.ActiveCount()
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns the most recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.store.ListJobs(ctx, limit)
}

// ProcessRequest starts ingestion of a stored file.
type ProcessRequest struct {
	StorageKey string   `json:"storageKey"`
	Headers    []string `json:"headers"`
	Mapping    Mapping  `json:"mapping"`
}

// StartProcessing validates the mapping, records it on the file's job and
// queues the pipeline. It returns as soon as the job is queued.
//
// A file still in MAPPING_PENDING reuses its upload job and records the
// headers sent with the request, falling back to the first line seen at upload.
// Re-processing a file whose job already ran creates a new job that keeps the
// frozen headers of the earlier run.
func (s *Service) StartProcessing(ctx context.Context, req ProcessRequest) (*Job, error) {
	req.StorageKey = strings.TrimSpace(req.StorageKey)
	if req.StorageKey == "" {
		return nil, fmt.Errorf("%w: storage key is required", ErrInvalidMapping)
	}

	exists, err := s.blobs.Exists(ctx, req.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", req.StorageKey, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, req.StorageKey)
	}

	job, err := s.jobForProcessing(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := ValidateMapping(req.Mapping, job.Headers); err != nil {
		return nil, err
	}
	job.Mapping = req.Mapping

	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	} else if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save mapping: %w", err)
	}

	if err := s.submit(job.ID); err != nil {
		return nil, err
	}

	logging.WithJob(ctx, job.ID).Info("processing queued",
		"storage_key", job.StorageKey,
		"mapped_fields", len(job.Mapping),
	)
	return job, nil
}

func (s *Service) jobForProcessing(ctx context.Context, req ProcessRequest) (*Job, error) {
	prior, err := s.store.FindJobByStorageKey(ctx, req.StorageKey)
	switch {
	case errors.Is(err, ErrJobNotFound):
		// Stored outside the chunk protocol: the caller's headers are all we have.
		return &Job{
			ID:         uuid.New(),
			FileName:   path.Base(req.StorageKey),
			StorageKey: req.StorageKey,
			Status:     StatusMappingPending,
			Headers:    req.Headers,
		}, nil
	case err != nil:
		return nil, fmt.Errorf("find job: %w", err)
	}

	if prior.Status == StatusMappingPending {
		if s.runner.IsActive(prior.ID) {
			return nil, fmt.Errorf("%w: %s", ErrJobActive, prior.ID)
		}
		// The first run takes the header row the caller confirmed from the
		// preview; it is frozen from here on.
		if len(req.Headers) > 0 {
			prior.Headers = req.Headers
		}
		return prior, nil
	}
	if prior.Status == StatusUploading {
		return nil, fmt.Errorf("%w: %s is still uploading", ErrInvalidTransition, req.StorageKey)
	}

	headers := prior.Headers
	if len(headers) == 0 {
		headers = req.Headers
	}
	return &Job{
		ID:          uuid.New(),
		UploadID:    prior.UploadID,
		FileName:    prior.FileName,
		StorageKey:  prior.StorageKey,
		ContentHash: prior.ContentHash,
		Status:      StatusMappingPending,
		Headers:     headers,
	}, nil
}

// ValidateMapping checks that m names only canonical fields, maps at least
// one field and, when headers are known, only references headers present in
// the file.
func ValidateMapping(m Mapping, headers []string) error {
	if unknown := m.Unknown(); len(unknown) > 0 {
		return fmt.Errorf("%w: unknown fields %s", ErrInvalidMapping, strings.Join(unknown, ", "))
	}
	expected := m.ExpectedHeaders()
	if len(expected) == 0 {
		return fmt.Errorf("%w: no fields mapped", ErrInvalidMapping)
	}
	if len(headers) == 0 {
		return nil
	}
	for _, h := range expected {
		if !containsHeader(headers, h) {
			return fmt.Errorf("%w: header %q not in file", ErrInvalidMapping, h)
		}
	}
	return nil
}

func containsHeader(headers []string, h string) bool {
	for _, candidate := range headers {
		if strings.EqualFold(strings.TrimSpace(candidate), h) {
			return true
		}
	}
	return false
}

// Resume restarts the pipeline for a FAILED or unfinished PROCESSING job.
//
// The file is re-read from the beginning and only the counters are seeded
// from the prior run, so rows already ingested are counted and stored again
// unless their records were purged first.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.Resumable() {
		return nil, fmt.Errorf("%w: cannot resume %s job", ErrInvalidTransition, job.Status)
	}
	if s.runner.IsActive(id) {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	if len(job.Mapping.ExpectedHeaders()) == 0 {
		return nil, fmt.Errorf("%w: job has no mapping", ErrInvalidMapping)
	}

	job.SeedForResume()
	if err := s.store.UpdateProgress(ctx, job.ID, job.Progress()); err != nil {
		return nil, fmt.Errorf("seed progress: %w", err)
	}
	if err := s.submit(job.ID); err != nil {
		return nil, err
	}

	logging.WithJob(ctx, id).Info("job resumed",
		"already_accounted", job.TotalRows,
		"prior_status", job.Status,
	)
	return job, nil
}

// DeleteJob soft-deletes a job's records and marks it DELETED.
func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.runner.IsActive(id) {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	if !CanTransition(job.Status, StatusDeleted) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, StatusDeleted)
	}

	n, err := s.store.SoftDeleteRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("soft delete records: %w", err)
	}
	if job.Status == StatusUploading && job.UploadID != "" {
		s.forgetUpload(job.UploadID)
		if err := s.chunks.Discard(job.UploadID); err != nil {
			slog.Warn("failed to discard partial upload", "upload_id", job.UploadID, "error", err)
		}
	}

	if err := job.Transition(StatusDeleted, s.now(), ""); err != nil {
		return nil, err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	logging.WithJob(ctx, id).Info("job deleted", "records_soft_deleted", n)
	return job, nil
}

// PurgeRecords hard-deletes every record of a job. Counters are left as they
// are; purging before Resume avoids storing rows twice.
func (s *Service) PurgeRecords(ctx context.Context, id uuid.UUID) (int64, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return 0, err
	}
	if s.runner.IsActive(id) {
		return 0, fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	n, err := s.store.PurgeRecords(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	logging.WithJob(ctx, id).Info("records purged", "count", n)
	return n, nil
}

func (s *Service) submit(id uuid.UUID) error {
	err := s.runner.Submit(id, func(ctx context.Context) { s.runJob(ctx, id) })
	if err != nil {
		return fmt.Errorf("queue job %s: %w", id, err)
	}
	return nil
}

// runJob executes one pipeline run on a runner worker and records the final
// status. Counters accumulated before a failure are kept.
func (s *Service) runJob(ctx context.Context, id uuid.UUID) {
	logger := logging.WithJob(ctx, id)

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		logger.Error("load job failed", "error", err)
		return
	}
	if err := job.Transition(StatusProcessing, s.now(), ""); err != nil {
		logger.Warn("job not started", "status", job.Status, "error", err)
		return
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		logger.Error("mark processing failed", "error", err)
		return
	}

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	tracker := NewTracker(s.store, *job, s.cfg.ProgressInterval)
	go tracker.Run(ctx)

	stats, runErr := s.runPipeline(ctx, *job, tracker)

	status, errMsg := StatusCompleted, ""
	if runErr != nil {
		status, errMsg = StatusFailed, runErr.Error()
	}
	final, err := tracker.Finish(status, errMsg)
	if err != nil {
		logger.Error("final job update failed", "status", status, "error", err)
	}
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()

	attrs := []any{
		"status", final.Status,
		"total_rows", final.TotalRows,
		"success_rows", final.SuccessRows,
		"failed_rows", final.FailedRows,
		"batches", stats.Batches,
		"peak_buffer", stats.HighWater,
		"duration_ms", stats.Duration.Milliseconds(),
	}
	if runErr != nil {
		logger.Error("job failed", append(attrs, "error", runErr)...)
		return
	}
	logger.Info("job completed", attrs...)
}

// runPipeline converts a pipeline panic into a stream-fatal error so the
// tracker is always finished.
func (s *Service) runPipeline(ctx context.Context, job Job, tracker *Tracker) (stats RunStats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &StreamFatalError{Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return s.pipeline.Run(ctx, job, tracker)
}
