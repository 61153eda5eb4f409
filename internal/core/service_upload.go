package core

// service_upload.go implements the chunk upload and header preview protocols.
//
// The first chunk of an upload creates its job in UPLOADING. The final chunk
// stores the reassembled file and moves the job to MAPPING_PENDING with the
// headers observed in the file; those headers stay frozen for every later run.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/google/uuid"
)

// Chunk response statuses.
const (
	ChunkReceived = "chunk_received"
	ChunkDone     = "done"
)

// ChunkRequest is one chunk of a logical upload.
type ChunkRequest struct {
	UploadID string // optional; defaults to the file name
	FileName string
	Index    int
	Total    int
	Body     io.Reader
}

// ChunkResult is returned for every accepted chunk. StorageKey, Headers and
// JobID are set only when Status is ChunkDone.
type ChunkResult struct {
	Status          string     `json:"status"`
	ProgressPercent int        `json:"progressPercent"`
	UploadID        string     `json:"uploadId"`
	StorageKey      string     `json:"storageKey,omitempty"`
	Headers         []string   `json:"headers,omitempty"`
	JobID           *uuid.UUID `json:"jobId,omitempty"`
}

// HeaderPreview is the header preview response.
type HeaderPreview struct {
	Headers     []string `json:"headers"`
	StorageKey  string   `json:"storageKey"`
	HeaderIndex int      `json:"headerIndex"`
	Matched     bool     `json:"matched"`
}

// UploadChunk appends one chunk and, on the final chunk, stores the file.
func (s *Service) UploadChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	if req.Total <= 0 || req.Index < 0 || req.Index >= req.Total {
		metrics.ChunksTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidChunk, req.Index, req.Total)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrNoFile)
	}
	uploadID := req.UploadID
	if uploadID == "" {
		uploadID = req.FileName
	}
	uploadID = SafeName(uploadID, "upload")

	if err := s.limiter.Acquire(ctx); err != nil {
		metrics.ChunksTotal.WithLabelValues("throttled").Inc()
		return nil, err
	}
	defer s.limiter.Release()

	if req.Index == 0 {
		if err := s.beginUpload(ctx, uploadID, req.FileName); err != nil {
			return nil, err
		}
	}

	if _, err := s.chunks.Append(ctx, uploadID, req.Index, req.Body); err != nil {
		metrics.ChunksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ChunksTotal.WithLabelValues("ok").Inc()

	res := &ChunkResult{
		Status:          ChunkReceived,
		ProgressPercent: (req.Index + 1) * 100 / req.Total,
		UploadID:        uploadID,
	}
	if req.Index+1 < req.Total {
		return res, nil
	}

	job, err := s.finishUpload(ctx, uploadID, req.FileName)
	if err != nil {
		return nil, err
	}
	res.Status = ChunkDone
	res.StorageKey = job.StorageKey
	res.Headers = job.Headers
	res.JobID = &job.ID
	return res, nil
}

// beginUpload creates the UPLOADING job for a new upload. A restarted upload
// with the same id reuses its job.
func (s *Service) beginUpload(ctx context.Context, uploadID, fileName string) error {
	if id, ok := s.lookupUpload(uploadID); ok {
		job, err := s.store.GetJob(ctx, id)
		if err == nil && job.Status == StatusUploading {
			return nil
		}
	}

	job := &Job{
		ID:        uuid.New(),
		UploadID:  uploadID,
		FileName:  fileName,
		Status:    StatusUploading,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	s.mu.Lock()
	s.uploads[uploadID] = job.ID
	s.mu.Unlock()

	logging.WithJob(ctx, job.ID).Info("upload started", "upload_id", uploadID, "file", fileName)
	return nil
}

// finishUpload stores the assembled file and records the result on the job.
// If storing fails the job becomes FAILED and the client must upload again.
func (s *Service) finishUpload(ctx context.Context, uploadID, fileName string) (*Job, error) {
	id, ok := s.lookupUpload(uploadID)
	if !ok {
		// The process restarted between chunks; the part file survived.
		job := &Job{ID: uuid.New(), UploadID: uploadID, FileName: fileName, Status: StatusUploading, CreatedAt: s.now()}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
		id = job.ID
	}
	defer s.forgetUpload(uploadID)

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := logging.WithJob(ctx, job.ID)

	assembled, err := s.chunks.Finalize(ctx, uploadID, fileName)
	if err != nil {
		if terr := job.Transition(StatusFailed, s.now(), err.Error()); terr == nil {
			if uerr := s.store.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
				logger.Error("mark upload failed", "error", uerr)
			}
		}
		logger.Error("upload failed", "upload_id", uploadID, "error", err)
		return nil, err
	}

	job.StorageKey = assembled.StorageKey
	job.Headers = assembled.Headers
	job.ContentHash = assembled.ContentHash
	if err := job.Transition(StatusMappingPending, s.now(), ""); err != nil {
		return nil, err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	logger.Info("upload stored",
		"storage_key", assembled.StorageKey,
		"bytes", assembled.Size,
		"columns", len(assembled.Headers),
		"content_hash", assembled.ContentHash,
	)
	return job, nil
}

// PreviewHeaders reads the first bytes of a stored file and returns its
// header row. With a mapping, the row mentioning the mapped headers is chosen;
// without one, the first non-empty line is returned. The read is bounded by
// the header timeout.
func (s *Service) PreviewHeaders(ctx context.Context, storageKey string, mapping Mapping) (*HeaderPreview, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HeaderTimeout)
	defer cancel()

	rc, err := s.blobs.GetRange(ctx, storageKey, 0, s.pipeline.cfg.HeaderPreviewBytes-1)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrHeaderTimeout, storageKey)
		}
		return nil, fmt.Errorf("read %s: %w", storageKey, err)
	}

	type result struct {
		match HeaderMatch
		err   error
	}
	done := make(chan result, 1)
	go func() {
		m, err := LocateHeader(rc, mapping.ExpectedHeaders(), s.pipeline.cfg.HeaderScanLines)
		done <- result{m, err}
	}()

	select {
	case res := <-done:
		rc.Close()
		if res.err != nil {
			return nil, res.err
		}
		return &HeaderPreview{
			Headers:     res.match.Headers,
			StorageKey:  storageKey,
			HeaderIndex: res.match.Index,
			Matched:     res.match.Matched,
		}, nil
	case <-ctx.Done():
		rc.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrHeaderTimeout, storageKey)
		}
		return nil, ctx.Err()
	}
}

func (s *Service) lookupUpload(uploadID string) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.uploads[uploadID]
	return id, ok
}

func (s *Service) forgetUpload(uploadID string) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.uploads[uploadID]
	delete(s.uploads, uploadID)
	return id, ok
}
