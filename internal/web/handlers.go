package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// multipartOverhead allows for form fields and part headers around a chunk.
const multipartOverhead = 1 << 20

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// handleUploadChunk accepts one chunk of a logical upload.
//
// Multipart form fields: fileName, chunkIndex, totalChunks, optional uploadId,
// and the chunk bytes in the "chunk" file part. Alternatively the raw chunk can
// be sent as the request body with the same names as query parameters.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxChunkSize+multipartOverhead)

	req, cleanup, err := parseChunkRequest(r, s.cfg.Upload.MaxChunkSize)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer cleanup()

	res, err := s.service.UploadChunk(r.Context(), req)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseChunkRequest(r *http.Request, maxMemory int64) (core.ChunkRequest, func(), error) {
	noop := func() {}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		req, err := chunkParams(r.URL.Query().Get)
		req.Body = r.Body
		return req, noop, err
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return core.ChunkRequest{}, noop, maxBytes
		}
		return core.ChunkRequest{}, noop, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	req, err := chunkParams(r.FormValue)
	if err != nil {
		return req, cleanup, err
	}

	file, header, err := r.FormFile("chunk")
	if err != nil {
		return req, cleanup, core.ErrNoFile
	}
	if req.FileName == "" {
		req.FileName = header.Filename
	}
	req.Body = file
	return req, func() { file.Close(); cleanup() }, nil
}

func chunkParams(get func(string) string) (core.ChunkRequest, error) {
	index, err := strconv.Atoi(get("chunkIndex"))
	if err != nil {
		return core.ChunkRequest{}, fmt.Errorf("%w: chunkIndex", errMissingChunks)
	}
	total, err := strconv.Atoi(get("totalChunks"))
	if err != nil {
		return core.ChunkRequest{}, fmt.Errorf("%w: totalChunks", errMissingChunks)
	}
	return core.ChunkRequest{
		UploadID: get("uploadId"),
		FileName: get("fileName"),
		Index:    index,
		Total:    total,
	}, nil
}

type previewRequest struct {
	StorageKey string       `json:"storageKey"`
	Mapping    core.Mapping `json:"mapping"`
}

// handlePreviewHeaders returns the header row of a stored file.
func (s *Server) handlePreviewHeaders(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if strings.TrimSpace(req.StorageKey) == "" {
		err := fmt.Errorf("%w: storageKey is required", errInvalidBody)
		respondError(w, r, err, statusFor(err))
		return
	}

	preview, err := s.service.PreviewHeaders(r.Context(), req.StorageKey, req.Mapping)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleStartProcessing queues ingestion of a stored file.
func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	var req core.ProcessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	job, err := s.service.StartProcessing(r.Context(), req)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uuid.UUID{"jobId": job.ID})
}

// handleListJobs returns recent jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", core.DefaultListLimit)

	jobs, err := s.service.ListJobs(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if jobs == nil {
		jobs = []core.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleGetJob returns the status of one job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := s.service.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleResumeJob restarts a failed or interrupted job.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := s.service.Resume(r.Context(), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleDeleteJob marks a job DELETED and soft-deletes its records.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := s.service.DeleteJob(r.Context(), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handlePurgeRecords hard-deletes a job's records.
func (s *Server) handlePurgeRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	n, err := s.service.PurgeRecords(r.Context(), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "purged": n})
}

// handleHealth reports liveness and current load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"activeJobs": s.service.ActiveJobs(),
		"uploads":    s.service.UploadLimiterStatus(),
	})
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, errInvalidJobID, statusFor(errInvalidJobID))
		return uuid.Nil, false
	}
	return id, true
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return maxBytes
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errInvalidBody)
	}
	return nil
}
