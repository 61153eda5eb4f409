package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/ingest/internal/blob"
	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/database"
	"github.com/google/uuid"
)

const candidatesCSV = "Candidate export\n" +
	"Full Name,Email Address,Phone\n" +
	"ada lovelace,ADA@Example.com,\n" +
	"grace hopper,,(555) 010-0199\n" +
	"nobody,,\n"

type testEnv struct {
	server *Server
	store  *database.Memory
	cancel context.CancelFunc
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Upload: config.UploadConfig{MaxChunkSize: 1 << 20},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	blobs, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	store := database.NewMemory()

	svc, err := core.NewService(store, blobs, core.ServiceConfig{
		UploadDir:            t.TempDir(),
		MaxConcurrentUploads: 4,
		MaxUploadWait:        time.Second,
		HeaderTimeout:        time.Second,
		Workers:              1,
		QueueSize:            4,
		ProgressInterval:     10 * time.Millisecond,
		Writer:               core.BatchWriterConfig{MaxRetries: 1, BaseBackoff: time.Millisecond},
		Pipeline: core.PipelineConfig{
			BatchSize: 2,
			Transform: core.DefaultTransformOptions(),
		},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	srv := NewServer(svc, cfg)
	t.Cleanup(func() {
		cancel()
		srv.Shutdown(context.Background())
	})
	return &testEnv{server: srv, store: store, cancel: cancel}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func chunkRequest(t *testing.T, uploadID, fileName string, index, total int, data string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("uploadId", uploadID)
	_ = mw.WriteField("fileName", fileName)
	_ = mw.WriteField("chunkIndex", fmt.Sprint(index))
	_ = mw.WriteField("totalChunks", fmt.Sprint(total))
	part, err := mw.CreateFormFile("chunk", fileName)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(data))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/chunk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// upload sends data in two chunks and returns the final chunk result.
func (e *testEnv) upload(t *testing.T, fileName, data string) core.ChunkResult {
	t.Helper()
	mid := len(data) / 2
	parts := []string{data[:mid], data[mid:]}

	var res core.ChunkResult
	for i, p := range parts {
		rec := e.do(t, chunkRequest(t, "up-"+fileName, fileName, i, len(parts), p))
		if rec.Code != http.StatusOK {
			t.Fatalf("chunk %d: status = %d, body = %s", i, rec.Code, rec.Body)
		}
		res = core.ChunkResult{}
		if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
			t.Fatalf("decode chunk response: %v", err)
		}
	}
	return res
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&er); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return er
}

func TestUploadPreviewAndProcess(t *testing.T) {
	env := newTestEnv(t, testConfig())

	res := env.upload(t, "people.csv", candidatesCSV)
	if res.Status != core.ChunkDone || res.ProgressPercent != 100 {
		t.Fatalf("final chunk = %+v, want done at 100%%", res)
	}
	if res.StorageKey == "" || res.JobID == nil {
		t.Fatalf("final chunk missing storage key or job id: %+v", res)
	}

	// Preview with a mapping skips the banner line.
	rec := env.postJSON(t, "/api/uploads/preview", map[string]any{
		"storageKey": res.StorageKey,
		"mapping":    core.Mapping{"name": "Full Name", "email": "Email Address"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d, body = %s", rec.Code, rec.Body)
	}
	var preview core.HeaderPreview
	json.NewDecoder(rec.Body).Decode(&preview)
	if preview.HeaderIndex != 1 || !preview.Matched {
		t.Errorf("preview = %+v, want matched header at index 1", preview)
	}
	if want := []string{"Full Name", "Email Address", "Phone"}; strings.Join(preview.Headers, "|") != strings.Join(want, "|") {
		t.Errorf("preview headers = %v, want %v", preview.Headers, want)
	}

	rec = env.postJSON(t, "/api/jobs", core.ProcessRequest{
		StorageKey: res.StorageKey,
		Headers:    preview.Headers,
		Mapping:    core.Mapping{"name": "Full Name", "email": "Email Address", "phone": "Phone"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body)
	}
	var started struct {
		JobID uuid.UUID `json:"jobId"`
	}
	json.NewDecoder(rec.Body).Decode(&started)
	if started.JobID != *res.JobID {
		t.Errorf("started job %s, want upload job %s reused", started.JobID, *res.JobID)
	}

	job := waitForStatus(t, env, started.JobID, core.StatusCompleted)
	if job.TotalRows != 3 || job.SuccessRows != 2 || job.FailedRows != 1 {
		t.Errorf("counters = total %d, success %d, failed %d; want 3, 2, 1",
			job.TotalRows, job.SuccessRows, job.FailedRows)
	}

	recs := env.store.Records(started.JobID)
	if len(recs) != 2 {
		t.Fatalf("stored %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.SourceFile != "people.csv" {
			t.Errorf("SourceFile = %q, want people.csv", r.SourceFile)
		}
	}

	// Deleting the completed job soft deletes its records.
	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+started.JobID.String(), nil)
	if rec := env.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body)
	}
	for _, r := range env.store.Records(started.JobID) {
		if !r.IsDeleted {
			t.Error("record not soft deleted after job delete")
		}
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/jobs/"+started.JobID.String()+"/records", nil)
	rec = env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("purge status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(env.store.Records(started.JobID)) != 0 {
		t.Error("records remain after purge")
	}
}

func waitForStatus(t *testing.T, env *testEnv, id uuid.UUID, want core.JobStatus) core.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id.String(), nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("get job status = %d, body = %s", rec.Code, rec.Body)
		}
		var job core.Job
		if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Status == want {
			return job
		}
		if job.Status.Terminal() || time.Now().After(deadline) {
			t.Fatalf("job status = %s (error %v), want %s", job.Status, job.Error, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadChunk_Errors(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name     string
		req      func() *http.Request
		want     int
		wantCode string
	}{
		{
			name: "index out of range",
			req:  func() *http.Request { return chunkRequest(t, "u1", "a.csv", 3, 2, "x") },
			want: http.StatusBadRequest, wantCode: "UPL001",
		},
		{
			name: "missing chunk fields",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/uploads/chunk?fileName=a.csv", strings.NewReader("x"))
			},
			want: http.StatusBadRequest, wantCode: "UPL001",
		},
		{
			name: "later chunk without a first chunk",
			req:  func() *http.Request { return chunkRequest(t, "never-started", "a.csv", 1, 2, "x") },
			want: http.StatusConflict,
		},
		{
			name: "raw body without file name",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/uploads/chunk?chunkIndex=0&totalChunks=1", strings.NewReader("x"))
			},
			want: http.StatusBadRequest, wantCode: "FILE004",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.req())
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.want, rec.Body)
			}
			if tt.wantCode != "" {
				if er := decodeError(t, rec); er.Code != tt.wantCode {
					t.Errorf("code = %s, want %s", er.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestUploadChunk_RawBody(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req := httptest.NewRequest(http.MethodPost,
		"/api/uploads/chunk?fileName=raw.csv&chunkIndex=0&totalChunks=1",
		strings.NewReader("Name,Email\nAda,ada@example.com\n"))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var res core.ChunkResult
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Status != core.ChunkDone {
		t.Fatalf("status = %s, want done", res.Status)
	}
	if strings.Join(res.Headers, ",") != "Name,Email" {
		t.Errorf("headers = %v", res.Headers)
	}
}

func TestUploadChunk_EmptyFileFails(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, chunkRequest(t, "empty", "empty.csv", 0, 1, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body)
	}
	if er := decodeError(t, rec); er.Code != "FILE005" {
		t.Errorf("code = %s, want FILE005", er.Code)
	}

	jobs, _ := env.store.ListJobs(context.Background(), 10)
	if len(jobs) != 1 || jobs[0].Status != core.StatusFailed {
		t.Errorf("jobs = %+v, want one FAILED job", jobs)
	}
}

func TestStartProcessing_Errors(t *testing.T) {
	env := newTestEnv(t, testConfig())
	res := env.upload(t, "people.csv", candidatesCSV)

	tests := []struct {
		name string
		body any
		want int
	}{
		{
			name: "unknown storage key",
			body: core.ProcessRequest{StorageKey: "uploads/missing.csv", Mapping: core.Mapping{"name": "Full Name"}},
			want: http.StatusNotFound,
		},
		{
			name: "mapping names a missing header",
			body: core.ProcessRequest{StorageKey: res.StorageKey, Mapping: core.Mapping{"name": "Nope"}},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown canonical field",
			body: core.ProcessRequest{StorageKey: res.StorageKey, Mapping: core.Mapping{"favoriteColor": "Full Name"}},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown JSON field",
			body: map[string]any{"storageKey": res.StorageKey, "extra": true},
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON(t, "/api/jobs", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestPreviewHeaders_NotFound(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.postJSON(t, "/api/uploads/preview", map[string]any{"storageKey": "uploads/nothing.csv"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body)
	}
	if er := decodeError(t, rec); er.Code != "FILE002" {
		t.Errorf("code = %s, want FILE002", er.Code)
	}
}

func TestJobRoutes_BadID(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil),
		httptest.NewRequest(http.MethodPost, "/api/jobs/not-a-uuid/resume", nil),
		httptest.NewRequest(http.MethodDelete, "/api/jobs/not-a-uuid", nil),
	} {
		if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want 400", req.Method, req.URL.Path, rec.Code)
		}
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d, want 404", rec.Code)
	}
	if er := decodeError(t, rec); er.Code != "JOB001" {
		t.Errorf("code = %s, want JOB001", er.Code)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.upload(t, "a.csv", candidatesCSV)
	env.upload(t, "b.csv", candidatesCSV)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Jobs []core.Job `json:"jobs"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if len(body.Jobs) != 1 {
		t.Errorf("got %d jobs, want 1", len(body.Jobs))
	}
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 100}
	env := newTestEnv(t, cfg)

	var last *httptest.ResponseRecorder
	for range 3 {
		last = env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if er := decodeError(t, last); er.Code != "RATE001" {
		t.Errorf("code = %s, want RATE001", er.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	env := newTestEnv(t, cfg)

	if rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	if rec := env.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", rec.Code)
	}

	// Health stays open.
	if rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("get: %w", core.ErrJobNotFound), http.StatusNotFound},
		{blob.ErrNotFound, http.StatusNotFound},
		{core.ErrInvalidChunk, http.StatusBadRequest},
		{core.ErrInvalidMapping, http.StatusBadRequest},
		{core.ErrEmptyFile, http.StatusBadRequest},
		{core.ErrNoFile, http.StatusBadRequest},
		{errInvalidJobID, http.StatusBadRequest},
		{core.ErrJobActive, http.StatusConflict},
		{core.ErrInvalidTransition, http.StatusConflict},
		{core.ErrUploadIncomplete, http.StatusConflict},
		{core.ErrTooManyUploads, http.StatusTooManyRequests},
		{core.ErrQueueFull, http.StatusServiceUnavailable},
		{core.ErrHeaderTimeout, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
