package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/google/uuid"
)

// MemoryURL selects the in-memory store in place of a PostgreSQL URL.
const MemoryURL = "memory://"

// IsMemoryURL reports whether url selects the in-memory store.
func IsMemoryURL(url string) bool {
	return strings.HasPrefix(url, MemoryURL)
}

// Memory is a process-local store. Data is lost on restart.
type Memory struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]core.Job
	records []core.Record

	// InsertHook, when set, replaces InsertRecords' behavior after the
	// records it reports as inserted are stored.
	InsertHook func(records []core.Record) (int, error)
}

var _ core.Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[uuid.UUID]core.Job)}
}

// InsertRecords appends records. With InsertHook set, only the first n
// records the hook reports as inserted are stored.
func (m *Memory) InsertRecords(ctx context.Context, records []core.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := len(records), error(nil)
	if m.InsertHook != nil {
		n, err = m.InsertHook(records)
		n = min(max(n, 0), len(records))
	}

	m.mu.Lock()
	m.records = append(m.records, records[:n]...)
	m.mu.Unlock()
	return n, err
}

// SoftDeleteRecords flags a job's records as deleted.
func (m *Memory) SoftDeleteRecords(_ context.Context, jobID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.records {
		if m.records[i].IngestionJobID == jobID && !m.records[i].IsDeleted {
			m.records[i].IsDeleted = true
			n++
		}
	}
	return n, nil
}

// PurgeRecords removes a job's records.
func (m *Memory) PurgeRecords(_ context.Context, jobID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var n int64
	for _, r := range m.records {
		if r.IngestionJobID == jobID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

// Records returns a copy of a job's records in insertion order.
func (m *Memory) Records(jobID uuid.UUID) []core.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Record
	for _, r := range m.records {
		if r.IngestionJobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// CreateJob stores a new job.
func (m *Memory) CreateJob(_ context.Context, job *core.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", core.ErrDuplicate, job.ID)
	}
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

// GetJob returns a copy of a job.
func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	job = cloneJob(job)
	return &job, nil
}

// FindJobByStorageKey returns the newest job for a stored file.
func (m *Memory) FindJobByStorageKey(_ context.Context, key string) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *core.Job
	for _, job := range m.jobs {
		if job.StorageKey != key {
			continue
		}
		if found == nil || job.CreatedAt.After(found.CreatedAt) {
			j := cloneJob(job)
			found = &j
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: storage key %s", core.ErrJobNotFound, key)
	}
	return found, nil
}

// ListJobs returns up to limit jobs, newest first.
func (m *Memory) ListJobs(_ context.Context, limit int) ([]core.Job, error) {
	m.mu.Lock()
	jobs := make([]core.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// UpdateJob overwrites a job.
func (m *Memory) UpdateJob(_ context.Context, job *core.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, job.ID)
	}
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

// UpdateProgress writes only the counters.
func (m *Memory) UpdateProgress(_ context.Context, id uuid.UUID, p core.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	job.TotalRows, job.SuccessRows, job.FailedRows = p.TotalRows, p.SuccessRows, p.FailedRows
	m.jobs[id] = job
	return nil
}

func cloneJob(j core.Job) core.Job {
	if j.Mapping != nil {
		m := make(core.Mapping, len(j.Mapping))
		for k, v := range j.Mapping {
			m[k] = v
		}
		j.Mapping = m
	}
	j.Headers = append([]string(nil), j.Headers...)
	return j
}
