package core

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// fakeStore is an in-package Store for tests. insert, when set, decides the
// outcome of each InsertRecords call.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]Job
	records  []Record
	progress []Progress
	insert   func(records []Record) (int, error)
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]Job)}
}

func (s *fakeStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func (s *fakeStore) FindJobByStorageKey(_ context.Context, key string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Job
	for _, j := range s.jobs {
		if j.StorageKey != key {
			continue
		}
		if found == nil || j.CreatedAt.After(found.CreatedAt) {
			j := j
			found = &j
		}
	}
	if found == nil {
		return nil, ErrJobNotFound
	}
	return found, nil
}

func (s *fakeStore) ListJobs(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) UpdateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *fakeStore) UpdateProgress(_ context.Context, id uuid.UUID, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.TotalRows, j.SuccessRows, j.FailedRows = p.TotalRows, p.SuccessRows, p.FailedRows
	s.jobs[id] = j
	s.progress = append(s.progress, p)
	return nil
}

func (s *fakeStore) InsertRecords(_ context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	n, err := len(records), error(nil)
	if s.insert != nil {
		n, err = s.insert(records)
	}
	s.records = append(s.records, records[:n]...)
	return n, err
}

func (s *fakeStore) SoftDeleteRecords(_ context.Context, jobID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.records {
		if s.records[i].IngestionJobID == jobID && !s.records[i].IsDeleted {
			s.records[i].IsDeleted = true
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) PurgeRecords(_ context.Context, jobID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var n int64
	for _, r := range s.records {
		if r.IngestionJobID == jobID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return n, nil
}

func (s *fakeStore) job(id uuid.UUID) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *fakeStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
