package core

// runner.go is the bounded work queue that runs ingestion pipelines.
//
// Jobs are submitted to a fixed-size queue and consumed by a fixed number of
// workers (one by default, so a single file is ingested at a time). A job id
// may be queued or running at most once.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// Default runner settings.
const (
	DefaultWorkers   = 1
	DefaultQueueSize = 64
)

type task struct {
	jobID uuid.UUID
	run   func(ctx context.Context)
}

// Runner executes submitted jobs on a bounded pool of workers.
type Runner struct {
	queue   chan task
	workers int

	mu     sync.Mutex
	active map[uuid.UUID]struct{}

	wg sync.WaitGroup
}

// NewRunner creates a runner. Call Start to launch its workers.
func NewRunner(workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Runner{
		queue:   make(chan task, queueSize),
		workers: workers,
		active:  make(map[uuid.UUID]struct{}),
	}
}

// Start launches the workers. They stop when ctx is cancelled; queued jobs
// that have not started are dropped.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
	slog.Info("job runner started", "workers", r.workers, "queue_size", cap(r.queue))
}

// Submit enqueues run for jobID without blocking.
func (r *Runner) Submit(jobID uuid.UUID, run func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}

	select {
	case r.queue <- task{jobID: jobID, run: run}:
		r.active[jobID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// IsActive reports whether jobID is queued or running.
func (r *Runner) IsActive(jobID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

// ActiveCount returns the number of queued or running jobs.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Wait blocks until all workers have exited or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("job runner worker stopped", "worker", id)
			return
		case t := <-r.queue:
			r.execute(ctx, t)
		}
	}
}

func (r *Runner) execute(ctx context.Context, t task) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("job panicked",
				"job_id", t.jobID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		r.mu.Lock()
		delete(r.active, t.jobID)
		r.mu.Unlock()
	}()
	t.run(ctx)
}
