package core

// tracker.go owns the job record while a pipeline runs.
//
// All counter changes are sent to one goroutine over a channel, so the job is
// mutated by a single writer no matter how many stages report progress. The
// in-memory counters are always current; the stored copy is refreshed at most
// once per flush interval and once more when the run finishes.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultProgressInterval is the minimum time between stored progress updates.
const DefaultProgressInterval = time.Second

const finalWriteTimeout = 10 * time.Second

type trackerMsg struct {
	rows, success, failed int64

	finish *trackerFinish
	query  chan Job
}

type trackerFinish struct {
	status JobStatus
	errMsg string
	reply  chan finishReply
}

type finishReply struct {
	job Job
	err error
}

// Tracker serializes progress updates for one job.
type Tracker struct {
	store    JobStore
	job      Job
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	updates chan trackerMsg
	done    chan struct{}

	lastFlush time.Time
	dirty     bool
}

// NewTracker creates a tracker seeded with job. Run must be started before
// any other method is called.
func NewTracker(store JobStore, job Job, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Tracker{
		store:    store,
		job:      job,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default().With("job_id", job.ID),
		updates:  make(chan trackerMsg, 64),
		done:     make(chan struct{}),
	}
}

// Run processes updates until Finish is called. Progress writes use ctx;
// the final write survives ctx cancellation.
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.done)
	t.lastFlush = t.now()

	for msg := range t.updates {
		switch {
		case msg.finish != nil:
			job, err := t.finish(ctx, msg.finish)
			msg.finish.reply <- finishReply{job: job, err: err}
			return
		case msg.query != nil:
			msg.query <- t.job
		default:
			t.job.TotalRows += msg.rows
			t.job.SuccessRows += msg.success
			t.job.FailedRows += msg.failed
			t.dirty = true
			if t.now().Sub(t.lastFlush) >= t.interval {
				t.flush(ctx)
			}
		}
	}
}

// AddRows records rows read from the source. Rejected rows must also be
// reported through AddResults.
func (t *Tracker) AddRows(n int64) {
	if n != 0 {
		t.updates <- trackerMsg{rows: n}
	}
}

// AddResults records write or validation outcomes.
func (t *Tracker) AddResults(success, failed int64) {
	if success != 0 || failed != 0 {
		t.updates <- trackerMsg{success: success, failed: failed}
	}
}

// Snapshot returns the tracker's current view of the job.
func (t *Tracker) Snapshot() Job {
	reply := make(chan Job, 1)
	t.updates <- trackerMsg{query: reply}
	return <-reply
}

// Finish moves the job to its final status, writes it and stops Run.
func (t *Tracker) Finish(status JobStatus, errMsg string) (Job, error) {
	reply := make(chan finishReply, 1)
	t.updates <- trackerMsg{finish: &trackerFinish{status: status, errMsg: errMsg, reply: reply}}
	r := <-reply
	<-t.done
	return r.job, r.err
}

func (t *Tracker) flush(ctx context.Context) {
	if !t.dirty {
		return
	}
	if err := t.store.UpdateProgress(ctx, t.job.ID, t.job.Progress()); err != nil {
		t.logger.Warn("progress update failed", "error", err)
		return
	}
	t.lastFlush = t.now()
	t.dirty = false
}

func (t *Tracker) finish(ctx context.Context, f *trackerFinish) (Job, error) {
	if err := t.job.Transition(f.status, t.now(), f.errMsg); err != nil {
		return t.job, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := t.store.UpdateJob(wctx, &t.job); err != nil {
		return t.job, err
	}
	t.dirty = false
	return t.job, nil
}
