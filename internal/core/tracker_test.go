package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func startTracker(t *testing.T, store *fakeStore, job Job, interval time.Duration) *Tracker {
	t.Helper()
	if err := store.CreateJob(context.Background(), &job); err != nil {
		t.Fatal(err)
	}
	tr := NewTracker(store, job, interval)
	go tr.Run(context.Background())
	return tr
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	store := newFakeStore()
	job := Job{ID: uuid.New(), Status: StatusProcessing}
	tr := startTracker(t, store, job, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.AddRows(1)
				if j%4 == 0 {
					tr.AddResults(0, 1)
				} else {
					tr.AddResults(1, 0)
				}
			}
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.TotalRows != 800 || snap.SuccessRows != 600 || snap.FailedRows != 200 {
		t.Errorf("snapshot = %+v", snap.Progress())
	}

	final, err := tr.Finish(StatusCompleted, "")
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if final.Status != StatusCompleted || final.CompletedAt == nil {
		t.Errorf("final = %s, completed %v", final.Status, final.CompletedAt)
	}

	stored := store.job(job.ID)
	if stored.Status != StatusCompleted || stored.SuccessRows+stored.FailedRows != stored.TotalRows {
		t.Errorf("stored job = %s %+v", stored.Status, stored.Progress())
	}
}

func TestTracker_FlushesOnInterval(t *testing.T) {
	store := newFakeStore()
	job := Job{ID: uuid.New(), Status: StatusProcessing}
	tr := startTracker(t, store, job, time.Nanosecond)

	tr.AddRows(3)
	tr.AddResults(2, 1)
	tr.Snapshot() // the updates above have been applied once this returns

	if got := store.job(job.ID); got.TotalRows != 3 || got.SuccessRows != 2 || got.FailedRows != 1 {
		t.Errorf("stored progress = %+v, want 3/2/1", got.Progress())
	}
	tr.Finish(StatusCompleted, "")
}

func TestTracker_FailedKeepsCounters(t *testing.T) {
	store := newFakeStore()
	job := Job{ID: uuid.New(), Status: StatusProcessing}
	tr := startTracker(t, store, job, time.Hour)

	tr.AddRows(10)
	tr.AddResults(7, 3)
	final, err := tr.Finish(StatusFailed, "source stream: unexpected EOF")
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	stored := store.job(job.ID)
	if stored.Status != StatusFailed || stored.TotalRows != 10 || stored.SuccessRows != 7 {
		t.Errorf("stored = %s %+v", stored.Status, stored.Progress())
	}
	if final.Error == nil || *final.Error != "source stream: unexpected EOF" {
		t.Errorf("Error = %v", final.Error)
	}
}

func TestTracker_InvalidFinish(t *testing.T) {
	store := newFakeStore()
	job := Job{ID: uuid.New(), Status: StatusCompleted}
	tr := startTracker(t, store, job, time.Hour)

	if _, err := tr.Finish(StatusFailed, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Finish() error = %v, want ErrInvalidTransition", err)
	}
}
