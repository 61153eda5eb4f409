package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUploadLimiter_Slots(t *testing.T) {
	l := NewUploadLimiter(2, 20*time.Millisecond)
	ctx := context.Background()

	for i := range 2 {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire(%d) error = %v", i, err)
		}
	}
	if got := l.Status(); got.Active != 2 || got.Available != 0 || got.MaxConcurrent != 2 {
		t.Errorf("Status() when full = %+v", got)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire() succeeded with no free slot")
	}

	start := time.Now()
	err := l.Acquire(ctx)
	if !errors.Is(err, ErrTooManyUploads) {
		t.Fatalf("Acquire() when full error = %v, want ErrTooManyUploads", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("Acquire() gave up after %v, want about 20ms", elapsed)
	}
	if msg := MapError(err); msg.Code != "UPL002" {
		t.Errorf("MapError(ErrTooManyUploads).Code = %q, want UPL002", msg.Code)
	}

	l.Release()
	if !l.TryAcquire() {
		t.Error("TryAcquire() failed after Release")
	}
	l.Release()
	l.Release()
	if got := l.Status(); got.Active != 0 || got.Available != 2 {
		t.Errorf("Status() after release = %+v", got)
	}
}

func TestUploadLimiter_Defaults(t *testing.T) {
	l := NewUploadLimiter(0, 0)
	if got := l.Status().MaxConcurrent; got != DefaultMaxConcurrentUploads {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentUploads)
	}
	if l.maxWait != DefaultMaxWaitTime {
		t.Errorf("maxWait = %v, want %v", l.maxWait, DefaultMaxWaitTime)
	}
}

func TestUploadLimiter_ContextCancelled(t *testing.T) {
	l := NewUploadLimiter(1, time.Minute)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire() on empty limiter failed")
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestUploadLimiter_ReleaseUnblocksWaiter(t *testing.T) {
	l := NewUploadLimiter(1, time.Second)
	_ = l.Acquire(context.Background())

	got := make(chan error, 1)
	go func() { got <- l.Acquire(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	l.Release()

	select {
	case err := <-got:
		if err != nil {
			t.Errorf("waiter Acquire() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not unblocked by Release")
	}
	l.Release()
}

func TestUploadLimiter_ConcurrentNeverExceedsMax(t *testing.T) {
	const max = 3
	l := NewUploadLimiter(max, time.Second)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			l.Release()
		}()
	}
	wg.Wait()

	if peak.Load() > max {
		t.Errorf("peak concurrency = %d, want <= %d", peak.Load(), max)
	}
	if l.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d after all released", l.ActiveCount())
	}
}

func TestUploadLimiter_WaitForDrain(t *testing.T) {
	l := NewUploadLimiter(2, time.Second)
	_ = l.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain() with a held slot error = %v, want DeadlineExceeded", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := l.WaitForDrain(ctx2); err != nil {
		t.Errorf("WaitForDrain() error = %v", err)
	}
}
