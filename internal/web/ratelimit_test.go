package web

import (
	"testing"
	"time"
)

func TestIPLimiter_Reserve(t *testing.T) {
	l := newIPLimiter(60)
	defer l.stop()
	now := time.Now()

	for i := range 60 {
		if ok, _ := l.reserve("10.0.0.1", now); !ok {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	ok, wait := l.reserve("10.0.0.1", now)
	if ok {
		t.Fatal("request beyond burst allowed")
	}
	if wait <= 0 || wait > time.Second+10*time.Millisecond {
		t.Errorf("wait = %v, want about 1s", wait)
	}

	if ok, _ := l.reserve("10.0.0.2", now); !ok {
		t.Error("other IP denied")
	}
	if ok, _ := l.reserve("10.0.0.1", now.Add(time.Second)); !ok {
		t.Error("token not refilled after a second")
	}
}

func TestIPLimiter_Prune(t *testing.T) {
	l := newIPLimiter(10)
	defer l.stop()
	now := time.Now()

	l.reserve("a", now)
	l.reserve("b", now.Add(2*time.Minute))
	l.prune(now.Add(2*time.Minute + time.Second))

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["a"]; ok {
		t.Error("idle bucket not pruned")
	}
	if _, ok := l.buckets["b"]; !ok {
		t.Error("active bucket pruned")
	}
}
