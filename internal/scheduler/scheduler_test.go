// internal/scheduler/scheduler_test.go
package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{5 * time.Minute, 50 * time.Second},
		{time.Minute, 15 * time.Second},
		{0, 15 * time.Second},
		{time.Hour, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := SweepInterval(tt.ttl); got != tt.want {
			t.Errorf("SweepInterval(%v) = %v, want %v", tt.ttl, got, tt.want)
		}
	}
}

func TestSweeperFires(t *testing.T) {
	var fires atomic.Int32
	sweeper := New(Every(time.Second), func() {
		fires.Add(1)
	})
	sweeper.Start()
	defer sweeper.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	for fires.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweep did not fire within 2.5s")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSweeperSkipsOverlap(t *testing.T) {
	var running, maxSeen, fires atomic.Int32
	sweeper := New(Every(time.Second), func() {
		fires.Add(1)
		current := running.Add(1)
		for {
			old := maxSeen.Load()
			if current <= old || maxSeen.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(1500 * time.Millisecond)
		running.Add(-1)
	})
	sweeper.Start()
	time.Sleep(3500 * time.Millisecond)
	sweeper.Stop()

	if fires.Load() == 0 {
		t.Fatal("expected at least one sweep")
	}
	if m := maxSeen.Load(); m > 1 {
		t.Errorf("expected sweeps not to overlap, saw %d concurrent", m)
	}
}
