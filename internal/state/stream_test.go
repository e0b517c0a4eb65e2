// internal/state/stream_test.go
package state

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/adaptivechat/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStreamLifecycle(t *testing.T) {
	clock := newFakeClock()
	store := NewStreamStore(WithClock(clock.Now))

	rec, err := store.Start(StartOptions{ThreadID: "t1", ProjectID: "p1", Prompt: "what is 2+2?"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StreamStreaming || rec.Content != "" {
		t.Errorf("unexpected initial record %+v", rec)
	}

	clock.Advance(time.Second)
	for _, chunk := range []string{"4", "."} {
		if err := store.Append("t1", chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Finish("t1"); err != nil {
		t.Fatal(err)
	}

	got, ok := store.Get("t1")
	if !ok {
		t.Fatal("expected record")
	}
	if got.Content != "4." || got.Status != StreamFinished {
		t.Errorf("expected finished '4.', got %q %s", got.Content, got.Status)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("expected UpdatedAt to be bumped")
	}
	if got.ProjectID != "p1" || got.Prompt != "what is 2+2?" {
		t.Errorf("unexpected identifiers %+v", got)
	}
}

func TestStartWithInitialContent(t *testing.T) {
	store := NewStreamStore()
	rec, err := store.Start(StartOptions{ThreadID: "t1", Content: "Planning..."})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Content != "Planning..." {
		t.Errorf("expected initial content, got %q", rec.Content)
	}
}

func TestStartWhileStreaming(t *testing.T) {
	store := NewStreamStore()
	if _, err := store.Start(StartOptions{ThreadID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Start(StartOptions{ThreadID: "t1"}); !errors.Is(err, ErrStreamActive) {
		t.Fatalf("expected ErrStreamActive, got %v", err)
	}

	// a terminal record may be replaced
	store.Fail("t1", "boom")
	rec, err := store.Start(StartOptions{ThreadID: "t1", Prompt: "again"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Prompt != "again" || rec.Error != "" {
		t.Errorf("expected a fresh record, got %+v", rec)
	}
}

func TestStartRequiresThreadID(t *testing.T) {
	store := NewStreamStore()
	if _, err := store.Start(StartOptions{}); err == nil {
		t.Error("expected error for empty thread id")
	}
}

func TestTerminalRecordsAreFrozen(t *testing.T) {
	store := NewStreamStore()
	store.Start(StartOptions{ThreadID: "t1"})
	store.Append("t1", "Day 1: ")
	if err := store.Fail("t1", "cancelled"); err != nil {
		t.Fatal(err)
	}

	if err := store.Append("t1", "late"); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming for append, got %v", err)
	}
	if err := store.Finish("t1"); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming for finish after fail, got %v", err)
	}
	if err := store.Fail("t1", "other"); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming for second fail, got %v", err)
	}

	rec, _ := store.Get("t1")
	if rec.Status != StreamFailed || rec.Error != "cancelled" || rec.Content != "Day 1: " {
		t.Errorf("terminal record changed: %+v", rec)
	}
}

func TestMissingRecord(t *testing.T) {
	store := NewStreamStore()
	if err := store.Append("nope", "x"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
	if err := store.Finish("nope"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
	store.Clear("nope")
	if store.Len() != 0 {
		t.Error("clear of absent record should be a no-op")
	}
}

func TestClear(t *testing.T) {
	store := NewStreamStore()
	store.Start(StartOptions{ThreadID: "t1"})
	store.Clear("t1")
	if _, ok := store.Get("t1"); ok {
		t.Error("expected record removed")
	}
}

func TestCleanupExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewStreamStore(WithClock(clock.Now))
	ttl := 5 * time.Minute

	store.Start(StartOptions{ThreadID: "finished"})
	store.Finish("finished")
	store.Start(StartOptions{ThreadID: "failed"})
	store.Fail("failed", "boom")
	store.Start(StartOptions{ThreadID: "streaming"})

	clock.Advance(ttl)
	if n := store.CleanupExpired(ttl); n != 0 {
		t.Errorf("expected nothing expired at exactly ttl, removed %d", n)
	}

	clock.Advance(time.Millisecond)
	if n := store.CleanupExpired(ttl); n != 2 {
		t.Errorf("expected 2 expired records, removed %d", n)
	}
	if _, ok := store.Get("streaming"); !ok {
		t.Error("streaming record must never be evicted")
	}

	clock.Advance(24 * time.Hour)
	store.CleanupExpired(ttl)
	if _, ok := store.Get("streaming"); !ok {
		t.Error("streaming record must never be evicted")
	}
}

func TestCleanupSkippedWhileRunning(t *testing.T) {
	clock := newFakeClock()
	store := NewStreamStore(WithClock(clock.Now))
	store.Start(StartOptions{ThreadID: "t1"})
	store.Finish("t1")
	clock.Advance(time.Hour)

	store.sweeping.Store(true)
	if n := store.CleanupExpired(time.Minute); n != 0 {
		t.Errorf("expected reentrant cleanup to be skipped, removed %d", n)
	}
	store.sweeping.Store(false)
	if n := store.CleanupExpired(time.Minute); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
}

func TestTTLEvictionThenRestart(t *testing.T) {
	clock := newFakeClock()
	store := NewStreamStore(WithClock(clock.Now))
	ttl := 5 * time.Minute

	store.Start(StartOptions{ThreadID: "t1"})
	store.Finish("t1")
	clock.Advance(ttl + time.Millisecond)
	store.CleanupExpired(ttl)

	if _, ok := store.Get("t1"); ok {
		t.Fatal("expected record evicted")
	}
	if _, err := store.Start(StartOptions{ThreadID: "t1"}); err != nil {
		t.Fatalf("expected restart to succeed, got %v", err)
	}
}

func TestRekey(t *testing.T) {
	store := NewStreamStore()
	store.Start(StartOptions{ThreadID: "local", ProjectID: "p0", Content: "Planning..."})

	if err := store.Rekey("local", "t1", "p1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get("local"); ok {
		t.Error("expected old key removed")
	}
	rec, ok := store.Get("t1")
	if !ok {
		t.Fatal("expected record under new key")
	}
	if rec.ThreadID != "t1" || rec.ProjectID != "p1" || rec.Content != "Planning..." || rec.Status != StreamStreaming {
		t.Errorf("unexpected record %+v", rec)
	}
	if err := store.Append("t1", "Day 1: "); err != nil {
		t.Fatal(err)
	}

	store.Start(StartOptions{ThreadID: "other"})
	if err := store.Rekey("other", "t1", ""); !errors.Is(err, ErrStreamActive) {
		t.Errorf("expected ErrStreamActive, got %v", err)
	}
	if err := store.Rekey("missing", "t2", ""); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestContentIsPrefixChain(t *testing.T) {
	store := NewStreamStore()
	store.Start(StartOptions{ThreadID: "t1"})

	var wg sync.WaitGroup
	done := make(chan struct{})
	violations := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		prev := ""
		for {
			select {
			case <-done:
				return
			default:
			}
			rec, _ := store.Get("t1")
			if !strings.HasPrefix(rec.Content, prev) {
				select {
				case violations <- rec.Content:
				default:
				}
				return
			}
			prev = rec.Content
		}
	}()

	for i := 0; i < 500; i++ {
		store.Append("t1", "x")
	}
	store.Finish("t1")
	close(done)
	wg.Wait()

	select {
	case v := <-violations:
		t.Fatalf("snapshot %q does not extend the previous one", v)
	default:
	}
	rec, _ := store.Get("t1")
	if len(rec.Content) != 500 {
		t.Errorf("expected 500 chars, got %d", len(rec.Content))
	}
}

func TestSubscribe(t *testing.T) {
	store := NewStreamStore()
	changes, cancel := store.Subscribe()

	store.Start(StartOptions{ThreadID: "t1"})
	store.Append("t1", "a")

	for i := 0; i < 2; i++ {
		select {
		case id := <-changes:
			if id != types.ThreadID("t1") {
				t.Errorf("expected t1, got %s", id)
			}
		case <-time.After(time.Second):
			t.Fatal("expected change notification")
		}
	}

	cancel()
	cancel()
	if _, ok := <-changes; ok {
		t.Error("expected channel closed after cancel")
	}
	store.Append("t1", "b")
}
