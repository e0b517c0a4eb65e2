package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/adaptivechat/internal/types"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.processor = func(run *Run) error {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	for i := 0; i < 5; i++ {
		run := &Run{
			ID:     types.NewRunID(),
			Key:    types.ConversationKey(fmt.Sprintf("conversation-%d", i)),
			Status: RunStatusQueued,
		}
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueProcessorCalled(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var processed int32

	queue.SetProcessor(func(run *Run) error {
		if run.Status != RunStatusRunning || run.StartedAt == nil {
			t.Errorf("expected a running run, got %s", run.Status)
		}
		atomic.AddInt32(&processed, 1)
		return nil
	})

	run := &Run{
		ID:     types.NewRunID(),
		Key:    types.ConversationKey("test-conversation"),
		Status: RunStatusQueued,
	}
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&processed) != 1 {
		t.Errorf("expected 1 processed run, got %d", processed)
	}
}

func TestQueueSameConversationOrdering(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	queue.SetProcessor(func(run *Run) error {
		mu.Lock()
		order = append(order, run.Event.Text)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	key := types.ConversationKey("same-conversation")
	for i := 0; i < 3; i++ {
		run := NewRun(&types.InboundEvent{Key: key, Text: fmt.Sprint(i)})
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != fmt.Sprint(i) {
			t.Errorf("expected order[%d] = %d, got %s", i, i, v)
		}
	}
}

func TestQueueProcessorErrorFailsRun(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	boom := errors.New("boom")
	queue.SetProcessor(func(run *Run) error { return boom })

	failed := make(chan error, 1)
	run := NewRun(&types.InboundEvent{Key: "k", Text: "hi"})
	run.OnError = func(err error) { failed <- err }
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	// Enqueue without setting a processor -- should not panic
	run := &Run{
		ID:     types.NewRunID(),
		Key:    types.ConversationKey("no-proc"),
		Status: RunStatusQueued,
	}
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	queue.Stop()

	if err := queue.Enqueue(NewRun(&types.InboundEvent{Key: "k"})); err == nil {
		t.Error("expected an error after stop")
	}
}
