package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/adaptivechat/internal/types"
)

// Queue manages per-conversation lanes with a global concurrency semaphore.
// Each conversation gets its own FIFO channel (lane) so that its runs are
// processed one at a time, while the semaphore limits the total number of
// concurrent runs across all conversations.
type Queue struct {
	lanes     map[types.ConversationKey]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.ConversationKey]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for key, lane := range q.lanes {
		close(lane)
		delete(q.lanes, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its conversation's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue not running")
	}

	lane, exists := q.lanes[run.Key]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.Key] = lane
		q.wg.Add(1)
		go q.processLane(run.Key, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for conversation %s", run.Key)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before running
// the processor synchronously. A run may hand its slot back while it waits on
// the user, so the slot is released through the run.
func (q *Queue) processLane(key types.ConversationKey, lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			run.slot = &slot{sem: q.semaphore, held: true}
			if q.processor != nil {
				q.active.Add(1)
				run.Ctx = q.ctx
				run.start()
				if err := q.processor(run); err != nil {
					slog.Error("run failed", "run_id", string(run.ID), "conversation", string(key), "error", err)
					run.fail(err)
				}
				q.active.Add(-1)
			}
			run.slot.Yield()
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}

// slot is a run's share of the queue semaphore. Calls are sequential within
// one run: the processor yields and reclaims, then the lane yields last.
type slot struct {
	sem  *semaphore.Weighted
	held bool
}

func (s *slot) Yield() {
	if s.held {
		s.sem.Release(1)
		s.held = false
	}
}

func (s *slot) Reclaim(ctx context.Context) error {
	if s.held {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held = true
	return nil
}
