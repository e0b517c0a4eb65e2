// internal/state/stream.go
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/adaptivechat/internal/types"
)

// StreamStatus represents the lifecycle state of a StreamRecord.
type StreamStatus string

const (
	StreamIdle      StreamStatus = "idle"
	StreamStreaming StreamStatus = "streaming"
	StreamFinished  StreamStatus = "finished"
	StreamFailed    StreamStatus = "failed"
)

var (
	// ErrStreamActive means a streaming record already exists for the thread.
	ErrStreamActive = errors.New("stream already active for thread")

	// ErrStreamNotFound means no record exists for the thread.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrNotStreaming means the record has already finished or failed; the
	// store was left unchanged.
	ErrNotStreaming = errors.New("stream is not streaming")
)

// StreamRecord is the accumulated state of one assistant generation.
type StreamRecord struct {
	ThreadID  types.ThreadID
	ProjectID types.ProjectID
	Prompt    string
	Content   string
	Status    StreamStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the record has finished or failed.
func (r StreamRecord) Terminal() bool {
	return r.Status == StreamFinished || r.Status == StreamFailed
}

// StartOptions describe a new stream.
type StartOptions struct {
	ThreadID  types.ThreadID
	ProjectID types.ProjectID
	Prompt    string
	Content   string
}

// StoreOption configures a StreamStore.
type StoreOption func(*StreamStore)

// WithClock replaces time.Now, letting tests drive TTL expiry.
func WithClock(now func() time.Time) StoreOption {
	return func(s *StreamStore) { s.now = now }
}

// StreamStore maps thread IDs to stream records. Content only grows while a
// record is streaming and is frozen once it finishes or fails. Reads return
// copies.
type StreamStore struct {
	mu       sync.RWMutex
	records  map[types.ThreadID]*StreamRecord
	now      func() time.Time
	sweeping atomic.Bool

	subMu   sync.Mutex
	subs    map[int]chan types.ThreadID
	nextSub int
}

// NewStreamStore creates an empty store.
func NewStreamStore(opts ...StoreOption) *StreamStore {
	s := &StreamStore{
		records: make(map[types.ThreadID]*StreamRecord),
		now:     time.Now,
		subs:    make(map[int]chan types.ThreadID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start inserts a streaming record, replacing a terminal one for the same
// thread. It fails with ErrStreamActive while the thread is streaming.
func (s *StreamStore) Start(opts StartOptions) (StreamRecord, error) {
	if opts.ThreadID == "" {
		return StreamRecord{}, fmt.Errorf("start stream: empty thread id")
	}

	s.mu.Lock()
	if existing, ok := s.records[opts.ThreadID]; ok && existing.Status == StreamStreaming {
		s.mu.Unlock()
		return StreamRecord{}, fmt.Errorf("start stream %s: %w", opts.ThreadID, ErrStreamActive)
	}
	now := s.now()
	rec := &StreamRecord{
		ThreadID:  opts.ThreadID,
		ProjectID: opts.ProjectID,
		Prompt:    opts.Prompt,
		Content:   opts.Content,
		Status:    StreamStreaming,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[opts.ThreadID] = rec
	snapshot := *rec
	s.mu.Unlock()

	s.notify(opts.ThreadID)
	return snapshot, nil
}

// Append concatenates chunk to a streaming record. A chunk for a finished,
// failed or missing record is dropped and reported.
func (s *StreamStore) Append(threadID types.ThreadID, chunk string) error {
	return s.mutate(threadID, func(rec *StreamRecord) {
		rec.Content += chunk
	})
}

// Finish marks a streaming record finished.
func (s *StreamStore) Finish(threadID types.ThreadID) error {
	return s.mutate(threadID, func(rec *StreamRecord) {
		rec.Status = StreamFinished
	})
}

// Fail marks a streaming record failed with reason.
func (s *StreamStore) Fail(threadID types.ThreadID, reason string) error {
	return s.mutate(threadID, func(rec *StreamRecord) {
		rec.Status = StreamFailed
		rec.Error = reason
	})
}

func (s *StreamStore) mutate(threadID types.ThreadID, fn func(*StreamRecord)) error {
	s.mu.Lock()
	rec, ok := s.records[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrStreamNotFound
	}
	if rec.Status != StreamStreaming {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	fn(rec)
	rec.UpdatedAt = s.now()
	s.mu.Unlock()

	s.notify(threadID)
	return nil
}

// Clear removes the record for threadID. Clearing an absent record is a
// no-op.
func (s *StreamStore) Clear(threadID types.ThreadID) {
	s.mu.Lock()
	_, ok := s.records[threadID]
	delete(s.records, threadID)
	s.mu.Unlock()

	if ok {
		s.notify(threadID)
	}
}

// Get returns a copy of the record for threadID.
func (s *StreamStore) Get(threadID types.ThreadID) (StreamRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[threadID]
	if !ok {
		return StreamRecord{}, false
	}
	return *rec, true
}

// Len returns the number of records held.
func (s *StreamStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Rekey moves the record for from to the server-assigned thread to, updating
// its project when projectID is non-empty. It fails with ErrStreamActive if
// to is already streaming.
func (s *StreamStore) Rekey(from, to types.ThreadID, projectID types.ProjectID) error {
	if from == to && projectID == "" {
		return nil
	}

	s.mu.Lock()
	rec, ok := s.records[from]
	if !ok {
		s.mu.Unlock()
		return ErrStreamNotFound
	}
	if from != to {
		if existing, ok := s.records[to]; ok && existing.Status == StreamStreaming {
			s.mu.Unlock()
			return fmt.Errorf("rekey stream %s: %w", to, ErrStreamActive)
		}
		delete(s.records, from)
		rec.ThreadID = to
		s.records[to] = rec
	}
	if projectID != "" {
		rec.ProjectID = projectID
	}
	rec.UpdatedAt = s.now()
	s.mu.Unlock()

	s.notify(from)
	if from != to {
		s.notify(to)
	}
	return nil
}

// CleanupExpired removes finished and failed records not updated within ttl
// and returns how many were removed. Streaming records are never removed. A
// call made while another cleanup is running returns 0 immediately.
func (s *StreamStore) CleanupExpired(ttl time.Duration) int {
	if !s.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer s.sweeping.Store(false)

	s.mu.Lock()
	cutoff := s.now().Add(-ttl)
	var removed []types.ThreadID
	for id, rec := range s.records {
		if rec.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.notify(id)
	}
	return len(removed)
}

// Subscribe returns a channel that receives the thread ID of every changed
// record, and a func that ends the subscription. Notifications are dropped
// when the subscriber's buffer is full, so consumers should re-read with Get.
func (s *StreamStore) Subscribe() (<-chan types.ThreadID, func()) {
	ch := make(chan types.ThreadID, 64)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *StreamStore) notify(threadID types.ThreadID) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- threadID:
		default:
		}
	}
}
