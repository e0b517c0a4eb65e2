// Package session mints stream sessions on the shared stream store and
// evicts expired ones.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/adaptivechat/internal/scheduler"
	"github.com/user/adaptivechat/internal/state"
	"github.com/user/adaptivechat/internal/types"
)

// DefaultTTL is how long a finished or failed stream is kept.
const DefaultTTL = 5 * time.Minute

// Options describe a new session. Missing identifiers are minted.
type Options struct {
	Prompt         string
	ProjectID      types.ProjectID
	ThreadID       types.ThreadID
	InitialContent string
}

// Manager creates sessions and runs the periodic TTL sweep.
type Manager struct {
	store *state.StreamStore
	ttl   time.Duration

	mu      sync.Mutex
	sweeper *scheduler.Sweeper
}

// NewManager creates a Manager over store. A non-positive ttl selects
// DefaultTTL.
func NewManager(store *state.StreamStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// Store returns the underlying stream store.
func (m *Manager) Store() *state.StreamStore {
	return m.store
}

// TTL returns the configured stream lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CreateSession opens a stream and returns a handle bound to its thread.
func (m *Manager) CreateSession(opts Options) (*Handle, error) {
	if opts.ThreadID == "" {
		opts.ThreadID = types.NewThreadID()
	}
	if opts.ProjectID == "" {
		opts.ProjectID = types.NewProjectID()
	}
	_, err := m.store.Start(state.StartOptions{
		ThreadID:  opts.ThreadID,
		ProjectID: opts.ProjectID,
		Prompt:    opts.Prompt,
		Content:   opts.InitialContent,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Handle{ProjectID: opts.ProjectID, ThreadID: opts.ThreadID, store: m.store}, nil
}

// Rebind moves the session's stream to server-assigned identifiers and
// returns a handle bound to them. The old handle must not be used again.
func (m *Manager) Rebind(h *Handle, threadID types.ThreadID, projectID types.ProjectID) (*Handle, error) {
	if threadID == "" {
		threadID = h.ThreadID
	}
	if projectID == "" {
		projectID = h.ProjectID
	}
	if threadID == h.ThreadID && projectID == h.ProjectID {
		return h, nil
	}
	if err := m.store.Rekey(h.ThreadID, threadID, projectID); err != nil {
		return nil, fmt.Errorf("rebind session: %w", err)
	}
	return &Handle{ProjectID: projectID, ThreadID: threadID, store: m.store}, nil
}

// Sweep evicts expired streams now and returns how many were removed.
func (m *Manager) Sweep() int {
	n := m.store.CleanupExpired(m.ttl)
	if n > 0 {
		slog.Debug("evicted expired streams", "count", n, "ttl", m.ttl)
	}
	return n
}

// Start runs Sweep every SweepInterval(ttl). Calling Start twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweeper != nil {
		return
	}
	m.sweeper = scheduler.New(scheduler.Every(scheduler.SweepInterval(m.ttl)), func() { m.Sweep() })
	m.sweeper.Start()
}

// Stop halts the sweep and waits for a running one to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	sweeper := m.sweeper
	m.sweeper = nil
	m.mu.Unlock()
	if sweeper != nil {
		sweeper.Stop()
	}
}
