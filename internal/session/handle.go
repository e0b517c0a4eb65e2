package session

import (
	"github.com/user/adaptivechat/internal/state"
	"github.com/user/adaptivechat/internal/types"
)

// Handle grants append, finish, fail and clear rights on one stream. It is
// valid until Clear or TTL eviction.
type Handle struct {
	ProjectID types.ProjectID
	ThreadID  types.ThreadID
	store     *state.StreamStore
}

func (h *Handle) Append(chunk string) error {
	return h.store.Append(h.ThreadID, chunk)
}

func (h *Handle) Finish() error {
	return h.store.Finish(h.ThreadID)
}

func (h *Handle) Fail(reason string) error {
	return h.store.Fail(h.ThreadID, reason)
}

func (h *Handle) Clear() {
	h.store.Clear(h.ThreadID)
}

// Record returns a snapshot of the stream.
func (h *Handle) Record() (state.StreamRecord, bool) {
	return h.store.Get(h.ThreadID)
}
