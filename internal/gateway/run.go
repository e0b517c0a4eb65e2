package gateway

import (
	"context"
	"time"

	"github.com/user/adaptivechat/internal/chat"
	"github.com/user/adaptivechat/internal/dispatch"
	"github.com/user/adaptivechat/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks one inbound message sent through a conversation.
type Run struct {
	ID         types.RunID
	Key        types.ConversationKey
	Event      *types.InboundEvent
	Status     RunStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	Ctx        context.Context
	OnComplete func(chat.Snapshot)
	OnQuestion func(*dispatch.Question)
	OnError    func(error)

	slot *slot
}

// NewRun creates a Run in the Queued state for the event's conversation.
func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		Key:       event.Key,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

func (r *Run) complete(snap chat.Snapshot) {
	now := time.Now()
	r.EndedAt = &now
	r.Status = RunStatusComplete
	if r.OnComplete != nil {
		r.OnComplete(snap)
	}
}

func (r *Run) fail(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Status = RunStatusFailed
	r.Error = err
	if r.OnError != nil {
		r.OnError(err)
	}
}
