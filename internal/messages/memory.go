package messages

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/user/adaptivechat/internal/types"
)

// MemorySource keeps messages in memory, ordered by creation time.
type MemorySource struct {
	mu       sync.RWMutex
	messages map[types.ThreadID][]types.Message
}

func NewMemorySource() *MemorySource {
	return &MemorySource{messages: make(map[types.ThreadID][]types.Message)}
}

func (s *MemorySource) Add(msgs ...types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = types.NewMessageID()
		}
		list := append(s.messages[msg.ThreadID], msg)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})
		s.messages[msg.ThreadID] = list
	}
}

func (s *MemorySource) ListMessages(ctx context.Context, threadID types.ThreadID) iter.Seq2[types.Message, error] {
	s.mu.RLock()
	list := append([]types.Message(nil), s.messages[threadID]...)
	s.mu.RUnlock()
	return func(yield func(types.Message, error) bool) {
		for _, msg := range list {
			if err := ctx.Err(); err != nil {
				yield(types.Message{}, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Collect drains src for threadID into a slice.
func Collect(ctx context.Context, src types.MessageSource, threadID types.ThreadID) ([]types.Message, error) {
	var out []types.Message
	for msg, err := range src.ListMessages(ctx, threadID) {
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}
