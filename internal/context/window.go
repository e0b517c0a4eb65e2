// internal/context/window.go
package context

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/adaptivechat/internal/types"
)

// DefaultMaxEntries is the number of recent turns sent as chat context.
const DefaultMaxEntries = 8

// Window trims rolling chat context to the most recent entries, and
// optionally to a token budget.
type Window struct {
	maxEntries int
	maxTokens  int
	count      func(string) int
}

// NewWindow creates a Window keeping at most maxEntries entries. When
// maxTokens is positive the entries must also fit that many tokens, counted
// with the tokenizer for model.
func NewWindow(maxEntries, maxTokens int, model string) (*Window, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	w := &Window{maxEntries: maxEntries, maxTokens: maxTokens}
	if maxTokens <= 0 {
		return w, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	w.count = func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
	return w, nil
}

// Trim returns the newest entries that fit the window, oldest first. The
// input slice is not modified.
func (w *Window) Trim(entries []types.ContextEntry) []types.ContextEntry {
	if w == nil {
		return entries
	}
	start := 0
	if len(entries) > w.maxEntries {
		start = len(entries) - w.maxEntries
	}

	if w.maxTokens > 0 && w.count != nil {
		used := 0
		for i := len(entries) - 1; i >= start; i-- {
			used += w.count(entries[i].Content)
			if used > w.maxTokens {
				start = i + 1
				break
			}
		}
	}

	out := make([]types.ContextEntry, len(entries)-start)
	copy(out, entries[start:])
	return out
}

// FromMessages converts thread messages into context entries, skipping
// pending and empty ones.
func FromMessages(msgs []types.Message) []types.ContextEntry {
	entries := make([]types.ContextEntry, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Pending || msg.Content == "" {
			continue
		}
		if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
			continue
		}
		entries = append(entries, types.ContextEntry{Role: msg.Role, Content: msg.Content})
	}
	return entries
}
