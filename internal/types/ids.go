// internal/types/ids.go
package types

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

type ThreadID string
type ProjectID string
type MessageID string
type RunID string
type ConversationKey string

// newHexID returns 128 random bits as 32 lowercase hex characters.
func newHexID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func NewThreadID() ThreadID {
	return ThreadID(newHexID())
}

func NewProjectID() ProjectID {
	return ProjectID(newHexID())
}

func NewMessageID() MessageID {
	return MessageID(newHexID())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}
