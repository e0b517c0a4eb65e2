// internal/types/interfaces.go
package types

import (
	"context"
	"iter"
)

// MessageSource reads the persisted messages of a thread, oldest first.
// The chat core never writes persisted messages.
type MessageSource interface {
	ListMessages(ctx context.Context, threadID ThreadID) iter.Seq2[Message, error]
}
