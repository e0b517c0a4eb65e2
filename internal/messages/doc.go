// Package messages reads persisted thread messages for the chat facade.
package messages

import "github.com/user/adaptivechat/internal/types"

// Compile-time interface compliance checks.
var _ types.MessageSource = (*HTTPSource)(nil)
var _ types.MessageSource = (*MemorySource)(nil)
