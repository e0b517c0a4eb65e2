package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/user/adaptivechat/internal/types"
)

// settleWindow is how far apart a local assistant message and a persisted one
// may be created and still count as the same reply.
const settleWindow = 10 * time.Second

// merge appends the local messages the server has not persisted yet to the
// persisted ones. Each persisted message absorbs at most one local message.
func merge(persisted, local []types.Message) []types.Message {
	out := make([]types.Message, 0, len(persisted)+len(local))
	out = append(out, persisted...)
	used := make([]bool, len(persisted))

	for _, m := range local {
		matched := false
		for i, p := range persisted {
			if !used[i] && duplicate(m, p) {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, m)
		}
	}

	slices.SortStableFunc(out, func(a, b types.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// duplicate reports whether local and persisted are the same message: same
// role and content, or two assistant replies created close together.
func duplicate(local, persisted types.Message) bool {
	if local.Role != persisted.Role {
		return false
	}
	if strings.TrimSpace(local.Content) == strings.TrimSpace(persisted.Content) {
		return true
	}
	if local.Role != types.RoleAssistant {
		return false
	}
	delta := persisted.CreatedAt.Sub(local.CreatedAt)
	return delta >= -settleWindow && delta <= settleWindow
}
