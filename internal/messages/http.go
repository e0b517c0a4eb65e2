package messages

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/user/adaptivechat/internal/types"
	"github.com/user/adaptivechat/pkg/transport"
)

type page struct {
	Messages   []types.Message `json:"messages"`
	NextCursor string          `json:"next_cursor"`
}

// HTTPSource lists messages from GET /threads/{thread_id}/messages, following
// next_cursor until the server stops returning one.
type HTTPSource struct {
	transport *transport.Client
}

func NewHTTPSource(t *transport.Client) *HTTPSource {
	return &HTTPSource{transport: t}
}

// ListMessages fetches pages lazily as the sequence is consumed. A thread the
// server does not know yields no messages.
func (s *HTTPSource) ListMessages(ctx context.Context, threadID types.ThreadID) iter.Seq2[types.Message, error] {
	return func(yield func(types.Message, error) bool) {
		if threadID == "" {
			return
		}
		endpoint := "/threads/" + url.PathEscape(string(threadID)) + "/messages"
		cursor := ""
		for {
			query := url.Values{}
			if cursor != "" {
				query.Set("cursor", cursor)
			}
			var p page
			if err := s.transport.GetJSON(ctx, endpoint, query, &p); err != nil {
				var perr *transport.ProtocolError
				if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
					return
				}
				yield(types.Message{}, fmt.Errorf("list messages: %w", err))
				return
			}
			for _, msg := range p.Messages {
				if msg.ThreadID == "" {
					msg.ThreadID = threadID
				}
				if !yield(msg, nil) {
					return
				}
			}
			if p.NextCursor == "" || p.NextCursor == cursor {
				return
			}
			cursor = p.NextCursor
		}
	}
}
