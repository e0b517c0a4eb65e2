// Package agent streams long-running agent answers from the simple-chat
// endpoints.
package agent

import (
	"context"
	"iter"
	"net/url"

	"github.com/user/adaptivechat/internal/types"
	"github.com/user/adaptivechat/pkg/transport"
)

const (
	SimpleEndpoint   = "/simple-chat/simple/stream"
	ContinueEndpoint = "/simple-chat/continue/stream"
)

type EventKind string

const (
	EventMetadata EventKind = "metadata"
	EventContent  EventKind = "content"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// Request starts a new thread, or continues ThreadID when it is set.
type Request struct {
	Message         string
	ClientProjectID types.ProjectID
	ClientThreadID  types.ThreadID
	ThreadID        types.ThreadID
}

// Event is one agent stream event. Metadata events bind the server's thread
// and project identifiers.
type Event struct {
	Kind      EventKind
	ThreadID  types.ThreadID
	ProjectID types.ProjectID
	Content   string
	Error     string
}

type wireEvent struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id"`
	ProjectID string `json:"project_id"`
	Content   string `json:"content"`
	Error     string `json:"error"`
}

// Client opens agent streams.
type Client struct {
	transport *transport.Client
}

func New(t *transport.Client) *Client {
	return &Client{transport: t}
}

// Stream posts req and yields the agent's events. Unknown event kinds are
// skipped; the sequence ends after a done or error event.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[Event, error] {
	endpoint, form := encode(req)
	return func(yield func(Event, error) bool) {
		for raw, err := range c.transport.PostFormEventStream(ctx, endpoint, form) {
			if err != nil {
				yield(Event{}, err)
				return
			}

			var w wireEvent
			if err := raw.Decode(&w); err != nil {
				yield(Event{}, &transport.DecodeError{Endpoint: endpoint, Err: err})
				return
			}

			event := Event{
				Kind:      EventKind(w.Type),
				ThreadID:  types.ThreadID(w.ThreadID),
				ProjectID: types.ProjectID(w.ProjectID),
				Content:   w.Content,
				Error:     w.Error,
			}
			switch event.Kind {
			case EventMetadata, EventContent:
				if !yield(event, nil) {
					return
				}
			case EventDone, EventError:
				yield(event, nil)
				return
			}
		}
	}
}

func encode(req Request) (string, url.Values) {
	form := url.Values{}
	form.Set("message", req.Message)
	if req.ThreadID != "" {
		form.Set("thread_id", string(req.ThreadID))
		return ContinueEndpoint, form
	}
	if req.ClientProjectID != "" {
		form.Set("client_project_id", string(req.ClientProjectID))
	}
	if req.ClientThreadID != "" {
		form.Set("client_thread_id", string(req.ClientThreadID))
	}
	return SimpleEndpoint, form
}
