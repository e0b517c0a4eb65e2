// Package fastanswer calls the low-latency answer endpoints used for
// utterances the classifier deems directly answerable.
package fastanswer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	ctxengine "github.com/user/adaptivechat/internal/context"
	"github.com/user/adaptivechat/internal/types"
	"github.com/user/adaptivechat/pkg/transport"
)

const (
	// DefaultEndpoint is the single-shot answer path; the streaming variant
	// appends "/stream".
	DefaultEndpoint = "/chat/fast-gemini-chat"
)

// ErrUpstreamRefused is returned when the backend refuses the request, for
// example because no credential is available.
var ErrUpstreamRefused = errors.New("fast answer refused")

// Options are the per-request model settings.
type Options struct {
	Model              string
	SystemInstructions string
}

// Answer is a complete single-shot response.
type Answer struct {
	Response string
	Elapsed  time.Duration
}

// Chunk is one piece of a streamed answer. The final chunk has Done set and
// carries the elapsed time reported by the server.
type Chunk struct {
	Text    string
	Done    bool
	Elapsed time.Duration
}

type answerResponse struct {
	Response string  `json:"response"`
	TimeMS   float64 `json:"time_ms"`
}

type streamEvent struct {
	Type    string  `json:"type"`
	Content string  `json:"content"`
	Time    float64 `json:"time"`
	TimeMS  float64 `json:"time_ms"`
	Error   string  `json:"error"`
}

// Client answers utterances through the fast-answer endpoints.
type Client struct {
	transport *transport.Client
	window    *ctxengine.Window
	endpoint  string
}

// New creates a Client. window trims the chat context; nil sends it as is.
func New(t *transport.Client, window *ctxengine.Window) *Client {
	return &Client{
		transport: t,
		window:    window,
		endpoint:  DefaultEndpoint,
	}
}

func (c *Client) request(text string, history []types.ContextEntry, opts Options) types.ChatRequest {
	return types.ChatRequest{
		Message:            text,
		Model:              opts.Model,
		SystemInstructions: opts.SystemInstructions,
		ChatContext:        c.window.Trim(history),
	}
}

// Answer returns a complete response in one call.
func (c *Client) Answer(ctx context.Context, text string, history []types.ContextEntry, opts Options) (*Answer, error) {
	start := time.Now()
	var resp answerResponse
	if err := c.transport.PostJSON(ctx, c.endpoint, c.request(text, history, opts), &resp); err != nil {
		return nil, classify(err)
	}
	elapsed := time.Since(start)
	if resp.TimeMS > 0 {
		elapsed = millis(resp.TimeMS)
	}
	return &Answer{Response: resp.Response, Elapsed: elapsed}, nil
}

// AnswerStream yields the answer as text chunks followed by one Done chunk.
// An error ends the sequence.
func (c *Client) AnswerStream(ctx context.Context, text string, history []types.ContextEntry, opts Options) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		start := time.Now()
		for event, err := range c.transport.PostEventStream(ctx, c.endpoint+"/stream", c.request(text, history, opts)) {
			if err != nil {
				yield(Chunk{}, classify(err))
				return
			}

			var payload streamEvent
			if err := event.Decode(&payload); err != nil {
				yield(Chunk{}, &transport.DecodeError{Endpoint: c.endpoint + "/stream", Err: err})
				return
			}

			switch payload.Type {
			case "chunk":
				if payload.Content == "" {
					continue
				}
				if !yield(Chunk{Text: payload.Content}, nil) {
					return
				}
			case "done":
				yield(Chunk{Done: true, Elapsed: elapsedFrom(payload, start)}, nil)
				return
			case "error":
				msg := payload.Error
				if msg == "" {
					msg = payload.Content
				}
				if msg == "" {
					msg = "unknown error"
				}
				yield(Chunk{}, fmt.Errorf("fast answer failed: %s", msg))
				return
			}
		}
		// end of stream without a done event
		yield(Chunk{Done: true, Elapsed: time.Since(start)}, nil)
	}
}

// classify maps credential and authorization failures to ErrUpstreamRefused
// and passes every other transport error through.
func classify(err error) error {
	if errors.Is(err, transport.ErrMissingCredential) {
		return fmt.Errorf("%w: %w", ErrUpstreamRefused, err)
	}
	var perr *transport.ProtocolError
	if errors.As(err, &perr) && (perr.StatusCode == http.StatusUnauthorized || perr.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrUpstreamRefused, err)
	}
	return err
}

func elapsedFrom(payload streamEvent, start time.Time) time.Duration {
	switch {
	case payload.TimeMS > 0:
		return millis(payload.TimeMS)
	case payload.Time > 0:
		return time.Duration(payload.Time * float64(time.Second))
	default:
		return time.Since(start)
	}
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
