// Package classifier calls the adaptive classification endpoint and
// validates the routing decision it returns.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	ctxengine "github.com/user/adaptivechat/internal/context"
	"github.com/user/adaptivechat/internal/types"
	"github.com/user/adaptivechat/pkg/transport"
)

// DefaultEndpoint is the classification endpoint path.
const DefaultEndpoint = "/chat/adaptive"

var (
	// ErrUnavailable is returned when the endpoint cannot be reached or
	// answers with a non-2xx status.
	ErrUnavailable = errors.New("classifier unavailable")

	// ErrInvalid is returned when the response violates the decision schema.
	ErrInvalid = errors.New("classifier response invalid")
)

// Options are the per-request model settings.
type Options struct {
	Model              string
	SystemInstructions string
}

// Result is a validated decision plus timing metadata.
type Result struct {
	Decision types.Decision
	Response string
	Elapsed  time.Duration
}

type response struct {
	Response string          `json:"response"`
	TimeMS   float64         `json:"time_ms"`
	Decision *types.Decision `json:"decision"`
}

// Client classifies utterances.
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

// Classify asks the backend how text should be handled. Failures wrap
// ErrUnavailable or ErrInvalid.
func (c *Client) Classify(ctx context.Context, text string, history []types.ContextEntry, opts Options) (*Result, error) {
	req := types.ChatRequest{
		Message:            text,
		Model:              opts.Model,
		SystemInstructions: opts.SystemInstructions,
		ChatContext:        c.window.Trim(history),
	}

	start := time.Now()
	var resp response
	if err := c.transport.PostJSON(ctx, c.endpoint, req, &resp); err != nil {
		var decodeErr *transport.DecodeError
		if errors.As(err, &decodeErr) {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.Decision == nil {
		return nil, fmt.Errorf("%w: response has no decision", ErrInvalid)
	}

	decision, err := Normalize(*resp.Decision)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	if resp.TimeMS > 0 {
		elapsed = time.Duration(resp.TimeMS * float64(time.Millisecond))
	}
	return &Result{Decision: decision, Response: resp.Response, Elapsed: elapsed}, nil
}

// Normalize validates d and brings it into canonical form: confidence is
// clamped to [0,1], an ask_user decision drops its agent preface and gets
// default button labels, and any other state drops a stray ask_user payload.
func Normalize(d types.Decision) (types.Decision, error) {
	if !d.State.Valid() {
		return types.Decision{}, fmt.Errorf("%w: unknown state %q", ErrInvalid, d.State)
	}
	if math.IsNaN(d.Confidence) {
		return types.Decision{}, fmt.Errorf("%w: confidence is not a number", ErrInvalid)
	}
	d.Confidence = math.Min(1, math.Max(0, d.Confidence))

	switch d.State {
	case types.DecisionAskUser:
		if d.AskUser == nil || strings.TrimSpace(d.AskUser.Prompt) == "" {
			return types.Decision{}, fmt.Errorf("%w: ask_user decision without prompt", ErrInvalid)
		}
		prompt := *d.AskUser
		if prompt.YesLabel == "" {
			prompt.YesLabel = "Yes"
		}
		if prompt.NoLabel == "" {
			prompt.NoLabel = "No"
		}
		d.AskUser = &prompt
		d.AgentPreface = ""
	default:
		d.AskUser = nil
	}
	return d, nil
}
