package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultFirstByteTimeout bounds the wait for response headers.
const DefaultFirstByteTimeout = 30 * time.Second

// maxResponseBody caps how much of a JSON response body is read.
const maxResponseBody = 8 << 20

// TokenSource returns the bearer token attached to every request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Config holds the settings for a backend Client.
type Config struct {
	BaseURL          string
	Token            TokenSource
	FirstByteTimeout time.Duration
	HTTPClient       *http.Client
}

// Client issues JSON and event-stream requests against the chat backend.
// It is the only component that touches the network.
type Client struct {
	baseURL    string
	token      TokenSource
	firstByte  time.Duration
	httpClient *http.Client
}

// New creates a Client from cfg. A nil Token sends no Authorization header
// and a negative FirstByteTimeout disables the first-byte timer.
func New(cfg *Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No overall Timeout: streams are bounded by ctx and the first-byte timer.
		httpClient = &http.Client{}
	}
	firstByte := cfg.FirstByteTimeout
	if firstByte == 0 {
		firstByte = DefaultFirstByteTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		firstByte:  firstByte,
		httpClient: httpClient,
	}
}

// PostJSON sends body as JSON to endpoint and decodes the response into out.
// out may be nil when the response body is not needed.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	resp, release, err := c.do(ctx, http.MethodPost, endpoint, "application/json", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer release()
	return decodeJSON(endpoint, resp, out)
}

// GetJSON issues a GET to endpoint with the given query and decodes the
// response into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	resp, release, err := c.do(ctx, http.MethodGet, target, "", "application/json", nil)
	if err != nil {
		return err
	}
	defer release()
	return decodeJSON(endpoint, resp, out)
}

// PostEventStream sends body as JSON and yields the server-sent events of the
// response. The request is issued when iteration starts; breaking out of the
// loop or cancelling ctx closes the connection.
func (c *Client) PostEventStream(ctx context.Context, endpoint string, body any) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		payload, err := json.Marshal(body)
		if err != nil {
			yield(Event{}, fmt.Errorf("marshaling request: %w", err))
			return
		}
		c.stream(ctx, endpoint, "application/json", bytes.NewReader(payload), yield)
	}
}

// PostFormEventStream is PostEventStream with a form-encoded request body.
func (c *Client) PostFormEventStream(ctx context.Context, endpoint string, form url.Values) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		c.stream(ctx, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), yield)
	}
}

func (c *Client) stream(ctx context.Context, endpoint, contentType string, body io.Reader, yield func(Event, error) bool) {
	resp, release, err := c.do(ctx, http.MethodPost, endpoint, contentType, "text/event-stream", body)
	if err != nil {
		yield(Event{}, err)
		return
	}
	defer release()

	events := newEventReader(resp.Body)
	for {
		event, err := events.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				decodeErr.Endpoint = endpoint
				yield(Event{}, decodeErr)
				return
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			yield(Event{}, &NetworkError{Endpoint: endpoint, Err: err})
			return
		}
		if !yield(event, nil) {
			return
		}
		if event.Type == EventDone {
			return
		}
	}
}

// do sends the request and returns a 2xx response together with a release
// func that closes the body and frees the request context.
func (c *Client) do(ctx context.Context, method, endpoint, contentType, accept string, body io.Reader) (*http.Response, func(), error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+endpoint, body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", accept)
	if err := c.authorize(ctx, req); err != nil {
		cancel()
		return nil, nil, err
	}

	var timedOut atomic.Bool
	var timer *time.Timer
	if c.firstByte > 0 {
		timer = time.AfterFunc(c.firstByte, func() {
			timedOut.Store(true)
			cancel()
		})
	}
	resp, err := c.httpClient.Do(req)
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		cancel()
		if timedOut.Load() {
			err = ErrFirstByteTimeout
		} else if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	if timedOut.Load() {
		resp.Body.Close()
		cancel()
		return nil, nil, &NetworkError{Endpoint: endpoint, Err: ErrFirstByteTimeout}
	}

	release := func() {
		resp.Body.Close()
		cancel()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := newProtocolError(endpoint, resp)
		release()
		return nil, nil, perr
	}
	return resp, release, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.token == nil {
		return nil
	}
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingCredential, err)
	}
	if token == "" {
		return ErrMissingCredential
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func decodeJSON(endpoint string, resp *http.Response, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &NetworkError{Endpoint: endpoint, Err: err}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Endpoint: endpoint, Err: err}
	}
	return nil
}
