package fastanswer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/adaptivechat/internal/types"
	"github.com/user/adaptivechat/pkg/transport"
)

func newTestClient(t *testing.T, token transport.TokenSource, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(transport.New(&transport.Config{BaseURL: server.URL, Token: token}), nil)
}

func collect(t *testing.T, seq iter.Seq2[Chunk, error]) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	for chunk, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestAnswer(t *testing.T) {
	client := newTestClient(t, transport.StaticToken("tok"), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultEndpoint {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"response":"4.","time_ms":150}`)
	})

	answer, err := client.Answer(context.Background(), "what is 2+2?", []types.ContextEntry{{Role: types.RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if answer.Response != "4." {
		t.Errorf("expected '4.', got %q", answer.Response)
	}
	if answer.Elapsed != 150*time.Millisecond {
		t.Errorf("expected 150ms, got %v", answer.Elapsed)
	}
}

func TestAnswerStream(t *testing.T) {
	client := newTestClient(t, transport.StaticToken("tok"), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultEndpoint+"/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, "data: {\"type\":\"start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"4\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\".\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"done\",\"time\":0.25}\n\n")
	})

	chunks, err := collect(t, client.AnswerStream(context.Background(), "what is 2+2?", nil, Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	var text strings.Builder
	for _, c := range chunks[:2] {
		text.WriteString(c.Text)
	}
	if text.String() != "4." {
		t.Errorf("expected '4.', got %q", text.String())
	}
	last := chunks[2]
	if !last.Done || last.Elapsed != 250*time.Millisecond {
		t.Errorf("unexpected terminal chunk %+v", last)
	}
}

func TestAnswerStreamWithoutDone(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"ok\"}\n\n")
	})
	chunks, err := collect(t, client.AnswerStream(context.Background(), "hi", nil, Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || !chunks[1].Done {
		t.Errorf("expected a synthesized terminal chunk, got %+v", chunks)
	}
}

func TestAnswerStreamServerError(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"par\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":\"model overloaded\"}\n\n")
	})
	chunks, err := collect(t, client.AnswerStream(context.Background(), "hi", nil, Options{}))
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected server error message, got %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "par" {
		t.Errorf("expected partial chunk before error, got %+v", chunks)
	}
}

func TestUpstreamRefused(t *testing.T) {
	forbidden := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := forbidden.Answer(context.Background(), "hi", nil, Options{})
	if !errors.Is(err, ErrUpstreamRefused) {
		t.Errorf("expected ErrUpstreamRefused for 403, got %v", err)
	}

	noToken := newTestClient(t, transport.StaticToken(""), func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent without a credential")
	})
	_, err = collect(t, noToken.AnswerStream(context.Background(), "hi", nil, Options{}))
	if !errors.Is(err, ErrUpstreamRefused) {
		t.Errorf("expected ErrUpstreamRefused without a token, got %v", err)
	}
}

func TestNetworkErrorPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := New(transport.New(&transport.Config{BaseURL: baseURL}), nil)
	_, err := client.Answer(context.Background(), "hi", nil, Options{})
	var nerr *transport.NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if errors.Is(err, ErrUpstreamRefused) {
		t.Error("network failure should not be reported as refused")
	}
}
