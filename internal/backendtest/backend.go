// Package backendtest runs a scriptable fake of the chat backend for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/adaptivechat/internal/agent"
	"github.com/user/adaptivechat/internal/types"
)

// Calls counts requests per endpoint.
type Calls struct {
	Classify   int32
	FastAnswer int32
	Agent      int32
	Messages   int32
}

// Backend serves the classifier, fast-answer, agent and messages endpoints
// from scripted responses. Agent replies that reach done are persisted to the
// thread's message list.
type Backend struct {
	URL    string
	server *httptest.Server

	mu             sync.Mutex
	decision       types.Decision
	classifyStatus int
	fastChunks     []string
	fastError      string
	agentEvents    []agent.Event
	pauseAfter     int
	reached        chan struct{}
	messages       map[types.ThreadID][]types.Message
	pageSize       int
	lastChat       types.ChatRequest
	lastForm       url.Values

	classifyCalls atomic.Int32
	fastCalls     atomic.Int32
	agentCalls    atomic.Int32
	messageCalls  atomic.Int32
}

// New starts a Backend that is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		decision: types.Decision{State: types.DecisionAgentNeeded, Confidence: 1},
		messages: make(map[types.ThreadID][]types.Message),
		pageSize: 50,
	}
	b.server = httptest.NewServer(b.routes())
	b.URL = b.server.URL
	t.Cleanup(b.server.Close)
	return b
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/chat/adaptive", b.handleClassify)
	r.Post("/chat/fast-gemini-chat", b.handleFastAnswer)
	r.Post("/chat/fast-gemini-chat/stream", b.handleFastAnswerStream)
	r.Post(agent.SimpleEndpoint, b.handleAgent)
	r.Post(agent.ContinueEndpoint, b.handleAgent)
	r.Get("/threads/{threadID}/messages", b.handleMessages)
	return r
}

func (b *Backend) SetDecision(d types.Decision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decision = d
	b.classifyStatus = 0
}

// FailClassifier makes the classifier answer with status.
func (b *Backend) FailClassifier(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.classifyStatus = status
}

func (b *Backend) SetFastAnswer(chunks ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fastChunks = chunks
	b.fastError = ""
}

// FailFastAnswer streams an error event after the scripted chunks.
func (b *Backend) FailFastAnswer(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fastError = msg
}

func (b *Backend) SetAgentEvents(events ...agent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agentEvents = events
	b.pauseAfter = 0
}

// PauseAgentAfter holds the agent stream open after n events until the client
// disconnects. The returned channel closes once the pause is reached.
func (b *Backend) PauseAgentAfter(n int) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pauseAfter = n
	b.reached = make(chan struct{})
	return b.reached
}

// AddMessages persists msgs on their threads.
func (b *Backend) AddMessages(msgs ...types.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = types.NewMessageID()
		}
		b.messages[msg.ThreadID] = append(b.messages[msg.ThreadID], msg)
	}
}

func (b *Backend) SetPageSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageSize = n
}

func (b *Backend) Calls() Calls {
	return Calls{
		Classify:   b.classifyCalls.Load(),
		FastAnswer: b.fastCalls.Load(),
		Agent:      b.agentCalls.Load(),
		Messages:   b.messageCalls.Load(),
	}
}

// LastChatRequest returns the body of the latest classifier or fast-answer
// request.
func (b *Backend) LastChatRequest() types.ChatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastChat
}

// LastAgentForm returns the form of the latest agent request.
func (b *Backend) LastAgentForm() url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastForm
}

func (b *Backend) handleClassify(w http.ResponseWriter, r *http.Request) {
	b.classifyCalls.Add(1)
	if _, ok := b.readChat(w, r); !ok {
		return
	}
	b.mu.Lock()
	decision, status := b.decision, b.classifyStatus
	b.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"detail": "classifier unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response": decision.Reason,
		"time_ms":  3,
		"decision": decision,
	})
}

func (b *Backend) handleFastAnswer(w http.ResponseWriter, r *http.Request) {
	b.fastCalls.Add(1)
	if _, ok := b.readChat(w, r); !ok {
		return
	}
	b.mu.Lock()
	text := strings.Join(b.fastChunks, "")
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"response": text, "time_ms": 5})
}

func (b *Backend) handleFastAnswerStream(w http.ResponseWriter, r *http.Request) {
	b.fastCalls.Add(1)
	if _, ok := b.readChat(w, r); !ok {
		return
	}
	b.mu.Lock()
	chunks := append([]string(nil), b.fastChunks...)
	failure := b.fastError
	b.mu.Unlock()

	sse := newEventWriter(w)
	sse.send(map[string]any{"type": "start"})
	for _, c := range chunks {
		sse.send(map[string]any{"type": "chunk", "content": c})
	}
	if failure != "" {
		sse.send(map[string]any{"type": "error", "error": failure})
		return
	}
	sse.send(map[string]any{"type": "done", "time_ms": 5})
}

func (b *Backend) handleAgent(w http.ResponseWriter, r *http.Request) {
	b.agentCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	message := r.PostForm.Get("message")
	if message == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "message is required"})
		return
	}

	b.mu.Lock()
	b.lastForm = r.PostForm
	events := append([]agent.Event(nil), b.agentEvents...)
	pauseAfter, reached := b.pauseAfter, b.reached
	b.mu.Unlock()

	threadID := types.ThreadID(r.PostForm.Get("thread_id"))
	if threadID == "" {
		threadID = types.ThreadID(r.PostForm.Get("client_thread_id"))
	}
	started := time.Now()

	sse := newEventWriter(w)
	var content strings.Builder
	for i, ev := range events {
		if ev.Kind == agent.EventMetadata && ev.ThreadID != "" {
			threadID = ev.ThreadID
		}
		if ev.Kind == agent.EventContent {
			content.WriteString(ev.Content)
		}
		if ev.Kind == agent.EventDone && threadID != "" {
			b.AddMessages(
				types.Message{ThreadID: threadID, Role: types.RoleUser, Content: message, CreatedAt: started},
				types.Message{ThreadID: threadID, Role: types.RoleAssistant, Content: content.String(), CreatedAt: time.Now()},
			)
		}
		sse.send(map[string]any{
			"type":       string(ev.Kind),
			"thread_id":  string(ev.ThreadID),
			"project_id": string(ev.ProjectID),
			"content":    ev.Content,
			"error":      ev.Error,
		})
		if pauseAfter > 0 && i+1 == pauseAfter {
			close(reached)
			select {
			case <-r.Context().Done():
			case <-time.After(10 * time.Second):
			}
			return
		}
	}
}

func (b *Backend) handleMessages(w http.ResponseWriter, r *http.Request) {
	b.messageCalls.Add(1)
	threadID := types.ThreadID(chi.URLParam(r, "threadID"))

	b.mu.Lock()
	list, ok := b.messages[threadID]
	list = append([]types.Message(nil), list...)
	size := b.pageSize
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "thread not found"})
		return
	}

	start := 0
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(list) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad cursor"})
			return
		}
		start = n
	}
	end := min(start+size, len(list))
	next := ""
	if end < len(list) {
		next = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": list[start:end], "next_cursor": next})
}

func (b *Backend) readChat(w http.ResponseWriter, r *http.Request) (types.ChatRequest, bool) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return req, false
	}
	if req.Message == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "message is required"})
		return req, false
	}
	b.mu.Lock()
	b.lastChat = req
	b.mu.Unlock()
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return &eventWriter{w: w, flusher: flusher}
}

func (e *eventWriter) send(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "data: %s\n\n", data)
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
