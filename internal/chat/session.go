// Package chat exposes one conversation as an observable session: the merged
// message list, the live stream and the dispatcher's progress.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ctxengine "github.com/user/adaptivechat/internal/context"
	"github.com/user/adaptivechat/internal/dispatch"
	"github.com/user/adaptivechat/internal/messages"
	"github.com/user/adaptivechat/internal/session"
	"github.com/user/adaptivechat/internal/state"
	"github.com/user/adaptivechat/internal/types"
)

// Deps are the collaborators of a Session. Messages and Window may be nil.
type Deps struct {
	Classifier dispatch.Classifier
	FastAnswer dispatch.FastAnswerer
	Agent      dispatch.AgentStreamer
	Sessions   *session.Manager
	Messages   types.MessageSource
	Window     *ctxengine.Window
	Config     dispatch.Config
}

// Snapshot is the observable state of a Session at one instant.
type Snapshot struct {
	ProjectID         types.ProjectID
	ThreadID          types.ThreadID
	State             dispatch.State
	Messages          []types.Message
	IsSending         bool
	IsGenerating      bool
	StreamContent     string
	StreamError       string
	IsLoadingMessages bool
	IsLoadingThread   bool
	Question          *dispatch.Question
	Decision          *types.Decision
}

// Session is the UI-facing facade over one dispatcher.
type Session struct {
	dispatcher *dispatch.Dispatcher
	store      *state.StreamStore
	source     types.MessageSource
	window     *ctxengine.Window

	mu              sync.Mutex
	projectID       types.ProjectID
	threadID        types.ThreadID
	bound           bool
	state           dispatch.State
	sending         bool
	question        *dispatch.Question
	decision        *types.Decision
	persisted       []types.Message
	local           []types.Message
	settled         map[settleKey]bool
	loadingMessages bool
	loadingThread   bool

	updates     chan struct{}
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func New(deps Deps) *Session {
	s := &Session{
		store:   deps.Sessions.Store(),
		source:  deps.Messages,
		window:  deps.Window,
		settled: make(map[settleKey]bool),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.dispatcher = dispatch.New(deps.Config, deps.Classifier, deps.FastAnswer, deps.Agent, deps.Sessions, observer{s})

	changes, unsubscribe := s.store.Subscribe()
	s.unsubscribe = unsubscribe
	s.wg.Add(1)
	go s.watch(changes)
	return s
}

// Updates signals that the snapshot may have changed. Signals coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ProjectID:         s.projectID,
		ThreadID:          s.threadID,
		State:             s.state,
		IsSending:         s.sending,
		IsLoadingMessages: s.loadingMessages,
		IsLoadingThread:   s.loadingThread,
		Question:          s.question,
		Decision:          s.decision,
	}
	msgs := merge(s.persisted, s.local)

	if s.threadID != "" {
		if rec, ok := s.store.Get(s.threadID); ok {
			switch rec.Status {
			case state.StreamStreaming:
				snap.IsGenerating = true
				snap.StreamContent = rec.Content
			case state.StreamFailed:
				snap.StreamError = rec.Error
			}
			if pending, ok := s.pendingEntry(rec, msgs); ok {
				msgs = append(msgs, pending)
			}
		}
	}
	snap.Messages = msgs
	return snap
}

// SendMessage submits an utterance and returns once the run is done. Only
// precondition failures are returned; stream failures surface as
// Snapshot.StreamError.
func (s *Session) SendMessage(ctx context.Context, text string, attachments ...types.Attachment) error {
	utt := types.Utterance{Text: text, Attachments: attachments, Timestamp: time.Now()}
	history := s.window.Trim(ctxengine.FromMessages(s.settledMessages()))

	if err := s.dispatcher.Send(ctx, utt, history); err != nil {
		return err
	}
	s.settle()
	s.refresh(ctx)
	return nil
}

// StopAgent cancels the in-flight run, keeping any partial answer.
func (s *Session) StopAgent() {
	s.dispatcher.Stop()
}

func (s *Session) Confirm() error {
	return s.dispatcher.Confirm()
}

func (s *Session) Decline() error {
	return s.dispatcher.Decline()
}

// Open switches to an existing thread and loads its messages. An empty
// threadID starts a new conversation.
func (s *Session) Open(ctx context.Context, projectID types.ProjectID, threadID types.ThreadID) error {
	if err := s.dispatcher.Bind(projectID, threadID); err != nil {
		return err
	}
	s.mu.Lock()
	s.projectID, s.threadID = projectID, threadID
	s.bound = threadID != ""
	s.persisted = nil
	s.local = nil
	s.decision = nil
	s.settled = make(map[settleKey]bool)
	s.loadingThread = s.bound
	s.mu.Unlock()
	s.notify()

	if threadID == "" {
		return nil
	}
	s.refresh(ctx)
	s.mu.Lock()
	s.loadingThread = false
	s.mu.Unlock()
	s.notify()
	return nil
}

// Close stops any run and releases the store subscription.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.dispatcher.Stop()
		close(s.done)
		s.unsubscribe()
		s.wg.Wait()
	})
}

func (s *Session) watch(changes <-chan types.ThreadID) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case threadID, ok := <-changes:
			if !ok {
				return
			}
			if threadID == s.currentThread() {
				s.notify()
			}
		}
	}
}

// settle turns the current terminal stream into a local assistant message.
// A record is settled once, keyed by its thread and start time.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID == "" {
		return
	}
	rec, ok := s.store.Get(s.threadID)
	if !ok || !rec.Terminal() {
		return
	}
	key := settleKey{threadID: rec.ThreadID, createdAt: rec.CreatedAt}
	if s.settled[key] {
		return
	}
	s.settled[key] = true
	if rec.Content == "" {
		return
	}
	s.local = append(s.local, types.Message{
		ID:        types.NewMessageID(),
		ThreadID:  rec.ThreadID,
		Role:      types.RoleAssistant,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
	})
}

// refresh reloads persisted messages for a thread the server knows.
func (s *Session) refresh(ctx context.Context) {
	s.mu.Lock()
	threadID, bound := s.threadID, s.bound
	if s.source == nil || !bound {
		s.mu.Unlock()
		return
	}
	s.loadingMessages = true
	s.mu.Unlock()
	s.notify()

	msgs, err := messages.Collect(ctx, s.source, threadID)

	s.mu.Lock()
	s.loadingMessages = false
	if err != nil {
		slog.Warn("load messages", "thread_id", threadID, "error", err)
	} else if s.threadID == threadID {
		s.persisted = msgs
	}
	s.mu.Unlock()
	s.notify()
}

// settledMessages returns the merged message list without the live entry.
func (s *Session) settledMessages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return merge(s.persisted, s.local)
}

func (s *Session) pendingEntry(rec state.StreamRecord, msgs []types.Message) (types.Message, bool) {
	if rec.Status != state.StreamStreaming {
		if s.settled[settleKey{threadID: rec.ThreadID, createdAt: rec.CreatedAt}] || rec.Content == "" {
			return types.Message{}, false
		}
	}
	entry := types.Message{
		ID:        types.MessageID("stream-" + string(rec.ThreadID)),
		ThreadID:  rec.ThreadID,
		Role:      types.RoleAssistant,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
		Pending:   true,
	}
	if rec.Terminal() {
		for _, m := range msgs {
			if duplicate(entry, m) {
				return types.Message{}, false
			}
		}
	}
	return entry, true
}

func (s *Session) currentThread() types.ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

type settleKey struct {
	threadID  types.ThreadID
	createdAt time.Time
}

// observer forwards dispatcher progress into the session.
type observer struct{ s *Session }

func (o observer) StateChanged(st dispatch.State) {
	o.s.mu.Lock()
	o.s.state = st
	o.s.mu.Unlock()
	o.s.notify()
}

func (o observer) UserMessage(m types.Message) {
	o.s.mu.Lock()
	o.s.local = append(o.s.local, m)
	o.s.mu.Unlock()
	o.s.notify()
}

func (o observer) Decided(d types.Decision) {
	o.s.mu.Lock()
	o.s.decision = &d
	o.s.mu.Unlock()
	o.s.notify()
}

func (o observer) Sending(v bool) {
	o.s.mu.Lock()
	o.s.sending = v
	o.s.mu.Unlock()
	o.s.notify()
}

func (o observer) ThreadBound(projectID types.ProjectID, threadID types.ThreadID, bound bool) {
	o.s.mu.Lock()
	previous := o.s.threadID
	o.s.projectID, o.s.threadID, o.s.bound = projectID, threadID, bound
	for i := range o.s.local {
		if o.s.local[i].ThreadID == "" || o.s.local[i].ThreadID == previous {
			o.s.local[i].ThreadID = threadID
		}
	}
	o.s.mu.Unlock()
	o.s.notify()
}

func (o observer) QuestionAsked(q *dispatch.Question) {
	o.s.mu.Lock()
	o.s.question = q
	o.s.mu.Unlock()
	o.s.notify()
}
