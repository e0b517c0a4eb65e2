// Package dispatch routes each user utterance to a fast answer, the agent,
// or a confirmation question, and drives the resulting stream to completion.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/user/adaptivechat/internal/agent"
	"github.com/user/adaptivechat/internal/classifier"
	ctxengine "github.com/user/adaptivechat/internal/context"
	"github.com/user/adaptivechat/internal/fastanswer"
	"github.com/user/adaptivechat/internal/session"
	"github.com/user/adaptivechat/internal/state"
	"github.com/user/adaptivechat/internal/types"
)

// CancelledReason is the failure reason recorded when the user stops a run.
const CancelledReason = "cancelled"

var (
	ErrInputRejected     = errors.New("message has no text or attachments")
	ErrBusy              = errors.New("a message is already in flight")
	ErrNoPendingQuestion = errors.New("no question is awaiting an answer")

	errStopped = errors.New("stopped")
)

type Classifier interface {
	Classify(ctx context.Context, text string, history []types.ContextEntry, opts classifier.Options) (*classifier.Result, error)
}

type FastAnswerer interface {
	AnswerStream(ctx context.Context, text string, history []types.ContextEntry, opts fastanswer.Options) iter.Seq2[fastanswer.Chunk, error]
}

type AgentStreamer interface {
	Stream(ctx context.Context, req agent.Request) iter.Seq2[agent.Event, error]
}

var (
	_ Classifier    = (*classifier.Client)(nil)
	_ FastAnswerer  = (*fastanswer.Client)(nil)
	_ AgentStreamer = (*agent.Client)(nil)
)

// Question is a pending ask_user confirmation.
type Question struct {
	Prompt    string
	YesLabel  string
	NoLabel   string
	Reason    string
	Utterance types.Utterance
	Metadata  map[string]any
}

// Observer receives dispatcher progress. Calls are synchronous and must not
// call back into the Dispatcher.
type Observer interface {
	StateChanged(State)
	UserMessage(types.Message)
	Decided(types.Decision)
	Sending(bool)
	// ThreadBound reports the conversation's identifiers and whether the
	// server knows the thread.
	ThreadBound(projectID types.ProjectID, threadID types.ThreadID, bound bool)
	// QuestionAsked is called with nil once the question is answered.
	QuestionAsked(*Question)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StateChanged(State)                                {}
func (NopObserver) UserMessage(types.Message)                         {}
func (NopObserver) Decided(types.Decision)                            {}
func (NopObserver) Sending(bool)                                      {}
func (NopObserver) ThreadBound(types.ProjectID, types.ThreadID, bool) {}
func (NopObserver) QuestionAsked(*Question)                           {}

// Config holds routing and model settings. A nil ConfidenceThreshold
// selects DefaultConfidenceThreshold; zero sends every direct answer down
// the fast path.
type Config struct {
	ConfidenceThreshold *float64
	Model               string
	Instructions        *ctxengine.Instructions
}

// Dispatcher runs one conversation's utterances one at a time.
type Dispatcher struct {
	cfg        Config
	threshold  float64
	classifier Classifier
	fast       FastAnswerer
	agent      AgentStreamer
	sessions   *session.Manager
	observer   Observer

	mu        sync.Mutex
	state     State
	projectID types.ProjectID
	threadID  types.ThreadID
	bound     bool
	stopped   bool
	cancel    context.CancelFunc
	handle    *session.Handle
	ack       chan bool
}

func New(cfg Config, c Classifier, fast FastAnswerer, a AgentStreamer, sessions *session.Manager, observer Observer) *Dispatcher {
	threshold := DefaultConfidenceThreshold
	if cfg.ConfidenceThreshold != nil {
		threshold = *cfg.ConfidenceThreshold
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Dispatcher{
		cfg:        cfg,
		threshold:  threshold,
		classifier: c,
		fast:       fast,
		agent:      a,
		sessions:   sessions,
		observer:   observer,
	}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Thread returns the current project and thread, and whether the server
// knows the thread.
func (d *Dispatcher) Thread() (types.ProjectID, types.ThreadID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.projectID, d.threadID, d.bound
}

// Bind points the dispatcher at an existing server thread. An empty threadID
// starts a fresh conversation on the next send.
func (d *Dispatcher) Bind(projectID types.ProjectID, threadID types.ThreadID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateIdle {
		return ErrBusy
	}
	d.projectID = projectID
	d.threadID = threadID
	d.bound = threadID != ""
	return nil
}

// Send classifies utt and runs the chosen path. It blocks until the run
// reaches Done and returns the dispatcher to Idle. Failures of the
// downstream paths are recorded on the stream, not returned.
func (d *Dispatcher) Send(ctx context.Context, utt types.Utterance, history []types.ContextEntry) error {
	if utt.Empty() {
		return ErrInputRejected
	}
	if utt.Timestamp.IsZero() {
		utt.Timestamp = time.Now()
	}

	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = false
	threadID := d.threadID
	d.setStateLocked(StateClassifying)
	d.mu.Unlock()
	defer d.finish(cancel)

	d.observer.UserMessage(types.Message{
		ID:        types.NewMessageID(),
		ThreadID:  threadID,
		Role:      types.RoleUser,
		Content:   utt.Text,
		CreatedAt: utt.Timestamp,
	})
	d.observer.Sending(true)

	decision := d.classify(runCtx, utt, history)
	if d.isStopped() {
		return nil
	}
	d.observer.Decided(decision)

	path := Route(decision, d.threshold)
	slog.Debug("routing message", "path", path, "decision", decision.State, "confidence", decision.Confidence)

	switch path {
	case PathFastAnswer:
		d.runFastAnswer(runCtx, utt, history)
	case PathAskUser:
		d.awaitAck(runCtx, utt, decision)
	default:
		d.runAgent(runCtx, utt, decision.AgentPreface)
	}
	return nil
}

// Confirm accepts the pending question and escalates to the agent.
func (d *Dispatcher) Confirm() error {
	return d.resolve(true)
}

// Decline rejects the pending question. The run ends without a stream.
func (d *Dispatcher) Decline() error {
	return d.resolve(false)
}

// Stop cancels the in-flight run. The active stream, if any, fails with
// CancelledReason and keeps its partial content. Stop is a no-op when
// nothing is running or the run was already stopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped || !d.state.cancellable() {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	h, cancel := d.handle, d.cancel
	if h != nil {
		if err := h.Fail(CancelledReason); err == nil {
			slog.Info("stream cancelled", "thread_id", h.ThreadID)
		}
	}
	d.setStateLocked(StateDone)
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.observer.Sending(false)
}

func (d *Dispatcher) classify(ctx context.Context, utt types.Utterance, history []types.ContextEntry) types.Decision {
	opts := classifier.Options{Model: d.cfg.Model, SystemInstructions: d.instructions()}
	result, err := d.classifier.Classify(ctx, utt.Text, history, opts)
	if err != nil {
		if !d.isStopped() {
			slog.Warn("classification failed, escalating to agent", "error", err)
		}
		return FallbackDecision()
	}
	return result.Decision
}

func (d *Dispatcher) runFastAnswer(ctx context.Context, utt types.Utterance, history []types.ContextEntry) {
	if !d.transition(StateFastAnswer) {
		return
	}
	h, ok := d.open(utt.Text, "")
	if !ok {
		return
	}
	opts := fastanswer.Options{Model: d.cfg.Model, SystemInstructions: d.instructions()}
	first := true
	for chunk, err := range d.fast.AnswerStream(ctx, utt.Text, history, opts) {
		if err != nil {
			d.fail(ctx, h, err.Error())
			return
		}
		if chunk.Done {
			break
		}
		if d.append(h, chunk.Text) && first {
			first = false
			d.observer.Sending(false)
		}
	}
	d.complete(h)
}

func (d *Dispatcher) runAgent(ctx context.Context, utt types.Utterance, preface string) {
	if !d.transition(StateAgentStreaming) {
		return
	}
	h, ok := d.open(utt.Text, preface)
	if !ok {
		return
	}
	first := preface == ""
	if !first {
		d.observer.Sending(false)
	}

	req := agent.Request{Message: utt.Text}
	if d.isBound() {
		req.ThreadID = h.ThreadID
	} else {
		req.ClientProjectID = h.ProjectID
		req.ClientThreadID = h.ThreadID
	}

	for ev, err := range d.agent.Stream(ctx, req) {
		if err != nil {
			d.fail(ctx, h, err.Error())
			return
		}
		switch ev.Kind {
		case agent.EventMetadata:
			h = d.rebind(h, ev.ProjectID, ev.ThreadID)
		case agent.EventContent:
			if d.append(h, ev.Content) && first {
				first = false
				d.observer.Sending(false)
			}
		case agent.EventError:
			reason := ev.Error
			if reason == "" {
				reason = "agent stream failed"
			}
			d.fail(ctx, h, reason)
			return
		case agent.EventDone:
			d.complete(h)
			return
		}
	}
	d.complete(h)
}

func (d *Dispatcher) awaitAck(ctx context.Context, utt types.Utterance, decision types.Decision) {
	ack := make(chan bool, 1)
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.ack = ack
	d.setStateLocked(StateAwaitUserAck)
	d.mu.Unlock()

	q := &Question{
		Prompt:    decision.Reason,
		YesLabel:  "Yes",
		NoLabel:   "No",
		Reason:    decision.Reason,
		Utterance: utt,
		Metadata:  decision.Metadata,
	}
	if ask := decision.AskUser; ask != nil {
		q.Prompt = cmp.Or(ask.Prompt, q.Prompt)
		q.YesLabel = cmp.Or(ask.YesLabel, q.YesLabel)
		q.NoLabel = cmp.Or(ask.NoLabel, q.NoLabel)
	}
	d.observer.Sending(false)
	d.observer.QuestionAsked(q)

	y := yielderFrom(ctx)
	y.Yield()
	var confirmed bool
	select {
	case confirmed = <-ack:
	case <-ctx.Done():
	}
	d.observer.QuestionAsked(nil)
	if !confirmed {
		slog.Debug("question declined", "reason", decision.Reason)
		return
	}
	if err := y.Reclaim(ctx); err != nil {
		slog.Debug("run abandoned before escalation", "error", err)
		return
	}
	d.observer.Sending(true)
	d.runAgent(ctx, utt, "")
}

func (d *Dispatcher) resolve(confirmed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateAwaitUserAck || d.ack == nil {
		return ErrNoPendingQuestion
	}
	d.ack <- confirmed
	d.ack = nil
	return nil
}

// open starts the stream for the current thread, minting identifiers for a
// new conversation.
func (d *Dispatcher) open(prompt, preface string) (*session.Handle, bool) {
	h, err := d.openLocked(prompt, preface)
	if err != nil {
		switch {
		case errors.Is(err, errStopped):
		case errors.Is(err, state.ErrStreamActive):
			slog.Error("stream already active for thread, aborting run", "thread_id", d.currentThread(), "error", err)
		default:
			slog.Error("open stream", "error", err)
		}
		return nil, false
	}
	_, _, bound := d.Thread()
	d.observer.ThreadBound(h.ProjectID, h.ThreadID, bound)
	return h, true
}

func (d *Dispatcher) openLocked(prompt, preface string) (*session.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, errStopped
	}
	h, err := d.sessions.CreateSession(session.Options{
		Prompt:         prompt,
		ProjectID:      d.projectID,
		ThreadID:       d.threadID,
		InitialContent: preface,
	})
	if err != nil {
		return nil, err
	}
	d.handle = h
	d.projectID, d.threadID = h.ProjectID, h.ThreadID
	return h, nil
}

func (d *Dispatcher) rebind(h *session.Handle, projectID types.ProjectID, threadID types.ThreadID) *session.Handle {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return h
	}
	nh, err := d.sessions.Rebind(h, threadID, projectID)
	if err != nil {
		d.mu.Unlock()
		slog.Error("rebind stream", "from", h.ThreadID, "to", threadID, "error", err)
		return h
	}
	d.handle = nh
	d.projectID, d.threadID = nh.ProjectID, nh.ThreadID
	d.bound = true
	d.mu.Unlock()

	if nh != h {
		slog.Debug("stream rebound", "from", h.ThreadID, "thread_id", nh.ThreadID, "project_id", nh.ProjectID)
	}
	d.observer.ThreadBound(nh.ProjectID, nh.ThreadID, true)
	return nh
}

// append drops chunks once the run is stopped or the store refuses them.
func (d *Dispatcher) append(h *session.Handle, text string) bool {
	if text == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if err := h.Append(text); err != nil {
		slog.Debug("dropped chunk", "thread_id", h.ThreadID, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) complete(h *session.Handle) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	err := h.Finish()
	d.mu.Unlock()
	if err != nil {
		slog.Debug("finish stream", "thread_id", h.ThreadID, "error", err)
	}
	d.observer.Sending(false)
}

func (d *Dispatcher) fail(ctx context.Context, h *session.Handle, reason string) {
	if ctx.Err() != nil {
		reason = CancelledReason
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	err := h.Fail(reason)
	d.mu.Unlock()
	if err == nil {
		slog.Warn("stream failed", "thread_id", h.ThreadID, "reason", reason)
	}
	d.observer.Sending(false)
}

func (d *Dispatcher) finish(cancel context.CancelFunc) {
	cancel()
	d.mu.Lock()
	if d.state != StateDone {
		d.setStateLocked(StateDone)
	}
	d.handle = nil
	d.cancel = nil
	d.ack = nil
	d.setStateLocked(StateIdle)
	d.mu.Unlock()
	d.observer.Sending(false)
}

func (d *Dispatcher) transition(to State) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.setStateLocked(to)
	return true
}

func (d *Dispatcher) setStateLocked(s State) {
	d.state = s
	d.observer.StateChanged(s)
}

func (d *Dispatcher) instructions() string {
	projectID, threadID, _ := d.Thread()
	text, err := d.cfg.Instructions.Render(projectID, threadID)
	if err != nil {
		slog.Warn("render system instructions", "error", err)
		return ""
	}
	return text
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Dispatcher) isBound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bound
}

func (d *Dispatcher) currentThread() types.ThreadID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threadID
}
