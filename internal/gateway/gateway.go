package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/adaptivechat/internal/chat"
	"github.com/user/adaptivechat/internal/dispatch"
	"github.com/user/adaptivechat/internal/types"
)

// SessionFactory creates the chat session for a new conversation. Every
// session it returns should share one stream store and session manager.
type SessionFactory func() *chat.Session

// Gateway orchestrates inbound events into runs. It resolves (or creates)
// the conversation's chat session, wraps each event in a Run, and enqueues
// the run for processing.
type Gateway struct {
	newSession SessionFactory
	Queue      *Queue

	mu            sync.Mutex
	conversations map[types.ConversationKey]*chat.Session

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway with the given concurrency limit for simultaneous
// run processing.
func New(newSession SessionFactory, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	g := &Gateway{
		newSession:    newSession,
		Queue:         NewQueue(concurrency),
		conversations: make(map[types.ConversationKey]*chat.Session),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and closes every
// conversation.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Lock()
	sessions := make([]*chat.Session, 0, len(g.conversations))
	for _, s := range g.conversations {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()
	for _, s := range sessions {
		s.StopAgent()
	}
	g.Queue.Stop()
	for _, s := range sessions {
		s.Close()
	}
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked with the conversation's snapshot
// once the run is done.
func WithOnComplete(fn func(chat.Snapshot)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// WithOnQuestion sets a callback invoked when the run asks the user to
// confirm escalation.
func WithOnQuestion(fn func(*dispatch.Question)) RunOption {
	return func(r *Run) { r.OnQuestion = fn }
}

// WithOnError sets a callback invoked when the run cannot be processed.
func WithOnError(fn func(error)) RunOption {
	return func(r *Run) { r.OnError = fn }
}

// HandleInbound wraps the event in a Run and enqueues it on the
// conversation's lane.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	if event.Key == "" {
		return errors.New("inbound event without conversation key")
	}
	run := NewRun(event)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	return nil
}

// Conversation returns the session for key, creating it on first use.
func (g *Gateway) Conversation(key types.ConversationKey) *chat.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.conversations[key]
	if !ok {
		s = g.newSession()
		g.conversations[key] = s
	}
	return s
}

// Cancel stops the conversation's in-flight run, if any.
func (g *Gateway) Cancel(key types.ConversationKey) {
	g.mu.Lock()
	s, ok := g.conversations[key]
	g.mu.Unlock()
	if ok {
		s.StopAgent()
	}
}

// Reset starts a new thread for the conversation.
func (g *Gateway) Reset(ctx context.Context, key types.ConversationKey) error {
	return g.Conversation(key).Open(ctx, "", "")
}

func (g *Gateway) process(run *Run) error {
	s := g.Conversation(run.Key)

	done := make(chan struct{})
	var wg sync.WaitGroup
	if run.OnQuestion != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchQuestions(s, done, run.OnQuestion)
		}()
	}

	ctx := run.Ctx
	if run.slot != nil {
		ctx = dispatch.WithYielder(ctx, run.slot)
	}
	err := s.SendMessage(ctx, run.Event.Text)
	close(done)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	run.complete(s.Snapshot())
	return nil
}

// watchQuestions reports each newly pending question until done closes.
func watchQuestions(s *chat.Session, done <-chan struct{}, fn func(*dispatch.Question)) {
	var last *dispatch.Question
	for {
		select {
		case <-done:
			return
		case <-s.Updates():
			q := s.Snapshot().Question
			if q != nil && q != last {
				fn(q)
			}
			last = q
		}
	}
}
