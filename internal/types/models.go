// internal/types/models.go
package types

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Utterance is a submitted user message body.
type Utterance struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Empty reports whether the utterance has neither text nor attachments.
func (u Utterance) Empty() bool {
	return strings.TrimSpace(u.Text) == "" && len(u.Attachments) == 0
}

// ContextEntry is one turn of rolling chat context sent to the classifier
// and fast-answer endpoints.
type ContextEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type DecisionState string

const (
	DecisionDirectAnswer DecisionState = "direct_answer"
	DecisionAgentNeeded  DecisionState = "agent_needed"
	DecisionAskUser      DecisionState = "ask_user"
)

// Valid reports whether s is one of the known decision states.
func (s DecisionState) Valid() bool {
	switch s {
	case DecisionDirectAnswer, DecisionAgentNeeded, DecisionAskUser:
		return true
	}
	return false
}

type AskUser struct {
	Prompt   string `json:"prompt"`
	YesLabel string `json:"yes_label"`
	NoLabel  string `json:"no_label"`
}

// Decision is the classifier's routing verdict. Metadata is carried through
// to observers untouched.
type Decision struct {
	State        DecisionState  `json:"state"`
	Confidence   float64        `json:"confidence"`
	Reason       string         `json:"reason"`
	AgentPreface string         `json:"agent_preface,omitempty"`
	AskUser      *AskUser       `json:"ask_user,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Message struct {
	ID         MessageID       `json:"id"`
	ThreadID   ThreadID        `json:"thread_id"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	Structured json.RawMessage `json:"structured,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	// Pending marks the synthetic assistant entry backed by a live stream.
	Pending bool `json:"-"`
}

// ChatRequest is the request body shared by the classifier and fast-answer
// endpoints.
type ChatRequest struct {
	Message            string         `json:"message"`
	Model              string         `json:"model,omitempty"`
	SystemInstructions string         `json:"system_instructions,omitempty"`
	ChatContext        []ContextEntry `json:"chat_context,omitempty"`
}

type InboundEvent struct {
	Source string          `json:"source"`
	Key    ConversationKey `json:"key"`
	UserID string          `json:"user_id"`
	Text   string          `json:"text"`
}
