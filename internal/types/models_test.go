// internal/types/models_test.go
package types

import (
	"encoding/json"
	"testing"
)

func TestUtteranceEmpty(t *testing.T) {
	tests := []struct {
		name string
		u    Utterance
		want bool
	}{
		{"blank", Utterance{Text: "   "}, true},
		{"text", Utterance{Text: "hi"}, false},
		{"attachment only", Utterance{Attachments: []Attachment{{Name: "a.png"}}}, false},
	}
	for _, tt := range tests {
		if got := tt.u.Empty(); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestDecisionStateValid(t *testing.T) {
	for _, s := range []DecisionState{DecisionDirectAnswer, DecisionAgentNeeded, DecisionAskUser} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if DecisionState("maybe").Valid() {
		t.Error("expected unknown state to be invalid")
	}
}

func TestDecisionWireFormat(t *testing.T) {
	raw := `{"state":"ask_user","confidence":0.4,"reason":"ambiguous",
		"ask_user":{"prompt":"Book now?","yes_label":"Yes","no_label":"No"},
		"metadata":{"route":"booking","score":[1,2]}}`

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionAskUser || d.AskUser == nil || d.AskUser.YesLabel != "Yes" {
		t.Errorf("unexpected decision %+v", d)
	}
	if d.Metadata["route"] != "booking" {
		t.Errorf("expected metadata to be kept, got %v", d.Metadata)
	}
}
