package context

import (
	"fmt"
	"strings"
	"testing"

	"github.com/user/adaptivechat/internal/types"
)

func entries(n int) []types.ContextEntry {
	out := make([]types.ContextEntry, n)
	for i := range out {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out[i] = types.ContextEntry{Role: role, Content: fmt.Sprintf("turn %d", i)}
	}
	return out
}

func TestNewWindowDefaults(t *testing.T) {
	w, err := NewWindow(0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if w.maxEntries != DefaultMaxEntries {
		t.Errorf("expected default of %d entries, got %d", DefaultMaxEntries, w.maxEntries)
	}
	if w.count != nil {
		t.Error("expected no tokenizer without a token budget")
	}
}

func TestTrimDropsOldest(t *testing.T) {
	w, err := NewWindow(8, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	in := entries(11)
	out := w.Trim(in)
	if len(out) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(out))
	}
	if out[0].Content != "turn 3" || out[7].Content != "turn 10" {
		t.Errorf("expected turns 3..10, got %q..%q", out[0].Content, out[7].Content)
	}
	if len(in) != 11 || in[0].Content != "turn 0" {
		t.Error("input slice was modified")
	}
}

func TestTrimShortHistory(t *testing.T) {
	w, _ := NewWindow(8, 0, "")
	out := w.Trim(entries(3))
	if len(out) != 3 {
		t.Errorf("expected 3 entries, got %d", len(out))
	}
	if got := w.Trim(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestTrimTokenBudget(t *testing.T) {
	w := &Window{
		maxEntries: 8,
		maxTokens:  5,
		count:      func(s string) int { return len(strings.Fields(s)) },
	}
	// each entry is two "tokens"; five fit two entries
	out := w.Trim(entries(6))
	if len(out) != 2 {
		t.Fatalf("expected 2 entries within budget, got %d", len(out))
	}
	if out[1].Content != "turn 5" {
		t.Errorf("expected newest entry kept, got %q", out[1].Content)
	}
}

func TestFromMessages(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: ""},
		{Role: types.RoleAssistant, Content: "partial", Pending: true},
		{Role: "system", Content: "ignored"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	got := FromMessages(msgs)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Content != "hi" || got[1].Content != "hello" {
		t.Errorf("unexpected entries %+v", got)
	}
}

func TestInstructions(t *testing.T) {
	plain, err := ParseInstructions("Answer briefly.")
	if err != nil {
		t.Fatal(err)
	}
	got, err := plain.Render("p1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Answer briefly." {
		t.Errorf("expected plain text unchanged, got %q", got)
	}

	tmpl, err := ParseInstructions("Thread {{.ThreadID}} in {{.ProjectID}}")
	if err != nil {
		t.Fatal(err)
	}
	got, err = tmpl.Render("p1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Thread t1 in p1" {
		t.Errorf("unexpected render %q", got)
	}

	empty, _ := ParseInstructions("")
	if got, _ := empty.Render("", ""); got != "" {
		t.Errorf("expected empty render, got %q", got)
	}

	if _, err := ParseInstructions("{{.Broken"); err == nil {
		t.Error("expected parse error")
	}
}
