package transport

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, input string) ([]Event, error) {
	t.Helper()
	reader := newEventReader(strings.NewReader(input))
	var events []Event
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

func TestEventReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "blank line boundaries",
			input: "data: {\"type\":\"start\"}\n\ndata: {\"type\":\"chunk\"}\n\n",
			want:  []string{"start", "chunk"},
		},
		{
			name:  "crlf line endings",
			input: "data: {\"type\":\"start\"}\r\n\r\ndata: {\"type\":\"done\"}\r\n\r\n",
			want:  []string{"start", "done"},
		},
		{
			name:  "non data lines ignored",
			input: ": ping\nevent: chunk\nid: 7\ndata: {\"type\":\"chunk\"}\nretry: 100\n\n",
			want:  []string{"chunk"},
		},
		{
			name:  "trailing record without blank line",
			input: "data: {\"type\":\"chunk\"}\n\ndata: {\"type\":\"done\"}",
			want:  []string{"chunk", "done"},
		},
		{
			name:  "done sentinel and empty records skipped",
			input: "\n\ndata:\n\ndata: [DONE]\n\ndata: {\"type\":\"content\"}\n\n",
			want:  []string{"content"},
		},
		{
			name:  "multi line data joined",
			input: "data: {\"type\":\ndata: \"content\"}\n\n",
			want:  []string{"content"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := readAll(t, tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("expected %d events, got %d", len(tt.want), len(events))
			}
			for i, event := range events {
				if event.Type != tt.want[i] {
					t.Errorf("event %d: expected type %q, got %q", i, tt.want[i], event.Type)
				}
			}
		})
	}
}

func TestEventReaderKeepsPayload(t *testing.T) {
	events, err := readAll(t, "data: {\"type\":\"metadata\",\"thread_id\":\"t1\",\"project_id\":\"p1\"}\n\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	var payload struct {
		ThreadID  string `json:"thread_id"`
		ProjectID string `json:"project_id"`
	}
	if err := events[0].Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.ThreadID != "t1" || payload.ProjectID != "p1" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestEventReaderMalformed(t *testing.T) {
	events, err := readAll(t, "data: {\"type\":\"chunk\"}\n\ndata: not-json\n\ndata: {\"type\":\"done\"}\n\n")
	if len(events) != 1 {
		t.Errorf("expected 1 event before the error, got %d", len(events))
	}
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}
