package context

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/user/adaptivechat/internal/types"
)

// InstructionData is the data available to a system-instructions template:
// .Time, .ThreadID, .ProjectID
type InstructionData struct {
	Time      string
	ThreadID  types.ThreadID
	ProjectID types.ProjectID
}

// Instructions renders configured system instructions. Plain strings pass
// through unchanged; text/template syntax is expanded per request.
type Instructions struct {
	tmpl *template.Template
}

// ParseInstructions compiles text. An empty text yields Instructions that
// render to "".
func ParseInstructions(text string) (*Instructions, error) {
	if text == "" {
		return &Instructions{}, nil
	}
	tmpl, err := template.New("instructions").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse system instructions: %w", err)
	}
	return &Instructions{tmpl: tmpl}, nil
}

// Render expands the instructions for one request.
func (in *Instructions) Render(projectID types.ProjectID, threadID types.ThreadID) (string, error) {
	if in == nil || in.tmpl == nil {
		return "", nil
	}
	var buf bytes.Buffer
	data := InstructionData{
		Time:      time.Now().Format(time.RFC3339),
		ThreadID:  threadID,
		ProjectID: projectID,
	}
	if err := in.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system instructions: %w", err)
	}
	return buf.String(), nil
}
