package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const (
	maxErrorBody = 1 << 20
	maxDetailLen = 500
)

func newProtocolError(endpoint string, resp *http.Response) *ProtocolError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ProtocolError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Detail:     errorDetail(resp.Header.Get("Content-Type"), body),
	}
}

// errorDetail extracts a readable message from an error body. JSON bodies
// are searched for detail, error and message fields; HTML error pages are
// converted to markdown; anything else is returned as trimmed text.
func errorDetail(contentType string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg := rawMessage(envelope.Detail); msg != "" {
			return truncate(msg)
		}
		if msg := rawMessage(envelope.Error); msg != "" {
			return truncate(msg)
		}
		if msg := strings.TrimSpace(envelope.Message); msg != "" {
			return truncate(msg)
		}
	}

	if strings.Contains(contentType, "text/html") || strings.HasPrefix(strings.ToLower(text), "<!doctype html") || strings.HasPrefix(strings.ToLower(text), "<html") {
		if md, err := htmltomarkdown.ConvertString(text); err == nil && strings.TrimSpace(md) != "" {
			text = strings.TrimSpace(md)
		}
	}
	return truncate(text)
}

// rawMessage renders a detail/error field that may be a string, an object
// with a message, or arbitrary JSON.
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return strings.TrimSpace(obj.Message)
	}
	return strings.TrimSpace(string(raw))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxDetailLen {
		return s
	}
	return string(r[:maxDetailLen]) + "..."
}
