package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// EventDone is the event type that ends a stream.
const EventDone = "done"

// Event is one server-sent event. Type is taken from the payload's "type"
// field; Payload is the raw JSON object.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// eventReader assembles "data:" lines into events. A blank line ends a
// record; any other line is ignored. Only the record being assembled is
// buffered.
type eventReader struct {
	r    *bufio.Reader
	data []string
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
// Malformed payloads are reported as *DecodeError.
func (er *eventReader) Next() (Event, error) {
	for {
		line, err := er.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}

		if len(line) > 0 {
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed == "" {
				event, ok, decodeErr := er.flush()
				if decodeErr != nil {
					return Event{}, decodeErr
				}
				if ok {
					return event, nil
				}
			} else if strings.HasPrefix(trimmed, "data:") {
				er.data = append(er.data, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
			}
		}

		if errors.Is(err, io.EOF) {
			event, ok, decodeErr := er.flush()
			if decodeErr != nil {
				return Event{}, decodeErr
			}
			if ok {
				return event, nil
			}
			return Event{}, io.EOF
		}
	}
}

func (er *eventReader) flush() (Event, bool, error) {
	if len(er.data) == 0 {
		return Event{}, false, nil
	}
	payload := strings.Join(er.data, "\n")
	er.data = er.data[:0]
	if payload == "" || payload == "[DONE]" {
		return Event{}, false, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return Event{}, false, &DecodeError{Err: err}
	}
	return Event{Type: head.Type, Payload: json.RawMessage(payload)}, true, nil
}
