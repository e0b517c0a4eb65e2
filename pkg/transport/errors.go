package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrFirstByteTimeout is wrapped by a NetworkError when the server does
	// not start responding within the configured first-byte timeout.
	ErrFirstByteTimeout = errors.New("timed out waiting for first byte")

	// ErrMissingCredential is returned when the token source cannot supply a
	// bearer token for the request.
	ErrMissingCredential = errors.New("missing credential")
)

// NetworkError reports an I/O failure talking to the backend.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports a non-2xx response. Detail holds the server's error
// message when one could be extracted from the body.
type ProtocolError struct {
	Endpoint   string
	StatusCode int
	Detail     string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Detail)
}

// DecodeError reports a response body that could not be parsed.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
