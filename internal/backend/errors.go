package backend

import (
	"errors"
	"fmt"
)

var ErrUnavailable = errors.New("backend unavailable")

// TransportError means no usable response was received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: no response from backend: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError means a response arrived but its body was not the expected JSON.
type MalformedResponseError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// RejectionError is a well-formed error response. Fields holds the backend's
// per-field messages verbatim.
type RejectionError struct {
	Op         string
	StatusCode int
	Message    string
	Fields     map[string][]string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: rejected with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// isTransportFailure decides what trips the breaker: lost connections and 5xx answers.
// Rejections of bad input say nothing about backend health.
func isTransportFailure(err error) bool {
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return malformed.StatusCode >= 500
	}
	var rejected *RejectionError
	if errors.As(err, &rejected) {
		return rejected.StatusCode >= 500
	}
	return false
}
