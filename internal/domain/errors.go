package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionBusy is returned when a session already has a poll in flight.
	ErrSessionBusy = errors.New("session already has a request in progress")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNothingToRetry is returned when a session has no prompt to resend.
	ErrNothingToRetry = errors.New("no previous prompt to retry")
	// ErrNoActivePoll is returned when cancelling a session that is idle.
	ErrNoActivePoll = errors.New("no request in progress")
	// ErrPollNotFound is returned for an unknown poll id.
	ErrPollNotFound = errors.New("poll not found")
	// ErrServiceClosed is returned for prompts sent after shutdown began.
	ErrServiceClosed = errors.New("service is shutting down")
)

// ValidationError rejects a request before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransportError reports a network failure, a timeout or a non-2xx reply.
// Message carries the backend's own error text when the reply had one.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": transport failure"
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on a second attempt.
func (e *TransportError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ProtocolError reports a well-formed reply missing required structure.
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// IsProtocol reports whether err is a ProtocolError.
func IsProtocol(err error) bool {
	var p *ProtocolError
	return errors.As(err, &p)
}
