// Package protocol defines the WebSocket message protocol between chat
// clients and carechat.
package protocol

import (
	"encoding/json"

	"github.com/xiaot623/carechat/internal/domain"
)

// Message types from client to carechat
const (
	TypeHello  = "hello"
	TypeChat   = "chat"
	TypeCancel = "cancel"
	TypeRetry  = "retry"
)

// Message types from carechat to client
const (
	TypeHelloAck      = "hello_ack"
	TypeProcessing    = "processing"
	TypePlanned       = "planned"
	TypeFinal         = "final"
	TypeCancelled     = "cancelled"
	TypeIdentityBound = "identity_bound"
	TypeError         = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	PollID    string `json:"poll_id,omitempty"`
}

// HelloMessage is sent by client to establish connection.
type HelloMessage struct {
	BaseMessage
	UserID string `json:"user_id,omitempty"`
}

// HelloAckMessage is sent after a successful hello.
type HelloAckMessage struct {
	BaseMessage
	UserID string `json:"user_id"`
}

// ChatMessage carries one user prompt.
type ChatMessage struct {
	BaseMessage
	Content  string          `json:"content"`
	Workflow domain.Workflow `json:"workflow,omitempty"`
}

// CancelMessage stops the session's running poll.
type CancelMessage struct {
	BaseMessage
}

// RetryMessage resends the session's latest prompt.
type RetryMessage struct {
	BaseMessage
}

// TextMessage is a plain assistant line (processing, identity_bound).
type TextMessage struct {
	BaseMessage
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// PlannedMessage lists the work the backend queued.
type PlannedMessage struct {
	BaseMessage
	Text    string                 `json:"text"`
	Actions []domain.PlannedAction `json:"actions,omitempty"`
}

// FinalMessage is the terminal reply of a poll.
type FinalMessage struct {
	BaseMessage
	Text     string           `json:"text"`
	State    domain.PollState `json:"state"`
	Attempts int              `json:"attempts"`
}

// ErrorMessage is sent when a client message cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeSessionBusy     = "session_busy"
	ErrorCodeNoActivePoll    = "no_active_poll"
	ErrorCodeNothingToRetry  = "nothing_to_retry"
	ErrorCodeValidation      = "validation_failed"
	ErrorCodeInternalError   = "internal_error"
)

// RawMessage is used for parsing incoming messages before type dispatch.
type RawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}
