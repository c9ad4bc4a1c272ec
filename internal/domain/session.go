package domain

import (
	"encoding/json"
	"time"
)

// Session represents a chat conversation with one user.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one chat line, either typed by the user or produced for them.
type Message struct {
	MessageID string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	PollID    string      `json:"poll_id,omitempty"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Poll records one polling sequence started by a user prompt.
type Poll struct {
	PollID       string     `json:"poll_id"`
	SessionID    string     `json:"session_id"`
	Prompt       string     `json:"prompt"`
	Workflow     Workflow   `json:"workflow"`
	State        PollState  `json:"state"`
	Attempts     int        `json:"attempts"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	FinalMessage string     `json:"final_message,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Event is a lifecycle record for a poll.
type Event struct {
	EventID   string          `json:"event_id"`
	PollID    string          `json:"poll_id"`
	SessionID string          `json:"session_id"`
	Ts        int64           `json:"ts"` // Unix milliseconds
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PlannedPayload is the payload of a planned event.
type PlannedPayload struct {
	Text    string          `json:"text"`
	Actions []PlannedAction `json:"actions"`
}

// FinalPayload is the payload of a final event.
type FinalPayload struct {
	State    PollState `json:"state"`
	Text     string    `json:"text"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// PollStartedPayload is the payload of a poll_started event.
type PollStartedPayload struct {
	Prompt   string   `json:"prompt"`
	UserID   string   `json:"user_id"`
	Workflow Workflow `json:"workflow"`
	Retry    bool     `json:"retry,omitempty"`
}
