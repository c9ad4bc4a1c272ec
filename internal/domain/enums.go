// Package domain defines the core domain models for carechat.
package domain

// AgentName identifies a backend sub-processor.
type AgentName string

const (
	AgentSymptomAnalyzer   AgentName = "symptom_analyzer"
	AgentDiseasePrediction AgentName = "disease_prediction"
	AgentPatientJourney    AgentName = "patient_journey"
)

// Workflow selects the processing mode on the backend.
type Workflow string

const (
	WorkflowSymptomAnalysis  Workflow = "symptom_analysis"
	WorkflowMedicalDiagnosis Workflow = "medical_diagnosis"
	DefaultWorkflow          Workflow = WorkflowSymptomAnalysis
)

// AnonymousUser is the identity used when the caller has not identified.
const AnonymousUser = "anonymous"

// PollState is the state of a polling sequence.
type PollState string

const (
	PollStateSubmitting         PollState = "SUBMITTING"
	PollStateAwaitingCompletion PollState = "AWAITING_COMPLETION"
	PollStateCompleted          PollState = "COMPLETED"
	PollStateExhausted          PollState = "EXHAUSTED"
	PollStateFailed             PollState = "FAILED"
	PollStateCancelled          PollState = "CANCELLED"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s PollState) IsTerminal() bool {
	switch s {
	case PollStateCompleted, PollStateExhausted, PollStateFailed, PollStateCancelled:
		return true
	}
	return false
}

// MessageRole is the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// EventType represents the type of a poll lifecycle event.
type EventType string

const (
	EventTypePollStarted EventType = "poll_started"
	EventTypePlanned     EventType = "planned"
	EventTypeFinal       EventType = "final"
	EventTypeCancelled   EventType = "cancelled"
	EventTypeRetry       EventType = "retry"
)
