package domain

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Request is the body sent to both backend endpoints.
type Request struct {
	Prompt    string   `json:"prompt" validate:"required"`
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Workflow  Workflow `json:"workflow"`
	GetStatus bool     `json:"get_status"`
	IsRetry   bool     `json:"is_retry"`
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "session_" + uuid.New().String()[:8]
}

// Normalized returns a copy of r with the fields the backend expects filled in.
func (r Request) Normalized() Request {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.UserID == "" {
		r.UserID = AnonymousUser
	}
	if r.SessionID == "" {
		r.SessionID = NewSessionID()
	}
	if r.Workflow == "" {
		r.Workflow = DefaultWorkflow
	}
	return r
}

// StatusCheck returns a copy of r that asks the orchestrator for progress.
func (r Request) StatusCheck() Request {
	r.GetStatus = true
	r.IsRetry = false
	return r
}

// Retry returns a copy of r flagged as an explicit retry.
func (r Request) Retry() Request {
	r.IsRetry = true
	r.GetStatus = false
	return r
}

// Direct reports whether r skips the enrichment step.
func (r Request) Direct() bool {
	return r.GetStatus || r.IsRetry
}

// PlannedAction is one unit of work the backend queued asynchronously.
type PlannedAction struct {
	Agent  AgentName      `json:"agent"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// MCPACL is the planning structure produced by the enrichment step.
// Raw keeps the original bytes so fields this client does not model
// (agents, data_flow, ...) reach the orchestrator untouched.
type MCPACL struct {
	Scope    string          `json:"scope,omitempty"`
	Agents   []string        `json:"agents,omitempty"`
	Workflow string          `json:"workflow,omitempty"`
	Actions  []PlannedAction `json:"actions,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the modelled fields and keeps the raw document.
func (m *MCPACL) UnmarshalJSON(data []byte) error {
	type plain MCPACL
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = MCPACL(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the raw document when one was decoded.
func (m MCPACL) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type plain MCPACL
	return json.Marshal(plain(m))
}

// EnrichmentResponse is the body returned by POST /process_prompt.
type EnrichmentResponse struct {
	MCPACL *MCPACL `json:"mcp_acl"`
}

// OrchestrationResponse is the body returned by POST /orchestrate.
type OrchestrationResponse struct {
	Status     string        `json:"status"`
	Results    []AgentResult `json:"results,omitempty"`
	MCPACL     *MCPACL       `json:"mcp_acl,omitempty"`
	Error      string        `json:"error,omitempty"`
	OutOfScope bool          `json:"out_of_scope,omitempty"`
	Scope      string        `json:"scope,omitempty"`
}

// PlannedActions returns the queued actions, if any.
func (r *OrchestrationResponse) PlannedActions() []PlannedAction {
	if r == nil || r.MCPACL == nil {
		return nil
	}
	return r.MCPACL.Actions
}

// Agents lists every agent named by results or planned actions, in order of
// first appearance.
func (r *OrchestrationResponse) Agents() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(name AgentName) {
		if name == "" || seen[string(name)] {
			return
		}
		seen[string(name)] = true
		out = append(out, string(name))
	}
	for _, res := range r.Results {
		add(res.Agent)
	}
	for _, a := range r.PlannedActions() {
		add(a.Agent)
	}
	return out
}
