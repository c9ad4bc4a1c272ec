// Package policy evaluates the chat access policy with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireIdentity Decision = "require_identity"
	DecisionDeny            Decision = "deny"
)

// IdentityRequiredMessage asks an anonymous user to identify before their
// patient journey can be shown.
const IdentityRequiredMessage = "📋 This appears to be a patient journey query.\n\n" +
	"You need to register to access your medical history and health journey.\n\n" +
	"Please share your Patient ID to continue."

// Input is the document the policy is evaluated against.
type Input struct {
	UserID   string
	Workflow string
	Prompt   string
	Agents   []string
}

func (in Input) toMap() map[string]any {
	agents := make([]any, len(in.Agents))
	for i, a := range in.Agents {
		agents[i] = a
	}
	return map[string]any{
		"user_id":  in.UserID,
		"workflow": in.Workflow,
		"prompt":   in.Prompt,
		"agents":   agents,
	}
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles policyContent, which must define
// data.carechat.access.decision and data.carechat.access.reason.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("decision := data.carechat.access.decision; reason := data.carechat.access.reason"),
		rego.Module("access.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the decision and an optional reason for input.
// An undefined result is treated as allow.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 {
		return DecisionAllow, "", nil
	}

	decision, ok := results[0].Bindings["decision"].(string)
	if !ok {
		return "", "", fmt.Errorf("policy returned unexpected decision type %T", results[0].Bindings["decision"])
	}
	reason, _ := results[0].Bindings["reason"].(string)

	switch d := Decision(decision); d {
	case DecisionAllow, DecisionRequireIdentity, DecisionDeny:
		return d, reason, nil
	}
	return "", "", fmt.Errorf("policy returned unknown decision %q", decision)
}

// DefaultPolicy requires an identified user for patient journey lookups.
const DefaultPolicy = `
package carechat.access

default decision := "allow"

default reason := ""

journey_requested if {
	some agent in input.agents
	agent == "patient_journey"
}

decision := "require_identity" if {
	journey_requested
	input.user_id == "anonymous"
}

reason := "patient journey requires an identified patient" if {
	decision == "require_identity"
}
`
