package service

import (
	"context"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/policy"
	"github.com/xiaot623/carechat/internal/poller"
	"github.com/xiaot623/carechat/internal/result"
)

// PolicyGuard stops a run whose planned agents the access policy rejects
// for the requesting user.
func PolicyGuard(engine *policy.Engine) poller.Guard {
	return func(ctx context.Context, req domain.Request, resp *domain.OrchestrationResponse) (string, bool, error) {
		decision, reason, err := engine.Evaluate(ctx, policy.Input{
			UserID:   req.UserID,
			Workflow: string(req.Workflow),
			Prompt:   req.Prompt,
			Agents:   resp.Agents(),
		})
		if err != nil {
			return "", false, err
		}
		switch decision {
		case policy.DecisionRequireIdentity:
			return policy.IdentityRequiredMessage, true, nil
		case policy.DecisionDeny:
			if reason == "" {
				reason = "request not permitted"
			}
			return result.FormatBackendError(reason), true, nil
		}
		return "", false, nil
	}
}
