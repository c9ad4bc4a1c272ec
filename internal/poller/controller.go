// Package poller drives a chat request from submission to a final message,
// polling the orchestrator for completion with progressive backoff.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/result"
)

// DefaultMaxAttempts bounds the number of status checks per run.
const DefaultMaxAttempts = 10

// Submitter sends one request to the backend.
type Submitter interface {
	Submit(ctx context.Context, req domain.Request) (*domain.OrchestrationResponse, error)
}

// Guard inspects the response to the initial submission. When it returns
// stop, the run completes with message instead of polling.
type Guard func(ctx context.Context, req domain.Request, resp *domain.OrchestrationResponse) (message string, stop bool, err error)

// Options configures a Controller.
type Options struct {
	MaxAttempts int
	Backoff     Backoff
	Wait        WaitFunc
	Guard       Guard
	Logger      *zap.Logger
	Now         func() time.Time
}

// Controller runs polling sequences. It holds no per-run state and may be
// shared by concurrent sessions.
type Controller struct {
	submitter   Submitter
	maxAttempts int
	backoff     Backoff
	wait        WaitFunc
	guard       Guard
	logger      *zap.Logger
	now         func() time.Time
}

// NewController creates a controller, filling unset options with defaults.
func NewController(s Submitter, opts Options) *Controller {
	c := &Controller{
		submitter:   s,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		wait:        opts.Wait,
		guard:       opts.Guard,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoff == (Backoff{}) {
		c.backoff = DefaultBackoff()
	}
	if c.wait == nil {
		c.wait = Sleep
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// pollState is owned by exactly one Run call.
type pollState struct {
	req       domain.Request
	state     domain.PollState
	attempt   int
	lastErr   error
	results   []domain.AgentResult
	message   string
	startedAt time.Time
}

// Run submits req and, when the backend answers asynchronously, polls until
// the results are complete, the attempt budget runs out, or a fatal error
// occurs. The outcome is passed to rep.Final and returned. If ctx is
// cancelled the run stops issuing calls, reports nothing, and returns an
// outcome in the CANCELLED state.
func (c *Controller) Run(ctx context.Context, req domain.Request, rep Reporter) Outcome {
	if rep == nil {
		rep = nopReporter{}
	}
	req = req.Normalized()
	ps := &pollState{
		req:       req,
		state:     domain.PollStateSubmitting,
		startedAt: c.now(),
	}
	log := c.logger.With(zap.String("session_id", req.SessionID))

	for !ps.state.IsTerminal() {
		switch ps.state {
		case domain.PollStateSubmitting:
			c.submit(ctx, ps, rep, log)
		case domain.PollStateAwaitingCompletion:
			c.await(ctx, ps, log)
		}
	}

	out := Outcome{
		SessionID:    req.SessionID,
		State:        ps.state,
		StatusChecks: ps.attempt,
		Results:      ps.results,
		Message:      ps.message,
		Err:          ps.lastErr,
		Elapsed:      c.now().Sub(ps.startedAt),
	}
	if ps.state == domain.PollStateCancelled {
		log.Info("poll cancelled", zap.Int("status_checks", ps.attempt))
		return out
	}
	log.Info("poll finished",
		zap.String("state", string(ps.state)),
		zap.Int("status_checks", ps.attempt),
		zap.Duration("elapsed", out.Elapsed))
	rep.Final(out)
	return out
}

func (c *Controller) submit(ctx context.Context, ps *pollState, rep Reporter, log *zap.Logger) {
	resp, err := c.submitter.Submit(ctx, ps.req)
	if ctx.Err() != nil {
		c.cancel(ps, ctx.Err())
		return
	}
	if err != nil {
		log.Warn("submission failed", zap.Error(err))
		c.fail(ps, err)
		return
	}
	if resp == nil {
		resp = &domain.OrchestrationResponse{}
	}

	if c.guard != nil {
		msg, stop, err := c.guard(ctx, ps.req, resp)
		if err != nil {
			c.fail(ps, err)
			return
		}
		if stop {
			c.complete(ps, resp.Results, msg)
			return
		}
	}

	if len(resp.Results) > 0 && result.IsComplete(resp.Results) {
		c.complete(ps, resp.Results, result.FormatResults(resp.Results))
		return
	}

	actions := resp.PlannedActions()
	if len(actions) > 0 {
		rep.Planned(Update{
			SessionID: ps.req.SessionID,
			Actions:   actions,
			Text:      result.FormatPlannedActions(actions),
		})
	}

	switch {
	case len(actions) > 0 && !hasErrors(resp.Results):
		ps.state = domain.PollStateAwaitingCompletion
	case len(resp.Results) > 0 && !hasErrors(resp.Results):
		// Partial results: the remaining agents are still running.
		ps.state = domain.PollStateAwaitingCompletion
	case len(resp.Results) > 0:
		c.complete(ps, resp.Results, result.FormatResults(resp.Results))
	case resp.Error != "":
		c.complete(ps, nil, result.FormatBackendError(resp.Error))
	case resp.OutOfScope:
		c.complete(ps, nil, result.OutOfScopeMessage)
	default:
		c.complete(ps, nil, result.NoResponseMessage)
	}
	if ps.state == domain.PollStateAwaitingCompletion {
		log.Debug("awaiting completion", zap.Int("planned_actions", len(actions)))
	}
}

func (c *Controller) await(ctx context.Context, ps *pollState, log *zap.Logger) {
	attempt := ps.attempt
	resp, err := c.submitter.Submit(ctx, ps.req.StatusCheck())
	if ctx.Err() != nil {
		c.cancel(ps, ctx.Err())
		return
	}
	ps.attempt = attempt + 1
	if err == nil && resp == nil {
		resp = &domain.OrchestrationResponse{}
	}

	switch {
	case err != nil:
		ps.lastErr = err
		if attempt >= c.maxAttempts-1 {
			log.Warn("status check failed, giving up", zap.Int("attempt", ps.attempt), zap.Error(err))
			c.fail(ps, err)
			return
		}
		log.Warn("status check failed", zap.Int("attempt", ps.attempt), zap.Error(err))
	case result.IsComplete(resp.Results), hasErrors(resp.Results):
		c.complete(ps, resp.Results, result.FormatResults(resp.Results))
		return
	case len(resp.Results) == 0 && resp.Error != "":
		c.complete(ps, nil, result.FormatBackendError(resp.Error))
		return
	case ps.attempt >= c.maxAttempts:
		ps.state = domain.PollStateExhausted
		ps.results = resp.Results
		ps.message = result.TimeoutMessage
		ps.lastErr = nil
		return
	default:
		ps.lastErr = nil
	}

	delay := c.backoff.Delay(attempt)
	log.Debug("waiting before next status check", zap.Int("attempt", ps.attempt), zap.Duration("delay", delay))
	if err := c.wait(ctx, delay); err != nil {
		c.cancel(ps, err)
	}
}

func (c *Controller) complete(ps *pollState, results []domain.AgentResult, msg string) {
	ps.state = domain.PollStateCompleted
	ps.results = results
	ps.message = msg
	ps.lastErr = nil
}

func (c *Controller) fail(ps *pollState, err error) {
	ps.state = domain.PollStateFailed
	ps.lastErr = err
	ps.message = result.FormatFailure(err)
}

func (c *Controller) cancel(ps *pollState, err error) {
	ps.state = domain.PollStateCancelled
	ps.lastErr = err
	ps.message = ""
}

func hasErrors(results []domain.AgentResult) bool {
	for _, r := range results {
		if _, ok := r.Result.ErrorMessage(); ok {
			return true
		}
	}
	return false
}
