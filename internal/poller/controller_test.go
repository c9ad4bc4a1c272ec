package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/result"
)

type step struct {
	resp *domain.OrchestrationResponse
	err  error
}

// scripted replays steps in order and repeats the last one when exhausted.
type scripted struct {
	mu     sync.Mutex
	steps  []step
	reqs   []domain.Request
	onCall func(n int)
}

func (s *scripted) Submit(_ context.Context, req domain.Request) (*domain.OrchestrationResponse, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	n := len(s.reqs)
	st := s.steps[min(n, len(s.steps))-1]
	hook := s.onCall
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return st.resp, st.err
}

func (s *scripted) calls() []domain.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Request(nil), s.reqs...)
}

// virtualClock advances only when the controller waits.
type virtualClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	return nil
}

type recordingReporter struct {
	mu      sync.Mutex
	planned []Update
	finals  []Outcome
}

func (r *recordingReporter) Planned(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planned = append(r.planned, u)
}

func (r *recordingReporter) Final(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, o)
}

func planned() *domain.OrchestrationResponse {
	return &domain.OrchestrationResponse{
		Status: "processing",
		MCPACL: &domain.MCPACL{Actions: []domain.PlannedAction{
			{Agent: domain.AgentSymptomAnalyzer, Action: "analyze"},
			{Agent: domain.AgentDiseasePrediction, Action: "predict"},
		}},
	}
}

func pending() *domain.OrchestrationResponse {
	return &domain.OrchestrationResponse{Status: "processing"}
}

func complete() *domain.OrchestrationResponse {
	return &domain.OrchestrationResponse{
		Status: "completed",
		Results: []domain.AgentResult{
			{Agent: domain.AgentSymptomAnalyzer, Result: domain.ResultFields{
				"identified_symptoms": []any{"fever"},
				"severity_level":      "high",
			}},
			{Agent: domain.AgentDiseasePrediction, Result: domain.ResultFields{
				"predicted_diseases": []any{"Influenza"},
				"confidence":         0.85,
			}},
		},
	}
}

func newTestController(s Submitter, clock *virtualClock) *Controller {
	return NewController(s, Options{Wait: clock.Wait, Now: clock.Now})
}

var userRequest = domain.Request{Prompt: "I have a fever", UserID: "u1", SessionID: "s1"}

func TestRunSuccessAfterTwoPendingPolls(t *testing.T) {
	defer goleak.VerifyNone(t)

	sub := &scripted{steps: []step{
		{resp: planned()},
		{resp: pending()},
		{resp: pending()},
		{resp: complete()},
	}}
	clock := newVirtualClock()
	rep := &recordingReporter{}

	out := newTestController(sub, clock).Run(context.Background(), userRequest, rep)

	assert.Equal(t, domain.PollStateCompleted, out.State)
	assert.Equal(t, 3, out.StatusChecks)
	assert.Equal(t, 7*time.Second, out.Elapsed)
	assert.Equal(t, []time.Duration{3 * time.Second, 4 * time.Second}, clock.waits)
	assert.Contains(t, out.Message, "Influenza")
	assert.NoError(t, out.Err)

	require.Len(t, rep.planned, 1)
	assert.Equal(t, "Processing your request...\n\nPlanned actions:\n- symptom_analyzer: analyze\n- disease_prediction: predict", rep.planned[0].Text)
	require.Len(t, rep.finals, 1)
	assert.Equal(t, out.Message, rep.finals[0].Message)

	calls := sub.calls()
	require.Len(t, calls, 4)
	assert.False(t, calls[0].GetStatus)
	for _, c := range calls[1:] {
		assert.True(t, c.GetStatus)
		assert.Equal(t, "s1", c.SessionID)
		assert.Equal(t, "u1", c.UserID)
		assert.Equal(t, "I have a fever", c.Prompt)
		assert.Equal(t, domain.WorkflowSymptomAnalysis, c.Workflow)
	}
}

func TestRunCompleteOnFirstResponse(t *testing.T) {
	sub := &scripted{steps: []step{{resp: complete()}}}
	clock := newVirtualClock()
	rep := &recordingReporter{}

	out := newTestController(sub, clock).Run(context.Background(), userRequest, rep)

	assert.Equal(t, domain.PollStateCompleted, out.State)
	assert.Zero(t, out.StatusChecks)
	assert.Empty(t, rep.planned)
	assert.Empty(t, clock.waits)
	assert.Len(t, sub.calls(), 1)
}

func TestRunExhaustsAfterMaxStatusChecks(t *testing.T) {
	sub := &scripted{steps: []step{{resp: planned()}, {resp: pending()}}}
	clock := newVirtualClock()
	rep := &recordingReporter{}

	out := newTestController(sub, clock).Run(context.Background(), userRequest, rep)

	assert.Equal(t, domain.PollStateExhausted, out.State)
	assert.Equal(t, DefaultMaxAttempts, out.StatusChecks)
	assert.Equal(t, result.TimeoutMessage, out.Message)
	assert.Len(t, sub.calls(), 1+DefaultMaxAttempts)
	assert.Len(t, clock.waits, DefaultMaxAttempts-1)
	assert.Equal(t, 57*time.Second, out.Elapsed)
	require.Len(t, rep.finals, 1)
	assert.Equal(t, result.TimeoutMessage, rep.finals[0].Message)
}

func TestRunCancelledDuringDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := &scripted{steps: []step{{resp: planned()}, {resp: pending()}}}
	sub.onCall = func(n int) {
		if n == 2 {
			// Cancel while the controller is about to sleep after the first status check.
			go cancel()
		}
	}
	rep := &recordingReporter{}
	c := NewController(sub, Options{Backoff: Backoff{Base: time.Hour, Max: time.Hour}})

	done := make(chan Outcome, 1)
	go func() { done <- c.Run(ctx, userRequest, rep) }()

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop after cancellation")
	}

	assert.Equal(t, domain.PollStateCancelled, out.State)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, out.Message)
	assert.Len(t, sub.calls(), 2, "no call may be issued after cancellation")
	assert.Len(t, rep.planned, 1)
	assert.Empty(t, rep.finals, "cancelled runs report nothing")
}

func TestRunCancelledBeforeSubmissionReturns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &scripted{steps: []step{{resp: planned()}}}
	sub.onCall = func(int) { cancel() }
	rep := &recordingReporter{}

	out := newTestController(sub, newVirtualClock()).Run(ctx, userRequest, rep)

	assert.Equal(t, domain.PollStateCancelled, out.State)
	assert.Empty(t, rep.planned)
	assert.Empty(t, rep.finals)
}

func TestRunRetriesTransientStatusErrors(t *testing.T) {
	sub := &scripted{steps: []step{
		{resp: planned()},
		{err: &domain.TransportError{Op: "orchestrate", StatusCode: 502}},
		{resp: complete()},
	}}
	clock := newVirtualClock()

	out := newTestController(sub, clock).Run(context.Background(), userRequest, nil)

	assert.Equal(t, domain.PollStateCompleted, out.State)
	assert.Equal(t, 2, out.StatusChecks)
	assert.Equal(t, []time.Duration{3 * time.Second}, clock.waits)
	assert.NoError(t, out.Err)
}

func TestRunRendersBackendErrorsWhilePolling(t *testing.T) {
	cases := []struct {
		name string
		resp *domain.OrchestrationResponse
		want string
	}{
		{"agent error", &domain.OrchestrationResponse{Status: "processing", Results: []domain.AgentResult{
			{Agent: domain.AgentSymptomAnalyzer, Result: domain.ResultFields{"error": "symptom agent crashed"}},
		}}, "❌ symptom agent crashed"},
		{"top-level error", &domain.OrchestrationResponse{Status: "error", Error: "orchestrator lost session"}, "❌ orchestrator lost session"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &scripted{steps: []step{{resp: planned()}, {resp: tc.resp}}}
			clock := newVirtualClock()
			rep := &recordingReporter{}

			out := newTestController(sub, clock).Run(context.Background(), userRequest, rep)

			assert.Equal(t, domain.PollStateCompleted, out.State)
			assert.Equal(t, tc.want, out.Message)
			assert.Equal(t, 1, out.StatusChecks)
			assert.Len(t, sub.calls(), 2)
			assert.Empty(t, clock.waits)
			require.Len(t, rep.finals, 1)
			assert.Equal(t, tc.want, rep.finals[0].Message)
		})
	}
}

func TestRunExhaustedClearsEarlierStatusError(t *testing.T) {
	sub := &scripted{steps: []step{
		{resp: planned()},
		{err: &domain.TransportError{Op: "orchestrate", StatusCode: 503}},
		{resp: pending()},
	}}

	out := newTestController(sub, newVirtualClock()).Run(context.Background(), userRequest, nil)

	assert.Equal(t, domain.PollStateExhausted, out.State)
	assert.Equal(t, DefaultMaxAttempts, out.StatusChecks)
	assert.NoError(t, out.Err)
}

func TestRunFailsWhenStatusErrorsPersist(t *testing.T) {
	boom := &domain.TransportError{Op: "orchestrate", Message: "orchestrator unavailable"}
	sub := &scripted{steps: []step{{resp: planned()}, {err: boom}}}
	clock := newVirtualClock()
	rep := &recordingReporter{}

	out := newTestController(sub, clock).Run(context.Background(), userRequest, rep)

	assert.Equal(t, domain.PollStateFailed, out.State)
	assert.Equal(t, DefaultMaxAttempts, out.StatusChecks)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, "Error: orchestrator unavailable", out.Message)
	require.Len(t, rep.finals, 1)
}

func TestRunSubmissionErrorFails(t *testing.T) {
	perr := &domain.ProtocolError{Op: "process_prompt", Message: "enrichment did not return required planning structure"}
	sub := &scripted{steps: []step{{err: perr}}}

	out := newTestController(sub, newVirtualClock()).Run(context.Background(), userRequest, nil)

	assert.Equal(t, domain.PollStateFailed, out.State)
	assert.True(t, errors.Is(out.Err, perr))
	assert.Equal(t, "Error: process_prompt: enrichment did not return required planning structure", out.Message)
	assert.Len(t, sub.calls(), 1)
}

func TestRunFirstResponseWithoutWork(t *testing.T) {
	cases := []struct {
		name string
		resp *domain.OrchestrationResponse
		want string
	}{
		{"empty", &domain.OrchestrationResponse{Status: "completed"}, result.NoResponseMessage},
		{"backend error", &domain.OrchestrationResponse{Status: "error", Error: "no agents available"}, "❌ no agents available"},
		{"out of scope", &domain.OrchestrationResponse{Status: "completed", OutOfScope: true}, result.OutOfScopeMessage},
		{"agent error", &domain.OrchestrationResponse{Results: []domain.AgentResult{
			{Agent: domain.AgentSymptomAnalyzer, Result: domain.ResultFields{"error": "model offline"}},
		}}, "❌ model offline"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &scripted{steps: []step{{resp: tc.resp}}}
			out := newTestController(sub, newVirtualClock()).Run(context.Background(), userRequest, nil)
			assert.Equal(t, domain.PollStateCompleted, out.State)
			assert.Equal(t, tc.want, out.Message)
			assert.Len(t, sub.calls(), 1)
		})
	}
}

func TestRunGuardStopsBeforePolling(t *testing.T) {
	sub := &scripted{steps: []step{{resp: planned()}}}
	clock := newVirtualClock()
	guard := func(_ context.Context, req domain.Request, resp *domain.OrchestrationResponse) (string, bool, error) {
		return "please identify", req.UserID == domain.AnonymousUser, nil
	}
	c := NewController(sub, Options{Wait: clock.Wait, Now: clock.Now, Guard: guard})
	rep := &recordingReporter{}

	out := c.Run(context.Background(), domain.Request{Prompt: "show my journey"}, rep)

	assert.Equal(t, domain.PollStateCompleted, out.State)
	assert.Equal(t, "please identify", out.Message)
	assert.Empty(t, rep.planned)
	assert.Len(t, sub.calls(), 1)
}

func TestRunNormalizesRequest(t *testing.T) {
	sub := &scripted{steps: []step{{resp: planned()}, {resp: complete()}}}

	out := newTestController(sub, newVirtualClock()).Run(context.Background(), domain.Request{Prompt: " cough "}, nil)

	calls := sub.calls()
	require.Len(t, calls, 2)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, calls[0].SessionID, calls[1].SessionID)
	assert.Equal(t, out.SessionID, calls[1].SessionID)
	assert.Equal(t, domain.AnonymousUser, calls[1].UserID)
	assert.Equal(t, "cough", calls[1].Prompt)
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{3, 4, 5, 6, 7, 8, 8, 8, 8, 8}
	for attempt, w := range want {
		assert.Equal(t, w*time.Second, b.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 3*time.Second, b.Delay(-1))
}
