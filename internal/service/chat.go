package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/identity"
	"github.com/xiaot623/carechat/internal/poller"
)

// ChatInput is a prompt submitted to a session.
type ChatInput struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Prompt    string          `json:"prompt" validate:"required,max=4000"`
	Workflow  domain.Workflow `json:"workflow" validate:"omitempty,oneof=symptom_analysis medical_diagnosis"`
}

// PollHandle identifies a poll started by Submit or Retry.
type PollHandle struct {
	PollID    string `json:"poll_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	done chan struct{}
}

// Done is closed once the poll has reached a terminal state.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Submit stores the prompt and starts polling for it in the background.
// A session runs at most one poll at a time.
func (s *Service) Submit(ctx context.Context, in ChatInput) (*PollHandle, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.SessionID = strings.TrimSpace(in.SessionID)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if in.SessionID == "" {
		in.SessionID = domain.NewSessionID()
	}
	if in.Workflow == "" {
		in.Workflow = domain.DefaultWorkflow
	}

	userID, err := s.resolveUser(ctx, in.SessionID, in.UserID)
	if err != nil {
		return nil, err
	}

	req := domain.Request{
		Prompt:    in.Prompt,
		UserID:    userID,
		SessionID: in.SessionID,
		Workflow:  in.Workflow,
	}
	return s.start(ctx, req)
}

// Retry resends the latest prompt of a session flagged as a retry.
func (s *Service) Retry(ctx context.Context, sessionID string) (*PollHandle, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	last, err := s.store.LatestPoll(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest poll: %w", err)
	}
	if last == nil || last.Prompt == "" {
		return nil, domain.ErrNothingToRetry
	}

	req := domain.Request{
		Prompt:    last.Prompt,
		UserID:    session.UserID,
		SessionID: sessionID,
		Workflow:  last.Workflow,
	}.Retry()
	return s.start(ctx, req)
}

// Cancel stops the poll running for sessionID and waits for it to settle.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	f, ok := s.inflight[sessionID]
	s.mu.Unlock()
	if !ok {
		return domain.ErrNoActivePoll
	}
	f.cancel()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BindPatient attaches patientID to the session, creating it if needed.
func (s *Service) BindPatient(ctx context.Context, sessionID, patientID string) (*domain.Session, error) {
	patientID = strings.TrimSpace(patientID)
	if !identity.LooksLikePatientID(patientID) {
		return nil, &domain.ValidationError{Field: "patient_id", Message: "not a valid patient id"}
	}
	if _, err := s.store.GetOrCreateSession(ctx, sessionID, patientID); err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if err := s.store.UpdateSessionUser(ctx, sessionID, patientID); err != nil {
		return nil, fmt.Errorf("failed to bind patient: %w", err)
	}
	s.logger.Info("patient bound", zap.String("session_id", sessionID), zap.String("user_id", patientID))
	return s.store.GetSession(ctx, sessionID)
}

// resolveUser picks the identity a prompt runs as. An anonymous prompt
// inherits the user already bound to the session.
func (s *Service) resolveUser(ctx context.Context, sessionID, userID string) (string, error) {
	userID = identity.Resolve(userID)
	session, err := s.store.GetOrCreateSession(ctx, sessionID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	if identity.IsAnonymous(userID) {
		return session.UserID, nil
	}
	if session.UserID != userID {
		if err := s.store.UpdateSessionUser(ctx, sessionID, userID); err != nil {
			return "", fmt.Errorf("failed to update session user: %w", err)
		}
	}
	return userID, nil
}

func (s *Service) start(ctx context.Context, req domain.Request) (*PollHandle, error) {
	pollID := "poll_" + uuid.New().String()[:8]
	runCtx, cancel := context.WithCancel(s.rootCtx)
	f := &inflight{pollID: pollID, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, domain.ErrServiceClosed
	}
	if _, busy := s.inflight[req.SessionID]; busy {
		s.mu.Unlock()
		cancel()
		return nil, domain.ErrSessionBusy
	}
	s.inflight[req.SessionID] = f
	s.wg.Add(1)
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inflight, req.SessionID)
		s.mu.Unlock()
		cancel()
		close(f.done)
		s.wg.Done()
	}

	now := time.Now()
	poll := &domain.Poll{
		PollID:    pollID,
		SessionID: req.SessionID,
		Prompt:    req.Prompt,
		Workflow:  req.Workflow,
		State:     domain.PollStateSubmitting,
		StartedAt: now,
	}
	if err := s.store.CreatePoll(ctx, poll); err != nil {
		release()
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}

	if !req.IsRetry {
		userMsg := &domain.Message{
			MessageID: "msg_" + uuid.New().String()[:8],
			SessionID: req.SessionID,
			PollID:    pollID,
			Role:      domain.RoleUser,
			Content:   req.Prompt,
			CreatedAt: now,
		}
		if err := s.store.CreateMessage(ctx, userMsg); err != nil {
			s.logger.Error("failed to store user message", zap.String("poll_id", pollID), zap.Error(err))
		}
	}

	started := domain.PollStartedPayload{
		Prompt:   req.Prompt,
		UserID:   req.UserID,
		Workflow: req.Workflow,
		Retry:    req.IsRetry,
	}
	s.recordEvent(ctx, pollID, req.SessionID, domain.EventTypePollStarted, started)
	if req.IsRetry {
		s.recordEvent(ctx, pollID, req.SessionID, domain.EventTypeRetry, started)
	}

	s.metrics.PollStarted()
	go func() {
		defer release()
		s.run(runCtx, pollID, req)
	}()

	return &PollHandle{
		PollID:    pollID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		done:      f.done,
	}, nil
}

func (s *Service) run(ctx context.Context, pollID string, req domain.Request) {
	rep := &pollReporter{service: s, pollID: pollID, sessionID: req.SessionID}
	out := s.runner.Run(ctx, req, rep)
	if out.State != domain.PollStateCancelled {
		return
	}

	bg, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.UpdatePollCompleted(bg, pollID, domain.PollStateCancelled, out.StatusChecks, "", ""); err != nil {
		s.logger.Error("failed to mark poll cancelled", zap.String("poll_id", pollID), zap.Error(err))
	}
	s.recordEvent(bg, pollID, req.SessionID, domain.EventTypeCancelled, domain.FinalPayload{
		State:    domain.PollStateCancelled,
		Attempts: out.StatusChecks,
	})
	s.metrics.PollFinished(domain.PollStateCancelled, out.StatusChecks)
}

// pollReporter persists what the runner reports for one poll.
type pollReporter struct {
	service   *Service
	pollID    string
	sessionID string
}

func (r *pollReporter) Planned(u poller.Update) {
	s := r.service
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.UpdatePollState(ctx, r.pollID, domain.PollStateAwaitingCompletion); err != nil {
		s.logger.Error("failed to update poll state", zap.String("poll_id", r.pollID), zap.Error(err))
	}
	s.storeReply(ctx, r.pollID, r.sessionID, u.Text)
	s.recordEvent(ctx, r.pollID, r.sessionID, domain.EventTypePlanned, domain.PlannedPayload{
		Text:    u.Text,
		Actions: u.Actions,
	})
}

func (r *pollReporter) Final(o poller.Outcome) {
	s := r.service
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	errMsg := ""
	if o.Err != nil {
		errMsg = o.Err.Error()
	}
	if err := s.store.UpdatePollCompleted(ctx, r.pollID, o.State, o.StatusChecks, o.Message, errMsg); err != nil {
		s.logger.Error("failed to complete poll", zap.String("poll_id", r.pollID), zap.Error(err))
	}
	s.storeReply(ctx, r.pollID, r.sessionID, o.Message)
	s.recordEvent(ctx, r.pollID, r.sessionID, domain.EventTypeFinal, domain.FinalPayload{
		State:    o.State,
		Text:     o.Message,
		Attempts: o.StatusChecks,
		Error:    errMsg,
	})
	s.metrics.PollFinished(o.State, o.StatusChecks)
}

func (s *Service) storeReply(ctx context.Context, pollID, sessionID, text string) {
	if text == "" {
		return
	}
	msg := &domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		SessionID: sessionID,
		PollID:    pollID,
		Role:      domain.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		s.logger.Error("failed to store reply", zap.String("poll_id", pollID), zap.Error(err))
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &domain.ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &domain.ValidationError{Field: field, Message: "must not be empty"}
	case "max":
		return &domain.ValidationError{Field: field, Message: "must be at most " + fe.Param() + " characters"}
	case "oneof":
		return &domain.ValidationError{Field: field, Message: "must be one of " + fe.Param()}
	}
	return &domain.ValidationError{Field: field, Message: "is invalid"}
}
