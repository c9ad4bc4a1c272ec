package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/carechat/internal/domain"
)

// Session returns the session or ErrSessionNotFound.
func (s *Service) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Messages lists a session's chat history, oldest first.
func (s *Service) Messages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, sessionID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// Polls lists a session's polls, newest first.
func (s *Service) Polls(ctx context.Context, sessionID string, limit int) ([]domain.Poll, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	polls, err := s.store.ListPolls(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	return polls, nil
}

// Poll returns one poll with its recorded events.
func (s *Service) Poll(ctx context.Context, pollID string) (*domain.Poll, []domain.Event, error) {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get poll: %w", err)
	}
	if poll == nil {
		return nil, nil, domain.ErrPollNotFound
	}
	events, err := s.store.GetEvents(ctx, pollID, 0, nil, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get events: %w", err)
	}
	return poll, events, nil
}
