// Package repository persists chat sessions, messages and poll history.
package repository

import (
	"context"

	"github.com/xiaot623/carechat/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetOrCreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error)
	UpdateSessionUser(ctx context.Context, sessionID, userID string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error)

	// Poll operations
	CreatePoll(ctx context.Context, poll *domain.Poll) error
	GetPoll(ctx context.Context, pollID string) (*domain.Poll, error)
	ListPolls(ctx context.Context, sessionID string, limit int) ([]domain.Poll, error)
	LatestPoll(ctx context.Context, sessionID string) (*domain.Poll, error)
	UpdatePollState(ctx context.Context, pollID string, state domain.PollState) error
	UpdatePollCompleted(ctx context.Context, pollID string, state domain.PollState, attempts int, finalMessage, errMsg string) error

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, pollID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Lifecycle
	Close() error
}
