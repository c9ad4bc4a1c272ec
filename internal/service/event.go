package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/domain"
)

// recordEvent stores an event and hands it to every notifier. Failures are
// logged; a poll never stops because its history could not be written.
func (s *Service) recordEvent(ctx context.Context, pollID, sessionID string, eventType domain.EventType, payload interface{}) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	event := domain.Event{
		EventID:   "evt_" + uuid.New().String()[:8],
		PollID:    pollID,
		SessionID: sessionID,
		Ts:        time.Now().UnixMilli(),
		Type:      eventType,
		Payload:   payloadBytes,
	}
	if err := s.store.CreateEvent(ctx, &event); err != nil {
		s.logger.Error("failed to record event",
			zap.String("poll_id", pollID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}

	s.mu.Lock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.mu.Unlock()
	for _, n := range notifiers {
		n.Notify(ctx, event)
	}
}
