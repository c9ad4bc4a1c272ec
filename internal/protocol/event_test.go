package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/result"
)

func TestFromEvent(t *testing.T) {
	final, _ := json.Marshal(domain.FinalPayload{State: domain.PollStateExhausted, Text: result.TimeoutMessage, Attempts: 10})
	planned, _ := json.Marshal(domain.PlannedPayload{
		Text:    "🔄 Processing",
		Actions: []domain.PlannedAction{{Agent: domain.AgentDiseasePrediction, Action: "predict"}},
	})

	msg, ok := FromEvent(domain.Event{SessionID: "s1", PollID: "p1", Ts: 5, Type: domain.EventTypePollStarted})
	require.True(t, ok)
	assert.Equal(t, TextMessage{
		BaseMessage: BaseMessage{Type: TypeProcessing, Ts: 5, SessionID: "s1", PollID: "p1"},
		Text:        result.ProcessingMessage,
	}, msg)

	msg, ok = FromEvent(domain.Event{SessionID: "s1", PollID: "p1", Type: domain.EventTypePlanned, Payload: planned})
	require.True(t, ok)
	pm := msg.(PlannedMessage)
	assert.Equal(t, TypePlanned, pm.Type)
	assert.Len(t, pm.Actions, 1)

	msg, ok = FromEvent(domain.Event{SessionID: "s1", PollID: "p1", Type: domain.EventTypeFinal, Payload: final})
	require.True(t, ok)
	fm := msg.(FinalMessage)
	assert.Equal(t, domain.PollStateExhausted, fm.State)
	assert.Equal(t, result.TimeoutMessage, fm.Text)
	assert.Equal(t, 10, fm.Attempts)

	msg, ok = FromEvent(domain.Event{SessionID: "s1", Type: domain.EventTypeCancelled})
	require.True(t, ok)
	assert.Equal(t, TypeCancelled, msg.(BaseMessage).Type)

	_, ok = FromEvent(domain.Event{Type: domain.EventTypeRetry})
	assert.False(t, ok)
	_, ok = FromEvent(domain.Event{Type: domain.EventTypeFinal, Payload: json.RawMessage(`{`)})
	assert.False(t, ok)
}
