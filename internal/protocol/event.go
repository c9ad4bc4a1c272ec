package protocol

import (
	"encoding/json"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/result"
)

// FromEvent converts a poll event into the message clients see. It reports
// false for events that have no client representation.
func FromEvent(ev domain.Event) (any, bool) {
	base := BaseMessage{Ts: ev.Ts, SessionID: ev.SessionID, PollID: ev.PollID}

	switch ev.Type {
	case domain.EventTypePollStarted:
		base.Type = TypeProcessing
		return TextMessage{BaseMessage: base, Text: result.ProcessingMessage}, true

	case domain.EventTypePlanned:
		var p domain.PlannedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, false
		}
		base.Type = TypePlanned
		return PlannedMessage{BaseMessage: base, Text: p.Text, Actions: p.Actions}, true

	case domain.EventTypeFinal:
		var p domain.FinalPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, false
		}
		base.Type = TypeFinal
		return FinalMessage{BaseMessage: base, Text: p.Text, State: p.State, Attempts: p.Attempts}, true

	case domain.EventTypeCancelled:
		base.Type = TypeCancelled
		return base, true
	}
	return nil, false
}
