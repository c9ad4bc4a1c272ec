package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/poller"
	"github.com/xiaot623/carechat/internal/protocol"
	"github.com/xiaot623/carechat/internal/result"
)

// completeBackend answers every orchestration call with a complete symptom
// analysis.
func completeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/process_prompt":
			_ = json.NewEncoder(w).Encode(map[string]any{"mcp_acl": map[string]any{"agents": []string{"symptom_analyzer"}}})
		case "/orchestrate":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "ok",
				"results": []any{
					map[string]any{"agent": "symptom_analyzer", "result": map[string]any{
						"identified_symptoms": []string{"cough"},
						"severity_level":      "mild",
					}},
					map[string]any{"agent": "disease_prediction", "result": map[string]any{
						"predicted_diseases": []string{"Common Cold"},
						"confidence":         0.9,
					}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAsk(t *testing.T) {
	logger = zap.NewNop()
	backend := completeBackend(t)

	var out bytes.Buffer
	err := runAsk(context.Background(), &out, askOptions{
		enrichmentURL:    backend.URL,
		orchestrationURL: backend.URL,
		workflow:         string(domain.DefaultWorkflow),
		maxAttempts:      poller.DefaultMaxAttempts,
	}, "I have a cough")
	require.NoError(t, err)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, result.ProcessingMessage))
	assert.Contains(t, text, "Mild")
	assert.Contains(t, text, "Common Cold")
}

func TestRunAskCancelled(t *testing.T) {
	logger = zap.NewNop()
	backend := completeBackend(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := runAsk(ctx, &out, askOptions{
		enrichmentURL:    backend.URL,
		orchestrationURL: backend.URL,
	}, "I have a cough")
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeChatServer acknowledges hello, answers one chat and hangs up.
func fakeChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var hello protocol.HelloMessage
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		_ = conn.WriteJSON(protocol.HelloAckMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.TypeHelloAck, SessionID: "s1"},
			UserID:      hello.UserID,
		})

		var chat protocol.ChatMessage
		if err := conn.ReadJSON(&chat); err != nil {
			return
		}
		_ = conn.WriteJSON(protocol.TextMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeProcessing}, Text: result.ProcessingMessage})
		_ = conn.WriteJSON(protocol.FinalMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.TypeFinal},
			Text:        "answer: " + chat.Content,
			State:       domain.PollStateCompleted,
		})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunChat(t *testing.T) {
	logger = zap.NewNop()
	srv := fakeChatServer(t)
	addr := "ws" + strings.TrimPrefix(srv.URL, "http")

	var out bytes.Buffer
	err := runChat(strings.NewReader("\nI have a cough\n"), &out, addr, "", "pat1")
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Session s1 (user pat1)")
	assert.Contains(t, text, result.ProcessingMessage)
	assert.Contains(t, text, "answer: I have a cough")
}

func TestRender(t *testing.T) {
	for raw, want := range map[string]string{
		`{"type":"final","text":"done"}`:                           "done",
		`{"type":"identity_bound","text":"bound"}`:                 "bound",
		`{"type":"cancelled"}`:                                     "⏹ Request cancelled.",
		`{"type":"error","code":"session_busy","message":"busy"}`: "❌ busy (session_busy)",
		`{"type":"hello_ack"}`:                                     "",
		`not json`:                                                 "",
	} {
		assert.Equal(t, want, render([]byte(raw)), raw)
	}
}
