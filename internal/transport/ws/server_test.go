package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/carechat/internal/config"
	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/hub"
	"github.com/xiaot623/carechat/internal/poller"
	"github.com/xiaot623/carechat/internal/protocol"
	"github.com/xiaot623/carechat/internal/result"
	"github.com/xiaot623/carechat/internal/service"
	"github.com/xiaot623/carechat/tests/helpers"
)

type runFunc func(ctx context.Context, req domain.Request, rep poller.Reporter) poller.Outcome

func (f runFunc) Run(ctx context.Context, req domain.Request, rep poller.Reporter) poller.Outcome {
	return f(ctx, req, rep)
}

func answering(ctx context.Context, req domain.Request, rep poller.Reporter) poller.Outcome {
	rep.Planned(poller.Update{
		SessionID: req.SessionID,
		Actions:   []domain.PlannedAction{{Agent: domain.AgentSymptomAnalyzer, Action: "analyze"}},
		Text:      "🔄 Processing",
	})
	out := poller.Outcome{SessionID: req.SessionID, State: domain.PollStateCompleted, StatusChecks: 1, Message: "answer for " + req.UserID}
	rep.Final(out)
	return out
}

func waitingForCancel(ctx context.Context, req domain.Request, _ poller.Reporter) poller.Outcome {
	<-ctx.Done()
	return poller.Outcome{SessionID: req.SessionID, State: domain.PollStateCancelled}
}

type testEnv struct {
	url string
	svc *service.Service
}

func newTestEnv(t *testing.T, runner service.Runner) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(nil)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		h.Run(ctx)
	}()

	svc := service.New(helpers.NewTestSQLiteStore(t), runner, service.Options{Notifiers: []service.Notifier{h}})
	srv := NewServer(config.WSConfig{
		PingInterval:   time.Minute,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Minute,
		MaxMessageSize: 64 * 1024,
	}, h, svc, nil)

	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)

	t.Cleanup(func() {
		ts.Close()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = svc.Shutdown(shutdownCtx)
		cancel()
		<-hubDone
	})
	return &testEnv{url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", svc: svc}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestChatConversation(t *testing.T) {
	env := newTestEnv(t, runFunc(answering))
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeChat, "content": "hi"}))
	errMsg := readMsg(t, conn)
	assert.Equal(t, protocol.TypeError, errMsg["type"])
	assert.Equal(t, protocol.ErrorCodeSessionRequired, errMsg["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeHello, "session_id": "s1"}))
	ack := readMsg(t, conn)
	assert.Equal(t, protocol.TypeHelloAck, ack["type"])
	assert.Equal(t, "s1", ack["session_id"])
	assert.Equal(t, domain.AnonymousUser, ack["user_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeChat, "content": "pat-001"}))
	bound := readMsg(t, conn)
	assert.Equal(t, protocol.TypeIdentityBound, bound["type"])
	assert.Equal(t, "pat-001", bound["user_id"])
	assert.Contains(t, bound["text"], "Patient ID set to: pat-001")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeChat, "content": "I have a fever"}))
	processing := readMsg(t, conn)
	assert.Equal(t, protocol.TypeProcessing, processing["type"])
	assert.Equal(t, result.ProcessingMessage, processing["text"])
	assert.Equal(t, protocol.TypePlanned, readMsg(t, conn)["type"])
	final := readMsg(t, conn)
	assert.Equal(t, protocol.TypeFinal, final["type"])
	assert.Equal(t, "answer for pat-001", final["text"])
	assert.Equal(t, string(domain.PollStateCompleted), final["state"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus", "request_id": "r9"}))
	unknown := readMsg(t, conn)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, unknown["code"])
	assert.Equal(t, "r9", unknown["request_id"])
}

func TestReconnectKeepsBoundPatient(t *testing.T) {
	env := newTestEnv(t, runFunc(answering))

	first := env.dial(t)
	require.NoError(t, first.WriteJSON(map[string]any{"type": protocol.TypeHello, "session_id": "s1", "user_id": "pat1"}))
	assert.Equal(t, "pat1", readMsg(t, first)["user_id"])
	require.NoError(t, first.WriteJSON(map[string]any{"type": protocol.TypeChat, "content": "journey"}))
	for _, typ := range []string{protocol.TypeProcessing, protocol.TypePlanned, protocol.TypeFinal} {
		assert.Equal(t, typ, readMsg(t, first)["type"])
	}
	first.Close()

	second := env.dial(t)
	require.NoError(t, second.WriteJSON(map[string]any{"type": protocol.TypeHello, "session_id": "s1"}))
	assert.Equal(t, "pat1", readMsg(t, second)["user_id"])
}

func TestCancelAndDisconnect(t *testing.T) {
	env := newTestEnv(t, runFunc(waitingForCancel))
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeHello, "session_id": "s1"}))
	readMsg(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeCancel}))
	idle := readMsg(t, conn)
	assert.Equal(t, protocol.ErrorCodeNoActivePoll, idle["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeChat, "content": "slow question"}))
	assert.Equal(t, protocol.TypeProcessing, readMsg(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeChat, "content": "another"}))
	busy := readMsg(t, conn)
	assert.Equal(t, protocol.ErrorCodeSessionBusy, busy["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeCancel}))
	assert.Equal(t, protocol.TypeCancelled, readMsg(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.TypeChat, "content": "slow again"}))
	assert.Equal(t, protocol.TypeProcessing, readMsg(t, conn)["type"])
	_, active := env.svc.Active("s1")
	require.True(t, active)

	conn.Close()
	assert.Eventually(t, func() bool {
		_, active := env.svc.Active("s1")
		return !active
	}, 5*time.Second, 10*time.Millisecond)
}
