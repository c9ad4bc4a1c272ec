package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func receive(t *testing.T, conn *Connection) map[string]any {
	t.Helper()
	select {
	case data, ok := <-conn.Send:
		require.True(t, ok, "send channel closed")
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestNotifyReachesBoundSessions(t *testing.T) {
	h := startHub(t)

	a := h.NewConnection(nil)
	b := h.NewConnection(nil)
	other := h.NewConnection(nil)
	for _, c := range []*Connection{a, b, other} {
		h.Register(c)
	}
	h.BindSession(a, "s1")
	h.BindSession(b, "s1")
	h.BindSession(other, "s2")

	assert.Equal(t, 3, h.GetConnectionCount())
	assert.Equal(t, 2, h.GetSessionCount())
	assert.True(t, h.HasOtherConnections(a))
	assert.False(t, h.HasOtherConnections(other))

	h.Notify(context.Background(), domain.Event{SessionID: "s1", PollID: "p1", Type: domain.EventTypePollStarted})
	for _, c := range []*Connection{a, b} {
		m := receive(t, c)
		assert.Equal(t, protocol.TypeProcessing, m["type"])
		assert.Equal(t, "p1", m["poll_id"])
	}

	h.Notify(context.Background(), domain.Event{SessionID: "s1", Type: domain.EventTypeRetry})
	h.Notify(context.Background(), domain.Event{SessionID: "s2", Type: domain.EventTypeCancelled})
	assert.Equal(t, protocol.TypeCancelled, receive(t, other)["type"])
	select {
	case data := <-a.Send:
		t.Fatalf("unexpected message %s", data)
	default:
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := startHub(t)

	c := h.NewConnection(nil)
	h.Register(c)
	h.BindSession(c, "s1")
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Equal(t, 0, h.GetSessionCount())
}

func TestRebindMovesConnection(t *testing.T) {
	h := NewHub(nil)
	c := h.NewConnection(nil)

	h.BindSession(c, "s1")
	h.BindSession(c, "s2")

	assert.Equal(t, "s2", c.SessionID)
	assert.Equal(t, 1, h.GetSessionCount())
}

func TestSendToConnectionBufferFull(t *testing.T) {
	h := NewHub(nil)
	c := h.NewConnection(nil)
	for i := 0; i < cap(c.Send); i++ {
		require.NoError(t, h.SendToConnection(c, []byte("x")))
	}
	assert.ErrorIs(t, h.SendToConnection(c, []byte("x")), ErrBufferFull)
}
