package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/protocol"
)

// Client is a WebSocket chat client.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
	writeMu   sync.Mutex
}

// Dial connects to a carechat WebSocket endpoint.
func Dial(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Hello binds the connection to a session and waits for hello_ack.
func (c *Client) Hello(sessionID, userID string) error {
	msg := protocol.HelloMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHello,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
		UserID: userID,
	}
	if err := c.write(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}

	var ack protocol.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	if ack.Type == protocol.TypeError {
		var errMsg protocol.ErrorMessage
		_ = json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	if ack.Type != protocol.TypeHelloAck {
		return fmt.Errorf("expected hello_ack, got: %s", ack.Type)
	}

	c.sessionID = ack.SessionID
	c.userID = ack.UserID
	return nil
}

// Chat sends one prompt.
func (c *Client) Chat(content string) error {
	return c.write(protocol.ChatMessage{
		BaseMessage: c.base(protocol.TypeChat),
		Content:     content,
	})
}

// Cancel stops the session's running poll.
func (c *Client) Cancel() error {
	return c.write(protocol.CancelMessage{BaseMessage: c.base(protocol.TypeCancel)})
}

// Retry resends the session's latest prompt.
func (c *Client) Retry() error {
	return c.write(protocol.RetryMessage{BaseMessage: c.base(protocol.TypeRetry)})
}

func (c *Client) base(typ string) protocol.BaseMessage {
	return protocol.BaseMessage{
		Type:      typ,
		Ts:        time.Now().UnixMilli(),
		SessionID: c.sessionID,
		RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
	}
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// ReadMessages prints server messages until the connection closes.
func (c *Client) ReadMessages(out io.Writer) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && logger != nil {
				logger.Debug("read error", zap.Error(err))
			}
			return
		}
		if line := render(data); line != "" {
			fmt.Fprintln(out, line)
		}
	}
}

// render turns a server message into the line shown to the user.
func render(data []byte) string {
	var msg struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return ""
	}
	switch msg.Type {
	case protocol.TypeProcessing, protocol.TypePlanned, protocol.TypeFinal, protocol.TypeIdentityBound:
		return msg.Text
	case protocol.TypeCancelled:
		return "⏹ Request cancelled."
	case protocol.TypeError:
		return fmt.Sprintf("❌ %s (%s)", msg.Message, msg.Code)
	}
	return ""
}

func newChatCmd() *cobra.Command {
	var addr, sessionID, userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat with a carechat service",
		Long: `Connects to the carechat WebSocket endpoint and reads questions from stdin.

Commands:
  /cancel  stop the running request
  /retry   resend the last question
  /quit    exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.InOrStdin(), cmd.OutOrStdout(), addr, sessionID, userID)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "ws://localhost:8080/ws", "carechat WebSocket address")
	f.StringVar(&sessionID, "session", "", "Resume this session")
	f.StringVar(&userID, "user", "", "Patient ID to chat as")
	return cmd
}

// lockedWriter serializes writes from the reader goroutine and the prompt loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runChat(in io.Reader, out io.Writer, addr, sessionID, userID string) error {
	out = &lockedWriter{w: out}
	client, err := Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Hello(sessionID, userID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s (user %s)\n", client.sessionID, client.userID)
	fmt.Fprintln(out, "Type a question and press Enter. /cancel, /retry, /quit")

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.ReadMessages(out)
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		var err error
		switch input {
		case "/quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		case "/cancel":
			err = client.Cancel()
		case "/retry":
			err = client.Retry()
		default:
			err = client.Chat(input)
		}
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	// Stdin closed: keep printing until the server finishes talking.
	<-done
	return scanner.Err()
}
