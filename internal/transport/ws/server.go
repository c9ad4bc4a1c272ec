// Package ws provides the WebSocket chat surface.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/config"
	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/hub"
	"github.com/xiaot623/carechat/internal/identity"
	"github.com/xiaot623/carechat/internal/protocol"
	"github.com/xiaot623/carechat/internal/service"
)

// requestTimeout bounds the service calls a client message triggers.
const requestTimeout = 10 * time.Second

// ChatService is the part of the chat service the socket drives.
type ChatService interface {
	Submit(ctx context.Context, in service.ChatInput) (*service.PollHandle, error)
	Retry(ctx context.Context, sessionID string) (*service.PollHandle, error)
	Cancel(ctx context.Context, sessionID string) error
	BindPatient(ctx context.Context, sessionID, patientID string) (*domain.Session, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg      config.WSConfig
	hub      *hub.Hub
	chat     ChatService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg config.WSConfig, h *hub.Hub, chat ChatService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		chat:   chat,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws)
	conn.UserID = domain.AnonymousUser
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection. When the last
// connection of a session goes away its running poll is cancelled.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		if conn.SessionID != "" && !s.hub.HasOtherConnections(conn) {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			if err := s.chat.Cancel(ctx, conn.SessionID); err != nil && !errors.Is(err, domain.ErrNoActivePoll) {
				s.logger.Warn("failed to cancel poll on disconnect", zap.String("session_id", conn.SessionID), zap.Error(err))
			}
			cancel()
		}
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write message", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(conn, data)
	case protocol.TypeChat:
		s.handleChat(conn, data)
	case protocol.TypeCancel:
		s.handleCancel(conn, baseMsg)
	case protocol.TypeRetry:
		s.handleRetry(conn, baseMsg)
	default:
		s.sendError(conn, baseMsg.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello binds the connection to a session and reports who it speaks
// for. A session created by an earlier connection keeps its bound patient.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	sessionID := strings.TrimSpace(msg.SessionID)
	if sessionID == "" {
		sessionID = domain.NewSessionID()
	}
	s.hub.BindSession(conn, sessionID)

	conn.UserID = identity.Resolve(msg.UserID)
	if identity.IsAnonymous(conn.UserID) {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		session, err := s.chat.Session(ctx, sessionID)
		cancel()
		if err == nil {
			conn.UserID = session.UserID
		}
	}

	ack := protocol.HelloAckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			SessionID: sessionID,
		},
		UserID: conn.UserID,
	}
	s.hub.SendJSONToConnection(conn, ack)

	s.logger.Info("hello handshake completed", zap.String("session_id", sessionID), zap.String("user_id", conn.UserID))
}

// handleChat submits a prompt. An anonymous user typing something shaped
// like a patient ID is identified instead.
func (s *Server) handleChat(conn *hub.Connection, data []byte) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid chat message")
		return
	}
	if conn.SessionID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	content := strings.TrimSpace(msg.Content)
	if identity.IsAnonymous(conn.UserID) && identity.LooksLikePatientID(content) {
		session, err := s.chat.BindPatient(ctx, conn.SessionID, content)
		if err != nil {
			s.sendServiceError(conn, msg.RequestID, err)
			return
		}
		conn.UserID = session.UserID
		bound := protocol.TextMessage{
			BaseMessage: protocol.BaseMessage{
				Type:      protocol.TypeIdentityBound,
				Ts:        time.Now().UnixMilli(),
				RequestID: msg.RequestID,
				SessionID: conn.SessionID,
			},
			Text:   identity.BoundMessage(session.UserID),
			UserID: session.UserID,
		}
		s.hub.BroadcastJSON(conn.SessionID, bound)
		return
	}

	_, err := s.chat.Submit(ctx, service.ChatInput{
		SessionID: conn.SessionID,
		UserID:    conn.UserID,
		Prompt:    content,
		Workflow:  msg.Workflow,
	})
	if err != nil {
		s.sendServiceError(conn, msg.RequestID, err)
	}
}

func (s *Server) handleCancel(conn *hub.Connection, msg protocol.BaseMessage) {
	if conn.SessionID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := s.chat.Cancel(ctx, conn.SessionID); err != nil {
		s.sendServiceError(conn, msg.RequestID, err)
	}
}

func (s *Server) handleRetry(conn *hub.Connection, msg protocol.BaseMessage) {
	if conn.SessionID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := s.chat.Retry(ctx, conn.SessionID); err != nil {
		s.sendServiceError(conn, msg.RequestID, err)
	}
}

func (s *Server) sendServiceError(conn *hub.Connection, requestID string, err error) {
	code := protocol.ErrorCodeInternalError
	switch {
	case domain.IsValidation(err):
		code = protocol.ErrorCodeValidation
	case errors.Is(err, domain.ErrSessionBusy):
		code = protocol.ErrorCodeSessionBusy
	case errors.Is(err, domain.ErrNoActivePoll):
		code = protocol.ErrorCodeNoActivePoll
	case errors.Is(err, domain.ErrNothingToRetry), errors.Is(err, domain.ErrSessionNotFound):
		code = protocol.ErrorCodeNothingToRetry
	default:
		s.logger.Error("chat request failed", zap.String("session_id", conn.SessionID), zap.Error(err))
	}
	s.sendError(conn, requestID, code, err.Error())
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: conn.SessionID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}
