// Package ws serves the streaming tutor protocol over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/service"
)

// Options tunes connection handling.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.ReadTimeout {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	return o
}

// Server handles WebSocket connections.
type Server struct {
	opts     Options
	hub      *Hub
	service  *service.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(svc *service.Service, h *Hub, opts Options, logger *slog.Logger) *Server {
	return &Server{
		opts:    opts.withDefaults(),
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logging.Or(logger),
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/ws", s.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	// The request context ends when the handler returns, so turns hang off Background.
	conn := s.hub.NewConnection(context.Background(), ws)
	if sid := c.QueryParam("session_id"); sid != "" {
		conn.SessionID = sid
	}
	s.hub.Register(conn)

	ws.SetReadLimit(s.opts.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", "conn_id", conn.ID, "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket write failed", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, baseMsg, ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case TypeHello:
		s.handleHello(conn, baseMsg)
	case TypeChat:
		s.handleChat(conn, data)
	case TypePredict:
		s.handlePredict(conn, data)
	case TypePause:
		s.handlePause(conn, data)
	default:
		s.sendError(conn, baseMsg, ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello binds the connection to a session, minting an id when none is given.
func (s *Server) handleHello(conn *Connection, msg BaseMessage) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}
	s.hub.BindSession(conn, sessionID)

	ack := HelloAckMessage{BaseMessage: base(TypeHelloAck, msg.RequestID, sessionID, msg.VideoID)}
	s.hub.SendJSONToConnection(conn, ack)
	s.logger.Info("websocket session bound", "conn_id", conn.ID, "session_id", sessionID)
}

// sessionFor resolves the session a request acts on and binds the connection to it.
func (s *Server) sessionFor(conn *Connection, msg BaseMessage) (string, bool) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = s.hub.SessionOf(conn)
	}
	if sessionID == "" {
		s.sendError(conn, msg, ErrorCodeSessionRequired, "send hello or set session_id first")
		return "", false
	}
	if sessionID != s.hub.SessionOf(conn) {
		s.hub.BindSession(conn, sessionID)
	}
	return sessionID, true
}

// handleChat runs a turn and fans its frames out to every connection of the session.
func (s *Server) handleChat(conn *Connection, data []byte) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, BaseMessage{}, ErrorCodeInvalidMessage, "invalid chat message")
		return
	}
	sessionID, ok := s.sessionFor(conn, msg.BaseMessage)
	if !ok {
		return
	}

	req := domain.ChatRequest{
		VideoID:        msg.VideoID,
		SessionID:      sessionID,
		Message:        msg.Message,
		PauseTimestamp: msg.PauseTimestamp,
	}

	// Run off the read loop so pings and further requests keep flowing.
	go func() {
		emit := func(ev domain.StreamEvent) error {
			return s.hub.BroadcastJSON(sessionID, turnFrame(ev, msg.RequestID, sessionID, msg.VideoID))
		}
		if _, err := s.service.ChatStream(conn.ctx, req, emit); err != nil {
			s.logger.Warn("websocket chat rejected", "session_id", sessionID, "video_id", msg.VideoID, "error", err)
			s.sendError(conn, msg.BaseMessage, errorCode(err), err.Error())
		}
	}()
}

func (s *Server) handlePredict(conn *Connection, data []byte) {
	var msg PredictMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, BaseMessage{}, ErrorCodeInvalidMessage, "invalid predict message")
		return
	}
	// Predict works without a session; struggle tracking needs one.
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = s.hub.SessionOf(conn)
	}

	go func() {
		resp, err := s.service.Predict(conn.ctx, msg.VideoID, msg.Timestamp, sessionID)
		if err != nil {
			s.sendError(conn, msg.BaseMessage, errorCode(err), err.Error())
			return
		}
		s.hub.SendJSONToConnection(conn, PredictionsMessage{
			BaseMessage: base(TypePredictions, msg.RequestID, sessionID, msg.VideoID),
			Timestamp:   resp.Timestamp,
			Questions:   resp.Questions,
		})
	}()
}

func (s *Server) handlePause(conn *Connection, data []byte) {
	var msg PauseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, BaseMessage{}, ErrorCodeInvalidMessage, "invalid pause message")
		return
	}
	sessionID, ok := s.sessionFor(conn, msg.BaseMessage)
	if !ok {
		return
	}

	go func() {
		resp, err := s.service.RecordPause(conn.ctx, msg.VideoID, domain.PauseRequest{SessionID: sessionID, Timestamp: msg.Timestamp})
		if err != nil {
			s.sendError(conn, msg.BaseMessage, errorCode(err), err.Error())
			return
		}
		s.hub.BroadcastJSON(sessionID, PauseContextMessage{
			BaseMessage: base(TypePauseContext, msg.RequestID, sessionID, msg.VideoID),
			Context:     resp,
		})
	}()
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, msg BaseMessage, code, message string) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = s.hub.SessionOf(conn)
	}
	s.hub.SendJSONToConnection(conn, ErrorMessage{
		BaseMessage: base(TypeError, msg.RequestID, sessionID, msg.VideoID),
		Code:        code,
		Message:     message,
	})
}
