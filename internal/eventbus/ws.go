package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"softphone-platform/internal/messaging"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// MessageSender is the outbound send capability used by send_message.
type MessageSender interface {
	Send(ctx context.Context, req messaging.SendRequest) (messaging.Message, error)
}

// Server is the websocket transport in front of the hub.
type Server struct {
	hub      *Hub
	sender   MessageSender
	upgrader websocket.Upgrader
}

// NewServer builds the transport. checkOrigin may be nil to accept same-host origins only.
func NewServer(hub *Hub, sender MessageSender, checkOrigin func(r *http.Request) bool) *Server {
	return &Server{
		hub:    hub,
		sender: sender,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// inbound is a client frame.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessage struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
}

// Serve upgrades the request and runs the client until it disconnects.
// tenantID is the authenticated tenant; joins for any other tenant are refused.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, tenantID string) {
	log := logger.From(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := s.hub.Register(tenantID)
	// The request context ends with the handler; keep the logger only.
	ctx := logger.With(context.Background(), log.With("client_id", c.ID))

	go s.writePump(conn, c)
	s.readPump(ctx, conn, c)
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, c *Client) {
	defer func() {
		s.hub.Unregister(c)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var joined messaging.Conversation
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.From(ctx).Info("websocket closed", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.hub.SendTo(c, "error", errorPayload("malformed frame"))
			continue
		}

		switch msg.Event {
		case "join":
			var req JoinRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.hub.SendTo(c, "error", errorPayload("malformed join"))
				continue
			}
			conv, err := s.hub.Join(ctx, c, req)
			if err != nil {
				s.hub.SendTo(c, "error", errorPayload(joinError(err)))
				continue
			}
			joined = conv

		case "send_message":
			var req sendMessage
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.hub.SendTo(c, "error", errorPayload("malformed send_message"))
				continue
			}
			s.send(ctx, c, joined, req)

		default:
			s.hub.SendTo(c, "error", errorPayload("unknown event"))
		}
	}
}

func (s *Server) send(ctx context.Context, c *Client, joined messaging.Conversation, req sendMessage) {
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = joined.ID
	}
	if convID == "" || (joined.ID != "" && convID != joined.ID) || joined.TenantID == "" {
		s.hub.SendTo(c, "error", errorPayload("join a conversation first"))
		return
	}

	m, err := s.sender.Send(ctx, messaging.SendRequest{
		TenantID:       joined.TenantID,
		ConversationID: convID,
		Body:           req.Body,
		Optimistic:     true,
	})
	if err != nil {
		logger.From(ctx).Warn("websocket send failed", "err", err)
		s.hub.SendTo(c, "error", errorPayload(sendError(err)))
		return
	}
	s.hub.SendTo(c, "message_sent", m)
}

func (s *Server) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func errorPayload(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func joinError(err error) string {
	switch {
	case errors.Is(err, ErrInvalidJoin):
		return "phoneNumber, conversationId and tenantId are required"
	case errors.Is(err, ErrForbidden):
		return "conversation not available"
	default:
		return "join failed"
	}
}

func sendError(err error) string {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		return "message body is required"
	case errors.Is(err, tenant.ErrUnconfigured):
		return "messaging is not configured for this tenant"
	case errors.Is(err, messaging.ErrNoNumber):
		return "no active number to send from"
	default:
		return "message could not be sent"
	}
}
