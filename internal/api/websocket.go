package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kwilde42/shadow-core/internal/infrastructure/config"
	"github.com/kwilde42/shadow-core/internal/shadow"
)

// WebSocket frame types.
//
// Client → server: update_reported, update_desired, ping.
// Server → client: initial_state, reported_state_updated,
// desired_state_updated, shadow_updated, pong, error.
const (
	WSTypeInitialState    = "initial_state"
	WSTypeUpdateReported  = "update_reported"
	WSTypeUpdateDesired   = "update_desired"
	WSTypeReportedUpdated = "reported_state_updated"
	WSTypeDesiredUpdated  = "desired_state_updated"
	WSTypeShadowUpdated   = "shadow_updated"
	WSTypePing            = "ping"
	WSTypePong            = "pong"
	WSTypeError           = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is the frame format for both directions of the WebSocket.
//
// Inbound frames carry Type and, for updates, a partial State document.
// Outbound frames carry Type and either a full Shadow or an error.
type WSMessage struct {
	Type      string          `json:"type"`
	State     json.RawMessage `json:"state,omitempty"`
	Shadow    *shadow.Shadow  `json:"shadow,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Client represents one WebSocket connection watching one device.
type Client struct {
	id       string
	deviceID string
	conn     *websocket.Conn
	send     chan []byte
	server   *Server
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the HTTP connection and attaches the client to
// the device's subscriber set.
//
// The first frame on a connection is initial_state with the current shadow
// document, or an error frame when the device has no shadow yet. The
// connection stays open either way; a client may connect ahead of
// registration and update once the shadow exists.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		deviceID: deviceID,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		server:   s,
	}

	s.registry.Subscribe(deviceID, client)
	s.logger.Debug("websocket client connected",
		"device_id", deviceID,
		"client_id", client.id,
		"subscribers", s.registry.Subscribers(deviceID),
	)

	sh, err := s.service.GetDeviceShadow(r.Context(), deviceID)
	if err != nil {
		client.sendError(ErrCodeNotFound, "shadow not found")
	} else {
		client.sendFrame(WSMessage{Type: WSTypeInitialState, Shadow: sh})
	}

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads frames from the WebSocket connection until it closes.
func (c *Client) readPump(cfg config.WebSocketConfig) {
	defer func() {
		if c.server.registry.Drop(c) {
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.server.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client frame resets the read deadline (keeps the connection
		// alive even if the peer doesn't answer protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued frames to the WebSocket connection.
func (c *Client) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Registry closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one inbound frame.
//
// A malformed or failing frame produces an error frame but never tears the
// connection down: one bad update must not cost the client its stream.
func (c *Client) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ErrCodeBadRequest, "invalid JSON frame")
		return
	}

	switch msg.Type {
	case WSTypeUpdateReported:
		c.handleUpdate(msg, shadow.SubstateReported)
	case WSTypeUpdateDesired:
		c.handleUpdate(msg, shadow.SubstateDesired)
	case WSTypePing:
		c.sendFrame(WSMessage{Type: WSTypePong})
	default:
		c.sendError(ErrCodeBadRequest, "unknown frame type: "+msg.Type)
	}
}

// handleUpdate applies a partial state document to one substate of the
// client's device.
//
// On success the originator receives a direct acknowledgement frame carrying
// the full updated shadow; all other subscribers receive shadow_updated via
// the service event listener, which excludes this client by its ID.
func (c *Client) handleUpdate(msg WSMessage, substate shadow.Substate) {
	partial, err := shadow.ParseState(msg.State)
	if err != nil {
		c.sendError(ErrCodeInvalidState, err.Error())
		return
	}

	var sh *shadow.Shadow
	if substate == shadow.SubstateReported {
		sh, err = c.server.service.UpdateReportedState(context.Background(), c.deviceID, partial, c.id)
	} else {
		sh, err = c.server.service.UpdateDesiredState(context.Background(), c.deviceID, partial, c.id)
	}
	if err != nil {
		c.sendServiceError(err)
		return
	}

	ackType := WSTypeReportedUpdated
	if substate == shadow.SubstateDesired {
		ackType = WSTypeDesiredUpdated
	}
	c.sendFrame(WSMessage{Type: ackType, Shadow: sh})
}

// trySend queues data for the client without blocking.
// Returns false if the buffer is full or the channel has been closed.
func (c *Client) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			// Send on closed channel: client disconnected during broadcast
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendFrame marshals and queues an outbound frame.
func (c *Client) sendFrame(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError queues an error frame. The connection stays open.
func (c *Client) sendError(code, message string) {
	c.sendFrame(WSMessage{Type: WSTypeError, Code: code, Message: message})
}

// sendServiceError translates a shadow service error into an error frame.
func (c *Client) sendServiceError(err error) {
	switch {
	case errors.Is(err, shadow.ErrNotFound):
		c.sendError(ErrCodeNotFound, "shadow not found")
	case errors.Is(err, shadow.ErrConflict):
		c.sendError(ErrCodeConflict, "concurrent update conflict, retry")
	case errors.Is(err, shadow.ErrInvalidState):
		c.sendError(ErrCodeInvalidState, err.Error())
	default:
		c.sendError(ErrCodeInternal, "internal error")
	}
}
