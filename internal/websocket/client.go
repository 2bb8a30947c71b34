package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tournament-engine/internal/channel"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// clientFrame is the wire shape of frames coming from the client. The
// publish payload is kept raw so the channel codec can reject malformed
// game messages strictly.
type clientFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Since     int64           `json:"since,omitempty"`
	Kind      channel.Kind    `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Warn("invalid frame format", "error", err)
			c.sendError("invalid frame format")
			continue
		}

		c.handleFrame(&frame)
	}
}

// handleFrame processes one incoming client frame
func (c *Client) handleFrame(frame *clientFrame) {
	switch frame.Type {
	case FrameTypeJoin:
		if frame.SessionID == "" {
			c.sendError("session_id required for join")
			return
		}
		c.hub.Join(c, frame.SessionID)
		c.sendAck("joined", frame.SessionID)

	case FrameTypeLeave:
		if frame.SessionID != "" {
			c.hub.Leave(c, frame.SessionID)
			c.sendAck("left", frame.SessionID)
		}

	case FrameTypePublish:
		c.handlePublish(frame)

	case FrameTypeReplay:
		c.handleReplay(frame)

	case FrameTypePing:
		c.sendPong()

	default:
		c.logger.Debug("unknown frame type", "type", frame.Type)
		c.sendError("unknown frame type")
	}
}

// handlePublish validates a game message strictly and hands it to the
// relay. The sender hears its own message back through the room
// broadcast like everyone else.
func (c *Client) handlePublish(frame *clientFrame) {
	if frame.SessionID == "" {
		c.sendError("session_id required for publish")
		return
	}

	env := channel.Envelope{
		SessionID: frame.SessionID,
		Kind:      frame.Kind,
		Timestamp: time.Now().UTC(),
		Payload:   frame.Payload,
	}
	if _, err := channel.Decode(env); err != nil {
		c.logger.Warn("rejected game message", "client_id", c.id, "error", err)
		c.sendError(err.Error())
		return
	}

	if _, err := c.hub.Publish(c.hub.ctx, env); err != nil {
		c.logger.Error("failed to publish game message",
			"client_id", c.id,
			"session_id", frame.SessionID,
			"error", err,
		)
		c.sendError("publish failed")
	}
}

// handleReplay streams archived session events back to this client only.
func (c *Client) handleReplay(frame *clientFrame) {
	if frame.SessionID == "" {
		c.sendError("session_id required for replay")
		return
	}

	events, err := c.hub.Replay(c.hub.ctx, frame.SessionID, frame.Since)
	if err != nil {
		c.logger.Error("replay failed", "session_id", frame.SessionID, "error", err)
		c.sendError("replay failed")
		return
	}

	for _, env := range events {
		out := Frame{
			Type:      FrameTypeEvent,
			SessionID: frame.SessionID,
			Data:      env,
			Timestamp: time.Now(),
		}
		data, err := json.Marshal(out)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			c.logger.Warn("client buffer full during replay", "client_id", c.id)
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError sends an error frame to the client
func (c *Client) sendError(errMsg string) {
	frame := Frame{
		Type:      FrameTypeError,
		Data:      map[string]string{"error": errMsg},
		Timestamp: time.Now(),
	}
	data, _ := json.Marshal(frame)
	select {
	case c.send <- data:
	default:
	}
}

// sendAck sends an acknowledgment frame to the client
func (c *Client) sendAck(action, sessionID string) {
	frame := Frame{
		Type:      action,
		SessionID: sessionID,
		Data:      map[string]string{"status": "ok"},
		Timestamp: time.Now(),
	}
	data, _ := json.Marshal(frame)
	select {
	case c.send <- data:
	default:
	}
}

// sendPong sends a pong response
func (c *Client) sendPong() {
	frame := Frame{
		Type:      FrameTypePong,
		Timestamp: time.Now(),
	}
	data, _ := json.Marshal(frame)
	select {
	case c.send <- data:
	default:
	}
}

// ServeWs handles WebSocket requests from peers
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id)
}
