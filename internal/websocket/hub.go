package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tournament-engine/internal/channel"
)

// Frame types exchanged with clients
const (
	FrameTypeJoin    = "join"
	FrameTypeLeave   = "leave"
	FrameTypePublish = "publish"
	FrameTypeReplay  = "replay"
	FrameTypeEvent   = "event"
	FrameTypePing    = "ping"
	FrameTypePong    = "pong"
	FrameTypeError   = "error"
)

// Frame is the envelope for every client-facing WebSocket message.
type Frame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Since     int64       `json:"since,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionActivator moves a session to active when its start message goes
// out.
type SessionActivator interface {
	MarkSessionActive(ctx context.Context, sessionID string) error
}

// Hub maintains session rooms and fans relayed game events out to their
// members. All fan-out goes through the relay's Pub/Sub channel, never
// directly from sender to room, so every server node delivers the same
// stream in the same order.
type Hub struct {
	// Room members by session ID
	rooms map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Room membership requests
	join  chan *roomRequest
	leave chan *roomRequest

	// Outbound events per session room
	broadcast chan *roomMessage

	// Per-room Pub/Sub pumps
	pumps map[string]context.CancelFunc

	relay     *channel.Relay
	activator SessionActivator

	mu sync.RWMutex

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type roomRequest struct {
	client    *Client
	sessionID string
}

type roomMessage struct {
	sessionID string
	data      []byte
}

// NewHub creates a new Hub
func NewHub(relay *channel.Relay, activator SessionActivator, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		allClients: make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan *roomRequest, 64),
		leave:      make(chan *roomRequest, 64),
		broadcast:  make(chan *roomMessage, 256),
		pumps:      make(map[string]context.CancelFunc),
		relay:      relay,
		activator:  activator,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for sessionID, members := range h.rooms {
					if _, ok := members[client]; ok {
						delete(members, client)
						h.closeEmptyRoom(sessionID)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.join:
			h.mu.Lock()
			if _, ok := h.rooms[req.sessionID]; !ok {
				h.rooms[req.sessionID] = make(map[*Client]bool)
				h.startPump(req.sessionID)
			}
			h.rooms[req.sessionID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client joined room", "client_id", req.client.id, "session_id", req.sessionID)

		case req := <-h.leave:
			h.mu.Lock()
			if members, ok := h.rooms[req.sessionID]; ok {
				delete(members, req.client)
				h.closeEmptyRoom(req.sessionID)
			}
			h.mu.Unlock()
			h.logger.Debug("client left room", "client_id", req.client.id, "session_id", req.sessionID)

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// closeEmptyRoom tears down a room and its Pub/Sub pump once the last
// member leaves. Caller holds the lock.
func (h *Hub) closeEmptyRoom(sessionID string) {
	if members, ok := h.rooms[sessionID]; ok && len(members) == 0 {
		delete(h.rooms, sessionID)
		if cancel, ok := h.pumps[sessionID]; ok {
			cancel()
			delete(h.pumps, sessionID)
		}
	}
}

// startPump subscribes to the session's relay channel and forwards each
// received event into the hub's broadcast loop. Caller holds the lock.
func (h *Hub) startPump(sessionID string) {
	ctx, cancel := context.WithCancel(h.ctx)
	h.pumps[sessionID] = cancel

	sub := h.relay.Subscribe(ctx, sessionID)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case h.broadcast <- &roomMessage{sessionID: sessionID, data: []byte(msg.Payload)}:
				default:
					h.logger.Warn("broadcast channel full, dropping event", "session_id", sessionID)
				}
			}
		}
	}()
}

// broadcastToRoom delivers one relayed event to every room member.
// At-most-once: a member with a full buffer is skipped, and recovers by
// requesting a replay.
func (h *Hub) broadcastToRoom(msg *roomMessage) {
	var env channel.Envelope
	if err := json.Unmarshal(msg.data, &env); err != nil {
		h.logger.Warn("dropping malformed relayed event", "session_id", msg.sessionID, "error", err)
		return
	}

	frame := Frame{
		Type:      FrameTypeEvent,
		SessionID: msg.sessionID,
		Data:      env,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal event frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[msg.sessionID] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// Publish routes one game message from a client through the relay. A
// start message also flips the session to active in the store.
func (h *Hub) Publish(ctx context.Context, env channel.Envelope) (channel.Envelope, error) {
	stamped, err := h.relay.Publish(ctx, env)
	if err != nil {
		return channel.Envelope{}, err
	}

	if env.Kind == channel.KindStart && h.activator != nil {
		if err := h.activator.MarkSessionActive(ctx, env.SessionID); err != nil {
			// A second start for an already-active session is expected
			// noise; anything else is logged for the operator.
			h.logger.Debug("session activation skipped", "session_id", env.SessionID, "error", err)
		}
	}
	return stamped, nil
}

// Replay returns the archived events of a session after a sequence
// number, for clients reconciling a gap.
func (h *Hub) Replay(ctx context.Context, sessionID string, since int64) ([]channel.Envelope, error) {
	return h.relay.Replay(ctx, sessionID, since)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Join adds a client to a session room
func (h *Hub) Join(client *Client, sessionID string) {
	h.join <- &roomRequest{client: client, sessionID: sessionID}
}

// Leave removes a client from a session room
func (h *Hub) Leave(client *Client, sessionID string) {
	h.leave <- &roomRequest{client: client, sessionID: sessionID}
}

// GetRoomSize returns the number of connected members in a session room
func (h *Hub) GetRoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
