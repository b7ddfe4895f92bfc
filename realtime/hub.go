package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message envelope types on the wire.
const (
	MsgTypeEvent = "event"
	MsgTypePing  = "ping"
	MsgTypePong  = "pong"
	MsgTypeError = "error"
)

// Envelope wraps everything sent over a realtime connection.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp,omitempty"`
	Event     *SecurityEvent `json:"event,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Hub tracks live connections and routes security events through the room
// hierarchy. Events whose target rooms have no live connection are parked in
// the offline store and replayed once a member connects.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	offline *OfflineStore
	logger  *slog.Logger
}

func NewHub(offline *OfflineStore, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		offline: offline,
		logger:  logger,
	}
}

// Run blocks until the context is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client and replays the user's parked offline events to
// the connections in each event's target rooms. Parked events whose rooms
// still have no member are queued again for a later connect.
func (h *Hub) Register(ctx context.Context, client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("realtime client connected",
		"user_id", client.userID, "tab_id", client.tabID, "clients", h.ClientCount())

	if h.offline == nil {
		return
	}
	parked, err := h.offline.Drain(ctx, client.userID)
	if err != nil {
		h.logger.Warn("offline event drain failed", "user_id", client.userID, "error", err)
		return
	}
	for _, data := range parked {
		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == nil {
			continue
		}
		if h.deliver(data, envelope.Event) == 0 {
			if err := h.offline.Append(ctx, client.userID, data); err != nil {
				h.logger.Warn("offline event requeue failed", "user_id", client.userID, "error", err)
			}
		}
	}
}

// Unregister removes a client. Only the goroutine that removes the client
// from the map closes the send channel, preventing double-close panics
// during shutdown.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("realtime client disconnected", "clients", h.ClientCount())
}

// Publish routes the event to every connection in its target rooms. Up
// events skip the originating tab. When no member of the target rooms is
// connected the event is parked for offline replay, even if the user has
// live connections in other scopes.
func (h *Hub) Publish(ctx context.Context, event SecurityEvent) {
	envelope := Envelope{
		Type:      MsgTypeEvent,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     &event,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("event marshal failed", "type", event.Type, "error", err)
		return
	}

	sent := h.deliver(data, &event)
	if sent > 0 {
		h.logger.Debug("event delivered", "type", event.Type, "recipients", sent)
		return
	}

	if h.offline != nil {
		if err := h.offline.Append(ctx, event.UserID, data); err != nil {
			h.logger.Warn("offline event append failed", "user_id", event.UserID, "error", err)
		}
	}
}

// deliver sends the serialized event to every connected member of its target
// rooms and returns the recipient count.
//
// Lock ordering: the client set is snapshotted under the hub lock, which is
// released before per-client delivery.
func (h *Hub) deliver(data []byte, event *SecurityEvent) int {
	targets := event.targetRooms()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if !client.memberOfAny(targets) {
			continue
		}
		if event.Direction == DirectionUp &&
			event.TabID != "" &&
			client.tabID == event.TabID &&
			(event.SessionID == "" || client.sessionID == event.SessionID) {
			continue
		}
		client.trySend(data)
		sent++
	}
	return sent
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CountForUser returns the number of connections belonging to the user.
func (h *Hub) CountForUser(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for client := range h.clients {
		if client.userID == userID {
			count++
		}
	}
	return count
}

// CloseSessions force-closes every connection bound to one of the given
// session IDs. Used when sessions are terminated server-side.
func (h *Hub) CloseSessions(sessionIDs ...string) {
	ids := make(map[string]struct{}, len(sessionIDs))
	for _, sid := range sessionIDs {
		ids[sid] = struct{}{}
	}

	h.mu.RLock()
	var victims []*Client
	for client := range h.clients {
		if _, ok := ids[client.sessionID]; ok {
			victims = append(victims, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range victims {
		h.Unregister(client)
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			_ = client.conn.Close()
		}
		delete(h.clients, client)
	}
}
