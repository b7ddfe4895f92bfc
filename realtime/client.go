package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 256
	maxMessageSize = 4096
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Identity binds a connection to its place in the room hierarchy. All four
// fields come from the validated access token and tab handshake, never from
// client-supplied subscription requests.
type Identity struct {
	UserID    string
	DeviceID  string
	SessionID string
	TabID     string
}

// Client is one live realtime connection. Its room memberships are fixed at
// connect time: its own tab room plus every ancestor room.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID    string
	deviceID  string
	sessionID string
	tabID     string

	rooms map[string]struct{}
	mu    sync.RWMutex
}

func NewClient(hub *Hub, conn *websocket.Conn, id Identity) *Client {
	rooms := map[string]struct{}{
		UserRoom(id.UserID): {},
	}
	if id.DeviceID != "" {
		rooms[DeviceRoom(id.UserID, id.DeviceID)] = struct{}{}
	}
	if id.SessionID != "" {
		rooms[SessionRoom(id.SessionID)] = struct{}{}
	}
	if id.SessionID != "" && id.TabID != "" {
		rooms[TabRoom(id.SessionID, id.TabID)] = struct{}{}
	}

	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		userID:    id.UserID,
		deviceID:  id.DeviceID,
		sessionID: id.SessionID,
		tabID:     id.TabID,
		rooms:     rooms,
	}
}

// Start launches the read and write pumps. The caller must have registered
// the client with the hub first.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("realtime read error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendEnvelope(Envelope{Type: MsgTypeError, Message: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case MsgTypePing:
		c.sendEnvelope(Envelope{Type: MsgTypePong})
	default:
		c.sendEnvelope(Envelope{Type: MsgTypeError, Message: "unknown message type: " + msg.Type})
	}
}

// trySend delivers without blocking. Closed channels (client disconnected
// mid-broadcast) and full buffers (slow client) are absorbed silently.
func (c *Client) trySend(data []byte) {
	defer func() {
		_ = recover()
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) memberOfAny(rooms []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, room := range rooms {
		if _, ok := c.rooms[room]; ok {
			return true
		}
	}
	return false
}

func (c *Client) sendEnvelope(msg Envelope) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}
