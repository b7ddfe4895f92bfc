package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Direction controls how an event travels through the room hierarchy.
type Direction string

const (
	// DirectionDown fans out from the event's scope to everything beneath
	// it: a user-scoped event reaches every connection of the user.
	DirectionDown Direction = "down"
	// DirectionUp notifies the scopes above the source: a tab-scoped event
	// reaches listeners at its session, device, and user rooms, but not the
	// originating tab.
	DirectionUp Direction = "up"
)

// Security event types published by the engine.
const (
	EventSessionCreated    = "session.created"
	EventSessionTerminated = "session.terminated"
	EventSessionsRevoked   = "sessions.revoked_all"
	EventRefreshReplay     = "token.refresh_replay"
	EventDeviceVerified    = "device.verified"
	EventDeviceRevoked     = "device.revoked"
	EventPasswordChanged   = "password.changed"
	EventLeaderChanged     = "leader.changed"
	EventStateUpdated      = "state.updated"
)

// SecurityEvent is one broadcastable security notification. Room names the
// scope it was emitted at; Direction decides who else hears it.
type SecurityEvent struct {
	EventID   string            `json:"event_id"`
	Type      string            `json:"type"`
	Direction Direction         `json:"direction"`
	UserID    string            `json:"user_id"`
	DeviceID  string            `json:"device_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	TabID     string            `json:"tab_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// NewEvent builds a SecurityEvent with a fresh ID and timestamp. Scope
// fields beyond the user may be empty; the narrowest non-empty one is the
// event's source room.
func NewEvent(eventType string, direction Direction, userID, deviceID, sessionID, tabID string) SecurityEvent {
	return SecurityEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Direction: direction,
		UserID:    userID,
		DeviceID:  deviceID,
		SessionID: sessionID,
		TabID:     tabID,
		Timestamp: time.Now().UTC(),
	}
}

// Room identifiers. Rooms nest user > device > session > tab.
func UserRoom(userID string) string { return "user:" + userID }

func DeviceRoom(userID, deviceID string) string { return "device:" + userID + ":" + deviceID }

func SessionRoom(sessionID string) string { return "session:" + sessionID }

func TabRoom(sessionID, tabID string) string { return "tab:" + sessionID + ":" + tabID }

// sourceRoom is the narrowest room the event names.
func (e SecurityEvent) sourceRoom() string {
	switch {
	case e.TabID != "" && e.SessionID != "":
		return TabRoom(e.SessionID, e.TabID)
	case e.SessionID != "":
		return SessionRoom(e.SessionID)
	case e.DeviceID != "":
		return DeviceRoom(e.UserID, e.DeviceID)
	default:
		return UserRoom(e.UserID)
	}
}

// targetRooms lists the rooms the event is delivered to. Down delivers at
// the source room (every connection inside the scope is a member of it). Up
// delivers to each ancestor room of the source.
func (e SecurityEvent) targetRooms() []string {
	if e.Direction == DirectionUp {
		var rooms []string
		if e.TabID != "" && e.SessionID != "" {
			rooms = append(rooms, SessionRoom(e.SessionID))
		}
		if e.SessionID != "" && e.DeviceID != "" {
			rooms = append(rooms, DeviceRoom(e.UserID, e.DeviceID))
		}
		rooms = append(rooms, UserRoom(e.UserID))
		return rooms
	}
	return []string{e.sourceRoom()}
}
