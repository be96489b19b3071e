package model

import "time"

// EventKind names a structured server event.
type EventKind string

const (
	EventSessionConnected    EventKind = "session_connected"
	EventSessionActivated    EventKind = "session_activated"
	EventSessionDisconnected EventKind = "session_disconnected"
	EventCommandFailed       EventKind = "command_failed"
	EventRoomCreated         EventKind = "room_created"
	EventRoomDeleted         EventKind = "room_deleted"
	EventFileOffered         EventKind = "file_offered"
)

// Event is one entry of the server event journal. It records lifecycle and
// failures only, never message content.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	SessionID uint32    `json:"session_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type EventFilters struct {
	Kind     *EventKind
	Username *string
	Limit    *int
}
