package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Identity is who this client is on the wire. SessionID is a random
// per-session token so two tabs of the same user stay distinguishable; it
// never changes for the session's lifetime.
type Identity struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func NewIdentity(userID string) Identity {
	return Identity{
		UserID:    userID,
		SessionID: ksuid.New().String(),
	}
}

// CursorRange is a selection in flattened-text offsets. Anchor == Focus for
// a plain caret.
type CursorRange struct {
	Anchor    int   `json:"anchor"`
	Focus     int   `json:"focus"`
	Timestamp int64 `json:"timestamp"`
}

// PresenceStatus is derived liveness, never stored.
type PresenceStatus string

const (
	StatusOnline PresenceStatus = "online"
	StatusAway   PresenceStatus = "away"
)

// PresenceEntry is a remote participant's last-known cursor and liveness
// metadata. This is ephemeral user state, separate from document content.
type PresenceEntry struct {
	UserID       string      `json:"user_id"`
	Username     string      `json:"username"`
	ConnectionID string      `json:"connection_id"`
	Cursor       CursorRange `json:"cursor"`
	Color        string      `json:"color"`
	LastUpdated  time.Time   `json:"last_updated"`
}

// Status classifies the entry against an away threshold. There is no
// explicit offline state: entries absent a leave message linger as away.
func (e *PresenceEntry) Status(now time.Time, threshold time.Duration) PresenceStatus {
	if now.Sub(e.LastUpdated) < threshold {
		return StatusOnline
	}
	return StatusAway
}

// Session represents one active WebSocket connection to a document, as the
// relay tracks it.
type Session struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func NewSession(documentID, userID, username string) *Session {
	return &Session{
		ID:           ksuid.New().String(),
		DocumentID:   documentID,
		UserID:       userID,
		Username:     username,
		ConnectedAt:  time.Now(),
		LastActiveAt: time.Now(),
	}
}
