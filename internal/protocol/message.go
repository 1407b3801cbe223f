package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"draftsync/internal/models"

	"github.com/tidwall/gjson"
)

// Message kinds on the document socket. Every frame is a JSON object with a
// "type" discriminator.
const (
	KindInit             = "init"
	KindSyncRequest      = "sync_request"
	KindSyncResponse     = "sync_response"
	KindUpdate           = "update"
	KindCursor           = "cursor"
	KindPresenceJoin     = "presence_join"
	KindPresenceLeave    = "presence_leave"
	KindPresenceUpdate   = "presence_update"
	KindHeartbeat        = "heartbeat"
	KindUserJoined       = "user_joined"
	KindUserLeft         = "user_left"
	KindUserDisconnected = "user_disconnected"
	KindError            = "error"
)

// Application close codes used when the relay rejects a socket. Clean
// shutdowns use the standard 1000/1001 codes instead.
const (
	CloseAuthFailed       = 4001
	CloseInvalidToken     = 4002
	CloseAccessDenied     = 4003
	CloseDocumentNotFound = 4004
)

// Message is one decoded wire frame. Concrete types below form the closed
// set of kinds; dispatch is a type switch, not string comparison.
type Message interface {
	Kind() string
}

// SnapshotPayload carries full document state on the wire. Text is
// authoritative; Characters is provenance, transmitted but not consulted
// when applying.
type SnapshotPayload struct {
	Text       string                   `json:"text"`
	Characters []models.TaggedCharacter `json:"characters,omitempty"`
	Version    int64                    `json:"version,omitempty"`
}

// InitMessage is the one-shot join snapshot ("init" on first connect,
// "sync_response" on request). Older server generations put the snapshot
// under "content" instead of "state"; both are accepted.
type InitMessage struct {
	Type       string           `json:"type"`
	DocumentID string           `json:"document_id,omitempty"`
	State      *SnapshotPayload `json:"state,omitempty"`
	Content    *SnapshotPayload `json:"content,omitempty"`
	Cursors    map[string]int   `json:"cursors,omitempty"`
	Timestamp  string           `json:"timestamp,omitempty"`
}

func (m *InitMessage) Kind() string { return m.Type }

// Snapshot returns whichever snapshot field the server populated.
func (m *InitMessage) Snapshot() *SnapshotPayload {
	if m.State != nil {
		return m.State
	}
	return m.Content
}

// NewInitMessage builds the join snapshot the relay sends on connect. The
// kind is "init" for the unsolicited first frame and "sync_response" when
// answering a sync_request.
func NewInitMessage(kind, documentID string, state SnapshotPayload, cursors map[string]int) *InitMessage {
	return &InitMessage{
		Type:       kind,
		DocumentID: documentID,
		State:      &state,
		Cursors:    cursors,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// SyncRequestMessage asks the server to re-send the document snapshot; the
// reply comes back as a sync_response frame.
type SyncRequestMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id,omitempty"`
}

func (m *SyncRequestMessage) Kind() string { return KindSyncRequest }

func NewSyncRequestMessage(documentID string) *SyncRequestMessage {
	return &SyncRequestMessage{Type: KindSyncRequest, DocumentID: documentID}
}

// UpdateMessage replaces the whole document text on every edit.
type UpdateMessage struct {
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	DocumentID string          `json:"document_id"`
	Content    SnapshotPayload `json:"content"`
}

func (m *UpdateMessage) Kind() string { return KindUpdate }

func NewUpdateMessage(userID, documentID string, snap models.Snapshot) *UpdateMessage {
	return &UpdateMessage{
		Type:       KindUpdate,
		UserID:     userID,
		DocumentID: documentID,
		Content: SnapshotPayload{
			Text:       snap.Text,
			Characters: snap.Characters,
			Version:    snap.Version,
		},
	}
}

// CursorData is the payload of a cursor broadcast. ConnectionID keeps its
// historical camelCase wire name.
type CursorData struct {
	Anchor       int    `json:"anchor"`
	Focus        int    `json:"focus"`
	Timestamp    int64  `json:"timestamp"`
	Username     string `json:"username,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Color        string `json:"color,omitempty"`
}

type CursorMessage struct {
	Type       string     `json:"type"`
	UserID     string     `json:"user_id"`
	DocumentID string     `json:"document_id"`
	Data       CursorData `json:"data"`
}

func (m *CursorMessage) Kind() string { return KindCursor }

func NewCursorMessage(userID, documentID string, data CursorData) *CursorMessage {
	return &CursorMessage{Type: KindCursor, UserID: userID, DocumentID: documentID, Data: data}
}

// PresenceData announces identity on join and refreshes on update.
type PresenceData struct {
	Username     string `json:"username,omitempty"`
	Color        string `json:"color,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// PresenceMessage covers presence_join, presence_leave and presence_update;
// Type distinguishes them.
type PresenceMessage struct {
	Type       string       `json:"type"`
	UserID     string       `json:"user_id"`
	DocumentID string       `json:"document_id"`
	Data       PresenceData `json:"data"`
}

func (m *PresenceMessage) Kind() string { return m.Type }

func NewPresenceMessage(kind, userID, documentID string, data PresenceData) *PresenceMessage {
	return &PresenceMessage{Type: kind, UserID: userID, DocumentID: documentID, Data: data}
}

// HeartbeatMessage is a fire-and-forget liveness signal; no reply expected.
type HeartbeatMessage struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Timestamp  int64  `json:"timestamp"`
}

func (m *HeartbeatMessage) Kind() string { return KindHeartbeat }

func NewHeartbeatMessage(userID, documentID string, ts int64) *HeartbeatMessage {
	return &HeartbeatMessage{Type: KindHeartbeat, UserID: userID, DocumentID: documentID, Timestamp: ts}
}

// MembershipMessage is a server-observed join/leave/disconnect.
type MembershipMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

func (m *MembershipMessage) Kind() string { return m.Type }

func NewMembershipMessage(kind, userID, username string) *MembershipMessage {
	return &MembershipMessage{Type: kind, UserID: userID, Username: username}
}

// ErrorMessage is a server-reported fault on the socket.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m *ErrorMessage) Kind() string { return KindError }

func NewErrorMessage(text string) *ErrorMessage {
	return &ErrorMessage{Type: KindError, Message: text}
}

// ProtocolError marks a frame that could not be decoded or carried an
// unknown kind. The offending frame is dropped; it must never take the
// handler loop down with it.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &ProtocolError{Reason: "encode " + m.Kind(), Err: err}
	}
	return data, nil
}

// Decode sniffs the "type" discriminator and unmarshals into that kind's
// payload struct.
func Decode(data []byte) (Message, error) {
	kind := gjson.GetBytes(data, "type").String()
	if kind == "" {
		return nil, &ProtocolError{Reason: "frame without type discriminator"}
	}

	var (
		msg Message
		err error
	)
	switch kind {
	case KindInit, KindSyncResponse:
		m := &InitMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case KindSyncRequest:
		m := &SyncRequestMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case KindUpdate:
		m := &UpdateMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case KindCursor:
		m := &CursorMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case KindPresenceJoin, KindPresenceLeave, KindPresenceUpdate:
		m := &PresenceMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case KindHeartbeat:
		m := &HeartbeatMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case KindUserJoined, KindUserLeft, KindUserDisconnected:
		m := &MembershipMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case KindError:
		m := &ErrorMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", kind)}
	}

	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed %s frame", kind), Err: err}
	}
	return msg, nil
}
