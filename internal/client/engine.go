package client

import (
	"context"

	"draftsync/internal/models"
	"draftsync/internal/protocol"
	"draftsync/internal/surface"
)

// DocumentStore persists flattened document text. The sync engine only needs
// the one write; the REST client in internal/docstore satisfies it.
type DocumentStore interface {
	UpdateDocument(ctx context.Context, id, content string) error
}

// Engine owns document synchronization for one session: it applies the join
// snapshot exactly once per connection, turns local edits into update frames,
// and applies peer updates to the buffer.
//
// Synchronization model is last-writer-wins whole-text replacement. The
// character provenance captured on each edit is carried on the wire but never
// consulted when applying; concurrent edits do not merge, the later frame
// wins. That behavior is load-bearing for convergence and must not be
// "improved" locally.
//
// Not safe for concurrent use; the session's event loop is the only caller.
type Engine struct {
	buffer *surface.Buffer
	store  DocumentStore

	documentID string
	userID     string

	version int64
	synced  bool
}

func NewEngine(buffer *surface.Buffer, store DocumentStore, documentID, userID string) *Engine {
	return &Engine{
		buffer:     buffer,
		store:      store,
		documentID: documentID,
		userID:     userID,
	}
}

// ResetForConnection re-arms the one-shot snapshot guard. Each connection
// delivers exactly one snapshot; a reconnect starts a fresh one.
func (e *Engine) ResetForConnection() {
	e.synced = false
}

// Synced reports whether this connection's snapshot has been applied.
func (e *Engine) Synced() bool { return e.synced }

// Version returns the last version stamp seen or produced.
func (e *Engine) Version() int64 { return e.version }

// ApplyInit applies the join snapshot ("init" or "sync_response") to the
// buffer as a remote-origin replace. At most one snapshot is applied per
// connection; later ones are dropped and reported false. A snapshot with no
// flattened text but a character array is flattened first.
func (e *Engine) ApplyInit(msg *protocol.InitMessage) bool {
	if e.synced {
		return false
	}

	var text string
	if snap := msg.Snapshot(); snap != nil {
		text = snap.Text
		if text == "" && len(snap.Characters) > 0 {
			text = models.FlattenCharacters(snap.Characters)
		}
		if snap.Version > 0 {
			e.version = snap.Version
		}
	}

	e.buffer.Replace(text, surface.OriginRemote)
	e.synced = true
	return true
}

// LocalChange captures the edited text as a provenance-tagged snapshot and
// builds the update frame to broadcast.
func (e *Engine) LocalChange(text string) *protocol.UpdateMessage {
	snap := models.CaptureSnapshot(text, e.userID)
	e.version = snap.Version
	return protocol.NewUpdateMessage(e.userID, e.documentID, snap)
}

// ApplyRemote applies a peer's update to the buffer as a remote-origin
// replace. Frames stamped with this session's own user id are relay echoes
// of our own edits and must not be applied; same for frames scoped to a
// different document.
func (e *Engine) ApplyRemote(msg *protocol.UpdateMessage) bool {
	if msg.UserID == e.userID {
		return false
	}
	if msg.DocumentID != "" && msg.DocumentID != e.documentID {
		return false
	}

	text := msg.Content.Text
	if text == "" && len(msg.Content.Characters) > 0 {
		text = models.FlattenCharacters(msg.Content.Characters)
	}
	if msg.Content.Version > 0 {
		e.version = msg.Content.Version
	}

	e.buffer.Replace(text, surface.OriginRemote)
	return true
}

// PersistText writes the flattened text through to the document store. A
// failed save is returned to the caller and otherwise dropped: no retry, no
// buffer rollback.
func (e *Engine) PersistText(ctx context.Context, text string) error {
	if e.store == nil {
		return nil
	}
	return e.store.UpdateDocument(ctx, e.documentID, text)
}
