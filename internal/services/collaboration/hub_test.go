package collaboration

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"draftsync/internal/models"
	"draftsync/internal/protocol"
	"draftsync/internal/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type relayFixture struct {
	srv       *httptest.Server
	docs      *repository.MemoryDocumentRepository
	updates   *repository.MemoryUpdateRepository
	hub       *Hub
	persister *Persister
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	docs := repository.NewMemoryDocumentRepository()
	updates := repository.NewMemoryUpdateRepository()

	hub := NewHub()
	persister := NewPersister(docs, updates, 1, 64)
	persister.Start()
	hub.SetPersister(persister)
	hub.Start()

	auth := func(token string) (string, string, bool) {
		switch token {
		case "alice-token":
			return "alice", "Alice", true
		case "bob-token":
			return "bob", "Bob", true
		default:
			return "", "", false
		}
	}

	wsh := NewWebSocketHandler(hub, docs, updates, auth)

	r := mux.NewRouter()
	r.HandleFunc("/ws/documents/{id}", wsh.HandleDocumentConnection)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		hub.Shutdown()
		persister.Shutdown()
		srv.Close()
	})

	return &relayFixture{srv: srv, docs: docs, updates: updates, hub: hub, persister: persister}
}

func (f *relayFixture) createDoc(t *testing.T, content string, ownerID string, public bool) string {
	t.Helper()
	doc, err := f.docs.Create(context.Background(), &models.DocumentCreate{
		Title:    "fixture doc",
		Content:  content,
		OwnerID:  ownerID,
		IsPublic: public,
	})
	if err != nil {
		t.Fatalf("create doc: %v", err)
	}
	return doc.ID
}

func (f *relayFixture) dial(t *testing.T, docID, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/documents/" + docID
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return msg
}

func expectKind(t *testing.T, conn *websocket.Conn, kind string) protocol.Message {
	t.Helper()
	msg := readFrame(t, conn)
	if msg.Kind() != kind {
		t.Fatalf("frame kind = %q, want %q", msg.Kind(), kind)
	}
	return msg
}

// expectSilence asserts no frame arrives within d. The read deadline poisons
// the connection, so this must be the last read on it.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != code {
		t.Fatalf("close code = %d, want %d", ce.Code, code)
	}
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayHandshakeSendsInit(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "seed text", "", true)

	conn := f.dial(t, docID, "alice-token")

	msg := expectKind(t, conn, protocol.KindInit)
	init := msg.(*protocol.InitMessage)
	snap := init.Snapshot()
	if snap == nil || snap.Text != "seed text" {
		t.Fatalf("init snapshot = %+v", snap)
	}
	if snap.Version != 0 {
		t.Fatalf("fresh room version = %d", snap.Version)
	}
	if init.DocumentID != docID {
		t.Fatalf("init document id = %q", init.DocumentID)
	}
}

func TestRelayBroadcastsUpdatesToPeersOnly(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "", "", true)

	alice := f.dial(t, docID, "alice-token")
	expectKind(t, alice, protocol.KindInit)

	bob := f.dial(t, docID, "bob-token")
	expectKind(t, bob, protocol.KindInit)
	expectKind(t, alice, protocol.KindUserJoined)

	sendMessage(t, alice, protocol.NewUpdateMessage("alice", docID, models.CaptureSnapshot("hello", "alice")))

	msg := expectKind(t, bob, protocol.KindUpdate)
	update := msg.(*protocol.UpdateMessage)
	if update.UserID != "alice" || update.Content.Text != "hello" {
		t.Fatalf("relayed update = %+v", update)
	}

	// The author never hears their own edit back.
	expectSilence(t, alice, 200*time.Millisecond)
}

func TestRelayPersistsUpdates(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "", "", true)

	alice := f.dial(t, docID, "alice-token")
	expectKind(t, alice, protocol.KindInit)

	sendMessage(t, alice, protocol.NewUpdateMessage("alice", docID, models.CaptureSnapshot("persisted text", "alice")))

	waitFor(t, "content write-through", func() bool {
		doc, err := f.docs.GetByID(context.Background(), docID)
		return err == nil && doc.Content == "persisted text"
	})

	history, err := f.updates.History(context.Background(), docID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("update log has %d records", len(history))
	}
	rec := history[0]
	if rec.UserID != "alice" || rec.Version != 1 {
		t.Fatalf("logged record = %+v", rec)
	}
	if !strings.Contains(string(rec.Payload), "persisted text") {
		t.Fatalf("payload does not carry the frame: %s", rec.Payload)
	}
}

func TestRelaySeedsLateJoinerFromRoomState(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "", "", true)

	alice := f.dial(t, docID, "alice-token")
	expectKind(t, alice, protocol.KindInit)

	sendMessage(t, alice, protocol.NewCursorMessage("alice", docID, protocol.CursorData{Anchor: 3, Focus: 3, Timestamp: time.Now().UnixMilli()}))
	sendMessage(t, alice, protocol.NewUpdateMessage("alice", docID, models.CaptureSnapshot("draft", "alice")))

	// Frames from one socket reach the loop in order, so the update's
	// arrival in the log proves the cursor frame is through as well.
	waitFor(t, "update through the loop", func() bool {
		history, _ := f.updates.History(context.Background(), docID)
		return len(history) == 1
	})

	bob := f.dial(t, docID, "bob-token")
	msg := expectKind(t, bob, protocol.KindInit)
	init := msg.(*protocol.InitMessage)
	snap := init.Snapshot()
	if snap.Text != "draft" {
		t.Fatalf("late joiner text = %q", snap.Text)
	}
	if snap.Version != 1 {
		t.Fatalf("late joiner version = %d", snap.Version)
	}
	if init.Cursors["alice"] != 3 {
		t.Fatalf("late joiner cursors = %v", init.Cursors)
	}
}

func TestRelayResumesVersionAfterRoomIdle(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "", "", true)

	alice := f.dial(t, docID, "alice-token")
	expectKind(t, alice, protocol.KindInit)
	sendMessage(t, alice, protocol.NewUpdateMessage("alice", docID, models.CaptureSnapshot("v1 text", "alice")))

	waitFor(t, "persisted update", func() bool {
		latest, _ := f.updates.Latest(context.Background(), docID)
		return latest != nil && latest.Version == 1
	})

	alice.Close()
	waitFor(t, "room teardown", func() bool {
		rooms, _ := f.hub.Stats()
		return rooms == 0
	})

	// A fresh room picks up the persisted content and version.
	again := f.dial(t, docID, "alice-token")
	msg := expectKind(t, again, protocol.KindInit)
	snap := msg.(*protocol.InitMessage).Snapshot()
	if snap.Text != "v1 text" {
		t.Fatalf("reseeded text = %q", snap.Text)
	}
	if snap.Version != 1 {
		t.Fatalf("reseeded version = %d", snap.Version)
	}
}

func TestRelayRejectsBadSockets(t *testing.T) {
	f := newRelayFixture(t)
	public := f.createDoc(t, "", "", true)
	private := f.createDoc(t, "", "alice", false)

	tests := []struct {
		name  string
		docID string
		token string
		code  int
	}{
		{"missing token", public, "", protocol.CloseAuthFailed},
		{"unknown token", public, "wrong-token", protocol.CloseInvalidToken},
		{"unknown document", "no-such-doc", "alice-token", protocol.CloseDocumentNotFound},
		{"foreign private document", private, "bob-token", protocol.CloseAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := f.dial(t, tt.docID, tt.token)
			expectClose(t, conn, tt.code)
		})
	}

	// The owner still gets in.
	owner := f.dial(t, private, "alice-token")
	expectKind(t, owner, protocol.KindInit)
}

func TestRelayAnswersSyncRequest(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "current state", "", true)

	alice := f.dial(t, docID, "alice-token")
	expectKind(t, alice, protocol.KindInit)

	sendMessage(t, alice, protocol.NewSyncRequestMessage(docID))

	msg := expectKind(t, alice, protocol.KindSyncResponse)
	snap := msg.(*protocol.InitMessage).Snapshot()
	if snap.Text != "current state" {
		t.Fatalf("sync_response text = %q", snap.Text)
	}
}

func TestRelayReportsLeaveAndDisconnect(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "", "", true)

	alice := f.dial(t, docID, "alice-token")
	expectKind(t, alice, protocol.KindInit)

	// Clean goodbye: close frame first.
	bob := f.dial(t, docID, "bob-token")
	expectKind(t, bob, protocol.KindInit)
	expectKind(t, alice, protocol.KindUserJoined)

	bob.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	bob.Close()

	msg := expectKind(t, alice, protocol.KindUserLeft)
	if m := msg.(*protocol.MembershipMessage); m.UserID != "bob" {
		t.Fatalf("user_left for %q", m.UserID)
	}

	// Abrupt drop: no close frame.
	bob2 := f.dial(t, docID, "bob-token")
	expectKind(t, bob2, protocol.KindInit)
	expectKind(t, alice, protocol.KindUserJoined)

	bob2.Close()

	msg = expectKind(t, alice, protocol.KindUserDisconnected)
	if m := msg.(*protocol.MembershipMessage); m.UserID != "bob" {
		t.Fatalf("user_disconnected for %q", m.UserID)
	}
}

func TestRelayRelaysCursorAndPresence(t *testing.T) {
	f := newRelayFixture(t)
	docID := f.createDoc(t, "", "", true)

	alice := f.dial(t, docID, "alice-token")
	expectKind(t, alice, protocol.KindInit)
	bob := f.dial(t, docID, "bob-token")
	expectKind(t, bob, protocol.KindInit)
	expectKind(t, alice, protocol.KindUserJoined)

	sendMessage(t, bob, protocol.NewPresenceMessage(protocol.KindPresenceJoin, "bob", docID,
		protocol.PresenceData{Username: "Bob", Color: "#00ff00"}))
	msg := expectKind(t, alice, protocol.KindPresenceJoin)
	if m := msg.(*protocol.PresenceMessage); m.Data.Username != "Bob" {
		t.Fatalf("presence data = %+v", m.Data)
	}

	sendMessage(t, bob, protocol.NewCursorMessage("bob", docID, protocol.CursorData{Anchor: 1, Focus: 4, Timestamp: 42}))
	msg = expectKind(t, alice, protocol.KindCursor)
	if m := msg.(*protocol.CursorMessage); m.Data.Focus != 4 {
		t.Fatalf("cursor data = %+v", m.Data)
	}

	// Heartbeats stop at the relay.
	sendMessage(t, bob, protocol.NewHeartbeatMessage("bob", docID, time.Now().UnixMilli()))
	expectSilence(t, alice, 200*time.Millisecond)
}
