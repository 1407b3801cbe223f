package client

import (
	"testing"
	"time"

	"draftsync/internal/models"
	"draftsync/internal/protocol"
)

func newTestTracker() (*PresenceTracker, *time.Time) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPresenceTracker(models.Identity{UserID: "alice", SessionID: "sess-alice"}, "Alice", "#ff0000", 30*time.Second)
	p.now = func() time.Time { return current }
	return p, &current
}

func TestCursorUpsertsEntry(t *testing.T) {
	p, _ := newTestTracker()

	msg := protocol.NewCursorMessage("bob", "doc-1", protocol.CursorData{
		Anchor: 3, Focus: 7, Username: "Bob", ConnectionID: "sess-bob", Color: "#00ff00",
	})
	if !p.ApplyCursor(msg) {
		t.Fatal("peer cursor not applied")
	}

	entries := p.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Username != "Bob" || e.Cursor.Anchor != 3 || e.Cursor.Focus != 7 || e.Color != "#00ff00" {
		t.Errorf("entry = %+v", e)
	}

	// Second frame moves the cursor in place.
	p.ApplyCursor(protocol.NewCursorMessage("bob", "doc-1", protocol.CursorData{Anchor: 9, Focus: 9}))
	entries = p.Entries()
	if len(entries) != 1 || entries[0].Cursor.Anchor != 9 {
		t.Errorf("after move: %+v", entries)
	}
	if entries[0].Username != "Bob" {
		t.Error("sparse frame wiped username")
	}
}

func TestCursorSkipsSelf(t *testing.T) {
	p, _ := newTestTracker()

	echo := protocol.NewCursorMessage("alice", "doc-1", protocol.CursorData{Anchor: 1, Focus: 1})
	if p.ApplyCursor(echo) {
		t.Error("own cursor echo applied")
	}
	if p.Count() != 0 {
		t.Errorf("entries = %d, want 0", p.Count())
	}
}

func TestPresenceLifecycle(t *testing.T) {
	p, _ := newTestTracker()

	p.ApplyPresence(protocol.NewPresenceMessage(protocol.KindPresenceJoin, "bob", "doc-1",
		protocol.PresenceData{Username: "Bob", ConnectionID: "sess-bob"}))
	if p.Count() != 1 {
		t.Fatalf("after join: %d entries", p.Count())
	}

	// Update for a user never seen joining is dropped, not seeded.
	p.ApplyPresence(protocol.NewPresenceMessage(protocol.KindPresenceUpdate, "ghost", "doc-1", protocol.PresenceData{}))
	if p.Count() != 1 {
		t.Errorf("presence_update seeded unknown user")
	}

	p.ApplyPresence(protocol.NewPresenceMessage(protocol.KindPresenceLeave, "bob", "doc-1", protocol.PresenceData{}))
	if p.Count() != 0 {
		t.Errorf("after leave: %d entries", p.Count())
	}
}

func TestMembershipRemovals(t *testing.T) {
	for _, kind := range []string{protocol.KindUserLeft, protocol.KindUserDisconnected} {
		t.Run(kind, func(t *testing.T) {
			p, _ := newTestTracker()
			p.ApplyCursor(protocol.NewCursorMessage("bob", "doc-1", protocol.CursorData{}))

			p.ApplyMembership(&protocol.MembershipMessage{Type: kind, UserID: "bob"})
			if p.Count() != 0 {
				t.Errorf("%s left %d entries", kind, p.Count())
			}
		})
	}

	p, _ := newTestTracker()
	p.ApplyMembership(&protocol.MembershipMessage{Type: protocol.KindUserJoined, UserID: "bob", Username: "Bob"})
	if p.Count() != 0 {
		t.Error("user_joined seeded an entry without a presence_join")
	}
}

func TestAwayIsDerivedNotStored(t *testing.T) {
	p, now := newTestTracker()
	p.ApplyCursor(protocol.NewCursorMessage("bob", "doc-1", protocol.CursorData{}))

	*now = now.Add(29 * time.Second)
	if online := p.OnlineUsers(); len(online) != 1 {
		t.Errorf("at 29s: online = %d, want 1", len(online))
	}

	*now = now.Add(2 * time.Second)
	if online := p.OnlineUsers(); len(online) != 0 {
		t.Errorf("at 31s: online = %d, want 0", len(online))
	}

	// No sweep: the entry lingers as away until a leave removes it.
	if p.Count() != 1 {
		t.Errorf("stale entry swept: %d entries", p.Count())
	}
	entries := p.Entries()
	if got := entries[0].Status(*now, 30*time.Second); got != models.StatusAway {
		t.Errorf("status = %s, want away", got)
	}

	// Fresh activity flips it straight back.
	p.ApplyHeartbeat(&protocol.HeartbeatMessage{Type: protocol.KindHeartbeat, UserID: "bob"})
	if online := p.OnlineUsers(); len(online) != 1 {
		t.Errorf("after heartbeat: online = %d, want 1", len(online))
	}
}

func TestReplaceAllFromSnapshot(t *testing.T) {
	p, _ := newTestTracker()
	p.ApplyCursor(protocol.NewCursorMessage("stale", "doc-1", protocol.CursorData{}))

	p.ReplaceAll(map[string]int{"bob": 4, "carol": 0, "alice": 9})

	entries := p.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (self excluded, stale discarded)", len(entries))
	}
	if entries[0].UserID != "bob" || entries[0].Cursor.Anchor != 4 || entries[0].Cursor.Focus != 4 {
		t.Errorf("bob = %+v", entries[0])
	}
	if entries[1].UserID != "carol" {
		t.Errorf("carol = %+v", entries[1])
	}
}

func TestLocalCursorData(t *testing.T) {
	p, _ := newTestTracker()
	p.SetLocalSelection(2, 8)

	data := p.LocalCursorData()
	if data.Anchor != 2 || data.Focus != 8 {
		t.Errorf("range = %d..%d", data.Anchor, data.Focus)
	}
	if data.ConnectionID != "sess-alice" {
		t.Errorf("connection id = %q, want session id", data.ConnectionID)
	}
	if data.Username != "Alice" || data.Color != "#ff0000" {
		t.Errorf("identity = %q/%q", data.Username, data.Color)
	}
	if data.Timestamp == 0 {
		t.Error("timestamp missing")
	}
}
