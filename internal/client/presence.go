package client

import (
	"sort"
	"time"

	"draftsync/internal/models"
	"draftsync/internal/protocol"
)

// PresenceTracker mirrors who else is in the document: last-known cursors,
// identity metadata, and derived liveness. Entries are keyed by user id.
//
// Liveness is computed at read time from LastUpdated against the away
// threshold; nothing sweeps the map. A peer that vanishes without a leave
// message lingers as away until a leave or disconnect frame removes it.
//
// Not safe for concurrent use; the session's event loop is the only caller.
type PresenceTracker struct {
	self      models.Identity
	username  string
	color     string
	threshold time.Duration
	now       func() time.Time

	entries map[string]*models.PresenceEntry

	anchor, focus int
}

func NewPresenceTracker(self models.Identity, username, color string, threshold time.Duration) *PresenceTracker {
	return &PresenceTracker{
		self:      self,
		username:  username,
		color:     color,
		threshold: threshold,
		now:       time.Now,
		entries:   make(map[string]*models.PresenceEntry),
	}
}

// ApplyCursor upserts a peer's cursor. Frames carrying our own user id are
// skipped: a self-entry would shadow the local caret.
func (p *PresenceTracker) ApplyCursor(msg *protocol.CursorMessage) bool {
	if msg.UserID == p.self.UserID {
		return false
	}

	e := p.entry(msg.UserID)
	if msg.Data.Username != "" {
		e.Username = msg.Data.Username
	}
	if msg.Data.ConnectionID != "" {
		e.ConnectionID = msg.Data.ConnectionID
	}
	if msg.Data.Color != "" {
		e.Color = msg.Data.Color
	}
	e.Cursor = models.CursorRange{
		Anchor:    msg.Data.Anchor,
		Focus:     msg.Data.Focus,
		Timestamp: msg.Data.Timestamp,
	}
	e.LastUpdated = p.now()
	return true
}

// ApplyPresence handles the presence_join / presence_leave / presence_update
// family. Join seeds an entry at offset zero, leave removes it, update
// refreshes an existing entry and is ignored for users never seen joining.
func (p *PresenceTracker) ApplyPresence(msg *protocol.PresenceMessage) {
	if msg.UserID == p.self.UserID {
		return
	}

	switch msg.Type {
	case protocol.KindPresenceJoin:
		e := p.entry(msg.UserID)
		if msg.Data.Username != "" {
			e.Username = msg.Data.Username
		}
		if msg.Data.ConnectionID != "" {
			e.ConnectionID = msg.Data.ConnectionID
		}
		if msg.Data.Color != "" {
			e.Color = msg.Data.Color
		}
		e.LastUpdated = p.now()
	case protocol.KindPresenceLeave:
		delete(p.entries, msg.UserID)
	case protocol.KindPresenceUpdate:
		e, ok := p.entries[msg.UserID]
		if !ok {
			return
		}
		if msg.Data.Username != "" {
			e.Username = msg.Data.Username
		}
		e.LastUpdated = p.now()
	}
}

// ApplyMembership handles server-observed joins and departures. user_joined
// carries no connection metadata, so it refreshes but never seeds; the peer's
// own presence_join is what creates the entry.
func (p *PresenceTracker) ApplyMembership(msg *protocol.MembershipMessage) {
	if msg.UserID == p.self.UserID {
		return
	}

	switch msg.Type {
	case protocol.KindUserJoined:
		if e, ok := p.entries[msg.UserID]; ok {
			if msg.Username != "" {
				e.Username = msg.Username
			}
			e.LastUpdated = p.now()
		}
	case protocol.KindUserLeft, protocol.KindUserDisconnected:
		delete(p.entries, msg.UserID)
	}
}

// ApplyHeartbeat refreshes liveness for a peer whose heartbeat the relay
// fanned out. Never seeds.
func (p *PresenceTracker) ApplyHeartbeat(msg *protocol.HeartbeatMessage) {
	if msg.UserID == p.self.UserID {
		return
	}
	if e, ok := p.entries[msg.UserID]; ok {
		e.LastUpdated = p.now()
	}
}

// ReplaceAll rebuilds the map from the join snapshot's cursor offsets,
// discarding anything held before. Usernames arrive later on cursor and
// presence frames.
func (p *PresenceTracker) ReplaceAll(cursors map[string]int) {
	p.entries = make(map[string]*models.PresenceEntry, len(cursors))
	now := p.now()
	for userID, offset := range cursors {
		if userID == p.self.UserID {
			continue
		}
		p.entries[userID] = &models.PresenceEntry{
			UserID:      userID,
			Cursor:      models.CursorRange{Anchor: offset, Focus: offset},
			LastUpdated: now,
		}
	}
}

// SetLocalSelection records our own caret for the next broadcast.
func (p *PresenceTracker) SetLocalSelection(anchor, focus int) {
	p.anchor, p.focus = anchor, focus
}

// LocalCursorData builds the payload for broadcasting our own cursor.
func (p *PresenceTracker) LocalCursorData() protocol.CursorData {
	return protocol.CursorData{
		Anchor:       p.anchor,
		Focus:        p.focus,
		Timestamp:    p.now().UnixMilli(),
		Username:     p.username,
		ConnectionID: p.self.SessionID,
		Color:        p.color,
	}
}

// Entries returns a sorted copy of all tracked peers.
func (p *PresenceTracker) Entries() []models.PresenceEntry {
	out := make([]models.PresenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// OnlineUsers returns the peers currently classified online.
func (p *PresenceTracker) OnlineUsers() []models.PresenceEntry {
	now := p.now()
	var out []models.PresenceEntry
	for _, e := range p.Entries() {
		if e.Status(now, p.threshold) == models.StatusOnline {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many peers are tracked, regardless of liveness.
func (p *PresenceTracker) Count() int { return len(p.entries) }

func (p *PresenceTracker) entry(userID string) *models.PresenceEntry {
	e, ok := p.entries[userID]
	if !ok {
		e = &models.PresenceEntry{UserID: userID}
		p.entries[userID] = e
	}
	return e
}
