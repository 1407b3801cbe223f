package collaboration

import (
	"log"
	"sync"
	"time"

	"draftsync/internal/models"
	"draftsync/internal/protocol"
)

// Hub owns every active document room on this relay instance. A single
// event-loop goroutine consumes the register/unregister/inbound/broadcast
// channels, so room state is only ever touched from one place; the mutex
// exists for the read-side accessors.
type Hub struct {
	rooms map[string]*room
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan *inboundFrame
	broadcast  chan *BroadcastMessage

	persister *Persister
	fanout    *Fanout

	done    chan struct{}
	stopped chan struct{}
}

// room is one document's live state: the authoritative flattened text, a
// server-assigned version counter, and the last known cursor offset per
// user for join snapshots.
type room struct {
	documentID string
	text       string
	version    int64
	cursors    map[string]int
	clients    map[*Client]bool
}

// inboundFrame is one decoded frame from a local socket, or from another
// relay instance when client is nil.
type inboundFrame struct {
	client *Client
	msg    protocol.Message
	raw    []byte
}

// BroadcastMessage fans a frame out to a document room. Sender, when set,
// is skipped.
type BroadcastMessage struct {
	DocumentID string
	Frame      []byte
	Sender     *Client
}

// NewHub creates a hub with no rooms.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *inboundFrame, 256),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// SetPersister attaches the write-behind persistence pool.
func (h *Hub) SetPersister(p *Persister) {
	h.persister = p
}

// SetFanout attaches cross-instance frame forwarding.
func (h *Hub) SetFanout(f *Fanout) {
	h.fanout = f
}

// Start begins the hub event loop and the idle-session sweeper.
func (h *Hub) Start() {
	log.Println("🔄 Starting collaboration hub...")

	go func() {
		defer close(h.stopped)
		for {
			select {
			case <-h.done:
				log.Println("Collaboration hub shutting down...")
				return

			case client := <-h.register:
				h.handleRegister(client)

			case client := <-h.unregister:
				h.dropClient(client)

			case frame := <-h.inbound:
				h.dispatch(frame)

			case msg := <-h.broadcast:
				h.handleBroadcast(msg)
			}
		}
	}()

	go h.sweepLoop()

	log.Println("✓ Collaboration hub started")
}

// Broadcast queues a frame for everyone in a document room except sender.
// Safe to call from any goroutine.
func (h *Hub) Broadcast(documentID string, frame []byte, sender *Client) {
	select {
	case h.broadcast <- &BroadcastMessage{DocumentID: documentID, Frame: frame, Sender: sender}:
	case <-h.done:
	}
}

// Stats reports the number of live rooms and connections.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, rm := range h.rooms {
		clients += len(rm.clients)
	}
	return rooms, clients
}

// Sessions returns metadata for every connection in a document room.
func (h *Hub) Sessions(documentID string) []models.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm := h.rooms[documentID]
	if rm == nil {
		return nil
	}
	out := make([]models.Session, 0, len(rm.clients))
	for c := range rm.clients {
		s := *c.Session
		s.LastActiveAt = c.lastActive()
		out = append(out, s)
	}
	return out
}

// handleRegister adds a connection to its document room, creating the room
// from the client's seed snapshot if this is the first joiner. The new
// client gets the init frame; everyone else learns about the join.
func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()

	rm := h.rooms[c.DocumentID]
	if rm == nil {
		rm = &room{
			documentID: c.DocumentID,
			text:       c.seedText,
			version:    c.seedVersion,
			cursors:    make(map[string]int),
			clients:    make(map[*Client]bool),
		}
		h.rooms[c.DocumentID] = rm
	}
	rm.clients[c] = true

	init := protocol.NewInitMessage(protocol.KindInit, rm.documentID, snapshotOf(rm), cursorsOf(rm))
	total := len(rm.clients)

	h.mu.Unlock()

	log.Printf("  Session %s joined document %s (total: %d users)", c.ID, c.DocumentID, total)

	if frame, err := protocol.Encode(init); err == nil {
		if !c.trySend(frame) {
			log.Printf("⚠️  Session %s could not take init frame", c.ID)
		}
	}

	joined := protocol.NewMembershipMessage(protocol.KindUserJoined, c.UserID, c.Username)
	if frame, err := protocol.Encode(joined); err == nil {
		h.handleBroadcast(&BroadcastMessage{DocumentID: c.DocumentID, Frame: frame, Sender: c})
		h.publish(c.DocumentID, frame)
	}
}

// dropClient removes a connection from its room and notifies the rest.
// Reached from the loop for explicit unregisters and for send-buffer
// overflows, so it tolerates being called twice for the same client.
func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()

	rm := h.rooms[c.DocumentID]
	if rm == nil || !rm.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(rm.clients, c)
	c.sendClosed = true
	close(c.Send)

	// The user's cursor survives as long as any of their connections does.
	userGone := true
	for other := range rm.clients {
		if other.UserID == c.UserID {
			userGone = false
			break
		}
	}
	if userGone {
		delete(rm.cursors, c.UserID)
	}

	remaining := len(rm.clients)
	if remaining == 0 {
		delete(h.rooms, c.DocumentID)
	}

	h.mu.Unlock()

	log.Printf("  Session %s left document %s (remaining: %d users)", c.ID, c.DocumentID, remaining)

	if remaining == 0 {
		return
	}

	kind := protocol.KindUserLeft
	if c.abnormal.Load() {
		kind = protocol.KindUserDisconnected
	}
	msg := protocol.NewMembershipMessage(kind, c.UserID, c.Username)
	if frame, err := protocol.Encode(msg); err == nil {
		h.handleBroadcast(&BroadcastMessage{DocumentID: c.DocumentID, Frame: frame, Sender: nil})
		h.publish(c.DocumentID, frame)
	}
}

// dispatch routes one inbound frame. Local frames mutate room state, get
// persisted, and fan out; frames arriving via the fanout only mutate and
// broadcast locally, their origin instance already persisted them.
func (h *Hub) dispatch(f *inboundFrame) {
	local := f.client != nil

	switch m := f.msg.(type) {
	case *protocol.UpdateMessage:
		if local && m.DocumentID != f.client.DocumentID {
			log.Printf("⚠️  Session %s sent update for foreign document %s", f.client.ID, m.DocumentID)
			return
		}

		text := m.Content.Text
		if text == "" && len(m.Content.Characters) > 0 {
			text = models.FlattenCharacters(m.Content.Characters)
		}

		version := h.applyUpdate(m.DocumentID, text)
		if version < 0 {
			return
		}

		if local {
			h.persist(UpdateJob{
				DocumentID: m.DocumentID,
				UserID:     m.UserID,
				Text:       text,
				Payload:    f.raw,
				Version:    version,
			})
			h.publish(m.DocumentID, f.raw)
		}
		h.handleBroadcast(&BroadcastMessage{DocumentID: m.DocumentID, Frame: f.raw, Sender: f.client})

	case *protocol.CursorMessage:
		if local && m.DocumentID != f.client.DocumentID {
			return
		}
		h.mu.Lock()
		if rm := h.rooms[m.DocumentID]; rm != nil {
			rm.cursors[m.UserID] = m.Data.Focus
		}
		h.mu.Unlock()

		if local {
			h.publish(m.DocumentID, f.raw)
		}
		h.handleBroadcast(&BroadcastMessage{DocumentID: m.DocumentID, Frame: f.raw, Sender: f.client})

	case *protocol.PresenceMessage:
		if local && m.DocumentID != f.client.DocumentID {
			return
		}
		if m.Type == protocol.KindPresenceLeave {
			h.mu.Lock()
			if rm := h.rooms[m.DocumentID]; rm != nil {
				delete(rm.cursors, m.UserID)
			}
			h.mu.Unlock()
		}

		if local {
			h.publish(m.DocumentID, f.raw)
		}
		h.handleBroadcast(&BroadcastMessage{DocumentID: m.DocumentID, Frame: f.raw, Sender: f.client})

	case *protocol.HeartbeatMessage:
		// Liveness only; the read pump already touched the activity clock.

	case *protocol.SyncRequestMessage:
		if !local {
			return
		}
		h.mu.RLock()
		rm := h.rooms[f.client.DocumentID]
		var resp *protocol.InitMessage
		if rm != nil {
			resp = protocol.NewInitMessage(protocol.KindSyncResponse, rm.documentID, snapshotOf(rm), cursorsOf(rm))
		}
		h.mu.RUnlock()

		if resp != nil {
			if frame, err := protocol.Encode(resp); err == nil {
				c := f.client
				if !c.trySend(frame) {
					log.Printf("⚠️  Session %s could not take sync_response", c.ID)
				}
			}
		}

	case *protocol.ErrorMessage:
		if local {
			log.Printf("⚠️  Session %s reported error: %s", f.client.ID, m.Message)
		}

	default:
		if local {
			log.Printf("⚠️  Session %s sent unhandled %s frame", f.client.ID, f.msg.Kind())
		}
	}
}

// applyUpdate overwrites a room's text, last writer wins, and returns the
// new server-assigned version. Returns -1 when the room no longer exists.
func (h *Hub) applyUpdate(documentID, text string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.rooms[documentID]
	if rm == nil {
		return -1
	}
	rm.text = text
	rm.version++
	return rm.version
}

// handleBroadcast delivers a frame to every connection in the room except
// the sender. Connections whose send buffer is full are dropped; a client
// that cannot drain 256 frames is not coming back.
func (h *Hub) handleBroadcast(msg *BroadcastMessage) {
	h.mu.RLock()
	rm := h.rooms[msg.DocumentID]
	var targets []*Client
	if rm != nil {
		targets = make([]*Client, 0, len(rm.clients))
		for c := range rm.clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range targets {
		if msg.Sender != nil && c == msg.Sender {
			continue
		}
		if !c.trySend(msg.Frame) {
			log.Printf("⚠️  Session %s buffer full, dropping connection", c.ID)
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.dropClient(c)
	}
}

// persist hands an update to the write-behind pool, if one is attached.
func (h *Hub) persist(job UpdateJob) {
	if h.persister == nil {
		return
	}
	if err := h.persister.Submit(job); err != nil {
		log.Printf("⚠️  Dropping persistence job for document %s: %v", job.DocumentID, err)
	}
}

// publish forwards a frame to the other relay instances, if fanout is on.
func (h *Hub) publish(documentID string, frame []byte) {
	if h.fanout == nil {
		return
	}
	h.fanout.Publish(documentID, frame)
}

// ingestRemote feeds a frame received from another instance into the loop.
func (h *Hub) ingestRemote(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		log.Printf("⚠️  Dropping undecodable fanout frame: %v", err)
		return
	}
	select {
	case h.inbound <- &inboundFrame{client: nil, msg: msg, raw: frame}:
	case <-h.done:
	}
}

// sweepLoop periodically drops connections that have gone silent.
func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep finds connections idle past the timeout and unregisters them. The
// heartbeat runs every 30 seconds, so five minutes of silence means the
// socket is dead even if TCP has not noticed.
func (h *Hub) sweep() {
	const timeout = 5 * time.Minute
	now := time.Now()

	h.mu.RLock()
	var stale []*Client
	for _, rm := range h.rooms {
		for c := range rm.clients {
			if now.Sub(c.lastActive()) > timeout {
				stale = append(stale, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		log.Printf("  Sweeping inactive session %s", c.ID)
		select {
		case h.unregister <- c:
		case <-h.done:
			return
		}
	}
}

// Shutdown stops the loop and drops every connection without signaling a
// normal closure: clients treat the drop as transient and retry, which is
// exactly right for a relay restart.
func (h *Hub) Shutdown() {
	log.Println("🛑 Shutting down collaboration hub...")

	close(h.done)
	<-h.stopped

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, rm := range h.rooms {
		for c := range rm.clients {
			c.sendClosed = true
			close(c.Send)
			c.Conn.Close()
		}
	}
	h.rooms = make(map[string]*room)

	log.Println("✓ Collaboration hub shutdown complete")
}

func snapshotOf(rm *room) protocol.SnapshotPayload {
	return protocol.SnapshotPayload{Text: rm.text, Version: rm.version}
}

func cursorsOf(rm *room) map[string]int {
	out := make(map[string]int, len(rm.cursors))
	for user, focus := range rm.cursors {
		out[user] = focus
	}
	return out
}
