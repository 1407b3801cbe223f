package client

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"draftsync/internal/models"
	"draftsync/internal/protocol"
	"draftsync/internal/surface"
)

// Default session timings. The reconnect delay is fixed and unconditional:
// no backoff, no jitter, no cap.
const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultSaveDebounce      = 2 * time.Second
	defaultCursorDebounce    = 50 * time.Millisecond
	defaultAwayThreshold     = 30 * time.Second

	saveTimeout = 10 * time.Second

	opQueueSize      = 1024
	inboundQueueSize = 64
)

// Scheduler task names. One name per concern; re-scheduling a name re-arms
// it, which is what gives the save and cursor tasks debounce semantics.
const (
	taskHeartbeat = "heartbeat"
	taskReconnect = "reconnect"
	taskSave      = "save"
	taskCursor    = "cursor"
)

// wsConn is the slice of *websocket.Conn the session uses. Tests substitute
// a scripted implementation.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the document socket.
type Dialer func(socketURL string) (wsConn, error)

func defaultDialer(socketURL string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SessionConfig wires a session to a relay and a document. Zero durations
// take the defaults above. Callbacks run on the session's event loop and
// must not block.
type SessionConfig struct {
	RelayURL   string
	DocumentID string
	UserID     string
	Username   string
	Token      string
	Color      string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	SaveDebounce      time.Duration
	CursorDebounce    time.Duration
	AwayThreshold     time.Duration

	Layout LayoutConfig

	// Dial overrides the socket dialer.
	Dial Dialer

	OnStateChange func(from, to SessionState)
	OnError       func(error)
	OnOverlay     func([]CursorOverlay)
}

func withDefaults(cfg SessionConfig) SessionConfig {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = defaultSaveDebounce
	}
	if cfg.CursorDebounce <= 0 {
		cfg.CursorDebounce = defaultCursorDebounce
	}
	if cfg.AwayThreshold <= 0 {
		cfg.AwayThreshold = defaultAwayThreshold
	}
	if cfg.Color == "" {
		cfg.Color = colorForUser(cfg.UserID)
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDialer
	}
	return cfg
}

// inboundFrame is one socket read, stamped with the connection generation
// that produced it so frames from a torn-down socket are discarded.
type inboundFrame struct {
	gen  uint64
	data []byte
	err  error
}

// Session is one live attachment of a local buffer to a shared document. It
// owns the socket, the sync engine, presence, cursor layout, and every
// timer, and runs them all from a single event loop goroutine.
//
// All mutable session state is confined to that goroutine. Socket reads,
// timer fires, and buffer listener callbacks are posted onto the loop as
// closures. Public methods are safe to call from any goroutine.
type Session struct {
	cfg      SessionConfig
	identity models.Identity

	buffer   *surface.Buffer
	engine   *Engine
	detector *ChangeDetector
	presence *PresenceTracker
	mapper   *Mapper
	sched    *Scheduler

	ops     chan func()
	inbound chan inboundFrame
	stop    chan struct{}
	done    chan struct{}

	// Owned by the event loop goroutine.
	state      SessionState
	conn       wsConn
	gen        uint64
	connecting bool

	stateMirror atomic.Int32
	started     atomic.Bool
	startOnce   sync.Once
	stopOnce    sync.Once
}

func NewSession(cfg SessionConfig, buffer *surface.Buffer, store DocumentStore) *Session {
	cfg = withDefaults(cfg)
	identity := models.NewIdentity(cfg.UserID)

	s := &Session{
		cfg:      cfg,
		identity: identity,
		buffer:   buffer,
		engine:   NewEngine(buffer, store, cfg.DocumentID, cfg.UserID),
		detector: NewChangeDetector(),
		presence: NewPresenceTracker(identity, cfg.Username, cfg.Color, cfg.AwayThreshold),
		mapper:   NewMapper(cfg.Layout),
		ops:      make(chan func(), opQueueSize),
		inbound:  make(chan inboundFrame, inboundQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.sched = NewScheduler(s.post)
	s.detector.SetBaseline(buffer.Text())
	s.mapper.Reflow(buffer.Text())

	buffer.OnChange(func(ch surface.Change) {
		s.post(func() { s.handleChange(ch) })
	})
	buffer.OnSelection(func(anchor, focus int) {
		s.post(func() { s.handleSelection(anchor, focus) })
	})
	return s
}

// Start launches the event loop and the first connection attempt. Calling
// it again is a no-op.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop()
		s.post(s.connect)
	})
}

// Stop tears the session down and waits for the event loop to exit. Safe to
// call more than once; a session that never started returns immediately.
func (s *Session) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.stateMirror.Load())
}

// Peers returns a snapshot of tracked participants, taken on the event loop.
func (s *Session) Peers() []models.PresenceEntry {
	result := make(chan []models.PresenceEntry, 1)
	s.post(func() { result <- s.presence.Entries() })
	select {
	case entries := <-result:
		return entries
	case <-s.done:
		return nil
	}
}

// RequestSync asks the relay to re-send the document snapshot. The reply is
// subject to the same one-shot guard as init, so it only has effect while
// this connection is still waiting for its first snapshot.
func (s *Session) RequestSync() {
	s.post(func() {
		s.sendMessage(protocol.NewSyncRequestMessage(s.cfg.DocumentID))
	})
}

// post hands fn to the event loop without ever blocking the caller. Events
// arriving after teardown, or into a full queue, are dropped.
func (s *Session) post(fn func()) {
	select {
	case <-s.done:
	case s.ops <- fn:
	default:
		log.Printf("session %s: event queue full, dropping event", s.cfg.DocumentID)
	}
}

func (s *Session) loop() {
	for s.state != StateClosed {
		select {
		case <-s.stop:
			s.teardown()
		case fn := <-s.ops:
			fn()
		case frame := <-s.inbound:
			s.handleFrame(frame)
		}
	}
	close(s.done)
}

// transition moves the state machine, refusing moves the table disallows.
// A same-state transition is a silent no-op.
func (s *Session) transition(next SessionState) bool {
	if s.state == next {
		return true
	}
	if !s.state.CanTransitionTo(next) {
		log.Printf("session %s: refusing transition %s -> %s", s.cfg.DocumentID, s.state, next)
		return false
	}
	from := s.state
	s.state = next
	s.stateMirror.Store(int32(next))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, next)
	}
	return true
}

// connect starts a dial unless one is already in flight. Runs on the loop.
func (s *Session) connect() {
	if s.connecting || s.state == StateClosed {
		return
	}
	if s.cfg.Token == "" {
		s.reportError(&AuthError{Reason: "no auth token configured"})
		return
	}
	if !s.transition(StateConnecting) {
		return
	}

	s.connecting = true
	gen := s.gen
	dial := s.cfg.Dial
	socketURL := s.socketURL()
	log.Printf("🔌 session %s: connecting", s.cfg.DocumentID)

	go func() {
		conn, err := dial(socketURL)
		s.post(func() { s.onDialResult(gen, conn, err) })
	}()
}

func (s *Session) onDialResult(gen uint64, conn wsConn, err error) {
	if gen != s.gen || s.state == StateClosed {
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.connecting = false

	if err != nil {
		log.Printf("session %s: dial failed: %v", s.cfg.DocumentID, err)
		s.reportError(&ConnectionError{Reason: "dial failed", Err: err})
		s.scheduleReconnect()
		return
	}

	s.conn = conn
	s.transition(StateSyncing)
	s.engine.ResetForConnection()
	s.startReader(conn, s.gen)

	s.sendMessage(protocol.NewPresenceMessage(protocol.KindPresenceJoin, s.cfg.UserID, s.cfg.DocumentID, protocol.PresenceData{
		Username:     s.cfg.Username,
		Color:        s.cfg.Color,
		ConnectionID: s.identity.SessionID,
		SessionID:    s.identity.SessionID,
	}))
	s.sched.Every(taskHeartbeat, s.cfg.HeartbeatInterval, s.heartbeat)
}

// startReader pumps frames from conn to the loop until the socket fails.
func (s *Session) startReader(conn wsConn, gen uint64) {
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			select {
			case s.inbound <- inboundFrame{gen: gen, data: data, err: err}:
			case <-s.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

func (s *Session) handleFrame(frame inboundFrame) {
	if frame.gen != s.gen {
		return
	}
	if frame.err != nil {
		s.handleDisconnect(frame.err)
		return
	}

	msg, err := protocol.Decode(frame.data)
	if err != nil {
		log.Printf("session %s: dropping frame: %v", s.cfg.DocumentID, err)
		return
	}
	s.dispatch(msg)
}

func (s *Session) dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.InitMessage:
		s.handleInit(m)
	case *protocol.UpdateMessage:
		s.engine.ApplyRemote(m)
	case *protocol.CursorMessage:
		if s.presence.ApplyCursor(m) {
			s.refreshOverlay()
		}
	case *protocol.PresenceMessage:
		s.presence.ApplyPresence(m)
		s.refreshOverlay()
	case *protocol.HeartbeatMessage:
		s.presence.ApplyHeartbeat(m)
	case *protocol.MembershipMessage:
		s.presence.ApplyMembership(m)
		s.refreshOverlay()
	case *protocol.ErrorMessage:
		log.Printf("session %s: server error: %s", s.cfg.DocumentID, m.Message)
	}
}

func (s *Session) handleInit(m *protocol.InitMessage) {
	if !s.engine.ApplyInit(m) {
		log.Printf("session %s: dropping duplicate snapshot", s.cfg.DocumentID)
		return
	}
	s.transition(StateLive)
	s.presence.ReplaceAll(m.Cursors)
	s.refreshOverlay()
	s.broadcastCursor()
	log.Printf("✓ session %s live: %d chars, %d peers", s.cfg.DocumentID, s.buffer.Len(), s.presence.Count())
}

// handleChange reacts to every buffer mutation: reflow and overlay refresh
// happen for both origins, broadcast and save only for genuine local edits.
func (s *Session) handleChange(ch surface.Change) {
	s.mapper.Reflow(ch.Text)
	s.refreshOverlay()

	if !s.detector.Observe(ch) {
		return
	}

	s.sched.Schedule(taskSave, s.cfg.SaveDebounce, s.saveNow)
	if s.state == StateLive {
		s.sendMessage(s.engine.LocalChange(ch.Text))
	}
}

func (s *Session) handleSelection(anchor, focus int) {
	s.presence.SetLocalSelection(anchor, focus)
	s.sched.Schedule(taskCursor, s.cfg.CursorDebounce, s.broadcastCursor)
}

func (s *Session) broadcastCursor() {
	if s.state != StateLive {
		return
	}
	s.sendMessage(protocol.NewCursorMessage(s.cfg.UserID, s.cfg.DocumentID, s.presence.LocalCursorData()))
}

func (s *Session) heartbeat() {
	s.sendMessage(protocol.NewHeartbeatMessage(s.cfg.UserID, s.cfg.DocumentID, time.Now().UnixMilli()))
}

// saveNow captures the text on the loop and persists it off-loop. A failed
// save is reported and dropped: no retry, no rollback.
func (s *Session) saveNow() {
	text := s.detector.LastText()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.engine.PersistText(ctx, text); err != nil {
			log.Printf("session %s: save failed: %v", s.cfg.DocumentID, err)
			s.post(func() { s.reportError(err) })
		}
	}()
}

// sendMessage writes one frame, failing fast. There is no outbound queue: a
// frame that cannot be sent now is dropped.
func (s *Session) sendMessage(msg protocol.Message) bool {
	if !s.state.CanSend() || s.conn == nil {
		return false
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("session %s: encode %s: %v", s.cfg.DocumentID, msg.Kind(), err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("session %s: write %s failed: %v", s.cfg.DocumentID, msg.Kind(), err)
		return false
	}
	return true
}

func (s *Session) handleDisconnect(err error) {
	code := closeCode(err)
	s.dropConnection()

	if isCleanClose(code) {
		log.Printf("session %s: server closed cleanly (%d)", s.cfg.DocumentID, code)
		s.teardown()
		return
	}

	s.reportError(classifyClose(code, err))
	s.scheduleReconnect()
}

// scheduleReconnect arms the fixed-delay retry. The reconnect task shares
// its name across arms, so overlapping failures collapse into one retry.
func (s *Session) scheduleReconnect() {
	if !s.transition(StateReconnecting) {
		return
	}
	log.Printf("session %s: reconnecting in %s", s.cfg.DocumentID, s.cfg.ReconnectDelay)
	s.sched.Schedule(taskReconnect, s.cfg.ReconnectDelay, s.connect)
}

// dropConnection closes the socket if open and bumps the generation so
// frames and dial results from the old connection are discarded.
func (s *Session) dropConnection() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.gen++
	s.sched.Cancel(taskHeartbeat)
}

// teardown is the single exit path: every timer cancelled, the socket
// closed with a normal-closure frame, the machine landed in Closed.
func (s *Session) teardown() {
	if s.state == StateClosed {
		return
	}
	s.sched.StopAll()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
	s.gen++
	s.transition(StateClosed)
	log.Printf("🛑 session %s closed", s.cfg.DocumentID)
}

func (s *Session) refreshOverlay() {
	if s.cfg.OnOverlay == nil {
		return
	}
	s.cfg.OnOverlay(s.mapper.BuildOverlay(s.presence.Entries()))
}

func (s *Session) reportError(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

// socketURL builds the document endpoint with the token as a query
// parameter, matching the relay's auth handshake.
func (s *Session) socketURL() string {
	base := strings.TrimRight(s.cfg.RelayURL, "/")
	return fmt.Sprintf("%s/ws/documents/%s?token=%s", base, s.cfg.DocumentID, url.QueryEscape(s.cfg.Token))
}

// closeCode extracts the websocket close code, or 0 for transport errors
// that carried no close frame.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

// colorForUser picks a stable palette color from the user id.
func colorForUser(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return cursorPalette[int(h.Sum32())%len(cursorPalette)]
}
