package collaboration

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"draftsync/internal/middleware"
	"draftsync/internal/models"
	"draftsync/internal/protocol"
	"draftsync/internal/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins before exposing the relay beyond localhost
		return true
	},
}

// DocumentSource is what the handler needs from the document repository:
// enough to verify the document exists, check access, and seed a room.
type DocumentSource interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// UpdateHistory is the read side of the update log, used to resume the
// version counter when a room is recreated.
type UpdateHistory interface {
	Latest(ctx context.Context, documentID string) (*models.UpdateRecord, error)
}

// Authenticator resolves a bearer token to a user identity.
type Authenticator func(token string) (userID, username string, ok bool)

// WebSocketHandler accepts document sockets, authenticates them, and hands
// them to the hub.
type WebSocketHandler struct {
	hub     *Hub
	docs    DocumentSource
	updates UpdateHistory
	auth    Authenticator
}

// NewWebSocketHandler creates a handler. updates may be nil, in which case
// recreated rooms restart their version counter at zero.
func NewWebSocketHandler(hub *Hub, docs DocumentSource, updates UpdateHistory, auth Authenticator) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		docs:    docs,
		updates: updates,
		auth:    auth,
	}
}

// HandleDocumentConnection upgrades a socket for one document. Rejections
// happen after the upgrade so they can carry an application close code the
// client understands: 4001 missing auth, 4002 bad token, 4003 no access,
// 4004 unknown document.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	documentID := vars["id"]
	token := r.URL.Query().Get("token")

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	if token == "" {
		rejectSocket(conn, protocol.CloseAuthFailed, "authentication required")
		return
	}

	userID, username, ok := h.auth(token)
	if !ok {
		rejectSocket(conn, protocol.CloseInvalidToken, "invalid token")
		return
	}
	span.SetAttributes(attribute.String("user.id", userID))

	doc, err := h.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			rejectSocket(conn, protocol.CloseDocumentNotFound, "document not found")
		} else {
			middleware.AddSpanError(ctx, err)
			rejectSocket(conn, websocket.CloseInternalServerErr, "document lookup failed")
		}
		return
	}

	if !doc.AccessibleBy(userID) {
		rejectSocket(conn, protocol.CloseAccessDenied, "access denied")
		return
	}

	var seedVersion int64
	if h.updates != nil {
		if latest, err := h.updates.Latest(ctx, documentID); err == nil && latest != nil {
			seedVersion = latest.Version
		}
	}

	client := NewClient(h.hub, conn, documentID, userID, username, doc.Content, seedVersion)

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump(ctx)
	go client.ReadPump(ctx)

	log.Printf("✓ WebSocket connection established for document %s (user: %s, session: %s)",
		documentID, username, client.ID)
}

// rejectSocket sends an application close frame and drops the connection.
// The upgrade already succeeded, so this is the only way the code reaches
// the client.
func rejectSocket(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Printf("Failed to write close frame: %v", err)
	}
	conn.Close()
}
