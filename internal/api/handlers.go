package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"draftsync/internal/config"
	"draftsync/internal/models"
	"draftsync/internal/repository"
	"draftsync/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests. Dependencies arrive as the interfaces
// declared in this package.
type Handler struct {
	docRepo   DocumentRepository
	hub       CollabStats
	wsHandler *collaboration.WebSocketHandler
	auth      Authenticator
}

func NewHandler(
	docRepo DocumentRepository,
	hub CollabStats,
	wsHandler *collaboration.WebSocketHandler,
	auth Authenticator,
) *Handler {
	return &Handler{
		docRepo:   docRepo,
		hub:       hub,
		wsHandler: wsHandler,
		auth:      auth,
	}
}

// Auth handlers

// tokenResponse mirrors the OAuth2 password-flow reply shape. The dev
// relay hands the configured opaque token back as both tokens.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Login exchanges form-encoded credentials for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed form body")
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, ok := h.auth.UserForCredentials(username, password)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  user.Token,
		RefreshToken: user.Token,
		TokenType:    "bearer",
	})
}

// requireUser authenticates the request's bearer token. On failure it has
// already written the 401.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (config.DevUser, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		writeDetail(w, http.StatusUnauthorized, "not authenticated")
		return config.DevUser{}, false
	}

	user, ok := h.auth.UserForToken(token)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "invalid token")
		return config.DevUser{}, false
	}
	return user, true
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var doc models.DocumentCreate
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	// The creator owns the document regardless of what the body says.
	doc.OwnerID = user.Username

	created, err := h.docRepo.Create(r.Context(), &doc)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	documents, err := h.docRepo.List(r.Context(), limit, offset)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if documents == nil {
		documents = []*models.Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"documents": documents,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	id := mux.Vars(r)["id"]

	doc, err := h.docRepo.GetByID(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeDetail(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	id := mux.Vars(r)["id"]

	var update models.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.docRepo.Update(r.Context(), id, &update)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeDetail(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	id := mux.Vars(r)["id"]

	var err error
	if r.URL.Query().Get("hard") == "true" {
		err = h.docRepo.HardDelete(r.Context(), id)
	} else {
		err = h.docRepo.Delete(r.Context(), id)
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeDetail(w, status, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Presence handler

// GetPresence reports the live connections in a document's room.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	id := mux.Vars(r)["id"]
	sessions := h.hub.Sessions(id)
	if sessions == nil {
		sessions = []models.Session{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"sessions":    sessions,
		"count":       len(sessions),
	})
}

// Health handler

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rooms, clients := h.hub.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"rooms":       rooms,
		"connections": clients,
	})
}

// writeDetail emits the {"detail": ...} error shape the REST clients
// expect.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
