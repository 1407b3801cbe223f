package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"draftsync/internal/config"
	"draftsync/internal/models"
	"draftsync/internal/protocol"
	"draftsync/internal/repository"
	"draftsync/internal/services/collaboration"

	"github.com/gorilla/websocket"
)

func newAPIServer(t *testing.T) (*httptest.Server, *repository.MemoryDocumentRepository) {
	t.Helper()

	docs := repository.NewMemoryDocumentRepository()
	hub := collaboration.NewHub()

	cfg := &config.Config{
		DevUsers: []config.DevUser{
			{Username: "dev", Password: "devpass", Token: "dev-token"},
		},
	}

	authFn := func(token string) (string, string, bool) {
		user, ok := cfg.UserForToken(token)
		if !ok {
			return "", "", false
		}
		return user.Username, user.Username, true
	}
	wsHandler := collaboration.NewWebSocketHandler(hub, docs, nil, authFn)

	handler := NewHandler(docs, hub, wsHandler, cfg)
	srv := httptest.NewServer(SetupRoutes(handler))
	t.Cleanup(srv.Close)

	// Shutdown runs before srv.Close so live sockets are dropped first.
	hub.Start()
	t.Cleanup(hub.Shutdown)

	return srv, docs
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	srv, _ := newAPIServer(t)

	form := url.Values{"username": {"dev"}, "password": {"devpass"}}
	resp, err := http.PostForm(srv.URL+"/api/v1/auth/login", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, resp, &tokens)
	if tokens.AccessToken != "dev-token" || tokens.TokenType != "bearer" {
		t.Fatalf("token response = %+v", tokens)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _ := newAPIServer(t)

	form := url.Values{"username": {"dev"}, "password": {"wrong"}}
	resp, err := http.PostForm(srv.URL+"/api/v1/auth/login", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var detail struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &detail)
	if detail.Detail == "" {
		t.Fatal("expected a detail message")
	}
}

func TestDocumentEndpointsRequireBearer(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/", "bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", resp.StatusCode)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	srv, _ := newAPIServer(t)
	base := srv.URL + "/api/v1/documents"

	resp := doJSON(t, http.MethodPost, base+"/", "dev-token", models.DocumentCreate{
		Title:   "draft one",
		Content: "first words",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created models.Document
	decodeBody(t, resp, &created)
	if created.OwnerID != "dev" {
		t.Fatalf("owner = %q", created.OwnerID)
	}
	if created.Format != models.FormatMarkdown {
		t.Fatalf("default format = %q", created.Format)
	}

	resp = doJSON(t, http.MethodGet, base+"/"+created.ID, "dev-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var fetched models.Document
	decodeBody(t, resp, &fetched)
	if fetched.Content != "first words" {
		t.Fatalf("content = %q", fetched.Content)
	}

	resp = doJSON(t, http.MethodGet, base, "dev-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var listing struct {
		Documents []models.Document `json:"documents"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Documents) != 1 {
		t.Fatalf("listed %d documents", len(listing.Documents))
	}

	title := "renamed draft"
	resp = doJSON(t, http.MethodPut, base+"/"+created.ID, "dev-token", models.DocumentUpdate{Title: &title})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	var updated models.Document
	decodeBody(t, resp, &updated)
	if updated.Title != "renamed draft" {
		t.Fatalf("title = %q", updated.Title)
	}

	resp = doJSON(t, http.MethodDelete, base+"/"+created.ID, "dev-token", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, base+"/"+created.ID, "dev-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("post-delete get status = %d", resp.StatusCode)
	}
}

func TestHealthReportsHubStats(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var health struct {
		Status      string `json:"status"`
		Rooms       int    `json:"rooms"`
		Connections int    `json:"connections"`
	}
	decodeBody(t, resp, &health)
	if health.Status != "ok" || health.Rooms != 0 || health.Connections != 0 {
		t.Fatalf("health = %+v", health)
	}
}

// The socket route shares the router with the tracing middleware, whose
// response wrapper has to pass the upgrade's hijack through. A dial against
// the bare handler would not cover that.
func TestWebSocketUpgradeThroughRouter(t *testing.T) {
	srv, docs := newAPIServer(t)

	doc, err := docs.Create(context.Background(), &models.DocumentCreate{Title: "shared", IsPublic: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/documents/" + doc.ID + "?token=dev-token"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial through router: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read init: %v", err)
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("decode init: %v", err)
	}
	if msg.Kind() != protocol.KindInit {
		t.Fatalf("first frame kind = %q", msg.Kind())
	}
}

func TestPresenceForIdleDocument(t *testing.T) {
	srv, docs := newAPIServer(t)

	doc, err := docs.Create(context.Background(), &models.DocumentCreate{Title: "quiet"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/"+doc.ID+"/presence", "dev-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var presence struct {
		Count    int               `json:"count"`
		Sessions []json.RawMessage `json:"sessions"`
	}
	decodeBody(t, resp, &presence)
	if presence.Count != 0 || len(presence.Sessions) != 0 {
		t.Fatalf("presence = %+v", presence)
	}
}
