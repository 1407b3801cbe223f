package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "draftsync/docstore"

// PersistenceError is a failed document-store call: transport fault, decode
// fault, or a non-2xx answer (StatusCode set).
type PersistenceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("docstore: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("docstore: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Client talks to the document REST API: auth, documents CRUD, and the
// writing-assist endpoints. It satisfies the sync engine's DocumentStore
// with UpdateDocument.
type Client struct {
	BaseURL string
	Token   string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

type DocumentPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Format    string    `json:"format,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DocumentCreateRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content,omitempty"`
	IsPublic bool   `json:"is_public"`
}

type aiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// Login exchanges credentials for a bearer token (form-encoded, OAuth2
// password flow) and keeps the access token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/v1/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &PersistenceError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out TokenResponse
	if err := c.do(ctx, "login", req, &out); err != nil {
		return nil, err
	}
	c.Token = out.AccessToken
	return &out, nil
}

// ListDocuments returns the documents visible to the authenticated user.
func (c *Client) ListDocuments(ctx context.Context) ([]DocumentPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/documents/", nil)
	if err != nil {
		return nil, &PersistenceError{Op: "list documents", Err: err}
	}

	var out struct {
		Documents []DocumentPayload `json:"documents"`
	}
	if err := c.do(ctx, "list documents", req, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// GetDocument fetches one document by id.
func (c *Client) GetDocument(ctx context.Context, id string) (*DocumentPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.documentURL(id), nil)
	if err != nil {
		return nil, &PersistenceError{Op: "get document", Err: err}
	}

	var out DocumentPayload
	if err := c.do(ctx, "get document", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDocument makes a new document and returns it with its assigned id.
func (c *Client) CreateDocument(ctx context.Context, create DocumentCreateRequest) (*DocumentPayload, error) {
	body, err := json.Marshal(create)
	if err != nil {
		return nil, &PersistenceError{Op: "create document", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/v1/documents/", bytes.NewReader(body))
	if err != nil {
		return nil, &PersistenceError{Op: "create document", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var out DocumentPayload
	if err := c.do(ctx, "create document", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDocument replaces a document's content. This is the debounced-save
// write path; callers treat failures as fire-and-forget.
func (c *Client) UpdateDocument(ctx context.Context, id, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return &PersistenceError{Op: "update document", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.documentURL(id), bytes.NewReader(body))
	if err != nil {
		return &PersistenceError{Op: "update document", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(ctx, "update document", req, nil)
}

// DeleteDocument soft-deletes a document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.documentURL(id), nil)
	if err != nil {
		return &PersistenceError{Op: "delete document", Err: err}
	}
	return c.do(ctx, "delete document", req, nil)
}

// CheckGrammar runs the assist service's grammar pass over text.
func (c *Client) CheckGrammar(ctx context.Context, text string) (json.RawMessage, error) {
	return c.assist(ctx, "grammar", map[string]any{"text": text})
}

// Paraphrase asks for up to alternatives rewrites of text.
func (c *Client) Paraphrase(ctx context.Context, text string, alternatives int) (json.RawMessage, error) {
	return c.assist(ctx, "paraphrase", map[string]any{"text": text, "num_alternatives": alternatives})
}

// Summarize produces a summary, optionally with a headline.
func (c *Client) Summarize(ctx context.Context, text string, includeHeadline bool) (json.RawMessage, error) {
	return c.assist(ctx, "summarize", map[string]any{"text": text, "include_headline": includeHeadline})
}

// Suggest bundles grammar and style suggestions in a single pass.
func (c *Client) Suggest(ctx context.Context, text string) (json.RawMessage, error) {
	return c.assist(ctx, "suggest", map[string]any{"text": text})
}

func (c *Client) assist(ctx context.Context, endpoint string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &PersistenceError{Op: endpoint, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/v1/ai/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &PersistenceError{Op: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var out aiResponse
	if err := c.do(ctx, endpoint, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &PersistenceError{Op: endpoint, Err: fmt.Errorf("assist service reported failure")}
	}
	return out.Data, nil
}

func (c *Client) documentURL(id string) string {
	return c.BaseURL + "/api/v1/documents/" + url.PathEscape(id)
}

// do sends one request with the bearer token attached, decodes a 2xx JSON
// answer into out, and wraps everything else in a PersistenceError.
func (c *Client) do(ctx context.Context, op string, req *http.Request, out any) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "docstore."+op)
	defer span.End()
	req = req.WithContext(ctx)

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return &PersistenceError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := &PersistenceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		}
		span.RecordError(err)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return &PersistenceError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
