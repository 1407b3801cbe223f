package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"draftsync/internal/models"

	"github.com/segmentio/ksuid"
)

// MemoryDocumentRepository is a map-backed stand-in for the GORM repository,
// used when the relay runs without a database and by handler tests. Deletes
// are final here; the in-memory tier has no soft-delete trash can.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*models.Document
	seq  map[string]uint64
	next uint64
}

// NewMemoryDocumentRepository creates an empty in-memory document store.
func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		docs: make(map[string]*models.Document),
		seq:  make(map[string]uint64),
	}
}

func (r *MemoryDocumentRepository) Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error) {
	format := doc.Format
	if format == "" {
		format = models.FormatMarkdown
	}

	now := time.Now()
	document := &models.Document{
		ID:        ksuid.New().String(),
		Title:     doc.Title,
		Content:   doc.Content,
		Format:    format,
		OwnerID:   doc.OwnerID,
		IsPublic:  doc.IsPublic,
		Metadata:  doc.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.next++
	r.docs[document.ID] = document
	r.seq[document.ID] = r.next
	r.mu.Unlock()

	return copyDocument(document), nil
}

func (r *MemoryDocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyDocument(doc), nil
}

func (r *MemoryDocumentRepository) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		all = append(all, doc)
	}

	// Newest first. KSUIDs only order across seconds, so an insertion counter
	// stands in for the id DESC ordering the GORM repository relies on.
	sort.Slice(all, func(i, j int) bool { return r.seq[all[i].ID] > r.seq[all[j].ID] })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]*models.Document, len(all))
	for i, doc := range all {
		out[i] = copyDocument(doc)
	}
	return out, nil
}

func (r *MemoryDocumentRepository) Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if update.Title != nil {
		doc.Title = *update.Title
	}
	if update.Content != nil {
		doc.Content = *update.Content
	}
	if update.Format != nil {
		doc.Format = *update.Format
	}
	if update.IsPublic != nil {
		doc.IsPublic = *update.IsPublic
	}
	if update.Metadata != nil {
		doc.Metadata = update.Metadata
	}
	doc.UpdatedAt = time.Now()

	return copyDocument(doc), nil
}

func (r *MemoryDocumentRepository) UpdateContent(ctx context.Context, id string, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryDocumentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.docs, id)
	delete(r.seq, id)
	return nil
}

func (r *MemoryDocumentRepository) HardDelete(ctx context.Context, id string) error {
	return r.Delete(ctx, id)
}

func copyDocument(doc *models.Document) *models.Document {
	out := *doc
	if doc.Metadata != nil {
		out.Metadata = make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// MemoryUpdateRepository is the in-memory counterpart of the update log.
type MemoryUpdateRepository struct {
	mu   sync.Mutex
	logs map[string][]*models.UpdateRecord
}

// NewMemoryUpdateRepository creates an empty in-memory update log.
func NewMemoryUpdateRepository() *MemoryUpdateRepository {
	return &MemoryUpdateRepository{logs: make(map[string][]*models.UpdateRecord)}
}

func (r *MemoryUpdateRepository) Append(ctx context.Context, documentID, userID string, payload []byte, version int64) error {
	rec := &models.UpdateRecord{
		ID:         ksuid.New().String(),
		DocumentID: documentID,
		UserID:     userID,
		Payload:    append([]byte(nil), payload...),
		Version:    version,
		CreatedAt:  time.Now(),
	}

	r.mu.Lock()
	r.logs[documentID] = append(r.logs[documentID], rec)
	r.mu.Unlock()
	return nil
}

func (r *MemoryUpdateRepository) History(ctx context.Context, documentID string) ([]*models.UpdateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.UpdateRecord(nil), r.logs[documentID]...), nil
}

func (r *MemoryUpdateRepository) Since(ctx context.Context, documentID, afterID string) ([]*models.UpdateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.logs[documentID]
	for i, rec := range log {
		if rec.ID == afterID {
			return append([]*models.UpdateRecord(nil), log[i+1:]...), nil
		}
	}
	return nil, fmt.Errorf("failed to find reference update: %s", afterID)
}

func (r *MemoryUpdateRepository) Latest(ctx context.Context, documentID string) (*models.UpdateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.logs[documentID]
	if len(log) == 0 {
		return nil, nil
	}
	return log[len(log)-1], nil
}

func (r *MemoryUpdateRepository) Trim(ctx context.Context, documentID string, keepCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.logs[documentID]
	if len(log) <= keepCount {
		return nil
	}
	r.logs[documentID] = append([]*models.UpdateRecord(nil), log[len(log)-keepCount:]...)
	return nil
}
