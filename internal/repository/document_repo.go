package repository

import (
	"context"
	"errors"
	"fmt"

	"draftsync/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a document id resolves to nothing. Callers
// translate it to a 404 or a 4004 close code depending on the transport.
var ErrNotFound = errors.New("document not found")

// DocumentRepositoryImpl handles all database operations for documents using
// GORM. It is the implementation side of "accept interfaces, return structs":
// the api and collaboration packages each declare the slice of it they need.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts a new document. The KSUID is generated in the BeforeCreate
// hook, timestamps by GORM.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error) {
	format := doc.Format
	if format == "" {
		format = models.FormatMarkdown
	}

	document := &models.Document{
		Title:    doc.Title,
		Content:  doc.Content,
		Format:   format,
		OwnerID:  doc.OwnerID,
		IsPublic: doc.IsPublic,
		Metadata: doc.Metadata,
	}

	if err := r.db.WithContext(ctx).Create(document).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return document, nil
}

// GetByID retrieves a document by its KSUID. Soft-deleted documents are
// excluded automatically.
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// List returns documents newest-first with pagination. KSUIDs are
// time-ordered, so sorting by id is sorting by creation time.
func (r *DocumentRepositoryImpl) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&documents).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// Update modifies an existing document. Only the fields set in the update
// are touched; nil pointers leave the column alone.
func (r *DocumentRepositoryImpl) Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error) {
	var doc models.Document

	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	updates := make(map[string]interface{})
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Content != nil {
		updates["content"] = *update.Content
	}
	if update.Format != nil {
		updates["format"] = *update.Format
	}
	if update.IsPublic != nil {
		updates["is_public"] = *update.IsPublic
	}
	if update.Metadata != nil {
		updates["metadata"] = update.Metadata
	}

	if err := r.db.WithContext(ctx).Model(&doc).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	return &doc, nil
}

// UpdateContent overwrites just the content column. This is the hot path
// behind live editing, so it skips the read-modify-write the full Update
// does.
func (r *DocumentRepositoryImpl) UpdateContent(ctx context.Context, id string, content string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Update("content", content)

	if result.Error != nil {
		return fmt.Errorf("failed to update content: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// Delete performs a soft delete. GORM sets DeletedAt instead of removing the
// row, which keeps the update log's foreign keys intact.
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// HardDelete permanently removes a document, bypassing soft delete.
func (r *DocumentRepositoryImpl) HardDelete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Unscoped().Delete(&models.Document{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to hard delete document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}
