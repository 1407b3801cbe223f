package repository

import (
	"context"
	"errors"
	"fmt"

	"draftsync/internal/models"

	"gorm.io/gorm"
)

// UpdateRepositoryImpl stores the relay's append-only update log.
//
// Query patterns:
//   - History: full log for audit or replay
//   - Since: incremental catch-up for a reconnecting client
//   - Latest: newest accepted update, for version handshakes
//   - Trim: bound growth, the flattened content is authoritative anyway
type UpdateRepositoryImpl struct {
	db *gorm.DB
}

// NewUpdateRepository creates a new update log repository
func NewUpdateRepository(db *gorm.DB) *UpdateRepositoryImpl {
	return &UpdateRepositoryImpl{db: db}
}

// Append records one accepted update.
func (r *UpdateRepositoryImpl) Append(ctx context.Context, documentID, userID string, payload []byte, version int64) error {
	rec := &models.UpdateRecord{
		DocumentID: documentID,
		UserID:     userID,
		Payload:    payload,
		Version:    version,
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append update: %w", err)
	}

	return nil
}

// History retrieves the full update log for a document, oldest first.
func (r *UpdateRepositoryImpl) History(ctx context.Context, documentID string) ([]*models.UpdateRecord, error) {
	var updates []*models.UpdateRecord

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&updates).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get update history: %w", err)
	}

	return updates, nil
}

// Since retrieves updates recorded after the named one, oldest first. The
// reference row's timestamp anchors the query so the caller does not have to
// know anything about ids versus clocks.
func (r *UpdateRepositoryImpl) Since(ctx context.Context, documentID, afterID string) ([]*models.UpdateRecord, error) {
	var after models.UpdateRecord
	if err := r.db.WithContext(ctx).First(&after, "id = ?", afterID).Error; err != nil {
		return nil, fmt.Errorf("failed to find reference update: %w", err)
	}

	var updates []*models.UpdateRecord
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND created_at > ?", documentID, after.CreatedAt).
		Order("created_at ASC").
		Find(&updates).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get updates since %s: %w", afterID, err)
	}

	return updates, nil
}

// Latest returns the most recent update for a document, or nil when the log
// is empty.
func (r *UpdateRepositoryImpl) Latest(ctx context.Context, documentID string) (*models.UpdateRecord, error) {
	var rec models.UpdateRecord

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		First(&rec).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest update: %w", err)
	}

	return &rec, nil
}

// Trim drops all but the newest keepCount updates for a document. Called
// periodically from the persistence workers to keep the log bounded.
func (r *UpdateRepositoryImpl) Trim(ctx context.Context, documentID string, keepCount int) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UpdateRecord{}).
		Where("document_id = ?", documentID).
		Count(&count).Error; err != nil {
		return err
	}

	if count <= int64(keepCount) {
		return nil
	}

	// Find the oldest row that survives, then delete everything before it.
	var cutoff models.UpdateRecord
	offset := count - int64(keepCount)
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Offset(int(offset)).
		First(&cutoff).Error; err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Where("document_id = ? AND created_at < ?", documentID, cutoff.CreatedAt).
		Delete(&models.UpdateRecord{})

	if result.Error != nil {
		return fmt.Errorf("failed to trim update log: %w", result.Error)
	}

	return nil
}
