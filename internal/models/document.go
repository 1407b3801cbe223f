package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type DocumentFormat string

const (
	FormatMarkdown DocumentFormat = "markdown"
	FormatText     DocumentFormat = "text"
)

// Document is a stored document as the relay persists it. Content is the
// flattened text; per-character provenance lives in the update log, not
// here. KSUID primary keys are time-ordered, so "ORDER BY id" is creation
// order without a created_at index.
type Document struct {
	ID        string         `json:"id" gorm:"type:char(27);primaryKey"`
	Title     string         `json:"title" gorm:"type:text;not null"`
	Content   string         `json:"content" gorm:"type:text;not null;default:''"`
	Format    DocumentFormat `json:"format" gorm:"type:varchar(50);not null;default:'markdown'"`
	OwnerID   string         `json:"owner_id" gorm:"type:varchar(64);index"`
	IsPublic  bool           `json:"is_public" gorm:"not null;default:false"`
	Metadata  map[string]any `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"` // Soft delete support
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}

// AccessibleBy reports whether a user may open the document: public
// documents are open to everyone, private ones to their owner only. The
// dev relay has no collaborator table.
func (d *Document) AccessibleBy(userID string) bool {
	return d.IsPublic || d.OwnerID == "" || d.OwnerID == userID
}

type DocumentCreate struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Format   DocumentFormat `json:"format"`
	OwnerID  string         `json:"owner_id"`
	IsPublic bool           `json:"is_public"`
	Metadata map[string]any `json:"metadata"`
}

type DocumentUpdate struct {
	Title    *string         `json:"title,omitempty"`
	Content  *string         `json:"content,omitempty"`
	Format   *DocumentFormat `json:"format,omitempty"`
	IsPublic *bool           `json:"is_public,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}
