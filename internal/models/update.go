package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// UpdateRecord is one accepted document update in the relay's append-only
// log. Payload is the raw update message content as received; keeping the
// provenance-tagged characters around leaves the door open for a real merge
// later without a schema change.
//
// Query patterns: full history for audit, updates-since for reconnecting
// clients, periodic trim to bound growth.
type UpdateRecord struct {
	ID         string    `gorm:"type:char(27);primaryKey" json:"id"`
	DocumentID string    `gorm:"type:char(27);not null;index:idx_doc_time" json:"document_id"`
	UserID     string    `gorm:"type:varchar(64);not null" json:"user_id"`
	Payload    []byte    `gorm:"type:bytea;not null" json:"-"`
	Version    int64     `gorm:"not null" json:"version"`
	CreatedAt  time.Time `gorm:"index:idx_doc_time" json:"created_at"`

	// Relationship
	Document *Document `gorm:"foreignKey:DocumentID;references:ID" json:"document,omitempty"`
}

// BeforeCreate generates KSUID
func (u *UpdateRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (UpdateRecord) TableName() string {
	return "update_records"
}
