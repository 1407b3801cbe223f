package api

import (
	"context"

	"draftsync/internal/config"
	"draftsync/internal/models"
)

// Consumer-driven interfaces: this package is the consumer of the
// repository, hub and config, so the slices of them the handlers need are
// declared here. Implementations never see these types.

// DocumentRepository is what the HTTP handlers need from document storage.
// Both the GORM and the in-memory repository satisfy it.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, limit, offset int) ([]*models.Document, error)
	Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error)
	Delete(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
}

// CollabStats is the hub surface the handlers read for health and
// presence reporting.
type CollabStats interface {
	Stats() (rooms, clients int)
	Sessions(documentID string) []models.Session
}

// Authenticator resolves dev credentials and bearer tokens.
type Authenticator interface {
	UserForCredentials(username, password string) (config.DevUser, bool)
	UserForToken(token string) (config.DevUser, bool)
}
