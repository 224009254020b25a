package store

import (
	"context"

	"dealfiles/internal/models"
)

// AttachmentCatalog is the metadata persistence surface for attachments.
// Implementations return ErrNotFound for missing rows and ErrConflict for
// duplicate ids or storage keys.
type AttachmentCatalog interface {
	InsertAttachment(ctx context.Context, attachment *models.Attachment) error
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	ListAttachmentsByDeal(ctx context.Context, dealID string) ([]models.Attachment, error)
	UpdateAttachmentFileName(ctx context.Context, id, fileName string) (*models.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
	ListStorageKeys(ctx context.Context) (map[string]struct{}, error)
}

// DealLookup answers whether a deal exists. Attachment uploads consult it
// before writing any bytes.
type DealLookup interface {
	DealExists(ctx context.Context, id string) (bool, error)
}

// DealRegistry manages the deal records attachments are filed under.
type DealRegistry interface {
	DealLookup
	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDeal(ctx context.Context, id string) (*models.Deal, error)
	ListDeals(ctx context.Context) ([]models.Deal, error)
}

var (
	_ AttachmentCatalog = (*Store)(nil)
	_ DealRegistry      = (*Store)(nil)
)
