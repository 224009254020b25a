// Package pgcatalog stores the attachment catalog and deal registry in
// PostgreSQL through gorm. It is selected with catalog.driver = "postgres".
package pgcatalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dealfiles/internal/models"
	"dealfiles/internal/store"
)

type attachmentRow struct {
	ID                 string    `gorm:"primaryKey"`
	Seq                int64     `gorm:"autoIncrement;not null;<-:false"`
	DealID             string    `gorm:"not null;index:idx_attachments_deal_created,priority:1"`
	FileName           string    `gorm:"not null"`
	ContentType        string    `gorm:"not null"`
	FileSizeBytes      int64     `gorm:"not null"`
	StorageKey         string    `gorm:"not null;uniqueIndex"`
	SHA256             *string   `gorm:"column:sha256"`
	CreatedAt          time.Time `gorm:"not null;index:idx_attachments_deal_created,priority:2"`
	ParentAttachmentID *string   `gorm:"index"`
	VersionNumber      int       `gorm:"not null;default:1"`
}

func (attachmentRow) TableName() string { return "attachments" }

type dealRow struct {
	ID        string `gorm:"primaryKey"`
	Name      *string
	CreatedAt time.Time `gorm:"not null"`
}

func (dealRow) TableName() string { return "deals" }

// Catalog is a gorm backed store.AttachmentCatalog and store.DealRegistry.
type Catalog struct {
	db *gorm.DB
}

var (
	_ store.AttachmentCatalog = (*Catalog)(nil)
	_ store.DealRegistry      = (*Catalog)(nil)
)

// Open connects to PostgreSQL and migrates the catalog tables.
func Open(dsn string) (*Catalog, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres catalog: %w", err)
	}
	if err := db.AutoMigrate(&dealRow{}, &attachmentRow{}); err != nil {
		return nil, fmt.Errorf("migrate postgres catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks connectivity.
func (c *Catalog) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InsertAttachment inserts one attachment row.
func (c *Catalog) InsertAttachment(ctx context.Context, attachment *models.Attachment) error {
	if attachment == nil {
		return fmt.Errorf("attachment is required")
	}
	if strings.TrimSpace(attachment.ID) == "" || strings.TrimSpace(attachment.StorageKey) == "" {
		return fmt.Errorf("attachment id and storage key are required")
	}
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now()
	}
	// timestamptz keeps microseconds; trim here so the caller's copy matches what is read back.
	attachment.CreatedAt = attachment.CreatedAt.UTC().Truncate(time.Microsecond)
	if attachment.VersionNumber < 1 {
		attachment.VersionNumber = 1
	}

	row := toAttachmentRow(attachment)
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err, "attachment "+attachment.ID)
	}
	return nil
}

// GetAttachment returns one attachment by id.
func (c *Catalog) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	var row attachmentRow
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err, "attachment "+id)
	}
	return fromAttachmentRow(row), nil
}

// ListAttachmentsByDeal lists attachments for a deal in creation order.
func (c *Catalog) ListAttachmentsByDeal(ctx context.Context, dealID string) ([]models.Attachment, error) {
	var rows []attachmentRow
	err := c.db.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	attachments := make([]models.Attachment, 0, len(rows))
	for _, row := range rows {
		attachments = append(attachments, *fromAttachmentRow(row))
	}
	return attachments, nil
}

// UpdateAttachmentFileName changes the display name and returns the updated row.
func (c *Catalog) UpdateAttachmentFileName(ctx context.Context, id, fileName string) (*models.Attachment, error) {
	var updated attachmentRow
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&attachmentRow{}).Where("id = ?", id).Update("file_name", fileName)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", id).Take(&updated).Error
	})
	if err != nil {
		return nil, translate(err, "attachment "+id)
	}
	return fromAttachmentRow(updated), nil
}

// DeleteAttachment removes one attachment row. Its blob is left to the caller.
func (c *Catalog) DeleteAttachment(ctx context.Context, id string) error {
	res := c.db.WithContext(ctx).Where("id = ?", id).Delete(&attachmentRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: attachment %s", store.ErrNotFound, id)
	}
	return nil
}

// ListStorageKeys returns every storage key referenced by a catalog row.
func (c *Catalog) ListStorageKeys(ctx context.Context) (map[string]struct{}, error) {
	var keys []string
	if err := c.db.WithContext(ctx).Model(&attachmentRow{}).Pluck("storage_key", &keys).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		out[key] = struct{}{}
	}
	return out, nil
}

// DealExists checks whether a deal exists by id.
func (c *Catalog) DealExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := c.db.WithContext(ctx).Model(&dealRow{}).Where("id = ?", id).Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateDeal registers one deal.
func (c *Catalog) CreateDeal(ctx context.Context, deal *models.Deal) error {
	if deal == nil {
		return fmt.Errorf("deal is required")
	}
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = time.Now()
	}
	deal.CreatedAt = deal.CreatedAt.UTC().Truncate(time.Microsecond)
	row := dealRow{ID: deal.ID, Name: optional(deal.Name), CreatedAt: deal.CreatedAt}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err, "deal "+deal.ID)
	}
	return nil
}

// GetDeal returns one deal by id.
func (c *Catalog) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	var row dealRow
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err, "deal "+id)
	}
	deal := fromDealRow(row)
	return &deal, nil
}

// ListDeals lists all deals ordered by id.
func (c *Catalog) ListDeals(ctx context.Context) ([]models.Deal, error) {
	var rows []dealRow
	if err := c.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	deals := make([]models.Deal, 0, len(rows))
	for _, row := range rows {
		deals = append(deals, fromDealRow(row))
	}
	return deals, nil
}

func translate(err error, what string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", store.ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s: %v", store.ErrConflict, what, err)
	default:
		return err
	}
}

func toAttachmentRow(a *models.Attachment) attachmentRow {
	return attachmentRow{
		ID:                 a.ID,
		DealID:             a.DealID,
		FileName:           a.FileName,
		ContentType:        a.ContentType,
		FileSizeBytes:      a.FileSizeBytes,
		StorageKey:         a.StorageKey,
		SHA256:             optional(a.SHA256),
		CreatedAt:          a.CreatedAt.UTC().Truncate(time.Microsecond),
		ParentAttachmentID: optional(a.ParentAttachmentID),
		VersionNumber:      a.VersionNumber,
	}
}

func fromAttachmentRow(row attachmentRow) *models.Attachment {
	return &models.Attachment{
		ID:                 row.ID,
		DealID:             row.DealID,
		FileName:           row.FileName,
		ContentType:        row.ContentType,
		FileSizeBytes:      row.FileSizeBytes,
		StorageKey:         row.StorageKey,
		SHA256:             deref(row.SHA256),
		CreatedAt:          row.CreatedAt.UTC(),
		ParentAttachmentID: deref(row.ParentAttachmentID),
		VersionNumber:      row.VersionNumber,
	}
}

func fromDealRow(row dealRow) models.Deal {
	return models.Deal{ID: row.ID, Name: deref(row.Name), CreatedAt: row.CreatedAt.UTC()}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
