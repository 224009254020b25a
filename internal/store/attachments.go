package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealfiles/internal/models"
)

const attachmentColumns = "id, deal_id, file_name, content_type, file_size_bytes, storage_key, sha256, created_at, parent_attachment_id, version_number"

// InsertAttachment inserts one attachment row.
func (s *Store) InsertAttachment(ctx context.Context, attachment *models.Attachment) error {
	if attachment == nil {
		return fmt.Errorf("attachment is required")
	}
	if err := validateAttachmentRow(attachment); err != nil {
		return err
	}
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now().UTC()
	}
	if attachment.VersionNumber < 1 {
		attachment.VersionNumber = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (`+attachmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		attachment.ID,
		attachment.DealID,
		attachment.FileName,
		attachment.ContentType,
		attachment.FileSizeBytes,
		attachment.StorageKey,
		nullIfEmpty(attachment.SHA256),
		formatTime(attachment.CreatedAt),
		nullIfEmpty(attachment.ParentAttachmentID),
		attachment.VersionNumber,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("%w: attachment %s: %v", ErrConflict, attachment.ID, err)
		}
		return err
	}
	return nil
}

// GetAttachment returns one attachment by id.
func (s *Store) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id)
	attachment, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, id)
		}
		return nil, err
	}
	return attachment, nil
}

// ListAttachmentsByDeal lists attachments for a deal in creation order.
func (s *Store) ListAttachmentsByDeal(ctx context.Context, dealID string) ([]models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE deal_id = ? ORDER BY created_at ASC, rowid ASC`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := []models.Attachment{}
	for rows.Next() {
		attachment, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, *attachment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attachments, nil
}

// UpdateAttachmentFileName changes the display name and returns the updated row.
func (s *Store) UpdateAttachmentFileName(ctx context.Context, id, fileName string) (_ *models.Attachment, err error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("file name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, "UPDATE attachments SET file_name = ? WHERE id = ?", fileName, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		err = fmt.Errorf("%w: attachment %s", ErrNotFound, id)
		return nil, err
	}

	updated, err := scanAttachment(tx.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteAttachment deletes one attachment row. Rows that reference it as
// parent are left untouched.
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM attachments WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: attachment %s", ErrNotFound, id)
	}
	return nil
}

// ListStorageKeys returns every storage key referenced by a catalog row.
func (s *Store) ListStorageKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT storage_key FROM attachments")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := map[string]struct{}{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

func validateAttachmentRow(attachment *models.Attachment) error {
	switch {
	case strings.TrimSpace(attachment.ID) == "":
		return fmt.Errorf("attachment id is required")
	case strings.TrimSpace(attachment.DealID) == "":
		return fmt.Errorf("deal id is required")
	case strings.TrimSpace(attachment.FileName) == "":
		return fmt.Errorf("file name is required")
	case strings.TrimSpace(attachment.StorageKey) == "":
		return fmt.Errorf("storage key is required")
	case attachment.FileSizeBytes < 0:
		return fmt.Errorf("file size must be >= 0")
	}
	return nil
}

func scanAttachment(scanner interface {
	Scan(dest ...any) error
}) (*models.Attachment, error) {
	attachment := models.Attachment{}
	var sha, parentID sql.NullString
	var createdAt string

	err := scanner.Scan(
		&attachment.ID,
		&attachment.DealID,
		&attachment.FileName,
		&attachment.ContentType,
		&attachment.FileSizeBytes,
		&attachment.StorageKey,
		&sha,
		&createdAt,
		&parentID,
		&attachment.VersionNumber,
	)
	if err != nil {
		return nil, err
	}

	parsedCreated, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	attachment.CreatedAt = parsedCreated
	attachment.SHA256 = sha.String
	attachment.ParentAttachmentID = parentID.String

	return &attachment, nil
}
