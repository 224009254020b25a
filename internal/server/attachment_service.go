package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"dealfiles/internal/blobstore"
	"dealfiles/internal/models"
	"dealfiles/internal/store"
)

const (
	fallbackContentType = "application/octet-stream"
	sniffLength         = 512
)

var (
	// ErrInvalidDeal means the referenced deal does not exist.
	ErrInvalidDeal = errors.New("invalid deal")
	// ErrVersionMismatch means the parent attachment is missing or belongs to another deal.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrAttachmentNotFound means no catalog row exists for the attachment id.
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrBlobMissing means the catalog row exists but its bytes are gone.
	ErrBlobMissing = errors.New("blob missing")
)

// AttachmentService is the only component that correlates catalog rows with
// blob store keys.
type AttachmentService struct {
	catalog store.AttachmentCatalog
	deals   store.DealLookup
	blobs   blobstore.BlobStore
	logger  *slog.Logger
	now     func() time.Time
}

// UploadInput describes one upload. FileName is required; ContentType is
// sniffed from the content when empty.
type UploadInput struct {
	DealID             string
	FileName           string
	ContentType        string
	ParentAttachmentID string
}

// AttachmentContent is an open attachment stream with its response headers.
// Callers must close Reader.
type AttachmentContent struct {
	Reader      io.ReadCloser
	FileName    string
	ContentType string
	SizeBytes   int64
}

// VersionChain lists an attachment followed by its ancestors. RootLost is set
// when a parent reference no longer resolves.
type VersionChain struct {
	Versions []models.Attachment
	RootLost bool
}

// SweepResult reports one orphan blob sweep.
type SweepResult struct {
	ScannedCount   int
	OrphanCount    int
	DeletedCount   int
	FailedCount    int
	ReclaimedBytes int64
	DryRun         bool
	OrphanKeys     []string
}

// NewAttachmentService constructs an AttachmentService.
func NewAttachmentService(catalog store.AttachmentCatalog, deals store.DealLookup, blobs blobstore.BlobStore, logger *slog.Logger) *AttachmentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentService{
		catalog: catalog,
		deals:   deals,
		blobs:   blobs,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Upload writes the bytes first and inserts the catalog row only after the
// blob store accepted them.
func (s *AttachmentService) Upload(ctx context.Context, in UploadInput, content io.Reader) (models.Attachment, error) {
	var zero models.Attachment
	if err := s.ready(); err != nil {
		return zero, err
	}
	if content == nil {
		return zero, badRequestCode(fmt.Errorf("file is required"), ErrCodeMissingRequired)
	}

	dealID, err := models.ParseDealID(in.DealID)
	if err != nil {
		return zero, badRequestCode(fmt.Errorf("%w: %v", ErrInvalidDeal, err), ErrCodeInvalidDealID)
	}
	fileName, err := models.NormalizeFileName(in.FileName)
	if err != nil {
		return zero, badRequestCode(err, ErrCodeInvalidFileName)
	}
	contentType, err := normalizeContentType(in.ContentType)
	if err != nil {
		return zero, badRequestCode(err, ErrCodeInvalidMediaType)
	}

	exists, err := s.deals.DealExists(ctx, dealID)
	if err != nil {
		return zero, storeFailure(fmt.Errorf("lookup deal %s: %w", dealID, err))
	}
	if !exists {
		return zero, badRequestCode(fmt.Errorf("%w: deal %s not found", ErrInvalidDeal, dealID), ErrCodeDealNotFound)
	}

	versionNumber := 1
	parentID := ""
	if strings.TrimSpace(in.ParentAttachmentID) != "" {
		parent, err := s.resolveParent(ctx, dealID, in.ParentAttachmentID)
		if err != nil {
			return zero, err
		}
		parentID = parent.ID
		versionNumber = parent.NextVersionNumber()
	}

	body := content
	if contentType == "" {
		buffered := bufio.NewReaderSize(content, sniffLength)
		peek, _ := buffered.Peek(sniffLength)
		contentType = sniffContentType(peek)
		body = buffered
	}

	put, err := s.blobs.Put(ctx, body, dealID, fileName)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, blobFailure(fmt.Errorf("write blob: %w", err))
	}

	attachment := &models.Attachment{
		ID:                 store.GenerateAttachmentID(),
		DealID:             dealID,
		FileName:           fileName,
		ContentType:        contentType,
		FileSizeBytes:      put.SizeBytes,
		StorageKey:         put.StorageKey,
		SHA256:             put.SHA256,
		CreatedAt:          s.now(),
		ParentAttachmentID: parentID,
		VersionNumber:      versionNumber,
	}

	if err := ctx.Err(); err != nil {
		s.discardBlob(ctx, put.StorageKey, err)
		return zero, err
	}
	if err := s.catalog.InsertAttachment(ctx, attachment); err != nil {
		s.discardBlob(ctx, put.StorageKey, err)
		if errors.Is(err, store.ErrConflict) {
			return zero, conflictCode(fmt.Errorf("attachment already exists"), ErrCodeConflict)
		}
		return zero, storeFailure(fmt.Errorf("insert attachment: %w", err))
	}

	s.logger.Info("attachment uploaded",
		"attachment_id", attachment.ID,
		"deal_id", dealID,
		"version_number", versionNumber,
		"size_bytes", put.SizeBytes,
	)
	return *attachment, nil
}

// UploadNewVersion uploads content as the next version of parentID, filed
// under the parent's deal. An empty file name keeps the parent's name.
func (s *AttachmentService) UploadNewVersion(ctx context.Context, parentID string, in UploadInput, content io.Reader) (models.Attachment, error) {
	var zero models.Attachment
	if err := s.ready(); err != nil {
		return zero, err
	}
	id, err := store.ParseAttachmentID(parentID)
	if err != nil {
		return zero, badRequestCode(fmt.Errorf("%w: invalid parent attachment id", ErrVersionMismatch), ErrCodeVersionMismatch)
	}
	parent, err := s.catalog.GetAttachment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return zero, badRequestCode(fmt.Errorf("%w: parent attachment %s not found", ErrVersionMismatch, id), ErrCodeVersionMismatch)
		}
		return zero, storeFailure(err)
	}

	in.DealID = parent.DealID
	in.ParentAttachmentID = parent.ID
	if strings.TrimSpace(in.FileName) == "" {
		in.FileName = parent.FileName
	}
	return s.Upload(ctx, in, content)
}

// Download opens the bytes stored under the attachment's exact storage key.
func (s *AttachmentService) Download(ctx context.Context, id string) (*AttachmentContent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	attachment, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	exists, err := s.blobs.Exists(ctx, attachment.StorageKey)
	if err != nil {
		return nil, blobFailure(fmt.Errorf("check blob: %w", err))
	}
	if !exists {
		return nil, s.blobMissing(attachment)
	}

	reader, err := s.blobs.Open(ctx, attachment.StorageKey)
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			return nil, blobFailure(fmt.Errorf("open blob: %w", err))
		}
		// Lost a race with Delete when the row is gone too.
		if _, lookupErr := s.lookup(ctx, attachment.ID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, s.blobMissing(attachment)
	}

	return &AttachmentContent{
		Reader:      reader,
		FileName:    attachment.FileName,
		ContentType: attachment.ContentType,
		SizeBytes:   attachment.FileSizeBytes,
	}, nil
}

// List returns the deal's attachments in upload order. It never checks blobs.
func (s *AttachmentService) List(ctx context.Context, dealID string) ([]models.Attachment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	parsed, err := models.ParseDealID(dealID)
	if err != nil {
		return nil, notFoundCode(fmt.Errorf("%w: %v", ErrInvalidDeal, err), ErrCodeDealNotFound)
	}
	exists, err := s.deals.DealExists(ctx, parsed)
	if err != nil {
		return nil, storeFailure(fmt.Errorf("lookup deal %s: %w", parsed, err))
	}
	if !exists {
		return nil, notFoundCode(fmt.Errorf("%w: deal %s not found", ErrInvalidDeal, parsed), ErrCodeDealNotFound)
	}

	attachments, err := s.catalog.ListAttachmentsByDeal(ctx, parsed)
	if err != nil {
		return nil, storeFailure(err)
	}
	return attachments, nil
}

// Get returns one attachment's metadata.
func (s *AttachmentService) Get(ctx context.Context, id string) (models.Attachment, error) {
	if err := s.ready(); err != nil {
		return models.Attachment{}, err
	}
	attachment, err := s.lookup(ctx, id)
	if err != nil {
		return models.Attachment{}, err
	}
	return *attachment, nil
}

// Rename changes only the display name. Repeating it is a no-op.
func (s *AttachmentService) Rename(ctx context.Context, id, newFileName string) (models.Attachment, error) {
	var zero models.Attachment
	if err := s.ready(); err != nil {
		return zero, err
	}
	// Unknown ids report not-found before the new name is judged.
	existing, err := s.lookup(ctx, id)
	if err != nil {
		return zero, err
	}
	fileName, err := models.NormalizeFileName(newFileName)
	if err != nil {
		return zero, badRequestCode(err, ErrCodeInvalidFileName)
	}

	updated, err := s.catalog.UpdateAttachmentFileName(ctx, existing.ID, fileName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return zero, notFoundCode(fmt.Errorf("%w: %s", ErrAttachmentNotFound, existing.ID), ErrCodeAttachmentNotFound)
		}
		return zero, storeFailure(err)
	}
	return *updated, nil
}

// Delete removes the catalog row and then the blob. Children keep their
// parent reference.
func (s *AttachmentService) Delete(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	attachment, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	if err := s.catalog.DeleteAttachment(ctx, attachment.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundCode(fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachment.ID), ErrCodeAttachmentNotFound)
		}
		return storeFailure(err)
	}

	if err := s.blobs.Delete(context.WithoutCancel(ctx), attachment.StorageKey); err != nil {
		s.logger.Warn("delete blob after row removal",
			"attachment_id", attachment.ID,
			"storage_key", attachment.StorageKey,
			"error", err,
		)
	}
	s.logger.Info("attachment deleted", "attachment_id", attachment.ID, "deal_id", attachment.DealID)
	return nil
}

// VersionChain walks parent references from id towards the root. A parent
// that no longer exists ends the walk with RootLost set.
func (s *AttachmentService) VersionChain(ctx context.Context, id string) (VersionChain, error) {
	var chain VersionChain
	if err := s.ready(); err != nil {
		return chain, err
	}
	current, err := s.lookup(ctx, id)
	if err != nil {
		return chain, err
	}

	seen := map[string]struct{}{current.ID: {}}
	chain.Versions = append(chain.Versions, *current)
	for current.HasParent() {
		parentID := current.ParentAttachmentID
		if _, ok := seen[parentID]; ok {
			s.logger.Warn("version chain cycle", "attachment_id", current.ID, "parent_attachment_id", parentID)
			break
		}
		parent, err := s.catalog.GetAttachment(ctx, parentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				chain.RootLost = true
				break
			}
			return VersionChain{}, storeFailure(err)
		}
		seen[parent.ID] = struct{}{}
		chain.Versions = append(chain.Versions, *parent)
		current = parent
	}
	return chain, nil
}

// SweepOrphanBlobs finds blobs no catalog row references. Blobs younger than
// olderThan are skipped, and olderThan may not be shorter than
// MinOrphanGrace, so uploads between write and insert are never touched.
// Candidates are checked against a fresh key listing right before deletion.
func (s *AttachmentService) SweepOrphanBlobs(ctx context.Context, olderThan time.Duration, apply bool) (SweepResult, error) {
	result := SweepResult{DryRun: !apply}
	if err := s.ready(); err != nil {
		return result, err
	}
	if olderThan < MinOrphanGrace {
		return result, badRequestCode(fmt.Errorf("olderThan must be at least %s", MinOrphanGrace), ErrCodeInvalidQuery)
	}
	walker, ok := s.blobs.(blobstore.Walker)
	if !ok {
		return result, internalError(fmt.Errorf("blob store cannot enumerate keys"))
	}

	referenced, err := s.catalog.ListStorageKeys(ctx)
	if err != nil {
		return result, storeFailure(err)
	}
	cutoff := s.now().Add(-olderThan)

	var candidates []blobstore.BlobInfo
	err = walker.Walk(ctx, func(info blobstore.BlobInfo) error {
		result.ScannedCount++
		if _, ok := referenced[info.StorageKey]; ok {
			return nil
		}
		if info.ModTime.After(cutoff) {
			return nil
		}
		candidates = append(candidates, info)
		return nil
	})
	if err != nil {
		return result, blobFailure(fmt.Errorf("walk blobs: %w", err))
	}

	if apply && len(candidates) > 0 {
		current, err := s.catalog.ListStorageKeys(ctx)
		if err != nil {
			return result, storeFailure(err)
		}
		candidates = slices.DeleteFunc(candidates, func(info blobstore.BlobInfo) bool {
			_, ok := current[info.StorageKey]
			return ok
		})
	}

	for _, info := range candidates {
		result.OrphanCount++
		result.OrphanKeys = append(result.OrphanKeys, info.StorageKey)
		if !apply {
			continue
		}
		if err := s.blobs.Delete(ctx, info.StorageKey); err != nil {
			result.FailedCount++
			s.logger.Warn("delete orphan blob", "storage_key", info.StorageKey, "error", err)
			continue
		}
		result.DeletedCount++
		result.ReclaimedBytes += info.SizeBytes
	}

	s.logger.Info("orphan blob sweep",
		"scanned", result.ScannedCount,
		"orphans", result.OrphanCount,
		"deleted", result.DeletedCount,
		"failed", result.FailedCount,
		"dry_run", result.DryRun,
	)
	return result, nil
}

func (s *AttachmentService) ready() error {
	if s == nil || s.catalog == nil || s.deals == nil || s.blobs == nil {
		return internalError(fmt.Errorf("attachment service is not configured"))
	}
	return nil
}

// lookup treats malformed ids as unknown attachments.
func (s *AttachmentService) lookup(ctx context.Context, raw string) (*models.Attachment, error) {
	id, err := store.ParseAttachmentID(raw)
	if err != nil {
		return nil, notFoundCode(fmt.Errorf("%w: %s", ErrAttachmentNotFound, strings.TrimSpace(raw)), ErrCodeAttachmentNotFound)
	}
	attachment, err := s.catalog.GetAttachment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundCode(fmt.Errorf("%w: %s", ErrAttachmentNotFound, id), ErrCodeAttachmentNotFound)
		}
		return nil, storeFailure(err)
	}
	return attachment, nil
}

func (s *AttachmentService) resolveParent(ctx context.Context, dealID, rawParentID string) (*models.Attachment, error) {
	parentID, err := store.ParseAttachmentID(rawParentID)
	if err != nil {
		return nil, badRequestCode(fmt.Errorf("%w: invalid parent attachment id", ErrVersionMismatch), ErrCodeVersionMismatch)
	}
	parent, err := s.catalog.GetAttachment(ctx, parentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, badRequestCode(fmt.Errorf("%w: parent attachment %s not found", ErrVersionMismatch, parentID), ErrCodeVersionMismatch)
		}
		return nil, storeFailure(err)
	}
	if parent.DealID != dealID {
		return nil, badRequestCode(fmt.Errorf("%w: parent attachment %s belongs to another deal", ErrVersionMismatch, parentID), ErrCodeVersionMismatch)
	}
	return parent, nil
}

func (s *AttachmentService) blobMissing(attachment *models.Attachment) error {
	s.logger.Error("attachment blob missing",
		"event", "integrity_blob_missing",
		"attachment_id", attachment.ID,
		"deal_id", attachment.DealID,
		"storage_key", attachment.StorageKey,
	)
	return notFoundCode(fmt.Errorf("%w: attachment %s", ErrBlobMissing, attachment.ID), ErrCodeBlobMissing)
}

// discardBlob removes a blob whose row could not be inserted.
func (s *AttachmentService) discardBlob(ctx context.Context, key string, cause error) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("discard blob after failed insert", "storage_key", key, "cause", cause, "error", err)
	}
}

func normalizeContentType(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", fmt.Errorf("invalid content type %q", raw)
	}
	formatted := mime.FormatMediaType(mediaType, params)
	if formatted == "" {
		return "", fmt.Errorf("invalid content type %q", raw)
	}
	return formatted, nil
}

func sniffContentType(peek []byte) string {
	if len(peek) == 0 {
		return fallbackContentType
	}
	detected := http.DetectContentType(peek)
	if detected == "" {
		return fallbackContentType
	}
	return detected
}
