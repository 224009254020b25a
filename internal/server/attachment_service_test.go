package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dealfiles/internal/blobstore"
	"dealfiles/internal/models"
	"dealfiles/internal/store"
)

func TestUploadDownloadRoundTrip(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	payload := []byte("quarterly numbers\n")
	created, err := env.svc.Upload(ctx, UploadInput{DealID: "deal-1", FileName: "notes.txt", ContentType: "text/plain"}, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if created.VersionNumber != 1 || created.ParentAttachmentID != "" {
		t.Fatalf("unexpected version fields: %#v", created)
	}
	if created.FileSizeBytes != int64(len(payload)) || created.SHA256 == "" {
		t.Fatalf("unexpected size/digest: %#v", created)
	}

	content, err := env.svc.Download(ctx, created.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer content.Reader.Close()
	got, err := io.ReadAll(content.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
	if content.FileName != "notes.txt" || content.ContentType != "text/plain" || content.SizeBytes != int64(len(payload)) {
		t.Fatalf("unexpected content metadata: %#v", content)
	}
}

func TestUploadSniffsContentType(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "pdf", payload: "%PDF-1.7\n%binary", want: "application/pdf"},
		{name: "empty", payload: "", want: fallbackContentType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			created, err := env.svc.Upload(ctx, UploadInput{DealID: "deal-1", FileName: tc.name + ".bin"}, strings.NewReader(tc.payload))
			if err != nil {
				t.Fatalf("upload: %v", err)
			}
			if created.ContentType != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, created.ContentType)
			}
			if created.FileSizeBytes != int64(len(tc.payload)) {
				t.Fatalf("expected size %d, got %d", len(tc.payload), created.FileSizeBytes)
			}
		})
	}
}

func TestUploadRejectsInvalidInputBeforeWritingBlob(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	tests := []struct {
		name     string
		in       UploadInput
		sentinel error
		errCode  int
	}{
		{name: "unknown deal", in: UploadInput{DealID: "deal-404", FileName: "a.txt"}, sentinel: ErrInvalidDeal, errCode: ErrCodeDealNotFound},
		{name: "malformed deal", in: UploadInput{DealID: "../etc", FileName: "a.txt"}, sentinel: ErrInvalidDeal, errCode: ErrCodeInvalidDealID},
		{name: "missing file name", in: UploadInput{DealID: "deal-1", FileName: "   "}, errCode: ErrCodeInvalidFileName},
		{name: "bad content type", in: UploadInput{DealID: "deal-1", FileName: "a.txt", ContentType: "not a type"}, errCode: ErrCodeInvalidMediaType},
		{name: "missing parent", in: UploadInput{DealID: "deal-1", FileName: "a.txt", ParentAttachmentID: store.GenerateAttachmentID()}, sentinel: ErrVersionMismatch, errCode: ErrCodeVersionMismatch},
		{name: "malformed parent", in: UploadInput{DealID: "deal-1", FileName: "a.txt", ParentAttachmentID: "v1"}, sentinel: ErrVersionMismatch, errCode: ErrCodeVersionMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Upload(ctx, tc.in, strings.NewReader("payload"))
			if err == nil {
				t.Fatal("expected error")
			}
			if httpStatusFromError(err) != 400 {
				t.Fatalf("expected HTTP 400, got %d (%v)", httpStatusFromError(err), err)
			}
			if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
			var apiErr apiError
			if !asAPIError(err, &apiErr) {
				t.Fatalf("expected apiError, got %T", err)
			}
			if apiErr.errCode != tc.errCode {
				t.Fatalf("expected error_code %d, got %d", tc.errCode, apiErr.errCode)
			}
		})
	}

	if keys := env.blobKeys(t); len(keys) != 0 {
		t.Fatalf("expected no blob writes on validation failure, got %v", keys)
	}
}

func TestUploadFailedStreamLeavesNoRow(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	reader := io.MultiReader(strings.NewReader("partial bytes"), errReader{err: errors.New("connection reset")})
	if _, err := env.svc.Upload(ctx, UploadInput{DealID: "deal-1", FileName: "a.txt", ContentType: "text/plain"}, reader); err == nil {
		t.Fatal("expected upload error")
	}

	list, err := env.st.ListAttachmentsByDeal(ctx, "deal-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no rows after failed write, got %d", len(list))
	}
	if keys := env.blobKeys(t); len(keys) != 0 {
		t.Fatalf("expected no blobs after failed write, got %v", keys)
	}
}

func TestUploadCancelledLeavesNoRow(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	env.seedDeal(t, "deal-1")

	ctx, cancel := context.WithCancel(context.Background())
	reader := &cancellingReader{data: []byte(strings.Repeat("x", 64<<10)), cancel: cancel}
	_, err := env.svc.Upload(ctx, UploadInput{DealID: "deal-1", FileName: "big.bin", ContentType: "application/octet-stream"}, reader)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	list, err := env.st.ListAttachmentsByDeal(context.Background(), "deal-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no rows after cancellation, got %d", len(list))
	}
	if keys := env.blobKeys(t); len(keys) != 0 {
		t.Fatalf("expected no blobs after cancellation, got %v", keys)
	}
}

func TestUploadInsertFailureDiscardsBlob(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	env.seedDeal(t, "deal-1")
	svc := NewAttachmentService(failingInsertCatalog{AttachmentCatalog: env.st}, env.st, env.blobs, discardLogger())

	_, err := svc.Upload(context.Background(), UploadInput{DealID: "deal-1", FileName: "a.txt"}, strings.NewReader("bytes"))
	if err == nil {
		t.Fatal("expected insert error")
	}
	if httpStatusFromError(err) != 500 {
		t.Fatalf("expected HTTP 500, got %d", httpStatusFromError(err))
	}
	if keys := env.blobKeys(t); len(keys) != 0 {
		t.Fatalf("expected blob to be discarded, got %v", keys)
	}
}

func TestDeleteRemovesRowAndBlob(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	created := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt"}, "bytes")
	if err := env.svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := env.svc.Get(ctx, created.ID); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
	}
	exists, err := env.blobs.Exists(ctx, created.StorageKey)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected blob to be deleted")
	}

	err = env.svc.Delete(ctx, created.ID)
	if !errors.Is(err, ErrAttachmentNotFound) || httpStatusFromError(err) != 404 {
		t.Fatalf("expected 404 ErrAttachmentNotFound on second delete, got %v", err)
	}
}

func TestDeleteSucceedsWhenBlobDeleteFails(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")
	created := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt"}, "bytes")

	svc := NewAttachmentService(env.st, env.st, failingDeleteBlobStore{BlobStore: env.blobs}, discardLogger())
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("expected delete to succeed, got %v", err)
	}
	if _, err := env.st.GetAttachment(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected row to be gone, got %v", err)
	}
}

func TestVersionChaining(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	v1 := env.upload(t, UploadInput{DealID: "deal-1", FileName: "contract.pdf"}, "v1")
	v2 := env.upload(t, UploadInput{DealID: "deal-1", FileName: "contract.pdf", ParentAttachmentID: v1.ID}, "v2")
	v3 := env.upload(t, UploadInput{DealID: "deal-1", FileName: "contract.pdf", ParentAttachmentID: v2.ID}, "v3")

	if v1.VersionNumber != 1 || v2.VersionNumber != 2 || v3.VersionNumber != 3 {
		t.Fatalf("expected versions 1,2,3, got %d,%d,%d", v1.VersionNumber, v2.VersionNumber, v3.VersionNumber)
	}
	if v2.ParentAttachmentID != v1.ID || v3.ParentAttachmentID != v2.ID {
		t.Fatalf("unexpected parents: v2=%s v3=%s", v2.ParentAttachmentID, v3.ParentAttachmentID)
	}
	if v1.StorageKey == v2.StorageKey || v2.StorageKey == v3.StorageKey {
		t.Fatal("expected distinct storage keys per version")
	}

	chain, err := env.svc.VersionChain(ctx, v3.ID)
	if err != nil {
		t.Fatalf("version chain: %v", err)
	}
	if chain.RootLost || len(chain.Versions) != 3 {
		t.Fatalf("unexpected chain: %#v", chain)
	}
	for i, want := range []string{v3.ID, v2.ID, v1.ID} {
		if chain.Versions[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, chain.Versions[i].ID)
		}
	}
}

func TestUploadRejectsParentFromOtherDeal(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	env.seedDeal(t, "deal-1")
	env.seedDeal(t, "deal-2")

	parent := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt"}, "a")
	_, err := env.svc.Upload(context.Background(), UploadInput{DealID: "deal-2", FileName: "a.txt", ParentAttachmentID: parent.ID}, strings.NewReader("b"))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if keys := env.blobKeys(t); len(keys) != 1 {
		t.Fatalf("expected only the parent blob, got %v", keys)
	}
}

func TestUploadNewVersionUsesParentDeal(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	parent := env.upload(t, UploadInput{DealID: "deal-1", FileName: "plan.docx"}, "v1")
	child, err := env.svc.UploadNewVersion(ctx, parent.ID, UploadInput{DealID: "ignored"}, strings.NewReader("v2"))
	if err != nil {
		t.Fatalf("upload new version: %v", err)
	}
	if child.DealID != "deal-1" || child.FileName != "plan.docx" || child.VersionNumber != 2 || child.ParentAttachmentID != parent.ID {
		t.Fatalf("unexpected child: %#v", child)
	}

	_, err = env.svc.UploadNewVersion(ctx, store.GenerateAttachmentID(), UploadInput{FileName: "x"}, strings.NewReader("x"))
	if !errors.Is(err, ErrVersionMismatch) || httpStatusFromError(err) != 400 {
		t.Fatalf("expected 400 ErrVersionMismatch, got %v", err)
	}
}

func TestDeletedParentLeavesChildUsable(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	parent := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt"}, "v1")
	child := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt", ParentAttachmentID: parent.ID}, "v2")

	if err := env.svc.Delete(ctx, parent.ID); err != nil {
		t.Fatalf("delete parent: %v", err)
	}

	content, err := env.svc.Download(ctx, child.ID)
	if err != nil {
		t.Fatalf("download child: %v", err)
	}
	got, _ := io.ReadAll(content.Reader)
	_ = content.Reader.Close()
	if string(got) != "v2" {
		t.Fatalf("expected child bytes, got %q", got)
	}

	stored, err := env.svc.Get(ctx, child.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if stored.ParentAttachmentID != parent.ID {
		t.Fatalf("expected dangling parent reference %s, got %q", parent.ID, stored.ParentAttachmentID)
	}

	chain, err := env.svc.VersionChain(ctx, child.ID)
	if err != nil {
		t.Fatalf("version chain: %v", err)
	}
	if !chain.RootLost || len(chain.Versions) != 1 {
		t.Fatalf("expected root lost with one version, got %#v", chain)
	}
}

func TestDownloadNotFoundKinds(t *testing.T) {
	var logs bytes.Buffer
	env := newAttachmentServiceForTest(t)
	env.svc = NewAttachmentService(env.st, env.st, env.blobs, slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	_, err := env.svc.Download(ctx, store.GenerateAttachmentID())
	if !errors.Is(err, ErrAttachmentNotFound) || errors.Is(err, ErrBlobMissing) {
		t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
	}
	if httpStatusFromError(err) != 404 {
		t.Fatalf("expected 404, got %d", httpStatusFromError(err))
	}

	created := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt"}, "bytes")
	if err := env.blobs.Delete(ctx, created.StorageKey); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	_, err = env.svc.Download(ctx, created.ID)
	if !errors.Is(err, ErrBlobMissing) || errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrBlobMissing, got %v", err)
	}
	if httpStatusFromError(err) != 404 {
		t.Fatalf("expected 404, got %d", httpStatusFromError(err))
	}
	if !strings.Contains(logs.String(), "event=integrity_blob_missing") {
		t.Fatalf("expected integrity log entry, got %q", logs.String())
	}
}

func TestListDoesNotCheckBlobs(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	first := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt"}, "a")
	second := env.upload(t, UploadInput{DealID: "deal-1", FileName: "b.txt"}, "b")
	if err := env.blobs.Delete(ctx, first.StorageKey); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	list, err := env.svc.List(ctx, "deal-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected list: %#v", list)
	}

	_, err = env.svc.List(ctx, "deal-404")
	if !errors.Is(err, ErrInvalidDeal) || httpStatusFromError(err) != 404 {
		t.Fatalf("expected 404 ErrInvalidDeal, got %v", err)
	}

	env.seedDeal(t, "deal-empty")
	empty, err := env.svc.List(ctx, "deal-empty")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %#v %v", empty, err)
	}
}

func TestRenameIsIdempotent(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")
	created := env.upload(t, UploadInput{DealID: "deal-1", FileName: "draft.txt"}, "bytes")

	first, err := env.svc.Rename(ctx, created.ID, "  final.txt ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	second, err := env.svc.Rename(ctx, created.ID, "final.txt")
	if err != nil {
		t.Fatalf("rename again: %v", err)
	}
	for _, got := range []models.Attachment{first, second} {
		if got.FileName != "final.txt" {
			t.Fatalf("expected final.txt, got %q", got.FileName)
		}
		if got.StorageKey != created.StorageKey || got.FileSizeBytes != created.FileSizeBytes || !got.CreatedAt.Equal(created.CreatedAt) {
			t.Fatalf("rename changed immutable fields: before=%#v after=%#v", created, got)
		}
	}

	content, err := env.svc.Download(ctx, created.ID)
	if err != nil {
		t.Fatalf("download after rename: %v", err)
	}
	_ = content.Reader.Close()
	if content.FileName != "final.txt" {
		t.Fatalf("expected download to use new name, got %q", content.FileName)
	}

	if _, err := env.svc.Rename(ctx, created.ID, "   "); httpStatusFromError(err) != 400 {
		t.Fatalf("expected 400 for empty name, got %v", err)
	}
	if _, err := env.svc.Rename(ctx, store.GenerateAttachmentID(), "x.txt"); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound, got %v", err)
	}
}

func TestRenameUnknownIDReportsNotFoundBeforeName(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()

	for _, name := range []string{"", "   ", "ok.txt"} {
		_, err := env.svc.Rename(ctx, store.GenerateAttachmentID(), name)
		if !errors.Is(err, ErrAttachmentNotFound) || httpStatusFromError(err) != 404 {
			t.Fatalf("rename(%q) on unknown id: expected 404 attachment not found, got %v", name, err)
		}
	}
	if _, err := env.svc.Rename(ctx, "not-a-uuid", ""); !errors.Is(err, ErrAttachmentNotFound) {
		t.Fatalf("expected ErrAttachmentNotFound for malformed id, got %v", err)
	}
}

func TestUploadCreatedAtHasMicrosecondPrecision(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	created := env.upload(t, UploadInput{DealID: "deal-1", FileName: "a.txt"}, "a")
	if created.CreatedAt.Nanosecond()%int(time.Microsecond) != 0 {
		t.Fatalf("created_at carries sub-microsecond precision: %v", created.CreatedAt)
	}
	got, err := env.svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed on read back: upload=%v get=%v", created.CreatedAt, got.CreatedAt)
	}
}

func TestSweepOrphanBlobs(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	kept := env.upload(t, UploadInput{DealID: "deal-1", FileName: "kept.txt"}, "kept")
	orphan, err := env.blobs.Put(ctx, strings.NewReader("orphan"), "deal-1", "orphan.txt")
	if err != nil {
		t.Fatalf("put orphan: %v", err)
	}

	result, err := env.svc.SweepOrphanBlobs(ctx, time.Hour, true)
	if err != nil {
		t.Fatalf("sweep within grace: %v", err)
	}
	if result.OrphanCount != 0 || result.ScannedCount != 2 {
		t.Fatalf("expected fresh orphan to be skipped, got %#v", result)
	}

	env.svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	result, err = env.svc.SweepOrphanBlobs(ctx, time.Hour, false)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !result.DryRun || result.OrphanCount != 1 || result.DeletedCount != 0 || result.OrphanKeys[0] != orphan.StorageKey {
		t.Fatalf("unexpected dry run result: %#v", result)
	}
	if exists, _ := env.blobs.Exists(ctx, orphan.StorageKey); !exists {
		t.Fatal("dry run must not delete")
	}

	result, err = env.svc.SweepOrphanBlobs(ctx, time.Hour, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.DeletedCount != 1 || result.ReclaimedBytes != int64(len("orphan")) {
		t.Fatalf("unexpected apply result: %#v", result)
	}
	if exists, _ := env.blobs.Exists(ctx, orphan.StorageKey); exists {
		t.Fatal("expected orphan to be deleted")
	}
	if exists, _ := env.blobs.Exists(ctx, kept.StorageKey); !exists {
		t.Fatal("referenced blob must survive the sweep")
	}

	for _, olderThan := range []time.Duration{-time.Second, 0, MinOrphanGrace - time.Second} {
		if _, err := env.svc.SweepOrphanBlobs(ctx, olderThan, false); httpStatusFromError(err) != 400 {
			t.Fatalf("expected 400 for olderThan=%s, got %v", olderThan, err)
		}
	}
}

func TestSweepDuringUploadKeepsNewBlob(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")

	sweeping := &sweepOnInsertCatalog{AttachmentCatalog: env.st}
	svc := NewAttachmentService(sweeping, env.st, env.blobs, discardLogger())
	sweeping.svc = svc

	created, err := svc.Upload(ctx, UploadInput{DealID: "deal-1", FileName: "late.txt"}, strings.NewReader("in flight"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if sweeping.zeroGraceErr == nil || httpStatusFromError(sweeping.zeroGraceErr) != 400 {
		t.Fatalf("expected zero grace sweep to be rejected, got %v", sweeping.zeroGraceErr)
	}
	if sweeping.result.DeletedCount != 0 {
		t.Fatalf("sweep deleted an in-flight blob: %#v", sweeping.result)
	}

	content, err := svc.Download(ctx, created.ID)
	if err != nil {
		t.Fatalf("download after upload: %v", err)
	}
	_ = content.Reader.Close()
}

func TestSweepRechecksReferencesBeforeDelete(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	env.seedDeal(t, "deal-1")
	kept := env.upload(t, UploadInput{DealID: "deal-1", FileName: "kept.txt"}, "kept")

	stale := &staleFirstListCatalog{AttachmentCatalog: env.st}
	svc := NewAttachmentService(stale, env.st, env.blobs, discardLogger())
	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	result, err := svc.SweepOrphanBlobs(ctx, time.Hour, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.DeletedCount != 0 || result.OrphanCount != 0 {
		t.Fatalf("expected row inserted mid-sweep to protect its blob, got %#v", result)
	}
	if exists, _ := env.blobs.Exists(ctx, kept.StorageKey); !exists {
		t.Fatal("referenced blob was deleted")
	}
}

func TestSweepCountsDeleteFailures(t *testing.T) {
	env := newAttachmentServiceForTest(t)
	ctx := context.Background()
	if _, err := env.blobs.Put(ctx, strings.NewReader("orphan"), "deal-1", "o.txt"); err != nil {
		t.Fatalf("put orphan: %v", err)
	}

	svc := NewAttachmentService(env.st, env.st, failingDeleteBlobStore{BlobStore: env.blobs, walker: env.blobs}, discardLogger())
	svc.now = func() time.Time { return time.Now().UTC().Add(2 * MinOrphanGrace) }
	result, err := svc.SweepOrphanBlobs(ctx, MinOrphanGrace, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.DeletedCount != 0 || result.FailedCount != 1 {
		t.Fatalf("expected one failed deletion, got %#v", result)
	}
}

type serviceTestEnv struct {
	svc   *AttachmentService
	st    *store.Store
	blobs *blobstore.LocalFS
}

func newAttachmentServiceForTest(t *testing.T) *serviceTestEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "attachment_service_test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	blobs, err := blobstore.NewLocalFS(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	return &serviceTestEnv{
		svc:   NewAttachmentService(st, st, blobs, discardLogger()),
		st:    st,
		blobs: blobs,
	}
}

func (e *serviceTestEnv) seedDeal(t *testing.T, id string) {
	t.Helper()
	if err := e.st.CreateDeal(context.Background(), &models.Deal{ID: id}); err != nil {
		t.Fatalf("create deal %s: %v", id, err)
	}
}

func (e *serviceTestEnv) upload(t *testing.T, in UploadInput, payload string) models.Attachment {
	t.Helper()
	created, err := e.svc.Upload(context.Background(), in, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("upload %s: %v", in.FileName, err)
	}
	return created
}

func (e *serviceTestEnv) blobKeys(t *testing.T) []string {
	t.Helper()
	var keys []string
	err := e.blobs.Walk(context.Background(), func(info blobstore.BlobInfo) error {
		keys = append(keys, info.StorageKey)
		return nil
	})
	if err != nil {
		t.Fatalf("walk blobs: %v", err)
	}
	return keys
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// cancellingReader cancels its context after the first read.
type cancellingReader struct {
	data   []byte
	cancel context.CancelFunc
	read   bool
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, io.EOF
	}
	r.read = true
	n := copy(p, r.data)
	r.cancel()
	return n, nil
}

type failingInsertCatalog struct {
	store.AttachmentCatalog
}

func (failingInsertCatalog) InsertAttachment(context.Context, *models.Attachment) error {
	return errors.New("disk full")
}

// sweepOnInsertCatalog runs orphan sweeps between the blob write and the
// row insert of an upload.
type sweepOnInsertCatalog struct {
	store.AttachmentCatalog
	svc          *AttachmentService
	zeroGraceErr error
	result       SweepResult
}

func (c *sweepOnInsertCatalog) InsertAttachment(ctx context.Context, attachment *models.Attachment) error {
	_, c.zeroGraceErr = c.svc.SweepOrphanBlobs(ctx, 0, true)
	result, err := c.svc.SweepOrphanBlobs(ctx, MinOrphanGrace, true)
	if err != nil {
		return err
	}
	c.result = result
	return c.AttachmentCatalog.InsertAttachment(ctx, attachment)
}

// staleFirstListCatalog hides every storage key on the first listing, as if
// the rows were inserted while the sweep was walking.
type staleFirstListCatalog struct {
	store.AttachmentCatalog
	calls int
}

func (c *staleFirstListCatalog) ListStorageKeys(ctx context.Context) (map[string]struct{}, error) {
	c.calls++
	if c.calls == 1 {
		return map[string]struct{}{}, nil
	}
	return c.AttachmentCatalog.ListStorageKeys(ctx)
}

type failingDeleteBlobStore struct {
	blobstore.BlobStore
	walker blobstore.Walker
}

func (failingDeleteBlobStore) Delete(context.Context, string) error {
	return errors.New("delete failed")
}

func (f failingDeleteBlobStore) Walk(ctx context.Context, fn func(blobstore.BlobInfo) error) error {
	if f.walker == nil {
		return errors.New("walk not supported")
	}
	return f.walker.Walk(ctx, fn)
}

func asAPIError(err error, out *apiError) bool {
	if err == nil || out == nil {
		return false
	}
	v, ok := err.(apiError)
	if !ok {
		return false
	}
	*out = v
	return true
}
