package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no blob exists at a storage key.
var ErrNotFound = errors.New("blob not found")

// BlobPutResult describes one persisted blob payload.
type BlobPutResult struct {
	StorageKey string
	SizeBytes  int64
	SHA256     string
}

// BlobInfo describes one stored blob as seen by Walk.
type BlobInfo struct {
	StorageKey string
	SizeBytes  int64
	ModTime    time.Time
}

// BlobStore is the byte-storage abstraction used by AttachmentService.
// Keys returned by Put are opaque to callers.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader, namespace, suggestedName string) (BlobPutResult, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Walker is implemented by blob stores that can enumerate their keys.
type Walker interface {
	Walk(ctx context.Context, fn func(BlobInfo) error) error
}
