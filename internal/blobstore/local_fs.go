package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	keyPrefix          = "deals"
	tmpDirName         = "tmp"
	maxKeyNameLength   = 120
	fallbackObjectName = "blob"
)

// LocalFS stores blob bytes in a directory tree under a persistent root.
type LocalFS struct {
	root string
}

// NewLocalFS creates a local blob store rooted at root.
func NewLocalFS(root string) (*LocalFS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("blob store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, keyPrefix), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, tmpDirName), 0o755); err != nil {
		return nil, err
	}
	return &LocalFS{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *LocalFS) Root() string {
	if l == nil {
		return ""
	}
	return l.root
}

// Put streams bytes into a temp file, syncs it, and publishes it under a
// fresh key with a single rename. Nothing is published if the reader fails
// or ctx is cancelled.
func (l *LocalFS) Put(ctx context.Context, r io.Reader, namespace, suggestedName string) (BlobPutResult, error) {
	var zero BlobPutResult
	if l == nil {
		return zero, fmt.Errorf("blob store is not configured")
	}
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	ns := sanitizeKeySegment(namespace)
	if ns == "" {
		return zero, fmt.Errorf("blob namespace is required")
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, tmpDirName), "put-*")
	if err != nil {
		return zero, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), &contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return zero, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return zero, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}

	key := strings.Join([]string{keyPrefix, ns, uuid.NewString(), objectName(suggestedName)}, "/")
	dst := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}
	if _, err := os.Stat(dst); err == nil {
		_ = os.Remove(tmpPath)
		return zero, fmt.Errorf("blob key collision: %s", key)
	} else if !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return zero, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}
	syncDir(filepath.Dir(dst))

	return BlobPutResult{StorageKey: key, SizeBytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Open returns a reader for the blob stored at key.
func (l *LocalFS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if l == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return f, nil
}

// Exists reports whether a regular file is stored at key.
func (l *LocalFS) Exists(ctx context.Context, key string) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes a blob object. Missing files are ignored.
func (l *LocalFS) Delete(ctx context.Context, key string) error {
	if l == nil {
		return fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

// Walk calls fn for every published blob. Temp files are skipped.
func (l *LocalFS) Walk(ctx context.Context, fn func(BlobInfo) error) error {
	if l == nil {
		return fmt.Errorf("blob store is not configured")
	}
	base := filepath.Join(l.root, keyPrefix)
	return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		return fn(BlobInfo{StorageKey: filepath.ToSlash(rel), SizeBytes: info.Size(), ModTime: info.ModTime()})
	})
}

func (l *LocalFS) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("storage key is required")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("storage key must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key")
	}
	if !strings.HasPrefix(clean, keyPrefix+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key")
	}
	return filepath.Join(l.root, clean), nil
}

// pruneEmptyDirs removes now-empty key directories up to the key prefix.
func (l *LocalFS) pruneEmptyDirs(dir string) {
	stop := filepath.Join(l.root, keyPrefix)
	for dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func objectName(suggested string) string {
	suggested = strings.ReplaceAll(suggested, "\\", "/")
	if idx := strings.LastIndex(suggested, "/"); idx >= 0 {
		suggested = suggested[idx+1:]
	}
	name := sanitizeKeySegment(suggested)
	if name == "" || name == "." || name == ".." {
		return fallbackObjectName
	}
	if len(name) > maxKeyNameLength {
		name = name[len(name)-maxKeyNameLength:]
	}
	return name
}

func sanitizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), ".")
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var (
	_ BlobStore = (*LocalFS)(nil)
	_ Walker    = (*LocalFS)(nil)
)
