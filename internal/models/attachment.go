package models

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"
)

const maxFileNameLength = 255

// Attachment is one uploaded file's metadata record, linked to exactly one blob.
type Attachment struct {
	ID                 string    `json:"attachmentId"`
	DealID             string    `json:"dealId"`
	FileName           string    `json:"fileName"`
	ContentType        string    `json:"contentType"`
	FileSizeBytes      int64     `json:"fileSizeBytes"`
	StorageKey         string    `json:"-"`
	SHA256             string    `json:"sha256,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	ParentAttachmentID string    `json:"parentAttachmentId,omitempty"`
	VersionNumber      int       `json:"versionNumber"`
}

// HasParent reports whether the attachment supersedes another one.
func (a Attachment) HasParent() bool {
	return strings.TrimSpace(a.ParentAttachmentID) != ""
}

// NextVersionNumber returns the version number a child of a would get.
func (a Attachment) NextVersionNumber() int {
	if a.VersionNumber < 1 {
		return 2
	}
	return a.VersionNumber + 1
}

// NormalizeFileName trims a display name and rejects empty or unsafe values.
// Directory components are stripped; only the base name is kept.
func NormalizeFileName(raw string) (string, error) {
	value := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if value == "" {
		return "", fmt.Errorf("fileName is required")
	}
	value = path.Base(value)
	if value == "." || value == "/" || value == ".." {
		return "", fmt.Errorf("invalid fileName")
	}
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("fileName must be valid UTF-8")
	}
	if strings.ContainsAny(value, "\x00\r\n") {
		return "", fmt.Errorf("fileName contains control characters")
	}
	if len(value) > maxFileNameLength {
		return "", fmt.Errorf("fileName exceeds %d bytes", maxFileNameLength)
	}
	return value, nil
}
