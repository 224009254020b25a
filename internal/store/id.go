package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateAttachmentID returns a new random attachment id.
func GenerateAttachmentID() string {
	return uuid.NewString()
}

// ParseAttachmentID validates an attachment id and returns its canonical form.
func ParseAttachmentID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("attachment id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid attachment id")
	}
	return parsed.String(), nil
}
