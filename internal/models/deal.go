package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var dealIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Deal is the owning record attachments hang off.
type Deal struct {
	ID        string    `json:"dealId"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParseDealID validates a deal identifier. Deal IDs double as a storage
// namespace, so they are restricted to a path-safe alphabet.
func ParseDealID(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("dealId is required")
	}
	if !dealIDRegex.MatchString(value) {
		return "", fmt.Errorf("invalid dealId: %s", value)
	}
	return value, nil
}
