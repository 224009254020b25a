package main

import (
	"context"
	"errors"
	"net"

	"dealfiles/internal/api"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	if apiErr, ok := api.AsAPIError(err); ok {
		switch {
		case apiErr.IsBlobMissing():
			lines = append(lines, "hint: the attachment record exists but its stored content is gone; check the server blob root and logs for integrity_blob_missing.")
		case apiErr.IsNotFound():
			lines = append(lines, "hint: no attachment has that id; list a deal's attachments with: dealfiles attach list <deal-id>")
		case apiErr.IsDealNotFound():
			lines = append(lines, "hint: register the deal first with: dealfiles deal create <deal-id>")
		case apiErr.ErrorCode == api.ErrorCodeUnauthorized:
			lines = append(lines, "hint: verify DEALFILES_API_TOKEN matches the server.")
		case apiErr.ErrorCode == api.ErrorCodeRequestTooLarge:
			lines = append(lines, "hint: raise uploads.max_upload_bytes on the server for larger files.")
		}
		if !apiErr.FromDealfiles() {
			lines = append(lines, "hint: verify DEALFILES_API_URL points to a dealfiles server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase DEALFILES_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a dealfiles server is running at DEALFILES_API_URL.",
			"hint: start local server manually with: dealfiles srv",
			"hint: you can increase DEALFILES_HTTP_TIMEOUT for slower environments.",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
