package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"dealfiles/internal/api"
)

var stdout io.Writer = os.Stdout

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(stdout, format, args...)
	return err
}

func writeAttachmentDetail(attachment api.Attachment) error {
	lines := []string{
		fmt.Sprintf("id: %s", attachment.AttachmentID),
		fmt.Sprintf("deal_id: %s", attachment.DealID),
		fmt.Sprintf("file_name: %s", attachment.FileName),
		fmt.Sprintf("content_type: %s", attachment.ContentType),
		fmt.Sprintf("size: %s", formatBytes(attachment.FileSizeBytes)),
		fmt.Sprintf("version: %d", attachment.VersionNumber),
		fmt.Sprintf("created_at: %s", formatTime(attachment.CreatedAt)),
	}
	if attachment.ParentAttachmentID != "" {
		lines = append(lines, fmt.Sprintf("parent_id: %s", attachment.ParentAttachmentID))
	}
	if attachment.SHA256 != "" {
		lines = append(lines, fmt.Sprintf("sha256: %s", attachment.SHA256))
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func writeAttachmentList(attachments []api.Attachment) error {
	for _, attachment := range attachments {
		if err := writePlain("%s\n", formatAttachmentLine(attachment)); err != nil {
			return err
		}
	}
	return nil
}

func formatAttachmentLine(attachment api.Attachment) string {
	return fmt.Sprintf("%s v%d %s (%s, %s)",
		attachment.AttachmentID,
		attachment.VersionNumber,
		attachment.FileName,
		attachment.ContentType,
		formatBytes(attachment.FileSizeBytes),
	)
}

func formatBytes(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
