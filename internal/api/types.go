package api

import "time"

// ErrorBody is the error object inside a failed response envelope.
type ErrorBody struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
}

// ErrorResponse is the envelope of every failed request.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// DataResponse is the envelope of every successful JSON response.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Attachment is the wire shape of one attachment record.
type Attachment struct {
	AttachmentID       string    `json:"attachmentId" yaml:"attachment_id"`
	DealID             string    `json:"dealId" yaml:"deal_id"`
	FileName           string    `json:"fileName" yaml:"file_name"`
	ContentType        string    `json:"contentType" yaml:"content_type"`
	FileSizeBytes      int64     `json:"fileSizeBytes" yaml:"file_size_bytes"`
	SHA256             string    `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	CreatedAt          time.Time `json:"createdAt" yaml:"created_at"`
	ParentAttachmentID string    `json:"parentAttachmentId,omitempty" yaml:"parent_attachment_id,omitempty"`
	VersionNumber      int       `json:"versionNumber" yaml:"version_number"`
}

// UploadOptions carries the optional multipart fields of an upload.
type UploadOptions struct {
	FileName           string
	ContentType        string
	ParentAttachmentID string
}

// RenameRequest is the PATCH /attachments/{attachmentId} payload.
type RenameRequest struct {
	FileName string `json:"fileName"`
}

// DownloadInfo describes the headers of a downloaded attachment.
type DownloadInfo struct {
	FileName    string `json:"fileName" yaml:"file_name"`
	ContentType string `json:"contentType" yaml:"content_type"`
	SizeBytes   int64  `json:"sizeBytes" yaml:"size_bytes"`
}

// VersionChainResponse lists an attachment and its ancestors, newest first.
type VersionChainResponse struct {
	Versions []Attachment `json:"versions" yaml:"versions"`
	RootLost bool         `json:"rootLost" yaml:"root_lost"`
}

// Deal is the wire shape of one registered deal.
type Deal struct {
	DealID    string    `json:"dealId" yaml:"deal_id"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// DealCreateRequest is the POST /deals payload.
type DealCreateRequest struct {
	DealID string `json:"dealId"`
	Name   string `json:"name,omitempty"`
}

// SweepResponse reports one orphan blob sweep.
type SweepResponse struct {
	ScannedCount   int      `json:"scannedCount" yaml:"scanned_count"`
	OrphanCount    int      `json:"orphanCount" yaml:"orphan_count"`
	DeletedCount   int      `json:"deletedCount" yaml:"deleted_count"`
	FailedCount    int      `json:"failedCount" yaml:"failed_count"`
	ReclaimedBytes int64    `json:"reclaimedBytes" yaml:"reclaimed_bytes"`
	DryRun         bool     `json:"dryRun" yaml:"dry_run"`
	OrphanKeys     []string `json:"orphanKeys,omitempty" yaml:"orphan_keys,omitempty"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status string `json:"status" yaml:"status"`
}
