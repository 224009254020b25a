package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /health", s.handleHealth)

	// Deal registry.
	mux.HandleFunc("POST /deals", s.handleCreateDeal)
	mux.HandleFunc("GET /deals", s.handleListDeals)

	// Attachments by deal.
	mux.HandleFunc("POST /attachments/{dealId}", s.handleUploadAttachment)
	mux.HandleFunc("GET /attachments/{dealId}", s.handleListAttachments)

	// Single attachment.
	mux.HandleFunc("GET /attachments/{attachmentId}/download", s.handleDownloadAttachment)
	mux.HandleFunc("GET /attachments/{attachmentId}/meta", s.handleGetAttachment)
	mux.HandleFunc("PATCH /attachments/{attachmentId}", s.handleRenameAttachment)
	mux.HandleFunc("DELETE /attachments/{attachmentId}", s.handleDeleteAttachment)

	// Version chains.
	mux.HandleFunc("POST /attachments/{attachmentId}/versions", s.handleUploadVersion)
	mux.HandleFunc("GET /attachments/{attachmentId}/versions", s.handleVersionChain)

	// Admin.
	mux.HandleFunc("POST /admin/blobs/sweep", s.handleSweepBlobs)

	return s.withRequestLogging(s.withAPIToken(mux))
}
