package server

import (
	"dealfiles/internal/api"
	"dealfiles/internal/models"
)

func toAPIAttachment(a models.Attachment) api.Attachment {
	return api.Attachment{
		AttachmentID:       a.ID,
		DealID:             a.DealID,
		FileName:           a.FileName,
		ContentType:        a.ContentType,
		FileSizeBytes:      a.FileSizeBytes,
		SHA256:             a.SHA256,
		CreatedAt:          a.CreatedAt,
		ParentAttachmentID: a.ParentAttachmentID,
		VersionNumber:      a.VersionNumber,
	}
}

func toAPIAttachments(in []models.Attachment) []api.Attachment {
	out := make([]api.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, toAPIAttachment(a))
	}
	return out
}

func toAPIDeal(d models.Deal) api.Deal {
	return api.Deal{DealID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt}
}

func toAPISweep(r SweepResult) api.SweepResponse {
	return api.SweepResponse{
		ScannedCount:   r.ScannedCount,
		OrphanCount:    r.OrphanCount,
		DeletedCount:   r.DeletedCount,
		FailedCount:    r.FailedCount,
		ReclaimedBytes: r.ReclaimedBytes,
		DryRun:         r.DryRun,
		OrphanKeys:     r.OrphanKeys,
	}
}
