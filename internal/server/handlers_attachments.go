package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"dealfiles/internal/api"
)

// fileNotFoundMessage is the only message download failures expose for a
// missing row or missing bytes.
const fileNotFoundMessage = "File not found on server"

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	in, file, ok := s.parseUploadForm(w, r)
	if !ok {
		return
	}
	defer file.Close()

	in.DealID = r.PathValue("dealId")
	in.ParentAttachmentID = strings.TrimSpace(r.FormValue("parentAttachmentId"))

	attachment, err := s.attachments.Upload(r.Context(), in, file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusCreated, toAPIAttachment(attachment))
}

func (s *Server) handleUploadVersion(w http.ResponseWriter, r *http.Request) {
	in, file, ok := s.parseUploadForm(w, r)
	if !ok {
		return
	}
	defer file.Close()

	attachment, err := s.attachments.UploadNewVersion(r.Context(), r.PathValue("attachmentId"), in, file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusCreated, toAPIAttachment(attachment))
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	attachments, err := s.attachments.List(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, toAPIAttachments(attachments))
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	attachment, err := s.attachments.Get(r.Context(), r.PathValue("attachmentId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, toAPIAttachment(attachment))
}

func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	content, err := s.attachments.Download(r.Context(), r.PathValue("attachmentId"))
	if err != nil {
		if errors.Is(err, ErrAttachmentNotFound) || errors.Is(err, ErrBlobMissing) {
			s.log().Debug("download not found", "attachment_id", r.PathValue("attachmentId"), "error", err)
			s.writeErrorReq(w, r, http.StatusNotFound,
				notFoundCode(errors.New(fileNotFoundMessage), errorNumericCode(http.StatusNotFound, err)))
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	defer content.Reader.Close()

	header := w.Header()
	header.Set("Content-Type", content.ContentType)
	header.Set("Content-Disposition", contentDisposition(content.FileName))
	header.Set("Content-Length", strconv.FormatInt(content.SizeBytes, 10))
	header.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content.Reader); err != nil {
		s.log().Warn("stream attachment", "attachment_id", r.PathValue("attachmentId"), "error", err)
	}
}

func (s *Server) handleRenameAttachment(w http.ResponseWriter, r *http.Request) {
	var req api.RenameRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	attachment, err := s.attachments.Rename(r.Context(), r.PathValue("attachmentId"), req.FileName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, toAPIAttachment(attachment))
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	if err := s.attachments.Delete(r.Context(), r.PathValue("attachmentId")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DataResponse{Success: true})
}

func (s *Server) handleVersionChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.attachments.VersionChain(r.Context(), r.PathValue("attachmentId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, api.VersionChainResponse{
		Versions: toAPIAttachments(chain.Versions),
		RootLost: chain.RootLost,
	})
}

// parseUploadForm reads the multipart body and returns the "file" part.
// On failure it has already written the error response.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request) (UploadInput, io.ReadCloser, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.multipartMemory); err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, classifyMultipartError(err))
		return UploadInput{}, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("file is required"), ErrCodeMissingRequired))
		return UploadInput{}, nil, false
	}

	in := UploadInput{
		FileName:    firstNonEmpty(r.FormValue("fileName"), header.Filename),
		ContentType: firstNonEmpty(r.FormValue("contentType"), declaredPartType(header.Header.Get("Content-Type"))),
	}
	return in, &uploadFile{ReadCloser: file, form: r}, true
}

// uploadFile removes spilled multipart temp files on Close.
type uploadFile struct {
	io.ReadCloser
	form *http.Request
}

func (f *uploadFile) Close() error {
	err := f.ReadCloser.Close()
	if f.form.MultipartForm != nil {
		if rmErr := f.form.MultipartForm.RemoveAll(); err == nil {
			err = rmErr
		}
	}
	return err
}

// declaredPartType ignores the generic type most clients send by default so
// the content gets sniffed instead.
func declaredPartType(value string) string {
	value = strings.TrimSpace(value)
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil || mediaType == fallbackContentType {
		return ""
	}
	return value
}

func contentDisposition(fileName string) string {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
	if disposition == "" {
		return "attachment"
	}
	return disposition
}

func classifyMultipartError(err error) error {
	if err == nil {
		return nil
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		return badRequestCode(fmt.Errorf("request body too large"), ErrCodeRequestTooLarge)
	}
	return badRequestCode(err, ErrCodeInvalidArgument)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
