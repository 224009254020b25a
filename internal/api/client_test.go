package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseHTTPTimeout(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "default", value: "", want: defaultHTTPTimeout},
		{name: "duration format", value: "45s", want: 45 * time.Second},
		{name: "integer seconds", value: "25", want: 25 * time.Second},
		{name: "invalid falls back", value: "invalid", want: defaultHTTPTimeout},
		{name: "negative falls back", value: "-3", want: defaultHTTPTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseHTTPTimeout(tc.value); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: " http://127.0.0.1:7333/ "})
	if c.BaseURL() != "http://127.0.0.1:7333" {
		t.Fatalf("unexpected base url %q", c.BaseURL())
	}
	if c.http.Timeout != defaultHTTPTimeout {
		t.Fatalf("expected default timeout, got %v", c.http.Timeout)
	}
}

func TestDoUnwrapsEnvelopeAndSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if r.Method != http.MethodPatch || r.URL.Path != "/attachments/a-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req RenameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(DataResponse{Success: true, Data: Attachment{AttachmentID: "a-1", FileName: req.FileName}})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Token: "secret"})
	got, err := c.RenameAttachment(context.Background(), "a-1", "new.pdf")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got.AttachmentID != "a-1" || got.FileName != "new.pdf" {
		t.Fatalf("unexpected attachment: %#v", got)
	}
}

func TestDecodeErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorBody{Message: "File not found on server", Code: "not_found", ErrorCode: 2003}})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := c.DownloadAttachment(context.Background(), "missing", io.Discard)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.ErrorCode != 2003 || apiErr.Message != "File not found on server" {
		t.Fatalf("unexpected error: %#v", apiErr)
	}
}

func TestDecodeErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(ClientOptions{BaseURL: srv.URL}).Ping(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
}

func TestUploadAttachmentSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attachments/deal-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(DataResponse{Success: true, Data: Attachment{
			AttachmentID:       "a-2",
			DealID:             "deal-1",
			FileName:           header.Filename,
			ContentType:        r.FormValue("contentType"),
			FileSizeBytes:      int64(len(body)),
			ParentAttachmentID: r.FormValue("parentAttachmentId"),
			VersionNumber:      2,
		}})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	got, err := c.UploadAttachment(context.Background(), "deal-1", UploadOptions{
		FileName:           "contract.pdf",
		ContentType:        "application/pdf",
		ParentAttachmentID: "a-1",
	}, strings.NewReader("%PDF-1.7"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got.FileName != "contract.pdf" || got.ContentType != "application/pdf" || got.FileSizeBytes != 8 || got.ParentAttachmentID != "a-1" {
		t.Fatalf("unexpected attachment: %#v", got)
	}
}

func TestUploadRequiresFileName(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.UploadAttachment(context.Background(), "deal-1", UploadOptions{}, strings.NewReader("x")); err == nil {
		t.Fatal("expected error for missing file name")
	}
}

func TestDownloadAttachmentReadsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Disposition", `attachment; filename="notes.txt"`)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	info, err := NewClient(ClientOptions{BaseURL: srv.URL}).DownloadAttachment(context.Background(), "a-1", &buf)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if buf.String() != "hello" || info.FileName != "notes.txt" || info.ContentType != "text/plain" || info.SizeBytes != 5 {
		t.Fatalf("unexpected download: %#v body=%q", info, buf.String())
	}
}

func TestSweepBlobsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apply") != "true" || r.URL.Query().Get("olderThan") != "1h0m0s" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(DataResponse{Success: true, Data: SweepResponse{OrphanCount: 1, DeletedCount: 1}})
	}))
	defer srv.Close()

	got, err := NewClient(ClientOptions{BaseURL: srv.URL}).SweepBlobs(context.Background(), time.Hour, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got.DeletedCount != 1 {
		t.Fatalf("unexpected sweep response: %#v", got)
	}
}
