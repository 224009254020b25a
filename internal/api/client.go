package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	// HTTPTimeoutEnvKey overrides the client timeout for CLI callers.
	HTTPTimeoutEnvKey = "DEALFILES_HTTP_TIMEOUT"
)

// ClientOptions configures a Client. BaseURL is required.
type ClientOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a simple HTTP client for the dealfiles API.
type Client struct {
	baseURL   string
	http      *http.Client
	authToken string
}

// NewClient creates a new API client from explicit options.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		http:      &http.Client{Timeout: timeout},
		authToken: strings.TrimSpace(opts.Token),
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// UploadAttachment streams content as a multipart upload for dealID.
func (c *Client) UploadAttachment(ctx context.Context, dealID string, opts UploadOptions, content io.Reader) (Attachment, error) {
	return c.upload(ctx, "/attachments/"+url.PathEscape(dealID), opts, content)
}

// UploadVersion uploads content as the next version of parentID.
func (c *Client) UploadVersion(ctx context.Context, parentID string, opts UploadOptions, content io.Reader) (Attachment, error) {
	opts.ParentAttachmentID = ""
	return c.upload(ctx, "/attachments/"+url.PathEscape(parentID)+"/versions", opts, content)
}

// DownloadAttachment copies the attachment bytes to w.
func (c *Client) DownloadAttachment(ctx context.Context, id string, w io.Writer) (DownloadInfo, error) {
	var info DownloadInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/attachments/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return info, err
	}
	c.setAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return info, decodeError(resp)
	}

	info.ContentType = resp.Header.Get("Content-Type")
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		info.FileName = params["filename"]
	}
	n, err := io.Copy(w, resp.Body)
	info.SizeBytes = n
	return info, err
}

// ListAttachments lists the attachments of one deal in upload order.
func (c *Client) ListAttachments(ctx context.Context, dealID string) ([]Attachment, error) {
	var resp []Attachment
	err := c.do(ctx, http.MethodGet, "/attachments/"+url.PathEscape(dealID), nil, nil, &resp)
	return resp, err
}

// GetAttachment returns one attachment's metadata.
func (c *Client) GetAttachment(ctx context.Context, id string) (Attachment, error) {
	var resp Attachment
	err := c.do(ctx, http.MethodGet, "/attachments/"+url.PathEscape(id)+"/meta", nil, nil, &resp)
	return resp, err
}

// RenameAttachment changes an attachment's display name.
func (c *Client) RenameAttachment(ctx context.Context, id, fileName string) (Attachment, error) {
	var resp Attachment
	err := c.do(ctx, http.MethodPatch, "/attachments/"+url.PathEscape(id), nil, RenameRequest{FileName: fileName}, &resp)
	return resp, err
}

// DeleteAttachment removes an attachment and its bytes.
func (c *Client) DeleteAttachment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/attachments/"+url.PathEscape(id), nil, nil, nil)
}

// VersionChain returns id and its ancestors.
func (c *Client) VersionChain(ctx context.Context, id string) (VersionChainResponse, error) {
	var resp VersionChainResponse
	err := c.do(ctx, http.MethodGet, "/attachments/"+url.PathEscape(id)+"/versions", nil, nil, &resp)
	return resp, err
}

func (c *Client) CreateDeal(ctx context.Context, req DealCreateRequest) (Deal, error) {
	var resp Deal
	err := c.do(ctx, http.MethodPost, "/deals", nil, req, &resp)
	return resp, err
}

func (c *Client) ListDeals(ctx context.Context) ([]Deal, error) {
	var resp []Deal
	err := c.do(ctx, http.MethodGet, "/deals", nil, nil, &resp)
	return resp, err
}

// SweepBlobs reports, and with apply deletes, unreferenced blobs older than olderThan.
func (c *Client) SweepBlobs(ctx context.Context, olderThan time.Duration, apply bool) (SweepResponse, error) {
	var resp SweepResponse
	query := url.Values{}
	if apply {
		query.Set("apply", "true")
	}
	if olderThan > 0 {
		query.Set("olderThan", olderThan.String())
	}
	err := c.do(ctx, http.MethodPost, "/admin/blobs/sweep", query, nil, &resp)
	return resp, err
}

func (c *Client) upload(ctx context.Context, path string, opts UploadOptions, content io.Reader) (Attachment, error) {
	var resp Attachment
	if content == nil {
		return resp, fmt.Errorf("content is required")
	}
	fileName := strings.TrimSpace(opts.FileName)
	if fileName == "" {
		return resp, fmt.Errorf("file name is required")
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(writer, fileName, opts, content))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		_ = pr.Close()
		return resp, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeader(req)

	httpResp, err := c.http.Do(req)
	if err != nil {
		_ = pr.Close()
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = decodeData(httpResp.Body, &resp)
	return resp, err
}

func writeUploadForm(writer *multipart.Writer, fileName string, opts UploadOptions, content io.Reader) error {
	if parent := strings.TrimSpace(opts.ParentAttachmentID); parent != "" {
		if err := writer.WriteField("parentAttachmentId", parent); err != nil {
			return err
		}
	}
	if contentType := strings.TrimSpace(opts.ContentType); contentType != "" {
		if err := writer.WriteField("contentType", contentType); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return writer.Close()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return decodeData(resp.Body, out)
}

func decodeData(r io.Reader, out any) error {
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return err
	}
	if !envelope.Success {
		return fmt.Errorf("api error: unsuccessful response")
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{
			Status:    resp.StatusCode,
			Code:      errResp.Error.Code,
			ErrorCode: errResp.Error.ErrorCode,
			Message:   errResp.Error.Message,
		}
	}
	return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("api error: %s", resp.Status)}
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

// ParseHTTPTimeout accepts a Go duration or a number of seconds and falls
// back to the default timeout for anything else.
func ParseHTTPTimeout(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
