package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Numeric errorCode values the CLI reacts to. They mirror the server's
// error code table.
const (
	ErrorCodeRequestTooLarge    = 1002
	ErrorCodeDealNotFound       = 2001
	ErrorCodeAttachmentNotFound = 2003
	ErrorCodeBlobMissing        = 2004
	ErrorCodeVersionMismatch    = 2005
	ErrorCodeUnauthorized       = 3001
)

// APIError is a failed response envelope: the HTTP status plus the
// error object's code, errorCode and message.
type APIError struct {
	Status    int
	Code      string
	ErrorCode int
	Message   string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.ErrorCode > 0 && e.Message != "":
		return fmt.Sprintf("%s (%d)", e.Message, e.ErrorCode)
	case e.Message != "":
		return e.Message
	case e.Status > 0:
		return fmt.Sprintf("api error: %d", e.Status)
	default:
		return "api error"
	}
}

// FromDealfiles reports whether the response carried a dealfiles error
// envelope rather than a bare HTTP status from something else.
func (e *APIError) FromDealfiles() bool {
	return e != nil && (e.Code != "" || e.ErrorCode > 0)
}

// IsNotFound reports an unknown attachment id.
func (e *APIError) IsNotFound() bool {
	return e != nil && e.Status == http.StatusNotFound && e.ErrorCode == ErrorCodeAttachmentNotFound
}

// IsBlobMissing reports an attachment whose record exists but whose stored
// bytes are gone.
func (e *APIError) IsBlobMissing() bool {
	return e != nil && e.Status == http.StatusNotFound && e.ErrorCode == ErrorCodeBlobMissing
}

// IsDealNotFound reports an upload or listing against an unregistered deal.
func (e *APIError) IsDealNotFound() bool {
	return e != nil && e.ErrorCode == ErrorCodeDealNotFound
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
