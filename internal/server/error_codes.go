package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument  = 1000
	ErrCodeInvalidJSON      = 1001
	ErrCodeRequestTooLarge  = 1002
	ErrCodeInvalidQuery     = 1003
	ErrCodeInvalidID        = 1004
	ErrCodeInvalidFileName  = 1005
	ErrCodeInvalidDealID    = 1006
	ErrCodeMissingRequired  = 1009
	ErrCodeInvalidMediaType = 1010

	// Domain state (2xxx)
	ErrCodeDealNotFound       = 2001
	ErrCodeAttachmentNotFound = 2003
	ErrCodeBlobMissing        = 2004
	ErrCodeVersionMismatch    = 2005
	ErrCodeDealExists         = 2101
	ErrCodeConflict           = 2102

	// Auth (3xxx)
	ErrCodeUnauthorized = 3001

	// Internal/system (4xxx)
	ErrCodeInternal     = 4001
	ErrCodeStoreFailure = 4002
	ErrCodeBlobFailure  = 4003
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 404:
		return ErrCodeAttachmentNotFound
	case 409:
		return ErrCodeConflict
	case 500:
		return ErrCodeInternal
	default:
		return 0
	}
}
