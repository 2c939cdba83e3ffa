package model

import "errors"

// Authentication errors
var (
	ErrUnauthorized    = errors.New("missing or invalid authorization header")
	ErrInvalidKey      = errors.New("invalid api key")
	ErrMissingDeviceID = errors.New("missing X-Device-Id header")
	ErrDeviceNotFound  = errors.New("device not found or not paired with this api key")
	ErrInvalidSession  = errors.New("invalid or expired session token")
)

// Entity errors. Not-found covers "exists but belongs to someone else" as well.
var (
	ErrAPIKeyNotFound       = errors.New("api key not found")
	ErrNoActiveKey          = errors.New("no active api key found")
	ErrUnknownDevice        = errors.New("device not found")
	ErrTargetDeviceNotFound = errors.New("target device not found")
	ErrRequestNotFound      = errors.New("request not found")
	ErrRequestExpired       = errors.New("request has expired")
	ErrNoFile               = errors.New("no file uploaded")
	ErrNoResult             = errors.New("result not yet available")
	ErrFileDeleted          = errors.New("pdf has been deleted")
	ErrValidation           = errors.New("validation error")
	ErrRateLimited          = errors.New("rate limit exceeded")
)

// Pairing errors
var (
	ErrPairingNotFound = errors.New("pairing session not found")
	ErrPairingConsumed = errors.New("pairing session already redeemed")
	ErrShortCodeTaken  = errors.New("short code already in use")

	ErrInvalidToken = errors.New("invalid pairing token")
	ErrTokenUsed    = errors.New("pairing token already used")
	ErrTokenExpired = errors.New("pairing token expired")
	ErrInvalidCode  = errors.New("invalid pairing code")
	ErrCodeUsed     = errors.New("pairing code already used")
	ErrCodeExpired  = errors.New("pairing code expired")
)

// Error codes used in HTTP responses
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInvalidKey      = "INVALID_KEY"
	CodeMissingDeviceID = "MISSING_DEVICE_ID"
	CodeDeviceNotFound  = "DEVICE_NOT_FOUND"
	CodeNotFound        = "NOT_FOUND"
	CodeExpired         = "EXPIRED"
	CodeNoFile          = "NO_FILE"
	CodeNoResult        = "NO_RESULT"
	CodeFileDeleted     = "FILE_DELETED"
	CodeNoAPIKey        = "NO_API_KEY"
	CodeValidation      = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeTokenUsed       = "TOKEN_USED"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeInvalidCode     = "INVALID_CODE"
	CodeCodeUsed        = "CODE_USED"
	CodeCodeExpired     = "CODE_EXPIRED"
	CodeInternal        = "INTERNAL_ERROR"
)
