package httputil

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"agentscan/internal/model"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorTable maps domain sentinels to responses. Ownership and existence are
// deliberately both NOT_FOUND so other tenants' ids are not revealed.
var errorTable = []errorMapping{
	{model.ErrUnauthorized, http.StatusUnauthorized, model.CodeUnauthorized, "Missing or invalid Authorization header"},
	{model.ErrInvalidKey, http.StatusUnauthorized, model.CodeInvalidKey, "Invalid API key"},
	{model.ErrInvalidSession, http.StatusUnauthorized, model.CodeInvalidToken, "Invalid or expired token"},
	{model.ErrMissingDeviceID, http.StatusBadRequest, model.CodeMissingDeviceID, "Missing X-Device-Id header"},
	{model.ErrDeviceNotFound, http.StatusForbidden, model.CodeDeviceNotFound, "Device not found or not paired with this API key"},
	{model.ErrTargetDeviceNotFound, http.StatusNotFound, model.CodeDeviceNotFound, "Device not found"},
	{model.ErrUnknownDevice, http.StatusNotFound, model.CodeNotFound, "Device not found"},
	{model.ErrAPIKeyNotFound, http.StatusNotFound, model.CodeNotFound, "API key not found"},
	{model.ErrNoActiveKey, http.StatusBadRequest, model.CodeNoAPIKey, "No active API key found. Create one first."},
	{model.ErrRequestNotFound, http.StatusNotFound, model.CodeNotFound, "Request not found"},
	{model.ErrRequestExpired, http.StatusGone, model.CodeExpired, "Request has expired"},
	{model.ErrNoFile, http.StatusBadRequest, model.CodeNoFile, "No file uploaded"},
	{model.ErrNoResult, http.StatusNotFound, model.CodeNoResult, "Result not yet available"},
	{model.ErrFileDeleted, http.StatusGone, model.CodeFileDeleted, "PDF has been deleted"},
	{model.ErrRateLimited, http.StatusTooManyRequests, model.CodeRateLimited, "Rate limit exceeded"},
	{model.ErrInvalidToken, http.StatusNotFound, model.CodeInvalidToken, "Invalid pairing token"},
	{model.ErrTokenUsed, http.StatusGone, model.CodeTokenUsed, "Pairing token already used"},
	{model.ErrTokenExpired, http.StatusGone, model.CodeTokenExpired, "Pairing token expired"},
	{model.ErrInvalidCode, http.StatusNotFound, model.CodeInvalidCode, "Invalid pairing code"},
	{model.ErrCodeUsed, http.StatusGone, model.CodeCodeUsed, "Pairing code already used"},
	{model.ErrCodeExpired, http.StatusGone, model.CodeCodeExpired, "Pairing code expired"},
}

// WriteServiceError answers with the mapped status and code for a domain
// error. Validation errors carry their own message. Anything unmapped is an
// infrastructure failure: it is logged and answered with a generic 500.
func WriteServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if errors.Is(err, model.ErrValidation) {
		WriteBadRequestWithCode(w, model.CodeValidation, err.Error())
		return
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			WriteError(w, m.status, m.code, m.message)
			return
		}
	}

	logger.Error("unhandled error", zap.Error(err))
	WriteInternalError(w, "Internal server error")
}
