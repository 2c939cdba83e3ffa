package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agentscan/internal/httputil"
	"agentscan/internal/model"
	"agentscan/internal/service"
	"agentscan/internal/transport/http/middleware"
)

type KeyHandler struct {
	creds  *service.CredentialService
	logger *zap.Logger
}

func NewKeyHandler(creds *service.CredentialService, logger *zap.Logger) *KeyHandler {
	return &KeyHandler{creds: creds, logger: logger}
}

// Issue handles POST /api/v1/keys
// The raw key is in this response and nowhere else.
func (h *KeyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetAPIKeyFromContext(r.Context()); !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	var req model.IssueKeyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	issued, err := h.creds.Issue(r.Context(), req.Name, req.OwnerEmail, nil)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, issued)
}

// List handles GET /api/v1/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	keys, err := h.creds.ListForOwner(r.Context(), key)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, keys)
}

// Revoke handles DELETE /api/v1/keys/{id}
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	revoked, err := h.creds.RevokeForOwner(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, revoked)
}
