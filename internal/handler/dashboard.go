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

// DashboardHandler serves signed-in dashboard users: their keys, their
// devices and pairing sessions.
type DashboardHandler struct {
	creds   *service.CredentialService
	devices *service.DeviceService
	pairing *service.PairingService
	logger  *zap.Logger
}

func NewDashboardHandler(
	creds *service.CredentialService,
	devices *service.DeviceService,
	pairing *service.PairingService,
	logger *zap.Logger,
) *DashboardHandler {
	return &DashboardHandler{creds: creds, devices: devices, pairing: pairing, logger: logger}
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *DashboardHandler) session(w http.ResponseWriter, r *http.Request) (*middleware.Session, bool) {
	s, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
	}
	return s, ok
}

// GeneratePairing handles POST /api/v1/dashboard/pairing/generate
func (h *DashboardHandler) GeneratePairing(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.GeneratePairingRequest
	if err := decodeJSON(r, &req, true); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	ticket, err := h.pairing.Generate(r.Context(), s.UserID, req.APIKeyID)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ticket)
}

// ListKeys handles GET /api/v1/dashboard/keys
func (h *DashboardHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	keys, err := h.creds.ListForUser(r.Context(), s.UserID)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

// IssueKey handles POST /api/v1/dashboard/keys
func (h *DashboardHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.DashboardIssueKeyRequest
	if err := decodeJSON(r, &req, true); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	userID := s.UserID
	issued, err := h.creds.Issue(r.Context(), req.Name, s.Email, &userID)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, issued)
}

// RevokeKey handles DELETE /api/v1/dashboard/keys/{id}
func (h *DashboardHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if _, err := h.creds.RevokeForUser(r.Context(), s.UserID, chi.URLParam(r, "id")); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// ListDevices handles GET /api/v1/dashboard/devices
func (h *DashboardHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	devices, err := h.devices.ListForUser(r.Context(), s.UserID)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// UnpairDevice handles DELETE /api/v1/dashboard/devices/{id}
func (h *DashboardHandler) UnpairDevice(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if _, err := h.devices.UnpairForUser(r.Context(), s.UserID, chi.URLParam(r, "id")); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}
