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

type DeviceHandler struct {
	devices *service.DeviceService
	pairing *service.PairingService
	logger  *zap.Logger
}

func NewDeviceHandler(devices *service.DeviceService, pairing *service.PairingService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, pairing: pairing, logger: logger}
}

// Pair handles POST /api/v1/devices/pair
// Pairs a device directly with the calling API key.
func (h *DeviceHandler) Pair(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	var req model.DeviceInfo
	if err := decodeJSON(r, &req, false); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	device, err := h.devices.Pair(r.Context(), key, req)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, device)
}

// List handles GET /api/v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	devices, err := h.devices.List(r.Context(), key)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, devices)
}

// Unpair handles DELETE /api/v1/devices/{id}
func (h *DeviceHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	unpaired, err := h.devices.Unpair(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, unpaired)
}

// PairWithToken handles POST /api/v1/devices/pair-with-token
// Unauthenticated: the pairing token from the QR code is the credential.
func (h *DeviceHandler) PairWithToken(w http.ResponseWriter, r *http.Request) {
	var req model.PairWithTokenRequest
	if err := decodeJSON(r, &req, false); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	paired, err := h.pairing.RedeemToken(r.Context(), req.PairingToken, req.DeviceInfo)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, paired)
}

// PairWithCode handles POST /api/v1/devices/pair-with-code
func (h *DeviceHandler) PairWithCode(w http.ResponseWriter, r *http.Request) {
	var req model.PairWithCodeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	paired, err := h.pairing.RedeemCode(r.Context(), req.Code, req.DeviceInfo)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, paired)
}
