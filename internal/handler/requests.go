package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agentscan/internal/httputil"
	"agentscan/internal/model"
	"agentscan/internal/service"
	"agentscan/internal/transport/http/middleware"
)

// RequestHandler serves the issuer side: creating requests and collecting results.
type RequestHandler struct {
	lifecycle *service.LifecycleService
	delivery  *service.DeliveryService
	logger    *zap.Logger
}

func NewRequestHandler(lifecycle *service.LifecycleService, delivery *service.DeliveryService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{lifecycle: lifecycle, delivery: delivery, logger: logger}
}

// Create handles POST /api/v1/requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	var req model.CreateScanRequest
	if err := decodeJSON(r, &req, false); err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	created, err := h.lifecycle.Create(r.Context(), key, &req)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, created)
}

// List handles GET /api/v1/requests?status=
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	requests, err := h.lifecycle.List(r.Context(), key, r.URL.Query().Get("status"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, requests)
}

// Get handles GET /api/v1/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	req, err := h.lifecycle.Get(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, req)
}

// Cancel handles DELETE /api/v1/requests/{id}
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	change, err := h.lifecycle.Cancel(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, change)
}

// Result handles GET /api/v1/requests/{id}/result
// The first successful call marks the result as picked up.
func (h *RequestHandler) Result(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	view, err := h.delivery.FetchResult(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, view)
}

// PDF handles GET /api/v1/requests/{id}/pdf
func (h *RequestHandler) PDF(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	data, err := h.delivery.FetchPDF(r.Context(), key, id)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="scan-%s.pdf"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Text handles GET /api/v1/requests/{id}/text
func (h *RequestHandler) Text(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return
	}

	text, err := h.delivery.FetchText(r.Context(), key, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}
