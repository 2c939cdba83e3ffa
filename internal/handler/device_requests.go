package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agentscan/internal/httputil"
	"agentscan/internal/model"
	"agentscan/internal/service"
	"agentscan/internal/transport/http/middleware"
)

// multipartMemory is how much of an upload is held in memory before spilling to disk.
const multipartMemory = 8 << 20

// DeviceRequestHandler serves the phone side of the request lifecycle.
type DeviceRequestHandler struct {
	lifecycle *service.LifecycleService
	maxUpload int64
	logger    *zap.Logger
}

func NewDeviceRequestHandler(lifecycle *service.LifecycleService, maxUpload int64, logger *zap.Logger) *DeviceRequestHandler {
	return &DeviceRequestHandler{lifecycle: lifecycle, maxUpload: maxUpload, logger: logger}
}

func (h *DeviceRequestHandler) caller(w http.ResponseWriter, r *http.Request) (*model.APIKey, *model.Device, bool) {
	key, ok := middleware.GetAPIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrUnauthorized)
		return nil, nil, false
	}
	device, ok := middleware.GetDeviceFromContext(r.Context())
	if !ok {
		httputil.WriteServiceError(w, h.logger, model.ErrMissingDeviceID)
		return nil, nil, false
	}
	return key, device, true
}

// List handles GET /api/v1/device/requests
func (h *DeviceRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	key, device, ok := h.caller(w, r)
	if !ok {
		return
	}

	requests, err := h.lifecycle.ListForDevice(r.Context(), key, device)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, requests)
}

// Accept handles POST /api/v1/device/requests/{id}/accept
func (h *DeviceRequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	key, device, ok := h.caller(w, r)
	if !ok {
		return
	}

	change, err := h.lifecycle.Accept(r.Context(), key, device, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, change)
}

// Reject handles POST /api/v1/device/requests/{id}/reject
func (h *DeviceRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	key, device, ok := h.caller(w, r)
	if !ok {
		return
	}

	change, err := h.lifecycle.Reject(r.Context(), key, device, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, change)
}

// Complete handles POST /api/v1/device/requests/{id}/complete
// Multipart form: file (PDF), ocr_text, page_count.
// The request is checked before the body is read.
func (h *DeviceRequestHandler) Complete(w http.ResponseWriter, r *http.Request) {
	key, device, ok := h.caller(w, r)
	if !ok {
		return
	}

	req, err := h.lifecycle.Scanning(r.Context(), key, device, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	art, err := h.readArtifact(w, r)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	completed, err := h.lifecycle.Finish(r.Context(), req, art)
	if err != nil {
		httputil.WriteServiceError(w, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, completed)
}

// readArtifact pulls the upload out of the multipart form. A missing file or a
// non-multipart body yields an artifact without bytes, which delivery rejects
// with model.ErrNoFile. A bad page_count is read as 0 and defaulted later.
func (h *DeviceRequestHandler) readArtifact(w http.ResponseWriter, r *http.Request) (model.Artifact, error) {
	var art model.Artifact
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return art, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return art, fmt.Errorf("%w: file exceeds %d bytes", model.ErrValidation, h.maxUpload)
		}
		return art, fmt.Errorf("%w: malformed multipart body", model.ErrValidation)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return art, nil
		}
		return art, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	if art.PDF, err = io.ReadAll(file); err != nil {
		return art, fmt.Errorf("read upload: %w", err)
	}
	art.OCRText = r.FormValue("ocr_text")
	art.PageCount, _ = strconv.Atoi(strings.TrimSpace(r.FormValue("page_count")))
	return art, nil
}
