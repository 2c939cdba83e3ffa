package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"agentscan/internal/httputil"
	"agentscan/internal/model"
	"agentscan/internal/service"
	"agentscan/internal/transport/http/middleware"
)

const (
	testKeyID     = "9c1e3a52-0f5b-4c43-9d55-0d3c1b7c7a01"
	testDeviceID  = "4b6f0f3e-7c2a-4d0e-8f7a-52a3e1f0c9b2"
	otherDeviceID = "e2a9b7c4-1d3f-4a6b-9c8e-7f0a1b2c3d4e"
	testRequestID = "7d0f4c2a-3b1e-4f5a-8c9d-0e1f2a3b4c5d"
)

// stubCaller authenticates "sk_test" and any device of testKeyID.
type stubCaller struct{}

func (stubCaller) Authenticate(_ context.Context, raw string) (*model.APIKey, error) {
	if raw != "sk_test" {
		return nil, model.ErrInvalidKey
	}
	return &model.APIKey{ID: testKeyID}, nil
}

func (stubCaller) AuthorizeDevice(_ context.Context, key *model.APIKey, deviceID string) (*model.Device, error) {
	return &model.Device{ID: deviceID, APIKeyID: key.ID}, nil
}

// oneRequest serves a single scan request; writes are not expected.
type oneRequest struct {
	req *model.ScanRequest
}

func (o oneRequest) GetForKey(_ context.Context, id, apiKeyID string) (*model.ScanRequest, error) {
	if o.req == nil || o.req.ID != id || o.req.APIKeyID != apiKeyID {
		return nil, model.ErrRequestNotFound
	}
	cp := *o.req
	return &cp, nil
}

func (oneRequest) Create(context.Context, *model.ScanRequest) error { return nil }
func (oneRequest) ListForKey(context.Context, string, string, time.Time) ([]model.ScanRequest, error) {
	return nil, nil
}
func (oneRequest) ListVisible(context.Context, string, string, time.Time) ([]model.ScanRequest, error) {
	return nil, nil
}
func (oneRequest) MarkExpired(context.Context, string, time.Time) (bool, error) { return false, nil }
func (oneRequest) Claim(context.Context, string, string, string, time.Time) error { return nil }
func (oneRequest) Reject(context.Context, string, string, string, string) error { return nil }
func (oneRequest) Cancel(context.Context, string, string) error { return nil }
func (oneRequest) ExpireStale(context.Context, time.Time) (int64, error) { return 0, nil }

// trackingBody records whether the handler touched the upload.
type trackingBody struct {
	read bool
}

func (b *trackingBody) Read(p []byte) (int, error) {
	b.read = true
	return 0, context.Canceled
}

func (b *trackingBody) Close() error { return nil }

func newCompleteRouter(req *model.ScanRequest) http.Handler {
	requests := oneRequest{req: req}
	delivery := service.NewDeliveryService(requests, nil, nil, nil, nil, "", time.Hour, zap.NewNop())
	lifecycle := service.NewLifecycleService(requests, nil, delivery, nil, nil, 300, zap.NewNop())
	h := NewDeviceRequestHandler(lifecycle, 1<<20, zap.NewNop())

	r := chi.NewRouter()
	r.Use(middleware.APIKeyAuth(stubCaller{}, zap.NewNop()))
	r.Use(middleware.DeviceAuth(stubCaller{}, zap.NewNop()))
	r.Post("/device/requests/{id}/complete", h.Complete)
	return r
}

func scanRequest(status string, deviceID *string) *model.ScanRequest {
	return &model.ScanRequest{
		ID:        testRequestID,
		APIKeyID:  testKeyID,
		DeviceID:  deviceID,
		Status:    status,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func strPtr(s string) *string { return &s }

func TestComplete_ChecksRequestBeforeReadingUpload(t *testing.T) {
	tests := []struct {
		name string
		req  *model.ScanRequest
	}{
		{"unknown request", nil},
		{"still pending", scanRequest(model.StatusPending, nil)},
		{"scanned by another device", scanRequest(model.StatusScanning, strPtr(otherDeviceID))},
		{"already completed", scanRequest(model.StatusCompleted, strPtr(testDeviceID))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := &trackingBody{}
			r := httptest.NewRequest(http.MethodPost, "/device/requests/"+testRequestID+"/complete", nil)
			r.Body = body
			r.Header.Set("Content-Type", "multipart/form-data; boundary=x")
			r.Header.Set("Authorization", "Bearer sk_test")
			r.Header.Set(middleware.DeviceIDHeader, testDeviceID)
			rec := httptest.NewRecorder()

			newCompleteRouter(tt.req).ServeHTTP(rec, r)

			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}
			if body.read {
				t.Error("upload body was read before the request was checked")
			}
		})
	}
}

func TestComplete_ScanningRequestWithoutFile(t *testing.T) {
	r := multipartUpload(t, nil, map[string]string{"ocr_text": "orphan"})
	r.URL.Path = "/device/requests/" + testRequestID + "/complete"
	r.Header.Set("Authorization", "Bearer sk_test")
	r.Header.Set(middleware.DeviceIDHeader, testDeviceID)
	rec := httptest.NewRecorder()

	newCompleteRouter(scanRequest(model.StatusScanning, strPtr(testDeviceID))).ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body httputil.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != model.CodeNoFile {
		t.Errorf("code = %q, want %q", body.Error.Code, model.CodeNoFile)
	}
}
