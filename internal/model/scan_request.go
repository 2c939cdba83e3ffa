package model

import (
	"time"
)

// Request statuses. pending is the only initial state; completed, cancelled
// and expired are terminal for every transition except issuer cancellation.
const (
	StatusPending   = "pending"
	StatusScanning  = "scanning"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Bounds for expires_in on request creation, in seconds.
const (
	MinExpiresIn = 60
	MaxExpiresIn = 86400
)

// ScanRequest is a single "please scan this" job issued under an API key.
// DeviceID is the issuer's target until a device claims the request, and the
// claiming device afterwards. Targeted remembers whether the issuer named a device.
// When that device is unpaired DeviceID goes NULL and the request is open again;
// the claim that follows clears Targeted.
type ScanRequest struct {
	ID            string     `db:"id" json:"id"`
	APIKeyID      string     `db:"api_key_id" json:"-"`
	DeviceID      *string    `db:"device_id" json:"device_id"`
	Targeted      bool       `db:"targeted" json:"-"`
	Message       string     `db:"message" json:"message"`
	Status        string     `db:"status" json:"status"`
	WebhookURL    *string    `db:"webhook_url" json:"webhook_url,omitempty"`
	WebhookSecret *string    `db:"webhook_secret" json:"-"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at"`
}

// IsExpired reports whether a pending request has outlived its deadline.
func (r *ScanRequest) IsExpired(now time.Time) bool {
	return r.Status == StatusPending && !now.Before(r.ExpiresAt)
}

// EffectiveStatus is the status a reader should see at time now.
func (r *ScanRequest) EffectiveStatus(now time.Time) string {
	if r.IsExpired(now) {
		return StatusExpired
	}
	return r.Status
}

// IsBoundTo reports whether the request currently points at deviceID.
func (r *ScanRequest) IsBoundTo(deviceID string) bool {
	return r.DeviceID != nil && *r.DeviceID == deviceID
}

// VisibleTo reports whether a device polling for work should see this request.
func (r *ScanRequest) VisibleTo(deviceID string, now time.Time) bool {
	if r.Status != StatusPending || !now.Before(r.ExpiresAt) {
		return false
	}
	return r.DeviceID == nil || *r.DeviceID == deviceID
}

// IsValidStatus reports whether s names a request status.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusScanning, StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CreateScanRequest is the request body for POST /api/v1/requests
type CreateScanRequest struct {
	Message       string  `json:"message" validate:"required"`
	DeviceID      *string `json:"device_id" validate:"omitempty,uuid"`
	WebhookURL    *string `json:"webhook_url" validate:"omitempty,url"`
	WebhookSecret *string `json:"webhook_secret"`
	ExpiresIn     *int    `json:"expires_in" validate:"omitempty,min=60,max=86400"`
}

// CreatedScanRequest is returned after a request is created.
type CreatedScanRequest struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StatusChange is returned by accept, reject and cancel.
type StatusChange struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DeviceScanRequest is the view of a request a device sees while polling.
type DeviceScanRequest struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
