package model

import (
	"time"
)

// PairingTTL is how long a pairing token or short code stays redeemable.
const PairingTTL = 5 * time.Minute

// ShortCodeAlphabet leaves out I, O, 0 and 1.
const ShortCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// PairingSession binds a device-to-be to one API key. It is redeemed at most once.
type PairingSession struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"-"`
	APIKeyID  string    `db:"api_key_id" json:"-"`
	Token     string    `db:"token" json:"-"`
	ShortCode string    `db:"short_code" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Used      bool      `db:"used" json:"used"`
	DeviceID  *string   `db:"device_id" json:"device_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsExpired returns true if the session can no longer be redeemed by time.
func (s *PairingSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// GeneratePairingRequest is the request body for POST /api/v1/dashboard/pairing/generate
type GeneratePairingRequest struct {
	APIKeyID *string `json:"api_key_id" validate:"omitempty,uuid"`
}

// PairingTicket is shown on the dashboard: a QR code and a typable short code.
type PairingTicket struct {
	Token     string    `json:"token"`
	ShortCode string    `json:"short_code"`
	QRData    string    `json:"qr_data"`
	QRPNG     string    `json:"qr_png"` // base64 PNG
	ExpiresAt time.Time `json:"expires_at"`
}

// PairWithTokenRequest is the request body for POST /api/v1/devices/pair-with-token
type PairWithTokenRequest struct {
	PairingToken string `json:"pairing_token" validate:"required"`
	DeviceInfo
}

// PairWithCodeRequest is the request body for POST /api/v1/devices/pair-with-code
type PairWithCodeRequest struct {
	Code string `json:"code" validate:"required"`
	DeviceInfo
}

// PairedDevice is returned to a phone after redeeming a pairing session.
type PairedDevice struct {
	DeviceID     string  `json:"device_id"`
	APIKeyPrefix *string `json:"api_key_prefix"`
	ServerURL    string  `json:"server_url"`
	Message      string  `json:"message"`
}
