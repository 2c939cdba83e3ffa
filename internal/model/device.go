package model

import (
	"time"
)

// Device is a phone paired to exactly one API key for its whole lifetime.
// Unpairing deletes the row.
type Device struct {
	ID          string    `db:"id" json:"id"`
	APIKeyID    string    `db:"api_key_id" json:"api_key_id"`
	DeviceToken string    `db:"device_token" json:"-"` // push handle, hidden from JSON
	DeviceName  string    `db:"device_name" json:"device_name"`
	Platform    string    `db:"platform" json:"platform"` // "ios", "android"
	PairedAt    time.Time `db:"paired_at" json:"paired_at"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"last_seen_at"`
}

// DeviceInfo is what a phone reports about itself when pairing.
type DeviceInfo struct {
	DeviceToken string `json:"device_token" validate:"required"`
	DeviceName  string `json:"device_name" validate:"required"`
	Platform    string `json:"platform" validate:"required,oneof=ios android"`
}

// UnpairedDevice is the response for a device removal.
type UnpairedDevice struct {
	ID       string `json:"id"`
	Unpaired bool   `json:"unpaired"`
}

// Platform constants
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)
