package repository

import (
	"context"
	"time"

	"agentscan/internal/model"
)

type APIKeyRepository interface {
	Create(ctx context.Context, key *model.APIKey) error
	// GetActiveByHash returns model.ErrInvalidKey for unknown or revoked keys
	GetActiveByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	GetByID(ctx context.Context, id string) (*model.APIKey, error)
	ListByOwnerEmail(ctx context.Context, ownerEmail string) ([]model.APIKey, error)
	ListByUserID(ctx context.Context, userID string) ([]model.APIKey, error)
	// GetActiveForUser returns the named key, or the oldest active key when keyID is nil
	GetActiveForUser(ctx context.Context, userID string, keyID *string) (*model.APIKey, error)
	DeactivateForOwner(ctx context.Context, id, ownerEmail string) error
	DeactivateForUser(ctx context.Context, id, userID string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type DeviceRepository interface {
	Create(ctx context.Context, device *model.Device) error
	GetForKey(ctx context.Context, id, apiKeyID string) (*model.Device, error)
	ListByAPIKey(ctx context.Context, apiKeyID string) ([]model.Device, error)
	ListByUserID(ctx context.Context, userID string) ([]model.Device, error)
	DeleteForKey(ctx context.Context, id, apiKeyID string) error
	DeleteForUser(ctx context.Context, id, userID string) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

type ScanRequestRepository interface {
	Create(ctx context.Context, req *model.ScanRequest) error
	GetForKey(ctx context.Context, id, apiKeyID string) (*model.ScanRequest, error)
	// ListForKey reports pending rows past their deadline as expired without writing.
	// A non-empty status filters on that effective status.
	ListForKey(ctx context.Context, apiKeyID, status string, now time.Time) ([]model.ScanRequest, error)
	ListVisible(ctx context.Context, apiKeyID, deviceID string, now time.Time) ([]model.ScanRequest, error)
	// MarkExpired flips a single pending row whose deadline passed. It reports whether it wrote.
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)
	// Claim moves pending to scanning for deviceID. Losing a race yields model.ErrRequestNotFound.
	// Claiming a request whose target was unpaired clears its targeted flag.
	Claim(ctx context.Context, id, apiKeyID, deviceID string, now time.Time) error
	// Reject moves a row bound to deviceID (or open, from pending) from one status to another.
	// The device binding is cleared when the row goes back to pending.
	Reject(ctx context.Context, id, deviceID, from, to string) error
	Cancel(ctx context.Context, id, apiKeyID string) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type ScanResultRepository interface {
	// Complete inserts the result and flips its request to completed in one transaction
	Complete(ctx context.Context, result *model.ScanResult, completedAt time.Time) error
	GetByRequestID(ctx context.Context, requestID string) (*model.ScanResult, error)
	// MarkPickedUp stamps the first pickup only. It reports whether it wrote.
	MarkPickedUp(ctx context.Context, id string, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.ScanResult, error)
	Delete(ctx context.Context, id string) error
}

type PairingRepository interface {
	// Create returns model.ErrShortCodeTaken when the short code collides
	Create(ctx context.Context, session *model.PairingSession) error
	GetByToken(ctx context.Context, token string) (*model.PairingSession, error)
	GetByShortCode(ctx context.Context, code string) (*model.PairingSession, error)
	// Redeem consumes the session, inserts the device and binds it, atomically.
	// A session that is already used or expired yields model.ErrPairingConsumed.
	Redeem(ctx context.Context, sessionID string, device *model.Device, now time.Time) error
}
