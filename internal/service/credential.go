package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentscan/internal/model"
	"agentscan/internal/repository"
)

const defaultKeyName = "Untitled Key"

// CredentialService authenticates API keys and paired devices and manages key issuance.
type CredentialService struct {
	keys    repository.APIKeyRepository
	devices repository.DeviceRepository
	runner  TaskRunner
	logger  *zap.Logger
	now     func() time.Time
}

func NewCredentialService(
	keys repository.APIKeyRepository,
	devices repository.DeviceRepository,
	runner TaskRunner,
	logger *zap.Logger,
) *CredentialService {
	return &CredentialService{
		keys:    keys,
		devices: devices,
		runner:  runner,
		logger:  logger.Named("credential"),
		now:     time.Now,
	}
}

// Authenticate resolves a raw bearer secret to an active key. The last_used_at
// refresh happens in the background so the caller never waits on it.
func (s *CredentialService) Authenticate(ctx context.Context, raw string) (*model.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, model.ErrUnauthorized
	}

	key, err := s.keys.GetActiveByHash(ctx, HashAPIKey(raw))
	if err != nil {
		return nil, err
	}

	at := s.now()
	s.runner.Go("touch-api-key", func(ctx context.Context) error {
		return s.keys.TouchLastUsed(ctx, key.ID, at)
	})
	return key, nil
}

// AuthorizeDevice checks that deviceID is paired with key and refreshes last_seen_at.
func (s *CredentialService) AuthorizeDevice(ctx context.Context, key *model.APIKey, deviceID string) (*model.Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, model.ErrMissingDeviceID
	}
	if !isUUID(deviceID) {
		return nil, model.ErrDeviceNotFound
	}

	device, err := s.devices.GetForKey(ctx, deviceID, key.ID)
	if err != nil {
		return nil, err
	}

	at := s.now()
	s.runner.Go("touch-device", func(ctx context.Context) error {
		return s.devices.TouchLastSeen(ctx, device.ID, at)
	})
	return device, nil
}

// Issue creates a key and returns the raw secret. It is never retrievable again.
func (s *CredentialService) Issue(ctx context.Context, name, ownerEmail string, userID *string) (*model.IssuedKey, error) {
	if strings.TrimSpace(name) == "" {
		name = defaultKeyName
	}

	raw, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &model.APIKey{
		Name:       name,
		KeyHash:    HashAPIKey(raw),
		KeyPrefix:  keyPrefix(raw),
		OwnerEmail: ownerEmail,
		UserID:     userID,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info("api key issued", zap.String("key_id", key.ID), zap.String("prefix", key.KeyPrefix))

	return &model.IssuedKey{
		ID:         key.ID,
		Name:       key.Name,
		Key:        raw,
		KeyPrefix:  key.KeyPrefix,
		OwnerEmail: key.OwnerEmail,
		CreatedAt:  key.CreatedAt,
	}, nil
}

// ListForOwner lists the keys that share the caller's owner email.
func (s *CredentialService) ListForOwner(ctx context.Context, caller *model.APIKey) ([]model.APIKey, error) {
	return s.keys.ListByOwnerEmail(ctx, caller.OwnerEmail)
}

func (s *CredentialService) ListForUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	return s.keys.ListByUserID(ctx, userID)
}

// RevokeForOwner deactivates a key owned by the caller's owner email.
// The next authentication with that key fails.
func (s *CredentialService) RevokeForOwner(ctx context.Context, caller *model.APIKey, id string) (*model.RevokedKey, error) {
	if !isUUID(id) {
		return nil, model.ErrAPIKeyNotFound
	}
	if err := s.keys.DeactivateForOwner(ctx, id, caller.OwnerEmail); err != nil {
		return nil, err
	}
	s.logger.Info("api key revoked", zap.String("key_id", id))
	return &model.RevokedKey{ID: id, IsActive: false}, nil
}

func (s *CredentialService) RevokeForUser(ctx context.Context, userID, id string) (*model.RevokedKey, error) {
	if !isUUID(id) {
		return nil, model.ErrAPIKeyNotFound
	}
	if err := s.keys.DeactivateForUser(ctx, id, userID); err != nil {
		return nil, err
	}
	s.logger.Info("api key revoked", zap.String("key_id", id), zap.String("user_id", userID))
	return &model.RevokedKey{ID: id, IsActive: false}, nil
}

func isUUID(s string) bool {
	return uuid.Validate(s) == nil
}
