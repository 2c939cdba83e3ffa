package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"agentscan/internal/model"
)

func newCredentialFixture() (*CredentialService, *memStore, *syncRunner) {
	store := newMemStore()
	runner := &syncRunner{}
	return NewCredentialService(fakeKeys{store}, fakeDevices{store}, runner, zap.NewNop()), store, runner
}

func TestCredential_IssueAndAuthenticate(t *testing.T) {
	svc, store, runner := newCredentialFixture()
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "ci", "ops@example.com", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(issued.Key, apiKeyPrefix) || len(issued.Key) != len(apiKeyPrefix)+64 {
		t.Errorf("unexpected key format %q", issued.Key)
	}
	if issued.KeyPrefix != issued.Key[:model.APIKeyPrefixLen] {
		t.Errorf("prefix = %q, want first %d chars", issued.KeyPrefix, model.APIKeyPrefixLen)
	}
	if stored := store.keys[issued.ID]; stored.KeyHash == issued.Key || stored.KeyHash != HashAPIKey(issued.Key) {
		t.Error("only the sha256 of the key should be stored")
	}

	key, err := svc.Authenticate(ctx, issued.Key)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if key.ID != issued.ID {
		t.Errorf("authenticated as %q, want %q", key.ID, issued.ID)
	}
	if runner.count("touch-api-key") != 1 || store.keys[issued.ID].LastUsedAt == nil {
		t.Error("last_used_at should be refreshed in the background")
	}
}

func TestCredential_IssueDefaultName(t *testing.T) {
	svc, _, _ := newCredentialFixture()

	issued, err := svc.Issue(context.Background(), "   ", "ops@example.com", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Name != defaultKeyName {
		t.Errorf("name = %q, want %q", issued.Name, defaultKeyName)
	}
}

func TestCredential_RevokedKeyFailsAuthentication(t *testing.T) {
	svc, _, _ := newCredentialFixture()
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "temp", "ops@example.com", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	caller, err := svc.Authenticate(ctx, issued.Key)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	revoked, err := svc.RevokeForOwner(ctx, caller, issued.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.IsActive {
		t.Error("revoked key reported active")
	}

	if _, err := svc.Authenticate(ctx, issued.Key); !errors.Is(err, model.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey after revoke, got %v", err)
	}
}

func TestCredential_RevokeOtherOwner(t *testing.T) {
	svc, _, _ := newCredentialFixture()
	ctx := context.Background()

	mine, _ := svc.Issue(ctx, "mine", "a@example.com", nil)
	theirs, _ := svc.Issue(ctx, "theirs", "b@example.com", nil)
	caller, err := svc.Authenticate(ctx, mine.Key)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := svc.RevokeForOwner(ctx, caller, theirs.ID); !errors.Is(err, model.ErrAPIKeyNotFound) {
		t.Errorf("expected ErrAPIKeyNotFound, got %v", err)
	}
	if _, err := svc.RevokeForOwner(ctx, caller, "nope"); !errors.Is(err, model.ErrAPIKeyNotFound) {
		t.Errorf("malformed id: expected ErrAPIKeyNotFound, got %v", err)
	}
}

func TestCredential_Authenticate_Rejects(t *testing.T) {
	svc, _, _ := newCredentialFixture()
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, " "); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("blank key: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "sk_live_unknown"); !errors.Is(err, model.ErrInvalidKey) {
		t.Errorf("unknown key: expected ErrInvalidKey, got %v", err)
	}
}

func TestCredential_AuthorizeDevice(t *testing.T) {
	svc, store, runner := newCredentialFixture()
	ctx := context.Background()

	issued, _ := svc.Issue(ctx, "one", "a@example.com", nil)
	other, _ := svc.Issue(ctx, "two", "b@example.com", nil)
	key, _ := svc.Authenticate(ctx, issued.Key)

	mine := &model.Device{APIKeyID: issued.ID, DeviceToken: "t1", DeviceName: "mine", Platform: model.PlatformIOS}
	foreign := &model.Device{APIKeyID: other.ID, DeviceToken: "t2", DeviceName: "foreign", Platform: model.PlatformIOS}
	_ = (fakeDevices{store}).Create(ctx, mine)
	_ = (fakeDevices{store}).Create(ctx, foreign)

	got, err := svc.AuthorizeDevice(ctx, key, mine.ID)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got.ID != mine.ID || runner.count("touch-device") != 1 {
		t.Errorf("expected device %s with a last_seen refresh", mine.ID)
	}

	tests := []struct {
		name     string
		deviceID string
		want     error
	}{
		{name: "missing", deviceID: "", want: model.ErrMissingDeviceID},
		{name: "malformed", deviceID: "phone-1", want: model.ErrDeviceNotFound},
		{name: "paired to another key", deviceID: foreign.ID, want: model.ErrDeviceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.AuthorizeDevice(ctx, key, tt.deviceID); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDeviceService_UnpairKeepsRequests(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	devices := NewDeviceService(fakeDevices{store}, zap.NewNop())
	key := &model.APIKey{ID: "8d1e2f3a-1111-4222-8333-444444444444"}

	d, err := devices.Pair(ctx, key, model.DeviceInfo{DeviceToken: "t", DeviceName: "n", Platform: model.PlatformAndroid})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	req := &model.ScanRequest{APIKeyID: key.ID, DeviceID: &d.ID, Targeted: true, Status: model.StatusPending}
	_ = (fakeRequests{store}).Create(ctx, req)

	if _, err := devices.Unpair(ctx, key, d.ID); err != nil {
		t.Fatalf("unpair: %v", err)
	}
	if r := store.requests[req.ID]; r == nil || r.DeviceID != nil {
		t.Errorf("request should survive with a null device, got %+v", r)
	}

	if _, err := devices.Unpair(ctx, key, d.ID); !errors.Is(err, model.ErrUnknownDevice) {
		t.Errorf("second unpair: expected ErrUnknownDevice, got %v", err)
	}
}
