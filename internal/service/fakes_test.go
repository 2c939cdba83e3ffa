package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"agentscan/internal/model"
	"agentscan/internal/storage"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================
//
// memStore backs every fake repository below. The conditional updates behave
// like the SQL in internal/repository, so state-machine races can be tested
// without Postgres.

type memStore struct {
	mu       sync.Mutex
	keys     map[string]*model.APIKey
	devices  map[string]*model.Device
	requests map[string]*model.ScanRequest
	results  map[string]*model.ScanResult // by request id
	pairings map[string]*model.PairingSession

	// completeErr makes the next ScanResults.Complete fail
	completeErr error
	// shortCodeCollisions makes that many Pairings.Create calls collide
	shortCodeCollisions int
}

func newMemStore() *memStore {
	return &memStore{
		keys:     map[string]*model.APIKey{},
		devices:  map[string]*model.Device{},
		requests: map[string]*model.ScanRequest{},
		results:  map[string]*model.ScanResult{},
		pairings: map[string]*model.PairingSession{},
	}
}

type fakeKeys struct{ *memStore }
type fakeDevices struct{ *memStore }
type fakeRequests struct{ *memStore }
type fakeResults struct{ *memStore }
type fakePairings struct{ *memStore }

// --- api keys ---

func (s fakeKeys) Create(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key.ID = uuid.NewString()
	key.CreatedAt = time.Now()
	key.IsActive = true
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s fakeKeys) GetActiveByHash(_ context.Context, keyHash string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == keyHash && k.IsActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, model.ErrInvalidKey
}

func (s fakeKeys) GetByID(_ context.Context, id string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, model.ErrAPIKeyNotFound
}

func (s fakeKeys) ListByOwnerEmail(_ context.Context, ownerEmail string) ([]model.APIKey, error) {
	return s.listKeys(func(k *model.APIKey) bool { return k.OwnerEmail == ownerEmail }), nil
}

func (s fakeKeys) ListByUserID(_ context.Context, userID string) ([]model.APIKey, error) {
	return s.listKeys(func(k *model.APIKey) bool { return k.UserID != nil && *k.UserID == userID }), nil
}

func (s fakeKeys) listKeys(match func(*model.APIKey) bool) []model.APIKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.APIKey{}
	for _, k := range s.keys {
		if match(k) {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s fakeKeys) GetActiveForUser(_ context.Context, userID string, keyID *string) (*model.APIKey, error) {
	keys := s.listKeys(func(k *model.APIKey) bool {
		return k.IsActive && k.UserID != nil && *k.UserID == userID && (keyID == nil || k.ID == *keyID)
	})
	if len(keys) == 0 {
		return nil, model.ErrNoActiveKey
	}
	return &keys[0], nil
}

func (s fakeKeys) DeactivateForOwner(_ context.Context, id, ownerEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.OwnerEmail != ownerEmail {
		return model.ErrAPIKeyNotFound
	}
	k.IsActive = false
	return nil
}

func (s fakeKeys) DeactivateForUser(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID == nil || *k.UserID != userID {
		return model.ErrAPIKeyNotFound
	}
	k.IsActive = false
	return nil
}

func (s fakeKeys) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

// --- devices ---

func (s fakeDevices) Create(_ context.Context, d *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertDevice(d)
	return nil
}

// insertDevice expects s.mu to be held.
func (s *memStore) insertDevice(d *model.Device) {
	d.ID = uuid.NewString()
	d.PairedAt = time.Now()
	d.LastSeenAt = d.PairedAt
	cp := *d
	s.devices[d.ID] = &cp
}

func (s fakeDevices) GetForKey(_ context.Context, id, apiKeyID string) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[id]; ok && d.APIKeyID == apiKeyID {
		cp := *d
		return &cp, nil
	}
	return nil, model.ErrDeviceNotFound
}

func (s fakeDevices) ListByAPIKey(_ context.Context, apiKeyID string) ([]model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Device{}
	for _, d := range s.devices {
		if d.APIKeyID == apiKeyID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s fakeDevices) ListByUserID(_ context.Context, userID string) ([]model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Device{}
	for _, d := range s.devices {
		if k, ok := s.keys[d.APIKeyID]; ok && k.UserID != nil && *k.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s fakeDevices) DeleteForKey(_ context.Context, id, apiKeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok || d.APIKeyID != apiKeyID {
		return model.ErrUnknownDevice
	}
	s.deleteDevice(id)
	return nil
}

func (s fakeDevices) DeleteForUser(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return model.ErrUnknownDevice
	}
	if k, ok := s.keys[d.APIKeyID]; !ok || k.UserID == nil || *k.UserID != userID {
		return model.ErrUnknownDevice
	}
	s.deleteDevice(id)
	return nil
}

// deleteDevice mirrors ON DELETE SET NULL on scan_requests.device_id.
func (s *memStore) deleteDevice(id string) {
	delete(s.devices, id)
	for _, r := range s.requests {
		if r.DeviceID != nil && *r.DeviceID == id {
			r.DeviceID = nil
		}
	}
}

func (s fakeDevices) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[id]; ok {
		d.LastSeenAt = at
	}
	return nil
}

// --- scan requests ---

func (s fakeRequests) Create(_ context.Context, req *model.ScanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s fakeRequests) GetForKey(_ context.Context, id, apiKeyID string) (*model.ScanRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.requests[id]; ok && r.APIKeyID == apiKeyID {
		cp := *r
		return &cp, nil
	}
	return nil, model.ErrRequestNotFound
}

func (s fakeRequests) ListForKey(_ context.Context, apiKeyID, status string, now time.Time) ([]model.ScanRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.ScanRequest{}
	for _, r := range s.requests {
		if r.APIKeyID != apiKeyID {
			continue
		}
		cp := *r
		cp.Status = r.EffectiveStatus(now)
		if status == "" || cp.Status == status {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s fakeRequests) ListVisible(_ context.Context, apiKeyID, deviceID string, now time.Time) ([]model.ScanRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.ScanRequest{}
	for _, r := range s.requests {
		if r.APIKeyID == apiKeyID && r.VisibleTo(deviceID, now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s fakeRequests) MarkExpired(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || !r.IsExpired(now) {
		return false, nil
	}
	r.Status = model.StatusExpired
	return true, nil
}

func (s fakeRequests) Claim(_ context.Context, id, apiKeyID, deviceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.APIKeyID != apiKeyID || r.Status != model.StatusPending || !now.Before(r.ExpiresAt) {
		return model.ErrRequestNotFound
	}
	if r.DeviceID != nil && *r.DeviceID != deviceID {
		return model.ErrRequestNotFound
	}
	r.Targeted = r.Targeted && r.DeviceID != nil
	r.Status = model.StatusScanning
	r.DeviceID = &deviceID
	return nil
}

func (s fakeRequests) Reject(_ context.Context, id, deviceID, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != from {
		return model.ErrRequestNotFound
	}
	if !r.IsBoundTo(deviceID) && !(r.DeviceID == nil && from == model.StatusPending) {
		return model.ErrRequestNotFound
	}
	r.Status = to
	if to == model.StatusPending {
		r.DeviceID = nil
	}
	return nil
}

func (s fakeRequests) Cancel(_ context.Context, id, apiKeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.APIKeyID != apiKeyID {
		return model.ErrRequestNotFound
	}
	r.Status = model.StatusCancelled
	return nil
}

func (s fakeRequests) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.IsExpired(now) {
			r.Status = model.StatusExpired
			n++
		}
	}
	return n, nil
}

// --- scan results ---

func (s fakeResults) Complete(_ context.Context, res *model.ScanResult, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.completeErr; err != nil {
		s.completeErr = nil
		return err
	}
	if _, dup := s.results[res.RequestID]; dup {
		return model.ErrRequestNotFound
	}
	r, ok := s.requests[res.RequestID]
	if !ok {
		return errors.New("foreign key violation")
	}
	res.ID = uuid.NewString()
	res.CreatedAt = completedAt
	cp := *res
	s.results[res.RequestID] = &cp
	r.Status = model.StatusCompleted
	r.CompletedAt = &completedAt
	return nil
}

func (s fakeResults) GetByRequestID(_ context.Context, requestID string) (*model.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[requestID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, model.ErrNoResult
}

func (s fakeResults) MarkPickedUp(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.ID == id && !r.PickedUp {
			r.PickedUp, r.PickedUpAt = true, &at
			return true, nil
		}
	}
	return false, nil
}

func (s fakeResults) ListExpired(_ context.Context, now time.Time, limit int) ([]model.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.ScanResult{}
	for _, r := range s.results {
		if !r.AutoDeleteAt.After(now) && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s fakeResults) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for reqID, r := range s.results {
		if r.ID == id {
			delete(s.results, reqID)
		}
	}
	return nil
}

// --- pairing sessions ---

func (s fakePairings) Create(_ context.Context, session *model.PairingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shortCodeCollisions > 0 {
		s.shortCodeCollisions--
		return model.ErrShortCodeTaken
	}
	for _, p := range s.pairings {
		if p.ShortCode == session.ShortCode {
			return model.ErrShortCodeTaken
		}
	}
	session.ID = uuid.NewString()
	session.CreatedAt = time.Now()
	cp := *session
	s.pairings[session.ID] = &cp
	return nil
}

func (s fakePairings) GetByToken(_ context.Context, token string) (*model.PairingSession, error) {
	return s.find(func(p *model.PairingSession) bool { return p.Token == token })
}

func (s fakePairings) GetByShortCode(_ context.Context, code string) (*model.PairingSession, error) {
	return s.find(func(p *model.PairingSession) bool { return p.ShortCode == code })
}

func (s fakePairings) find(match func(*model.PairingSession) bool) (*model.PairingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pairings {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, model.ErrPairingNotFound
}

func (s fakePairings) Redeem(_ context.Context, sessionID string, device *model.Device, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairings[sessionID]
	if !ok || p.Used || p.IsExpired(now) {
		return model.ErrPairingConsumed
	}
	p.Used = true
	device.APIKeyID = p.APIKeyID
	s.insertDevice(device)
	p.DeviceID = &device.ID
	return nil
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// syncRunner runs tasks inline so tests can assert on their effects.
type syncRunner struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (r *syncRunner) Go(name string, fn func(ctx context.Context) error) {
	err := fn(context.Background())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.errs = append(r.errs, err)
}

func (r *syncRunner) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}

type pushCall struct {
	Token string
	Title string
	Data  map[string]string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []pushCall
}

func (n *recordingNotifier) Notify(_ context.Context, token, title, _ string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, pushCall{Token: token, Title: title, Data: data})
	return nil
}

type recordingWebhooks struct {
	mu         sync.Mutex
	deliveries []model.ScanRequest
}

func (w *recordingWebhooks) Deliver(_ context.Context, req *model.ScanRequest, _ *model.ScanResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deliveries = append(w.deliveries, *req)
	return nil
}

// fakeClock is a settable time source for the now fields of the services.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newMemBlobs() *storage.LocalStore {
	return storage.NewLocalStoreFs(afero.NewMemMapFs())
}
