package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agentscan/internal/model"
	"agentscan/internal/repository"
)

const pushTitleNewRequest = "New Scan Request"

// LifecycleService drives a scan request from pending to a terminal state.
// Every cross-request guarantee (one claim per request) comes from the
// conditional updates in the repository, never from in-process locks.
type LifecycleService struct {
	requests         repository.ScanRequestRepository
	devices          repository.DeviceRepository
	delivery         *DeliveryService
	push             Notifier
	runner           TaskRunner
	defaultExpiresIn int
	logger           *zap.Logger
	now              func() time.Time
}

func NewLifecycleService(
	requests repository.ScanRequestRepository,
	devices repository.DeviceRepository,
	delivery *DeliveryService,
	push Notifier,
	runner TaskRunner,
	defaultExpiresIn int,
	logger *zap.Logger,
) *LifecycleService {
	return &LifecycleService{
		requests:         requests,
		devices:          devices,
		delivery:         delivery,
		push:             push,
		runner:           runner,
		defaultExpiresIn: defaultExpiresIn,
		logger:           logger.Named("lifecycle"),
		now:              time.Now,
	}
}

// Create stores a pending request and notifies the target device, or every
// device of the key when the request is open.
func (s *LifecycleService) Create(ctx context.Context, key *model.APIKey, in *model.CreateScanRequest) (*model.CreatedScanRequest, error) {
	expiresIn := s.defaultExpiresIn
	if in.ExpiresIn != nil {
		expiresIn = *in.ExpiresIn
	}
	if expiresIn < model.MinExpiresIn || expiresIn > model.MaxExpiresIn {
		return nil, fmt.Errorf("%w: expires_in must be between %d and %d", model.ErrValidation, model.MinExpiresIn, model.MaxExpiresIn)
	}

	var target *model.Device
	if in.DeviceID != nil && *in.DeviceID != "" {
		if !isUUID(*in.DeviceID) {
			return nil, model.ErrTargetDeviceNotFound
		}
		d, err := s.devices.GetForKey(ctx, *in.DeviceID, key.ID)
		if err != nil {
			if errors.Is(err, model.ErrDeviceNotFound) {
				return nil, model.ErrTargetDeviceNotFound
			}
			return nil, err
		}
		target = d
	}

	now := s.now()
	req := &model.ScanRequest{
		APIKeyID:      key.ID,
		Message:       in.Message,
		Status:        model.StatusPending,
		WebhookURL:    nonEmpty(in.WebhookURL),
		WebhookSecret: nonEmpty(in.WebhookSecret),
		ExpiresAt:     now.Add(time.Duration(expiresIn) * time.Second),
	}
	if target != nil {
		req.DeviceID = &target.ID
		req.Targeted = true
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("request created",
		zap.String("request_id", req.ID),
		zap.String("key_id", key.ID),
		zap.Bool("targeted", req.Targeted),
	)

	s.notifyDevices(ctx, key, target, req)

	return &model.CreatedScanRequest{
		ID:        req.ID,
		Status:    req.Status,
		Message:   req.Message,
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

func (s *LifecycleService) notifyDevices(ctx context.Context, key *model.APIKey, target *model.Device, req *model.ScanRequest) {
	targets := []model.Device{}
	if target != nil {
		targets = append(targets, *target)
	} else {
		all, err := s.devices.ListByAPIKey(ctx, key.ID)
		if err != nil {
			s.logger.Warn("list devices for push", zap.String("request_id", req.ID), zap.Error(err))
			return
		}
		targets = all
	}

	data := map[string]string{"request_id": req.ID, "type": "scan_request"}
	for _, d := range targets {
		token := d.DeviceToken
		s.runner.Go("push", func(ctx context.Context) error {
			return s.push.Notify(ctx, token, pushTitleNewRequest, req.Message, data)
		})
	}
}

// List reports pending requests past their deadline as expired without writing them.
func (s *LifecycleService) List(ctx context.Context, key *model.APIKey, status string) ([]model.ScanRequest, error) {
	if status != "" && !model.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, status)
	}
	return s.requests.ListForKey(ctx, key.ID, status, s.now())
}

// Get persists lazy expiry: a pending request past its deadline is written
// as expired before it is returned.
func (s *LifecycleService) Get(ctx context.Context, key *model.APIKey, id string) (*model.ScanRequest, error) {
	req, err := s.getOwned(ctx, key, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if req.IsExpired(now) {
		if _, err := s.requests.MarkExpired(ctx, req.ID, now); err != nil {
			return nil, err
		}
		req.Status = model.StatusExpired
	}
	return req, nil
}

// Cancel always succeeds for an owned request, whatever its status.
func (s *LifecycleService) Cancel(ctx context.Context, key *model.APIKey, id string) (*model.StatusChange, error) {
	if !isUUID(id) {
		return nil, model.ErrRequestNotFound
	}
	if err := s.requests.Cancel(ctx, id, key.ID); err != nil {
		return nil, err
	}
	s.logger.Info("request cancelled", zap.String("request_id", id))
	return &model.StatusChange{ID: id, Status: model.StatusCancelled}, nil
}

// ListForDevice returns what device may claim right now.
func (s *LifecycleService) ListForDevice(ctx context.Context, key *model.APIKey, device *model.Device) ([]model.DeviceScanRequest, error) {
	rows, err := s.requests.ListVisible(ctx, key.ID, device.ID, s.now())
	if err != nil {
		return nil, err
	}

	out := make([]model.DeviceScanRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DeviceScanRequest{
			ID:        r.ID,
			Message:   r.Message,
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return out, nil
}

// Accept claims a pending request for device. A request that expired is
// persisted as expired and the claim fails with model.ErrRequestExpired.
func (s *LifecycleService) Accept(ctx context.Context, key *model.APIKey, device *model.Device, id string) (*model.StatusChange, error) {
	req, err := s.getOwned(ctx, key, id)
	if err != nil {
		return nil, err
	}
	if req.Status != model.StatusPending || (req.DeviceID != nil && !req.IsBoundTo(device.ID)) {
		return nil, model.ErrRequestNotFound
	}

	now := s.now()
	if req.IsExpired(now) {
		if _, err := s.requests.MarkExpired(ctx, req.ID, now); err != nil {
			return nil, err
		}
		return nil, model.ErrRequestExpired
	}

	if err := s.requests.Claim(ctx, req.ID, key.ID, device.ID, now); err != nil {
		return nil, err
	}

	s.logger.Info("request claimed", zap.String("request_id", req.ID), zap.String("device_id", device.ID))
	return &model.StatusChange{ID: req.ID, Status: model.StatusScanning}, nil
}

// Reject hands a request back. Open requests return to the pool; a request
// that was targeted at this device is cancelled instead of being re-offered.
func (s *LifecycleService) Reject(ctx context.Context, key *model.APIKey, device *model.Device, id string) (*model.StatusChange, error) {
	req, err := s.getOwned(ctx, key, id)
	if err != nil {
		return nil, err
	}

	var to string
	switch req.Status {
	case model.StatusPending:
		if req.IsExpired(s.now()) {
			return nil, model.ErrRequestNotFound
		}
		if req.DeviceID == nil {
			// Open, or its target was unpaired. Nothing to release.
			return &model.StatusChange{ID: req.ID, Status: model.StatusPending}, nil
		}
		if !req.IsBoundTo(device.ID) {
			return nil, model.ErrRequestNotFound
		}
		to = model.StatusCancelled
	case model.StatusScanning:
		if !req.IsBoundTo(device.ID) {
			return nil, model.ErrRequestNotFound
		}
		to = model.StatusPending
		if req.Targeted {
			to = model.StatusCancelled
		}
	default:
		return nil, model.ErrRequestNotFound
	}

	if err := s.requests.Reject(ctx, req.ID, device.ID, req.Status, to); err != nil {
		return nil, err
	}

	s.logger.Info("request rejected",
		zap.String("request_id", req.ID),
		zap.String("device_id", device.ID),
		zap.String("status", to),
	)
	return &model.StatusChange{ID: req.ID, Status: to}, nil
}

// Complete attaches the uploaded artifact to a request this device is scanning.
func (s *LifecycleService) Complete(ctx context.Context, key *model.APIKey, device *model.Device, id string, art model.Artifact) (*model.CompletedScan, error) {
	req, err := s.Scanning(ctx, key, device, id)
	if err != nil {
		return nil, err
	}
	return s.Finish(ctx, req, art)
}

// Scanning returns the request if device currently holds it in scanning,
// the only state an upload is accepted in.
func (s *LifecycleService) Scanning(ctx context.Context, key *model.APIKey, device *model.Device, id string) (*model.ScanRequest, error) {
	req, err := s.getOwned(ctx, key, id)
	if err != nil {
		return nil, err
	}
	if req.Status != model.StatusScanning || !req.IsBoundTo(device.ID) {
		return nil, model.ErrRequestNotFound
	}
	return req, nil
}

// Finish attaches art to a request returned by Scanning.
func (s *LifecycleService) Finish(ctx context.Context, req *model.ScanRequest, art model.Artifact) (*model.CompletedScan, error) {
	res, err := s.delivery.AttachResult(ctx, req, art)
	if err != nil {
		return nil, err
	}

	return &model.CompletedScan{
		ID:           res.ID,
		RequestID:    req.ID,
		Status:       model.StatusCompleted,
		PDFSizeBytes: res.PDFSizeBytes,
		PageCount:    res.PageCount,
		CreatedAt:    res.CreatedAt,
	}, nil
}

func (s *LifecycleService) getOwned(ctx context.Context, key *model.APIKey, id string) (*model.ScanRequest, error) {
	if !isUUID(id) {
		return nil, model.ErrRequestNotFound
	}
	return s.requests.GetForKey(ctx, id, key.ID)
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
