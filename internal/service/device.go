package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agentscan/internal/model"
	"agentscan/internal/repository"
)

// DeviceService pairs phones directly with an API key and removes them.
type DeviceService struct {
	devices repository.DeviceRepository
	logger  *zap.Logger
}

func NewDeviceService(devices repository.DeviceRepository, logger *zap.Logger) *DeviceService {
	return &DeviceService{devices: devices, logger: logger.Named("device")}
}

func (s *DeviceService) Pair(ctx context.Context, key *model.APIKey, info model.DeviceInfo) (*model.Device, error) {
	device := &model.Device{
		APIKeyID:    key.ID,
		DeviceToken: info.DeviceToken,
		DeviceName:  info.DeviceName,
		Platform:    info.Platform,
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("pair device: %w", err)
	}

	s.logger.Info("device paired", zap.String("device_id", device.ID), zap.String("key_id", key.ID))
	return device, nil
}

func (s *DeviceService) List(ctx context.Context, key *model.APIKey) ([]model.Device, error) {
	return s.devices.ListByAPIKey(ctx, key.ID)
}

func (s *DeviceService) ListForUser(ctx context.Context, userID string) ([]model.Device, error) {
	return s.devices.ListByUserID(ctx, userID)
}

// Unpair deletes the device. Requests that targeted it keep their rows with a
// null device and are open to the other devices of the key.
func (s *DeviceService) Unpair(ctx context.Context, key *model.APIKey, id string) (*model.UnpairedDevice, error) {
	if !isUUID(id) {
		return nil, model.ErrUnknownDevice
	}
	if err := s.devices.DeleteForKey(ctx, id, key.ID); err != nil {
		return nil, err
	}
	s.logger.Info("device unpaired", zap.String("device_id", id))
	return &model.UnpairedDevice{ID: id, Unpaired: true}, nil
}

func (s *DeviceService) UnpairForUser(ctx context.Context, userID, id string) (*model.UnpairedDevice, error) {
	if !isUUID(id) {
		return nil, model.ErrUnknownDevice
	}
	if err := s.devices.DeleteForUser(ctx, id, userID); err != nil {
		return nil, err
	}
	s.logger.Info("device unpaired", zap.String("device_id", id), zap.String("user_id", userID))
	return &model.UnpairedDevice{ID: id, Unpaired: true}, nil
}
