package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"agentscan/internal/model"
)

const deviceColumns = `id, api_key_id, device_token, device_name, platform, paired_at, last_seen_at`

type deviceRepository struct {
	db *sqlx.DB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Create(ctx context.Context, d *model.Device) error {
	return insertDevice(ctx, r.db, d)
}

// insertDevice is shared with pairing redemption, which runs it inside a transaction.
func insertDevice(ctx context.Context, q sqlx.QueryerContext, d *model.Device) error {
	query := `
		INSERT INTO devices (api_key_id, device_token, device_name, platform)
		VALUES ($1, $2, $3, $4)
		RETURNING id, paired_at, last_seen_at
	`
	err := q.QueryRowxContext(ctx, query, d.APIKeyID, d.DeviceToken, d.DeviceName, d.Platform).
		Scan(&d.ID, &d.PairedAt, &d.LastSeenAt)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetForKey only finds devices paired with apiKeyID.
func (r *deviceRepository) GetForKey(ctx context.Context, id, apiKeyID string) (*model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1 AND api_key_id = $2`

	var d model.Device
	if err := r.db.GetContext(ctx, &d, query, id, apiKeyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

func (r *deviceRepository) ListByAPIKey(ctx context.Context, apiKeyID string) ([]model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE api_key_id = $1 ORDER BY paired_at DESC`

	devices := []model.Device{}
	if err := r.db.SelectContext(ctx, &devices, query, apiKeyID); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) ListByUserID(ctx context.Context, userID string) ([]model.Device, error) {
	query := `
		SELECT d.id, d.api_key_id, d.device_token, d.device_name, d.platform, d.paired_at, d.last_seen_at
		FROM devices d
		INNER JOIN api_keys k ON k.id = d.api_key_id
		WHERE k.user_id = $1
		ORDER BY d.paired_at DESC
	`

	devices := []model.Device{}
	if err := r.db.SelectContext(ctx, &devices, query, userID); err != nil {
		return nil, fmt.Errorf("list devices for user: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) DeleteForKey(ctx context.Context, id, apiKeyID string) error {
	query := `DELETE FROM devices WHERE id = $1 AND api_key_id = $2`
	return r.delete(ctx, query, id, apiKeyID)
}

func (r *deviceRepository) DeleteForUser(ctx context.Context, id, userID string) error {
	query := `
		DELETE FROM devices d
		USING api_keys k
		WHERE d.id = $1 AND k.id = d.api_key_id AND k.user_id = $2
	`
	return r.delete(ctx, query, id, userID)
}

func (r *deviceRepository) delete(ctx context.Context, query, id, scope string) error {
	result, err := r.db.ExecContext(ctx, query, id, scope)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrUnknownDevice
	}
	return nil
}

func (r *deviceRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET last_seen_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}
