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

const scanRequestColumns = `id, api_key_id, device_id, targeted, message, status, webhook_url, webhook_secret, expires_at, created_at, completed_at`

type scanRequestRepository struct {
	db *sqlx.DB
}

func NewScanRequestRepository(db *sqlx.DB) ScanRequestRepository {
	return &scanRequestRepository{db: db}
}

func (r *scanRequestRepository) Create(ctx context.Context, req *model.ScanRequest) error {
	query := `
		INSERT INTO scan_requests (api_key_id, device_id, targeted, message, status, webhook_url, webhook_secret, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		req.APIKeyID,
		req.DeviceID,
		req.Targeted,
		req.Message,
		req.Status,
		req.WebhookURL,
		req.WebhookSecret,
		req.ExpiresAt,
	).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scan request: %w", err)
	}
	return nil
}

func (r *scanRequestRepository) GetForKey(ctx context.Context, id, apiKeyID string) (*model.ScanRequest, error) {
	query := `SELECT ` + scanRequestColumns + ` FROM scan_requests WHERE id = $1 AND api_key_id = $2`

	var req model.ScanRequest
	if err := r.db.GetContext(ctx, &req, query, id, apiKeyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, fmt.Errorf("get scan request: %w", err)
	}
	return &req, nil
}

func (r *scanRequestRepository) ListForKey(ctx context.Context, apiKeyID, status string, now time.Time) ([]model.ScanRequest, error) {
	query := `
		SELECT * FROM (
			SELECT id, api_key_id, device_id, targeted, message,
			       CASE WHEN status = 'pending' AND expires_at <= $2 THEN 'expired' ELSE status END AS status,
			       webhook_url, webhook_secret, expires_at, created_at, completed_at
			FROM scan_requests
			WHERE api_key_id = $1
		) r
		WHERE $3 = '' OR r.status = $3
		ORDER BY r.created_at DESC
	`

	requests := []model.ScanRequest{}
	if err := r.db.SelectContext(ctx, &requests, query, apiKeyID, now, status); err != nil {
		return nil, fmt.Errorf("list scan requests: %w", err)
	}
	return requests, nil
}

func (r *scanRequestRepository) ListVisible(ctx context.Context, apiKeyID, deviceID string, now time.Time) ([]model.ScanRequest, error) {
	query := `
		SELECT ` + scanRequestColumns + `
		FROM scan_requests
		WHERE api_key_id = $1
		  AND status = 'pending'
		  AND (device_id IS NULL OR device_id = $2)
		  AND expires_at > $3
		ORDER BY created_at ASC
	`

	requests := []model.ScanRequest{}
	if err := r.db.SelectContext(ctx, &requests, query, apiKeyID, deviceID, now); err != nil {
		return nil, fmt.Errorf("list visible scan requests: %w", err)
	}
	return requests, nil
}

func (r *scanRequestRepository) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE scan_requests SET status = 'expired'
		WHERE id = $1 AND status = 'pending' AND expires_at <= $2
	`
	return r.execOne(ctx, "expire scan request", query, id, now)
}

func (r *scanRequestRepository) Claim(ctx context.Context, id, apiKeyID, deviceID string, now time.Time) error {
	query := `
		UPDATE scan_requests
		SET status = 'scanning',
		    device_id = $3,
		    targeted = targeted AND device_id IS NOT NULL
		WHERE id = $1
		  AND api_key_id = $2
		  AND status = 'pending'
		  AND expires_at > $4
		  AND (device_id IS NULL OR device_id = $3)
	`
	ok, err := r.execOne(ctx, "claim scan request", query, id, apiKeyID, deviceID, now)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrRequestNotFound
	}
	return nil
}

func (r *scanRequestRepository) Reject(ctx context.Context, id, deviceID, from, to string) error {
	query := `
		UPDATE scan_requests
		SET status = $4,
		    device_id = CASE WHEN $4 = 'pending' THEN NULL ELSE device_id END
		WHERE id = $1
		  AND status = $3
		  AND (device_id = $2 OR (device_id IS NULL AND $3 = 'pending'))
	`
	ok, err := r.execOne(ctx, "reject scan request", query, id, deviceID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrRequestNotFound
	}
	return nil
}

// Cancel does not look at the current status. Cancelling a completed request overwrites it.
func (r *scanRequestRepository) Cancel(ctx context.Context, id, apiKeyID string) error {
	query := `UPDATE scan_requests SET status = 'cancelled' WHERE id = $1 AND api_key_id = $2`
	ok, err := r.execOne(ctx, "cancel scan request", query, id, apiKeyID)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrRequestNotFound
	}
	return nil
}

func (r *scanRequestRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE scan_requests SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale scan requests: %w", err)
	}
	return result.RowsAffected()
}

// execOne runs a single-row conditional update and reports whether a row matched.
func (r *scanRequestRepository) execOne(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}
