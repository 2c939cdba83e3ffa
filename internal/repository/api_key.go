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

const apiKeyColumns = `id, name, key_hash, key_prefix, owner_email, user_id, created_at, last_used_at, is_active`

type apiKeyRepository struct {
	db *sqlx.DB
}

func NewAPIKeyRepository(db *sqlx.DB) APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Create(ctx context.Context, k *model.APIKey) error {
	query := `
		INSERT INTO api_keys (name, key_hash, key_prefix, owner_email, user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, is_active
	`
	err := r.db.QueryRowxContext(ctx, query, k.Name, k.KeyHash, k.KeyPrefix, k.OwnerEmail, k.UserID).
		Scan(&k.ID, &k.CreatedAt, &k.IsActive)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepository) GetActiveByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND is_active = TRUE`

	var k model.APIKey
	if err := r.db.GetContext(ctx, &k, query, keyHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrInvalidKey
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &k, nil
}

func (r *apiKeyRepository) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	var k model.APIKey
	if err := r.db.GetContext(ctx, &k, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

func (r *apiKeyRepository) ListByOwnerEmail(ctx context.Context, ownerEmail string) ([]model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE owner_email = $1 ORDER BY created_at DESC`

	keys := []model.APIKey{}
	if err := r.db.SelectContext(ctx, &keys, query, ownerEmail); err != nil {
		return nil, fmt.Errorf("list api keys by owner: %w", err)
	}
	return keys, nil
}

func (r *apiKeyRepository) ListByUserID(ctx context.Context, userID string) ([]model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`

	keys := []model.APIKey{}
	if err := r.db.SelectContext(ctx, &keys, query, userID); err != nil {
		return nil, fmt.Errorf("list api keys by user: %w", err)
	}
	return keys, nil
}

func (r *apiKeyRepository) GetActiveForUser(ctx context.Context, userID string, keyID *string) (*model.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE user_id = $1 AND is_active = TRUE AND ($2::uuid IS NULL OR id = $2::uuid)
		ORDER BY created_at ASC
		LIMIT 1
	`

	var k model.APIKey
	if err := r.db.GetContext(ctx, &k, query, userID, keyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNoActiveKey
		}
		return nil, fmt.Errorf("get active api key for user: %w", err)
	}
	return &k, nil
}

func (r *apiKeyRepository) DeactivateForOwner(ctx context.Context, id, ownerEmail string) error {
	query := `UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND owner_email = $2`
	return r.deactivate(ctx, query, id, ownerEmail)
}

func (r *apiKeyRepository) DeactivateForUser(ctx context.Context, id, userID string) error {
	query := `UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND user_id = $2`
	return r.deactivate(ctx, query, id, userID)
}

func (r *apiKeyRepository) deactivate(ctx context.Context, query, id, scope string) error {
	result, err := r.db.ExecContext(ctx, query, id, scope)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrAPIKeyNotFound
	}
	return nil
}

func (r *apiKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
