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

const pairingColumns = `id, user_id, api_key_id, token, short_code, expires_at, used, device_id, created_at`

type pairingRepository struct {
	db *sqlx.DB
}

func NewPairingRepository(db *sqlx.DB) PairingRepository {
	return &pairingRepository{db: db}
}

func (r *pairingRepository) Create(ctx context.Context, s *model.PairingSession) error {
	query := `
		INSERT INTO pairing_sessions (user_id, api_key_id, token, short_code, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, used, created_at
	`
	err := r.db.QueryRowxContext(ctx, query, s.UserID, s.APIKeyID, s.Token, s.ShortCode, s.ExpiresAt).
		Scan(&s.ID, &s.Used, &s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrShortCodeTaken
		}
		return fmt.Errorf("insert pairing session: %w", err)
	}
	return nil
}

func (r *pairingRepository) GetByToken(ctx context.Context, token string) (*model.PairingSession, error) {
	return r.getBy(ctx, "token", token)
}

func (r *pairingRepository) GetByShortCode(ctx context.Context, code string) (*model.PairingSession, error) {
	return r.getBy(ctx, "short_code", code)
}

// column is always one of the constants above, never user input.
func (r *pairingRepository) getBy(ctx context.Context, column, value string) (*model.PairingSession, error) {
	query := `SELECT ` + pairingColumns + ` FROM pairing_sessions WHERE ` + column + ` = $1`

	var s model.PairingSession
	if err := r.db.GetContext(ctx, &s, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPairingNotFound
		}
		return nil, fmt.Errorf("get pairing session: %w", err)
	}
	return &s, nil
}

func (r *pairingRepository) Redeem(ctx context.Context, sessionID string, d *model.Device, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	consume := `
		UPDATE pairing_sessions SET used = TRUE
		WHERE id = $1 AND used = FALSE AND expires_at >= $2
		RETURNING api_key_id
	`
	if err := tx.QueryRowxContext(ctx, consume, sessionID, now).Scan(&d.APIKeyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrPairingConsumed
		}
		return fmt.Errorf("consume pairing session: %w", err)
	}

	if err := insertDevice(ctx, tx, d); err != nil {
		return err
	}

	bind := `UPDATE pairing_sessions SET device_id = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bind, sessionID, d.ID); err != nil {
		return fmt.Errorf("bind paired device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
