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

const scanResultColumns = `id, request_id, pdf_path, pdf_size_bytes, ocr_text, page_count, created_at, picked_up, picked_up_at, auto_delete_at`

type scanResultRepository struct {
	db *sqlx.DB
}

func NewScanResultRepository(db *sqlx.DB) ScanResultRepository {
	return &scanResultRepository{db: db}
}

func (r *scanResultRepository) Complete(ctx context.Context, res *model.ScanResult, completedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO scan_results (request_id, pdf_path, pdf_size_bytes, ocr_text, page_count, auto_delete_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, picked_up
	`
	err = tx.QueryRowxContext(ctx, insert,
		res.RequestID,
		res.PDFPath,
		res.PDFSizeBytes,
		res.OCRText,
		res.PageCount,
		res.AutoDeleteAt,
	).Scan(&res.ID, &res.CreatedAt, &res.PickedUp)
	if err != nil {
		if isUniqueViolation(err) {
			// Another upload already completed this request.
			return model.ErrRequestNotFound
		}
		return fmt.Errorf("insert scan result: %w", err)
	}

	update := `UPDATE scan_requests SET status = 'completed', completed_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, res.RequestID, completedAt); err != nil {
		return fmt.Errorf("complete scan request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *scanResultRepository) GetByRequestID(ctx context.Context, requestID string) (*model.ScanResult, error) {
	query := `SELECT ` + scanResultColumns + ` FROM scan_results WHERE request_id = $1`

	var res model.ScanResult
	if err := r.db.GetContext(ctx, &res, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNoResult
		}
		return nil, fmt.Errorf("get scan result: %w", err)
	}
	return &res, nil
}

func (r *scanResultRepository) MarkPickedUp(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE scan_results SET picked_up = TRUE, picked_up_at = $2 WHERE id = $1 AND picked_up = FALSE`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark scan result picked up: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *scanResultRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.ScanResult, error) {
	query := `
		SELECT ` + scanResultColumns + `
		FROM scan_results
		WHERE auto_delete_at <= $1
		ORDER BY auto_delete_at ASC
		LIMIT $2
	`

	results := []model.ScanResult{}
	if err := r.db.SelectContext(ctx, &results, query, now, limit); err != nil {
		return nil, fmt.Errorf("list expired scan results: %w", err)
	}
	return results, nil
}

func (r *scanResultRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scan_results WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete scan result: %w", err)
	}
	return nil
}
