package deliverable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/apperr"
	"expertflow/db"
)

var ErrNotFound = apperr.NotFound("deliverable: not found")

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, d Deliverable) (Deliverable, error)
	Get(ctx context.Context, id string) (Deliverable, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deliverable, error)
	ListForContract(ctx context.Context, contractID string, verifiedOnly bool) ([]Deliverable, error)
	MarkVerified(ctx context.Context, tx pgx.Tx, id, verifierID string, at time.Time) (Deliverable, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const deliverableColumns = `id, contract_id, uploader_id, kind, storage_key, original_name, media_type, size_bytes, verified, verified_by, verified_at, created_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, d Deliverable) (Deliverable, error) {
	const query = `
		INSERT INTO deliverables (contract_id, uploader_id, kind, storage_key, original_name, media_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + deliverableColumns

	created, err := scanDeliverable(tx.QueryRow(ctx, query, d.ContractID, d.UploaderID, d.Kind, d.StorageKey, d.OriginalName, d.MediaType, d.SizeBytes))
	if err != nil {
		return Deliverable{}, fmt.Errorf("deliverable: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Deliverable, error) {
	d, err := scanDeliverable(r.pool.QueryRow(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE id = $1`, id))
	if err != nil {
		if db.NoRow(err) {
			return Deliverable{}, ErrNotFound
		}
		return Deliverable{}, fmt.Errorf("deliverable: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deliverable, error) {
	d, err := scanDeliverable(tx.QueryRow(ctx, `SELECT `+deliverableColumns+` FROM deliverables WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if db.NoRow(err) {
			return Deliverable{}, ErrNotFound
		}
		return Deliverable{}, fmt.Errorf("deliverable: lock: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListForContract(ctx context.Context, contractID string, verifiedOnly bool) ([]Deliverable, error) {
	query := `SELECT ` + deliverableColumns + ` FROM deliverables WHERE contract_id = $1`
	if verifiedOnly {
		query += ` AND verified`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("deliverable: list: %w", err)
	}
	defer rows.Close()

	out := []Deliverable{}
	for rows.Next() {
		d, err := scanDeliverable(rows)
		if err != nil {
			return nil, fmt.Errorf("deliverable: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deliverable: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) MarkVerified(ctx context.Context, tx pgx.Tx, id, verifierID string, at time.Time) (Deliverable, error) {
	const query = `
		UPDATE deliverables
		SET verified = true, verified_by = $2, verified_at = $3
		WHERE id = $1 AND NOT verified
		RETURNING ` + deliverableColumns

	d, err := scanDeliverable(tx.QueryRow(ctx, query, id, verifierID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deliverable{}, ErrAlreadyVerified
		}
		return Deliverable{}, fmt.Errorf("deliverable: mark verified: %w", err)
	}
	return d, nil
}

func scanDeliverable(row pgx.Row) (Deliverable, error) {
	var d Deliverable
	err := row.Scan(
		&d.ID,
		&d.ContractID,
		&d.UploaderID,
		&d.Kind,
		&d.StorageKey,
		&d.OriginalName,
		&d.MediaType,
		&d.SizeBytes,
		&d.Verified,
		&d.VerifiedBy,
		&d.VerifiedAt,
		&d.CreatedAt,
	)
	return d, err
}
