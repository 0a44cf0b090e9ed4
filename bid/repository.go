package bid

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/apperr"
	"expertflow/db"
)

var (
	ErrNotFound = apperr.NotFound("bid: not found")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error)
	Get(ctx context.Context, id string) (Bid, error)
	ListForRequest(ctx context.Context, requestID string) ([]Bid, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Bid, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, status Status) error
	// RejectSiblings rejects every other pending bid on the request and
	// returns how many changed.
	RejectSiblings(ctx context.Context, tx pgx.Tx, requestID, acceptedID string) (int64, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const bidColumns = `id, request_id, provider_id, price, duration_days, pitch, status, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error) {
	const query = `
		INSERT INTO bids (id, request_id, provider_id, price, duration_days, pitch, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
		RETURNING ` + bidColumns

	created, err := scanBid(tx.QueryRow(ctx, query, b.ID, b.RequestID, b.ProviderID, b.Price, b.DurationDays, b.Pitch, b.Status))
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Bid{}, apperr.NotFound("bid: request %s not found", b.RequestID)
		}
		return Bid{}, fmt.Errorf("bid: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Bid, error) {
	b, err := scanBid(r.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		if db.NoRow(err) {
			return Bid{}, ErrNotFound
		}
		return Bid{}, fmt.Errorf("bid: get: %w", err)
	}
	return b, nil
}

func (r *PGRepository) ListForRequest(ctx context.Context, requestID string) ([]Bid, error) {
	const query = `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE request_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("bid: list for request: %w", err)
	}
	defer rows.Close()

	bids := make([]Bid, 0, 8)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid: scan: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate: %w", err)
	}
	return bids, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Bid, error) {
	b, err := scanBid(tx.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if db.NoRow(err) {
			return Bid{}, ErrNotFound
		}
		return Bid{}, fmt.Errorf("bid: lock: %w", err)
	}
	return b, nil
}

func (r *PGRepository) SetStatus(ctx context.Context, tx pgx.Tx, id string, status Status) error {
	if _, err := tx.Exec(ctx, `UPDATE bids SET status = $2, updated_at = now() WHERE id = $1`, id, status); err != nil {
		if db.IsUniqueViolation(err, "bids_one_accepted_per_request") {
			return ErrNotPending
		}
		return fmt.Errorf("bid: set status: %w", err)
	}
	return nil
}

func (r *PGRepository) RejectSiblings(ctx context.Context, tx pgx.Tx, requestID, acceptedID string) (int64, error) {
	const query = `
		UPDATE bids
		SET status = 'REJECTED', updated_at = now()
		WHERE request_id = $1 AND id <> $2 AND status = 'PENDING'
	`
	tag, err := tx.Exec(ctx, query, requestID, acceptedID)
	if err != nil {
		return 0, fmt.Errorf("bid: reject siblings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanBid(row pgx.Row) (Bid, error) {
	var b Bid
	err := row.Scan(&b.ID, &b.RequestID, &b.ProviderID, &b.Price, &b.DurationDays, &b.Pitch, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}
