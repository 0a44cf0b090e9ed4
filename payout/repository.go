package payout

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/apperr"
	"expertflow/db"
)

var ErrNotFound = apperr.NotFound("payout: not found")

type Repository interface {
	Totals(ctx context.Context, providerID string) (Totals, error)
	// LockedTotals serializes the provider's payout requests for the rest
	// of tx and returns totals read under that lock.
	LockedTotals(ctx context.Context, tx pgx.Tx, providerID string) (Totals, error)
	Create(ctx context.Context, tx pgx.Tx, p Payout) (Payout, error)
	ListForProvider(ctx context.Context, providerID string) ([]Payout, error)
	List(ctx context.Context, status Status) ([]Payout, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Payout, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, status Status, reviewerID string) (Payout, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const totalsQuery = `
    SELECT
        COALESCE(SUM(c.agreed_price) FILTER (WHERE c.status = 'COMPLETED'), 0),
        COALESCE(SUM(c.agreed_price) FILTER (WHERE c.status IN ('IN_PROGRESS', 'AWAITING_REVIEW', 'RETURNED')), 0),
        COUNT(*) FILTER (WHERE c.status = 'COMPLETED'),
        (SELECT COALESCE(SUM(p.amount), 0) FROM payout_requests p
          WHERE p.provider_id = $1 AND p.status <> 'REJECTED')
    FROM contracts c
    WHERE c.provider_id = $1
`

func readTotals(ctx context.Context, q rowQuerier, providerID string) (Totals, error) {
	var t Totals
	err := q.QueryRow(ctx, totalsQuery, providerID).Scan(&t.Earned, &t.Active, &t.CompletedCount, &t.Committed)
	if err != nil {
		return Totals{}, fmt.Errorf("payout: totals: %w", err)
	}
	return t, nil
}

func (r *PGRepository) Totals(ctx context.Context, providerID string) (Totals, error) {
	return readTotals(ctx, r.pool, providerID)
}

func (r *PGRepository) LockedTotals(ctx context.Context, tx pgx.Tx, providerID string) (Totals, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, providerID); err != nil {
		return Totals{}, fmt.Errorf("payout: lock provider: %w", err)
	}
	return readTotals(ctx, tx, providerID)
}

const payoutColumns = `id, provider_id, amount, currency, method, destination, note, status, reviewed_by, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Payout) (Payout, error) {
	const query = `
        INSERT INTO payout_requests (provider_id, amount, currency, method, destination, note, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING ` + payoutColumns

	created, err := scanPayout(tx.QueryRow(ctx, query,
		p.ProviderID, p.Amount, p.Currency, p.Method, p.Destination, p.Note, p.Status))
	if err != nil {
		return Payout{}, fmt.Errorf("payout: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) ListForProvider(ctx context.Context, providerID string) ([]Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE provider_id = $1 ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query, providerID)
}

// List returns every payout request, optionally narrowed to one status.
func (r *PGRepository) List(ctx context.Context, status Status) ([]Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return r.list(ctx, query, args...)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Payout, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payout: list: %w", err)
	}
	defer rows.Close()

	out := make([]Payout, 0, 8)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("payout: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payout: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Payout, error) {
	row := tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPayout(row)
	if err != nil {
		if db.NoRow(err) {
			return Payout{}, ErrNotFound
		}
		return Payout{}, fmt.Errorf("payout: get for update: %w", err)
	}
	return p, nil
}

func (r *PGRepository) SetStatus(ctx context.Context, tx pgx.Tx, id string, status Status, reviewerID string) (Payout, error) {
	const query = `
        UPDATE payout_requests
        SET status = $2, reviewed_by = $3, updated_at = now()
        WHERE id = $1
        RETURNING ` + payoutColumns

	p, err := scanPayout(tx.QueryRow(ctx, query, id, status, reviewerID))
	if err != nil {
		if db.NoRow(err) {
			return Payout{}, ErrNotFound
		}
		return Payout{}, fmt.Errorf("payout: set status: %w", err)
	}
	return p, nil
}

func scanPayout(row pgx.Row) (Payout, error) {
	var p Payout
	err := row.Scan(
		&p.ID,
		&p.ProviderID,
		&p.Amount,
		&p.Currency,
		&p.Method,
		&p.Destination,
		&p.Note,
		&p.Status,
		&p.ReviewedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}
