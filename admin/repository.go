package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/auth"
)

type Repository interface {
	CountUsers(ctx context.Context) (map[auth.Role]int64, error)
	CountByStatus(ctx context.Context, table string) (map[string]int64, error)
	Money(ctx context.Context) (Money, error)
	Backlog(ctx context.Context) (Backlog, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Tables whose status column CountByStatus may group. The name is spliced
// into SQL, so it must come from this set.
var statusTables = map[string]bool{
	"requests":        true,
	"bids":            true,
	"contracts":       true,
	"payout_requests": true,
}

func (r *PGRepository) CountUsers(ctx context.Context) (map[auth.Role]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("admin: count users: %w", err)
	}
	defer rows.Close()

	out := map[auth.Role]int64{}
	for rows.Next() {
		var (
			role auth.Role
			n    int64
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("admin: scan user count: %w", err)
		}
		out[role] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("admin: iterate user counts: %w", err)
	}
	return out, nil
}

func (r *PGRepository) CountByStatus(ctx context.Context, table string) (map[string]int64, error) {
	if !statusTables[table] {
		return nil, fmt.Errorf("admin: no status counts for %q", table)
	}
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("admin: count %s: %w", table, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("admin: scan %s count: %w", table, err)
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("admin: iterate %s counts: %w", table, err)
	}
	return out, nil
}

func (r *PGRepository) Money(ctx context.Context) (Money, error) {
	const q = `
		SELECT
			(SELECT COALESCE(SUM(agreed_price), 0) FROM contracts WHERE status = 'COMPLETED'),
			(SELECT COALESCE(SUM(amount), 0) FROM payout_requests WHERE status = 'PAID'),
			(SELECT COALESCE(AVG(rating), 0)::float8 FROM reviews),
			(SELECT COUNT(*) FROM reviews)
	`
	var m Money
	if err := r.pool.QueryRow(ctx, q).Scan(&m.CompletedVolume, &m.PaidOut, &m.AverageRating, &m.Reviews); err != nil {
		return Money{}, fmt.Errorf("admin: money: %w", err)
	}
	return m, nil
}

func (r *PGRepository) Backlog(ctx context.Context) (Backlog, error) {
	const q = `
		SELECT
			(SELECT COUNT(*) FROM deliverables WHERE NOT verified),
			(SELECT COUNT(*) FROM payout_requests WHERE status = 'PENDING'),
			(SELECT COALESCE(SUM(amount), 0) FROM payout_requests WHERE status = 'PENDING'),
			(SELECT COUNT(*) FROM provider_profiles WHERE verification_status = 'PENDING')
	`
	var b Backlog
	if err := r.pool.QueryRow(ctx, q).Scan(&b.DeliverablesToVerify, &b.PayoutsPending, &b.PayoutsPendingAmount, &b.VerificationsPending); err != nil {
		return Backlog{}, fmt.Errorf("admin: backlog: %w", err)
	}
	return b, nil
}

// ListUsers returns accounts newest first.
func (r *PGRepository) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	const q = `
		SELECT id, email, full_name, role, created_at
		FROM users
		WHERE $1 = '' OR role = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, q, string(filter.Role), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("admin: list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0, filter.Limit)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("admin: scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("admin: iterate users: %w", err)
	}
	return out, nil
}
