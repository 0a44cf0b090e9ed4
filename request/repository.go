package request

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/apperr"
	"expertflow/db"
)

var (
	ErrNotFound = apperr.NotFound("request: not found")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
	// GetForUpdate locks the request row and reports whether a contract
	// already references it.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, bool, error)
	Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	MarkCommitted(ctx context.Context, tx pgx.Tx, id string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, owner_id, title, description, category, difficulty, due_at, price_min, price_max, status, attachment_key, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	const query = `
        INSERT INTO requests (id, owner_id, title, description, category, difficulty, due_at,
            price_min, price_max, status, attachment_key)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.OwnerID,
		req.Title,
		req.Description,
		req.Category,
		req.Difficulty,
		req.DueAt,
		req.PriceMin,
		req.PriceMax,
		req.Status,
		req.AttachmentKey,
	)

	created, err := scanRequest(row)
	if err != nil {
		if db.IsCheckViolation(err) {
			return Request{}, apperr.Validation("request: price bounds rejected: %v", err)
		}
		return Request{}, fmt.Errorf("request: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if db.NoRow(err) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get: %w", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 50
	}
	if filters.SortOrder == "" {
		filters.SortOrder = "desc"
	}

	base := `SELECT ` + requestColumns + ` FROM requests`
	where := []string{"1=1"}
	args := []any{}

	if filters.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id=$%d", len(args)+1))
		args = append(args, filters.OwnerID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Category != "" {
		where = append(where, fmt.Sprintf("category=$%d", len(args)+1))
		args = append(args, filters.Category)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	// id breaks ties so equal timestamps still page deterministically.
	query := fmt.Sprintf(`%s%s ORDER BY %s %s, id %s LIMIT %d OFFSET %d`, base, whereClause, sortKey, sortOrder, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("request: query list: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("request: scan list: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("request: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM requests%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("request: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, bool, error) {
	const query = `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE id = $1
		FOR UPDATE
	`

	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if db.NoRow(err) {
			return Request{}, false, ErrNotFound
		}
		return Request{}, false, fmt.Errorf("request: get for update: %w", err)
	}

	var hasContract bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE request_id = $1)`, id).Scan(&hasContract); err != nil {
		return Request{}, false, fmt.Errorf("request: check contract: %w", err)
	}
	return req, hasContract, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	const query = `
		UPDATE requests
		SET title = $2,
		    due_at = $3,
		    price_min = $4,
		    price_max = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + requestColumns

	updated, err := scanRequest(tx.QueryRow(ctx, query, req.ID, req.Title, req.DueAt, req.PriceMin, req.PriceMax))
	if err != nil {
		if db.NoRow(err) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: update: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) MarkCommitted(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `UPDATE requests SET status = 'COMMITTED', updated_at = now() WHERE id = $1 AND status = 'OPEN'`, id)
	if err != nil {
		return fmt.Errorf("request: mark committed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCommitted
	}
	return nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.Title,
		&req.Description,
		&req.Category,
		&req.Difficulty,
		&req.DueAt,
		&req.PriceMin,
		&req.PriceMax,
		&req.Status,
		&req.AttachmentKey,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}

func mapSortKey(key string) string {
	switch key {
	case "dueAt":
		return "due_at"
	case "priceMin":
		return "price_min"
	case "priceMax":
		return "price_max"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
