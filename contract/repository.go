package contract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/apperr"
	"expertflow/db"
)

var (
	ErrNotFound = apperr.NotFound("contract: not found")
	// ErrUnknownProvider is returned for provider ids that cannot exist.
	ErrUnknownProvider = apperr.NotFound("contract: unknown provider")
	// ErrAlreadyContracted is the losing side of two racing acceptances.
	ErrAlreadyContracted = apperr.Conflict("contract: request already has a contract")
	ErrAlreadyReviewed   = apperr.Conflict("contract: already reviewed")
)

const requestIDConstraint = "contracts_request_id_key"

type Repository interface {
	CreateFromBid(ctx context.Context, tx pgx.Tx, params AcceptanceParams) (Contract, error)
	Get(ctx context.Context, id string) (Contract, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error)
	List(ctx context.Context, scope Scope) ([]Contract, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, returnReason *string) (Contract, error)
	InsertReview(ctx context.Context, tx pgx.Tx, review Review) (Review, error)
	ListReviewsForProvider(ctx context.Context, providerID string) ([]Review, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, contractID, eventType, actorID string, payload map[string]any) error
	ListEvents(ctx context.Context, contractID string) ([]TimelineEvent, error)
	InsertMessage(ctx context.Context, tx pgx.Tx, msg Message) (Message, error)
	ListMessages(ctx context.Context, contractID string) ([]Message, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const contractSelect = `
	SELECT c.id, c.request_id, c.bid_id, c.requester_id, c.provider_id, c.agreed_price,
	       c.status, c.return_reason, c.completed_at, c.created_at, c.updated_at,
	       r.title, r.due_at
	FROM contracts c
	JOIN requests r ON r.id = c.request_id
`

// CreateFromBid materialises the contract for an accepted bid. It runs in
// the acceptance transaction; the unique request_id constraint decides
// which of two racing acceptances wins.
func (r *PGRepository) CreateFromBid(ctx context.Context, tx pgx.Tx, params AcceptanceParams) (Contract, error) {
	if params.RequestID == "" || params.BidID == "" {
		return Contract{}, fmt.Errorf("contract: acceptance missing request or bid id")
	}

	const insertSQL = `
		INSERT INTO contracts (request_id, bid_id, requester_id, provider_id, agreed_price, status)
		VALUES ($1, $2, $3, $4, $5, 'IN_PROGRESS')
		RETURNING id
	`
	var id string
	if err := tx.QueryRow(ctx, insertSQL,
		params.RequestID,
		params.BidID,
		params.RequesterID,
		params.ProviderID,
		params.AgreedPrice,
	).Scan(&id); err != nil {
		if db.IsUniqueViolation(err, requestIDConstraint) {
			return Contract{}, ErrAlreadyContracted
		}
		return Contract{}, fmt.Errorf("contract: insert from bid: %w", err)
	}

	rec, err := scanContract(tx.QueryRow(ctx, contractSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return Contract{}, fmt.Errorf("contract: reload created: %w", err)
	}

	timelinePayload := map[string]any{
		"source":       "bid_acceptance",
		"bid_id":       params.BidID,
		"request_id":   params.RequestID,
		"agreed_price": params.AgreedPrice.StringFixed(2),
	}
	if err := r.AppendEvent(ctx, tx, rec.ID, TimelineContractCreated, params.AcceptedBy, timelinePayload); err != nil {
		return Contract{}, err
	}

	return rec, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Contract, error) {
	rec, err := scanContract(r.pool.QueryRow(ctx, contractSelect+` WHERE c.id = $1`, id))
	if err != nil {
		if db.NoRow(err) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: get: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error) {
	rec, err := scanContract(tx.QueryRow(ctx, contractSelect+` WHERE c.id = $1 FOR UPDATE OF c`, id))
	if err != nil {
		if db.NoRow(err) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: get for update: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) List(ctx context.Context, scope Scope) ([]Contract, error) {
	query := contractSelect
	args := []any{}
	switch {
	case scope.RequesterID != "":
		query += ` WHERE c.requester_id = $1`
		args = append(args, scope.RequesterID)
	case scope.ProviderID != "":
		query += ` WHERE c.provider_id = $1`
		args = append(args, scope.ProviderID)
	}
	query += ` ORDER BY c.created_at DESC, c.id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	out := make([]Contract, 0, 8)
	for rows.Next() {
		rec, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("contract: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, returnReason *string) (Contract, error) {
	const query = `
		UPDATE contracts
		SET status = $2,
		    return_reason = CASE WHEN $2 = 'RETURNED' THEN $3 ELSE return_reason END,
		    completed_at = CASE WHEN $2 = 'COMPLETED' THEN COALESCE(completed_at, now()) ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, id, status, returnReason)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Contract{}, ErrNotFound
	}
	rec, err := scanContract(tx.QueryRow(ctx, contractSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return Contract{}, fmt.Errorf("contract: reload after status change: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) InsertReview(ctx context.Context, tx pgx.Tx, review Review) (Review, error) {
	const query = `
		INSERT INTO reviews (contract_id, requester_id, provider_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query, review.ContractID, review.RequesterID, review.ProviderID, review.Rating, review.Comment).
		Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "reviews_contract_id_key") {
			return Review{}, ErrAlreadyReviewed
		}
		return Review{}, fmt.Errorf("contract: insert review: %w", err)
	}
	return review, nil
}

func (r *PGRepository) ListReviewsForProvider(ctx context.Context, providerID string) ([]Review, error) {
	const query = `
		SELECT id, contract_id, requester_id, provider_id, rating, comment, created_at
		FROM reviews
		WHERE provider_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, providerID)
	if err != nil {
		if db.IsInvalidTextRepresentation(err) {
			return nil, ErrUnknownProvider
		}
		return nil, fmt.Errorf("contract: list reviews: %w", err)
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.ContractID, &rv.RequesterID, &rv.ProviderID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("contract: scan review: %w", err)
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		if db.IsInvalidTextRepresentation(err) {
			return nil, ErrUnknownProvider
		}
		return nil, fmt.Errorf("contract: iterate reviews: %w", err)
	}
	return out, nil
}

func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, contractID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("contract: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
		INSERT INTO contract_events (contract_id, type, payload, actor_id)
		VALUES ($1, $2, $3::jsonb, $4::uuid)
	`
	if _, err := tx.Exec(ctx, q, contractID, eventType, body, actor); err != nil {
		return fmt.Errorf("contract: insert timeline event: %w", err)
	}
	return nil
}

func (r *PGRepository) ListEvents(ctx context.Context, contractID string) ([]TimelineEvent, error) {
	const q = `
		SELECT id, contract_id, type, actor_id, payload, created_at
		FROM contract_events
		WHERE contract_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, q, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract: list events: %w", err)
	}
	defer rows.Close()

	out := []TimelineEvent{}
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.ContractID, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("contract: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate events: %w", err)
	}
	return out, nil
}

func (r *PGRepository) InsertMessage(ctx context.Context, tx pgx.Tx, msg Message) (Message, error) {
	const q = `
		WITH inserted AS (
			INSERT INTO contract_messages (contract_id, sender_id, body)
			VALUES ($1, $2, $3)
			RETURNING id, contract_id, sender_id, body, created_at
		)
		SELECT i.id, i.contract_id, i.sender_id, u.full_name, i.body, i.created_at
		FROM inserted i
		JOIN users u ON u.id = i.sender_id
	`
	out, err := scanMessage(tx.QueryRow(ctx, q, msg.ContractID, msg.SenderID, msg.Body))
	if err != nil {
		return Message{}, fmt.Errorf("contract: insert message: %w", err)
	}
	return out, nil
}

// ListMessages returns the conversation of a contract, oldest first.
func (r *PGRepository) ListMessages(ctx context.Context, contractID string) ([]Message, error) {
	const q = `
		SELECT m.id, m.contract_id, m.sender_id, u.full_name, m.body, m.created_at
		FROM contract_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.contract_id = $1
		ORDER BY m.created_at, m.id
	`
	rows, err := r.pool.Query(ctx, q, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract: list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("contract: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate messages: %w", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ContractID, &m.SenderID, &m.SenderName, &m.Body, &m.CreatedAt)
	return m, err
}

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(
		&c.ID,
		&c.RequestID,
		&c.BidID,
		&c.RequesterID,
		&c.ProviderID,
		&c.AgreedPrice,
		&c.Status,
		&c.ReturnReason,
		&c.CompletedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.RequestTitle,
		&c.DueAt,
	)
	return c, err
}
