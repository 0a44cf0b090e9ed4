package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Store is the relay's view of the outbox table.
type Store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, reason string, dead bool) error
}

type PGStore struct{}

func NewStore() *PGStore {
	return &PGStore{}
}

// ClaimPending locks up to limit pending rows. Concurrent relays skip rows
// another relay already holds.
func (s *PGStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
		SELECT id, topic, payload, status, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate pending: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	const q = `
		UPDATE outbox
		SET status = 'processed', attempts = attempts + 1, last_attempt = now(), last_error = NULL
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, reason string, dead bool) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	const q = `
		UPDATE outbox
		SET status = $2, attempts = attempts + 1, last_attempt = now(), last_error = $3
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, q, id, status, reason); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
