// Package outbox records integration events in the same transaction as the
// state change that produced them and relays them to a notify.Sink later.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Topics emitted by the lifecycle.
const (
	TopicRequestCreated        = "request.created"
	TopicRequestUpdated        = "request.updated"
	TopicBidSubmitted          = "bid.submitted"
	TopicContractCreated       = "contract.created"
	TopicContractStatusChanged = "contract.status_changed"
	TopicContractReviewed      = "contract.reviewed"
	TopicContractMessage       = "contract.message_posted"
	TopicDeliverableSubmitted  = "deliverable.submitted"
	TopicDeliverableVerified   = "deliverable.verified"
	TopicPayoutRequested       = "payout.requested"
	TopicPayoutStatusChanged   = "payout.status_changed"
	TopicPasswordReset         = "auth.password_reset_requested"
	TopicProviderVerification  = "provider.verification_changed"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
)

// Message is a persisted outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Writer appends messages inside the caller's transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue inserts a pending message. It never commits; the caller's
// transaction decides whether the message exists.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}
