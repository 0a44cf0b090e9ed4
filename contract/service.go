package contract

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/db"
	"expertflow/logging"
	"expertflow/outbox"
)

var (
	ErrForbidden     = apperr.Authorization("contract: caller is not a party to this contract")
	ErrRequesterOnly = apperr.Authorization("contract: only the contract's requester may complete it")
	ErrAdminOnly     = apperr.Authorization("contract: admin only")
)

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Observer is told about status changes after they commit.
type Observer interface {
	Transition(entity, status string)
}

// Service is the contract ledger: reads scoped by role, and every status
// change written together with its timeline event and outbox message.
type Service struct {
	pool   db.TxBeginner
	repo   Repository
	outbox OutboxWriter
	obs    Observer
	log    logging.Logger
}

func NewService(pool db.TxBeginner, repo Repository, outbox OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: outbox,
		log:    logging.Nop(),
	}
}

func (s *Service) WithLogger(log logging.Logger) *Service {
	s.log = log
	return s
}

func (s *Service) WithObserver(obs Observer) *Service {
	s.obs = obs
	return s
}

// ListMine returns the caller's contracts newest first: as requester, as
// provider, or every contract for admins.
func (s *Service) ListMine(ctx context.Context, caller auth.Identity) ([]Contract, error) {
	var scope Scope
	switch caller.Role {
	case auth.RoleAdmin:
	case auth.RoleRequester:
		scope.RequesterID = caller.UserID
	case auth.RoleProvider:
		scope.ProviderID = caller.UserID
	default:
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, scope)
}

func (s *Service) Get(ctx context.Context, id string, caller auth.Identity) (Contract, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Contract{}, err
	}
	if !CanView(c, caller) {
		return Contract{}, ErrForbidden
	}
	return c, nil
}

// GetForUpdate locks the contract row inside tx.
func (s *Service) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error) {
	return s.repo.GetForUpdate(ctx, tx, id)
}

// Apply moves c along ev inside the caller's transaction and records the
// timeline event and outbox message next to it. The caller owns commit.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, c Contract, ev Event, actorID string, payload map[string]any) (Contract, error) {
	next, err := Next(c.Status, ev)
	if err != nil {
		return Contract{}, err
	}

	var reason *string
	if r, ok := payload["reason"].(string); ok && ev == EventReturnedForRevision {
		reason = &r
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, c.ID, next, reason)
	if err != nil {
		return Contract{}, err
	}

	timeline := map[string]any{
		"previous_status": c.Status,
		"next_status":     next,
	}
	for k, v := range payload {
		timeline[k] = v
	}
	if err := s.repo.AppendEvent(ctx, tx, c.ID, string(ev), actorID, timeline); err != nil {
		return Contract{}, err
	}

	if s.outbox != nil {
		msg := map[string]any{
			"contract_id": c.ID,
			"event":       ev,
			"previous":    c.Status,
			"next":        next,
			"provider_id": c.ProviderID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicContractStatusChanged, msg); err != nil {
			return Contract{}, fmt.Errorf("contract: enqueue outbox: %w", err)
		}
	}
	return updated, nil
}

// Observe reports a committed status change.
func (s *Service) Observe(c Contract) {
	if s.obs != nil {
		s.obs.Transition("contract", string(c.Status))
	}
}

// Complete lets the requester close the contract with a rating, whatever
// state the work is in.
func (s *Service) Complete(ctx context.Context, id string, caller auth.Identity, rating int, comment string) (Contract, Review, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, Review{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Contract{}, Review{}, err
	}
	if !CanComplete(c, caller) {
		return Contract{}, Review{}, ErrRequesterOnly
	}
	if rating < 1 || rating > 5 {
		return Contract{}, Review{}, apperr.Validation("contract: rating must be between 1 and 5")
	}

	review, err := s.repo.InsertReview(ctx, tx, Review{
		ContractID:  c.ID,
		RequesterID: c.RequesterID,
		ProviderID:  c.ProviderID,
		Rating:      rating,
		Comment:     strings.TrimSpace(comment),
	})
	if err != nil {
		return Contract{}, Review{}, err
	}

	updated, err := s.Apply(ctx, tx, c, EventRequesterCompleted, caller.UserID, map[string]any{
		"review_id": review.ID,
		"rating":    rating,
	})
	if err != nil {
		return Contract{}, Review{}, err
	}

	if s.outbox != nil {
		msg := map[string]any{
			"contract_id": c.ID,
			"provider_id": c.ProviderID,
			"rating":      rating,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicContractReviewed, msg); err != nil {
			return Contract{}, Review{}, fmt.Errorf("contract: enqueue review outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, Review{}, fmt.Errorf("contract: commit completion: %w", err)
	}

	s.Observe(updated)
	s.log.Info(ctx, "contract completed by requester", "contract_id", c.ID, "rating", rating)
	return updated, review, nil
}

// ReturnForRevision sends work back to the provider with a reason.
func (s *Service) ReturnForRevision(ctx context.Context, id string, caller auth.Identity, reason string) (Contract, error) {
	if !caller.IsAdmin() {
		return Contract{}, ErrAdminOnly
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Contract{}, apperr.Validation("contract: return reason required")
	}

	var updated Contract
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		updated, err = s.Apply(ctx, tx, c, EventReturnedForRevision, caller.UserID, map[string]any{"reason": reason})
		return err
	})
	if err != nil {
		return Contract{}, err
	}

	s.Observe(updated)
	s.log.Info(ctx, "contract returned for revision", "contract_id", id)
	return updated, nil
}

// Events returns the contract's timeline, oldest first.
func (s *Service) Events(ctx context.Context, id string, caller auth.Identity) ([]TimelineEvent, error) {
	if _, err := s.Get(ctx, id, caller); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, id)
}

// MaxMessageLength bounds a single contract message.
const MaxMessageLength = 4000

// Messages returns the conversation between the contract's parties.
func (s *Service) Messages(ctx context.Context, id string, caller auth.Identity) ([]Message, error) {
	if _, err := s.Get(ctx, id, caller); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, id)
}

// PostMessage appends body to the contract's conversation and notifies the
// other party. Anyone who may view the contract may write to it.
func (s *Service) PostMessage(ctx context.Context, id string, caller auth.Identity, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, apperr.Validation("contract: message body required")
	}
	if len(body) > MaxMessageLength {
		return Message{}, apperr.Validation("contract: message longer than %d characters", MaxMessageLength)
	}
	c, err := s.Get(ctx, id, caller)
	if err != nil {
		return Message{}, err
	}

	var msg Message
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		msg, err = s.repo.InsertMessage(ctx, tx, Message{ContractID: c.ID, SenderID: caller.UserID, Body: body})
		if err != nil {
			return err
		}
		if s.outbox == nil {
			return nil
		}
		payload := map[string]any{
			"contract_id":  c.ID,
			"message_id":   msg.ID,
			"sender_id":    caller.UserID,
			"recipient_id": counterparty(c, caller),
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicContractMessage, payload); err != nil {
			return fmt.Errorf("contract: enqueue message outbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}

	s.log.Info(ctx, "contract message posted", "contract_id", c.ID, "message_id", msg.ID)
	return msg, nil
}

// counterparty is who should hear about a message. Admin notes go to both
// parties, signalled by an empty recipient.
func counterparty(c Contract, caller auth.Identity) string {
	switch caller.UserID {
	case c.RequesterID:
		return c.ProviderID
	case c.ProviderID:
		return c.RequesterID
	default:
		return ""
	}
}

func (s *Service) ReviewsForProvider(ctx context.Context, providerID string) ([]Review, error) {
	return s.repo.ListReviewsForProvider(ctx, providerID)
}
