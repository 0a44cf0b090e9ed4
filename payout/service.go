package payout

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
	ErrProviderOnly        = apperr.Authorization("payout: only providers hold a balance")
	ErrAdminOnly           = apperr.Authorization("payout: admin only")
	ErrInsufficientBalance = apperr.Validation("payout: insufficient balance")
)

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Observer interface {
	Transition(entity, status string)
}

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

// Summary reports the caller's earnings position.
func (s *Service) Summary(ctx context.Context, caller auth.Identity) (Summary, error) {
	if !caller.IsProvider() {
		return Summary{}, ErrProviderOnly
	}
	t, err := s.repo.Totals(ctx, caller.UserID)
	if err != nil {
		return Summary{}, err
	}
	return t.Summary(), nil
}

// Request files a PENDING payout. The balance check and the insert run under
// a per-provider lock so concurrent requests cannot overdraw.
func (s *Service) Request(ctx context.Context, caller auth.Identity, params RequestParams) (Payout, error) {
	if !caller.IsProvider() {
		return Payout{}, ErrProviderOnly
	}

	params.Method = strings.TrimSpace(params.Method)
	params.Destination = strings.TrimSpace(params.Destination)
	params.Currency = strings.ToUpper(strings.TrimSpace(params.Currency))
	if params.Currency == "" {
		params.Currency = DefaultCurrency
	}
	switch {
	case !params.Amount.IsPositive():
		return Payout{}, apperr.Validation("payout: amount must be positive")
	case params.Method == "":
		return Payout{}, apperr.Validation("payout: method required")
	case params.Destination == "":
		return Payout{}, apperr.Validation("payout: destination required")
	}
	amount := params.Amount.Round(2)

	var note *string
	if n := strings.TrimSpace(params.Note); n != "" {
		note = &n
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("payout: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	totals, err := s.repo.LockedTotals(ctx, tx, caller.UserID)
	if err != nil {
		return Payout{}, err
	}
	if available := totals.Summary().Available; amount.GreaterThan(available) {
		return Payout{}, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount.StringFixed(2), available.StringFixed(2))
	}

	p, err := s.repo.Create(ctx, tx, Payout{
		ProviderID:  caller.UserID,
		Amount:      amount,
		Currency:    params.Currency,
		Method:      params.Method,
		Destination: params.Destination,
		Note:        note,
		Status:      StatusPending,
	})
	if err != nil {
		return Payout{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"payout_id":   p.ID,
			"provider_id": p.ProviderID,
			"amount":      p.Amount.StringFixed(2),
			"currency":    p.Currency,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicPayoutRequested, payload); err != nil {
			return Payout{}, fmt.Errorf("payout: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("payout: commit request: %w", err)
	}

	s.observe(p.Status)
	s.log.Info(ctx, "payout requested", "payout_id", p.ID, "provider_id", p.ProviderID, "amount", p.Amount.StringFixed(2))
	return p, nil
}

func (s *Service) ListMine(ctx context.Context, caller auth.Identity) ([]Payout, error) {
	if !caller.IsProvider() {
		return nil, ErrProviderOnly
	}
	return s.repo.ListForProvider(ctx, caller.UserID)
}

func (s *Service) AdminList(ctx context.Context, caller auth.Identity, status Status) ([]Payout, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if status != "" && !validStatus(status) {
		return nil, apperr.Validation("payout: unknown status %q", status)
	}
	return s.repo.List(ctx, status)
}

// CanMove reports whether a payout may go from one status to another.
// Payouts only move forward: PENDING to APPROVED or REJECTED, APPROVED to PAID.
func CanMove(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusPaid
	default:
		return false
	}
}

// UpdateStatus moves a payout along its review path.
func (s *Service) UpdateStatus(ctx context.Context, id string, caller auth.Identity, status Status) (Payout, error) {
	if !caller.IsAdmin() {
		return Payout{}, ErrAdminOnly
	}
	status = Status(strings.ToUpper(strings.TrimSpace(string(status))))
	if !validStatus(status) {
		return Payout{}, apperr.Validation("payout: unknown status %q", status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("payout: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Payout{}, err
	}
	if !CanMove(current.Status, status) {
		return Payout{}, apperr.Conflict("payout: cannot move %s payout to %s", current.Status, status)
	}

	updated, err := s.repo.SetStatus(ctx, tx, id, status, caller.UserID)
	if err != nil {
		return Payout{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"payout_id":   updated.ID,
			"provider_id": updated.ProviderID,
			"from":        current.Status,
			"to":          updated.Status,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicPayoutStatusChanged, payload); err != nil {
			return Payout{}, fmt.Errorf("payout: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("payout: commit status: %w", err)
	}

	s.observe(updated.Status)
	s.log.Info(ctx, "payout status changed", "payout_id", id, "from", current.Status, "to", updated.Status, "admin_id", caller.UserID)
	return updated, nil
}

func (s *Service) observe(status Status) {
	if s.obs != nil {
		s.obs.Transition("payout", string(status))
	}
}

func validStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}
