package provider

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
	ErrProviderOnly    = apperr.Authorization("provider: only providers have profiles")
	ErrAdminOnly       = apperr.Authorization("provider: admin only")
	ErrAlreadyVerified = apperr.Conflict("provider: profile is already verified")
	ErrNothingToDecide = apperr.Conflict("provider: no pending verification request")
	errUnknownDecision = apperr.Validation("provider: decision must be VERIFIED or REJECTED")
	errMessageTooLong  = apperr.Validation("provider: verification message longer than 2000 characters")
	errHeadlineTooLong = apperr.Validation("provider: headline longer than 200 characters")
)

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	ListByVerification(ctx context.Context, status VerificationStatus) ([]Profile, error)
	Upsert(ctx context.Context, userID string, params UpdateParams) error
	MarkPending(ctx context.Context, tx pgx.Tx, userID, message string) (bool, error)
	Decide(ctx context.Context, tx pgx.Tx, userID string, status VerificationStatus, note string) (bool, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service exposes business-level provider operations.
type Service struct {
	pool   db.TxBeginner
	repo   ProfileStore
	outbox OutboxWriter
	log    logging.Logger
}

// NewService builds a Service using the provided repository.
func NewService(pool db.TxBeginner, repo ProfileStore, outbox OutboxWriter) *Service {
	return &Service{pool: pool, repo: repo, outbox: outbox, log: logging.Nop()}
}

func (s *Service) WithLogger(log logging.Logger) *Service {
	s.log = log
	return s
}

// GetByID returns the provider profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit provider profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// UpdateMine lets a provider edit their own profile. A verified profile
// loses its badge until an admin reviews it again.
func (s *Service) UpdateMine(ctx context.Context, caller auth.Identity, params UpdateParams) (Profile, error) {
	if !caller.IsProvider() {
		return Profile{}, ErrProviderOnly
	}
	params.Headline = strings.TrimSpace(params.Headline)
	if len(params.Headline) > 200 {
		return Profile{}, errHeadlineTooLong
	}
	params.Subjects = compact(params.Subjects)
	params.Languages = compact(params.Languages)

	if err := s.repo.Upsert(ctx, caller.UserID, params); err != nil {
		return Profile{}, err
	}
	return s.repo.GetByID(ctx, caller.UserID)
}

// RequestVerification queues the caller's profile for admin review.
// Asking again while pending replaces the message.
func (s *Service) RequestVerification(ctx context.Context, caller auth.Identity, message string) (Profile, error) {
	if !caller.IsProvider() {
		return Profile{}, ErrProviderOnly
	}
	message = strings.TrimSpace(message)
	if len(message) > 2000 {
		return Profile{}, errMessageTooLong
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		filed, err := s.repo.MarkPending(ctx, tx, caller.UserID, message)
		if err != nil {
			return err
		}
		if !filed {
			return ErrAlreadyVerified
		}
		return s.enqueue(ctx, tx, caller.UserID, VerificationPending)
	})
	if err != nil {
		return Profile{}, err
	}

	s.log.Info(ctx, "provider verification requested", "provider_id", caller.UserID)
	return s.repo.GetByID(ctx, caller.UserID)
}

// AdminListPending returns providers waiting for a verification decision.
func (s *Service) AdminListPending(ctx context.Context, caller auth.Identity) ([]Profile, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return s.repo.ListByVerification(ctx, VerificationPending)
}

// AdminSetVerification approves or rejects a pending request.
func (s *Service) AdminSetVerification(ctx context.Context, caller auth.Identity, providerID string, decision VerificationStatus, note string) (Profile, error) {
	if !caller.IsAdmin() {
		return Profile{}, ErrAdminOnly
	}
	decision = VerificationStatus(strings.ToUpper(strings.TrimSpace(string(decision))))
	if decision != VerificationApproved && decision != VerificationRejected {
		return Profile{}, errUnknownDecision
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		decided, err := s.repo.Decide(ctx, tx, providerID, decision, strings.TrimSpace(note))
		if err != nil {
			return err
		}
		if !decided {
			if _, err := s.repo.GetByID(ctx, providerID); err != nil {
				return err
			}
			return ErrNothingToDecide
		}
		return s.enqueue(ctx, tx, providerID, decision)
	})
	if err != nil {
		return Profile{}, err
	}

	s.log.Info(ctx, "provider verification decided", "provider_id", providerID, "status", decision, "admin_id", caller.UserID)
	return s.repo.GetByID(ctx, providerID)
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, providerID string, status VerificationStatus) error {
	if s.outbox == nil {
		return nil
	}
	payload := map[string]any{"provider_id": providerID, "status": string(status)}
	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicProviderVerification, payload); err != nil {
		return fmt.Errorf("provider: enqueue outbox: %w", err)
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(v)]; dup {
			continue
		}
		seen[strings.ToLower(v)] = struct{}{}
		out = append(out, v)
	}
	return out
}
