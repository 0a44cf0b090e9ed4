package request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/db"
	"expertflow/logging"
	"expertflow/outbox"
)

var (
	ErrNotOwner         = apperr.Authorization("request: caller does not own this request")
	ErrRequesterOnly    = apperr.Authorization("request: only requesters may post requests")
	ErrLocked           = apperr.Conflict("request: locked once a contract exists")
	ErrAlreadyCommitted = apperr.Conflict("request: already committed to a contract")
)

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool        db.TxBeginner
	repo        Repository
	outbox      OutboxWriter
	log         logging.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		outbox:      outbox,
		log:         logging.Nop(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log logging.Logger) *Service {
	s.log = log
	return s
}

// Create posts a new OPEN request owned by caller.
func (s *Service) Create(ctx context.Context, caller auth.Identity, params CreateParams) (Request, error) {
	if !caller.IsRequester() {
		return Request{}, ErrRequesterOnly
	}

	params.Title = strings.TrimSpace(params.Title)
	params.Description = strings.TrimSpace(params.Description)
	params.Category = strings.TrimSpace(params.Category)
	params.Difficulty = strings.TrimSpace(params.Difficulty)

	switch {
	case params.Title == "":
		return Request{}, apperr.Validation("request: title required")
	case params.Description == "":
		return Request{}, apperr.Validation("request: description required")
	case params.Category == "":
		return Request{}, apperr.Validation("request: category required")
	case params.Difficulty == "":
		return Request{}, apperr.Validation("request: difficulty required")
	case params.DueAt.IsZero():
		return Request{}, apperr.Validation("request: due time required")
	}
	if err := s.validateDue(params.DueAt); err != nil {
		return Request{}, err
	}
	if err := validateBounds(params.PriceMin, params.PriceMax); err != nil {
		return Request{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Request{
		ID:            s.idGenerator(),
		OwnerID:       caller.UserID,
		Title:         params.Title,
		Description:   params.Description,
		Category:      params.Category,
		Difficulty:    params.Difficulty,
		DueAt:         params.DueAt.UTC(),
		PriceMin:      params.PriceMin,
		PriceMax:      params.PriceMax,
		Status:        StatusOpen,
		AttachmentKey: params.AttachmentKey,
	})
	if err != nil {
		return Request{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"request_id": created.ID,
			"owner_id":   created.OwnerID,
			"category":   created.Category,
			"due_at":     created.DueAt,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicRequestCreated, payload); err != nil {
			return Request{}, fmt.Errorf("request: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit tx: %w", err)
	}

	s.log.Info(ctx, "request created", "request_id", created.ID, "owner_id", created.OwnerID)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

// ListOpen returns OPEN requests, newest first.
func (s *Service) ListOpen(ctx context.Context, filters Filters) (ListResult, error) {
	filters.Status = StatusOpen
	filters.OwnerID = ""
	return s.list(ctx, filters)
}

// ListMine returns the caller's own requests, newest first.
func (s *Service) ListMine(ctx context.Context, caller auth.Identity, filters Filters) (ListResult, error) {
	filters.OwnerID = caller.UserID
	return s.list(ctx, filters)
}

func (s *Service) list(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Edit applies patch to an OPEN request the caller owns. The row stays
// locked for the whole check so a concurrent acceptance cannot slip in
// between the lock check and the write.
func (s *Service) Edit(ctx context.Context, id string, caller auth.Identity, patch Patch) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, hasContract, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}
	if err := CheckEdit(current, caller, hasContract); err != nil {
		return Request{}, err
	}
	if patch.empty() {
		return current, nil
	}

	next := current
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Request{}, apperr.Validation("request: title cannot be empty")
		}
		next.Title = title
	}
	if patch.DueAt != nil {
		if err := s.validateDue(*patch.DueAt); err != nil {
			return Request{}, err
		}
		next.DueAt = patch.DueAt.UTC()
	}
	if patch.PriceMin != nil {
		next.PriceMin = patch.PriceMin
	}
	if patch.PriceMax != nil {
		next.PriceMax = patch.PriceMax
	}
	if err := validateBounds(next.PriceMin, next.PriceMax); err != nil {
		return Request{}, err
	}

	updated, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		return Request{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"request_id": updated.ID,
			"owner_id":   updated.OwnerID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicRequestUpdated, payload); err != nil {
			return Request{}, fmt.Errorf("request: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit edit: %w", err)
	}
	return updated, nil
}

// CheckEdit returns nil when caller may edit req: they own it, it is still
// OPEN, and no contract references it.
func CheckEdit(req Request, caller auth.Identity, hasContract bool) error {
	if req.OwnerID != caller.UserID {
		return ErrNotOwner
	}
	if hasContract || req.Status != StatusOpen {
		return ErrLocked
	}
	return nil
}

// CanEdit is the boolean form of CheckEdit.
func CanEdit(req Request, caller auth.Identity, hasContract bool) bool {
	return CheckEdit(req, caller, hasContract) == nil
}

func (s *Service) validateDue(due time.Time) error {
	if !due.After(s.now()) {
		return apperr.Validation("request: due time must be in the future")
	}
	return nil
}

func validateBounds(lo, hi *decimal.Decimal) error {
	if lo != nil && lo.IsNegative() {
		return apperr.Validation("request: price floor must not be negative")
	}
	if hi != nil && hi.IsNegative() {
		return apperr.Validation("request: price ceiling must not be negative")
	}
	if lo != nil && hi != nil && hi.LessThan(*lo) {
		return apperr.Validation("request: price ceiling %s below floor %s", hi.StringFixed(2), lo.StringFixed(2))
	}
	return nil
}
