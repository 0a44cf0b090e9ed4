package bid

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/db"
	"expertflow/logging"
	"expertflow/outbox"
)

var ErrProviderOnly = apperr.Authorization("bid: only providers may bid")

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Observer is told about status changes after they commit.
type Observer interface {
	Transition(entity, status string)
}

type Service struct {
	pool        db.TxBeginner
	repo        Repository
	requests    RequestStore
	contracts   ContractCreator
	profiles    ProfileReader
	history     HistoryReader
	outbox      OutboxWriter
	obs         Observer
	log         logging.Logger
	idGenerator func() string
	parallelism int
}

// Deps groups the collaborators of the bid exchange.
type Deps struct {
	Requests  RequestStore
	Contracts ContractCreator
	Profiles  ProfileReader
	History   HistoryReader
	Outbox    OutboxWriter
}

func NewService(pool db.TxBeginner, repo Repository, deps Deps) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		requests:    deps.Requests,
		contracts:   deps.Contracts,
		profiles:    deps.Profiles,
		history:     deps.History,
		outbox:      deps.Outbox,
		log:         logging.Nop(),
		idGenerator: func() string { return uuid.NewString() },
		parallelism: 4,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithLogger(log logging.Logger) *Service {
	s.log = log
	return s
}

func (s *Service) WithObserver(obs Observer) *Service {
	s.obs = obs
	return s
}

// WithParallelism bounds concurrent history lookups in ListForRequest.
func (s *Service) WithParallelism(n int) *Service {
	if n > 0 {
		s.parallelism = n
	}
	return s
}

// Submit records a PENDING bid. Bidding does not check the request's
// status; a bid on a committed request simply can never be accepted.
func (s *Service) Submit(ctx context.Context, caller auth.Identity, params SubmitParams) (Bid, error) {
	if !caller.IsProvider() {
		return Bid{}, ErrProviderOnly
	}
	params.Pitch = strings.TrimSpace(params.Pitch)
	switch {
	case !params.Price.IsPositive():
		return Bid{}, apperr.Validation("bid: price must be positive")
	case params.DurationDays <= 0:
		return Bid{}, apperr.Validation("bid: duration must be at least one day")
	case params.Pitch == "":
		return Bid{}, apperr.Validation("bid: pitch required")
	}

	if _, err := s.requests.Get(ctx, params.RequestID); err != nil {
		return Bid{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Bid{
		ID:           s.idGenerator(),
		RequestID:    params.RequestID,
		ProviderID:   caller.UserID,
		Price:        params.Price.Round(2),
		DurationDays: params.DurationDays,
		Pitch:        params.Pitch,
		Status:       StatusPending,
	})
	if err != nil {
		return Bid{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"bid_id":      created.ID,
			"request_id":  created.RequestID,
			"provider_id": created.ProviderID,
			"price":       created.Price.StringFixed(2),
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicBidSubmitted, payload); err != nil {
			return Bid{}, fmt.Errorf("bid: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit tx: %w", err)
	}
	return created, nil
}

// ListForRequest returns the request's bids newest first, each with the
// bidder's profile and track record.
func (s *Service) ListForRequest(ctx context.Context, requestID string) ([]Listing, error) {
	if _, err := s.requests.Get(ctx, requestID); err != nil {
		return nil, err
	}
	bids, err := s.repo.ListForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if s.profiles == nil || s.history == nil {
		out := make([]Listing, 0, len(bids))
		for _, b := range bids {
			out = append(out, Listing{Bid: b})
		}
		return out, nil
	}
	return enrich(ctx, bids, s.profiles, s.history, s.parallelism)
}

func (s *Service) Get(ctx context.Context, id string) (Bid, error) {
	return s.repo.Get(ctx, id)
}
