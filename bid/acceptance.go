package bid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/contract"
	"expertflow/outbox"
	"expertflow/request"
)

var (
	ErrNotRequestOwner = apperr.Authorization("bid: only the request owner may accept its bids")
	ErrNotPending      = apperr.Conflict("bid: bid is no longer pending")
)

// RequestStore is what acceptance needs from the request registry.
type RequestStore interface {
	Get(ctx context.Context, id string) (request.Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (request.Request, bool, error)
	MarkCommitted(ctx context.Context, tx pgx.Tx, id string) error
}

// ContractCreator materialises the contract inside the acceptance
// transaction.
type ContractCreator interface {
	CreateFromBid(ctx context.Context, tx pgx.Tx, params contract.AcceptanceParams) (contract.Contract, error)
}

// AcceptResult is everything an acceptance changed.
type AcceptResult struct {
	Contract contract.Contract
	Bid      Bid
	Rejected int64
}

// Accept turns bidID into a contract. Creating the contract, committing the
// request, accepting the bid and rejecting its siblings happen in one
// transaction; any failure leaves all four untouched.
func (s *Service) Accept(ctx context.Context, bidID string, caller auth.Identity) (AcceptResult, error) {
	if s.contracts == nil {
		return AcceptResult{}, fmt.Errorf("bid: accept: no contract creator configured")
	}

	// The request row is locked before the bid row so every accepter of a
	// request queues on the same lock; a bid's request never changes.
	peek, err := s.repo.Get(ctx, bidID)
	if err != nil {
		return AcceptResult{}, err
	}
	// Ownership never changes, so strangers are turned away before any lock.
	owner, err := s.requests.Get(ctx, peek.RequestID)
	if err != nil {
		return AcceptResult{}, err
	}
	if owner.OwnerID != caller.UserID {
		return AcceptResult{}, ErrNotRequestOwner
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("bid: begin acceptance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, hasContract, err := s.requests.GetForUpdate(ctx, tx, peek.RequestID)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			return AcceptResult{}, fmt.Errorf("bid: request %s of bid %s vanished: %w", peek.RequestID, peek.ID, err)
		}
		return AcceptResult{}, err
	}
	b, err := s.repo.GetForUpdate(ctx, tx, bidID)
	if err != nil {
		return AcceptResult{}, err
	}
	if req.OwnerID != caller.UserID {
		return AcceptResult{}, ErrNotRequestOwner
	}
	if hasContract || req.Status != request.StatusOpen {
		return AcceptResult{}, request.ErrAlreadyCommitted
	}
	if b.Status != StatusPending {
		return AcceptResult{}, ErrNotPending
	}

	rec, err := s.contracts.CreateFromBid(ctx, tx, contract.AcceptanceParams{
		RequestID:   req.ID,
		BidID:       b.ID,
		RequesterID: req.OwnerID,
		ProviderID:  b.ProviderID,
		AgreedPrice: b.Price,
		AcceptedBy:  caller.UserID,
	})
	if err != nil {
		return AcceptResult{}, err
	}

	if err := s.requests.MarkCommitted(ctx, tx, req.ID); err != nil {
		return AcceptResult{}, err
	}
	if err := s.repo.SetStatus(ctx, tx, b.ID, StatusAccepted); err != nil {
		return AcceptResult{}, err
	}
	rejected, err := s.repo.RejectSiblings(ctx, tx, req.ID, b.ID)
	if err != nil {
		return AcceptResult{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"contract_id":  rec.ID,
			"request_id":   req.ID,
			"bid_id":       b.ID,
			"requester_id": req.OwnerID,
			"provider_id":  b.ProviderID,
			"agreed_price": b.Price.StringFixed(2),
			"rejected":     rejected,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicContractCreated, payload); err != nil {
			return AcceptResult{}, fmt.Errorf("bid: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, fmt.Errorf("bid: commit acceptance: %w", err)
	}

	if s.obs != nil {
		s.obs.Transition("contract", string(contract.StatusInProgress))
		s.obs.Transition("request", string(request.StatusCommitted))
		s.obs.Transition("bid", string(StatusAccepted))
	}
	s.log.Info(ctx, "bid accepted", "bid_id", b.ID, "contract_id", rec.ID, "rejected_siblings", rejected)

	b.Status = StatusAccepted
	return AcceptResult{Contract: rec, Bid: b, Rejected: rejected}, nil
}
