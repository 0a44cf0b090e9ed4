package contract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/db/dbtest"
)

var (
	requester = auth.Identity{UserID: "req-a", Role: auth.RoleRequester}
	expert    = auth.Identity{UserID: "prov-1", Role: auth.RoleProvider}
	admin     = auth.Identity{UserID: "admin", Role: auth.RoleAdmin}
)

type memRepo struct {
	contracts map[string]Contract
	reviews   map[string]Review
	events    []TimelineEvent
	messages  []Message
}

func newMemRepo() *memRepo {
	return &memRepo{contracts: map[string]Contract{}, reviews: map[string]Review{}}
}

func (m *memRepo) seed(id string, status Status) Contract {
	c := Contract{
		ID:          id,
		RequestID:   "request-" + id,
		RequesterID: requester.UserID,
		ProviderID:  expert.UserID,
		AgreedPrice: decimal.NewFromInt(60),
		Status:      status,
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, len(m.contracts), 0, time.UTC),
	}
	m.contracts[id] = c
	return c
}

func (m *memRepo) CreateFromBid(_ context.Context, _ pgx.Tx, p AcceptanceParams) (Contract, error) {
	for _, c := range m.contracts {
		if c.RequestID == p.RequestID {
			return Contract{}, ErrAlreadyContracted
		}
	}
	c := Contract{ID: fmt.Sprintf("c-%d", len(m.contracts)+1), RequestID: p.RequestID, BidID: p.BidID,
		RequesterID: p.RequesterID, ProviderID: p.ProviderID, AgreedPrice: p.AgreedPrice, Status: StatusInProgress}
	m.contracts[c.ID] = c
	return c, nil
}

func (m *memRepo) Get(_ context.Context, id string) (Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return Contract{}, ErrNotFound
	}
	return c, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (Contract, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) List(_ context.Context, scope Scope) ([]Contract, error) {
	out := []Contract{}
	for _, c := range m.contracts {
		if scope.RequesterID != "" && c.RequesterID != scope.RequesterID {
			continue
		}
		if scope.ProviderID != "" && c.ProviderID != scope.ProviderID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status Status, reason *string) (Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return Contract{}, ErrNotFound
	}
	c.Status = status
	if status == StatusReturned {
		c.ReturnReason = reason
	}
	m.contracts[id] = c
	return c, nil
}

func (m *memRepo) InsertReview(_ context.Context, _ pgx.Tx, rv Review) (Review, error) {
	if _, dup := m.reviews[rv.ContractID]; dup {
		return Review{}, ErrAlreadyReviewed
	}
	rv.ID = "rv-" + rv.ContractID
	m.reviews[rv.ContractID] = rv
	return rv, nil
}

func (m *memRepo) ListReviewsForProvider(_ context.Context, providerID string) ([]Review, error) {
	out := []Review{}
	for _, rv := range m.reviews {
		if rv.ProviderID == providerID {
			out = append(out, rv)
		}
	}
	return out, nil
}

func (m *memRepo) AppendEvent(_ context.Context, _ pgx.Tx, contractID, eventType, actorID string, _ map[string]any) error {
	actor := actorID
	m.events = append(m.events, TimelineEvent{ID: int64(len(m.events) + 1), ContractID: contractID, Type: eventType, ActorID: &actor})
	return nil
}

func (m *memRepo) ListEvents(_ context.Context, contractID string) ([]TimelineEvent, error) {
	out := []TimelineEvent{}
	for _, ev := range m.events {
		if ev.ContractID == contractID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memRepo) InsertMessage(_ context.Context, _ pgx.Tx, msg Message) (Message, error) {
	msg.ID = fmt.Sprintf("m-%d", len(m.messages)+1)
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memRepo) ListMessages(_ context.Context, contractID string) ([]Message, error) {
	out := []Message{}
	for _, msg := range m.messages {
		if msg.ContractID == contractID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type recordingOutbox struct {
	topics   []string
	payloads []map[string]any
}

func (r *recordingOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, payload map[string]any) error {
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return nil
}

type countingObserver map[string]int

func (c countingObserver) Transition(entity, status string) { c[entity+":"+status]++ }

func TestService_ListMineScopedByRole(t *testing.T) {
	repo := newMemRepo()
	repo.seed("c1", StatusInProgress)
	other := repo.seed("c2", StatusInProgress)
	other.RequesterID, other.ProviderID = "req-z", "prov-z"
	repo.contracts["c2"] = other

	svc := NewService(&dbtest.Pool{}, repo, nil)
	ctx := context.Background()

	mine, err := svc.ListMine(ctx, requester)
	if err != nil || len(mine) != 1 || mine[0].ID != "c1" {
		t.Fatalf("requester listing: %v %+v", err, mine)
	}
	mine, err = svc.ListMine(ctx, expert)
	if err != nil || len(mine) != 1 {
		t.Fatalf("provider listing: %v %+v", err, mine)
	}
	all, err := svc.ListMine(ctx, admin)
	if err != nil || len(all) != 2 {
		t.Fatalf("admin listing: %v %+v", err, all)
	}
}

func TestService_GetVisibility(t *testing.T) {
	repo := newMemRepo()
	repo.seed("c1", StatusInProgress)
	svc := NewService(&dbtest.Pool{}, repo, nil)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "nope", admin); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Get(ctx, "c1", auth.Identity{UserID: "x", Role: auth.RoleRequester}); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error for stranger, got %v", err)
	}
	if _, err := svc.Get(ctx, "c1", expert); err != nil {
		t.Fatalf("provider get: %v", err)
	}
}

func TestService_Complete(t *testing.T) {
	repo := newMemRepo()
	repo.seed("c1", StatusInProgress)
	pool := &dbtest.Pool{}
	out := &recordingOutbox{}
	obs := countingObserver{}
	svc := NewService(pool, repo, out).WithObserver(obs)
	ctx := context.Background()

	updated, review, err := svc.Complete(ctx, "c1", requester, 5, " great ")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", updated.Status)
	}
	if review.Rating != 5 || review.Comment != "great" {
		t.Fatalf("unexpected review %+v", review)
	}
	if pool.Committed() != 1 {
		t.Fatalf("expected commit, got %d", pool.Committed())
	}
	if len(out.topics) != 2 || out.topics[0] != "contract.status_changed" || out.topics[1] != "contract.reviewed" {
		t.Fatalf("unexpected outbox topics %v", out.topics)
	}
	if obs["contract:COMPLETED"] != 1 {
		t.Fatalf("expected observer to see completion, got %v", obs)
	}

	if _, _, err := svc.Complete(ctx, "c1", requester, 4, ""); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on second review, got %v", err)
	}
}

func TestService_CompleteErrors(t *testing.T) {
	repo := newMemRepo()
	repo.seed("c1", StatusAwaitingReview)
	svc := NewService(&dbtest.Pool{}, repo, nil)
	ctx := context.Background()

	if _, _, err := svc.Complete(ctx, "c1", requester, 6, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := svc.Complete(ctx, "c1", expert, 5, ""); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	// A stranger learns nothing about rating rules.
	if _, _, err := svc.Complete(ctx, "c1", expert, 0, ""); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization before rating validation, got %v", err)
	}
	if _, _, err := svc.Complete(ctx, "missing", requester, 5, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if repo.contracts["c1"].Status != StatusAwaitingReview {
		t.Fatal("failed completion must leave status untouched")
	}
}

func TestService_ReturnForRevision(t *testing.T) {
	repo := newMemRepo()
	repo.seed("c1", StatusAwaitingReview)
	pool := &dbtest.Pool{}
	svc := NewService(pool, repo, &recordingOutbox{})
	ctx := context.Background()

	if _, err := svc.ReturnForRevision(ctx, "c1", requester, "redo"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected admin-only, got %v", err)
	}

	updated, err := svc.ReturnForRevision(ctx, "c1", admin, "  missing appendix ")
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if updated.Status != StatusReturned || updated.ReturnReason == nil || *updated.ReturnReason != "missing appendix" {
		t.Fatalf("unexpected contract %+v", updated)
	}

	if _, err := svc.ReturnForRevision(ctx, "c1", admin, "again"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict returning a RETURNED contract, got %v", err)
	}

	events, err := svc.Events(ctx, "c1", expert)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != string(EventReturnedForRevision) {
		t.Fatalf("unexpected timeline %+v", events)
	}
}

func TestService_Messages(t *testing.T) {
	repo := newMemRepo()
	repo.seed("c1", StatusInProgress)
	pool := &dbtest.Pool{}
	out := &recordingOutbox{}
	svc := NewService(pool, repo, out)
	ctx := context.Background()
	stranger := auth.Identity{UserID: "prov-9", Role: auth.RoleProvider}

	if _, err := svc.PostMessage(ctx, "c1", requester, "   "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for blank message, got %v", err)
	}
	if _, err := svc.PostMessage(ctx, "c1", stranger, "hello"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected non-party to be refused, got %v", err)
	}
	if _, err := svc.PostMessage(ctx, "missing", requester, "hello"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(pool.Txs) != 0 {
		t.Fatal("refused messages must not open a transaction")
	}

	msg, err := svc.PostMessage(ctx, "c1", requester, " Can you add the appendix? ")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg.Body != "Can you add the appendix?" || msg.SenderID != requester.UserID {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := svc.PostMessage(ctx, "c1", expert, "Sure"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if pool.Committed() != 2 || len(out.topics) != 2 || out.topics[0] != "contract.message_posted" {
		t.Fatalf("expected two committed notifications, got commits=%d topics=%v", pool.Committed(), out.topics)
	}
	if out.payloads[0]["recipient_id"] != expert.UserID || out.payloads[1]["recipient_id"] != requester.UserID {
		t.Fatalf("message should notify the other party, got %v", out.payloads)
	}

	if _, err := svc.Messages(ctx, "c1", stranger); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected non-party read to be refused, got %v", err)
	}
	thread, err := svc.Messages(ctx, "c1", admin)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(thread) != 2 || thread[0].Body != "Can you add the appendix?" || thread[1].SenderID != expert.UserID {
		t.Fatalf("unexpected thread %+v", thread)
	}
}
