package bid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/contract"
	"expertflow/db/dbtest"
	"expertflow/provider"
	"expertflow/request"
)

var (
	owner   = auth.Identity{UserID: "req-a", Role: auth.RoleRequester}
	intrude = auth.Identity{UserID: "req-b", Role: auth.RoleRequester}
	p1      = auth.Identity{UserID: "prov-1", Role: auth.RoleProvider}
	p2      = auth.Identity{UserID: "prov-2", Role: auth.RoleProvider}
)

type memBids struct {
	bids      map[string]Bid
	seq       int
	rejectErr error
}

func (m *memBids) Create(_ context.Context, _ pgx.Tx, b Bid) (Bid, error) {
	m.seq++
	b.CreatedAt = time.Date(2026, 3, 1, 0, 0, m.seq, 0, time.UTC)
	m.bids[b.ID] = b
	return b, nil
}

func (m *memBids) Get(_ context.Context, id string) (Bid, error) {
	b, ok := m.bids[id]
	if !ok {
		return Bid{}, ErrNotFound
	}
	return b, nil
}

func (m *memBids) ListForRequest(_ context.Context, requestID string) ([]Bid, error) {
	out := []Bid{}
	for _, b := range m.bids {
		if b.RequestID == requestID {
			out = append(out, b)
		}
	}
	// newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *memBids) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (Bid, error) {
	return m.Get(ctx, id)
}

func (m *memBids) SetStatus(_ context.Context, _ pgx.Tx, id string, status Status) error {
	b := m.bids[id]
	b.Status = status
	m.bids[id] = b
	return nil
}

func (m *memBids) RejectSiblings(_ context.Context, _ pgx.Tx, requestID, acceptedID string) (int64, error) {
	if m.rejectErr != nil {
		return 0, m.rejectErr
	}
	var n int64
	for id, b := range m.bids {
		if b.RequestID == requestID && id != acceptedID && b.Status == StatusPending {
			b.Status = StatusRejected
			m.bids[id] = b
			n++
		}
	}
	return n, nil
}

type memRequests struct {
	items     map[string]request.Request
	contracts map[string]bool
	commitErr error
}

func (m *memRequests) Get(_ context.Context, id string) (request.Request, error) {
	r, ok := m.items[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return r, nil
}

func (m *memRequests) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (request.Request, bool, error) {
	r, err := m.Get(ctx, id)
	return r, m.contracts[id], err
}

func (m *memRequests) MarkCommitted(_ context.Context, _ pgx.Tx, id string) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	r := m.items[id]
	r.Status = request.StatusCommitted
	m.items[id] = r
	return nil
}

type memContracts struct {
	requests *memRequests
	created  []contract.AcceptanceParams
	err      error
}

func (m *memContracts) CreateFromBid(_ context.Context, _ pgx.Tx, p contract.AcceptanceParams) (contract.Contract, error) {
	if m.err != nil {
		return contract.Contract{}, m.err
	}
	if m.requests.contracts[p.RequestID] {
		return contract.Contract{}, contract.ErrAlreadyContracted
	}
	m.requests.contracts[p.RequestID] = true
	m.created = append(m.created, p)
	return contract.Contract{
		ID: fmt.Sprintf("c-%d", len(m.created)), RequestID: p.RequestID, BidID: p.BidID,
		RequesterID: p.RequesterID, ProviderID: p.ProviderID, AgreedPrice: p.AgreedPrice,
		Status: contract.StatusInProgress,
	}, nil
}

type recordingOutbox struct {
	topics []string
}

func (r *recordingOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	r.topics = append(r.topics, topic)
	return nil
}

type fixture struct {
	svc       *Service
	bids      *memBids
	requests  *memRequests
	contracts *memContracts
	pool      *dbtest.Pool
	outbox    *recordingOutbox
}

func newFixture() *fixture {
	reqs := &memRequests{
		items: map[string]request.Request{
			"A": {ID: "A", OwnerID: owner.UserID, Status: request.StatusOpen},
		},
		contracts: map[string]bool{},
	}
	f := &fixture{
		bids:      &memBids{bids: map[string]Bid{}},
		requests:  reqs,
		contracts: &memContracts{requests: reqs},
		pool:      &dbtest.Pool{},
		outbox:    &recordingOutbox{},
	}
	n := 0
	f.svc = NewService(f.pool, f.bids, Deps{
		Requests:  f.requests,
		Contracts: f.contracts,
		Outbox:    f.outbox,
	}).WithIDGenerator(func() string { n++; return fmt.Sprintf("b-%d", n) })
	return f
}

func (f *fixture) submit(t *testing.T, who auth.Identity, price string, days int) Bid {
	t.Helper()
	b, err := f.svc.Submit(context.Background(), who, SubmitParams{
		RequestID: "A", Price: decimal.RequireFromString(price), DurationDays: days, Pitch: "I can do this",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return b
}

func TestService_SubmitValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ok := SubmitParams{RequestID: "A", Price: decimal.NewFromInt(10), DurationDays: 2, Pitch: "hi"}

	if _, err := f.svc.Submit(ctx, owner, ok); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected requester to be refused, got %v", err)
	}

	bad := ok
	bad.Price = decimal.Zero
	if _, err := f.svc.Submit(ctx, p1, bad); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for zero price, got %v", err)
	}
	bad = ok
	bad.DurationDays = 0
	if _, err := f.svc.Submit(ctx, p1, bad); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for zero duration, got %v", err)
	}
	bad = ok
	bad.Pitch = "   "
	if _, err := f.svc.Submit(ctx, p1, bad); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty pitch, got %v", err)
	}
	bad = ok
	bad.RequestID = "missing"
	if _, err := f.svc.Submit(ctx, p1, bad); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown request, got %v", err)
	}

	b, err := f.svc.Submit(ctx, p1, ok)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if b.Status != StatusPending || b.ProviderID != p1.UserID {
		t.Fatalf("unexpected bid %+v", b)
	}
	if len(f.outbox.topics) != 1 || f.outbox.topics[0] != "bid.submitted" {
		t.Fatalf("expected bid.submitted, got %v", f.outbox.topics)
	}
}

func TestService_Accept(t *testing.T) {
	f := newFixture()
	b1 := f.submit(t, p1, "60", 3)
	b2 := f.submit(t, p2, "55", 5)

	res, err := f.svc.Accept(context.Background(), b1.ID, owner)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.Contract.AgreedPrice.Equal(decimal.NewFromInt(60)) || res.Contract.ProviderID != p1.UserID {
		t.Fatalf("unexpected contract %+v", res.Contract)
	}
	if res.Rejected != 1 {
		t.Fatalf("expected one sibling rejected, got %d", res.Rejected)
	}
	if f.requests.items["A"].Status != request.StatusCommitted {
		t.Fatal("request should be COMMITTED")
	}
	if f.bids.bids[b1.ID].Status != StatusAccepted || f.bids.bids[b2.ID].Status != StatusRejected {
		t.Fatalf("unexpected bid statuses %s %s", f.bids.bids[b1.ID].Status, f.bids.bids[b2.ID].Status)
	}
	if !f.pool.Last().Committed {
		t.Fatal("acceptance must commit")
	}
	if f.outbox.topics[len(f.outbox.topics)-1] != "contract.created" {
		t.Fatalf("expected contract.created, got %v", f.outbox.topics)
	}

	// The rejected sibling can no longer win.
	if _, err := f.svc.Accept(context.Background(), b2.ID, owner); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on second acceptance, got %v", err)
	}
	if !f.pool.Last().RolledBack {
		t.Fatal("failed acceptance must roll back")
	}
	if len(f.contracts.created) != 1 {
		t.Fatalf("expected exactly one contract, got %d", len(f.contracts.created))
	}
}

func TestService_AcceptErrors(t *testing.T) {
	f := newFixture()
	b1 := f.submit(t, p1, "60", 3)
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, "missing", owner); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	began := len(f.pool.Txs)
	if _, err := f.svc.Accept(ctx, b1.ID, intrude); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if len(f.pool.Txs) != began {
		t.Fatal("a stranger's acceptance must be refused before any transaction opens")
	}

	f.contracts.err = contract.ErrAlreadyContracted
	if _, err := f.svc.Accept(ctx, b1.ID, owner); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict from contract uniqueness, got %v", err)
	}
	if f.bids.bids[b1.ID].Status != StatusPending || f.requests.items["A"].Status != request.StatusOpen {
		t.Fatal("losing acceptance must not change bid or request")
	}
	if f.pool.Committed() != 1 {
		t.Fatalf("only the submit should have committed, got %d", f.pool.Committed())
	}
}

func TestService_AcceptRollsBackAfterContractCreated(t *testing.T) {
	dbDown := errors.New("connection reset")
	cases := map[string]func(f *fixture){
		"mark committed fails":  func(f *fixture) { f.requests.commitErr = dbDown },
		"reject siblings fails": func(f *fixture) { f.bids.rejectErr = dbDown },
	}
	for name, inject := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			b1 := f.submit(t, p1, "60", 3)
			f.submit(t, p2, "55", 5)
			topics := len(f.outbox.topics)
			inject(f)

			if _, err := f.svc.Accept(context.Background(), b1.ID, owner); !errors.Is(err, dbDown) {
				t.Fatalf("expected the storage error, got %v", err)
			}
			if len(f.contracts.created) != 1 {
				t.Fatalf("contract creation should have run first, got %d", len(f.contracts.created))
			}
			tx := f.pool.Last()
			if !tx.RolledBack || tx.Committed {
				t.Fatalf("acceptance must roll back, got committed=%v rolledBack=%v", tx.Committed, tx.RolledBack)
			}
			if f.pool.Committed() != 2 {
				t.Fatalf("only the two submits should have committed, got %d", f.pool.Committed())
			}
			if len(f.outbox.topics) != topics {
				t.Fatalf("no contract.created may be queued, got %v", f.outbox.topics[topics:])
			}
		})
	}
}

type stubProfiles struct{}

func (stubProfiles) GetByID(_ context.Context, id string) (provider.Profile, error) {
	return provider.Profile{UserID: id, FullName: "Expert " + id}, nil
}

type countingHistory struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingHistory) CompletedWork(_ context.Context, providerID string, limit int) ([]HistoryEntry, error) {
	c.mu.Lock()
	c.calls[providerID]++
	c.mu.Unlock()
	if limit != HistoryLimit {
		return nil, fmt.Errorf("unexpected limit %d", limit)
	}
	return []HistoryEntry{{ContractID: "old-" + providerID, Title: "Earlier work"}}, nil
}

func TestService_ListForRequestEnriches(t *testing.T) {
	f := newFixture()
	hist := &countingHistory{calls: map[string]int{}}
	f.svc.profiles = stubProfiles{}
	f.svc.history = hist

	first := f.submit(t, p1, "60", 3)
	f.submit(t, p2, "55", 5)
	last := f.submit(t, p1, "58", 4)

	listings, err := f.svc.ListForRequest(context.Background(), "A")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listings) != 3 || listings[0].ID != last.ID || listings[2].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", listings)
	}
	if listings[0].Provider.FullName != "Expert prov-1" || len(listings[0].History) != 1 {
		t.Fatalf("listing not enriched: %+v", listings[0])
	}
	if hist.calls["prov-1"] != 1 || hist.calls["prov-2"] != 1 {
		t.Fatalf("each provider should be looked up once, got %v", hist.calls)
	}

	if _, err := f.svc.ListForRequest(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
