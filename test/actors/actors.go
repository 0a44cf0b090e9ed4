package actors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/bid"
	"expertflow/deliverable"
	"expertflow/payout"
	"expertflow/request"
	"expertflow/test/infra"
)

// Stats tallies what the actors saw. Expected errors are the domain
// refusals a healthy system hands out under contention; everything else,
// including connections killed by chaos, lands in Unexpected.
type Stats struct {
	Succeeded  atomic.Int64
	Expected   atomic.Int64
	Unexpected atomic.Int64
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.Succeeded.Add(1)
	case apperr.KindOf(err) != apperr.KindInternal:
		s.Expected.Add(1)
	default:
		s.Unexpected.Add(1)
	}
}

func (s *Stats) String() string {
	return fmt.Sprintf("ok=%d expected=%d unexpected=%d", s.Succeeded.Load(), s.Expected.Load(), s.Unexpected.Load())
}

// loop runs step with jitter until ctx or stop ends it.
func loop(ctx context.Context, stop <-chan struct{}, base, jitter int, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); err != nil {
			return err
		}
		time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
	}
}

// pick returns one random id from query, or "" when it matches nothing.
func pick(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) (string, error) {
	var id string
	err := pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// Poster keeps opening requests for owner.
func Poster(ctx context.Context, svc infra.Services, owner auth.Identity, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 40, 60, func() error {
		lo := decimal.NewFromInt(int64(10 + rand.Intn(40)))
		hi := lo.Add(decimal.NewFromInt(int64(rand.Intn(60))))
		_, err := svc.Requests.Create(ctx, owner, request.CreateParams{
			Title:       fmt.Sprintf("stress request %d", rand.Int63()),
			Description: "generated under load",
			Category:    "statistics",
			Difficulty:  "medium",
			DueAt:       time.Now().Add(time.Duration(3+rand.Intn(7)) * 24 * time.Hour),
			PriceMin:    &lo,
			PriceMax:    &hi,
		})
		stats.record(err)
		return nil
	})
}

// Bidder bids on random open requests as provider.
func Bidder(ctx context.Context, pool *pgxpool.Pool, svc infra.Services, prov auth.Identity, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 10, 30, func() error {
		reqID, err := pick(ctx, pool, `SELECT id FROM requests WHERE status = 'OPEN' ORDER BY random() LIMIT 1`)
		if err != nil || reqID == "" {
			stats.record(err)
			return nil
		}
		_, err = svc.Bids.Submit(ctx, prov, bid.SubmitParams{
			RequestID:    reqID,
			Price:        decimal.NewFromInt(int64(10 + rand.Intn(90))),
			DurationDays: 1 + rand.Intn(10),
			Pitch:        "I can do this",
		})
		stats.record(err)
		return nil
	})
}

// Accepter accepts random pending bids on owner's requests. Several
// accepters per owner race for the same requests.
func Accepter(ctx context.Context, pool *pgxpool.Pool, svc infra.Services, owner auth.Identity, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 20, 40, func() error {
		bidID, err := pick(ctx, pool, `
			SELECT b.id FROM bids b JOIN requests r ON r.id = b.request_id
			WHERE r.owner_id = $1 AND b.status = 'PENDING'
			ORDER BY random() LIMIT 1`, owner.UserID)
		if err != nil || bidID == "" {
			stats.record(err)
			return nil
		}
		_, err = svc.Bids.Accept(ctx, bidID, owner)
		stats.record(err)
		return nil
	})
}

// Editor retitles owner's requests; committed ones must refuse.
func Editor(ctx context.Context, pool *pgxpool.Pool, svc infra.Services, owner auth.Identity, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 30, 50, func() error {
		reqID, err := pick(ctx, pool, `SELECT id FROM requests WHERE owner_id = $1 ORDER BY random() LIMIT 1`, owner.UserID)
		if err != nil || reqID == "" {
			stats.record(err)
			return nil
		}
		title := fmt.Sprintf("edited %d", rand.Int63())
		_, err = svc.Requests.Edit(ctx, reqID, owner, request.Patch{Title: &title})
		stats.record(err)
		return nil
	})
}

// Deliverer uploads a small PDF against one of prov's live contracts.
func Deliverer(ctx context.Context, pool *pgxpool.Pool, svc infra.Services, prov auth.Identity, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 40, 60, func() error {
		contractID, err := pick(ctx, pool, `
			SELECT id FROM contracts WHERE provider_id = $1 AND status <> 'COMPLETED'
			ORDER BY random() LIMIT 1`, prov.UserID)
		if err != nil || contractID == "" {
			stats.record(err)
			return nil
		}
		body := []byte("%PDF-1.4 stress")
		_, err = svc.Deliverables.Upload(ctx, contractID, prov, deliverable.KindFinal, deliverable.File{
			Name:      "work.pdf",
			MediaType: "application/pdf",
			Size:      int64(len(body)),
			Body:      bytes.NewReader(body),
		})
		stats.record(err)
		return nil
	})
}

// Verifier approves unverified deliverables, sometimes returning the
// contract for revision instead.
func Verifier(ctx context.Context, pool *pgxpool.Pool, svc infra.Services, admin auth.Identity, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 40, 60, func() error {
		if rand.Intn(4) == 0 {
			contractID, err := pick(ctx, pool, `SELECT id FROM contracts WHERE status = 'AWAITING_REVIEW' ORDER BY random() LIMIT 1`)
			if err != nil || contractID == "" {
				stats.record(err)
				return nil
			}
			_, err = svc.Contracts.ReturnForRevision(ctx, contractID, admin, "needs another pass")
			stats.record(err)
			return nil
		}
		delivID, err := pick(ctx, pool, `SELECT id FROM deliverables WHERE NOT verified ORDER BY random() LIMIT 1`)
		if err != nil || delivID == "" {
			stats.record(err)
			return nil
		}
		_, err = svc.Deliverables.Verify(ctx, delivID, admin)
		stats.record(err)
		return nil
	})
}

// PayoutRequester asks for withdrawals around prov's available balance so
// that some requests overdraw and must be refused.
func PayoutRequester(ctx context.Context, svc infra.Services, prov auth.Identity, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 30, 50, func() error {
		sum, err := svc.Payouts.Summary(ctx, prov)
		if err != nil {
			stats.record(err)
			return nil
		}
		amount := sum.Available.Mul(decimal.NewFromFloat(0.4 + rand.Float64())).Round(2)
		if !amount.IsPositive() {
			amount = decimal.NewFromInt(1)
		}
		_, err = svc.Payouts.Request(ctx, prov, payout.RequestParams{
			Amount:      amount,
			Method:      "bank_transfer",
			Destination: "NL00 STRS 0000 0000 00",
		})
		stats.record(err)
		return nil
	})
}

// OutboxDrainer runs the relay the way the API process does.
func OutboxDrainer(ctx context.Context, svc infra.Services, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 100, 100, func() error {
		_, err := svc.Relay.DrainOnce(ctx)
		stats.record(err)
		return nil
	})
}
