package bid

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"expertflow/provider"
)

// HistoryLimit caps how many completed contracts are shown per provider.
const HistoryLimit = 10

// HistoryReader loads a provider's recent completed work.
type HistoryReader interface {
	CompletedWork(ctx context.Context, providerID string, limit int) ([]HistoryEntry, error)
}

// ProfileReader resolves a provider's public profile.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (provider.Profile, error)
}

type PGHistory struct {
	pool *pgxpool.Pool
}

func NewHistory(pool *pgxpool.Pool) *PGHistory {
	return &PGHistory{pool: pool}
}

// CompletedWork returns up to limit COMPLETED contracts of the provider
// that have at least one deliverable, most recently updated first, each
// with its first-uploaded deliverable.
func (h *PGHistory) CompletedWork(ctx context.Context, providerID string, limit int) ([]HistoryEntry, error) {
	const query = `
		SELECT c.id, c.request_id, r.title, r.category, COALESCE(c.completed_at, c.updated_at),
		       d.id, d.storage_key, d.original_name, d.media_type
		FROM contracts c
		JOIN requests r ON r.id = c.request_id
		JOIN LATERAL (
			SELECT id, storage_key, original_name, media_type
			FROM deliverables
			WHERE contract_id = c.id
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		) d ON true
		WHERE c.provider_id = $1 AND c.status = 'COMPLETED'
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT $2
	`
	rows, err := h.pool.Query(ctx, query, providerID, limit)
	if err != nil {
		return nil, fmt.Errorf("bid: query history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ContractID, &e.RequestID, &e.Title, &e.Category, &e.CompletedAt,
			&e.Deliverable.ID, &e.Deliverable.StorageKey, &e.Deliverable.OriginalName, &e.Deliverable.MediaType); err != nil {
			return nil, fmt.Errorf("bid: scan history: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate history: %w", err)
	}
	return out, nil
}

type providerView struct {
	profile provider.Profile
	history []HistoryEntry
}

// enrich attaches profile and history to each bid. Each distinct provider
// is looked up once; lookups run concurrently up to parallelism.
func enrich(ctx context.Context, bids []Bid, profiles ProfileReader, history HistoryReader, parallelism int) ([]Listing, error) {
	views := make(map[string]*providerView)
	for _, b := range bids {
		if _, ok := views[b.ProviderID]; !ok {
			views[b.ProviderID] = &providerView{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for providerID := range views {
		providerID := providerID
		g.Go(func() error {
			profile, err := profiles.GetByID(gctx, providerID)
			if err != nil {
				return fmt.Errorf("bid: load profile %s: %w", providerID, err)
			}
			entries, err := history.CompletedWork(gctx, providerID, HistoryLimit)
			if err != nil {
				return err
			}
			// Each goroutine owns one view; the map itself is read-only here.
			views[providerID].profile = profile
			views[providerID].history = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Listing, 0, len(bids))
	for _, b := range bids {
		v := views[b.ProviderID]
		out = append(out, Listing{Bid: b, Provider: v.profile, History: v.history})
	}
	return out, nil
}
