package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_contract_per_request",
			SQL: `SELECT request_id, COUNT(*) FROM contracts
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_contract_bid_accepted",
			SQL: `SELECT c.id, b.status FROM contracts c
                  JOIN bids b ON b.id = c.bid_id
                  WHERE b.status <> 'ACCEPTED' OR b.request_id <> c.request_id`,
		},
		{
			Name: "O3_committed_iff_contract",
			SQL: `SELECT r.id, r.status FROM requests r
                  LEFT JOIN contracts c ON c.request_id = r.id
                  WHERE (r.status = 'COMMITTED') <> (c.id IS NOT NULL)`,
		},
		{
			Name: "O4_agreed_price_from_bid",
			SQL: `SELECT c.id, c.agreed_price, b.price FROM contracts c
                  JOIN bids b ON b.id = c.bid_id
                  WHERE c.agreed_price <> b.price OR c.provider_id <> b.provider_id`,
		},
		{
			Name: "O5_completed_stamped",
			SQL: `SELECT id, status, completed_at FROM contracts
                  WHERE (status = 'COMPLETED') <> (completed_at IS NOT NULL)`,
		},
		{
			Name: "O6_payouts_within_earnings",
			SQL: `WITH earned AS (
                      SELECT provider_id, SUM(agreed_price) AS total FROM contracts
                      WHERE status = 'COMPLETED' GROUP BY provider_id),
                  committed AS (
                      SELECT provider_id, SUM(amount) AS total FROM payout_requests
                      WHERE status <> 'REJECTED' GROUP BY provider_id)
                  SELECT p.provider_id, p.total, COALESCE(e.total, 0) FROM committed p
                  LEFT JOIN earned e ON e.provider_id = p.provider_id
                  WHERE p.total > COALESCE(e.total, 0)`,
		},
		{
			Name: "O7_outbox_drained",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_delete_guards",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE (SELECT COUNT(*) FROM pg_trigger
                         WHERE tgname IN ('no_delete_requests','no_delete_contracts','no_delete_contract_events')) < 3`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
