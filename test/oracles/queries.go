package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns invariant checks over the issues table and its outbox. Each
// query selects offending rows; an empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_offer",
			SQL: `SELECT i.id FROM issues i
                  WHERE (SELECT COUNT(*) FROM jsonb_array_elements(i.offers) o
                         WHERE o->>'status' = 'ACCEPTED') > 1`,
		},
		{
			Name: "O2_one_offer_per_provider",
			SQL: `SELECT i.id, o->>'provider_id' FROM issues i, jsonb_array_elements(i.offers) o
                  GROUP BY i.id, o->>'provider_id' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_status_matches_ledger",
			SQL: `SELECT id, status FROM issues
                  WHERE (status = 'PENDING' AND jsonb_array_length(offers) > 0)
                     OR (status = 'OFFERED' AND (jsonb_array_length(offers) = 0 OR accepted_provider_id IS NOT NULL))
                     OR (status = 'ACCEPTED' AND accepted_provider_id IS NULL)`,
		},
		{
			Name: "O4_accepted_provider_owns_accepted_offer",
			SQL: `SELECT i.id FROM issues i
                  WHERE i.status = 'ACCEPTED'
                    AND NOT EXISTS (SELECT 1 FROM jsonb_array_elements(i.offers) o
                                    WHERE o->>'status' = 'ACCEPTED'
                                      AND o->>'provider_id' = i.accepted_provider_id::text)`,
		},
		{
			Name: "O5_no_pending_after_accept",
			SQL: `SELECT i.id FROM issues i, jsonb_array_elements(i.offers) o
                  WHERE i.status = 'ACCEPTED' AND o->>'status' = 'PENDING'`,
		},
		{
			Name: "O6_offer_seq_contiguous",
			SQL: `SELECT i.id FROM issues i
                  WHERE jsonb_array_length(i.offers) > 0
                    AND (SELECT array_agg((o->>'seq')::int ORDER BY (o->>'seq')::int)
                         FROM jsonb_array_elements(i.offers) o)
                        <> ARRAY(SELECT generate_series(1, jsonb_array_length(i.offers)))`,
		},
		{
			Name: "O7_version_counts_mutations",
			SQL:  `SELECT id, version FROM issues WHERE version < 1 + jsonb_array_length(offers)`,
		},
		{
			Name: "O8_outbox_matches_offers",
			SQL: `SELECT i.id FROM issues i
                  WHERE jsonb_array_length(i.offers) <> (
                        SELECT COUNT(*) FROM outbox ob
                        WHERE ob.topic = 'offer.submitted' AND ob.payload->>'issue_id' = i.id::text)
                     OR (i.status = 'ACCEPTED') <> EXISTS (
                        SELECT 1 FROM outbox ob
                        WHERE ob.topic = 'offer.accepted' AND ob.payload->>'issue_id' = i.id::text)`,
		},
		{
			Name: "O9_outbox_created_event",
			SQL: `SELECT i.id FROM issues i
                  WHERE (SELECT COUNT(*) FROM outbox ob
                         WHERE ob.topic = 'issue.created' AND ob.payload->>'issue_id' = i.id::text) <> 1`,
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
	}
	return "", "", nil
}
