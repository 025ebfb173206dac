package issue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists issue aggregates. Apply is the only mutation path for
// an existing issue: it hands fn the current state under the store's write
// guard and stores the result only if the version fn observed is still the
// stored one. A lost race is reported as ErrConflict.
type Repository interface {
	Create(ctx context.Context, iss Issue, created Event) error
	Get(ctx context.Context, id string) (Issue, error)
	Apply(ctx context.Context, id string, fn Transition) (Issue, error)
	Nearby(ctx context.Context, q NearbyQuery) ([]NearbyResult, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Issue, error)
	ListByProvider(ctx context.Context, providerID string) ([]Issue, error)
}

// OutboxWriter appends an event inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// PGRepository stores issues in Postgres with the offer ledger embedded as a
// JSONB array. Discovery uses the earthdistance GiST index over pending rows.
type PGRepository struct {
	pool   *pgxpool.Pool
	outbox OutboxWriter
}

func NewRepository(pool *pgxpool.Pool, outbox OutboxWriter) *PGRepository {
	return &PGRepository{pool: pool, outbox: outbox}
}

const issueColumns = `id::text, owner_id::text, lon, lat, vehicle_type, description, expected_price,
       status, offers, accepted_provider_id::text, version, created_at, updated_at`

type offerRecord struct {
	ID            string      `json:"id"`
	Seq           int         `json:"seq"`
	ProviderID    string      `json:"provider_id"`
	Price         float64     `json:"price"`
	EstimatedTime float64     `json:"estimated_time"`
	Notes         string      `json:"notes,omitempty"`
	Status        OfferStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

func (r *PGRepository) Create(ctx context.Context, iss Issue, created Event) error {
	offers, err := encodeOffers(iss.Offers)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("issue: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO issues (id, owner_id, lon, lat, vehicle_type, description, expected_price,
		                    status, offers, accepted_provider_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
	`
	if _, err := tx.Exec(ctx, insertSQL,
		iss.ID,
		iss.OwnerID,
		iss.Location.Lon,
		iss.Location.Lat,
		iss.VehicleType,
		iss.Description,
		iss.ExpectedPrice,
		iss.Status,
		offers,
		iss.AcceptedProviderID,
		iss.Version,
		iss.CreatedAt,
		iss.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("issue: %s already exists: %w", iss.ID, ErrConflict)
		}
		return fmt.Errorf("issue: insert: %w", err)
	}

	if err := r.enqueue(ctx, tx, created); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("issue: commit create: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Issue, error) {
	iss, err := scanIssue(r.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id))
	if err != nil {
		return Issue{}, notFoundOr(err, id, "get")
	}
	return iss, nil
}

func (r *PGRepository) Apply(ctx context.Context, id string, fn Transition) (Issue, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Issue{}, fmt.Errorf("issue: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanIssue(tx.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Issue{}, notFoundOr(err, id, "lock")
	}

	next := current.Clone()
	ev, err := fn(&next)
	if err != nil {
		return Issue{}, err
	}
	if err := next.Validate(); err != nil {
		return Issue{}, err
	}
	next.Version = current.Version + 1

	offers, err := encodeOffers(next.Offers)
	if err != nil {
		return Issue{}, err
	}

	const updateSQL = `
		UPDATE issues
		SET status = $2,
		    offers = $3::jsonb,
		    accepted_provider_id = $4,
		    version = $5,
		    updated_at = $6
		WHERE id = $1
		  AND version = $7
		  AND status = $8
	`
	tag, err := tx.Exec(ctx, updateSQL,
		id,
		next.Status,
		offers,
		next.AcceptedProviderID,
		next.Version,
		next.UpdatedAt,
		current.Version,
		current.Status,
	)
	if err != nil {
		return Issue{}, fmt.Errorf("issue: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Issue{}, fmt.Errorf("issue: %s changed concurrently (version %d): %w", id, current.Version, ErrConflict)
	}

	if err := r.enqueue(ctx, tx, ev); err != nil {
		return Issue{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Issue{}, fmt.Errorf("issue: commit update: %w", err)
	}
	return next, nil
}

func (r *PGRepository) Nearby(ctx context.Context, q NearbyQuery) ([]NearbyResult, error) {
	const query = `
		SELECT ` + issueColumns + `,
		       earth_distance(ll_to_earth($2, $1), ll_to_earth(lat, lon)) AS distance
		FROM issues
		WHERE status = 'PENDING'
		  AND earth_box(ll_to_earth($2, $1), $3) @> ll_to_earth(lat, lon)
		  AND earth_distance(ll_to_earth($2, $1), ll_to_earth(lat, lon)) <= $3
		ORDER BY distance ASC, created_at ASC, id
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, q.Point.Lon, q.Point.Lat, q.MaxDistance, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("issue: query nearby: %w", err)
	}
	defer rows.Close()

	out := make([]NearbyResult, 0, 16)
	for rows.Next() {
		var res NearbyResult
		iss, err := scanIssueWith(rows, &res.Distance)
		if err != nil {
			return nil, fmt.Errorf("issue: scan nearby: %w", err)
		}
		res.Issue = iss
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("issue: iterate nearby: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListByOwner(ctx context.Context, ownerID string) ([]Issue, error) {
	return r.list(ctx, `SELECT `+issueColumns+` FROM issues WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
}

func (r *PGRepository) ListByProvider(ctx context.Context, providerID string) ([]Issue, error) {
	const query = `
		SELECT ` + issueColumns + `
		FROM issues
		WHERE offers @> jsonb_build_array(jsonb_build_object('provider_id', $1::text))
		ORDER BY created_at DESC, id
	`
	return r.list(ctx, query, providerID)
}

func (r *PGRepository) list(ctx context.Context, query string, arg string) ([]Issue, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return []Issue{}, nil
		}
		return nil, fmt.Errorf("issue: query list: %w", err)
	}
	defer rows.Close()

	out := make([]Issue, 0, 8)
	for rows.Next() {
		iss, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("issue: scan list: %w", err)
		}
		out = append(out, iss)
	}
	if err := rows.Err(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return []Issue{}, nil
		}
		return nil, fmt.Errorf("issue: iterate list: %w", err)
	}
	return out, nil
}

func (r *PGRepository) enqueue(ctx context.Context, tx pgx.Tx, ev Event) error {
	if r.outbox == nil || ev.Topic == "" {
		return nil
	}
	if err := r.outbox.Enqueue(ctx, tx, ev.Topic, ev.Payload); err != nil {
		return fmt.Errorf("issue: enqueue %s: %w", ev.Topic, err)
	}
	return nil
}

func scanIssue(row pgx.Row) (Issue, error) {
	return scanIssueWith(row)
}

func scanIssueWith(row pgx.Row, extra ...any) (Issue, error) {
	var (
		iss      Issue
		offers   []byte
		accepted *string
	)
	dest := []any{
		&iss.ID,
		&iss.OwnerID,
		&iss.Location.Lon,
		&iss.Location.Lat,
		&iss.VehicleType,
		&iss.Description,
		&iss.ExpectedPrice,
		&iss.Status,
		&offers,
		&accepted,
		&iss.Version,
		&iss.CreatedAt,
		&iss.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Issue{}, err
	}

	ledger, err := decodeOffers(offers)
	if err != nil {
		return Issue{}, err
	}
	iss.Offers = ledger
	iss.AcceptedProviderID = accepted
	return iss, nil
}

func encodeOffers(l Ledger) ([]byte, error) {
	records := make([]offerRecord, 0, len(l))
	for _, o := range l {
		records = append(records, offerRecord{
			ID:            o.ID,
			Seq:           o.Seq,
			ProviderID:    o.ProviderID,
			Price:         o.Price,
			EstimatedTime: o.EstimatedTime,
			Notes:         o.Notes,
			Status:        o.Status,
			CreatedAt:     o.CreatedAt.UTC(),
		})
	}
	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("issue: marshal offers: %w", err)
	}
	return body, nil
}

func decodeOffers(body []byte) (Ledger, error) {
	if len(body) == 0 {
		return Ledger{}, nil
	}
	var records []offerRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("issue: unmarshal offers: %w", err)
	}
	ledger := make(Ledger, 0, len(records))
	for _, rec := range records {
		ledger = append(ledger, Offer{
			ID:            rec.ID,
			Seq:           rec.Seq,
			ProviderID:    rec.ProviderID,
			Price:         rec.Price,
			EstimatedTime: rec.EstimatedTime,
			Notes:         rec.Notes,
			Status:        rec.Status,
			CreatedAt:     rec.CreatedAt,
		})
	}
	return ledger, nil
}

// notFoundOr maps missing rows and unparsable ids to ErrNotFound.
func notFoundOr(err error, id, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("issue: %s: %w", id, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return fmt.Errorf("issue: %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("issue: %s: %w", op, err)
}
