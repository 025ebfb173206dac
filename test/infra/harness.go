package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadassist/db"
	"roadassist/migrations"
)

// ApplicationName tags every connection the harness opens so chaos only
// terminates backends belonging to the run.
const ApplicationName = "roadassist-stress"

// Harness owns the pgx pool for one stress run and, on a shared database,
// the per-run schema the migrations were applied into.
type Harness struct {
	pg     *Postgres
	pool   *pgxpool.Pool
	schema string
}

// NewHarness connects to pg and applies the embedded migrations. A shared
// database gets a fresh schema that is dropped again by Close.
func NewHarness(ctx context.Context, pg *Postgres) (*Harness, error) {
	cfg, err := pgxpool.ParseConfig(pg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	cfg.MaxConns = 64
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	h := &Harness{pg: pg}
	if pg.Shared() {
		h.schema = fmt.Sprintf("stress_run_%d", time.Now().UnixNano())
		if err := h.exec(ctx, "CREATE SCHEMA "+pgx.Identifier{h.schema}.Sanitize()); err != nil {
			return nil, fmt.Errorf("create schema %s: %w", h.schema, err)
		}
		// Extensions live in public; ll_to_earth resolves through it.
		cfg.ConnConfig.RuntimeParams["search_path"] = h.schema + ", public"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		h.dropSchema(ctx)
		return nil, fmt.Errorf("create pool: %w", err)
	}
	h.pool = pool

	if _, err := db.Migrate(ctx, pool, migrations.FS); err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return h, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Close tears down resources. The container, if any, is left to the caller.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	h.dropSchema(ctx)
}

func (h *Harness) dropSchema(ctx context.Context) {
	if h.schema == "" {
		return
	}
	_ = h.exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{h.schema}.Sanitize()+" CASCADE")
}

// exec runs one statement on a short-lived connection outside the pool.
func (h *Harness) exec(ctx context.Context, sql string) error {
	conn, err := pgx.Connect(ctx, h.pg.DSN)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}
