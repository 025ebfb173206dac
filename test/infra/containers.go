package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Postgres is either a container started for the run or a shared database
// named by a DSN. Terminate is a no-op for the shared case.
type Postgres struct {
	container *postgres.PostgresContainer
	DSN       string
}

// Shared reports whether the database outlives the run and so needs an
// isolated schema.
func (p *Postgres) Shared() bool { return p.container == nil }

// StartPostgres reuses overrideDSN or STRESS_TEST_PG_DSN when set, otherwise
// starts a Postgres 16 container. The stock image ships the cube and
// earthdistance extensions.
func StartPostgres(ctx context.Context, overrideDSN string) (*Postgres, error) {
	if overrideDSN != "" {
		return &Postgres{DSN: overrideDSN}, nil
	}
	if dsn := os.Getenv("STRESS_TEST_PG_DSN"); dsn != "" {
		return &Postgres{DSN: dsn}, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("roadassist"),
		postgres.WithUsername("roadassist"),
		postgres.WithPassword("roadassist"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}
	return &Postgres{container: pgC, DSN: dsn}, nil
}

func (p *Postgres) Terminate(ctx context.Context) error {
	if p == nil || p.container == nil {
		return nil
	}
	return p.container.Terminate(ctx)
}
