package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DSNEnv names an existing database to use instead of starting a container.
const DSNEnv = "EXPERTFLOW_TEST_PG_DSN"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 starts a Postgres 16 container and returns its DSN. When
// overrideDSN or EXPERTFLOW_TEST_PG_DSN is set that database is reused and
// nothing is started.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv(DSNEnv); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("expertflow"),
		postgres.WithUsername("expertflow"),
		postgres.WithPassword("expertflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

// Shared reports whether the container wraps a database we did not start.
func (p *PGContainer) Shared() bool {
	return p == nil || p.C == nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p.Shared() {
		return nil
	}
	return p.C.Terminate(ctx)
}
