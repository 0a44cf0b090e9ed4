package infra

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"expertflow/admin"
	"expertflow/auth"
	"expertflow/bid"
	"expertflow/contract"
	"expertflow/deliverable"
	"expertflow/logging"
	"expertflow/notify"
	"expertflow/outbox"
	"expertflow/payout"
	"expertflow/provider"
	"expertflow/request"
	"expertflow/storage"
)

// Services is the real lifecycle stack wired against the harness pool.
type Services struct {
	Auth         *auth.Service
	Requests     *request.Service
	Bids         *bid.Service
	Contracts    *contract.Service
	Deliverables *deliverable.Service
	Payouts      *payout.Service
	Providers    *provider.Service
	Admin        *admin.Service
	Relay        *outbox.Relay
	Blobs        *storage.MemoryStore
}

// Harness owns the database, its pool and the services built on top.
type Harness struct {
	Pool *pgxpool.Pool
	DSN  string
	Svc  Services

	container *PGContainer
	teardown  func(context.Context) error
	seq       atomic.Int64
}

// NewHarness starts (or reuses) Postgres, migrates it and wires services.
// A reused database gets its own schema so concurrent runs do not collide.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	pgC, dsn, err := StartPostgres16(ctx, overrideDSN)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	pool, teardown, err := ApplyMigrations(ctx, dsn, pgC.Shared())
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	h := &Harness{Pool: pool, DSN: dsn, container: pgC, teardown: teardown}
	h.Svc = wire(pool)
	return h, nil
}

func wire(pool *pgxpool.Pool) Services {
	writer := outbox.NewWriter()
	blobs := storage.NewMemoryStore()

	requestRepo := request.NewRepository(pool)
	contractRepo := contract.NewRepository(pool)
	providers := provider.NewService(pool, provider.NewRepository(pool), writer)
	contracts := contract.NewService(pool, contractRepo, writer)

	return Services{
		Auth:      auth.NewService(pool, auth.NewRepository(pool), writer, auth.Options{JWTSecret: "stress-secret"}),
		Requests:  request.NewService(pool, requestRepo, writer),
		Contracts: contracts,
		Bids: bid.NewService(pool, bid.NewRepository(pool), bid.Deps{
			Requests:  requestRepo,
			Contracts: contractRepo,
			Profiles:  providers,
			History:   bid.NewHistory(pool),
			Outbox:    writer,
		}),
		Deliverables: deliverable.NewService(pool, deliverable.NewRepository(pool), contracts, blobs, writer, deliverable.Options{}),
		Payouts:      payout.NewService(pool, payout.NewRepository(pool), writer),
		Providers:    providers,
		Admin:        admin.NewService(admin.NewRepository(pool)),
		Relay:        outbox.NewRelay(pool, outbox.NewStore(), notify.NewLogSink(logging.Nop()), nil, outbox.RelayOptions{}),
		Blobs:        blobs,
	}
}

// Close releases the pool, drops an isolated schema and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	h.Pool.Close()
	var firstErr error
	if err := h.teardown(ctx); err != nil {
		firstErr = err
	}
	if err := h.container.Terminate(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Register signs up a fresh user with role and returns its identity.
func (h *Harness) Register(ctx context.Context, role auth.Role) (auth.Identity, error) {
	n := h.seq.Add(1)
	u, err := h.Svc.Auth.Register(ctx, auth.RegisterRequest{
		Email:    fmt.Sprintf("%s-%d-%d@example.com", role, n, time.Now().UnixNano()),
		Password: "stress-password",
		FullName: fmt.Sprintf("%s %d", role, n),
		Role:     role,
	})
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{UserID: u.ID, Role: u.Role}, nil
}

// Admin inserts an administrator directly; admins cannot self-register.
func (h *Harness) Admin(ctx context.Context) (auth.Identity, error) {
	n := h.seq.Add(1)
	var id string
	err := h.Pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, $2, 'x', 'admin') RETURNING id`,
		fmt.Sprintf("admin-%d-%d@example.com", n, time.Now().UnixNano()), fmt.Sprintf("Admin %d", n),
	).Scan(&id)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("seed admin: %w", err)
	}
	return auth.Identity{UserID: id, Role: auth.RoleAdmin}, nil
}

// Reset truncates every mutable table for a clean epoch. TRUNCATE bypasses
// the row-level delete guards.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"contract_messages",
		"payout_requests",
		"reviews",
		"deliverables",
		"contract_events",
		"contracts",
		"bids",
		"requests",
		"password_resets",
		"provider_profiles",
		"users",
	}

	tx, err := h.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
