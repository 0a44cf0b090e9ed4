package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"expertflow/admin"
	"expertflow/auth"
	"expertflow/bid"
	"expertflow/config"
	"expertflow/contract"
	"expertflow/db"
	"expertflow/deliverable"
	"expertflow/httpapi"
	"expertflow/logging"
	"expertflow/metrics"
	"expertflow/notify"
	"expertflow/outbox"
	"expertflow/payout"
	"expertflow/provider"
	"expertflow/request"
	"expertflow/storage"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.NewJSON(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, cfg.DatabaseDSN); err != nil {
			return err
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	svc := wireServices(cfg, pool, blobs, m, log)
	relay := outbox.NewRelay(pool, outbox.NewStore(), newSink(cfg, log), log.With("component", "outbox"), outbox.RelayOptions{
		Interval:    cfg.OutboxPollInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}).WithObserver(m)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.New(svc, log.With("component", "http"), m, httpapi.Options{
			MaxUploadBytes: cfg.UploadMaxBytes + 1<<20,
			DownloadTTL:    cfg.PresignTTL,
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "http listening", "addr", cfg.HTTPAddr, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func wireServices(cfg *config.Config, pool *pgxpool.Pool, blobs storage.Store, m *metrics.Metrics, log logging.Logger) httpapi.Services {
	writer := outbox.NewWriter()

	authSvc := auth.NewService(pool, auth.NewRepository(pool), writer, auth.Options{
		JWTSecret:     cfg.JWTSecret,
		TokenTTL:      cfg.TokenTTL,
		ResetTokenTTL: cfg.ResetTokenTTL,
		ResetTopic:    outbox.TopicPasswordReset,
	}).WithLogger(log)

	requestRepo := request.NewRepository(pool)
	contractRepo := contract.NewRepository(pool)
	providerSvc := provider.NewService(pool, provider.NewRepository(pool), writer).WithLogger(log)

	requestSvc := request.NewService(pool, requestRepo, writer).WithLogger(log)
	contractSvc := contract.NewService(pool, contractRepo, writer).WithLogger(log).WithObserver(m)
	bidSvc := bid.NewService(pool, bid.NewRepository(pool), bid.Deps{
		Requests:  requestRepo,
		Contracts: contractRepo,
		Profiles:  providerSvc,
		History:   bid.NewHistory(pool),
		Outbox:    writer,
	}).WithLogger(log).WithObserver(m)
	deliverableSvc := deliverable.NewService(pool, deliverable.NewRepository(pool), contractSvc, blobs, writer, deliverable.Options{
		MaxBytes:          cfg.UploadMaxBytes,
		AllowedMediaTypes: cfg.AllowedMediaTypes,
	}).WithLogger(log)
	payoutSvc := payout.NewService(pool, payout.NewRepository(pool), writer).WithLogger(log).WithObserver(m)

	return httpapi.Services{
		Auth:         authSvc,
		Requests:     requestSvc,
		Bids:         bidSvc,
		Contracts:    contractSvc,
		Deliverables: deliverableSvc,
		Payouts:      payoutSvc,
		Providers:    providerSvc,
		Admin:        admin.NewService(admin.NewRepository(pool)),
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		s, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap s3 storage: %w", err)
		}
		return s, nil
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// newSink always logs events and additionally posts them to the webhook
// when one is configured.
func newSink(cfg *config.Config, log logging.Logger) notify.Sink {
	sinks := notify.Multi{notify.NewLogSink(log.With("component", "notify"))}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return sinks
}
