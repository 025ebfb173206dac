package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"roadassist/account"
	"roadassist/config"
	"roadassist/db"
	"roadassist/issue"
	"roadassist/migrations"
	"roadassist/outbox"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		issueRepo   issue.Repository
		accountRepo account.Repository
		ready       func(context.Context) error
		relay       *outbox.Relay
	)

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := db.Migrate(ctx, pool, migrations.FS)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", slog.Any("files", applied))

		events := outbox.NewStore(pool)
		issueRepo = issue.NewRepository(pool, events)
		accountRepo = account.NewRepository(pool)
		ready = pool.Ping

		var publisher outbox.Publisher = outbox.LogPublisher{Logger: logger}
		if len(cfg.KafkaBrokers) > 0 {
			kp := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			defer kp.Close()
			publisher = kp
		}
		relay = outbox.NewRelay(events, publisher).
			WithInterval(cfg.OutboxPollInterval).
			WithMaxAttempts(cfg.OutboxMaxAttempts).
			WithLogger(logger)
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		issueRepo = issue.NewMemoryRepository()
		accountRepo = account.NewMemoryRepository()
	}

	accounts := account.NewService(accountRepo, cfg.JWTSecret).WithTokenTTL(cfg.TokenTTL)
	issues := issue.NewService(issueRepo, issue.Policy{
		AllowSelfOffer: cfg.AllowSelfOffer,
		DefaultRadius:  cfg.DefaultRadius,
	}).
		WithDirectory(accounts).
		WithLogger(logger).
		WithTimeout(cfg.OperationTimeout)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewServer(issues, accounts, ready, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", srv.Addr), slog.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	return g.Wait()
}
