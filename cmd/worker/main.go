package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/config"
	"streamvault/internal/logger"
	"streamvault/internal/services"
	"streamvault/internal/tasks"
)

func main() {
	foundEnv := config.LoadDotEnv()
	cfg := config.Load()

	log := logger.For("streamvault-worker", cfg.IsDevelopment())
	defer func() { _ = log.Sync() }()

	if !foundEnv {
		log.Info("no .env file found, using system environment")
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := services.InitDB(cfg.DatabaseURL, cfg.IsDevelopment(), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := services.AutoMigrate(db, log); err != nil {
		log.Fatal("failed to run database migrations", zap.Error(err))
	}

	deps := tasks.Deps{
		CallbackHistory: services.NewCallbackHistoryRepository(db),
		PixExpiry:       cfg.PixExpiry,
		Log:             log.Named("tasks"),
	}

	// Session expiry needs a store shared with the server.
	if cfg.StoreDriver == services.StoreDriverMemory {
		log.Warn("STORE_DRIVER=memory, session expiry runs inside the server process")
	} else {
		store, closeStore, err := services.OpenSessionStore(cfg, db, log)
		if err != nil {
			log.Fatal("failed to open session store", zap.Error(err))
		}
		defer func() { _ = closeStore() }()

		ids, err := services.NewIDGenerator(cfg.SnowflakeNode)
		if err != nil {
			log.Fatal("failed to create id generator", zap.Error(err))
		}
		// expiry never dispatches attribution, so the worker's dispatcher has no channels
		dispatcher := services.NewAttributionDispatcher(cfg.AttributionTimeout, log.Named("attribution"), nil)
		deps.Sessions = services.NewPaymentService(store, services.NewMangofyService(cfg.Mangofy, cfg.Customer, nil),
			dispatcher, ids, log.Named("payments"), services.WithPixExpiry(cfg.PixExpiry, cfg.ExpiryGrace))
	}

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, deps)
	runner := tasks.NewRunner(db, registry, log.Named("runner"))

	log.Info("worker started", zap.Duration("tick", cfg.WorkerTick), zap.Strings("tasks", registry.Names()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.WorkerTick)
	defer ticker.Stop()

	// Run once at startup, then on every tick.
	runOnce(ctx, runner, log)

	for {
		select {
		case <-ticker.C:
			runOnce(ctx, runner, log)
		case <-ctx.Done():
			log.Info("shutting down worker")
			return
		}
	}
}

func runOnce(ctx context.Context, runner *tasks.Runner, log *zap.Logger) {
	processed, err := runner.RunDue(ctx)
	if err != nil {
		log.Error("task run failed", zap.Error(err))
		return
	}
	if processed > 0 {
		log.Info("task run finished", zap.Int("processed", processed))
	}
}
