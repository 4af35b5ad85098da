// Package main is the entry point of the learnloop core: the client-side
// state, scheduling and sync engine behind the tutoring apps. It wires the
// local store, the snapshot cache, the remote document store, the sync
// manager, the group quiz coordinator and the reminder jobs, then runs until
// signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/learnloop/learnloop-core/config"
	"github.com/learnloop/learnloop-core/internal/cache"
	"github.com/learnloop/learnloop-core/internal/coordinator"
	"github.com/learnloop/learnloop-core/internal/generator"
	"github.com/learnloop/learnloop-core/internal/messaging"
	"github.com/learnloop/learnloop-core/internal/notify"
	"github.com/learnloop/learnloop-core/internal/reminders"
	"github.com/learnloop/learnloop-core/internal/remote"
	"github.com/learnloop/learnloop-core/internal/remote/postgres"
	"github.com/learnloop/learnloop-core/internal/store"
	"github.com/learnloop/learnloop-core/internal/sync"
	"github.com/learnloop/learnloop-core/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.Observability.AddCaller,
	})
	log.Info("starting learnloop core",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.OwnerID(cfg.App.UserID),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REMOTE DOCUMENT STORE
	// ─────────────────────────────────────────────────────────────────────────
	var remoteStore remote.Store
	if cfg.Database.URL != "" {
		log.Info("connecting to remote document store")
		pgCfg := postgres.DefaultConfig()
		pgCfg.DatabaseURL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

		pg, err := postgres.NewStore(ctx, pgCfg, log)
		if err != nil {
			return fmt.Errorf("failed to connect to remote store: %w", err)
		}
		remoteStore = pg
		log.Info("remote document store ready")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory remote store")
		remoteStore = remote.NewMemoryStore()
	}
	defer func() {
		log.Info("closing remote store")
		_ = remoteStore.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SNAPSHOT CACHE
	// ─────────────────────────────────────────────────────────────────────────
	var snapshots cache.SnapshotCache
	if cfg.Redis.Disabled {
		log.Warn("redis disabled, snapshots stay in memory")
		snapshots = cache.NewMemoryCache()
	} else {
		redisCfg := cache.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
		redisCfg.SnapshotTTL = cfg.Redis.SnapshotTTL

		redisCache, err := cache.NewRedisCache(redisCfg)
		if err != nil {
			log.Warn("redis unavailable, snapshots stay in memory", logger.Err(err))
			snapshots = cache.NewMemoryCache()
		} else {
			snapshots = redisCache
			log.Info("snapshot cache ready")
		}
	}
	defer func() {
		_ = snapshots.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. LOCAL STORE AND OUTBOX
	// ─────────────────────────────────────────────────────────────────────────
	outbox := sync.NewOutbox()
	st, err := store.New(store.Options{
		OwnerID: cfg.App.UserID,
		Cache:   snapshots,
		Bus:     bus,
		Outbox:  outbox,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// Resume from the last snapshot before any remote traffic: the model
	// must be usable even when everything below fails.
	if err := st.LoadSnapshot(ctx); err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SYNC MANAGER
	// ─────────────────────────────────────────────────────────────────────────
	manager, err := sync.NewManager(sync.Options{
		Store:  st,
		Remote: remoteStore,
		Outbox: outbox,
		Bus:    bus,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("failed to create sync manager: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. CONTENT GENERATOR CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	genCfg := generator.DefaultConfig(cfg.Generator.BaseURL)
	genCfg.APIKey = cfg.Generator.APIKey
	genCfg.Timeout = cfg.Generator.RequestTimeout
	genCfg.MaxQuestions = cfg.Generator.MaxQuestions
	gen := generator.NewClient(genCfg, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GROUP QUIZ COORDINATOR
	// ─────────────────────────────────────────────────────────────────────────
	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" &&
		cfg.Features.IsEnabled(config.FeatureExperimentalWebhooks, cfg.App.UserID) {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout, log)
	} else {
		notifier = notify.NewLogNotifier(log)
	}

	coord, err := coordinator.New(coordinator.Options{
		Store:     st,
		Remote:    remoteStore,
		Generator: gen,
		Bus:       bus,
		Notifier:  notifier,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	defer coord.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. START SYNC AND SUBSCRIPTIONS
	// ─────────────────────────────────────────────────────────────────────────
	manager.Start(ctx)
	if err := coord.Resubscribe(ctx); err != nil {
		log.Warn("could not restore group subscriptions", logger.Err(err))
	}

	// Background outbox drain.
	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	go drainLoop(drainCtx, manager, cfg.Sync.DrainInterval)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. REMINDER JOBS
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Reminders.Enabled {
		sched, err := reminders.New(reminders.Options{
			Config: reminders.Config{
				WindowStartHour:    cfg.Reminders.WindowStartHour,
				WindowEndHour:      cfg.Reminders.WindowEndHour,
				ReviewScanInterval: cfg.Reminders.ReviewScanInterval,
				StreakCheckHour:    cfg.Reminders.StreakCheckHour,
			},
			Store:    st,
			Notifier: notifier,
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("failed to create reminder scheduler: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start reminder scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	state := manager.State()
	log.Info("learnloop core is running",
		logger.Bool("online", state.IsOnline),
		logger.Bool("remote_available", state.IsRemoteAvailable),
		logger.QueueDepth(state.PendingWrites),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	// One last drain inside the shutdown window so queued writes survive
	// restarts as rarely as possible; anything left is replayed from the
	// snapshot on the next start.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	manager.Drain(shutdownCtx)

	log.Info("shutdown completed")
	return nil
}

// drainLoop flushes the outbox on a fixed cadence while the remote is
// usable. Degraded mode suspends attempts until Retry succeeds.
func drainLoop(ctx context.Context, manager *sync.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := manager.State()
			if !state.IsRemoteAvailable || state.PendingWrites == 0 {
				continue
			}
			manager.Drain(ctx)
		}
	}
}
