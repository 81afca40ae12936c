package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"adpilot_backend/internal/action"
	advisorsvc "adpilot_backend/internal/advisor"
	"adpilot_backend/internal/dispatch"
	"adpilot_backend/internal/events"
	"adpilot_backend/internal/health"
	"adpilot_backend/internal/metrics"
	"adpilot_backend/internal/optimizer/repository"
	"adpilot_backend/internal/optimizer/service"
	"adpilot_backend/internal/rebalance"
	"adpilot_backend/internal/risk"
	"adpilot_backend/internal/scheduler"
	aiclient "adpilot_backend/platform/ai/advisor"
	"adpilot_backend/platform/config"
	"adpilot_backend/platform/db"
	"adpilot_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting optimizer scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, getStringEnv("MIGRATIONS_DIR", "migrations"))
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	rdb, err := newRedisClient(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()

	eventBus := events.NewInMemoryBus(log)
	subscribeMonitoring(eventBus, log)

	healthCfg, err := health.LoadConfig(cfg.GetScoringConfigPath())
	if err != nil {
		log.Error("failed to load scoring config", "error", err)
		panic("failed to load scoring config: " + err.Error())
	}

	bounds := action.Bounds{
		MinBudgetCents: cfg.GetMinBudgetCents(),
		MaxBudgetCents: cfg.GetMaxBudgetCents(),
	}

	repo := repository.New(pool)
	aggregator := metrics.NewClient(cfg.GetMetricsURL(), cfg.GetMetricsAPIKey(), cfg.GetMetricsTimeout(), log)
	guard := dispatch.NewGuard(rdb, cfg.GetGuardTTL())
	dispatcher := dispatch.NewDispatcher(cfg, guard, log)

	var refiner service.Refiner
	if cfg.IsAdvisorEnabled() {
		llm := aiclient.NewClient(aiclient.Config{
			APIKey:  cfg.GetAdvisorAPIKey(),
			BaseURL: cfg.GetAdvisorBaseURL(),
			Model:   cfg.GetAdvisorModel(),
			Timeout: cfg.GetAdvisorTimeout(),
		})
		refiner = advisorsvc.New(llm, cfg.GetMaxActionsPerRun(), log)
		log.Info("advisor refinement enabled", "model", llm.Name())
	}

	optimizer := service.New(
		repo,
		aggregator,
		risk.NewScorer(),
		dispatcher,
		refiner,
		eventBus,
		log,
		healthCfg,
		rebalance.DefaultConfig(bounds),
		cfg.GetMaxActionsPerRun(),
	)

	hostname, _ := os.Hostname()
	lock := scheduler.NewLeaseLock(pool, cfg.GetLockKey(), hostname, cfg.GetLockTTL())
	batch := scheduler.NewBatch(cfg, lock, repo, optimizer, log)
	go batch.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, optimizer, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

// subscribeMonitoring routes run failures and dispatch exhaustion to the
// internal monitoring log. These never reach tenant-facing surfaces.
func subscribeMonitoring(bus events.Bus, log *logger.Logger) {
	bus.Subscribe(events.RunFailed{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		if ev, ok := e.(events.RunFailed); ok {
			log.Error("optimizer run failed",
				"run_id", ev.RunID,
				"tenant_id", ev.TenantID,
				"stage", ev.Stage,
				"reason", ev.Reason,
			)
		}
		return nil
	}))

	bus.Subscribe(events.DispatchExhausted{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		if ev, ok := e.(events.DispatchExhausted); ok {
			log.Error("dispatch retries exhausted",
				"run_key", ev.IdempotencyKey,
				"tenant_id", ev.TenantID,
				"attempts", ev.Attempts,
				"last_status", ev.LastStatus,
			)
		}
		return nil
	}))
}

func newRedisClient(cfg config.GuardConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if cfg.GetRedisTLSInsecure() && opt.TLSConfig != nil {
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

func getStringEnv(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}
