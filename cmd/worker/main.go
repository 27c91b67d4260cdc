// The worker binary is the engine's composition root: it runs migrations,
// wires the store, rate limiter, broker and dispatcher from the environment,
// and drives the claim loop plus maintenance schedules until SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/outreachiq/jobengine/internal/broker"
	"github.com/outreachiq/jobengine/internal/config"
	"github.com/outreachiq/jobengine/internal/db"
	"github.com/outreachiq/jobengine/internal/dispatch"
	"github.com/outreachiq/jobengine/internal/handlers"
	"github.com/outreachiq/jobengine/internal/lock"
	"github.com/outreachiq/jobengine/internal/ratelimit"
	"github.com/outreachiq/jobengine/internal/recorder"
	"github.com/outreachiq/jobengine/internal/retry"
	"github.com/outreachiq/jobengine/internal/scheduler"
	"github.com/outreachiq/jobengine/internal/store/postgres"
	"github.com/outreachiq/jobengine/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	locks := lock.NewPostgresLockManager(conn)
	if err := db.Init(ctx, conn, locks, log); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	jobStore := postgres.NewJobStore(conn)
	defer jobStore.Close()

	limiter, purgeWindows := buildLimiter(cfg, conn, log)
	publisher := buildPublisher(cfg, log)
	defer publisher.Close()

	registry := dispatch.NewRegistry()
	if err := handlers.Register(registry, buildDeps(log)); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	sched := scheduler.New(
		jobStore,
		limiter,
		scheduler.ProviderLimits{PerProvider: cfg.ProviderLimits, Default: cfg.DefaultSendLimit},
		dispatch.NewDispatcher(registry, log),
		retry.Policy{Base: cfg.RetryBase, Cap: cfg.RetryCap, JitterFrac: retry.DefaultJitterFrac},
		recorder.New(jobStore, publisher, log),
		registry.Types(),
		log,
		scheduler.Options{
			Instance:     cfg.Instance,
			WorkerCount:  cfg.WorkerCount,
			PollInterval: cfg.PollInterval,
		},
	)

	reaper := scheduler.NewReaper(jobStore, locks, cfg.StaleClaimAfter, log)

	maintenance := cron.New()
	if _, err := maintenance.AddFunc(cfg.ReaperSchedule, func() {
		reaper.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	if purgeWindows != nil {
		// Shortly after the default window rollover.
		if _, err := maintenance.AddFunc("30 0 * * *", purgeWindows); err != nil {
			return fmt.Errorf("schedule window purge: %w", err)
		}
	}
	maintenance.Start()
	defer maintenance.Stop()

	ops := &http.Server{
		Addr:    cfg.OpsAddr,
		Handler: web.NewRouteHandler(jobStore, log).Router(),
	}
	go func() {
		log.Info("ops server listening", zap.String("addr", cfg.OpsAddr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server failed", zap.Error(err))
		}
	}()
	defer ops.Shutdown(context.Background())

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("worker shut down cleanly")
	return nil
}

// buildLimiter prefers Redis when configured and falls back to the Postgres
// window table otherwise. The purge func is only meaningful for Postgres;
// Redis windows expire on their own.
func buildLimiter(cfg *config.Config, conn *sql.DB, log *zap.Logger) (ratelimit.Limiter, func()) {
	if cfg.RedisAddr != "" {
		log.Info("rate limiting via redis", zap.String("addr", cfg.RedisAddr))
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return ratelimit.NewRedisLimiter(rdb, cfg.RateWindowBoundaryHour), nil
	}

	limiter := ratelimit.NewPostgresLimiter(conn, cfg.RateWindowBoundaryHour)
	purge := func() {
		purged, err := limiter.PurgeExpired(context.Background(), time.Now().Add(-48*time.Hour))
		if err != nil {
			log.Error("rate window purge failed", zap.Error(err))
			return
		}
		if purged > 0 {
			log.Info("purged expired rate windows", zap.Int64("count", purged))
		}
	}
	return limiter, purge
}

func buildPublisher(cfg *config.Config, log *zap.Logger) broker.Publisher {
	if cfg.AMQPURL == "" {
		return broker.NewNopPublisher(log)
	}
	publisher, err := broker.NewRabbitMQ(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, recorder.CampaignHealthRoutingKey)
	if err != nil {
		// Campaign-health events are advisory; the queue must keep
		// draining when the broker is down.
		log.Error("rabbitmq unavailable, campaign health events disabled", zap.Error(err))
		return broker.NewNopPublisher(log)
	}
	log.Info("publishing campaign health events", zap.String("exchange", cfg.AMQPExchange))
	return publisher
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
