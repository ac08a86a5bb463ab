package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/credits-backend/internal/app"
	"github.com/angelmondragon/credits-backend/internal/cron"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
	"github.com/angelmondragon/credits-backend/pkg/migrate"
	"github.com/angelmondragon/credits-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceKind})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		if redisClient, err = redis.New(ctx, cfg.Redis, logg); err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		defer closeQuietly(ctx, logg, "redis", redisClient.Close)
	}

	services, err := app.Build(ctx, app.Deps{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	lock, err := cycleLock(ctx, cfg, logg, redisClient)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, logg, services)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// cycleLock falls back to a process-local lock when redis is not configured,
// which is only safe with a single worker replica.
func cycleLock(ctx context.Context, cfg *config.Config, logg *logger.Logger, redisClient *redis.Client) (cron.Lock, error) {
	if redisClient == nil {
		logg.Warn(ctx, "redis not configured; cron lock is process-local")
		return &cron.LocalLock{}, nil
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("create cron lock: %w", err)
	}
	return lock, nil
}

func closeQuietly(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(logg.WithField(ctx, "resource", name), "close failed", err)
	}
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return serviceKind + ":" + env
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, services *app.Services) (*cron.Registry, error) {
	sweep, err := cron.NewReferralSweepJob(cron.ReferralSweepJobParams{
		Logger:    logg,
		Referrals: services.Referrals,
	})
	if err != nil {
		return nil, err
	}
	audit, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{
		Logger:   logg,
		Accounts: services.AccountsRepo,
		Ledger:   services.Ledger,
		Alerts:   services.Alerts,
		Lookback: cfg.Cron.AuditLookback,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger: logg,
		Targets: []cron.RetentionTarget{
			{Name: "admin_notifications", Retention: cfg.Cron.NotificationRetention, Purge: services.NotificationDB.DeleteReadBefore},
			{Name: "referral_ip_logs", Retention: cfg.Cron.IPLogRetention, Purge: services.TrackerDB.PurgeIdleBefore},
		},
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(sweep, audit, retention), nil
}
