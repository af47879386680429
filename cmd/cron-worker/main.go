package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dispatch-backend/internal/assignments"
	"github.com/angelmondragon/dispatch-backend/internal/audit"
	"github.com/angelmondragon/dispatch-backend/internal/bidwindows"
	"github.com/angelmondragon/dispatch-backend/internal/cron"
	"github.com/angelmondragon/dispatch-backend/internal/notifications"
	"github.com/angelmondragon/dispatch-backend/internal/onboarding"
	"github.com/angelmondragon/dispatch-backend/internal/organizations"
	"github.com/angelmondragon/dispatch-backend/internal/realtime"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/instance"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/metrics"
	"github.com/angelmondragon/dispatch-backend/pkg/migrate"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	gdb := dbClient.DB()

	auditWriter, err := audit.NewWriter(gdb)
	if err != nil {
		return nil, fmt.Errorf("audit writer: %w", err)
	}
	outboxRepo := outbox.NewRepository(gdb)
	broadcaster, err := realtime.NewBroadcaster(dbClient, outbox.NewService(outboxRepo, logg), logg)
	if err != nil {
		return nil, fmt.Errorf("realtime broadcaster: %w", err)
	}
	notificationRepo := notifications.NewRepository(gdb)
	notifier, err := notifications.NewNotifier(notificationRepo)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	orgService, err := organizations.NewService(organizations.ServiceParams{
		DB:       dbClient,
		Repo:     organizations.NewRepository(gdb),
		Dispatch: cfg.Dispatch,
		Signup:   cfg.Signup,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("organization service: %w", err)
	}
	windows, err := bidwindows.NewService(bidwindows.ServiceParams{
		DB:          dbClient,
		Repo:        bidwindows.NewRepository(gdb),
		Assignments: assignments.NewRepository(gdb),
		Notifier:    notifier,
		Audit:       auditWriter,
		Broadcaster: broadcaster,
		Bonus:       orgService,
		Metrics:     metrics.NewContentionMetrics(prometheus.DefaultRegisterer),
		Config:      cfg.Dispatch,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("bid window service: %w", err)
	}
	signups, err := onboarding.NewService(onboarding.ServiceParams{
		DB:            dbClient,
		Repo:          onboarding.NewRepository(gdb),
		Organizations: orgService,
		Audit:         auditWriter,
		Broadcaster:   broadcaster,
		Config:        cfg.Signup,
		Logger:        logg,
	})
	if err != nil {
		return nil, fmt.Errorf("onboarding service: %w", err)
	}

	expiry, err := cron.NewBidWindowExpiryJob(cron.BidWindowExpiryJobParams{
		Logger:   logg,
		Windows:  windows,
		Interval: cfg.Dispatch.ExpirySweepInterval,
	})
	if err != nil {
		return nil, err
	}
	stale, err := cron.NewStaleSignupJob(cron.StaleSignupJobParams{
		Logger:  logg,
		Signups: signups,
	})
	if err != nil {
		return nil, err
	}
	cleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notificationRepo,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		Retention:        time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(expiry, stale, cleanup, retention)
}
