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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/dispatch-backend/api/routes"
	"github.com/angelmondragon/dispatch-backend/internal/assignments"
	"github.com/angelmondragon/dispatch-backend/internal/audit"
	"github.com/angelmondragon/dispatch-backend/internal/auth"
	"github.com/angelmondragon/dispatch-backend/internal/bidwindows"
	"github.com/angelmondragon/dispatch-backend/internal/notifications"
	"github.com/angelmondragon/dispatch-backend/internal/onboarding"
	"github.com/angelmondragon/dispatch-backend/internal/organizations"
	"github.com/angelmondragon/dispatch-backend/internal/realtime"
	"github.com/angelmondragon/dispatch-backend/internal/users"
	"github.com/angelmondragon/dispatch-backend/pkg/auth/session"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/instance"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/metrics"
	"github.com/angelmondragon/dispatch-backend/pkg/migrate"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	params, err := buildRouterParams(cfg, logg, dbClient, redisClient, registry)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}

func buildRouterParams(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, registry *prometheus.Registry) (routes.RouterParams, error) {
	gdb := dbClient.DB()

	auditWriter, err := audit.NewWriter(gdb)
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("audit writer: %w", err)
	}
	broadcaster, err := realtime.NewBroadcaster(dbClient, outbox.NewService(outbox.NewRepository(gdb), logg), logg)
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("realtime broadcaster: %w", err)
	}
	notificationRepo := notifications.NewRepository(gdb)
	notifier, err := notifications.NewNotifier(notificationRepo)
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("notifier: %w", err)
	}
	notificationService, err := notifications.NewService(notificationRepo)
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("notification service: %w", err)
	}

	orgService, err := organizations.NewService(organizations.ServiceParams{
		DB:       dbClient,
		Repo:     organizations.NewRepository(gdb),
		Dispatch: cfg.Dispatch,
		Signup:   cfg.Signup,
		Logger:   logg,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("organization service: %w", err)
	}

	assignmentRepo := assignments.NewRepository(gdb)
	windowService, err := bidwindows.NewService(bidwindows.ServiceParams{
		DB:          dbClient,
		Repo:        bidwindows.NewRepository(gdb),
		Assignments: assignmentRepo,
		Notifier:    notifier,
		Audit:       auditWriter,
		Broadcaster: broadcaster,
		Bonus:       orgService,
		Metrics:     metrics.NewContentionMetrics(registry),
		Config:      cfg.Dispatch,
		Logger:      logg,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("bid window service: %w", err)
	}

	onboardingService, err := onboarding.NewService(onboarding.ServiceParams{
		DB:            dbClient,
		Repo:          onboarding.NewRepository(gdb),
		Organizations: orgService,
		Audit:         auditWriter,
		Broadcaster:   broadcaster,
		Config:        cfg.Signup,
		Logger:        logg,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("onboarding service: %w", err)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("session manager: %w", err)
	}
	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(gdb),
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("auth service: %w", err)
	}
	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		DB:             dbClient,
		Reservations:   onboardingService,
		Organizations:  orgService,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		return routes.RouterParams{}, fmt.Errorf("register service: %w", err)
	}

	return routes.RouterParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		RedisPinger:   redisClient,
		Sessions:      sessionManager,
		Gatherer:      registry,
		Auth:          authService,
		Register:      registerService,
		BidWindows:    windowService,
		Reservations:  onboardingService,
		Entries:       onboardingService,
		Assignments:   assignmentRepo,
		Notifications: notificationService,
	}, nil
}
