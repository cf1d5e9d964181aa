package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/contadesk/contadesk/internal/activity"
	"github.com/contadesk/contadesk/internal/app"
	"github.com/contadesk/contadesk/internal/declarations"
	"github.com/contadesk/contadesk/internal/directory"
	"github.com/contadesk/contadesk/internal/identity"
	"github.com/contadesk/contadesk/internal/observability"
	"github.com/contadesk/contadesk/internal/platform/cache"
	"github.com/contadesk/contadesk/internal/platform/db"
	"github.com/contadesk/contadesk/internal/shared"
	"github.com/contadesk/contadesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	identityMiddleware := &identity.Middleware{
		Sessions:   identity.NewSessionStore(redisClient, "", cfg.SessionTTL),
		Roles:      identity.NewRoleRepository(dbpool),
		CookieName: cfg.SessionCookie,
		Logger:     logger,
	}

	activityRecorder := activity.NewRecorder(activity.NewPostgresStore(dbpool), jobClient, logger)
	declarationService := declarations.NewService(
		declarations.NewRepository(dbpool),
		activityRecorder,
		declarations.ServiceConfig{
			Directory:   directory.NewRepository(dbpool),
			Idempotency: shared.NewIdempotencyStore(dbpool),
			Metrics:     metrics,
			Logger:      logger,
			MaxFiles:    cfg.ImportMaxFiles,
		},
	)
	declarationHandler := declarations.NewHandler(logger, declarationService, cfg.MaxUploadBytes())
	jobHandler := jobs.NewHandler(inspector, logger, jobs.QueueDefault, activity.QueueName)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Identity:            identityMiddleware,
		DeclarationsHandler: declarationHandler,
		JobHandler:          jobHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
