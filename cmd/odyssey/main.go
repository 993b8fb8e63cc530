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

	"github.com/odyssey-erp/odyssey-recurring/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-recurring/internal/jobs"
	"github.com/odyssey-erp/odyssey-recurring/internal/numbering"
	"github.com/odyssey-erp/odyssey-recurring/internal/observability"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/db"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/migrate"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring"
	"github.com/odyssey-erp/odyssey-recurring/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.MigrateOnStart {
		if err := migrate.Up(dbpool); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	metrics := observability.NewMetrics()
	recurringMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	numbers := numbering.NewAuthority(
		numbering.WithDefaultPrefix(cfg.Recurring.NumberPrefix),
		numbering.WithWidth(cfg.Recurring.NumberWidth),
	)
	recurringRepo := recurring.NewRepository(dbpool, numbers)
	recurringService := recurring.NewService(recurringRepo,
		recurring.WithLogger(logger),
		recurring.WithMetrics(recurringMetrics),
		recurring.WithDefaultPaymentTerms(cfg.Recurring.DefaultPaymentTerms),
	)
	recurringHandler := recurring.NewHandler(logger, recurringService, recurring.HandlerOptions{
		GenerateLimit:  cfg.Recurring.GenerateRateLimit,
		GenerateWindow: time.Minute,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             dbpool,
		RecurringHandler: recurringHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
