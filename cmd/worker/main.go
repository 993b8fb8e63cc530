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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-recurring/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-recurring/internal/jobs"
	"github.com/odyssey-erp/odyssey-recurring/internal/numbering"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/db"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring"
	"github.com/odyssey-erp/odyssey-recurring/internal/shared"
	"github.com/odyssey-erp/odyssey-recurring/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	numbers := numbering.NewAuthority(
		numbering.WithDefaultPrefix(cfg.Recurring.NumberPrefix),
		numbering.WithWidth(cfg.Recurring.NumberWidth),
	)
	service := recurring.NewService(recurring.NewRepository(pool, numbers),
		recurring.WithLogger(logger),
		recurring.WithMetrics(metrics),
		recurring.WithDefaultPaymentTerms(cfg.Recurring.DefaultPaymentTerms),
	)
	ledger := shared.NewIdempotencyStore(pool)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	sweepJob := jobs.NewRecurringSweepJob(service, client, cache.NewLocker(redisClient), logger, metrics)
	sweepJob.Keys = ledger
	sweepJob.BatchSize = cfg.Recurring.SweepBatch
	sweepJob.LockTTL = cfg.Recurring.SweepLockTTL
	sweepJob.MaxRetry = cfg.Recurring.GenerateMaxRetry
	generateJob := jobs.NewRecurringGenerateJob(service, ledger, logger, metrics)

	sweepTask, err := jobs.NewRecurringSweepTask(time.Time{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRecurringSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskRecurringGenerate, Handler: generateJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.Recurring.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsRouter := chi.NewRouter()
		metricsRouter.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metricsRouter, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting worker", slog.String("sweep_cron", cfg.Recurring.SweepCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
