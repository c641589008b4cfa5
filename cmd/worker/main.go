package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-bank/meridian/internal/app"
	"github.com/meridian-bank/meridian/internal/notify"
	"github.com/meridian-bank/meridian/internal/platform/db"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var publisher notify.Publisher
	publisher, err = notify.NewAMQPPublisher(cfg.AMQPURL, cfg.NotifyExchange)
	if err != nil {
		logger.Warn("amqp unavailable, notifications will be dropped", slog.Any("error", err))
		publisher = &notify.NopPublisher{Logger: logger}
	}
	defer publisher.Close()

	idempotencyStore := shared.NewIdempotencyStore(pool)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeNotifyAccount, Handler: jobs.NewNotifyAccountHandler(publisher, logger)},
			{Type: jobs.TaskTypeReconcileTransfer, Handler: jobs.NewReconcileTransferHandler(pool, logger)},
			{Type: jobs.TaskTypeLedgerScan, Handler: jobs.NewLedgerScanHandler(pool, logger, cfg.PendingScanAfter)},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, cfg.IdempotencyRetention)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: jobs.NewLedgerScanTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
