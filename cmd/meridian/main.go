package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/accounts"
	"github.com/meridian-bank/meridian/internal/app"
	"github.com/meridian-bank/meridian/internal/customers"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/platform/cache"
	"github.com/meridian-bank/meridian/internal/platform/db"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/transfer"
	"github.com/meridian-bank/meridian/jobs"
)

// accountsGateway narrows the accounts service to the calls the ledger needs
// for validation and compensating adjustments.
type accountsGateway struct {
	service *accounts.Service
}

func (g accountsGateway) AccountExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return g.service.AccountExists(ctx, id)
}

func (g accountsGateway) AddFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	_, err := g.service.AddFunds(ctx, id, amount)
	return err
}

func (g accountsGateway) DeductFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	_, err := g.service.DeductFunds(ctx, id, amount)
	return err
}

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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	directory := customers.NewClient(cfg.CustomerServiceURL)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	enqueuer := jobs.NewEnqueuer(asynqClient)
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	accountRepo := accounts.NewRepository(pool)
	balanceCache := accounts.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	accountService := accounts.NewService(logger, accountRepo, directory, auditLogger, enqueuer, balanceCache)
	guard := accounts.NewGuard(accountRepo)
	accountHandler := accounts.NewHandler(logger, accountService, guard)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(logger, ledgerRepo, accountsGateway{service: accountService}, enqueuer)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	transferService := transfer.NewService(logger, accountRepo, ledgerService, auditLogger, enqueuer, idempotencyStore, enqueuer, balanceCache)
	transferHandler := transfer.NewHandler(logger, transferService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AccountsHandler: accountHandler,
		LedgerHandler:   ledgerHandler,
		TransferHandler: transferHandler,
		JobHandler:      jobHandler,
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
