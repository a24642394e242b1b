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

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valecore/valecore/internal/app"
	"github.com/valecore/valecore/internal/audit"
	"github.com/valecore/valecore/internal/catalog"
	"github.com/valecore/valecore/internal/ledger"
	"github.com/valecore/valecore/internal/observability"
	"github.com/valecore/valecore/internal/platform/cache"
	"github.com/valecore/valecore/internal/platform/db"
	"github.com/valecore/valecore/internal/shared"
	"github.com/valecore/valecore/internal/stock"
	"github.com/valecore/valecore/internal/users"
	"github.com/valecore/valecore/jobs"
)

func main() {
	if app.InTestMode() {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
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
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
		redisClient = nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	ledgerMetrics := observability.NewLedgerMetrics(registry)

	auditLogger := shared.NewAuditLogger(pool)

	productCache := catalog.NewProductCache(redisClient, cfg.CatalogCacheTTL)
	catalogSvc := catalog.NewService(logger, catalog.NewRepository(pool), productCache, auditLogger)
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))
	stockSvc := stock.NewService(stock.NewRepository(pool))
	usersSvc := users.NewService(users.NewRepository(pool), auditLogger)
	auditSvc := audit.NewService(audit.NewRepository(pool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("build job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = jobClient.Close() }()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Pool:           pool,
		TenantResolver: catalogSvc,

		LedgerHandler:  ledger.NewHandler(logger, ledgerSvc, ledgerMetrics),
		StockHandler:   stock.NewHandler(logger, stockSvc),
		CatalogHandler: catalog.NewHandler(logger, catalogSvc),
		UsersHandler:   users.NewHandler(logger, usersSvc),
		AuditHandler:   audit.NewHandler(logger, auditSvc),
		JobHandler:     jobs.NewHandler(inspector, jobClient, logger, cfg.VoucherPendingTTL, cfg.AuditRetention),

		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
