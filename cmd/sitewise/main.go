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

	"github.com/sitewise-erp/sitewise/internal/app"
	"github.com/sitewise-erp/sitewise/internal/comparison"
	"github.com/sitewise-erp/sitewise/internal/delivery"
	"github.com/sitewise-erp/sitewise/internal/inventory"
	"github.com/sitewise-erp/sitewise/internal/masterdata/sites"
	"github.com/sitewise-erp/sitewise/internal/masterdata/vendors"
	"github.com/sitewise-erp/sitewise/internal/observability"
	"github.com/sitewise-erp/sitewise/internal/platform/cache"
	"github.com/sitewise-erp/sitewise/internal/platform/db"
	"github.com/sitewise-erp/sitewise/internal/purchaseorders"
	"github.com/sitewise-erp/sitewise/internal/rbac"
	"github.com/sitewise-erp/sitewise/internal/requests"
	"github.com/sitewise-erp/sitewise/internal/shared"
	"github.com/sitewise-erp/sitewise/internal/storage"
	"github.com/sitewise-erp/sitewise/jobs"
	"github.com/sitewise-erp/sitewise/report"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Stock reads survive without Redis, so a failed connect only degrades.
	var stockCache *inventory.StockCache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
	} else {
		stockCache = inventory.NewStockCache(redisClient)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	storageClient := storage.NewClient(cfg.StorageURL)
	rbacMiddleware := rbac.Middleware{Logger: logger}

	vendorService := vendors.NewService(vendors.NewRepository(pool))
	siteService := sites.NewService(sites.NewRepository(pool))

	requestService := requests.NewService(requests.NewRepository(pool), siteService, auditLogger)
	comparisonService := comparison.NewService(comparison.NewRepository(pool), requestService, vendorService, auditLogger)
	poService := purchaseorders.NewService(purchaseorders.NewRepository(pool), requestService, comparisonService, vendorService, siteService, auditLogger)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), stockCache, idempotencyStore,
		storageClient, vendorService, auditLogger, cfg.InventoryAllowNegative)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	deliveryService := delivery.NewService(delivery.NewRepository(pool), requestService, inventoryService,
		storageClient, jobClient, auditLogger)

	reportClient := report.NewClient(cfg.GotenbergURL)
	poRenderer := report.NewRenderer(reportClient, vendorService, siteService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		RequestHandler:       requests.NewHandler(logger, requestService, rbacMiddleware),
		ComparisonHandler:    comparison.NewHandler(logger, comparisonService, rbacMiddleware),
		PurchaseOrderHandler: purchaseorders.NewHandler(logger, poService, poRenderer, rbacMiddleware),
		DeliveryHandler:      delivery.NewHandler(logger, deliveryService, rbacMiddleware),
		InventoryHandler:     inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		VendorHandler:        vendors.NewHandler(logger, vendorService, rbacMiddleware),
		SiteHandler:          sites.NewHandler(logger, siteService, rbacMiddleware),
		ReportHandler:        report.NewHandler(reportClient, logger),
		JobHandler:           jobs.NewHandler(inspector, logger),
		Metrics:              metrics,
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
