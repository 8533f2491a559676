package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetpay/treasury/internal/audit"
	"github.com/fleetpay/treasury/internal/config"
	"github.com/fleetpay/treasury/internal/database"
	"github.com/fleetpay/treasury/internal/events"
	"github.com/fleetpay/treasury/internal/handlers"
	"github.com/fleetpay/treasury/internal/jobs"
	"github.com/fleetpay/treasury/internal/logger"
	"github.com/fleetpay/treasury/internal/metrics"
	mW "github.com/fleetpay/treasury/internal/middleware"
	"github.com/fleetpay/treasury/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// @title Fleet Treasury API
// @version 1.0
// @description Ledger, top-up approvals and cash closings for a transport fleet
// @BasePath /api/v1

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not up yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.IsDevelopment()); err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log

	db, err := database.InitDB(cfg.Database, logger.Named("database"))
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatal("failed to migrate database", zap.Error(err))
		}
		log.Info("database schema up to date")
	}

	redisClient := database.InitRedis(cfg.Redis, logger.Named("redis"))
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusCollector("fleet_treasury")
	if err := collector.Register(registry); err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	publisher := events.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger.Named("events"))
	defer publisher.Close()

	deps := services.Dependencies{
		Log:     logger.Named("treasury"),
		Audit:   audit.NewLogger(logger.Named("audit")),
		Metrics: collector,
		Events:  publisher,
	}

	maxTopup, err := decimal.NewFromString(cfg.Treasury.MaxTopupAmount)
	if err != nil {
		log.Fatal("invalid TREASURY_MAX_TOPUP_AMOUNT", zap.String("value", cfg.Treasury.MaxTopupAmount), zap.Error(err))
	}

	trips := services.SQLTripStats{}
	ledgerService := services.NewLedgerService(db, deps)
	requestService := services.NewRequestService(db, ledgerService, maxTopup, deps)
	authKeyService := services.NewAuthKeyService(db, cfg.Treasury.KeyHashCost, deps)
	closingCache := services.NewClosingCache(redisClient, cfg.Treasury.ClosingCacheTTL, logger.Named("closing-cache"))
	closingService := services.NewClosingService(db, ledgerService, authKeyService, trips, closingCache, cfg.Location(), deps)
	maintenanceService := services.NewMaintenanceService(db, trips, cfg.Jobs.PurgeBatchSize, deps)
	authService := services.NewAuthService(db, redisClient, cfg.JWT.SecretKey,
		time.Duration(cfg.JWT.ExpiryHours)*time.Hour, deps)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	handlerLog := logger.Named("http")
	router := handlers.NewRouter(handlers.Handlers{
		Auth:        handlers.NewAuthHandler(authService, handlerLog),
		Topups:      handlers.NewTopupHandler(requestService, handlerLog),
		Ledger:      handlers.NewLedgerHandler(ledgerService, ledgerService.Accounts(), handlerLog),
		AuthKey:     handlers.NewAuthKeyHandler(authKeyService, handlerLog),
		Closings:    handlers.NewClosingHandler(closingService, handlerLog),
		Maintenance: handlers.NewMaintenanceHandler(maintenanceService, cfg.Jobs.PurgeCutoffAge, handlerLog),
	}, registry)

	scheduler := jobs.NewScheduler(
		jobs.NewJobs(authKeyService, maintenanceService, logger.Named("jobs"), cfg.Jobs),
		logger.Named("scheduler"),
		cfg.Jobs,
	)
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Warn("scheduled jobs still running at shutdown")
	}

	log.Info("server stopped")
}
