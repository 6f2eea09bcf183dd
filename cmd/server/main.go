// Package main provides the API server entry point for the vault engine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vault-engine/internal/adapter"
	"github.com/vault-engine/internal/api"
	"github.com/vault-engine/internal/config"
	"github.com/vault-engine/internal/logging"
	"github.com/vault-engine/internal/oracle"
	"github.com/vault-engine/internal/service"
	"github.com/vault-engine/internal/storage"
	"github.com/vault-engine/internal/types"
	"github.com/vault-engine/internal/valuer"
	"github.com/vault-engine/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize the oracle stack: RPC pool with failover, Chainlink-style
	// feeds behind a circuit breaker, Redis read-through cache in front
	rpcPool, err := oracle.NewPoolFromURLs(cfg.Oracle.RPCPrimary, cfg.Oracle.RPCSecondary)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to RPC endpoints")
	}
	defer rpcPool.Close()

	feedOracle := oracle.NewFeedOracle(rpcPool, cfg.Oracle.Feeds, cfg.Oracle.MaxQuoteAge)
	priceOracle := oracle.NewCachedOracle(feedOracle, redis.Client(), cfg.Cache.TTL)

	logger.WithFields(map[string]interface{}{
		"rpc":   rpcPool.CurrentURL(),
		"feeds": len(cfg.Oracle.Feeds),
	}).Info("Oracle stack initialized")

	// Initialize repositories and cache
	vaultRepo := storage.NewVaultRepository(postgres)
	auditRepo := storage.NewAuditRepository(clickhouse)
	cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)

	// Initialize the valuer registry: one valuer per asset kind
	tokens := adapter.NewTokenReader(rpcPool)
	registry := valuer.NewRegistry()
	registry.RegisterKind(types.KindPrincipal, valuer.NewPrincipalValuer(priceOracle))
	registry.RegisterKind(types.KindLending,
		valuer.NewLendingValuer(adapter.NewLendingAdapter(tokens), priceOracle, cfg.Vault.RejectUnderwater))
	registry.RegisterKind(types.KindConcentratedLiquidity,
		valuer.NewLiquidityValuer(adapter.NewPoolAdapter(tokens), priceOracle))

	// Initialize the vault service and hydrate from storage
	vaultService := service.NewVaultService(vaultRepo, auditRepo, cacheService, registry, cfg.Vault)
	registry.RegisterKind(types.KindReceipt, valuer.NewReceiptValuer(vaultService))

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := vaultService.LoadVaults(loadCtx); err != nil {
		loadCancel()
		logger.WithError(err).Fatal("Failed to load vaults from storage")
	}
	loadCancel()

	logger.WithField("vaults", len(vaultService.VaultIDs())).Info("Vaults loaded")

	// Start background maintenance: epoch rolls and the stuck-operation watchdog
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	scheduler, err := worker.NewScheduler(&worker.SchedulerConfig{
		Vaults:           vaultService,
		EpochCadence:     cfg.Vault.EpochCadence,
		WatchdogInterval: cfg.Worker.WatchdogInterval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}
	if err := scheduler.Start(workerCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	refresher, err := worker.NewRefreshWorker(&worker.RefreshWorkerConfig{
		Vaults:       vaultService,
		PollInterval: cfg.Worker.RefreshInterval,
		Threshold:    cfg.Vault.MaxStaleness / 2,
		MaxPerCycle:  cfg.Worker.MaxRefreshPerCycle,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create refresh worker")
	}
	if err := refresher.Start(workerCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start refresh worker")
	}

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		UserRPS:         cfg.Server.UserRPS,
		OperatorRPS:     cfg.Server.OperatorRPS,
	}

	server := api.NewServer(serverConfig, vaultService, auditRepo)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	workerCancel()
	if err := refresher.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Refresh worker did not stop cleanly")
	}
	if err := scheduler.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}

	logger.Info("Server exited")
}
