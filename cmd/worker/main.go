// Package main provides the standalone maintenance worker entry point.
// It runs the epoch scheduler, the stuck-operation watchdog, and the
// valuation refresh loop without serving the HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vault-engine/internal/adapter"
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
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("Maintenance worker starting")

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

	rpcPool, err := oracle.NewPoolFromURLs(cfg.Oracle.RPCPrimary, cfg.Oracle.RPCSecondary)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to RPC endpoints")
	}
	defer rpcPool.Close()

	feedOracle := oracle.NewFeedOracle(rpcPool, cfg.Oracle.Feeds, cfg.Oracle.MaxQuoteAge)
	priceOracle := oracle.NewCachedOracle(feedOracle, redis.Client(), cfg.Cache.TTL)

	vaultRepo := storage.NewVaultRepository(postgres)
	auditRepo := storage.NewAuditRepository(clickhouse)
	cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)

	tokens := adapter.NewTokenReader(rpcPool)
	registry := valuer.NewRegistry()
	registry.RegisterKind(types.KindPrincipal, valuer.NewPrincipalValuer(priceOracle))
	registry.RegisterKind(types.KindLending,
		valuer.NewLendingValuer(adapter.NewLendingAdapter(tokens), priceOracle, cfg.Vault.RejectUnderwater))
	registry.RegisterKind(types.KindConcentratedLiquidity,
		valuer.NewLiquidityValuer(adapter.NewPoolAdapter(tokens), priceOracle))

	vaultService := service.NewVaultService(vaultRepo, auditRepo, cacheService, registry, cfg.Vault)
	registry.RegisterKind(types.KindReceipt, valuer.NewReceiptValuer(vaultService))

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := vaultService.LoadVaults(loadCtx); err != nil {
		loadCancel()
		logger.WithError(err).Fatal("Failed to load vaults from storage")
	}
	loadCancel()

	logger.WithField("vaults", len(vaultService.VaultIDs())).Info("Vaults loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler, err := worker.NewScheduler(&worker.SchedulerConfig{
		Vaults:           vaultService,
		EpochCadence:     cfg.Vault.EpochCadence,
		WatchdogInterval: cfg.Worker.WatchdogInterval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}
	if err := scheduler.Start(ctx); err != nil {
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
	if err := refresher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start refresh worker")
	}

	logger.Info("Maintenance worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down maintenance worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	if err := refresher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Refresh worker did not stop cleanly")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}

	logger.Info("Maintenance worker exited")
}
