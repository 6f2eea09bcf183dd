// Package config provides configuration management for the vault engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Vault    VaultConfig
	Oracle   OracleConfig
	Cache    CacheConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// Requests per second granted to each caller class
	UserRPS     int
	OperatorRPS int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// VaultConfig holds accounting engine parameters
type VaultConfig struct {
	// MaxStaleness is the longest a cached valuation may age before reads fail
	MaxStaleness time.Duration
	// ToleranceFraction bounds cumulative per-epoch loss as a fraction of the epoch baseline
	ToleranceFraction decimal.Decimal
	// OperationTimeout gates the emergency force release of an abandoned operation
	OperationTimeout time.Duration
	// EpochCadence is the cron expression driving epoch rolls
	EpochCadence string
	// RejectUnderwater makes the lending valuer refuse unhealthy positions
	// instead of reporting their signed negative value
	RejectUnderwater bool
}

// OracleConfig holds on-chain price feed configuration
type OracleConfig struct {
	RPCPrimary   string
	RPCSecondary string
	// Feeds maps token symbols to Chainlink-style aggregator addresses
	Feeds map[string]string
	// MaxQuoteAge is the freshness bound on feed answers
	MaxQuoteAge time.Duration
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	// WatchdogInterval is how often the stuck-operation scan runs
	WatchdogInterval time.Duration
	// RefreshInterval is how often the valuation refresh cycle runs
	RefreshInterval time.Duration
	// MaxRefreshPerCycle caps oracle reads per refresh cycle
	MaxRefreshPerCycle int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	tolerance, err := getEnvAsDecimal("VAULT_LOSS_TOLERANCE", "0.01")
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			UserRPS:     getEnvAsInt("RATE_LIMIT_USER_RPS", 100),
			OperatorRPS: getEnvAsInt("RATE_LIMIT_OPERATOR_RPS", 1000),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "vault_engine"),
				User:           getEnv("POSTGRES_USER", "vault"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "vault_engine"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Vault: VaultConfig{
			MaxStaleness:      getEnvAsDuration("VAULT_MAX_STALENESS", 5*time.Minute),
			ToleranceFraction: tolerance,
			OperationTimeout:  getEnvAsDuration("VAULT_OPERATION_TIMEOUT", 24*time.Hour),
			EpochCadence:      getEnv("VAULT_EPOCH_CADENCE", "0 0 * * *"),
			RejectUnderwater:  getEnvAsBool("VAULT_REJECT_UNDERWATER", false),
		},
		Oracle: OracleConfig{
			RPCPrimary:   getEnv("ORACLE_RPC_PRIMARY", ""),
			RPCSecondary: getEnv("ORACLE_RPC_SECONDARY", ""),
			Feeds:        loadFeedAddresses(),
			MaxQuoteAge:  getEnvAsDuration("ORACLE_MAX_QUOTE_AGE", time.Minute),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 10*time.Second),
		},
		Worker: WorkerConfig{
			WatchdogInterval:   getEnvAsDuration("WORKER_WATCHDOG_INTERVAL", time.Minute),
			RefreshInterval:    getEnvAsDuration("WORKER_REFRESH_INTERVAL", 30*time.Second),
			MaxRefreshPerCycle: getEnvAsInt("WORKER_MAX_REFRESH_PER_CYCLE", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// loadFeedAddresses loads token -> aggregator address pairs.
// Format: ORACLE_FEEDS="WETH=0x...,USDC=0x..."
func loadFeedAddresses() map[string]string {
	feeds := make(map[string]string)
	raw := getEnv("ORACLE_FEEDS", "")
	if raw == "" {
		return feeds
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		token := strings.TrimSpace(parts[0])
		addr := strings.TrimSpace(parts[1])
		if token != "" && addr != "" {
			feeds[token] = addr
		}
	}
	return feeds
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal gets an environment variable as a decimal, failing on malformed input
func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := getEnv(key, defaultValue)
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal in %s: %w", key, err)
	}
	return value, nil
}
