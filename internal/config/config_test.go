package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 100, cfg.Server.UserRPS)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 50, cfg.Database.Postgres.MaxConnections)
	assert.Equal(t, 5*time.Minute, cfg.Vault.MaxStaleness)
	assert.Equal(t, 24*time.Hour, cfg.Vault.OperationTimeout)
	assert.True(t, cfg.Vault.ToleranceFraction.String() == "0.01")
	assert.False(t, cfg.Vault.RejectUnderwater)
	assert.Equal(t, "0 0 * * *", cfg.Vault.EpochCadence)
	assert.Equal(t, time.Minute, cfg.Oracle.MaxQuoteAge)
	assert.Empty(t, cfg.Oracle.Feeds)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	os.Clearenv()
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("VAULT_MAX_STALENESS", "30s")
	t.Setenv("VAULT_LOSS_TOLERANCE", "0.05")
	t.Setenv("VAULT_REJECT_UNDERWATER", "true")
	t.Setenv("ORACLE_FEEDS", "WETH=0xabc, USDC=0xdef")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Vault.MaxStaleness)
	assert.True(t, cfg.Vault.ToleranceFraction.String() == "0.05")
	assert.True(t, cfg.Vault.RejectUnderwater)
	assert.Equal(t, map[string]string{"WETH": "0xabc", "USDC": "0xdef"}, cfg.Oracle.Feeds)
}

func TestLoadConfigRejectsMalformedTolerance(t *testing.T) {
	os.Clearenv()
	t.Setenv("VAULT_LOSS_TOLERANCE", "lots")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue string
		expected     string
	}{
		{name: "existing variable", key: "TEST_VAR", value: "set", defaultValue: "fallback", expected: "set"},
		{name: "missing variable", key: "TEST_MISSING", value: "", defaultValue: "fallback", expected: "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			assert.Equal(t, tt.expected, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 7))

	t.Setenv("TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, getEnvAsInt("TEST_INT_BAD", 7))

	assert.Equal(t, 7, getEnvAsInt("TEST_INT_MISSING", 7))
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, getEnvAsDuration("TEST_DUR", time.Minute))

	t.Setenv("TEST_DUR_BAD", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("TEST_DUR_BAD", time.Minute))
}
