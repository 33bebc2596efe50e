package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/billing.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 15, cfg.Billing.GracePeriodDays)
	assert.Equal(t, time.Hour, cfg.Billing.SchedulerInterval)
	assert.Equal(t, "0.05", cfg.Billing.Policy().LateFeeRate.String())
	assert.Empty(t, cfg.Redis.Address)
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BILLING_SERVER_PORT", "9090")
	t.Setenv("BILLING_BILLING_GRACE_PERIOD_DAYS", "30")
	t.Setenv("BILLING_REDIS_ADDRESS", "localhost:6379")

	cfg, err := NewConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Billing.GracePeriodDays)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestNewConfig_File(t *testing.T) {
	dir := t.TempDir()
	yaml := "database:\n  path: /tmp/x.db\nbilling:\n  late_fee_rate: 0.1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := NewConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "0.1", cfg.Billing.Policy().LateFeeRate.String())
}

func TestNewConfig_Invalid(t *testing.T) {
	t.Setenv("BILLING_LOGGING_LEVEL", "verbose")

	_, err := NewConfig(t.TempDir())
	assert.Error(t, err)
}
