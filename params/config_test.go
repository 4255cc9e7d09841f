package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":4000", cfg.API.Addr)
	assert.Equal(t, []string{"*"}, cfg.API.CORSOrigins)
	assert.True(t, cfg.API.MetricsEnabled)
	assert.Empty(t, cfg.API.AdminKey)
	assert.Equal(t, time.Second, cfg.Market.TickInterval)
	assert.Equal(t, "0.01", cfg.Market.PriceFloor.String())
	assert.Equal(t, 100, cfg.Market.TradesInitLimit)
	assert.Equal(t, 200, cfg.Market.TradesDefaultLimit)
	assert.Equal(t, 10*time.Minute, cfg.Storage.UserCacheTTL)
	assert.Empty(t, cfg.Storage.DBPath)
	assert.Empty(t, cfg.Feed.KafkaBrokers)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("ADMIN_KEY", "k")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("PRICE_FLOOR", "1.5")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, "k", cfg.API.AdminKey)
	assert.Equal(t, 250*time.Millisecond, cfg.Market.TickInterval)
	assert.Equal(t, "1.5", cfg.Market.PriceFloor.String())
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Feed.KafkaBrokers)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.API.CORSOrigins)
}

func TestLoadFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=/tmp/tickerbook-test\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("DB_PATH") })

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tickerbook-test", cfg.Storage.DBPath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("PRICE_FLOOR", "0")
	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	t.Setenv("PRICE_FLOOR", "0.01")
	t.Setenv("TICK_INTERVAL", "soon")
	_, err = LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
