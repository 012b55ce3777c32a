package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 100.0, cfg.DefaultLiquidity)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.AllowShortSales)
	assert.True(t, cfg.MaxPerOutcome().IsZero())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_LIQUIDITY", "250.5")
	t.Setenv("MAX_SHARES_PER_OUTCOME", "1000")
	t.Setenv("ALLOW_SHORT_SALES", "true")
	t.Setenv("CACHE_TTL", "2m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 250.5, cfg.DefaultLiquidity)
	assert.Equal(t, "1000", cfg.MaxPerOutcome().String())
	assert.True(t, cfg.AllowShortSales)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
}

func TestLoad_DotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SQLITE_PATH=/tmp/dotenv-lmsr.db\nLOG_LEVEL=debug\n"), 0o600))
	// t.Setenv restores whatever godotenv writes.
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("LOG_LEVEL", "warn")
	os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dotenv-lmsr.db", cfg.SqlitePath)
	assert.Equal(t, "warn", cfg.LogLevel, "environment wins over the file")
}

func TestLoad_MissingDotenvIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DEFAULT_LIQUIDITY", "0")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("DEFAULT_LIQUIDITY", "abc")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{Port: "8080", DefaultLiquidity: 100, CacheTTL: time.Second}
	require.NoError(t, base.Validate())

	for name, mutate := range map[string]func(*Config){
		"negative per-outcome": func(c *Config) { c.MaxSharesPerOutcome = -1 },
		"negative gross":       func(c *Config) { c.MaxGrossShares = -1 },
		"zero ttl":             func(c *Config) { c.CacheTTL = 0 },
		"no port":              func(c *Config) { c.Port = "" },
	} {
		c := base
		mutate(&c)
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, name)
	}
}
