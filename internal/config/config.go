// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds every tunable of the server.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DatabaseURL string        `env:"DATABASE_URL"`
	SqlitePath  string        `env:"SQLITE_PATH"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	DefaultLiquidity    float64 `env:"DEFAULT_LIQUIDITY" envDefault:"100"`
	MaxSharesPerOutcome float64 `env:"MAX_SHARES_PER_OUTCOME" envDefault:"0"`
	MaxGrossShares      float64 `env:"MAX_GROSS_SHARES" envDefault:"0"`
	AllowShortSales     bool    `env:"ALLOW_SHORT_SALES" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads dotenvPath if it exists, then parses the environment. Variables
// already set in the environment win over the file.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", dotenvPath, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the exchange cannot run with.
func (c Config) Validate() error {
	if !(c.DefaultLiquidity > 0) {
		return fmt.Errorf("%w: DEFAULT_LIQUIDITY must be positive, got %v", ErrInvalidConfig, c.DefaultLiquidity)
	}
	if c.MaxSharesPerOutcome < 0 {
		return fmt.Errorf("%w: MAX_SHARES_PER_OUTCOME must not be negative", ErrInvalidConfig)
	}
	if c.MaxGrossShares < 0 {
		return fmt.Errorf("%w: MAX_GROSS_SHARES must not be negative", ErrInvalidConfig)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: CACHE_TTL must be positive", ErrInvalidConfig)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: PORT is required", ErrInvalidConfig)
	}
	return nil
}

// MaxPerOutcome returns the per-outcome limit as a decimal.
func (c Config) MaxPerOutcome() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxSharesPerOutcome)
}

// MaxGross returns the gross holdings limit as a decimal.
func (c Config) MaxGross() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxGrossShares)
}
