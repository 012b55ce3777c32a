package limits

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func holdings(fs ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(fs))
	for i, f := range fs {
		out[i] = d(f)
	}
	return out
}

func TestCheckTrade_WithinLimits(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000), false)
	assert.NoError(t, limiter.CheckTrade(nil, 0, d(100)))
	assert.NoError(t, limiter.CheckTrade(holdings(10, 20), 1, d(100)))
}

func TestCheckTrade_ShortSale(t *testing.T) {
	limiter := NewPositionLimiter(decimal.Zero, decimal.Zero, false)
	assert.ErrorIs(t, limiter.CheckTrade(holdings(5, 0), 0, d(-6)), ErrShortSale)
	assert.ErrorIs(t, limiter.CheckTrade(nil, 1, d(-1)), ErrShortSale)

	// Selling exactly what is held is fine.
	assert.NoError(t, limiter.CheckTrade(holdings(5, 0), 0, d(-5)))
}

func TestCheckTrade_ShortSaleAllowed(t *testing.T) {
	limiter := NewPositionLimiter(d(100), decimal.Zero, true)
	assert.NoError(t, limiter.CheckTrade(holdings(0, 0), 0, d(-50)))
	// Short positions still count against the per-outcome limit.
	assert.ErrorIs(t, limiter.CheckTrade(holdings(-80, 0), 0, d(-30)), ErrPerOutcomeLimitExceeded)
}

func TestCheckTrade_PerOutcomeExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(5000), false)

	// Existing position of 950 + new 100 = 1050 > 1000.
	err := limiter.CheckTrade(holdings(950, 0), 0, d(100))
	assert.ErrorIs(t, err, ErrPerOutcomeLimitExceeded)

	// Exactly at the limit is allowed.
	assert.NoError(t, limiter.CheckTrade(holdings(900, 0), 0, d(100)))
}

func TestCheckTrade_GrossExceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(1000), d(1500), false)

	err := limiter.CheckTrade(holdings(800, 600, 0), 2, d(200))
	assert.ErrorIs(t, err, ErrGrossLimitExceeded)

	assert.NoError(t, limiter.CheckTrade(holdings(800, 600, 0), 2, d(100)))
}

func TestCheckTrade_ReducingAlwaysAllowed(t *testing.T) {
	limiter := NewPositionLimiter(d(100), d(100), false)
	// Already over both limits; selling down is still permitted.
	assert.NoError(t, limiter.CheckTrade(holdings(300, 200), 0, d(-50)))
}

func TestCheckTrade_ZeroLimitsDisabled(t *testing.T) {
	limiter := NewPositionLimiter(decimal.Zero, decimal.Zero, false)
	assert.NoError(t, limiter.CheckTrade(holdings(1e9, 1e9), 0, d(1e9)))
}

func TestNewPositionLimiter_NegativeClamped(t *testing.T) {
	limiter := NewPositionLimiter(d(-1), d(-5), false)
	assert.True(t, limiter.MaxPerOutcome.IsZero())
	assert.True(t, limiter.MaxGross.IsZero())
}
