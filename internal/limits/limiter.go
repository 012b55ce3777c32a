// Package limits enforces per-participant position limits on LMSR trades.
//
// Limits are checked against the participant's holdings before the ledger
// applies a trade, so a rejected trade never touches collateral or the
// pricing engine.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrShortSale is returned when a sell would leave a negative holding and
	// short sales are disabled.
	ErrShortSale = errors.New("limits: cannot sell more shares than held")

	// ErrPerOutcomeLimitExceeded is returned when a trade would push the
	// absolute holding of one outcome beyond MaxPerOutcome.
	ErrPerOutcomeLimitExceeded = errors.New("limits: per-outcome position limit exceeded")

	// ErrGrossLimitExceeded is returned when a trade would push the sum of
	// absolute holdings across all outcomes beyond MaxGross.
	ErrGrossLimitExceeded = errors.New("limits: gross position limit exceeded")
)

// PositionLimiter holds the limits for one market. A zero limit disables
// that check.
type PositionLimiter struct {
	// MaxPerOutcome is the maximum absolute holding in any single outcome.
	MaxPerOutcome decimal.Decimal

	// MaxGross is the maximum Σ |holding| across every outcome.
	MaxGross decimal.Decimal

	// AllowShort permits holdings below zero.
	AllowShort bool
}

// NewPositionLimiter creates a limiter. Negative limits are treated as zero.
func NewPositionLimiter(maxPerOutcome, maxGross decimal.Decimal, allowShort bool) *PositionLimiter {
	if maxPerOutcome.IsNegative() {
		maxPerOutcome = decimal.Zero
	}
	if maxGross.IsNegative() {
		maxGross = decimal.Zero
	}
	return &PositionLimiter{
		MaxPerOutcome: maxPerOutcome,
		MaxGross:      maxGross,
		AllowShort:    allowShort,
	}
}

// CheckTrade validates whether adding delta to holdings[outcome] respects
// the limits. holdings may be nil for a participant with no position.
//
// Reducing an existing position is always allowed, even when the participant
// is already over a limit that was lowered after they bought.
func (l *PositionLimiter) CheckTrade(holdings []decimal.Decimal, outcome int, delta decimal.Decimal) error {
	current := decimal.Zero
	if outcome >= 0 && outcome < len(holdings) {
		current = holdings[outcome]
	}
	next := current.Add(delta)

	// 1. Short sales.
	if !l.AllowShort && next.IsNegative() {
		return ErrShortSale
	}

	if next.Abs().LessThanOrEqual(current.Abs()) {
		return nil
	}

	// 2. Per-outcome limit.
	if l.MaxPerOutcome.IsPositive() && next.Abs().GreaterThan(l.MaxPerOutcome) {
		return ErrPerOutcomeLimitExceeded
	}

	// 3. Gross exposure: Σ |holding| with the traded outcome replaced.
	if l.MaxGross.IsPositive() {
		gross := next.Abs()
		for i, h := range holdings {
			if i == outcome {
				continue
			}
			gross = gross.Add(h.Abs())
		}
		if gross.GreaterThan(l.MaxGross) {
			return ErrGrossLimitExceeded
		}
	}

	return nil
}
