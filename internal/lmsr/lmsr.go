// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for markets with any number of mutually exclusive
// outcomes.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(n))
//   - Prices that always sum to one
//   - Path-independent cost function
//
// Transcendental math is done in float64 using the log-sum-exp trick for
// numerical stability. Conversion of costs to money happens in the ledger.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidLiquidity is returned when b is not a positive finite number.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrInvalidOutcomeCount is returned when a market has fewer than two outcomes.
	ErrInvalidOutcomeCount = errors.New("lmsr: market needs at least two outcomes")

	// ErrInvalidOutcome is returned for an outcome id outside [0, n).
	ErrInvalidOutcome = errors.New("lmsr: outcome index out of range")

	// ErrInvalidPriceTarget is returned when a target price is not in (0, 1).
	ErrInvalidPriceTarget = errors.New("lmsr: target price must be strictly between 0 and 1")

	// ErrInvalidQuantity is returned for NaN or infinite share quantities.
	ErrInvalidQuantity = errors.New("lmsr: share quantity must be finite")

	// ErrPriceSaturated is returned when the current price of an outcome has
	// rounded to exactly 0 or 1 and no finite trade can move it.
	ErrPriceSaturated = errors.New("lmsr: current price is saturated")
)

// PriceScale is the number of decimal places used when costs and prices are
// converted to money.
const PriceScale int32 = 8

// maxExpArg bounds the argument of expm1 in the closed-form trade cost.
const maxExpArg = 700.0

// Engine prices trades for one market. It holds the outstanding share vector
// and is the single source of truth for current prices.
//
// Engine is not safe for concurrent use; callers serialise access.
type Engine struct {
	b      float64
	shares []float64
}

// New creates an engine with liquidity b and n outcomes, all shares zero.
// Maximum market-maker loss is bounded by b * ln(n).
func New(b float64, n int) (*Engine, error) {
	if err := validateLiquidity(b); err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, ErrInvalidOutcomeCount
	}
	return &Engine{b: b, shares: make([]float64, n)}, nil
}

// NewWithShares creates an engine from a previously recorded share vector.
// The slice is copied.
func NewWithShares(b float64, shares []float64) (*Engine, error) {
	if err := validateLiquidity(b); err != nil {
		return nil, err
	}
	if len(shares) < 2 {
		return nil, ErrInvalidOutcomeCount
	}
	for _, q := range shares {
		if math.IsNaN(q) || math.IsInf(q, 0) {
			return nil, ErrInvalidQuantity
		}
	}
	cp := make([]float64, len(shares))
	copy(cp, shares)
	return &Engine{b: b, shares: cp}, nil
}

func validateLiquidity(b float64) error {
	if !(b > 0) || math.IsInf(b, 1) {
		return ErrInvalidLiquidity
	}
	return nil
}

// Liquidity returns the liquidity parameter b.
func (e *Engine) Liquidity() float64 {
	return e.b
}

// NumOutcomes returns the fixed number of outcomes.
func (e *Engine) NumOutcomes() int {
	return len(e.shares)
}

// Shares returns a copy of the outstanding share vector.
func (e *Engine) Shares() []float64 {
	cp := make([]float64, len(e.shares))
	copy(cp, e.shares)
	return cp
}

func (e *Engine) checkOutcome(i int) error {
	if i < 0 || i >= len(e.shares) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidOutcome, i, len(e.shares))
	}
	return nil
}

// logSumExp computes ln(Σ exp(q_i / b)) with q_override replacing q_idx when
// idx >= 0. Without max-subtraction exp(x) overflows float64 when x > ~709.
//
// Algorithm: LSE(x) = max(x) + ln(Σ exp(x_i - max(x)))
func (e *Engine) logSumExp(idx int, override float64) float64 {
	at := func(i int) float64 {
		if i == idx {
			return override / e.b
		}
		return e.shares[i] / e.b
	}

	maxVal := at(0)
	for i := 1; i < len(e.shares); i++ {
		if x := at(i); x > maxVal {
			maxVal = x
		}
	}

	var sum float64
	for i := range e.shares {
		sum += math.Exp(at(i) - maxVal)
	}
	return maxVal + math.Log(sum)
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(Σ exp(q_i / b))
//
// This is the total collateral the market has charged to reach the current
// share vector from zero, plus the constant C(0) = b * ln(n).
func (e *Engine) Cost() float64 {
	return e.b * e.logSumExp(-1, 0)
}

// Price returns the instantaneous price of outcome i:
//
//	p_i = exp(q_i / b) / Σ exp(q_j / b)
func (e *Engine) Price(i int) (float64, error) {
	if err := e.checkOutcome(i); err != nil {
		return 0, err
	}
	return e.price(i), nil
}

func (e *Engine) price(i int) float64 {
	return math.Exp(e.shares[i]/e.b - e.logSumExp(-1, 0))
}

// Prices returns the price of every outcome. The result sums to one within
// floating-point tolerance.
func (e *Engine) Prices() []float64 {
	lse := e.logSumExp(-1, 0)
	prices := make([]float64, len(e.shares))
	for i, q := range e.shares {
		prices[i] = math.Exp(q/e.b - lse)
	}
	return prices
}

// CostToTrade returns the collateral cost of issuing delta shares of
// outcome i:
//
//	cost = C(q + delta·e_i) - C(q) = b · ln(1 + p_i · (exp(delta/b) - 1))
//
// Negative delta sells shares and yields a negative cost (a refund). The
// engine is not modified.
func (e *Engine) CostToTrade(i int, delta float64) (float64, error) {
	if err := e.checkOutcome(i); err != nil {
		return 0, err
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, ErrInvalidQuantity
	}
	if delta == 0 {
		return 0, nil
	}

	// The closed form cancels catastrophically once p·expm1(x) nears -1, as
	// when a dominant outcome is sold back. Those trades and huge buys use
	// two cost evaluations instead.
	x := delta / e.b
	if x <= maxExpArg {
		if w := e.price(i) * math.Expm1(x); w > -0.5 {
			return e.b * math.Log1p(w), nil
		}
	}
	after := e.b * e.logSumExp(i, e.shares[i]+delta)
	return after - e.Cost(), nil
}

// PriceAfterTrade returns the price outcome i would have after issuing delta
// shares of it. The engine is not modified.
func (e *Engine) PriceAfterTrade(i int, delta float64) (float64, error) {
	if err := e.checkOutcome(i); err != nil {
		return 0, err
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, ErrInvalidQuantity
	}
	q := e.shares[i] + delta
	return math.Exp(q/e.b - e.logSumExp(i, q)), nil
}

// SharesToReachPrice returns the signed number of shares of outcome i that
// moves its price from the current value c to target:
//
//	delta = b · (ln(target/c) - ln((1-target)/(1-c)))
//
// Only q_i changes, so the other outcomes' exponentials stay fixed and the
// odds p_i/(1-p_i) scale by exp(delta/b). The formula is therefore exact for
// any number of outcomes, not only binary markets. The remaining prices move
// proportionally to absorb the change.
func (e *Engine) SharesToReachPrice(i int, target float64) (float64, error) {
	if err := e.checkOutcome(i); err != nil {
		return 0, err
	}
	if !(target > 0 && target < 1) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPriceTarget, target)
	}
	current := e.price(i)
	if current <= 0 || current >= 1 {
		return 0, ErrPriceSaturated
	}
	return e.b * (math.Log(target/current) - math.Log((1-target)/(1-current))), nil
}

// Trade adds delta to the outstanding shares of outcome i. It performs no
// solvency checks; that is the ledger's job.
func (e *Engine) Trade(i int, delta float64) error {
	if err := e.checkOutcome(i); err != nil {
		return err
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return ErrInvalidQuantity
	}
	e.shares[i] += delta
	return nil
}

// MaxLoss returns the maximum possible loss for the market maker: b * ln(n).
func (e *Engine) MaxLoss() float64 {
	return e.b * math.Log(float64(len(e.shares)))
}
