// Package ledger tracks participant collateral and share holdings for one
// LMSR market and applies trades against the pricing engine.
//
// All monetary values and holdings use shopspring/decimal. Pricing math is
// delegated to the lmsr engine; its float64 results are converted with
// lmsr.PriceScale digits.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/lmsr"
)

var (
	// ErrNegativeDeposit is returned when a deposit amount is below zero.
	ErrNegativeDeposit = errors.New("ledger: deposit amount must not be negative")

	// ErrInvalidSnapshot is returned when a snapshot cannot be restored.
	ErrInvalidSnapshot = errors.New("ledger: invalid snapshot")

	// ErrUnpriceable is returned when the engine yields a non-finite cost.
	ErrUnpriceable = errors.New("ledger: trade cost is not finite")
)

// Status describes how a trade request was settled.
type Status int

const (
	// StatusExecuted means collateral, holdings and engine were updated.
	StatusExecuted Status = iota
	// StatusInsufficientCollateral means the participant could not pay.
	StatusInsufficientCollateral
	// StatusUnknownParticipant means the participant never deposited.
	StatusUnknownParticipant
	// StatusNothingToBuy means a capped buy had no size to execute.
	StatusNothingToBuy
)

func (s Status) String() string {
	switch s {
	case StatusExecuted:
		return "executed"
	case StatusInsufficientCollateral:
		return "insufficient_collateral"
	case StatusUnknownParticipant:
		return "unknown_participant"
	case StatusNothingToBuy:
		return "nothing_to_buy"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusExecuted, StatusInsufficientCollateral, StatusUnknownParticipant, StatusNothingToBuy} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("ledger: unknown trade status %q", text)
}

// Position is one participant's holdings in the market.
type Position struct {
	Shares     []decimal.Decimal `json:"shares"`
	Collateral decimal.Decimal   `json:"collateral"`
}

func (p *Position) clone() Position {
	shares := make([]decimal.Decimal, len(p.Shares))
	copy(shares, p.Shares)
	return Position{Shares: shares, Collateral: p.Collateral}
}

// TradeResult reports the outcome of Trade or BuyWithMaxPrice. Shares and
// Cost are zero unless Status is StatusExecuted. Price is the price of the
// traded outcome after the call; Collateral is the participant's balance
// after the call.
type TradeResult struct {
	Status     Status          `json:"status"`
	Outcome    int             `json:"outcome"`
	Shares     decimal.Decimal `json:"shares"`
	Cost       decimal.Decimal `json:"cost"`
	Price      float64         `json:"price"`
	Collateral decimal.Decimal `json:"collateral"`
}

// Executed reports whether the trade went through.
func (r TradeResult) Executed() bool {
	return r.Status == StatusExecuted
}

// Ledger applies trades for one market. A single mutex covers the engine and
// every position, so the cost read and the three trade mutations happen as
// one unit.
type Ledger struct {
	mu        sync.Mutex
	engine    *lmsr.Engine
	positions map[string]*Position
}

// New creates a ledger with a fresh engine of liquidity b and n outcomes.
func New(b float64, n int) (*Ledger, error) {
	engine, err := lmsr.New(b, n)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		engine:    engine,
		positions: make(map[string]*Position),
	}, nil
}

// NumOutcomes returns the number of outcomes.
func (l *Ledger) NumOutcomes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.NumOutcomes()
}

// Liquidity returns the engine's b parameter.
func (l *Ledger) Liquidity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Liquidity()
}

// MaxLoss returns the bounded operator loss b * ln(n).
func (l *Ledger) MaxLoss() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.MaxLoss()
}

// DepositCollateral credits amount to the participant, creating the position
// on first use.
func (l *Ledger) DepositCollateral(participantID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeDeposit, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.position(participantID)
	p.Collateral = p.Collateral.Add(amount)
	return nil
}

func (l *Ledger) position(participantID string) *Position {
	p, ok := l.positions[participantID]
	if !ok {
		p = &Position{Shares: zeroShares(l.engine.NumOutcomes())}
		l.positions[participantID] = p
	}
	return p
}

func zeroShares(n int) []decimal.Decimal {
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = decimal.Zero
	}
	return shares
}

// Trade issues delta shares of outcome to the participant (negative delta
// sells). Declines are reported through the result status with no state
// change; only invalid arguments produce an error.
func (l *Ledger) Trade(participantID string, outcome int, delta decimal.Decimal) (TradeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trade(participantID, outcome, delta)
}

func (l *Ledger) trade(participantID string, outcome int, delta decimal.Decimal) (TradeResult, error) {
	cost, err := l.cost(outcome, delta.InexactFloat64())
	if err != nil {
		return TradeResult{}, err
	}

	result := TradeResult{Outcome: outcome}
	p, ok := l.positions[participantID]
	if !ok {
		result.Status = StatusUnknownParticipant
		result.Price, _ = l.engine.Price(outcome)
		result.Collateral = decimal.Zero
		return result, nil
	}
	if p.Collateral.LessThan(cost) {
		result.Status = StatusInsufficientCollateral
		result.Price, _ = l.engine.Price(outcome)
		result.Collateral = p.Collateral
		return result, nil
	}

	// Engine first: it is the only step that can fail.
	if err := l.engine.Trade(outcome, delta.InexactFloat64()); err != nil {
		return TradeResult{}, err
	}
	p.Collateral = p.Collateral.Sub(cost)
	p.Shares[outcome] = p.Shares[outcome].Add(delta)

	result.Status = StatusExecuted
	result.Shares = delta
	result.Cost = cost
	result.Price, _ = l.engine.Price(outcome)
	result.Collateral = p.Collateral
	return result, nil
}

// cost prices delta shares of outcome in money units.
func (l *Ledger) cost(outcome int, delta float64) (decimal.Decimal, error) {
	raw, err := l.engine.CostToTrade(outcome, delta)
	if err != nil {
		return decimal.Zero, err
	}
	if math.IsInf(raw, 0) || math.IsNaN(raw) {
		return decimal.Zero, fmt.Errorf("%w: %v for %v shares of outcome %d", ErrUnpriceable, raw, delta, outcome)
	}
	return decimal.NewFromFloat(raw).Round(lmsr.PriceScale), nil
}

// BuyWithMaxPrice buys up to shares of outcome without pushing its price
// above maxPrice. If the cap is reached first, only the shares needed to hit
// it are bought. It never sells: a negative request or a cap at or below the
// current price yields StatusNothingToBuy. maxPrice is validated first, so an
// invalid cap is an error even for a negative request.
func (l *Ledger) BuyWithMaxPrice(participantID string, outcome int, shares decimal.Decimal, maxPrice float64) (TradeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size, err := l.cappedBuySize(outcome, shares, maxPrice)
	if err != nil {
		return TradeResult{}, err
	}
	if !size.IsPositive() {
		price, _ := l.engine.Price(outcome)
		result := TradeResult{Status: StatusNothingToBuy, Outcome: outcome, Price: price}
		if p, ok := l.positions[participantID]; ok {
			result.Collateral = p.Collateral
		}
		return result, nil
	}
	return l.trade(participantID, outcome, size)
}

// CappedBuySize returns the number of shares BuyWithMaxPrice would try to
// buy against the current state. Like BuyWithMaxPrice it rejects an invalid
// maxPrice before looking at shares.
func (l *Ledger) CappedBuySize(outcome int, shares decimal.Decimal, maxPrice float64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cappedBuySize(outcome, shares, maxPrice)
}

func (l *Ledger) cappedBuySize(outcome int, shares decimal.Decimal, maxPrice float64) (decimal.Decimal, error) {
	toMax, err := l.engine.SharesToReachPrice(outcome, maxPrice)
	if err != nil {
		return decimal.Zero, err
	}
	if shares.IsNegative() {
		return decimal.Zero, nil
	}
	// Truncate so rounding never carries the price past the cap.
	capped := decimal.NewFromFloat(toMax).Truncate(lmsr.PriceScale)
	return decimal.Min(shares, capped), nil
}

// Quote is the priced but unapplied form of a trade.
type Quote struct {
	Outcome     int             `json:"outcome"`
	Shares      decimal.Decimal `json:"shares"`
	Cost        decimal.Decimal `json:"cost"`
	PriceBefore float64         `json:"price_before"`
	PriceAfter  float64         `json:"price_after"`
}

// AveragePrice returns cost / shares, or the current price for a zero-size
// quote. Positive for both buys and sells.
func (q Quote) AveragePrice() decimal.Decimal {
	if q.Shares.IsZero() {
		return decimal.NewFromFloat(q.PriceBefore).Round(lmsr.PriceScale)
	}
	return q.Cost.Div(q.Shares).Round(lmsr.PriceScale)
}

// Quote prices a trade of delta shares of outcome without applying it.
func (l *Ledger) Quote(outcome int, delta decimal.Decimal) (Quote, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw := delta.InexactFloat64()
	c, err := l.cost(outcome, raw)
	if err != nil {
		return Quote{}, err
	}
	before, _ := l.engine.Price(outcome)
	after, err := l.engine.PriceAfterTrade(outcome, raw)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Outcome:     outcome,
		Shares:      delta,
		Cost:        c,
		PriceBefore: before,
		PriceAfter:  after,
	}, nil
}

// SharesToReachPrice returns the signed shares of outcome that move its price
// to target.
func (l *Ledger) SharesToReachPrice(outcome int, target float64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.engine.SharesToReachPrice(outcome, target)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(s).Round(lmsr.PriceScale), nil
}

// Price returns the current price of outcome.
func (l *Ledger) Price(outcome int) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Price(outcome)
}

// Prices returns the current price of every outcome.
func (l *Ledger) Prices() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Prices()
}

// OutstandingShares returns a copy of the engine's share vector.
func (l *Ledger) OutstandingShares() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Shares()
}

// Position returns a copy of the participant's position.
func (l *Ledger) Position(participantID string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[participantID]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// Participants returns every participant id in sorted order.
func (l *Ledger) Participants() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
