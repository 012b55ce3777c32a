// Package exchange runs the lifecycle of many LMSR markets: opening, funding,
// trading, closing and resolving them, with every change persisted through a
// store.Store and announced to an optional Listener.
package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/ledger"
)

var (
	// ErrMarketNotFound is returned for an unknown market id.
	ErrMarketNotFound = errors.New("exchange: market not found")

	// ErrMarketNotOpen is returned when trading on a closed or resolved market.
	ErrMarketNotOpen = errors.New("exchange: market is not open for trading")

	// ErrMarketResolved is returned for changes to an already resolved market.
	ErrMarketResolved = errors.New("exchange: market is already resolved")

	// ErrInvalidMarket is returned when an open request is malformed.
	ErrInvalidMarket = errors.New("exchange: invalid market definition")

	// ErrMissingParticipant is returned when a participant id is empty.
	ErrMissingParticipant = errors.New("exchange: participant id is required")

	// ErrParticipantNotFound is returned when a participant has no position.
	ErrParticipantNotFound = errors.New("exchange: participant has no position in market")

	// ErrTradeDeclined marks a trade that the ledger refused without error.
	ErrTradeDeclined = errors.New("exchange: trade declined")
)

// DeclineError reports a declined trade. It matches ErrTradeDeclined with
// errors.Is and carries the ledger result.
type DeclineError struct {
	Result ledger.TradeResult
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTradeDeclined, e.Result.Status)
}

func (e *DeclineError) Is(target error) bool {
	return target == ErrTradeDeclined
}

// OpenRequest describes a market to open.
type OpenRequest struct {
	Description string   `json:"description"`
	Outcomes    []string `json:"outcomes"`
	Liquidity   float64  `json:"liquidity"` // 0 selects the configured default
}

// MarketView is a market's persisted record joined with live engine state.
type MarketView struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	Outcomes        []string  `json:"outcomes"`
	Liquidity       float64   `json:"liquidity"`
	Shares          []float64 `json:"shares"`
	Prices          []float64 `json:"prices"`
	MaxLoss         float64   `json:"max_loss"`
	Status          string    `json:"status"`
	ResolvedOutcome *int      `json:"resolved_outcome,omitempty"`
	Participants    int       `json:"participants"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// QuoteView prices a hypothetical trade.
type QuoteView struct {
	MarketID     string          `json:"market_id"`
	Outcome      int             `json:"outcome"`
	Shares       decimal.Decimal `json:"shares"`
	Cost         decimal.Decimal `json:"cost"`
	AveragePrice decimal.Decimal `json:"average_price"`
	PriceBefore  float64         `json:"price_before"`
	PriceAfter   float64         `json:"price_after"`
}

// PositionView is a participant's holdings with a mark-to-market value.
type PositionView struct {
	MarketID      string            `json:"market_id"`
	ParticipantID string            `json:"participant_id"`
	Shares        []decimal.Decimal `json:"shares"`
	Collateral    decimal.Decimal   `json:"collateral"`
	Value         decimal.Decimal   `json:"value"` // Σ price_i × shares_i
}

// Settlement summarises a resolution. Payouts holds each settled
// participant's collateral change, negative for short holders of the winner.
// Shortfall is what shorts owed beyond their collateral; while it is zero the
// market maker's loss stays within MaxLoss.
type Settlement struct {
	MarketID  string                     `json:"market_id"`
	Outcome   int                        `json:"outcome"`
	Payouts   map[string]decimal.Decimal `json:"payouts"`
	TotalPaid decimal.Decimal            `json:"total_paid"`
	Collected decimal.Decimal            `json:"collected"`
	Shortfall decimal.Decimal            `json:"shortfall"`
}

func (s *Settlement) add(participantID string, pay ledger.Payout) {
	s.Payouts[participantID] = pay.Amount
	if pay.Amount.IsPositive() {
		s.TotalPaid = s.TotalPaid.Add(pay.Amount)
	} else {
		s.Collected = s.Collected.Sub(pay.Amount)
	}
	s.Shortfall = s.Shortfall.Add(pay.Shortfall)
}

// Event types carried to listeners.
const (
	EventMarketOpened   = "market_opened"
	EventTradeExecuted  = "trade_executed"
	EventMarketClosed   = "market_closed"
	EventMarketResolved = "market_resolved"
)

// Event announces a state change of one market.
type Event struct {
	Type          string           `json:"type"`
	MarketID      string           `json:"market_id"`
	Status        string           `json:"status"`
	Prices        []float64        `json:"prices"`
	Outcome       *int             `json:"outcome,omitempty"`
	Shares        *decimal.Decimal `json:"shares,omitempty"`
	ParticipantID string           `json:"participant_id,omitempty"`
}

// Listener receives events after they are persisted. Implementations must
// not block.
type Listener interface {
	Publish(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Publish(e Event) { f(e) }
