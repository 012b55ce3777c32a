// Package model defines the persisted records shared by the exchange and the
// store. Collateral and holdings use shopspring/decimal; the outstanding
// share vector stays float64 because it is the pricing engine's own state.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market lifecycle states.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusResolved = "resolved"
)

// Ledger entry kinds.
const (
	KindDeposit = "deposit"
	KindTrade   = "trade"
	KindSettle  = "settle"
)

// Market is the persisted state of one LMSR market.
type Market struct {
	ID              string    `json:"id" db:"id"`
	Description     string    `json:"description" db:"description"`
	Outcomes        []string  `json:"outcomes" db:"outcomes"`
	Liquidity       float64   `json:"liquidity" db:"liquidity"` // LMSR b
	Shares          []float64 `json:"shares" db:"shares"`       // outstanding, per outcome
	Status          string    `json:"status" db:"status"`
	ResolvedOutcome *int      `json:"resolved_outcome,omitempty" db:"resolved_outcome"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Position is one participant's holdings and collateral in one market.
type Position struct {
	MarketID      string            `json:"market_id" db:"market_id"`
	ParticipantID string            `json:"participant_id" db:"participant_id"`
	Shares        []decimal.Decimal `json:"shares" db:"shares"`
	Collateral    decimal.Decimal   `json:"collateral" db:"collateral"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of a deposit, executed trade or
// settlement payout. Declined trades are not recorded.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	MarketID      string          `json:"market_id" db:"market_id"`
	ParticipantID string          `json:"participant_id" db:"participant_id"`
	Kind          string          `json:"kind" db:"kind"`
	Outcome       int             `json:"outcome" db:"outcome"`         // -1 for deposits
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`       // shares, signed: +buy, -sell
	Cost          decimal.Decimal `json:"cost" db:"cost"`               // collateral moved, signed
	PriceAfter    float64         `json:"price_after" db:"price_after"` // price of Outcome after the entry
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}
