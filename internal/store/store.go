// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL and SQLite (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/lmsr-amm/internal/model"
)

// ErrNotFound is returned when a market does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The exchange writes after every
// successful ledger mutation; reads rebuild ledgers on start-up.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketState stores the outstanding shares and lifecycle state.
	UpdateMarketState(ctx context.Context, id string, shares []float64, status string, resolvedOutcome *int) error

	// --- Positions ---

	// UpsertPosition creates or replaces a participant's position.
	UpsertPosition(ctx context.Context, position *model.Position) error

	// GetPositions returns every position in a market.
	GetPositions(ctx context.Context, marketID string) ([]model.Position, error)

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByMarket returns all entries for a market in time order.
	GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByParticipant returns all entries for a participant.
	GetLedgerEntriesByParticipant(ctx context.Context, participantID string) ([]model.LedgerEntry, error)
}
