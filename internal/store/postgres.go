package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Collateral and ledger amounts are stored as NUMERIC for exact decimal
// precision; share vectors use native float8 arrays.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, description, outcomes, liquidity, shares, status, resolved_outcome, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Description, m.Outcomes, m.Liquidity, m.Shares,
		m.Status, m.ResolvedOutcome, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

const pgMarketColumns = `id, description, outcomes, liquidity, shares, status, resolved_outcome, created_at, updated_at`

func scanPgMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	if err := row.Scan(&m.ID, &m.Description, &m.Outcomes, &m.Liquidity, &m.Shares,
		&m.Status, &m.ResolvedOutcome, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanPgMarket(s.pool.QueryRow(ctx,
		`SELECT `+pgMarketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMarketColumns+` FROM markets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanPgMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketState(ctx context.Context, id string, shares []float64, status string, resolvedOutcome *int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET shares = $2, status = $3, resolved_outcome = $4, updated_at = $5
		 WHERE id = $1`,
		id, shares, status, resolvedOutcome, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	shares, err := json.Marshal(p.Shares)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (market_id, participant_id, shares, collateral, updated_at)
		 VALUES ($1, $2, $3::JSONB, $4::NUMERIC, $5)
		 ON CONFLICT (market_id, participant_id)
		 DO UPDATE SET shares = EXCLUDED.shares, collateral = EXCLUDED.collateral, updated_at = EXCLUDED.updated_at`,
		p.MarketID, p.ParticipantID, string(shares), p.Collateral.String(), p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, participant_id, shares::TEXT, collateral::TEXT, updated_at
		 FROM positions WHERE market_id = $1 ORDER BY participant_id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var sharesS, collateralS string
		if err := rows.Scan(&p.MarketID, &p.ParticipantID, &sharesS, &collateralS, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sharesS), &p.Shares); err != nil {
			return nil, fmt.Errorf("decode position shares: %w", err)
		}
		p.Collateral, _ = decimal.NewFromString(collateralS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, market_id, participant_id, kind, outcome, quantity, cost, price_after, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		e.ID, e.MarketID, e.ParticipantID, e.Kind, e.Outcome,
		e.Quantity.String(), e.Cost.String(), e.PriceAfter, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, participant_id, kind, outcome,
		        quantity::TEXT, cost::TEXT, price_after, timestamp
		 FROM ledger_entries WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByParticipant(ctx context.Context, participantID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, participant_id, kind, outcome,
		        quantity::TEXT, cost::TEXT, price_after, timestamp
		 FROM ledger_entries WHERE participant_id = $1 ORDER BY timestamp`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var qtyS, costS string

		if err := rows.Scan(&e.ID, &e.MarketID, &e.ParticipantID, &e.Kind, &e.Outcome,
			&qtyS, &costS, &e.PriceAfter, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Quantity, _ = decimal.NewFromString(qtyS)
		e.Cost, _ = decimal.NewFromString(costS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
