package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/model"
)

// sqliteTime is fixed-width so timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SqliteStore implements Store on a single SQLite file. Slices are stored as
// JSON text and decimals as their string form.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore opens the database at path. Run MigrateSqlite first.
func NewSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises anyway.
	db.SetMaxOpenConns(1)
	return &SqliteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(sqliteTime, v)
}

func (s *SqliteStore) CreateMarket(ctx context.Context, m *model.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return err
	}
	shares, err := json.Marshal(m.Shares)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO markets (id, description, outcomes, liquidity, shares, status, resolved_outcome, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Description, string(outcomes), m.Liquidity, string(shares),
		m.Status, nullOutcome(m.ResolvedOutcome),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSqliteMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var outcomes, shares, createdAt, updatedAt string
	var resolved sql.NullInt64

	if err := row.Scan(&m.ID, &m.Description, &outcomes, &m.Liquidity, &shares,
		&m.Status, &resolved, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
		return nil, fmt.Errorf("decode outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(shares), &m.Shares); err != nil {
		return nil, fmt.Errorf("decode shares: %w", err)
	}
	if resolved.Valid {
		o := int(resolved.Int64)
		m.ResolvedOutcome = &o
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

const sqliteMarketColumns = `id, description, outcomes, liquidity, shares, status, resolved_outcome, created_at, updated_at`

func (s *SqliteStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMarketColumns+` FROM markets WHERE id = ?`, id)
	m, err := scanSqliteMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *SqliteStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMarketColumns+` FROM markets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanSqliteMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *SqliteStore) UpdateMarketState(ctx context.Context, id string, shares []float64, status string, resolvedOutcome *int) error {
	encoded, err := json.Marshal(shares)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET shares = ?, status = ?, resolved_outcome = ?, updated_at = ?
		 WHERE id = ?`,
		string(encoded), status, nullOutcome(resolvedOutcome), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SqliteStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	shares, err := json.Marshal(p.Shares)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO positions (market_id, participant_id, shares, collateral, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (market_id, participant_id)
		 DO UPDATE SET shares = excluded.shares, collateral = excluded.collateral, updated_at = excluded.updated_at`,
		p.MarketID, p.ParticipantID, string(shares), p.Collateral.String(), formatTime(p.UpdatedAt))
	return err
}

func (s *SqliteStore) GetPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id, participant_id, shares, collateral, updated_at
		 FROM positions WHERE market_id = ? ORDER BY participant_id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, collateral, updatedAt string
		if err := rows.Scan(&p.MarketID, &p.ParticipantID, &shares, &collateral, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(shares), &p.Shares); err != nil {
			return nil, fmt.Errorf("decode position shares: %w", err)
		}
		if p.Collateral, err = decimal.NewFromString(collateral); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SqliteStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	log.Debug().Str("entry", e.ID).Str("storeMethod", "InsertLedgerEntry").Msg("executing-query")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, market_id, participant_id, kind, outcome, quantity, cost, price_after, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MarketID, e.ParticipantID, e.Kind, e.Outcome,
		e.Quantity.String(), e.Cost.String(), e.PriceAfter, formatTime(e.Timestamp))
	return err
}

func (s *SqliteStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.queryLedger(ctx, `WHERE market_id = ?`, marketID)
}

func (s *SqliteStore) GetLedgerEntriesByParticipant(ctx context.Context, participantID string) ([]model.LedgerEntry, error) {
	return s.queryLedger(ctx, `WHERE participant_id = ?`, participantID)
}

func (s *SqliteStore) queryLedger(ctx context.Context, where string, arg string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, participant_id, kind, outcome, quantity, cost, price_after, timestamp
		 FROM ledger_entries `+where+` ORDER BY timestamp, rowid`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var qty, cost, ts string
		if err := rows.Scan(&e.ID, &e.MarketID, &e.ParticipantID, &e.Kind, &e.Outcome,
			&qty, &cost, &e.PriceAfter, &ts); err != nil {
			return nil, err
		}
		if e.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if e.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullOutcome(o *int) sql.NullInt64 {
	if o == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*o), Valid: true}
}
