package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	positions map[string]map[string]*model.Position // market → participant
	ledger    []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		positions: make(map[string]map[string]*model.Position),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}

	// Store a copy to avoid external mutation.
	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *copyMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarketState(_ context.Context, id string, shares []float64, status string, resolvedOutcome *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	m.Shares = append([]float64(nil), shares...)
	m.Status = status
	m.ResolvedOutcome = copyOutcome(resolvedOutcome)
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[p.MarketID]; !ok {
		return fmt.Errorf("market %s: %w", p.MarketID, ErrNotFound)
	}
	byParticipant, ok := s.positions[p.MarketID]
	if !ok {
		byParticipant = make(map[string]*model.Position)
		s.positions[p.MarketID] = byParticipant
	}
	byParticipant[p.ParticipantID] = copyPosition(p)
	return nil
}

func (s *MemoryStore) GetPositions(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byParticipant := s.positions[marketID]
	positions := make([]model.Position, 0, len(byParticipant))
	for _, p := range byParticipant {
		positions = append(positions, *copyPosition(p))
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ParticipantID < positions[j].ParticipantID
	})
	return positions, nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByMarket(_ context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.entries(func(e *model.LedgerEntry) bool { return e.MarketID == marketID }), nil
}

func (s *MemoryStore) GetLedgerEntriesByParticipant(_ context.Context, participantID string) ([]model.LedgerEntry, error) {
	return s.entries(func(e *model.LedgerEntry) bool { return e.ParticipantID == participantID }), nil
}

// entries returns the matching entries in insertion order.
func (s *MemoryStore) entries(match func(*model.LedgerEntry) bool) []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEntry
	for i := range s.ledger {
		if match(&s.ledger[i]) {
			out = append(out, s.ledger[i])
		}
	}
	return out
}

func copyMarket(m *model.Market) *model.Market {
	cp := *m
	cp.Outcomes = append([]string(nil), m.Outcomes...)
	cp.Shares = append([]float64(nil), m.Shares...)
	cp.ResolvedOutcome = copyOutcome(m.ResolvedOutcome)
	return &cp
}

func copyPosition(p *model.Position) *model.Position {
	cp := *p
	cp.Shares = append([]decimal.Decimal(nil), p.Shares...)
	return &cp
}

func copyOutcome(o *int) *int {
	if o == nil {
		return nil
	}
	v := *o
	return &v
}
