package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/lmsr"
)

// Snapshot is the plain-data form of a ledger, suitable for persistence.
type Snapshot struct {
	Liquidity float64             `json:"liquidity"`
	Shares    []float64           `json:"shares"`
	Positions map[string]Position `json:"positions"`
}

// Snapshot copies the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]Position, len(l.positions))
	for id, p := range l.positions {
		positions[id] = p.clone()
	}
	return Snapshot{
		Liquidity: l.engine.Liquidity(),
		Shares:    l.engine.Shares(),
		Positions: positions,
	}
}

// Restore rebuilds a ledger from a snapshot. Every position must have one
// holding per outcome and non-negative collateral.
func Restore(s Snapshot) (*Ledger, error) {
	engine, err := lmsr.NewWithShares(s.Liquidity, s.Shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	ids := make([]string, 0, len(s.Positions))
	for id := range s.Positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	positions := make(map[string]*Position, len(s.Positions))
	for _, id := range ids {
		p := s.Positions[id]
		if len(p.Shares) != len(s.Shares) {
			return nil, fmt.Errorf("%w: participant %s holds %d outcomes, market has %d",
				ErrInvalidSnapshot, id, len(p.Shares), len(s.Shares))
		}
		if p.Collateral.IsNegative() {
			return nil, fmt.Errorf("%w: participant %s has negative collateral", ErrInvalidSnapshot, id)
		}
		cp := p.clone()
		positions[id] = &cp
	}

	return &Ledger{engine: engine, positions: positions}, nil
}

// HoldingsTotal sums every participant's holding per outcome. It equals the
// engine's outstanding shares when the ledger was only mutated by trades.
func (s Snapshot) HoldingsTotal() []decimal.Decimal {
	totals := zeroShares(len(s.Shares))
	for _, p := range s.Positions {
		for i, q := range p.Shares {
			if i < len(totals) {
				totals[i] = totals[i].Add(q)
			}
		}
	}
	return totals
}
