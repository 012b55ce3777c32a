package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/lmsr"
)

var (
	// ErrUnknownParticipant is returned when settling a participant who never
	// deposited.
	ErrUnknownParticipant = errors.New("ledger: unknown participant")

	// ErrOverdrawn is returned when a settlement would leave negative
	// collateral.
	ErrOverdrawn = errors.New("ledger: settlement exceeds collateral")
)

// Payout is what resolving on one outcome owes a single participant.
type Payout struct {
	// Holding is the participant's share count of the winning outcome.
	Holding decimal.Decimal `json:"holding"`
	// Amount is the collateral change: positive for a long holding, negative
	// for a short one.
	Amount decimal.Decimal `json:"amount"`
	// Shortfall is the part of a short's obligation the collateral could
	// not cover.
	Shortfall decimal.Decimal `json:"shortfall"`
}

// PayoutFor computes the participant's settlement when outcome wins. Long
// holdings are credited one for one. Short holdings are debited one for one,
// capped at the participant's collateral. Nothing is applied.
func (l *Ledger) PayoutFor(participantID string, outcome int) (Payout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if outcome < 0 || outcome >= l.engine.NumOutcomes() {
		return Payout{}, fmt.Errorf("%w: %d not in [0, %d)", lmsr.ErrInvalidOutcome, outcome, l.engine.NumOutcomes())
	}
	p, ok := l.positions[participantID]
	if !ok {
		return Payout{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}

	holding := p.Shares[outcome]
	pay := Payout{Holding: holding, Amount: holding, Shortfall: decimal.Zero}
	if owed := holding.Neg(); owed.GreaterThan(p.Collateral) {
		pay.Amount = p.Collateral.Neg()
		pay.Shortfall = owed.Sub(p.Collateral)
	}
	return pay, nil
}

// Settle adds amount, which may be negative, to the participant's collateral.
func (l *Ledger) Settle(participantID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[participantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	next := p.Collateral.Add(amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: %s + %s", ErrOverdrawn, p.Collateral, amount)
	}
	p.Collateral = next
	return nil
}
