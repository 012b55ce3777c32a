package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/lmsr-amm/internal/ledger"
	"github.com/atmx/lmsr-amm/internal/lmsr"
)

func TestPayoutFor_Long(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.DepositCollateral(address, d(20)))
	_, err := l.Trade(address, 1, d(10))
	require.NoError(t, err)

	pay, err := l.PayoutFor(address, 1)
	require.NoError(t, err)
	assert.True(t, pay.Holding.Equal(d(10)))
	assert.True(t, pay.Amount.Equal(d(10)))
	assert.True(t, pay.Shortfall.IsZero())

	pay, err = l.PayoutFor(address, 0)
	require.NoError(t, err)
	assert.True(t, pay.Amount.IsZero())
}

func TestPayoutFor_ShortIsCappedAtCollateral(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.DepositCollateral(address, d(0)))
	res, err := l.Trade(address, 0, d(-100))
	require.NoError(t, err)
	require.True(t, res.Executed())
	require.True(t, res.Collateral.Equal(d(37.9885493)))

	pay, err := l.PayoutFor(address, 0)
	require.NoError(t, err)
	assert.True(t, pay.Holding.Equal(d(-100)))
	assert.True(t, pay.Amount.Equal(d(-37.9885493)))
	assert.True(t, pay.Shortfall.Equal(d(62.0114507)))

	require.NoError(t, l.Settle(address, pay.Amount))
	p, _ := l.Position(address)
	assert.True(t, p.Collateral.IsZero())
}

func TestPayoutFor_ShortFullyCovered(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.DepositCollateral(address, d(100)))
	_, err := l.Trade(address, 0, d(-10))
	require.NoError(t, err)

	pay, err := l.PayoutFor(address, 0)
	require.NoError(t, err)
	assert.True(t, pay.Amount.Equal(d(-10)))
	assert.True(t, pay.Shortfall.IsZero())
}

func TestPayoutFor_Errors(t *testing.T) {
	l := newLedger(t)
	_, err := l.PayoutFor(address, 0)
	assert.ErrorIs(t, err, ledger.ErrUnknownParticipant)

	require.NoError(t, l.DepositCollateral(address, d(1)))
	_, err = l.PayoutFor(address, 2)
	assert.ErrorIs(t, err, lmsr.ErrInvalidOutcome)
}

func TestSettle_RejectsOverdraw(t *testing.T) {
	l := newLedger(t)
	assert.ErrorIs(t, l.Settle(address, d(1)), ledger.ErrUnknownParticipant)

	require.NoError(t, l.DepositCollateral(address, d(5)))
	assert.ErrorIs(t, l.Settle(address, d(-6)), ledger.ErrOverdrawn)

	p, _ := l.Position(address)
	assert.True(t, p.Collateral.Equal(d(5)))
}
