package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/lmsr-amm/internal/lmsr"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseShares(t *testing.T) {
	shares, err := parseShares("10, 0,-2.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 0, -2.5}, shares)

	_, err = parseShares("1,,2")
	assert.Error(t, err)
	_, err = parseShares("1,x")
	assert.Error(t, err)
}

func TestCost(t *testing.T) {
	out, err := run(t, "cost", "--shares", "10,0")
	require.NoError(t, err)
	assert.Contains(t, out, "C(q) = 74.439666")
}

func TestQuote_JSON(t *testing.T) {
	out, err := run(t, "quote", "--outcome", "0", "--delta", "10", "-o", "json")
	require.NoError(t, err)

	var v map[string]float64
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.InDelta(t, 5.124947, v["cost"], 1e-4)
	assert.InDelta(t, 0.5, v["price_before"], 1e-12)
	assert.Greater(t, v["price_after"], 0.5)
}

func TestPrices(t *testing.T) {
	out, err := run(t, "prices", "--shares", "0,0,0,0", "--output", "json")
	require.NoError(t, err)

	var v map[string][]float64
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	require.Len(t, v["prices"], 4)
	assert.InDelta(t, 0.25, v["prices"][3], 1e-12)
}

func TestTarget(t *testing.T) {
	out, err := run(t, "target", "--shares", "40,12", "--outcome", "1", "--price", "0.6", "-o", "json")
	require.NoError(t, err)

	var v map[string]float64
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	moved, err := lmsr.NewWithShares(100, []float64{40, 12 + v["shares"]})
	require.NoError(t, err)
	p, _ := moved.Price(1)
	assert.InDelta(t, 0.6, p, 1e-4)

	_, err = run(t, "target", "--price", "1.5")
	assert.ErrorIs(t, err, lmsr.ErrInvalidPriceTarget)
}

func TestMaxLoss(t *testing.T) {
	out, err := run(t, "max-loss", "-b", "50", "-q", "0,0")
	require.NoError(t, err)
	assert.Equal(t, "max loss 34.65735903\n", out)
}

func TestErrors(t *testing.T) {
	_, err := run(t, "cost", "--liquidity", "0")
	assert.ErrorIs(t, err, lmsr.ErrInvalidLiquidity)

	_, err = run(t, "cost", "--output", "yaml")
	assert.Error(t, err)

	_, err = run(t, "quote", "--outcome", "3", "--delta", "1")
	assert.ErrorIs(t, err, lmsr.ErrInvalidOutcome)
}
