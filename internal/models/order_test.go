package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]OrderStatus{
		{StatusPending, StatusRouting},
		{StatusRouting, StatusBuilding},
		{StatusRouting, StatusFailed},
		{StatusBuilding, StatusSubmitted},
		{StatusBuilding, StatusRouting},
		{StatusSubmitted, StatusConfirmed},
		{StatusSubmitted, StatusRouting},
		{StatusSubmitted, StatusFailed},
	}
	for _, edge := range legal {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	illegal := [][2]OrderStatus{
		{StatusPending, StatusSubmitted},
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusFailed},
		{StatusRouting, StatusConfirmed},
		{StatusConfirmed, StatusRouting},
		{StatusConfirmed, StatusFailed},
		{StatusFailed, StatusRouting},
		{StatusFailed, StatusConfirmed},
	}
	for _, edge := range illegal {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusSubmitted.Terminal())
}

func TestAllowedPriors(t *testing.T) {
	priors := AllowedPriors(StatusConfirmed)
	assert.ElementsMatch(t, []OrderStatus{StatusSubmitted}, priors)

	priors = AllowedPriors(StatusRouting)
	assert.ElementsMatch(t, []OrderStatus{
		StatusPending, StatusRouting, StatusBuilding, StatusSubmitted,
	}, priors)
}

func TestValidateDraft(t *testing.T) {
	good := &OrderDraft{Type: TypeMarket, AmountIn: 1.5, Slippage: 0.01}
	assert.NoError(t, ValidateDraft(good))

	assert.Error(t, ValidateDraft(nil))
	assert.Error(t, ValidateDraft(&OrderDraft{Type: TypeLimit, AmountIn: 1, Slippage: 0.01}))
	assert.Error(t, ValidateDraft(&OrderDraft{Type: TypeMarket, AmountIn: 0, Slippage: 0.01}))
	assert.Error(t, ValidateDraft(&OrderDraft{Type: TypeMarket, AmountIn: 1_000_001, Slippage: 0.01}))
	assert.Error(t, ValidateDraft(&OrderDraft{Type: TypeMarket, AmountIn: 0.123456789, Slippage: 0.01}))
	assert.Error(t, ValidateDraft(&OrderDraft{Type: TypeMarket, AmountIn: 1, Slippage: 0.00001}))
	assert.Error(t, ValidateDraft(&OrderDraft{Type: TypeMarket, AmountIn: 1, Slippage: 0.51}))

	// Boundary values are accepted.
	assert.NoError(t, ValidateDraft(&OrderDraft{Type: TypeMarket, AmountIn: 1_000_000, Slippage: 0.5}))
	assert.NoError(t, ValidateDraft(&OrderDraft{Type: TypeMarket, AmountIn: 0.00000001, Slippage: 0.0001}))
}

func TestEffectiveOutput(t *testing.T) {
	q := Quote{AmountOut: 100, PriceImpact: 0.02}
	assert.InDelta(t, 98.0, q.EffectiveOutput(), 1e-9)
}
