package venue

import (
	"context"
	"testing"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/assets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPair = Pair{In: assets.WrappedSOL, Out: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}

func testDriver(seed int64) Driver {
	return NewSimulated(SimulatedConfig{
		Name:     "TestVenue",
		FeeRate:  0.003,
		PriceMin: 100,
		PriceMax: 110,
		Depth:    100_000,
		Seed:     seed,
	})
}

func TestSimulatedQuote(t *testing.T) {
	d := testDriver(42)
	ctx := context.Background()

	q, err := d.Quote(ctx, testPair, 10)
	require.NoError(t, err)
	assert.Equal(t, "TestVenue", q.Venue)
	assert.GreaterOrEqual(t, q.UnitPrice, 100.0)
	assert.LessOrEqual(t, q.UnitPrice, 110.0)
	assert.InDelta(t, 10*(1-0.003)*q.UnitPrice, q.AmountOut, 1e-9)
	assert.Equal(t, 0.003, q.FeeRate)
}

func TestSimulatedQuotePriceImpactMonotonic(t *testing.T) {
	d := testDriver(7)
	ctx := context.Background()

	var prev float64
	for _, amount := range []float64{1, 100, 10_000, 100_000} {
		q, err := d.Quote(ctx, testPair, amount)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q.PriceImpact, prev)
		prev = q.PriceImpact
	}
}

func TestSimulatedQuoteRejectsNonPositiveAmount(t *testing.T) {
	d := testDriver(1)
	_, err := d.Quote(context.Background(), testPair, 0)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestSimulatedSwapStaysInsideSlippage(t *testing.T) {
	d := testDriver(99)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		res, err := d.Swap(ctx, SwapParams{
			Pair:              testPair,
			AmountIn:          5,
			ExpectedUnitPrice: 105,
			SlippageMax:       0.01,
			OrderID:           "test",
		})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.NotEmpty(t, res.TxRef)
		assert.LessOrEqual(t, res.RealizedSlippage, 0.01)
	}
}

func TestVenueErrorClassification(t *testing.T) {
	tmp := Temporary("X", assert.AnError)
	perm := Permanent("X", assert.AnError)

	assert.False(t, IsPermanent(tmp))
	assert.True(t, IsPermanent(perm))
	assert.ErrorIs(t, tmp, assert.AnError)
	assert.Contains(t, perm.Error(), "permanent")
}
