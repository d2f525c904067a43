package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore connects to the Postgres named by TEST_STORE_URL and starts
// from an empty orders table. Skips when no database is available.
func setupTestStore(t *testing.T) *OrderStore {
	dsn := os.Getenv("TEST_STORE_URL")
	if dsn == "" {
		t.Skip("TEST_STORE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, EnsureSchema(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE orders")
	require.NoError(t, err)

	t.Cleanup(pool.Close)
	return NewOrderStore(pool)
}

func testDraft() *models.OrderDraft {
	return &models.OrderDraft{
		Type:     models.TypeMarket,
		TokenIn:  "11111111111111111111111111111111",
		TokenOut: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		AmountIn: 1.5,
		Slippage: 0.01,
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	order, err := s.Create(ctx, testDraft())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)

	_, err = s.Transition(ctx, order.ID, models.StatusRouting, nil)
	require.NoError(t, err)
	raydium := models.VenueRaydium
	_, err = s.Transition(ctx, order.ID, models.StatusBuilding, &storage.TransitionPatch{Venue: &raydium})
	require.NoError(t, err)
	expected := 150.0
	_, err = s.Transition(ctx, order.ID, models.StatusSubmitted, &storage.TransitionPatch{ExpectedPrice: &expected})
	require.NoError(t, err)

	confirmed, err := s.RecordExecution(ctx, order.ID, storage.Execution{
		Venue: raydium, TxRef: "tx-1", ExecutedPrice: 150.3, AmountOut: 225.1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, "tx-1", *confirmed.TxRef)
	assert.Equal(t, 150.0, *confirmed.ExpectedPrice)
	assert.NotNil(t, confirmed.CompletedAt)

	// Terminal sink.
	_, err = s.Transition(ctx, order.ID, models.StatusRouting, nil)
	assert.ErrorIs(t, err, storage.ErrTerminal)
}

func TestIllegalTransitionRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	order, err := s.Create(ctx, testDraft())
	require.NoError(t, err)

	_, err = s.Transition(ctx, order.ID, models.StatusConfirmed, nil)
	assert.ErrorIs(t, err, storage.ErrIllegalTransition)

	_, err = s.Transition(ctx, "b8f9c7a0-0000-0000-0000-000000000000", models.StatusRouting, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkFailedClearsExecutionFacts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	order, err := s.Create(ctx, testDraft())
	require.NoError(t, err)
	_, err = s.Transition(ctx, order.ID, models.StatusRouting, nil)
	require.NoError(t, err)

	failed, err := s.MarkFailed(ctx, order.ID, "no quotes", 3)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, 3, failed.RetryCount)
	assert.Nil(t, failed.Venue)
	assert.Nil(t, failed.TxRef)
	assert.Equal(t, "no quotes", *failed.ErrorMessage)
}

func TestListPagination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, testDraft())
		require.NoError(t, err)
	}

	page, total, err := s.List(ctx, storage.ListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	pending := models.StatusPending
	n, err := s.Count(ctx, &pending)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
