package memory

import (
	"context"
	"testing"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft() *models.OrderDraft {
	return &models.OrderDraft{
		Type:     models.TypeMarket,
		TokenIn:  "11111111111111111111111111111111",
		TokenOut: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		AmountIn: 1.5,
		Slippage: 0.01,
	}
}

func TestCreate(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	order, err := s.Create(ctx, draft())
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Zero(t, order.RetryCount)
	assert.Nil(t, order.CompletedAt)
	assert.False(t, order.CreatedAt.IsZero())

	found, err := s.Find(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
}

func TestCreateDefaultsSlippage(t *testing.T) {
	s := NewOrderStore()
	d := draft()
	d.Slippage = 0
	order, err := s.Create(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 0.01, order.Slippage)
}

func TestCreateRejectsBadDrafts(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	d := draft()
	d.AmountIn = 0
	_, err := s.Create(ctx, d)
	assert.Error(t, err)

	d = draft()
	d.AmountIn = 2_000_000
	_, err = s.Create(ctx, d)
	assert.Error(t, err)

	d = draft()
	d.AmountIn = 0.123456789 // 9 fractional digits
	_, err = s.Create(ctx, d)
	assert.Error(t, err)

	d = draft()
	d.Slippage = 0.6
	_, err = s.Create(ctx, d)
	assert.Error(t, err)

	d = draft()
	d.Type = models.TypeLimit
	_, err = s.Create(ctx, d)
	assert.Error(t, err)
}

func TestFindNotFound(t *testing.T) {
	s := NewOrderStore()
	_, err := s.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransitionWalksTheGraph(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	for _, status := range []models.OrderStatus{
		models.StatusRouting, models.StatusBuilding, models.StatusSubmitted,
	} {
		updated, err := s.Transition(ctx, order.ID, status, nil)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
		assert.Nil(t, updated.CompletedAt)
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	// pending -> submitted skips routing and building
	_, err = s.Transition(ctx, order.ID, models.StatusSubmitted, nil)
	assert.ErrorIs(t, err, storage.ErrIllegalTransition)

	// pending -> confirmed is never legal
	_, err = s.Transition(ctx, order.ID, models.StatusConfirmed, nil)
	assert.ErrorIs(t, err, storage.ErrIllegalTransition)
}

func TestRetryReentersRouting(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	_, err = s.Transition(ctx, order.ID, models.StatusRouting, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, order.ID, models.StatusBuilding, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, order.ID, models.StatusSubmitted, nil)
	require.NoError(t, err)

	// Next attempt restarts at routing.
	updated, err := s.Transition(ctx, order.ID, models.StatusRouting, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRouting, updated.Status)
}

func TestTerminalIsASink(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	_, err = s.Transition(ctx, order.ID, models.StatusRouting, nil)
	require.NoError(t, err)
	failed, err := s.MarkFailed(ctx, order.ID, "venue down", 3)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.NotNil(t, failed.CompletedAt)

	_, err = s.Transition(ctx, order.ID, models.StatusRouting, nil)
	assert.ErrorIs(t, err, storage.ErrTerminal)
	_, err = s.MarkFailed(ctx, order.ID, "again", 4)
	assert.ErrorIs(t, err, storage.ErrTerminal)
	_, err = s.IncrementRetry(ctx, order.ID)
	assert.ErrorIs(t, err, storage.ErrTerminal)

	// Idempotent re-reads are fine.
	found, err := s.Find(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, found.Status)
	assert.Equal(t, "venue down", *found.ErrorMessage)
	assert.Nil(t, found.Venue)
	assert.Nil(t, found.TxRef)
}

func TestRecordExecution(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	_, err = s.Transition(ctx, order.ID, models.StatusRouting, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, order.ID, models.StatusBuilding, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, order.ID, models.StatusSubmitted, nil)
	require.NoError(t, err)

	confirmed, err := s.RecordExecution(ctx, order.ID, storage.Execution{
		Venue:         models.VenueRaydium,
		TxRef:         "tx-123",
		ExecutedPrice: 150.2,
		AmountOut:     225.04,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, models.VenueRaydium, *confirmed.Venue)
	assert.Equal(t, "tx-123", *confirmed.TxRef)
	assert.Equal(t, 150.2, *confirmed.ExecutedPrice)
	assert.NotNil(t, confirmed.CompletedAt)

	// Second confirm hits the terminal sink.
	_, err = s.RecordExecution(ctx, order.ID, storage.Execution{})
	assert.ErrorIs(t, err, storage.ErrTerminal)
}

func TestRecordExecutionRequiresSubmitted(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	_, err = s.RecordExecution(ctx, order.ID, storage.Execution{Venue: "X", TxRef: "t"})
	assert.ErrorIs(t, err, storage.ErrIllegalTransition)
}

func TestIncrementRetry(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	n, err := s.IncrementRetry(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementRetry(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpdatedAtMonotonic(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	order, err := s.Create(ctx, draft())
	require.NoError(t, err)

	prev := order.UpdatedAt
	time.Sleep(time.Millisecond)
	updated, err := s.Transition(ctx, order.ID, models.StatusRouting, nil)
	require.NoError(t, err)
	assert.True(t, !updated.UpdatedAt.Before(prev))
}

func TestListAndCount(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		order, err := s.Create(ctx, draft())
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}
	// Fail one of them.
	_, err := s.Transition(ctx, ids[0], models.StatusRouting, nil)
	require.NoError(t, err)
	_, err = s.MarkFailed(ctx, ids[0], "boom", 1)
	require.NoError(t, err)

	all, total, err := s.List(ctx, storage.ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)

	pending := models.StatusPending
	page, total, err := s.List(ctx, storage.ListFilter{Status: &pending, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, page, 2)

	n, err := s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	failed := models.StatusFailed
	n, err = s.Count(ctx, &failed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
