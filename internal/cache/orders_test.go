package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestOrderRoundTrip(t *testing.T) {
	c, err := NewOrderCache(setupTestRedis(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	order := &models.Order{
		ID:       "ord-1",
		Type:     models.TypeMarket,
		Status:   models.StatusRouting,
		TokenIn:  "in",
		TokenOut: "out",
		AmountIn: 1.5,
		Slippage: 0.01,
	}
	require.NoError(t, c.PutOrder(ctx, order))

	got, err := c.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, models.StatusRouting, got.Status)

	_, err = c.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestActiveSet(t *testing.T) {
	c, err := NewOrderCache(setupTestRedis(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.AddActive(ctx, "a"))
	require.NoError(t, c.AddActive(ctx, "b"))
	n, err := c.ActiveCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, c.RemoveActive(ctx, "a"))
	n, err = c.ActiveCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUpdateLogBoundedNewestFirst(t *testing.T) {
	c, err := NewOrderCache(setupTestRedis(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < constants.MaxUpdateLogEntries+10; i++ {
		require.NoError(t, c.AppendUpdate(ctx, &models.TransitionEvent{
			OrderID: "ord-1",
			Status:  models.StatusRouting,
			Message: fmt.Sprintf("update %d", i),
			At:      time.Now().UTC(),
		}))
	}

	events, err := c.RecentUpdates(ctx, "ord-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, constants.MaxUpdateLogEntries)
	// Newest first
	assert.Equal(t, fmt.Sprintf("update %d", constants.MaxUpdateLogEntries+9), events[0].Message)

	firstTwo, err := c.RecentUpdates(ctx, "ord-1", 2)
	require.NoError(t, err)
	assert.Len(t, firstTwo, 2)
}
