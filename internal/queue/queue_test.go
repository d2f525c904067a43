package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   2,
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

func setupQueue(t *testing.T) *Queue {
	q, err := New(setupTestRedis(t), nil)
	require.NoError(t, err)
	return q
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "order-1"))
	require.NoError(t, q.Enqueue(ctx, "order-2"))

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depths.Pending)

	// FIFO
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "order-1", job.OrderID)
	assert.Zero(t, job.Attempt)

	depths, err = q.Depths(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depths.Pending)
	assert.EqualValues(t, 1, depths.Processing)

	require.NoError(t, q.Ack(ctx, job))
	depths, err = q.Depths(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, depths.Processing)
}

func TestDequeueEmpty(t *testing.T) {
	q := setupQueue(t)
	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRequeueWithDelayAndPromotion(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "order-1"))
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.RequeueWithDelay(ctx, job, 30*time.Millisecond))

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, depths.Processing)
	assert.EqualValues(t, 1, depths.Delayed)

	// Not due yet.
	promoted, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	time.Sleep(50 * time.Millisecond)
	promoted, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	next, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "order-1", next.OrderID)
	assert.Equal(t, 1, next.Attempt)
}

func TestReapExpiredLease(t *testing.T) {
	q := setupQueue(t)
	q.lease = 30 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "order-1"))
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// Lease still live: nothing to reap.
	reaped, err := q.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	// Simulated worker crash: lease expires without an ack.
	time.Sleep(60 * time.Millisecond)
	reaped, err = q.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	recovered, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.OrderID, recovered.OrderID)
	assert.Equal(t, job.Attempt+1, recovered.Attempt)
}

func TestRecordOutcomeRetention(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	for i := 0; i < constants.FailedJobRetention+5; i++ {
		require.NoError(t, q.RecordOutcome(ctx, &JobRecord{
			JobID: "j", OrderID: "o", Outcome: "failed",
			Error: "boom", FinishedAt: time.Now().UTC(),
		}))
	}
	n, err := q.client.LLen(ctx, constants.RedisKeyQueueFailed).Result()
	require.NoError(t, err)
	assert.EqualValues(t, constants.FailedJobRetention, n)

	for i := 0; i < constants.CompletedJobRetention+5; i++ {
		require.NoError(t, q.RecordOutcome(ctx, &JobRecord{
			JobID: "j", OrderID: "o", Outcome: "completed", FinishedAt: time.Now().UTC(),
		}))
	}
	n, err = q.client.LLen(ctx, constants.RedisKeyQueueCompleted).Result()
	require.NoError(t, err)
	assert.EqualValues(t, constants.CompletedJobRetention, n)
}
