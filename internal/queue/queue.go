// Package queue is the durable Redis work queue behind the worker pool:
// FIFO pending list, lease-tracked processing list with a visibility
// timeout, a delayed set for backoff requeues and capped completion records.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrEmpty is returned by Dequeue when no job became available in time.
var ErrEmpty = errors.New("queue empty")

// Job is one unit of work: process a single order attempt. The job ID and
// the order ID are the same UUID; an order has at most one live job.
type Job struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// raw is the exact payload on the processing list, needed for LREM.
	raw string
}

// JobRecord is the housekeeping entry kept for completed and failed jobs.
type JobRecord struct {
	JobID      string    `json:"job_id"`
	OrderID    string    `json:"order_id"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Depths is the queue gauge snapshot for stats.
type Depths struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
}

type Queue struct {
	client   *redis.Client
	logger   *logrus.Logger
	lease    time.Duration
	workerID string
}

func New(client *redis.Client, logger *logrus.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{
		client:   client,
		logger:   logger,
		lease:    constants.LeaseVisibilityTimeout,
		workerID: uuid.NewString(),
	}, nil
}

func leaseKey(jobID string) string {
	return constants.RedisKeyLeasePrefix + jobID
}

func encodeJob(job *Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	return string(b), nil
}

func decodeJob(raw string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	job.raw = raw
	return &job, nil
}

// Enqueue persists a first-attempt job for orderID. Returns after the job is
// durable; the order stays pending until a worker leases it.
func (q *Queue) Enqueue(ctx context.Context, orderID string) error {
	return q.push(ctx, &Job{
		ID:         orderID,
		OrderID:    orderID,
		Attempt:    0,
		EnqueuedAt: time.Now().UTC(),
	})
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, constants.RedisKeyQueuePending, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue atomically moves the oldest pending job to the processing list and
// takes a lease on it. Blocks up to wait; ErrEmpty on timeout.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	raw, err := q.client.BLMove(ctx,
		constants.RedisKeyQueuePending, constants.RedisKeyQueueProcessing,
		"RIGHT", "LEFT", wait,
	).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	job, err := decodeJob(raw)
	if err != nil {
		// Poison payload: drop it rather than wedging the queue.
		q.client.LRem(ctx, constants.RedisKeyQueueProcessing, 1, raw)
		return nil, err
	}

	if err := q.client.Set(ctx, leaseKey(job.ID), q.workerID, q.lease).Err(); err != nil {
		return nil, fmt.Errorf("take lease: %w", err)
	}
	return job, nil
}

// ExtendLease refreshes the visibility timeout for a long-running attempt.
func (q *Queue) ExtendLease(ctx context.Context, job *Job) error {
	return q.client.Expire(ctx, leaseKey(job.ID), q.lease).Err()
}

// Ack removes the job from the processing list and releases its lease.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, constants.RedisKeyQueueProcessing, 1, job.raw)
	pipe.Del(ctx, leaseKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// RequeueWithDelay schedules the next attempt after delay and acknowledges
// the current one.
func (q *Queue) RequeueWithDelay(ctx context.Context, job *Job, delay time.Duration) error {
	next := &Job{
		ID:         job.ID,
		OrderID:    job.OrderID,
		Attempt:    job.Attempt + 1,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := encodeJob(next)
	if err != nil {
		return err
	}

	readyAt := time.Now().Add(delay)
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, constants.RedisKeyQueueDelayed, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: payload,
	})
	pipe.LRem(ctx, constants.RedisKeyQueueProcessing, 1, job.raw)
	pipe.Del(ctx, leaseKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// RecordOutcome appends a housekeeping record, capped per the retention
// policy (last 100 completed, last 50 failed).
func (q *Queue) RecordOutcome(ctx context.Context, rec *JobRecord) error {
	key := constants.RedisKeyQueueCompleted
	keep := int64(constants.CompletedJobRetention)
	if rec.Outcome == "failed" {
		key = constants.RedisKeyQueueFailed
		keep = int64(constants.FailedJobRetention)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Depths reports queue gauges for the stats endpoint.
func (q *Queue) Depths(ctx context.Context) (*Depths, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, constants.RedisKeyQueuePending)
	processing := pipe.LLen(ctx, constants.RedisKeyQueueProcessing)
	delayed := pipe.ZCard(ctx, constants.RedisKeyQueueDelayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}
	return &Depths{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
	}, nil
}

// PromoteDue moves delayed jobs whose backoff expired back to the pending
// list. Returns how many were promoted.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, constants.RedisKeyQueueDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, constants.RedisKeyQueueDelayed, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("promote delayed: %w", err)
		}
		// Another promoter may have raced us; only push if we owned the removal.
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, constants.RedisKeyQueuePending, member).Err(); err != nil {
			return promoted, fmt.Errorf("promote delayed: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// ReapExpired re-queues processing jobs whose lease vanished: the holding
// worker crashed without acknowledging. Preserves the attempt counter.
func (q *Queue) ReapExpired(ctx context.Context) (int, error) {
	entries, err := q.client.LRange(ctx, constants.RedisKeyQueueProcessing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan processing: %w", err)
	}

	reaped := 0
	for _, raw := range entries {
		job, err := decodeJob(raw)
		if err != nil {
			q.client.LRem(ctx, constants.RedisKeyQueueProcessing, 1, raw)
			continue
		}
		exists, err := q.client.Exists(ctx, leaseKey(job.ID)).Result()
		if err != nil {
			return reaped, fmt.Errorf("check lease: %w", err)
		}
		if exists > 0 {
			continue
		}

		removed, err := q.client.LRem(ctx, constants.RedisKeyQueueProcessing, 1, raw).Result()
		if err != nil {
			return reaped, fmt.Errorf("reap job: %w", err)
		}
		if removed == 0 {
			continue
		}
		next := &Job{
			ID:         job.ID,
			OrderID:    job.OrderID,
			Attempt:    job.Attempt + 1,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := q.push(ctx, next); err != nil {
			return reaped, err
		}
		q.logger.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"attempt": next.Attempt,
		}).Warn("re-queued job with expired lease")
		reaped++
	}
	return reaped, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
