// Package cache is the Redis hot cache for active orders: a read-through
// order snapshot, the active-order set and a bounded per-order update log.
// The Store stays the source of truth; everything here is best-effort and
// rebuildable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrMiss is returned when an order is not cached.
var ErrMiss = fmt.Errorf("cache miss")

type OrderCache struct {
	client redis.Cmdable
	logger *logrus.Logger
}

func NewOrderCache(client redis.Cmdable, logger *logrus.Logger) (*OrderCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &OrderCache{client: client, logger: logger}, nil
}

func orderKey(id string) string {
	return constants.RedisKeyOrderPrefix + id
}

func updatesKey(id string) string {
	return constants.RedisKeyOrderPrefix + id + constants.RedisKeyUpdateSuffix
}

// PutOrder refreshes the cached snapshot. Called after every Store commit.
func (c *OrderCache) PutOrder(ctx context.Context, order *models.Order) error {
	b, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := c.client.Set(ctx, orderKey(order.ID), b, constants.OrderCacheTTL).Err(); err != nil {
		return fmt.Errorf("cache order: %w", err)
	}
	return nil
}

// GetOrder returns the cached snapshot or ErrMiss.
func (c *OrderCache) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	val, err := c.client.Get(ctx, orderKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached order: %w", err)
	}
	var order models.Order
	if err := json.Unmarshal([]byte(val), &order); err != nil {
		return nil, fmt.Errorf("unmarshal cached order: %w", err)
	}
	return &order, nil
}

// AddActive tracks id in the active-order set.
func (c *OrderCache) AddActive(ctx context.Context, id string) error {
	return c.client.SAdd(ctx, constants.RedisKeyActiveOrders, id).Err()
}

// RemoveActive drops id from the active-order set (terminal orders).
func (c *OrderCache) RemoveActive(ctx context.Context, id string) error {
	return c.client.SRem(ctx, constants.RedisKeyActiveOrders, id).Err()
}

// ActiveCount returns the size of the active-order set.
func (c *OrderCache) ActiveCount(ctx context.Context) (int64, error) {
	return c.client.SCard(ctx, constants.RedisKeyActiveOrders).Result()
}

// AppendUpdate prepends ev to the order's bounded update log, newest first.
func (c *OrderCache) AppendUpdate(ctx context.Context, ev *models.TransitionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal transition event: %w", err)
	}

	key := updatesKey(ev.OrderID)
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, constants.MaxUpdateLogEntries-1)
	pipe.Expire(ctx, key, constants.OrderCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

// RecentUpdates returns up to limit transition events, newest first.
func (c *OrderCache) RecentUpdates(ctx context.Context, id string, limit int64) ([]*models.TransitionEvent, error) {
	if limit <= 0 || limit > constants.MaxUpdateLogEntries {
		limit = constants.MaxUpdateLogEntries
	}
	vals, err := c.client.LRange(ctx, updatesKey(id), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read update log: %w", err)
	}

	events := make([]*models.TransitionEvent, 0, len(vals))
	for _, v := range vals {
		var ev models.TransitionEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			c.logger.WithError(err).Warn("skipping malformed update log entry")
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
