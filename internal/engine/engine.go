// Package engine composes the execution core: admission, the durable queue
// and worker pool, the per-order state machine and subscription fan-out.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/assets"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/cache"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/hub"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/metrics"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/queue"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/sirupsen/logrus"
)

// ValidationError wraps admission failures so the transport can map them to
// a 400 with the condition spelled out.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is an admission failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Enqueuer is the submit-side queue dependency.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string) error
}

// Deps wires the engine. Cache and Metrics are optional; Queue is required
// for Submit, Pool only when the engine also runs workers.
type Deps struct {
	Store   storage.OrderStore
	Cache   *cache.OrderCache
	Queue   Enqueuer
	Pool    *queue.Pool
	Hub     *hub.Hub
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
}

// Engine is the composition root facade: transports talk to it, the worker
// pool runs inside it.
type Engine struct {
	store      storage.OrderStore
	orderCache *cache.OrderCache
	queue      Enqueuer
	pool       *queue.Pool
	hub        *hub.Hub
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

func New(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		store:      deps.Store,
		orderCache: deps.Cache,
		queue:      deps.Queue,
		pool:       deps.Pool,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		logger:     logger,
	}, nil
}

// Start launches the worker pool, when one is attached.
func (e *Engine) Start(ctx context.Context) {
	if e.pool != nil {
		e.pool.Start(ctx)
	}
}

// Stop drains workers, then closes every subscription.
func (e *Engine) Stop() {
	if e.pool != nil {
		e.pool.Stop()
	}
	e.hub.CloseAll()
}

// Submit validates the draft, persists the pending order and enqueues its
// job. The response only says the order was accepted; everything after is
// observable via Get and the subscribe stream.
func (e *Engine) Submit(ctx context.Context, draft *models.OrderDraft) (*models.Order, error) {
	if draft == nil {
		return nil, &ValidationError{Err: fmt.Errorf("empty request")}
	}
	if draft.Type == "" {
		draft.Type = models.TypeMarket
	}

	if err := assets.ValidatePair(draft.TokenIn, draft.TokenOut); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if draft.Slippage == 0 {
		draft.Slippage = constants.DefaultSlippage
	}
	if err := models.ValidateDraft(draft); err != nil {
		return nil, &ValidationError{Err: err}
	}

	order, err := e.store.Create(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if e.orderCache != nil {
		if err := e.orderCache.PutOrder(ctx, order); err != nil {
			e.logger.WithField("order_id", order.ID).WithError(err).Warn("cache put failed")
		}
		if err := e.orderCache.AddActive(ctx, order.ID); err != nil {
			e.logger.WithField("order_id", order.ID).WithError(err).Warn("active set add failed")
		}
	}

	if err := e.queue.Enqueue(ctx, order.ID); err != nil {
		// One enqueue retry before declaring the order dead on arrival.
		e.logger.WithField("order_id", order.ID).WithError(err).Warn("enqueue failed, retrying once")
		if err = e.queue.Enqueue(ctx, order.ID); err != nil {
			msg := fmt.Sprintf("enqueue failed: %v", err)
			if _, mfErr := e.store.MarkFailed(ctx, order.ID, msg, 0); mfErr != nil {
				e.logger.WithField("order_id", order.ID).WithError(mfErr).Error("mark failed errored")
			}
			return nil, fmt.Errorf("enqueue order: %w", err)
		}
	}

	if e.metrics != nil {
		e.metrics.OrdersCreated.Inc()
	}
	e.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"token_in":  order.TokenIn,
		"token_out": order.TokenOut,
		"amount_in": order.AmountIn,
	}).Info("order accepted")
	return order, nil
}

// Find prefers the hot cache and falls back to the Store. The Store stays
// authoritative; a cache miss or error is invisible to the caller.
func (e *Engine) Find(ctx context.Context, id string) (*models.Order, error) {
	if e.orderCache != nil {
		if order, err := e.orderCache.GetOrder(ctx, id); err == nil {
			return order, nil
		}
	}
	return e.store.Find(ctx, id)
}

// History returns the order's recent transitions, newest first.
func (e *Engine) History(ctx context.Context, id string, limit int64) ([]*models.TransitionEvent, error) {
	if e.orderCache == nil {
		return nil, nil
	}
	return e.orderCache.RecentUpdates(ctx, id, limit)
}

func (e *Engine) Store() storage.OrderStore { return e.store }
func (e *Engine) Hub() *hub.Hub             { return e.hub }
