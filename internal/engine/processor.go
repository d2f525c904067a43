package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/archive"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/assets"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/cache"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/hub"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/metrics"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/queue"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/router"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/venue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SlippageError fails the execution gate: the realized price moved further
// from the quote than the order tolerates.
type SlippageError struct {
	Expected  float64
	Executed  float64
	Tolerance float64
}

func (e *SlippageError) Error() string {
	deviation := math.Abs(e.Executed-e.Expected) / e.Expected
	return fmt.Sprintf("slippage exceeded: expected price %.8f, executed %.8f (deviation %.4f%% > tolerance %.4f%%)",
		e.Expected, e.Executed, deviation*100, e.Tolerance*100)
}

// IDValidator guards the worker against identities that never belong to a
// real order (e.g. synthetic IDs leaked from test harnesses). A failing ID
// skips the job without consuming attempts.
type IDValidator func(id string) error

// UUIDValidator is the default: order IDs are UUIDs.
func UUIDValidator(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("order id %q is not a UUID: %w", id, err)
	}
	return nil
}

// Archiver receives terminal executions. Optional, best-effort.
type Archiver interface {
	InsertExecution(ctx context.Context, rec *archive.ExecutionRecord) error
}

// Processor drives one order attempt through the state machine:
// routing -> building -> submitted -> confirmed, or the retry/failed path.
// Per order the queue's single lease serializes attempts, so transitions
// are totally ordered.
type Processor struct {
	store      storage.OrderStore
	orderCache *cache.OrderCache
	router     *router.Router
	drivers    map[string]venue.Driver
	hub        *hub.Hub
	archiver   Archiver
	metrics    *metrics.Metrics
	validateID IDValidator

	maxAttempts int
	logger      *logrus.Logger
}

type ProcessorDeps struct {
	Store       storage.OrderStore
	Cache       *cache.OrderCache // optional
	Router      *router.Router
	Hub         *hub.Hub
	Archiver    Archiver         // optional
	Metrics     *metrics.Metrics // optional
	ValidateID  IDValidator      // defaults to UUIDValidator
	MaxAttempts int
	Logger      *logrus.Logger
}

func NewProcessor(deps ProcessorDeps) *Processor {
	validate := deps.ValidateID
	if validate == nil {
		validate = UUIDValidator
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	drivers := make(map[string]venue.Driver)
	for _, d := range deps.Router.Drivers() {
		drivers[d.Name()] = d
	}

	return &Processor{
		store:       deps.Store,
		orderCache:  deps.Cache,
		router:      deps.Router,
		drivers:     drivers,
		hub:         deps.Hub,
		archiver:    deps.Archiver,
		metrics:     deps.Metrics,
		validateID:  validate,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

var _ queue.Handler = (*Processor)(nil)

// Process runs one attempt. A nil return confirms the order; queue.ErrSkip
// leaves state untouched; a queue.TerminalError means the order was already
// dead-lettered; any other error asks the pool to retry.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if err := p.validateID(job.OrderID); err != nil {
		p.logger.WithField("order_id", job.OrderID).WithError(err).Warn("skipping job with invalid identity")
		return fmt.Errorf("%w: %v", queue.ErrSkip, err)
	}

	order, err := p.store.Find(ctx, job.OrderID)
	if err != nil {
		// A job with no backing row can never make progress.
		return queue.Terminal(fmt.Errorf("load order %s: %w", job.OrderID, err))
	}
	if order.Terminal() {
		// Re-leased after a crash that happened post-commit. Nothing to do.
		return nil
	}

	// A crashed attempt never persisted its retry increment; reconcile so
	// the retry counter tracks real attempts after recovery.
	for order.RetryCount < job.Attempt {
		n, err := p.store.IncrementRetry(ctx, order.ID)
		if err != nil {
			break
		}
		order.RetryCount = n
	}

	plan := assets.WrapInstructions(order.TokenIn, order.TokenOut, order.AmountIn)
	pair := venue.Pair{In: plan.NormalizedIn, Out: plan.NormalizedOut}

	// Pending/retried -> routing
	order, err = p.transition(ctx, order.ID, models.StatusRouting, nil, "selecting execution venue", map[string]any{
		"token_in":            order.TokenIn,
		"token_out":           order.TokenOut,
		"normalized_token_in": plan.NormalizedIn,
		"normalized_token_out": plan.NormalizedOut,
		"attempt":             job.Attempt,
	})
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("enter routing: %w", err))
	}

	best, decision, err := p.router.Route(ctx, order.ID, pair, order.AmountIn)
	if err != nil {
		return p.fail(ctx, job, err)
	}

	// routing -> building
	order, err = p.transition(ctx, order.ID, models.StatusBuilding,
		&storage.TransitionPatch{Venue: &best.Venue},
		fmt.Sprintf("building swap on %s", best.Venue),
		map[string]any{"routing_decision": decision})
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("enter building: %w", err))
	}

	// building -> submitted
	order, err = p.transition(ctx, order.ID, models.StatusSubmitted,
		&storage.TransitionPatch{ExpectedPrice: &best.UnitPrice},
		fmt.Sprintf("swap submitted to %s", best.Venue),
		map[string]any{"venue": best.Venue, "expected_price": best.UnitPrice})
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("enter submitted: %w", err))
	}

	driver, ok := p.drivers[best.Venue]
	if !ok {
		return p.fail(ctx, job, fmt.Errorf("no driver registered for venue %s", best.Venue))
	}

	result, err := driver.Swap(ctx, venue.SwapParams{
		Pair:              pair,
		AmountIn:          order.AmountIn,
		ExpectedUnitPrice: best.UnitPrice,
		SlippageMax:       order.Slippage,
		OrderID:           order.ID,
	})
	if err != nil {
		return p.fail(ctx, job, err)
	}

	deviation := math.Abs(result.ExecutedPrice-best.UnitPrice) / best.UnitPrice
	if deviation > order.Slippage {
		return p.fail(ctx, job, &SlippageError{
			Expected:  best.UnitPrice,
			Executed:  result.ExecutedPrice,
			Tolerance: order.Slippage,
		})
	}

	// submitted -> confirmed
	order, err = p.store.RecordExecution(ctx, order.ID, storage.Execution{
		Venue:         best.Venue,
		TxRef:         result.TxRef,
		ExecutedPrice: result.ExecutedPrice,
		AmountOut:     result.AmountOut,
	})
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("record execution: %w", err))
	}

	p.afterCommit(ctx, order, &models.TransitionEvent{
		OrderID: order.ID,
		Status:  models.StatusConfirmed,
		Message: fmt.Sprintf("swap confirmed on %s", best.Venue),
		At:      order.UpdatedAt,
		Data: map[string]any{
			"tx_ref":            result.TxRef,
			"executed_price":    result.ExecutedPrice,
			"amount_out":        result.AmountOut,
			"realized_slippage": result.RealizedSlippage,
			"wrapped_in":        plan.NeedsWrapIn,
			"unwrapped_out":     plan.NeedsUnwrapOut,
		},
	})
	p.finish(ctx, order)
	p.hub.CloseOrderSubscriptions(order.ID, "order confirmed")
	return nil
}

// transition commits the Store write, then refreshes the cache, appends the
// update log and broadcasts. The commit strictly precedes the broadcast so
// subscribers never observe a status ahead of the Store.
func (p *Processor) transition(ctx context.Context, id string, status models.OrderStatus, patch *storage.TransitionPatch, message string, data map[string]any) (*models.Order, error) {
	order, err := p.store.Transition(ctx, id, status, patch)
	if err != nil {
		return nil, err
	}
	p.afterCommit(ctx, order, &models.TransitionEvent{
		OrderID: order.ID,
		Status:  status,
		Message: message,
		At:      order.UpdatedAt,
		Data:    data,
	})
	return order, nil
}

func (p *Processor) afterCommit(ctx context.Context, order *models.Order, ev *models.TransitionEvent) {
	if p.orderCache != nil {
		if err := p.orderCache.PutOrder(ctx, order); err != nil {
			p.logger.WithField("order_id", order.ID).WithError(err).Warn("cache refresh failed")
		}
		if err := p.orderCache.AppendUpdate(ctx, ev); err != nil {
			p.logger.WithField("order_id", order.ID).WithError(err).Warn("update log append failed")
		}
	}
	if p.metrics != nil {
		p.metrics.Transitions.WithLabelValues(string(ev.Status)).Inc()
	}
	p.hub.Broadcast(ev)
}

// finish handles terminal bookkeeping: active-set removal and archiving.
func (p *Processor) finish(ctx context.Context, order *models.Order) {
	if p.orderCache != nil {
		if err := p.orderCache.RemoveActive(ctx, order.ID); err != nil {
			p.logger.WithField("order_id", order.ID).WithError(err).Warn("active set removal failed")
		}
	}
	if p.archiver != nil {
		if err := p.archiver.InsertExecution(ctx, archive.FromOrder(order)); err != nil {
			p.logger.WithField("order_id", order.ID).WithError(err).Warn("execution archive insert failed")
		}
	}
}

// fail records the failed attempt and decides retry vs dead-letter: a
// permanent venue error short-circuits, otherwise attempts remain until the
// configured bound.
func (p *Processor) fail(ctx context.Context, job *queue.Job, cause error) error {
	log := p.logger.WithFields(logrus.Fields{"order_id": job.OrderID, "attempt": job.Attempt})

	retryCount, err := p.store.IncrementRetry(ctx, job.OrderID)
	if err != nil {
		log.WithError(err).Error("retry increment failed")
		retryCount = job.Attempt + 1
	}
	if p.metrics != nil {
		p.metrics.Retries.Inc()
	}

	attempts := job.Attempt + 1
	if !venue.IsPermanent(cause) && attempts < p.maxAttempts {
		log.WithError(cause).Info("attempt failed, retrying")
		return cause
	}

	order, err := p.store.MarkFailed(ctx, job.OrderID, cause.Error(), retryCount)
	if err != nil {
		log.WithError(err).Error("mark failed errored")
		return queue.Terminal(cause)
	}

	p.afterCommit(ctx, order, &models.TransitionEvent{
		OrderID: order.ID,
		Status:  models.StatusFailed,
		Message: cause.Error(),
		At:      order.UpdatedAt,
		Data:    map[string]any{"retry_count": retryCount},
	})
	p.finish(ctx, order)
	p.hub.CloseOrderSubscriptions(order.ID, "order failed")

	log.WithError(cause).Warn("order failed terminally")
	return queue.Terminal(cause)
}
