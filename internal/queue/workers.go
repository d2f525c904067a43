package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrSkip tells the pool the job was a no-op (malformed identity): the job
// is acknowledged without touching the order or consuming an attempt.
var ErrSkip = errors.New("job skipped")

// TerminalError signals that the handler already dead-lettered the order;
// the pool must not requeue.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return fmt.Sprintf("terminal: %v", e.Err) }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the pool dead-letters instead of retrying.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// Handler processes one job. A nil return acknowledges; ErrSkip acknowledges
// without a record; a TerminalError dead-letters; any other error requeues
// with backoff while attempts remain.
type Handler interface {
	Process(ctx context.Context, job *Job) error
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	// Concurrency is the number of parallel workers.
	Concurrency int
	// RatePerMinute caps job starts over a rolling minute.
	RatePerMinute int
	// MaxAttempts bounds total attempts per order.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency:   10,
		RatePerMinute: 100,
		MaxAttempts:   3,
		BaseDelay:     constants.RetryBaseDelay,
		MaxDelay:      constants.RetryMaxDelay,
	}
}

// Pool runs N workers against the queue with a shared token-bucket rate
// limit and the exponential-backoff retry policy.
type Pool struct {
	queue   *Queue
	handler Handler
	cfg     PoolConfig
	limiter *rate.Limiter
	logger  *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(q *Queue, handler Handler, cfg PoolConfig, logger *logrus.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = constants.RetryBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = constants.RetryMaxDelay
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pool{
		queue:   q,
		handler: handler,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1),
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the workers and the housekeeping loop. Non-blocking.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.housekeeping(ctx)
}

// Stop cancels dequeues and waits for in-flight attempts to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", n)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, time.Second)
		if err != nil {
			if errors.Is(err, ErrEmpty) || ctx.Err() != nil {
				continue
			}
			log.WithError(err).Error("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// The rate limit gates job starts, not leases: a token is taken
		// after the lease so a stopped pool never starves the bucket.
		if err := p.limiter.Wait(ctx); err != nil {
			// Shutdown while holding a lease: leave it for the reaper.
			return
		}

		p.run(ctx, job, log)
	}
}

func (p *Pool) run(ctx context.Context, job *Job, log *logrus.Entry) {
	log = log.WithFields(logrus.Fields{"order_id": job.OrderID, "attempt": job.Attempt})
	start := time.Now()

	err := p.handler.Process(ctx, job)

	// Housekeeping writes use a fresh context so shutdown cannot lose acks.
	ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if ackErr := p.queue.Ack(ackCtx, job); ackErr != nil {
			log.WithError(ackErr).Error("ack failed")
		}
		_ = p.queue.RecordOutcome(ackCtx, &JobRecord{
			JobID: job.ID, OrderID: job.OrderID, Attempt: job.Attempt,
			Outcome: "completed", FinishedAt: time.Now().UTC(),
		})
		log.WithField("took", time.Since(start)).Info("job completed")

	case errors.Is(err, ErrSkip):
		if ackErr := p.queue.Ack(ackCtx, job); ackErr != nil {
			log.WithError(ackErr).Error("ack failed")
		}
		log.Info("job skipped")

	default:
		var terminal *TerminalError
		if errors.As(err, &terminal) || job.Attempt+1 >= p.cfg.MaxAttempts {
			if ackErr := p.queue.Ack(ackCtx, job); ackErr != nil {
				log.WithError(ackErr).Error("ack failed")
			}
			_ = p.queue.RecordOutcome(ackCtx, &JobRecord{
				JobID: job.ID, OrderID: job.OrderID, Attempt: job.Attempt,
				Outcome: "failed", Error: err.Error(), FinishedAt: time.Now().UTC(),
			})
			log.WithError(err).Warn("job dead-lettered")
			return
		}

		delay := p.Backoff(job.Attempt)
		if reqErr := p.queue.RequeueWithDelay(ackCtx, job, delay); reqErr != nil {
			log.WithError(reqErr).Error("requeue failed")
			return
		}
		log.WithError(err).WithField("delay", delay).Info("job requeued")
	}
}

// Backoff computes the delay before attempt k+1:
// min(base * 2^k, max) with +-20% jitter.
func (p *Pool) Backoff(attempt int) time.Duration {
	delay := p.cfg.BaseDelay << uint(attempt)
	if delay > p.cfg.MaxDelay || delay <= 0 {
		delay = p.cfg.MaxDelay
	}

	p.mu.Lock()
	jitter := (p.rng.Float64()*2 - 1) * constants.RetryJitterPct
	p.mu.Unlock()

	return time.Duration(float64(delay) * (1 + jitter))
}

// housekeeping promotes due delayed jobs and re-queues expired leases.
func (p *Pool) housekeeping(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(constants.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("promote delayed jobs failed")
			}
			if _, err := p.queue.ReapExpired(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("reap expired leases failed")
			}
		}
	}
}
