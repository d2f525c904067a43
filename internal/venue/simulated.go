package venue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/google/uuid"
)

// SimulatedConfig tunes a reference driver. Quotes sample a unit price inside
// [PriceMin, PriceMax]; price impact grows with trade size against Depth.
type SimulatedConfig struct {
	Name     string
	FeeRate  float64
	PriceMin float64
	PriceMax float64
	// Depth controls price impact: impact = min(amountIn/Depth, ImpactCap).
	Depth     float64
	ImpactCap float64
	// Swap execution window.
	DelayMin time.Duration
	DelayMax time.Duration
	// Seed fixes the price sampler for deterministic tests. Zero seeds from time.
	Seed int64

	// Test hooks. When set they replace the simulated behavior entirely.
	QuoteHook func(ctx context.Context, pair Pair, amountIn float64) (*models.Quote, error)
	SwapHook  func(ctx context.Context, params SwapParams) (*models.SwapResult, error)
}

// simulated is an in-process reference driver. It never touches a chain:
// quotes and fills are sampled, which is enough to exercise routing, the
// slippage gate and the retry machinery end to end.
type simulated struct {
	cfg SimulatedConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated builds a reference driver from cfg.
func NewSimulated(cfg SimulatedConfig) Driver {
	if cfg.ImpactCap <= 0 {
		cfg.ImpactCap = 0.25
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 500_000
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &simulated{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (d *simulated) Name() string { return d.cfg.Name }

func (d *simulated) sample(lo, hi float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if hi <= lo {
		return lo
	}
	return lo + d.rng.Float64()*(hi-lo)
}

func (d *simulated) Quote(ctx context.Context, pair Pair, amountIn float64) (*models.Quote, error) {
	if d.cfg.QuoteHook != nil {
		return d.cfg.QuoteHook(ctx, pair, amountIn)
	}
	if err := ctx.Err(); err != nil {
		return nil, Temporary(d.cfg.Name, err)
	}
	if amountIn <= 0 {
		return nil, Permanent(d.cfg.Name, fmt.Errorf("non-positive amount %v", amountIn))
	}

	unitPrice := d.sample(d.cfg.PriceMin, d.cfg.PriceMax)
	impact := math.Min(amountIn/d.cfg.Depth, d.cfg.ImpactCap)

	return &models.Quote{
		Venue:       d.cfg.Name,
		Pair:        pair.String(),
		AmountIn:    amountIn,
		AmountOut:   amountIn * (1 - d.cfg.FeeRate) * unitPrice,
		UnitPrice:   unitPrice,
		FeeRate:     d.cfg.FeeRate,
		PriceImpact: impact,
		At:          time.Now().UTC(),
	}, nil
}

func (d *simulated) Swap(ctx context.Context, params SwapParams) (*models.SwapResult, error) {
	if d.cfg.SwapHook != nil {
		return d.cfg.SwapHook(ctx, params)
	}
	if params.ExpectedUnitPrice <= 0 {
		return nil, Permanent(d.cfg.Name, fmt.Errorf("expected unit price must be positive"))
	}

	// Simulated confirmation latency.
	if delay := d.executionDelay(); delay > 0 {
		select {
		case <-ctx.Done():
			return nil, Temporary(d.cfg.Name, ctx.Err())
		case <-time.After(delay):
		}
	}

	// Fill drifts around the quoted price, comfortably inside the
	// tolerance so the happy path confirms.
	drift := d.sample(-0.3, 0.3) * params.SlippageMax
	executed := params.ExpectedUnitPrice * (1 + drift)
	realized := math.Abs(executed-params.ExpectedUnitPrice) / params.ExpectedUnitPrice

	return &models.SwapResult{
		OK:               true,
		TxRef:            fmt.Sprintf("%s-%s", d.cfg.Name, uuid.NewString()),
		ExecutedPrice:    executed,
		AmountOut:        params.AmountIn * (1 - d.cfg.FeeRate) * executed,
		RealizedSlippage: realized,
		At:               time.Now().UTC(),
	}, nil
}

func (d *simulated) executionDelay() time.Duration {
	if d.cfg.DelayMax <= 0 {
		return 0
	}
	lo, hi := d.cfg.DelayMin, d.cfg.DelayMax
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + time.Duration(d.sample(0, float64(hi-lo)))
}
