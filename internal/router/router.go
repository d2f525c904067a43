// Package router picks the venue with the best effective output for a pair.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/venue"
	"github.com/sirupsen/logrus"
)

// ErrNoQuotes means every registered driver failed to quote.
var ErrNoQuotes = errors.New("no venue returned a quote")

// Toggles gates venues at routing time. Nil means everything is enabled.
type Toggles interface {
	Enabled(ctx context.Context, venue string) bool
}

// Router fans a quote request out to every registered driver and ranks the
// answers. Registration order is the final tie-break, so it is deterministic.
type Router struct {
	drivers []venue.Driver
	toggles Toggles
	logger  *logrus.Logger
}

func New(drivers []venue.Driver, toggles Toggles, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{drivers: drivers, toggles: toggles, logger: logger}
}

// Drivers returns the registered drivers in registration order.
func (r *Router) Drivers() []venue.Driver {
	return r.drivers
}

type rankedQuote struct {
	quote *models.Quote
	order int // registration order, last tie-break
}

// Route quotes all enabled drivers in parallel, waits for every one to
// finish, then ranks by effective output. Returns the winning quote and the
// decision record emitted on the routing -> building transition.
func (r *Router) Route(ctx context.Context, orderID string, pair venue.Pair, amountIn float64) (*models.Quote, *models.RoutingDecision, error) {
	var enabled []venue.Driver
	for _, d := range r.drivers {
		if r.toggles != nil && !r.toggles.Enabled(ctx, d.Name()) {
			r.logger.WithFields(logrus.Fields{"order_id": orderID, "venue": d.Name()}).
				Debug("venue disabled, skipping")
			continue
		}
		enabled = append(enabled, d)
	}
	if len(enabled) == 0 {
		return nil, nil, ErrNoQuotes
	}

	results := make([]*models.Quote, len(enabled))
	errs := make([]error, len(enabled))

	var wg sync.WaitGroup
	for i, d := range enabled {
		wg.Add(1)
		go func(i int, d venue.Driver) {
			defer wg.Done()
			q, err := d.Quote(ctx, pair, amountIn)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = q
		}(i, d)
	}
	wg.Wait()

	var ranked []rankedQuote
	for i, q := range results {
		if q == nil {
			r.logger.WithFields(logrus.Fields{
				"order_id": orderID,
				"venue":    enabled[i].Name(),
			}).WithError(errs[i]).Warn("quote failed")
			continue
		}
		ranked = append(ranked, rankedQuote{quote: q, order: i})
	}
	if len(ranked) == 0 {
		return nil, nil, fmt.Errorf("%w: %d drivers failed", ErrNoQuotes, len(enabled))
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		qa, qb := ranked[a].quote, ranked[b].quote
		ea, eb := qa.EffectiveOutput(), qb.EffectiveOutput()
		if ea != eb {
			return ea > eb
		}
		if qa.FeeRate != qb.FeeRate {
			return qa.FeeRate < qb.FeeRate
		}
		if qa.PriceImpact != qb.PriceImpact {
			return qa.PriceImpact < qb.PriceImpact
		}
		return ranked[a].order < ranked[b].order
	})

	best := ranked[0].quote
	decision := &models.RoutingDecision{
		OrderID:   orderID,
		Selected:  best.Venue,
		Rationale: rationale(ranked),
		At:        time.Now().UTC(),
	}
	for _, rq := range ranked {
		decision.Quotes = append(decision.Quotes, *rq.quote)
	}
	if len(ranked) > 1 {
		second := ranked[1].quote
		if second.UnitPrice > 0 {
			decision.PriceGapPct = (best.UnitPrice - second.UnitPrice) / second.UnitPrice * 100
		}
	}

	return best, decision, nil
}

// rationale spells out the deltas that actually broke the decision.
func rationale(ranked []rankedQuote) string {
	best := ranked[0].quote
	if len(ranked) == 1 {
		return fmt.Sprintf("%s selected: only venue quoting", best.Venue)
	}

	second := ranked[1].quote
	var parts []string

	if d := best.EffectiveOutput() - second.EffectiveOutput(); d > 0 && second.EffectiveOutput() > 0 {
		parts = append(parts, fmt.Sprintf("output advantage %.4f%%", d/second.EffectiveOutput()*100))
	}
	if second.UnitPrice > 0 && best.UnitPrice != second.UnitPrice {
		parts = append(parts, fmt.Sprintf("price advantage %.4f%%",
			(best.UnitPrice-second.UnitPrice)/second.UnitPrice*100))
	}
	if best.FeeRate < second.FeeRate {
		parts = append(parts, fmt.Sprintf("fee advantage %.4f%% vs %.4f%%",
			best.FeeRate*100, second.FeeRate*100))
	}
	if best.PriceImpact < second.PriceImpact {
		parts = append(parts, fmt.Sprintf("impact advantage %.4f%% vs %.4f%%",
			best.PriceImpact*100, second.PriceImpact*100))
	}
	if len(parts) == 0 {
		parts = append(parts, "tied quotes, earlier registration wins")
	}

	return fmt.Sprintf("%s selected over %s: %s", best.Venue, second.Venue, strings.Join(parts, ", "))
}
