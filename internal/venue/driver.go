// Package venue defines the driver contract the execution engine speaks to
// exchanges with, plus simulated reference drivers.
package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
)

// Pair is a normalized token pair. Both sides are wrapped SPL addresses by
// the time a driver sees them.
type Pair struct {
	In  string
	Out string
}

func (p Pair) String() string {
	return p.In + "-" + p.Out
}

// SwapParams carries everything a driver needs to execute.
type SwapParams struct {
	Pair              Pair
	AmountIn          float64
	ExpectedUnitPrice float64
	SlippageMax       float64
	OrderID           string
}

// Driver is the venue contract: quote a pair, execute a swap. Both calls may
// fail Temporary (retriable) or Permanent (not retriable).
type Driver interface {
	Name() string
	Quote(ctx context.Context, pair Pair, amountIn float64) (*models.Quote, error)
	Swap(ctx context.Context, params SwapParams) (*models.SwapResult, error)
}

// ErrKind classifies driver failures for the retry policy.
type ErrKind int

const (
	KindTemporary ErrKind = iota
	KindPermanent
)

// VenueError is the driver failure taxonomy.
type VenueError struct {
	Venue string
	Kind  ErrKind
	Err   error
}

func (e *VenueError) Error() string {
	kind := "temporary"
	if e.Kind == KindPermanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s: %s venue error: %v", e.Venue, kind, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// Temporary wraps err as a retriable venue failure.
func Temporary(venue string, err error) error {
	return &VenueError{Venue: venue, Kind: KindTemporary, Err: err}
}

// Permanent wraps err as a non-retriable venue failure.
func Permanent(venue string, err error) error {
	return &VenueError{Venue: venue, Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err is a permanent venue failure.
func IsPermanent(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve) && ve.Kind == KindPermanent
}
