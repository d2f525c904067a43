package storage

import (
	"context"
	"io"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
)

// ListFilter narrows List results. Zero value lists everything.
type ListFilter struct {
	Status *models.OrderStatus
	Limit  int
	Offset int
}

// TransitionPatch carries the optional fields written alongside a status
// change. Nil fields are left untouched.
type TransitionPatch struct {
	Venue         *string
	TxRef         *string
	ExpectedPrice *float64
	ExecutedPrice *float64
	AmountOut     *float64
	ErrorMessage  *string
}

// Execution is the payload for the submitted -> confirmed edge.
type Execution struct {
	Venue         string
	TxRef         string
	ExecutedPrice float64
	AmountOut     float64
}

// OrderStore is the single authority for order state. Transitions are atomic
// and reject illegal edges and terminal-state mutations.
type OrderStore interface {
	// Create assigns an ID, sets status pending and stamps timestamps.
	Create(ctx context.Context, draft *models.OrderDraft) (*models.Order, error)

	// Find returns the order or ErrNotFound.
	Find(ctx context.Context, id string) (*models.Order, error)

	// List returns a page of orders (newest first) and the total matching count.
	List(ctx context.Context, filter ListFilter) ([]*models.Order, int, error)

	// Count returns the number of orders, optionally restricted to a status.
	Count(ctx context.Context, status *models.OrderStatus) (int, error)

	// Transition atomically moves the order to newStatus, applying patch.
	// Fails with ErrIllegalTransition / ErrTerminal / ErrNotFound.
	Transition(ctx context.Context, id string, newStatus models.OrderStatus, patch *TransitionPatch) (*models.Order, error)

	// RecordExecution performs the submitted -> confirmed edge together with
	// the execution results, atomically.
	RecordExecution(ctx context.Context, id string, exec Execution) (*models.Order, error)

	// IncrementRetry bumps the attempt counter and returns the new value.
	IncrementRetry(ctx context.Context, id string) (int, error)

	// MarkFailed moves the order to failed with the final error message and
	// retry count, atomically.
	MarkFailed(ctx context.Context, id string, errorMessage string, retryCount int) (*models.Order, error)

	// Ping checks reachability.
	Ping(ctx context.Context) error

	io.Closer
}
