// Package memory holds an in-memory OrderStore with the same transition
// semantics as the Postgres implementation. Used by unit tests and dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/google/uuid"
)

type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	seq    []string // creation order, newest listing walks this backwards
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*models.Order)}
}

var _ storage.OrderStore = (*OrderStore)(nil)

func clone(o *models.Order) *models.Order {
	c := *o
	return &c
}

func (s *OrderStore) Create(_ context.Context, draft *models.OrderDraft) (*models.Order, error) {
	if draft == nil {
		return nil, storage.ErrInvalidInput
	}
	if draft.Slippage == 0 {
		draft.Slippage = constants.DefaultSlippage
	}
	if err := models.ValidateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:        uuid.NewString(),
		Type:      draft.Type,
		Status:    models.StatusPending,
		TokenIn:   draft.TokenIn,
		TokenOut:  draft.TokenOut,
		AmountIn:  draft.AmountIn,
		Slippage:  draft.Slippage,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	s.seq = append(s.seq, order.ID)
	return clone(order), nil
}

func (s *OrderStore) Find(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(order), nil
}

func (s *OrderStore) List(_ context.Context, filter storage.ListFilter) ([]*models.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Order
	for i := len(s.seq) - 1; i >= 0; i-- {
		order := s.orders[s.seq[i]]
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		matched = append(matched, order)
	}
	sort.SliceStable(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}

	page := make([]*models.Order, 0, end-offset)
	for _, order := range matched[offset:end] {
		page = append(page, clone(order))
	}
	return page, total, nil
}

func (s *OrderStore) Count(_ context.Context, status *models.OrderStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status == nil {
		return len(s.orders), nil
	}
	n := 0
	for _, order := range s.orders {
		if order.Status == *status {
			n++
		}
	}
	return n, nil
}

// locked returns the live order for mutation. Caller must hold s.mu.
func (s *OrderStore) locked(id string) (*models.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return order, nil
}

func applyPatch(order *models.Order, patch *storage.TransitionPatch) {
	if patch == nil {
		return
	}
	if patch.Venue != nil {
		order.Venue = patch.Venue
	}
	if patch.TxRef != nil {
		order.TxRef = patch.TxRef
	}
	if patch.ExpectedPrice != nil {
		order.ExpectedPrice = patch.ExpectedPrice
	}
	if patch.ExecutedPrice != nil {
		order.ExecutedPrice = patch.ExecutedPrice
	}
	if patch.AmountOut != nil {
		order.AmountOut = patch.AmountOut
	}
	if patch.ErrorMessage != nil {
		order.ErrorMessage = patch.ErrorMessage
	}
}

func (s *OrderStore) Transition(_ context.Context, id string, newStatus models.OrderStatus, patch *storage.TransitionPatch) (*models.Order, error) {
	if !newStatus.Valid() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.locked(id)
	if err != nil {
		return nil, err
	}
	if order.Terminal() {
		return nil, storage.ErrTerminal
	}
	if !models.CanTransition(order.Status, newStatus) {
		return nil, storage.ErrIllegalTransition
	}

	applyPatch(order, patch)
	order.Status = newStatus
	now := time.Now().UTC()
	order.UpdatedAt = now
	if newStatus.Terminal() {
		order.CompletedAt = &now
	}
	return clone(order), nil
}

func (s *OrderStore) RecordExecution(_ context.Context, id string, exec storage.Execution) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.locked(id)
	if err != nil {
		return nil, err
	}
	if order.Terminal() {
		return nil, storage.ErrTerminal
	}
	if !models.CanTransition(order.Status, models.StatusConfirmed) {
		return nil, storage.ErrIllegalTransition
	}

	order.Status = models.StatusConfirmed
	order.Venue = &exec.Venue
	order.TxRef = &exec.TxRef
	order.ExecutedPrice = &exec.ExecutedPrice
	order.AmountOut = &exec.AmountOut
	now := time.Now().UTC()
	order.UpdatedAt = now
	order.CompletedAt = &now
	return clone(order), nil
}

func (s *OrderStore) IncrementRetry(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.locked(id)
	if err != nil {
		return 0, err
	}
	if order.Terminal() {
		return order.RetryCount, storage.ErrTerminal
	}
	order.RetryCount++
	order.UpdatedAt = time.Now().UTC()
	return order.RetryCount, nil
}

func (s *OrderStore) MarkFailed(_ context.Context, id string, errorMessage string, retryCount int) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.locked(id)
	if err != nil {
		return nil, err
	}
	if order.Terminal() {
		return nil, storage.ErrTerminal
	}

	order.Status = models.StatusFailed
	order.ErrorMessage = &errorMessage
	order.RetryCount = retryCount
	// Failure never carries execution facts.
	order.Venue = nil
	order.TxRef = nil
	now := time.Now().UTC()
	order.UpdatedAt = now
	order.CompletedAt = &now
	return clone(order), nil
}

func (s *OrderStore) Ping(context.Context) error { return nil }

func (s *OrderStore) Close() error { return nil }
