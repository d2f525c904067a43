package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderStore implements storage.OrderStore using PostgreSQL. Mutations take
// a row lock inside a transaction, validate the edge against the state
// graph, then write, so a competing writer can never interleave.
type OrderStore struct {
	pool *Pool
}

func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

var _ storage.OrderStore = (*OrderStore)(nil)

const orderColumns = `
	id, type, status, token_in, token_out, amount_in, amount_out,
	expected_price, executed_price, slippage, venue, tx_ref,
	error_message, retry_count, created_at, updated_at, completed_at
`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.Type, &o.Status, &o.TokenIn, &o.TokenOut, &o.AmountIn,
		&o.AmountOut, &o.ExpectedPrice, &o.ExecutedPrice, &o.Slippage,
		&o.Venue, &o.TxRef, &o.ErrorMessage, &o.RetryCount,
		&o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func (s *OrderStore) Create(ctx context.Context, draft *models.OrderDraft) (*models.Order, error) {
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
	query := `
		INSERT INTO orders (id, type, status, token_in, token_out, amount_in, slippage, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
		RETURNING ` + orderColumns

	row := s.pool.QueryRow(ctx, query,
		uuid.NewString(), draft.Type, models.StatusPending,
		draft.TokenIn, draft.TokenOut, draft.AmountIn, draft.Slippage, now,
	)
	return scanOrder(row)
}

func (s *OrderStore) Find(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(s.pool.QueryRow(ctx, query, id))
}

func (s *OrderStore) List(ctx context.Context, filter storage.ListFilter) ([]*models.Order, int, error) {
	where := ""
	args := []any{}
	if filter.Status != nil {
		where = "WHERE status = $1"
		args = append(args, *filter.Status)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM orders " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(
		"SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func (s *OrderStore) Count(ctx context.Context, status *models.OrderStatus) (int, error) {
	var total int
	var err error
	if status == nil {
		err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders").Scan(&total)
	} else {
		err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders WHERE status = $1", *status).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return total, nil
}

// lockOrder reads the row FOR UPDATE inside tx and rejects terminal orders.
func lockOrder(ctx context.Context, tx pgx.Tx, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	order, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if order.Terminal() {
		return nil, storage.ErrTerminal
	}
	return order, nil
}

func (s *OrderStore) inTx(ctx context.Context, fn func(tx pgx.Tx) (*models.Order, error)) (*models.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return order, nil
}

func (s *OrderStore) Transition(ctx context.Context, id string, newStatus models.OrderStatus, patch *storage.TransitionPatch) (*models.Order, error) {
	if !newStatus.Valid() {
		return nil, storage.ErrInvalidInput
	}
	return s.inTx(ctx, func(tx pgx.Tx) (*models.Order, error) {
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !models.CanTransition(order.Status, newStatus) {
			return nil, fmt.Errorf("%w: %s -> %s", storage.ErrIllegalTransition, order.Status, newStatus)
		}

		now := time.Now().UTC()
		var completedAt *time.Time
		if newStatus.Terminal() {
			completedAt = &now
		}
		if patch == nil {
			patch = &storage.TransitionPatch{}
		}

		query := `
			UPDATE orders SET
				status = $2,
				venue = COALESCE($3, venue),
				tx_ref = COALESCE($4, tx_ref),
				expected_price = COALESCE($5, expected_price),
				executed_price = COALESCE($6, executed_price),
				amount_out = COALESCE($7, amount_out),
				error_message = COALESCE($8, error_message),
				updated_at = $9,
				completed_at = COALESCE($10, completed_at)
			WHERE id = $1
			RETURNING ` + orderColumns

		return scanOrder(tx.QueryRow(ctx, query, id, newStatus,
			patch.Venue, patch.TxRef, patch.ExpectedPrice, patch.ExecutedPrice,
			patch.AmountOut, patch.ErrorMessage, now, completedAt))
	})
}

func (s *OrderStore) RecordExecution(ctx context.Context, id string, exec storage.Execution) (*models.Order, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (*models.Order, error) {
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !models.CanTransition(order.Status, models.StatusConfirmed) {
			return nil, fmt.Errorf("%w: %s -> %s", storage.ErrIllegalTransition, order.Status, models.StatusConfirmed)
		}

		now := time.Now().UTC()
		query := `
			UPDATE orders SET
				status = $2, venue = $3, tx_ref = $4,
				executed_price = $5, amount_out = $6,
				updated_at = $7, completed_at = $7
			WHERE id = $1
			RETURNING ` + orderColumns

		return scanOrder(tx.QueryRow(ctx, query, id, models.StatusConfirmed,
			exec.Venue, exec.TxRef, exec.ExecutedPrice, exec.AmountOut, now))
	})
}

func (s *OrderStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	order, err := s.inTx(ctx, func(tx pgx.Tx) (*models.Order, error) {
		if _, err := lockOrder(ctx, tx, id); err != nil {
			return nil, err
		}
		query := `
			UPDATE orders SET retry_count = retry_count + 1, updated_at = $2
			WHERE id = $1
			RETURNING ` + orderColumns
		return scanOrder(tx.QueryRow(ctx, query, id, time.Now().UTC()))
	})
	if err != nil {
		return 0, err
	}
	return order.RetryCount, nil
}

func (s *OrderStore) MarkFailed(ctx context.Context, id string, errorMessage string, retryCount int) (*models.Order, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (*models.Order, error) {
		if _, err := lockOrder(ctx, tx, id); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		query := `
			UPDATE orders SET
				status = $2, error_message = $3, retry_count = $4,
				venue = NULL, tx_ref = NULL,
				updated_at = $5, completed_at = $5
			WHERE id = $1
			RETURNING ` + orderColumns
		return scanOrder(tx.QueryRow(ctx, query, id, models.StatusFailed,
			errorMessage, retryCount, now))
	})
}

func (s *OrderStore) Ping(ctx context.Context) error {
	return s.pool.Pool.Ping(ctx)
}

func (s *OrderStore) Close() error {
	s.pool.Close()
	return nil
}
