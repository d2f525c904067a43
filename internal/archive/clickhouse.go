// Package archive writes terminal order executions to ClickHouse for
// offline analysis. Best-effort: never on the execution critical path.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
)

// ExecutionRecord is one terminal order outcome.
type ExecutionRecord struct {
	OrderID       string
	Status        string
	Venue         string
	TokenIn       string
	TokenOut      string
	AmountIn      float64
	AmountOut     float64
	ExecutedPrice float64
	Slippage      float64
	RetryCount    int32
	Error         string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// FromOrder builds a record from a terminal order.
func FromOrder(order *models.Order) *ExecutionRecord {
	rec := &ExecutionRecord{
		OrderID:    order.ID,
		Status:     string(order.Status),
		TokenIn:    order.TokenIn,
		TokenOut:   order.TokenOut,
		AmountIn:   order.AmountIn,
		Slippage:   order.Slippage,
		RetryCount: int32(order.RetryCount),
		CreatedAt:  order.CreatedAt,
	}
	if order.Venue != nil {
		rec.Venue = *order.Venue
	}
	if order.AmountOut != nil {
		rec.AmountOut = *order.AmountOut
	}
	if order.ExecutedPrice != nil {
		rec.ExecutedPrice = *order.ExecutedPrice
	}
	if order.ErrorMessage != nil {
		rec.Error = *order.ErrorMessage
	}
	if order.CompletedAt != nil {
		rec.CompletedAt = *order.CompletedAt
	}
	return rec
}

// Config holds ClickHouse connection settings.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

type Store struct {
	conn driver.Conn
}

const schema = `
	CREATE TABLE IF NOT EXISTS executions (
		order_id       String,
		status         String,
		venue          String,
		token_in       String,
		token_out      String,
		amount_in      Float64,
		amount_out     Float64,
		executed_price Float64,
		slippage       Float64,
		retry_count    Int32,
		error          String,
		created_at     DateTime64(3),
		completed_at   DateTime64(3)
	) ENGINE = MergeTree()
	ORDER BY (completed_at, order_id)
`

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure executions table: %w", err)
	}
	return &Store{conn: conn}, nil
}

func (s *Store) InsertExecution(ctx context.Context, rec *ExecutionRecord) error {
	query := `
		INSERT INTO executions (
			order_id, status, venue, token_in, token_out,
			amount_in, amount_out, executed_price, slippage,
			retry_count, error, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		rec.OrderID,
		rec.Status,
		rec.Venue,
		rec.TokenIn,
		rec.TokenOut,
		rec.AmountIn,
		rec.AmountOut,
		rec.ExecutedPrice,
		rec.Slippage,
		rec.RetryCount,
		rec.Error,
		rec.CreatedAt,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}
