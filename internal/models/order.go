package models

import (
	"fmt"
	"math"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/constants"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

type OrderType string

const (
	TypeMarket OrderType = "market"
	// Reserved for future order types; not accepted at submission.
	TypeLimit  OrderType = "limit"
	TypeSniper OrderType = "sniper"
)

// Venue names as they appear on orders, quotes and toggles.
const (
	VenueRaydium = "Raydium"
	VenueMeteora = "Meteora"
)

// Order is the central entity. The Store exclusively owns order rows;
// everything else holds short-lived references by ID.
type Order struct {
	ID            string      `json:"id"`
	Type          OrderType   `json:"type"`
	Status        OrderStatus `json:"status"`
	TokenIn       string      `json:"token_in"`
	TokenOut      string      `json:"token_out"`
	AmountIn      float64     `json:"amount_in"`
	AmountOut     *float64    `json:"amount_out,omitempty"`
	ExpectedPrice *float64    `json:"expected_price,omitempty"`
	ExecutedPrice *float64    `json:"executed_price,omitempty"`
	Slippage      float64     `json:"slippage"`
	Venue         *string     `json:"venue,omitempty"`
	TxRef         *string     `json:"tx_ref,omitempty"`
	ErrorMessage  *string     `json:"error_message,omitempty"`
	RetryCount    int         `json:"retry_count"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// Terminal reports whether the order reached a sink state.
func (o *Order) Terminal() bool {
	return o.Status.Terminal()
}

func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// transitions is the order state graph. Routing is re-enterable from every
// non-terminal in-flight state so a retried attempt restarts the machine.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusRouting},
	StatusRouting:   {StatusBuilding, StatusRouting, StatusFailed},
	StatusBuilding:  {StatusSubmitted, StatusRouting, StatusFailed},
	StatusSubmitted: {StatusConfirmed, StatusRouting, StatusFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedPriors returns every status from which `to` is reachable in one step.
func AllowedPriors(to OrderStatus) []OrderStatus {
	var priors []OrderStatus
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				priors = append(priors, from)
				break
			}
		}
	}
	return priors
}

// OrderDraft is the validated submission payload handed to the Store.
type OrderDraft struct {
	Type     OrderType
	TokenIn  string
	TokenOut string
	AmountIn float64
	Slippage float64
}

// ValidateDraft enforces admission bounds. Address and pair validation is the
// normalizer's job; this covers type, amount and slippage.
func ValidateDraft(d *OrderDraft) error {
	if d == nil {
		return fmt.Errorf("draft is nil")
	}
	if d.Type != TypeMarket {
		return fmt.Errorf("unsupported order type: %s", d.Type)
	}
	if d.AmountIn <= 0 || d.AmountIn > constants.MaxAmountIn {
		return fmt.Errorf("amount_in must be in (0, %v], got %v", constants.MaxAmountIn, d.AmountIn)
	}
	scaled := d.AmountIn * math.Pow10(constants.MaxAmountFraction)
	if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
		return fmt.Errorf("amount_in allows at most %d fractional digits", constants.MaxAmountFraction)
	}
	if d.Slippage < constants.MinSlippage || d.Slippage > constants.MaxSlippage {
		return fmt.Errorf("slippage must be in [%v, %v], got %v",
			constants.MinSlippage, constants.MaxSlippage, d.Slippage)
	}
	return nil
}
