// Package persistence defines the durable-storage boundary of the control
// core: the trade journal consumed as the best-effort persistence-log
// collaborator, and the regime history repository. Implementations live in
// subpackages; failures here are logged by callers and never block trading.
package persistence

import (
	"context"
	"time"
)

// TimeRange is a half-open [From, To) query window
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TradeRecord is one executed (or attempted) trade as journaled by the
// supervisor after the execution callback returns
type TradeRecord struct {
	ID                 int64     `json:"id" db:"id"`
	SessionID          string    `json:"session_id" db:"session_id"`
	Timestamp          time.Time `json:"ts" db:"ts"`
	Symbol             string    `json:"symbol" db:"symbol"`
	Action             string    `json:"action" db:"action"`
	Strategy           string    `json:"strategy" db:"strategy"`
	Confidence         float64   `json:"confidence" db:"confidence"`
	PositionMultiplier float64   `json:"position_multiplier" db:"position_multiplier"`
	Regime             string    `json:"regime" db:"regime"`
	Phase              string    `json:"phase" db:"phase"`
	OrderID            *string   `json:"order_id,omitempty" db:"order_id"`
	FillPrice          *float64  `json:"fill_price,omitempty" db:"fill_price"`
	Quantity           *float64  `json:"quantity,omitempty" db:"quantity"`
	PnL                float64   `json:"pnl" db:"pnl"`
	Success            bool      `json:"success" db:"success"`
	Error              *string   `json:"error,omitempty" db:"error"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// TradesRepo journals executed trades
type TradesRepo interface {
	// Insert adds one trade record
	Insert(ctx context.Context, record TradeRecord) error

	// ListBySession retrieves a session's trades in execution order
	ListBySession(ctx context.Context, sessionID string, limit int) ([]TradeRecord, error)

	// ListBySymbol retrieves trades for a symbol within a time range
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]TradeRecord, error)
}
