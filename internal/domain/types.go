// Package domain holds the core market and trading types shared across
// the control core. It has no dependencies beyond the standard library.
package domain

import "time"

// Bar represents a single OHLCV observation
type Bar struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketContext is the snapshot returned by the external market-data fetch
type MarketContext struct {
	Timestamp   time.Time `json:"timestamp"`
	SessionOpen bool      `json:"session_open"`
	Bars        []Bar     `json:"bars"`
	Volumes     []float64 `json:"volumes"`
}

// SignalAction is the direction of a candidate trade
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// TradeSignal is a scored single-symbol trade candidate produced by an
// external signal generator and consumed by the admission pipeline
type TradeSignal struct {
	Symbol     string       `json:"symbol"`
	Action     SignalAction `json:"action"`
	Confidence float64      `json:"confidence"` // 0.0-1.0
	Strategy   string       `json:"strategy"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// ExecutionResult is the outcome of handing a signal to an execution backend
type ExecutionResult struct {
	Success   bool    `json:"success"`
	OrderID   string  `json:"order_id,omitempty"`
	FillPrice float64 `json:"fill_price,omitempty"`
	Quantity  float64 `json:"quantity,omitempty"`
	PnL       float64 `json:"pnl"`
	Error     string  `json:"error,omitempty"`
}
