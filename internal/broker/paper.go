// Package broker provides trade execution backends. PaperBroker is the
// default: a deterministic fill simulator suitable for shadow and paper
// automation modes.
package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradepilot/tradepilot/internal/domain"
)

// PaperConfig tunes the fill simulator
type PaperConfig struct {
	InitialBalance float64       `yaml:"initial_balance"` // Default: 100000
	SlippageBps    float64       `yaml:"slippage_bps"`    // Default: 5
	RejectRate     float64       `yaml:"reject_rate"`     // Default: 0.02
	MaxLatency     time.Duration `yaml:"max_latency"`     // Default: 50ms
	Seed           int64         `yaml:"seed"`            // 0 means time-seeded
}

// DefaultPaperConfig returns production defaults
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		InitialBalance: 100000,
		SlippageBps:    5,
		RejectRate:     0.02,
		MaxLatency:     50 * time.Millisecond,
	}
}

type position struct {
	quantity float64
	avgPrice float64
}

// PaperBroker simulates fills against the caller-supplied reference price.
// With a fixed Seed the fill sequence is reproducible run to run.
type PaperBroker struct {
	mu        sync.Mutex
	cfg       PaperConfig
	rng       *rand.Rand
	balance   float64
	positions map[string]*position
	log       zerolog.Logger
}

// NewPaperBroker creates a fill simulator
func NewPaperBroker(cfg PaperConfig, log zerolog.Logger) *PaperBroker {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperBroker{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		balance:   cfg.InitialBalance,
		positions: make(map[string]*position),
		log:       log.With().Str("component", "paper_broker").Logger(),
	}
}

// Execute simulates a fill for the signal at the given reference price and
// quantity. Sells against an open position realize PnL; buys open or add.
func (b *PaperBroker) Execute(ctx context.Context, signal domain.TradeSignal, price, quantity float64) (domain.ExecutionResult, error) {
	if price <= 0 || quantity <= 0 {
		return domain.ExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("invalid order: price=%.4f quantity=%.4f", price, quantity),
		}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Simulated venue latency, bounded and cancellable.
	if b.cfg.MaxLatency > 0 {
		latency := time.Duration(b.rng.Int63n(int64(b.cfg.MaxLatency)))
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return domain.ExecutionResult{Success: false, Error: "execution cancelled"}, ctx.Err()
		}
	}

	if b.rng.Float64() < b.cfg.RejectRate {
		b.log.Warn().Str("symbol", signal.Symbol).Msg("simulated venue reject")
		return domain.ExecutionResult{Success: false, Error: "venue rejected order"}, nil
	}

	fill := b.fillPrice(signal.Action, price)
	orderID := uuid.New().String()

	var pnl float64
	switch signal.Action {
	case domain.ActionBuy:
		pos := b.positions[signal.Symbol]
		if pos == nil {
			pos = &position{}
			b.positions[signal.Symbol] = pos
		}
		cost := fill * quantity
		if cost > b.balance {
			return domain.ExecutionResult{
				Success: false,
				Error:   fmt.Sprintf("insufficient balance: need %.2f have %.2f", cost, b.balance),
			}, nil
		}
		total := pos.avgPrice*pos.quantity + cost
		pos.quantity += quantity
		pos.avgPrice = total / pos.quantity
		b.balance -= cost
	case domain.ActionSell:
		pos := b.positions[signal.Symbol]
		if pos == nil || pos.quantity <= 0 {
			return domain.ExecutionResult{Success: false, Error: "no open position to sell"}, nil
		}
		if quantity > pos.quantity {
			quantity = pos.quantity
		}
		pnl = (fill - pos.avgPrice) * quantity
		pos.quantity -= quantity
		b.balance += fill * quantity
		if pos.quantity == 0 {
			delete(b.positions, signal.Symbol)
		}
	default:
		return domain.ExecutionResult{Success: false, Error: fmt.Sprintf("unsupported action: %s", signal.Action)}, nil
	}

	b.log.Info().
		Str("symbol", signal.Symbol).
		Str("action", string(signal.Action)).
		Str("order_id", orderID).
		Float64("fill_price", fill).
		Float64("quantity", quantity).
		Float64("pnl", pnl).
		Msg("paper fill")

	return domain.ExecutionResult{
		Success:   true,
		OrderID:   orderID,
		FillPrice: fill,
		Quantity:  quantity,
		PnL:       pnl,
	}, nil
}

// Balance returns the current cash balance
func (b *PaperBroker) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// OpenPositions returns quantity held per symbol
func (b *PaperBroker) OpenPositions() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.positions))
	for sym, pos := range b.positions {
		out[sym] = pos.quantity
	}
	return out
}

func (b *PaperBroker) fillPrice(action domain.SignalAction, price float64) float64 {
	slip := price * b.cfg.SlippageBps / 10000 * b.rng.Float64()
	if action == domain.ActionBuy {
		return price + slip
	}
	return price - slip
}
