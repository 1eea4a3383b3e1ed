package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/tradepilot/tradepilot/internal/domain"
)

// DataSource supplies the market snapshot a decision cycle runs on
type DataSource interface {
	Snapshot(ctx context.Context, symbol string) (domain.MarketContext, error)
}

// BreakerConfig tunes the market-data circuit breaker
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // Default: 10
	Timeout             time.Duration `yaml:"timeout"`              // Default: 60s
	MaxRequests         uint32        `yaml:"max_requests"`         // Default: 3
}

// DefaultBreakerConfig returns production defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 10,
		Timeout:             60 * time.Second,
		MaxRequests:         3,
	}
}

// guardedSource wraps a DataSource with a circuit breaker so a dead feed
// stops being hammered and the safety loop can observe the outage.
type guardedSource struct {
	inner   DataSource
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func newGuardedSource(inner DataSource, cfg BreakerConfig, log zerolog.Logger) *guardedSource {
	gs := &guardedSource{inner: inner, log: log.With().Str("component", "market_data").Logger()}
	gs.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "market_data",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			gs.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Market data breaker state change")
		},
	})
	return gs
}

func (gs *guardedSource) Snapshot(ctx context.Context, symbol string) (domain.MarketContext, error) {
	result, err := gs.breaker.Execute(func() (interface{}, error) {
		return gs.inner.Snapshot(ctx, symbol)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domain.MarketContext{}, fmt.Errorf("market data unavailable: %w", err)
		}
		return domain.MarketContext{}, fmt.Errorf("market data fetch failed: %w", err)
	}
	return result.(domain.MarketContext), nil
}

// Healthy reports whether the breaker is closed
func (gs *guardedSource) Healthy() bool {
	return gs.breaker.State() == gobreaker.StateClosed
}
