package supervisor

import (
	"fmt"
	"math"
)

// SafetyLimits bound the damage an unattended session can do. They are
// immutable for the session: changes only take effect across a restart.
type SafetyLimits struct {
	MaxDailyTrades        int     `yaml:"max_daily_trades"`         // Default: 20
	MaxDailyLossPct       float64 `yaml:"max_daily_loss_pct"`       // Default: 0.02
	MaxPositionSizePct    float64 `yaml:"max_position_size_pct"`    // Default: 0.1
	MaxConsecutiveLosses  int     `yaml:"max_consecutive_losses"`   // Default: 5
	CircuitBreakerLossPct float64 `yaml:"circuit_breaker_loss_pct"` // Default: 0.03
	MinAccountBalance     float64 `yaml:"min_account_balance"`      // Default: 10000
}

// DefaultSafetyLimits returns production defaults
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxDailyTrades:        20,
		MaxDailyLossPct:       0.02,
		MaxPositionSizePct:    0.1,
		MaxConsecutiveLosses:  5,
		CircuitBreakerLossPct: 0.03,
		MinAccountBalance:     10000,
	}
}

// Validate rejects limits that would disable the safety net
func (l SafetyLimits) Validate() error {
	if l.MaxDailyTrades <= 0 {
		return fmt.Errorf("max_daily_trades must be positive, got %d", l.MaxDailyTrades)
	}
	if l.MaxDailyLossPct <= 0 || l.MaxDailyLossPct >= 1 {
		return fmt.Errorf("max_daily_loss_pct must be in (0, 1), got %.4f", l.MaxDailyLossPct)
	}
	if l.MaxPositionSizePct <= 0 || l.MaxPositionSizePct > 1 {
		return fmt.Errorf("max_position_size_pct must be in (0, 1], got %.4f", l.MaxPositionSizePct)
	}
	if l.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max_consecutive_losses must be positive, got %d", l.MaxConsecutiveLosses)
	}
	if l.CircuitBreakerLossPct <= 0 || l.CircuitBreakerLossPct >= 1 {
		return fmt.Errorf("circuit_breaker_loss_pct must be in (0, 1), got %.4f", l.CircuitBreakerLossPct)
	}
	if l.MinAccountBalance <= 0 {
		return fmt.Errorf("min_account_balance must be positive, got %.2f", l.MinAccountBalance)
	}
	return nil
}

// CheckBudget is the decision loop's pre-execution gate. A non-empty
// reason means the candidate is rejected; the session keeps running.
func (l SafetyLimits) CheckBudget(stats Statistics) (ok bool, reason string) {
	if stats.TradesToday >= l.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade budget exhausted (%d/%d)",
			stats.TradesToday, l.MaxDailyTrades)
	}
	if math.Abs(stats.DailyPnL)/l.MinAccountBalance >= l.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss fraction reached (%.2f of %.2f budget)",
			math.Abs(stats.DailyPnL), l.MaxDailyLossPct*l.MinAccountBalance)
	}
	if stats.ConsecutiveLosses >= l.MaxConsecutiveLosses {
		return false, fmt.Sprintf("consecutive loss limit reached (%d/%d)",
			stats.ConsecutiveLosses, l.MaxConsecutiveLosses)
	}
	return true, ""
}

// CheckCircuitBreaker is the safety loop's kill condition. A non-empty
// reason forces an emergency stop.
func (l SafetyLimits) CheckCircuitBreaker(stats Statistics) (ok bool, reason string) {
	if budget := l.CircuitBreakerLossPct * l.MinAccountBalance; stats.DailyPnL <= -budget {
		return false, fmt.Sprintf("circuit breaker: daily loss %.2f breached -%.2f",
			stats.DailyPnL, budget)
	}
	if stats.ConsecutiveLosses >= l.MaxConsecutiveLosses {
		return false, fmt.Sprintf("circuit breaker: consecutive loss limit reached (%d/%d)",
			stats.ConsecutiveLosses, l.MaxConsecutiveLosses)
	}
	return true, ""
}

// MaxPositionNotional is the largest order value a single trade may carry
func (l SafetyLimits) MaxPositionNotional() float64 {
	return l.MaxPositionSizePct * l.MinAccountBalance
}
