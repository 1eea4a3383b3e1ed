package supervisor

import (
	"sync"
	"time"
)

const maxTrackedErrors = 50

// Statistics is a point-in-time snapshot of the operational counters
// shared by the decision and safety loops. Daily fields reset exactly
// once per trading day.
type Statistics struct {
	TotalCycles       int64     `json:"total_cycles"`
	SignalsGenerated  int64     `json:"signals_generated"`
	SignalsAdmitted   int64     `json:"signals_admitted"`
	TradesToday       int       `json:"trades_today"`
	TradesSucceeded   int64     `json:"trades_succeeded"`
	TradesFailed      int64     `json:"trades_failed"`
	DailyPnL          float64   `json:"daily_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	TradesInPhase     int       `json:"trades_in_phase"`
	CurrentPhase      string    `json:"current_phase"`
	LastDecisionAt    time.Time `json:"last_decision_at"`
	LastSafetyCheckAt time.Time `json:"last_safety_check_at"`
	LastTradeAt       time.Time `json:"last_trade_at"`
	Errors            []string  `json:"errors,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	TradingDay        string    `json:"trading_day"`
}

// statsTracker guards the counters shared by the decision and safety loops
type statsTracker struct {
	mu    sync.Mutex
	stats Statistics
}

func newStatsTracker(now time.Time) *statsTracker {
	return &statsTracker{stats: Statistics{
		StartedAt:  now,
		TradingDay: now.Format("2006-01-02"),
	}}
}

// Snapshot returns a copy safe to read without holding the lock
func (t *statsTracker) Snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.stats
	snap.Errors = append([]string(nil), t.stats.Errors...)
	return snap
}

func (t *statsTracker) BeginCycle(now time.Time, phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.TotalCycles++
	t.stats.LastDecisionAt = now
	if t.stats.CurrentPhase != phase {
		t.stats.CurrentPhase = phase
		t.stats.TradesInPhase = 0
	}
}

// RollDay resets the daily counters when the trading day changes. Returns
// true when a reset happened.
func (t *statsTracker) RollDay(now time.Time) bool {
	day := now.Format("2006-01-02")
	t.mu.Lock()
	defer t.mu.Unlock()
	if day == t.stats.TradingDay {
		return false
	}
	t.stats.TradingDay = day
	t.stats.DailyPnL = 0
	t.stats.ConsecutiveLosses = 0
	t.stats.TradesToday = 0
	t.stats.TradesSucceeded = 0
	t.stats.TradesFailed = 0
	t.stats.SignalsGenerated = 0
	t.stats.SignalsAdmitted = 0
	t.stats.Errors = nil
	return true
}

// MarkSafetyCheck refreshes the safety loop's liveness timestamp. It is
// set on every pass, including ones skipped for state, so health checks
// can tell a paused session from a dead safety loop.
func (t *statsTracker) MarkSafetyCheck(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastSafetyCheckAt = now
}

func (t *statsTracker) RecordSignal(admitted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.SignalsGenerated++
	if admitted {
		t.stats.SignalsAdmitted++
	}
}

// RecordTrade folds one execution result into the counters and returns the
// updated snapshot so the caller can run the circuit-breaker comparison on
// exactly the state this trade produced.
func (t *statsTracker) RecordTrade(now time.Time, success bool, pnl float64) Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastTradeAt = now
	t.stats.TradesToday++
	if !success {
		t.stats.TradesFailed++
		t.stats.ConsecutiveLosses++
		return t.stats
	}
	t.stats.TradesSucceeded++
	t.stats.TradesInPhase++
	t.stats.DailyPnL += pnl
	if pnl > 0 {
		t.stats.ConsecutiveLosses = 0
	} else {
		t.stats.ConsecutiveLosses++
	}
	return t.stats
}

func (t *statsTracker) RecordError(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := now.Format(time.RFC3339) + " " + err.Error()
	t.stats.Errors = append(t.stats.Errors, entry)
	if len(t.stats.Errors) > maxTrackedErrors {
		t.stats.Errors = t.stats.Errors[len(t.stats.Errors)-maxTrackedErrors:]
	}
}

func (t *statsTracker) CurrentTradesInPhase(phase string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.CurrentPhase != phase {
		return 0
	}
	return t.stats.TradesInPhase
}
