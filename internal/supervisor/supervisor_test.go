package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepilot/tradepilot/internal/domain"
	"github.com/tradepilot/tradepilot/internal/phase"
	"github.com/tradepilot/tradepilot/internal/regime"
)

type fakeData struct {
	mc   domain.MarketContext
	err  error
	hits int
}

func (f *fakeData) Snapshot(_ context.Context, _ string) (domain.MarketContext, error) {
	f.hits++
	if f.err != nil {
		return domain.MarketContext{}, f.err
	}
	return f.mc, nil
}

type fakeGenerator struct {
	name    string
	signals []domain.TradeSignal
	err     error
	warmup  int
}

func (f *fakeGenerator) Name() string { return f.name }

func (f *fakeGenerator) Generate(_ context.Context, _ domain.MarketContext, _ regime.Classification) ([]domain.TradeSignal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.signals, nil
}

func (f *fakeGenerator) WarmupBars() int { return f.warmup }

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, _ string, _ Priority, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) count(title string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.titles {
		if t == title {
			c++
		}
	}
	return c
}

type fakeExecutor struct {
	pnls  []float64
	calls int
}

type fundedExecutor struct {
	fakeExecutor
	balance float64
}

func (f *fundedExecutor) Balance() float64 { return f.balance }

func (f *fakeExecutor) Execute(_ context.Context, sig domain.TradeSignal, price, quantity float64) (domain.ExecutionResult, error) {
	pnl := 0.0
	if f.calls < len(f.pnls) {
		pnl = f.pnls[f.calls]
	}
	f.calls++
	return domain.ExecutionResult{
		Success:   true,
		OrderID:   fmt.Sprintf("order-%d", f.calls),
		FillPrice: price,
		Quantity:  quantity,
		PnL:       pnl,
	}, nil
}

func allDaySchedule(t *testing.T) *phase.Schedule {
	t.Helper()
	sched, err := phase.NewSchedule(phase.ScheduleConfig{
		Timezone:          "UTC",
		ClosedTickSeconds: 120,
		Phases: []phase.Config{{
			Name:               "all_day",
			Start:              "00:00",
			End:                "23:59",
			RiskLevel:          "normal",
			AllowedStrategies:  []string{"momentum"},
			PositionMultiplier: 1.0,
			MinConfidence:      0.3,
			MaxTrades:          1000,
			TickSeconds:        1,
		}},
	})
	require.NoError(t, err)
	return sched
}

func trendBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	for i := range bars {
		price := 100 + float64(i)*0.25
		bars[i] = domain.Bar{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 0.3,
			Low:       price - 0.1,
			Close:     price + 0.2,
			Volume:    10000,
		}
	}
	return bars
}

func buySignals(conf float64) []domain.TradeSignal {
	return []domain.TradeSignal{{
		Symbol:     "SPY",
		Action:     domain.ActionBuy,
		Confidence: conf,
		Strategy:   "momentum",
		Reasoning:  "breakout above range",
		Timestamp:  time.Now(),
	}}
}

func testLimits() SafetyLimits {
	return SafetyLimits{
		MaxDailyTrades:        20,
		MaxDailyLossPct:       0.02,
		MaxPositionSizePct:    1.0,
		MaxConsecutiveLosses:  5,
		CircuitBreakerLossPct: 0.03,
		MinAccountBalance:     10000,
	}
}

func fastConfig(mode AutomationMode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Limits = testLimits()
	cfg.ExecutionsPerMinute = 6000
	cfg.ExecutionBurst = 100
	return cfg
}

func newTestSupervisor(t *testing.T, cfg Config, deps Deps) *Supervisor {
	t.Helper()
	if deps.Classifier == nil {
		classifier, err := regime.NewClassifier(context.Background(), regime.DefaultConfig(), nil)
		require.NoError(t, err)
		deps.Classifier = classifier
	}
	if deps.Schedule == nil {
		deps.Schedule = allDaySchedule(t)
	}
	deps.Logger = zerolog.Nop()
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
		}
	}
	s, err := New(cfg, deps)
	require.NoError(t, err)
	return s
}

func TestConsecutiveLossEmergencyStop(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	exec := &fakeExecutor{pnls: []float64{-30, -30, -30, -30, -30}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   exec,
	})
	s.state = StateRunning

	// Five losses of $30 stay inside the loss budgets, so the
	// consecutive-loss limit is the trigger.
	for i := 0; i < 5; i++ {
		s.runCycle(context.Background())
	}

	state, reason := s.State()
	assert.Equal(t, StateEmergencyStop, state)
	assert.Contains(t, reason, "consecutive loss limit reached (5/5)")
	assert.Equal(t, 5, exec.calls)

	// No further executions once stopped.
	s.runCycle(context.Background())
	assert.Equal(t, 5, exec.calls)
}

func TestCircuitBreakerDailyLoss(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	exec := &fakeExecutor{pnls: []float64{-150, -160}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   exec,
	})
	s.state = StateRunning

	s.runCycle(context.Background())
	s.runCycle(context.Background())

	state, reason := s.State()
	assert.Equal(t, StateEmergencyStop, state)
	assert.Contains(t, reason, "circuit breaker: daily loss")
	assert.Equal(t, 2, s.Stats().ConsecutiveLosses)
}

func TestBudgetRejectsWithoutEmergency(t *testing.T) {
	cfg := fastConfig(ModePaper)
	cfg.Limits.MaxDailyTrades = 2

	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	exec := &fakeExecutor{pnls: []float64{10, 10, 10}}
	s := newTestSupervisor(t, cfg, Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   exec,
	})
	s.state = StateRunning

	for i := 0; i < 4; i++ {
		s.runCycle(context.Background())
	}

	assert.Equal(t, 2, exec.calls)
	state, _ := s.State()
	assert.Equal(t, StateRunning, state)
}

func TestWinResetsConsecutiveLosses(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	exec := &fakeExecutor{pnls: []float64{-10, -10, 25, -10}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   exec,
	})
	s.state = StateRunning

	for i := 0; i < 4; i++ {
		s.runCycle(context.Background())
	}

	assert.Equal(t, 1, s.Stats().ConsecutiveLosses)
	state, _ := s.State()
	assert.Equal(t, StateRunning, state)
}

func TestAnalysisModeNeverExecutes(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	s := newTestSupervisor(t, fastConfig(ModeAnalysis), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
	})
	s.state = StateRunning

	var candidates int
	s.Subscribe(func(ev Event) {
		if ev.Type == EventCandidateLogged {
			candidates++
		}
	})

	for i := 0; i < 3; i++ {
		s.runCycle(context.Background())
	}

	assert.Equal(t, 3, candidates)
	stats := s.Stats()
	assert.Equal(t, int64(3), stats.SignalsAdmitted)
	assert.Equal(t, 0, stats.TradesToday)
}

func TestSupervisedModeApprovalHook(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	exec := &fakeExecutor{pnls: []float64{10, 10}}
	approvals := []bool{false, true}
	var asked int
	s := newTestSupervisor(t, fastConfig(ModeSupervised), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   exec,
		Approval: func(_ context.Context, _ domain.TradeSignal) bool {
			verdict := approvals[asked%len(approvals)]
			asked++
			return verdict
		},
	})
	s.state = StateRunning

	s.runCycle(context.Background())
	assert.Equal(t, 0, exec.calls, "denied candidate must not execute")

	s.runCycle(context.Background())
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 2, asked)
}

func TestSupervisedModeRequiresApprovalHook(t *testing.T) {
	classifier, err := regime.NewClassifier(context.Background(), regime.DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = New(fastConfig(ModeSupervised), Deps{
		Schedule:   allDaySchedule(t),
		Classifier: classifier,
		Data:       &fakeData{},
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum"}},
		Executor:   &fakeExecutor{},
		Logger:     zerolog.Nop(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval hook")
}

func TestPauseResumePreservesStats(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	exec := &fakeExecutor{pnls: []float64{40, 40}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   exec,
	})
	s.state = StateRunning

	s.runCycle(context.Background())
	s.runCycle(context.Background())
	require.Equal(t, int64(2), s.Stats().TradesSucceeded)

	require.NoError(t, s.Pause())
	s.runCycle(context.Background())
	assert.Equal(t, 2, exec.calls, "paused supervisor must not trade")

	require.NoError(t, s.Resume())
	stats := s.Stats()
	assert.Equal(t, int64(2), stats.TradesSucceeded)
	assert.Equal(t, 80.0, stats.DailyPnL)
}

func TestLowConfidenceRejectedByRegimeThreshold(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	exec := &fakeExecutor{}
	// 0.35 passes the phase minimum of 0.3 but not any regime-adjusted
	// minimum, which never drops below 0.48.
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.35)}},
		Executor:   exec,
	})
	s.state = StateRunning

	s.runCycle(context.Background())

	assert.Equal(t, 0, exec.calls)
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.SignalsGenerated)
	assert.Equal(t, int64(0), stats.SignalsAdmitted)
}

func TestWarmupSkipsGenerator(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(20), SessionOpen: true}}
	exec := &fakeExecutor{}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9), warmup: 50}},
		Executor:   exec,
	})
	s.state = StateRunning

	s.runCycle(context.Background())

	assert.Equal(t, 0, exec.calls)
	assert.Equal(t, int64(0), s.Stats().SignalsGenerated)
}

func TestMarketDataErrorRecorded(t *testing.T) {
	data := &fakeData{err: errors.New("feed disconnected")}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
	})
	s.state = StateRunning

	s.runCycle(context.Background())

	stats := s.Stats()
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "feed disconnected")
	assert.Equal(t, int64(1), stats.TotalCycles)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := fastConfig(ModePaper)
	cfg.Breaker = BreakerConfig{ConsecutiveFailures: 10, Timeout: time.Minute, MaxRequests: 1}

	data := &fakeData{err: errors.New("feed disconnected")}
	s := newTestSupervisor(t, cfg, Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
	})
	s.state = StateRunning

	for i := 0; i < 12; i++ {
		s.runCycle(context.Background())
	}

	assert.False(t, s.Healthy())
	// With the breaker open the underlying source stops being called.
	assert.Equal(t, 10, data.hits)
}

func TestSafetyCheckRefreshesLiveness(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
	})
	s.state = StatePaused

	require.True(t, s.Stats().LastSafetyCheckAt.IsZero())
	s.safetyCheck()
	// The timestamp moves even while paused, so a health probe can tell
	// a paused session from a dead safety loop.
	assert.Equal(t, s.clock(), s.Stats().LastSafetyCheckAt)
}

func TestDataOutagePausesAndNotifiesOnce(t *testing.T) {
	cfg := fastConfig(ModePaper)
	cfg.Breaker = BreakerConfig{ConsecutiveFailures: 3, Timeout: time.Minute, MaxRequests: 1}

	data := &fakeData{err: errors.New("feed disconnected")}
	notes := &recordingNotifier{}
	s := newTestSupervisor(t, cfg, Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
		Notifier:   notes,
	})
	s.state = StateRunning

	for i := 0; i < 4; i++ {
		s.runCycle(context.Background())
	}
	require.False(t, s.Healthy())

	s.safetyCheck()
	state, reason := s.State()
	assert.Equal(t, StatePaused, state)
	assert.Equal(t, dataOutageReason, reason)
	assert.Equal(t, 1, notes.count("Market data outage"))

	// Further passes during the same outage stay quiet.
	s.safetyCheck()
	assert.Equal(t, 1, notes.count("Market data outage"))
}

func TestDataRecoveryLiftsOutagePause(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	notes := &recordingNotifier{}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
		Notifier:   notes,
	})
	s.state = StatePaused
	s.stateReason = dataOutageReason
	s.connDown = true

	s.safetyCheck()
	state, _ := s.State()
	assert.Equal(t, StateRunning, state)
	assert.Equal(t, 1, notes.count("Market data restored"))
}

func TestDataRecoveryKeepsOperatorPause(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
	})
	s.state = StatePaused
	s.stateReason = "pause requested"
	s.connDown = true

	s.safetyCheck()
	state, _ := s.State()
	assert.Equal(t, StatePaused, state)
}

func TestLifecycleStartStop(t *testing.T) {
	cfg := fastConfig(ModePaper)
	cfg.SafetyInterval = 10 * time.Millisecond

	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	s := newTestSupervisor(t, cfg, Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.2)}},
		Executor:   &fakeExecutor{},
	})

	require.NoError(t, s.Start(context.Background()))
	state, _ := s.State()
	assert.Equal(t, StateRunning, state)

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	state, _ = s.State()
	assert.Equal(t, StateStopped, state)
	assert.Greater(t, s.Stats().TotalCycles, int64(0))
}

func TestStartFailsWhenDataUnavailable(t *testing.T) {
	data := &fakeData{err: errors.New("connection refused")}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	state, _ := s.State()
	assert.Equal(t, StateError, state)
}

func TestStartFailsWhenBalanceBelowMinimum(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fundedExecutor{fakeExecutor{}, 2500},
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balance")
	state, _ := s.State()
	assert.Equal(t, StateError, state)
}

func TestManualEmergencyStop(t *testing.T) {
	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	s := newTestSupervisor(t, fastConfig(ModePaper), Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   &fakeExecutor{},
	})
	s.state = StateRunning

	var events []EventType
	s.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	require.NoError(t, s.EmergencyStop("operator requested halt"))
	state, reason := s.State()
	assert.Equal(t, StateEmergencyStop, state)
	assert.Equal(t, "operator requested halt", reason)
	assert.Contains(t, events, EventStateChange)
	assert.Contains(t, events, EventEmergencyStop)

	// Only a full stop leaves the emergency state.
	assert.Error(t, s.Resume())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	state, _ = s.State()
	assert.Equal(t, StateStopped, state)
}

func TestPositionNotionalCap(t *testing.T) {
	cfg := fastConfig(ModePaper)
	cfg.Limits.MaxPositionSizePct = 0.01 // $100 notional on a $10k floor
	cfg.BaseQuantity = 50

	data := &fakeData{mc: domain.MarketContext{Bars: trendBars(100), SessionOpen: true}}
	var gotQty, gotPrice float64
	exec := &executorFunc{fn: func(_ context.Context, _ domain.TradeSignal, price, qty float64) (domain.ExecutionResult, error) {
		gotPrice, gotQty = price, qty
		return domain.ExecutionResult{Success: true, OrderID: "o1", FillPrice: price, Quantity: qty, PnL: 1}, nil
	}}
	s := newTestSupervisor(t, cfg, Deps{
		Data:       data,
		Generators: []SignalGenerator{&fakeGenerator{name: "momentum", signals: buySignals(0.9)}},
		Executor:   exec,
	})
	s.state = StateRunning

	s.runCycle(context.Background())

	require.Greater(t, gotPrice, 0.0)
	assert.InDelta(t, 100.0, gotQty*gotPrice, 1e-6)
}

type executorFunc struct {
	fn func(context.Context, domain.TradeSignal, float64, float64) (domain.ExecutionResult, error)
}

func (e *executorFunc) Execute(ctx context.Context, sig domain.TradeSignal, price, qty float64) (domain.ExecutionResult, error) {
	return e.fn(ctx, sig, price, qty)
}
