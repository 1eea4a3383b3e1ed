// Package supervisor runs the control loop pair that turns strategy
// signals into (possibly simulated) executions: a decision loop ticking at
// the cadence of the current trading phase, and a safety loop enforcing
// loss limits, liveness, and connectivity independently of it.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tradepilot/tradepilot/internal/domain"
	"github.com/tradepilot/tradepilot/internal/persistence"
	"github.com/tradepilot/tradepilot/internal/phase"
	"github.com/tradepilot/tradepilot/internal/regime"
	"github.com/tradepilot/tradepilot/internal/telemetry"
)

// SignalGenerator produces candidate signals for one decision cycle. The
// classification carries the regime-adjusted thresholds the generator
// should evaluate against. An empty result is valid.
type SignalGenerator interface {
	Name() string
	Generate(ctx context.Context, mc domain.MarketContext, cls regime.Classification) ([]domain.TradeSignal, error)
}

// WarmupAware is an optional SignalGenerator capability: generators that
// need a minimum bar history declare it and are skipped until it is
// available. The capability is checked once at construction.
type WarmupAware interface {
	WarmupBars() int
}

// Executor places approved orders
type Executor interface {
	Execute(ctx context.Context, signal domain.TradeSignal, price, quantity float64) (domain.ExecutionResult, error)
}

// BalanceReporter is an optional Executor capability. Executors that
// report a balance get it checked against MinAccountBalance at startup.
type BalanceReporter interface {
	Balance() float64
}

// ApprovalFunc is consulted per candidate in supervised mode. It may block
// up to the configured approval timeout.
type ApprovalFunc func(ctx context.Context, sig domain.TradeSignal) bool

// Priority classifies operator notifications
type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
)

// Notifier delivers fire-and-forget operator notifications. Failures are
// the implementation's problem; the supervisor never waits on delivery.
type Notifier interface {
	Notify(title, message string, priority Priority, ts time.Time)
}

type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Notify(title, message string, priority Priority, ts time.Time) {
	n.log.Info().
		Str("title", title).
		Str("priority", string(priority)).
		Time("at", ts).
		Msg(message)
}

// EventType tags the events published to subscribers
type EventType string

const (
	EventStateChange     EventType = "state_change"
	EventTrade           EventType = "trade"
	EventCandidateLogged EventType = "candidate_logged"
	EventRegimeSwitch    EventType = "regime_switch"
	EventEmergencyStop   EventType = "emergency_stop"
)

// Event is one observable supervisor occurrence
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Config tunes the supervisor
type Config struct {
	SessionID           string         `yaml:"session_id"`
	Symbol              string         `yaml:"symbol"`
	Mode                AutomationMode `yaml:"mode"`
	Limits              SafetyLimits   `yaml:"limits"`
	Breaker             BreakerConfig  `yaml:"breaker"`
	SafetyInterval      time.Duration  `yaml:"safety_interval"`       // Default: 30s
	LivenessTimeout     time.Duration  `yaml:"liveness_timeout"`      // Default: 5m
	ApprovalTimeout     time.Duration  `yaml:"approval_timeout"`      // Default: 30s
	ExecutionsPerMinute float64        `yaml:"executions_per_minute"` // Default: 10
	ExecutionBurst      int            `yaml:"execution_burst"`       // Default: 2
	BaseQuantity        float64        `yaml:"base_quantity"`         // Default: 10
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Symbol:              "SPY",
		Mode:                ModeAnalysis,
		Limits:              DefaultSafetyLimits(),
		Breaker:             DefaultBreakerConfig(),
		SafetyInterval:      30 * time.Second,
		LivenessTimeout:     5 * time.Minute,
		ApprovalTimeout:     30 * time.Second,
		ExecutionsPerMinute: 10,
		ExecutionBurst:      2,
		BaseQuantity:        10,
	}
}

// Deps are the supervisor's collaborators. Journal, Metrics, and Notifier
// are optional; Approval is required only in supervised mode.
type Deps struct {
	Schedule   *phase.Schedule
	Classifier *regime.Classifier
	Data       DataSource
	Generators []SignalGenerator
	Executor   Executor
	Approval   ApprovalFunc
	Journal    persistence.TradesRepo
	Notifier   Notifier
	Metrics    *telemetry.Metrics
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Supervisor owns the session lifecycle and the two control loops
type Supervisor struct {
	cfg        Config
	schedule   *phase.Schedule
	classifier *regime.Classifier
	data       *guardedSource
	generators []SignalGenerator
	warmup     map[string]int
	executor   Executor
	approval   ApprovalFunc
	journal    persistence.TradesRepo
	notifier   Notifier
	metrics    *telemetry.Metrics
	log        zerolog.Logger
	clock      func() time.Time

	mu          sync.Mutex
	state       SystemState
	stateReason string
	listeners   []func(Event)
	lastRegime  regime.Label
	connDown    bool

	stats   *statsTracker
	limiter *rate.Limiter
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates configuration and wires the supervisor. It does not start
// any loops.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	if deps.Schedule == nil {
		return nil, fmt.Errorf("schedule is required")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if deps.Data == nil {
		return nil, fmt.Errorf("data source is required")
	}
	if len(deps.Generators) == 0 {
		return nil, fmt.Errorf("at least one signal generator is required")
	}
	mode, err := ParseAutomationMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	if mode != ModeAnalysis && deps.Executor == nil {
		return nil, fmt.Errorf("executor is required in %s mode", mode)
	}
	if mode == ModeSupervised && deps.Approval == nil {
		return nil, fmt.Errorf("supervised mode requires an approval hook")
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety limits: %w", err)
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.SafetyInterval <= 0 {
		cfg.SafetyInterval = 30 * time.Second
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 5 * time.Minute
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 30 * time.Second
	}
	if cfg.ExecutionsPerMinute <= 0 {
		cfg.ExecutionsPerMinute = 10
	}
	if cfg.ExecutionBurst <= 0 {
		cfg.ExecutionBurst = 2
	}
	if cfg.BaseQuantity <= 0 {
		cfg.BaseQuantity = 10
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker = DefaultBreakerConfig()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics()
	}

	logger := deps.Logger.With().
		Str("component", "supervisor").
		Str("session_id", cfg.SessionID).
		Logger()

	if deps.Notifier == nil {
		deps.Notifier = logNotifier{log: logger}
	}

	warmup := make(map[string]int, len(deps.Generators))
	for _, gen := range deps.Generators {
		if wa, ok := gen.(WarmupAware); ok {
			warmup[gen.Name()] = wa.WarmupBars()
		}
	}

	s := &Supervisor{
		cfg:        cfg,
		schedule:   deps.Schedule,
		classifier: deps.Classifier,
		data:       newGuardedSource(deps.Data, cfg.Breaker, logger),
		generators: deps.Generators,
		warmup:     warmup,
		executor:   deps.Executor,
		approval:   deps.Approval,
		journal:    deps.Journal,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		log:        logger,
		clock:      deps.Clock,
		state:      StateStopped,
		stats:      newStatsTracker(deps.Clock()),
		limiter:    rate.NewLimiter(rate.Limit(cfg.ExecutionsPerMinute/60.0), cfg.ExecutionBurst),
	}
	s.metrics.RecordSystemState(string(StateStopped), AllStates())
	return s, nil
}

// SessionID returns the identifier trades are journaled under
func (s *Supervisor) SessionID() string {
	return s.cfg.SessionID
}

// Mode returns the configured automation mode
func (s *Supervisor) Mode() AutomationMode {
	return s.cfg.Mode
}

// State returns the current lifecycle state and the reason for the last
// transition
func (s *Supervisor) State() (SystemState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateReason
}

// Stats returns a snapshot of the operational counters
func (s *Supervisor) Stats() Statistics {
	return s.stats.Snapshot()
}

// Healthy reports whether the market data breaker is closed
func (s *Supervisor) Healthy() bool {
	return s.data.Healthy()
}

// Subscribe registers an event listener. Listeners must not block; they
// run on supervisor goroutines.
func (s *Supervisor) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start runs startup checks and launches the decision and safety loops
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.transition(StateStarting, "start requested"); err != nil {
		return err
	}

	if _, err := s.data.Snapshot(ctx, s.cfg.Symbol); err != nil {
		s.transition(StateError, fmt.Sprintf("startup connectivity check failed: %v", err))
		return fmt.Errorf("startup connectivity check failed: %w", err)
	}

	if br, ok := s.executor.(BalanceReporter); ok {
		if bal := br.Balance(); bal < s.cfg.Limits.MinAccountBalance {
			reason := fmt.Sprintf("startup balance check failed: %.2f below minimum %.2f", bal, s.cfg.Limits.MinAccountBalance)
			s.transition(StateError, reason)
			return fmt.Errorf("%s", reason)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.decisionLoop(loopCtx)
	go s.safetyLoop(loopCtx)

	if err := s.transition(StateRunning, "startup checks passed"); err != nil {
		cancel()
		return err
	}
	s.log.Info().
		Str("symbol", s.cfg.Symbol).
		Str("mode", string(s.cfg.Mode)).
		Int("generators", len(s.generators)).
		Msg("Supervisor started")
	return nil
}

// Stop halts both loops and waits for them to exit
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateEmergencyStop || s.state == StateError {
		// Terminal states go straight to stopped once the loops are down.
		s.mu.Unlock()
		s.haltLoops(ctx)
		return s.transition(StateStopped, "stopped from "+string(s.state))
	}
	s.mu.Unlock()

	if err := s.transition(StateStopping, "stop requested"); err != nil {
		return err
	}
	s.haltLoops(ctx)
	return s.transition(StateStopped, "loops drained")
}

func (s *Supervisor) haltLoops(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("Timed out waiting for loops to drain")
	}
}

// Pause suspends trading decisions while keeping both loops and all
// statistics intact
func (s *Supervisor) Pause() error {
	return s.transition(StatePaused, "pause requested")
}

// Resume continues trading after a pause
func (s *Supervisor) Resume() error {
	return s.transition(StateRunning, "resume requested")
}

// EmergencyStop halts all trading immediately, bypassing the graceful
// drain. The session ends: only Stop, which completes the transition to
// Stopped, is valid afterwards.
func (s *Supervisor) EmergencyStop(reason string) error {
	return s.triggerEmergency("manual", reason)
}

func (s *Supervisor) triggerEmergency(trigger, reason string) error {
	if err := s.transition(StateEmergencyStop, reason); err != nil {
		return err
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.metrics.EmergencyStops.WithLabelValues(trigger).Inc()
	s.log.Error().
		Str("trigger", trigger).
		Str("reason", reason).
		Msg("EMERGENCY STOP")
	s.notifier.Notify("Emergency stop", reason, PriorityCritical, s.clock())
	s.publish(Event{
		Type:      EventEmergencyStop,
		Timestamp: s.clock(),
		Data:      map[string]interface{}{"trigger": trigger, "reason": reason},
	})
	return nil
}

func (s *Supervisor) transition(to SystemState, reason string) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	s.state = to
	s.stateReason = reason
	s.mu.Unlock()

	s.metrics.RecordSystemState(string(to), AllStates())
	s.log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("State transition")
	s.publish(Event{
		Type:      EventStateChange,
		Timestamp: s.clock(),
		Data: map[string]interface{}{
			"from": string(from), "to": string(to), "reason": reason,
		},
	})
	return nil
}

func (s *Supervisor) publish(ev Event) {
	s.mu.Lock()
	listeners := make([]func(Event), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
