// Package telemetry holds the Prometheus metrics surface of the control core
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for TradePilot
type Metrics struct {
	registry *prometheus.Registry

	// Decision cycle metrics
	CycleDuration *prometheus.HistogramVec
	Cycles        *prometheus.CounterVec
	CycleErrors   *prometheus.CounterVec

	// Admission gate metrics
	GateDecisions *prometheus.CounterVec

	// Execution metrics
	TradesExecuted *prometheus.CounterVec
	TradePnL       prometheus.Histogram
	DailyPnL       prometheus.Gauge

	// Regime metrics
	RegimeSwitches   *prometheus.CounterVec
	RegimeConfidence prometheus.Gauge
	ActiveRegime     *prometheus.GaugeVec

	// Supervisor metrics
	SystemState       *prometheus.GaugeVec
	EmergencyStops    *prometheus.CounterVec
	ConsecutiveLosses prometheus.Gauge
	SafetyChecks      *prometheus.CounterVec
	ConnectivityState prometheus.Gauge
}

// NewMetrics creates a registry with all TradePilot metrics registered
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepilot_cycle_duration_seconds",
				Help:    "Duration of each decision cycle in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"phase", "result"},
		),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_cycles_total",
				Help: "Total number of decision cycles by outcome",
			},
			[]string{"phase", "outcome"},
		),

		CycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_cycle_errors_total",
				Help: "Total number of decision cycle errors by type",
			},
			[]string{"error_type"},
		),

		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_gate_decisions_total",
				Help: "Total admission gate decisions by phase and reason",
			},
			[]string{"phase", "admitted", "reason"},
		),

		TradesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_trades_total",
				Help: "Total trades executed by action and success",
			},
			[]string{"action", "success"},
		),

		TradePnL: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradepilot_trade_pnl",
				Help:    "Per-trade realized PnL",
				Buckets: []float64{-1000, -500, -250, -100, -50, -10, 0, 10, 50, 100, 250, 500, 1000},
			},
		),

		DailyPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepilot_daily_pnl",
				Help: "Cumulative realized PnL for the current trading day",
			},
		),

		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_regime_switches_total",
				Help: "Total regime switches by from/to label",
			},
			[]string{"from_regime", "to_regime"},
		),

		RegimeConfidence: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepilot_regime_confidence",
				Help: "Confidence of the latest regime classification (0.0 to 1.0)",
			},
		),

		ActiveRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepilot_active_regime",
				Help: "Active regime label, 1 for the current label and 0 otherwise",
			},
			[]string{"regime"},
		),

		SystemState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepilot_system_state",
				Help: "Supervisor state, 1 for the current state and 0 otherwise",
			},
			[]string{"state"},
		),

		EmergencyStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_emergency_stops_total",
				Help: "Total emergency stops by trigger",
			},
			[]string{"trigger"},
		),

		ConsecutiveLosses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepilot_consecutive_losses",
				Help: "Current consecutive losing trade count",
			},
		),

		SafetyChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_safety_checks_total",
				Help: "Total safety loop checks by result",
			},
			[]string{"result"},
		),

		ConnectivityState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepilot_connectivity_up",
				Help: "Market data connectivity, 1 when the breaker is closed",
			},
		),
	}

	m.registry.MustRegister(
		m.CycleDuration,
		m.Cycles,
		m.CycleErrors,
		m.GateDecisions,
		m.TradesExecuted,
		m.TradePnL,
		m.DailyPnL,
		m.RegimeSwitches,
		m.RegimeConfidence,
		m.ActiveRegime,
		m.SystemState,
		m.EmergencyStops,
		m.ConsecutiveLosses,
		m.SafetyChecks,
		m.ConnectivityState,
	)

	return m
}

// Registry exposes the underlying registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CycleTimer tracks execution time of one decision cycle
type CycleTimer struct {
	metrics *Metrics
	phase   string
	start   time.Time
}

// StartCycleTimer begins timing a decision cycle
func (m *Metrics) StartCycleTimer(phase string) *CycleTimer {
	return &CycleTimer{metrics: m, phase: phase, start: time.Now()}
}

// Stop completes the cycle timing and records the metric
func (t *CycleTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.metrics.CycleDuration.WithLabelValues(t.phase, result).Observe(duration.Seconds())
	t.metrics.Cycles.WithLabelValues(t.phase, result).Inc()

	log.Debug().
		Str("phase", t.phase).
		Str("result", result).
		Dur("duration", duration).
		Msg("Decision cycle completed")
}

// RecordGateDecision records an admission gate outcome
func (m *Metrics) RecordGateDecision(phase string, admitted bool, reason string) {
	admittedLabel := "false"
	if admitted {
		admittedLabel = "true"
	}
	m.GateDecisions.WithLabelValues(phase, admittedLabel, reason).Inc()
}

// RecordTrade records one execution result
func (m *Metrics) RecordTrade(action string, success bool, pnl float64) {
	successLabel := "false"
	if success {
		successLabel = "true"
	}
	m.TradesExecuted.WithLabelValues(action, successLabel).Inc()
	if success {
		m.TradePnL.Observe(pnl)
	}
}

// RecordRegimeSwitch records a transition between regime labels and moves
// the active-regime gauge to the new label
func (m *Metrics) RecordRegimeSwitch(from, to string, labels []string) {
	if from != to && from != "" {
		m.RegimeSwitches.WithLabelValues(from, to).Inc()
	}
	for _, label := range labels {
		v := 0.0
		if label == to {
			v = 1.0
		}
		m.ActiveRegime.WithLabelValues(label).Set(v)
	}
}

// RecordSystemState moves the state gauge to the given state
func (m *Metrics) RecordSystemState(state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.SystemState.WithLabelValues(s).Set(v)
	}
}
