package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/tradepilot/tradepilot/internal/domain"
	"github.com/tradepilot/tradepilot/internal/persistence"
	"github.com/tradepilot/tradepilot/internal/phase"
	"github.com/tradepilot/tradepilot/internal/regime"
)

// decisionLoop ticks at the cadence of the current phase. Each cycle
// returns the interval until the next one, so the loop speeds up and
// slows down as phases change.
func (s *Supervisor) decisionLoop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(s.runCycle(ctx))
	}
}

func (s *Supervisor) runCycle(ctx context.Context) time.Duration {
	now := s.clock().In(s.schedule.Location())
	ph := s.schedule.Current(now)

	if state, _ := s.State(); state != StateRunning {
		return ph.TickInterval
	}

	if s.stats.RollDay(now) {
		s.metrics.DailyPnL.Set(0)
		s.metrics.ConsecutiveLosses.Set(0)
		s.log.Info().Str("day", now.Format("2006-01-02")).Msg("Daily counters reset")
	}

	s.stats.BeginCycle(now, ph.Name)
	timer := s.metrics.StartCycleTimer(ph.Name)

	if ph.IsClosed() && s.cfg.Mode == ModeMarketHours {
		timer.Stop("closed")
		return ph.TickInterval
	}

	mc, err := s.data.Snapshot(ctx, s.cfg.Symbol)
	s.recordConnectivity()
	if err != nil {
		s.stats.RecordError(now, err)
		s.metrics.CycleErrors.WithLabelValues("market_data").Inc()
		s.log.Warn().Err(err).Msg("Market data fetch failed")
		timer.Stop("error")
		return ph.TickInterval
	}

	cls := s.classifier.Classify(ctx, mc.Bars, mc.Volumes)
	s.observeRegime(cls)

	for _, gen := range s.generators {
		if min, ok := s.warmup[gen.Name()]; ok && len(mc.Bars) < min {
			continue
		}
		s.runGenerator(ctx, now, ph, gen, mc, cls)
		if state, _ := s.State(); state != StateRunning {
			timer.Stop("halted")
			return ph.TickInterval
		}
	}

	timer.Stop("ok")
	return ph.TickInterval
}

func (s *Supervisor) runGenerator(ctx context.Context, now time.Time, ph phase.Phase, gen SignalGenerator, mc domain.MarketContext, cls regime.Classification) {
	signals, err := gen.Generate(ctx, mc, cls)
	if err != nil {
		s.stats.RecordError(now, err)
		s.metrics.CycleErrors.WithLabelValues("signal_generation").Inc()
		s.log.Warn().Err(err).Str("generator", gen.Name()).Msg("Signal generation failed")
		return
	}

	for i := range signals {
		sig := signals[i]
		if sig.Action == domain.ActionHold {
			continue
		}
		if sig.Strategy == "" {
			sig.Strategy = gen.Name()
		}

		dec := s.schedule.ShouldTrade(ph, sig.Strategy, sig.Confidence, s.stats.CurrentTradesInPhase(ph.Name))
		if dec.Admitted && sig.Confidence < cls.Thresholds.MinConfidence {
			dec.Admitted = false
			dec.Reason = fmt.Sprintf("confidence %.2f below regime-adjusted minimum %.2f",
				sig.Confidence, cls.Thresholds.MinConfidence)
		}
		s.metrics.RecordGateDecision(ph.Name, dec.Admitted, dec.Reason)
		s.stats.RecordSignal(dec.Admitted)
		if !dec.Admitted {
			s.log.Debug().
				Str("strategy", sig.Strategy).
				Str("symbol", sig.Symbol).
				Str("reason", dec.Reason).
				Msg("Signal rejected")
			continue
		}

		s.executeApproved(ctx, now, ph, sig, dec.PositionMultiplier*cls.Thresholds.PositionMultiplier, mc, cls)
		if state, _ := s.State(); state != StateRunning {
			return
		}
	}
}

func (s *Supervisor) executeApproved(ctx context.Context, now time.Time, ph phase.Phase, sig domain.TradeSignal, multiplier float64, mc domain.MarketContext, cls regime.Classification) {
	if ok, reason := s.cfg.Limits.CheckBudget(s.stats.Snapshot()); !ok {
		s.metrics.RecordGateDecision(ph.Name, false, reason)
		s.log.Info().Str("symbol", sig.Symbol).Str("reason", reason).Msg("Budget check rejected candidate")
		return
	}

	price := lastClose(mc)
	quantity := s.cfg.BaseQuantity * multiplier
	if price > 0 {
		if maxQty := s.cfg.Limits.MaxPositionNotional() / price; quantity > maxQty {
			quantity = maxQty
		}
	}

	if s.cfg.Mode == ModeAnalysis {
		s.log.Info().
			Str("strategy", sig.Strategy).
			Str("symbol", sig.Symbol).
			Str("action", string(sig.Action)).
			Float64("confidence", sig.Confidence).
			Float64("quantity", quantity).
			Str("regime", string(cls.Label)).
			Msg("Analysis mode: candidate approved, not executed")
		s.publish(Event{
			Type:      EventCandidateLogged,
			Timestamp: now,
			Data: map[string]interface{}{
				"symbol": sig.Symbol, "action": string(sig.Action),
				"confidence": sig.Confidence, "quantity": quantity,
			},
		})
		return
	}

	if s.cfg.Mode == ModeSupervised {
		approveCtx, cancel := context.WithTimeout(ctx, s.cfg.ApprovalTimeout)
		approved := s.approval(approveCtx, sig)
		cancel()
		if !approved {
			s.metrics.RecordGateDecision(ph.Name, false, "approval denied")
			s.log.Info().Str("symbol", sig.Symbol).Msg("Approval hook denied candidate")
			return
		}
	}

	if !s.limiter.Allow() {
		s.metrics.CycleErrors.WithLabelValues("rate_limited").Inc()
		s.log.Warn().Str("symbol", sig.Symbol).Msg("Execution rate limit hit, candidate dropped")
		return
	}

	// Final check: an emergency triggered by the safety loop between
	// admission and here must win.
	if state, _ := s.State(); state != StateRunning {
		s.log.Warn().Str("state", string(state)).Msg("Execution suppressed, supervisor not running")
		return
	}

	res, err := s.executor.Execute(ctx, sig, price, quantity)
	if err != nil {
		s.stats.RecordError(now, err)
		s.metrics.CycleErrors.WithLabelValues("execution").Inc()
		s.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("Execution failed")
		return
	}

	snap := s.stats.RecordTrade(now, res.Success, res.PnL)
	s.metrics.RecordTrade(string(sig.Action), res.Success, res.PnL)
	s.metrics.DailyPnL.Set(snap.DailyPnL)
	s.metrics.ConsecutiveLosses.Set(float64(snap.ConsecutiveLosses))

	s.journalTrade(ctx, now, ph, sig, multiplier, cls, res)
	s.publish(Event{
		Type:      EventTrade,
		Timestamp: now,
		Data: map[string]interface{}{
			"symbol": sig.Symbol, "action": string(sig.Action),
			"success": res.Success, "order_id": res.OrderID,
			"fill_price": res.FillPrice, "quantity": res.Quantity,
			"pnl": res.PnL, "daily_pnl": snap.DailyPnL,
		},
	})

	if ok, reason := s.cfg.Limits.CheckCircuitBreaker(snap); !ok {
		s.triggerEmergency("safety_limits", reason)
	}
}

// lastClose derives the reference price from the most recent bar. An
// empty context yields zero, which the executor rejects.
func lastClose(mc domain.MarketContext) float64 {
	if len(mc.Bars) == 0 {
		return 0
	}
	return mc.Bars[len(mc.Bars)-1].Close
}

func (s *Supervisor) journalTrade(ctx context.Context, now time.Time, ph phase.Phase, sig domain.TradeSignal, multiplier float64, cls regime.Classification, res domain.ExecutionResult) {
	if s.journal == nil {
		return
	}
	record := persistence.TradeRecord{
		SessionID:          s.cfg.SessionID,
		Timestamp:          now,
		Symbol:             sig.Symbol,
		Action:             string(sig.Action),
		Strategy:           sig.Strategy,
		Confidence:         sig.Confidence,
		PositionMultiplier: multiplier,
		Regime:             string(cls.Label),
		Phase:              ph.Name,
		PnL:                res.PnL,
		Success:            res.Success,
	}
	if res.OrderID != "" {
		record.OrderID = &res.OrderID
	}
	if res.Success {
		record.FillPrice = &res.FillPrice
		record.Quantity = &res.Quantity
	}
	if res.Error != "" {
		record.Error = &res.Error
	}
	if err := s.journal.Insert(ctx, record); err != nil {
		// Journaling is best-effort and never blocks trading.
		s.log.Warn().Err(err).Msg("Trade journal write failed")
	}
}

// safetyLoop runs the circuit-breaker, liveness, and connectivity checks
// on a fixed interval regardless of what the decision loop is doing.
func (s *Supervisor) safetyLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SafetyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safetyCheck()
		}
	}
}

func (s *Supervisor) safetyCheck() {
	s.stats.MarkSafetyCheck(s.clock())
	state, _ := s.State()
	if state != StateRunning && state != StatePaused {
		s.metrics.SafetyChecks.WithLabelValues("skipped").Inc()
		return
	}

	snap := s.stats.Snapshot()
	if ok, reason := s.cfg.Limits.CheckCircuitBreaker(snap); !ok {
		s.metrics.SafetyChecks.WithLabelValues("violation").Inc()
		s.triggerEmergency("safety_limits", reason)
		return
	}

	if state == StateRunning && !snap.LastDecisionAt.IsZero() {
		if stale := s.clock().Sub(snap.LastDecisionAt); stale > s.cfg.LivenessTimeout {
			s.metrics.SafetyChecks.WithLabelValues("stalled").Inc()
			s.log.Error().Dur("stale", stale).Msg("Decision loop stalled")
			s.notifier.Notify("Decision loop stalled",
				fmt.Sprintf("no decision cycle for %s", stale.Round(time.Second)),
				PriorityWarning, s.clock())
			s.transition(StateError, fmt.Sprintf("decision loop stalled for %s", stale.Round(time.Second)))
			return
		}
	}

	s.checkConnectivity(state)
	s.metrics.SafetyChecks.WithLabelValues("ok").Inc()
}

// dataOutageReason marks a pause the supervisor imposed itself, so the
// connectivity check knows it may lift it again. Operator pauses carry a
// different reason and are never auto-resumed.
const dataOutageReason = "market data circuit open"

func (s *Supervisor) recordConnectivity() {
	if s.data.Healthy() {
		s.metrics.ConnectivityState.Set(1)
	} else {
		s.metrics.ConnectivityState.Set(0)
	}
}

func (s *Supervisor) checkConnectivity(state SystemState) {
	healthy := s.data.Healthy()
	s.mu.Lock()
	wasDown := s.connDown
	s.connDown = !healthy
	s.mu.Unlock()

	if healthy {
		s.metrics.ConnectivityState.Set(1)
		if wasDown {
			s.log.Info().Msg("Market data connectivity restored")
			s.notifier.Notify("Market data restored",
				"circuit closed, fetches succeeding again", PriorityInfo, s.clock())
			if st, reason := s.State(); st == StatePaused && reason == dataOutageReason {
				s.transition(StateRunning, "market data restored")
			}
		}
		return
	}

	s.metrics.ConnectivityState.Set(0)
	if wasDown {
		return
	}
	s.log.Warn().Msg("Market data circuit open, pausing decisions")
	s.notifier.Notify("Market data outage",
		"consecutive fetch failures opened the circuit", PriorityWarning, s.clock())
	if state == StateRunning {
		s.transition(StatePaused, dataOutageReason)
	}
}

func (s *Supervisor) observeRegime(cls regime.Classification) {
	s.metrics.RegimeConfidence.Set(cls.Confidence)
	s.mu.Lock()
	prev := s.lastRegime
	s.lastRegime = cls.Label
	s.mu.Unlock()
	if prev == cls.Label {
		return
	}
	s.metrics.RecordRegimeSwitch(string(prev), string(cls.Label), regimeLabels())
	if prev != "" {
		s.log.Info().
			Str("from", string(prev)).
			Str("to", string(cls.Label)).
			Float64("confidence", cls.Confidence).
			Msg("Regime switch")
		s.publish(Event{
			Type:      EventRegimeSwitch,
			Timestamp: s.clock(),
			Data: map[string]interface{}{
				"from": string(prev), "to": string(cls.Label),
				"confidence": cls.Confidence,
			},
		})
	}
}

func regimeLabels() []string {
	return []string{
		string(regime.TrendingHighVol),
		string(regime.TrendingLowVol),
		string(regime.MeanRevertingHighVol),
		string(regime.MeanRevertingLowVol),
		string(regime.Uncertain),
	}
}
