package phase

import (
	"fmt"
	"time"
)

// AdmissionDecision is the outcome of the phase-rule check for one
// candidate trade
type AdmissionDecision struct {
	Admitted           bool    `json:"admitted"`
	Reason             string  `json:"reason"`
	Phase              string  `json:"phase"`
	RiskLevel          string  `json:"risk_level"`
	PositionMultiplier float64 `json:"position_multiplier"`
}

// ShouldTradeNow resolves the phase containing now and applies its rules
func (s *Schedule) ShouldTradeNow(now time.Time, strategy string, confidence float64, tradesInPhase int) AdmissionDecision {
	return s.ShouldTrade(s.Current(now), strategy, confidence, tradesInPhase)
}

// ShouldTrade applies one phase's rules to a candidate and returns the
// first failing check, in fixed order: closed market, strategy allow-list,
// confidence floor, per-phase trade budget.
func (s *Schedule) ShouldTrade(p Phase, strategy string, confidence float64, tradesInPhase int) AdmissionDecision {
	decision := AdmissionDecision{
		Phase:              p.Name,
		RiskLevel:          p.RiskLevel,
		PositionMultiplier: p.PositionMultiplier,
	}

	if p.IsClosed() {
		decision.Reason = "market closed: no phase covers the current time"
		return decision
	}

	if _, ok := p.Allowed[strategy]; !ok {
		decision.Reason = fmt.Sprintf("strategy %q not allowed in phase %q", strategy, p.Name)
		return decision
	}

	if confidence < p.MinConfidence {
		decision.Reason = fmt.Sprintf("confidence %.2f below phase minimum %.2f", confidence, p.MinConfidence)
		return decision
	}

	if tradesInPhase >= p.MaxTrades {
		decision.Reason = fmt.Sprintf("phase trade budget exhausted (%d/%d)", tradesInPhase, p.MaxTrades)
		return decision
	}

	decision.Admitted = true
	decision.Reason = "admitted"
	return decision
}
