// Package signals ships two reference signal generators for the control
// loop: a momentum breakout generator and an RSI mean-reversion generator.
// Both consume the regime-adjusted thresholds of the current cycle, so the
// same configuration trades tighter or looser as conditions change.
package signals

import (
	"context"

	"github.com/tradepilot/tradepilot/internal/domain"
	"github.com/tradepilot/tradepilot/internal/indicators"
	"github.com/tradepilot/tradepilot/internal/regime"
)

// MomentumConfig tunes the breakout generator
type MomentumConfig struct {
	Symbol         string  `yaml:"symbol"`
	LookbackBars   int     `yaml:"lookback_bars"`   // Default: 20
	BreakoutMargin float64 `yaml:"breakout_margin"` // Default: 0.001
}

// Momentum signals a buy when the last close breaks above the trailing
// high on elevated volume, and a sell on a breakdown through the trailing
// low. Confidence scales with how decisive the break is.
type Momentum struct {
	cfg MomentumConfig
}

// NewMomentum creates a breakout generator
func NewMomentum(cfg MomentumConfig) *Momentum {
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 20
	}
	if cfg.BreakoutMargin <= 0 {
		cfg.BreakoutMargin = 0.001
	}
	return &Momentum{cfg: cfg}
}

func (m *Momentum) Name() string { return "momentum" }

// WarmupBars declares the history needed before the generator runs
func (m *Momentum) WarmupBars() int { return m.cfg.LookbackBars + 1 }

func (m *Momentum) Generate(_ context.Context, mc domain.MarketContext, cls regime.Classification) ([]domain.TradeSignal, error) {
	n := len(mc.Bars)
	if n < m.cfg.LookbackBars+1 {
		return nil, nil
	}
	window := mc.Bars[n-1-m.cfg.LookbackBars : n-1]
	last := mc.Bars[n-1]

	high, low := window[0].High, window[0].Low
	var avgVolume float64
	for _, b := range window {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
		avgVolume += b.Volume
	}
	avgVolume /= float64(len(window))

	volumeOK := avgVolume > 0 && last.Volume >= avgVolume*cls.Thresholds.VolumeSpikeMin

	var action domain.SignalAction
	var margin float64
	switch {
	case last.Close > high*(1+m.cfg.BreakoutMargin):
		action = domain.ActionBuy
		margin = last.Close/high - 1
	case last.Close < low*(1-m.cfg.BreakoutMargin):
		action = domain.ActionSell
		margin = 1 - last.Close/low
	default:
		return nil, nil
	}
	if !volumeOK {
		return nil, nil
	}

	// A 1% break maps to full confidence on top of a 0.6 base.
	confidence := 0.6 + margin*40
	if confidence > 1 {
		confidence = 1
	}

	return []domain.TradeSignal{{
		Symbol:     m.cfg.Symbol,
		Action:     action,
		Confidence: confidence,
		Strategy:   m.Name(),
		Reasoning:  "range break on volume surge",
		Timestamp:  mc.Timestamp,
	}}, nil
}

// MeanReversionConfig tunes the RSI generator
type MeanReversionConfig struct {
	Symbol    string `yaml:"symbol"`
	RSIPeriod int    `yaml:"rsi_period"` // Default: 14
}

// MeanReversion signals against RSI extremes using the regime-adjusted
// oversold/overbought bands, so the bands widen in trending regimes and
// tighten in mean-reverting ones.
type MeanReversion struct {
	cfg MeanReversionConfig
}

// NewMeanReversion creates an RSI reversal generator
func NewMeanReversion(cfg MeanReversionConfig) *MeanReversion {
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	return &MeanReversion{cfg: cfg}
}

func (m *MeanReversion) Name() string { return "mean_reversion" }

// WarmupBars declares the history needed before the generator runs
func (m *MeanReversion) WarmupBars() int { return m.cfg.RSIPeriod * 3 }

func (m *MeanReversion) Generate(_ context.Context, mc domain.MarketContext, cls regime.Classification) ([]domain.TradeSignal, error) {
	closes := make([]float64, len(mc.Bars))
	for i, b := range mc.Bars {
		closes[i] = b.Close
	}
	rsi := indicators.CalculateRSI(closes, m.cfg.RSIPeriod)
	if !rsi.IsValid {
		return nil, nil
	}

	var action domain.SignalAction
	var depth float64
	switch {
	case rsi.Value <= cls.Thresholds.Oversold:
		action = domain.ActionBuy
		depth = cls.Thresholds.Oversold - rsi.Value
	case rsi.Value >= cls.Thresholds.Overbought:
		action = domain.ActionSell
		depth = rsi.Value - cls.Thresholds.Overbought
	default:
		return nil, nil
	}

	// Ten RSI points past the band maps to full confidence.
	confidence := 0.6 + depth/25
	if confidence > 1 {
		confidence = 1
	}

	return []domain.TradeSignal{{
		Symbol:     m.cfg.Symbol,
		Action:     action,
		Confidence: confidence,
		Strategy:   m.Name(),
		Reasoning:  "rsi reversal at regime-adjusted band",
		Timestamp:  mc.Timestamp,
	}}, nil
}
