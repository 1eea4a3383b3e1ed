// Package marketdata provides market snapshot sources for the control
// core. The simulated source drives paper and analysis sessions without
// a venue connection.
package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradepilot/tradepilot/internal/domain"
)

// SimulatedConfig tunes the random-walk bar generator
type SimulatedConfig struct {
	StartPrice  float64       `yaml:"start_price"`  // Default: 100
	DriftBps    float64       `yaml:"drift_bps"`    // Per-bar drift, basis points
	VolBps      float64       `yaml:"vol_bps"`      // Per-bar volatility, basis points. Default: 20
	BaseVolume  float64       `yaml:"base_volume"`  // Default: 10000
	BarInterval time.Duration `yaml:"bar_interval"` // Default: 1m
	HistoryBars int           `yaml:"history_bars"` // Default: 120
	Seed        int64         `yaml:"seed"`         // 0 means time-seeded
}

// DefaultSimulatedConfig returns a mildly volatile sideways market
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		StartPrice:  100,
		DriftBps:    0,
		VolBps:      20,
		BaseVolume:  10000,
		BarInterval: time.Minute,
		HistoryBars: 120,
		Seed:        0,
	}
}

// Simulated produces a geometric random walk, one new bar per elapsed
// bar interval. With a fixed Seed the walk is reproducible.
type Simulated struct {
	mu      sync.Mutex
	cfg     SimulatedConfig
	rng     *rand.Rand
	clock   func() time.Time
	bars    []domain.Bar
	lastBar time.Time
	log     zerolog.Logger
}

// NewSimulated seeds the generator and pre-fills the full history window
func NewSimulated(cfg SimulatedConfig, log zerolog.Logger) *Simulated {
	return newSimulated(cfg, log, time.Now)
}

func newSimulated(cfg SimulatedConfig, log zerolog.Logger, clock func() time.Time) *Simulated {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulated{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		clock: clock,
		log:   log.With().Str("component", "simulated_data").Logger(),
	}

	now := clock().Truncate(cfg.BarInterval)
	start := now.Add(-time.Duration(cfg.HistoryBars) * cfg.BarInterval)
	price := cfg.StartPrice
	for ts := start; ts.Before(now); ts = ts.Add(cfg.BarInterval) {
		bar := s.nextBar(ts, price)
		price = bar.Close
		s.bars = append(s.bars, bar)
	}
	s.lastBar = now.Add(-cfg.BarInterval)
	return s
}

// Snapshot appends any bars due since the last call and returns the
// rolling window. It never fails; the error return satisfies the
// data-source contract.
func (s *Simulated) Snapshot(_ context.Context, _ string) (domain.MarketContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().Truncate(s.cfg.BarInterval)
	for ts := s.lastBar.Add(s.cfg.BarInterval); !ts.After(now); ts = ts.Add(s.cfg.BarInterval) {
		bar := s.nextBar(ts, s.bars[len(s.bars)-1].Close)
		s.bars = append(s.bars, bar)
		s.lastBar = ts
	}
	if excess := len(s.bars) - s.cfg.HistoryBars; excess > 0 {
		s.bars = s.bars[excess:]
	}

	out := make([]domain.Bar, len(s.bars))
	copy(out, s.bars)
	volumes := make([]float64, len(out))
	for i, b := range out {
		volumes[i] = b.Volume
	}
	return domain.MarketContext{
		Timestamp:   s.clock(),
		SessionOpen: true,
		Bars:        out,
		Volumes:     volumes,
	}, nil
}

func (s *Simulated) nextBar(ts time.Time, prev float64) domain.Bar {
	drift := s.cfg.DriftBps / 10000
	vol := s.cfg.VolBps / 10000
	ret := drift + vol*s.rng.NormFloat64()

	open := prev
	closing := open * math.Exp(ret)
	high := math.Max(open, closing) * (1 + vol*math.Abs(s.rng.NormFloat64())/2)
	low := math.Min(open, closing) * (1 - vol*math.Abs(s.rng.NormFloat64())/2)
	volume := s.cfg.BaseVolume * (0.5 + s.rng.Float64())

	return domain.Bar{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closing,
		Volume:    volume,
	}
}
