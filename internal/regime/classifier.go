// Package regime implements the market regime classifier: statistical
// labelling of current conditions (trending vs. mean-reverting, crossed
// with volatility) and the adaptive decision thresholds derived from the
// label. The classifier keeps a bounded, persisted history of results and
// never lets a computation failure escape: degenerate input degrades to an
// UNCERTAIN classification with neutral scores.
package regime

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepilot/tradepilot/internal/domain"
	"github.com/tradepilot/tradepilot/internal/indicators"
)

// Label is the regime classification bucket
type Label string

const (
	TrendingHighVol      Label = "trending_high_vol"
	TrendingLowVol       Label = "trending_low_vol"
	MeanRevertingHighVol Label = "mean_reverting_high_vol"
	MeanRevertingLowVol  Label = "mean_reverting_low_vol"
	Uncertain            Label = "uncertain"
)

// Classification is the result of one classify call
type Classification struct {
	Label                 Label              `json:"label"`
	Confidence            float64            `json:"confidence"`
	VolatilityPercentile  float64            `json:"volatility_percentile"`
	TrendStrength         float64            `json:"trend_strength"`
	MeanReversionStrength float64            `json:"mean_reversion_strength"`
	Thresholds            AdaptiveThresholds `json:"thresholds"`
	Signals               map[string]float64 `json:"signals,omitempty"`
	Timestamp             time.Time          `json:"timestamp"`
}

// Config holds classifier tuning parameters
type Config struct {
	VolatilityWindow   int            `yaml:"volatility_window"`   // Default: 20
	VolatilityLookback int            `yaml:"volatility_lookback"` // Default: 60
	TrendPeriod        int            `yaml:"trend_period"`        // Default: 14
	PeriodsPerYear     float64        `yaml:"periods_per_year"`    // Default: 252
	TrendingADX        float64        `yaml:"trending_adx"`        // Default: 25
	HighVolPercentile  float64        `yaml:"high_vol_percentile"` // Default: 0.7
	LowVolPercentile   float64        `yaml:"low_vol_percentile"`  // Default: 0.3
	HistoryLimit       int            `yaml:"history_limit"`       // Default: 100
	RetentionDays      int            `yaml:"retention_days"`      // Default: 30
	Base               BaseThresholds `yaml:"base_thresholds"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		VolatilityWindow:   20,
		VolatilityLookback: 60,
		TrendPeriod:        14,
		PeriodsPerYear:     252,
		TrendingADX:        25.0,
		HighVolPercentile:  0.7,
		LowVolPercentile:   0.3,
		HistoryLimit:       100,
		RetentionDays:      30,
		Base:               DefaultBaseThresholds(),
	}
}

// Classifier owns the classification pipeline and its bounded history.
// It is internally synchronized and safe for concurrent callers.
type Classifier struct {
	config  Config
	store   Store
	mu      sync.Mutex
	history []Classification
}

// NewClassifier builds a classifier and reloads persisted history from the
// store, discarding entries outside the retention window. A nil store
// disables persistence.
func NewClassifier(ctx context.Context, cfg Config, store Store) (*Classifier, error) {
	c := &Classifier{config: cfg, store: store}

	if store != nil {
		history, err := store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load regime history: %w", err)
		}
		c.history = c.prune(history, time.Now())
		log.Info().Int("entries", len(c.history)).Msg("Regime history reloaded")
	}

	return c, nil
}

// Classify labels the current market conditions from an OHLCV window.
// It never returns an error: any failure inside the pipeline degrades to
// the neutral UNCERTAIN classification with unmodified base thresholds.
func (c *Classifier) Classify(ctx context.Context, bars []domain.Bar, volumes []float64) Classification {
	result := c.safeClassify(bars, volumes)

	c.mu.Lock()
	c.history = append(c.history, result)
	c.history = c.prune(c.history, result.Timestamp)
	snapshot := append([]Classification(nil), c.history...)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(ctx, snapshot); err != nil {
			// Persistence is best-effort; classification stands.
			log.Warn().Err(err).Msg("Failed to persist regime history")
		}
	}

	return result
}

// safeClassify runs the pipeline under a recover so a panic in the math
// degrades to the neutral default instead of killing the decision loop.
func (c *Classifier) safeClassify(bars []domain.Bar, volumes []float64) (result Classification) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Regime classification panicked, degrading to uncertain")
			result = c.uncertain()
		}
	}()

	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) || b.Close <= 0 {
			continue
		}
		closes = append(closes, b.Close)
	}
	if len(closes) < 2 {
		return c.uncertain()
	}

	// The percentile is ranked against at most VolatilityLookback rolling
	// readings so ancient history cannot pin the distribution.
	volSeries := closes
	if lb := c.config.VolatilityLookback; lb > 0 {
		if bound := lb + c.config.VolatilityWindow; len(volSeries) > bound {
			volSeries = volSeries[len(volSeries)-bound:]
		}
	}
	vol := indicators.CalculateVolatility(volSeries, c.config.VolatilityWindow, c.config.PeriodsPerYear)
	trend := indicators.CalculateTrendStrength(bars, c.config.TrendPeriod)
	hurst := indicators.CalculateHurstExponent(closes)

	volPct := vol.Percentile
	if !vol.IsValid {
		volPct = 0.5
	}
	trendStrength := trend.Normalized
	meanReversion := 1.0 - hurst.Exponent

	highVol := volPct > c.config.HighVolPercentile
	isTrending := trend.IsValid && trend.ADX > c.config.TrendingADX
	isMeanReverting := hurst.Exponent < 0.5

	var label Label
	switch {
	case isTrending && !isMeanReverting:
		label = TrendingLowVol
		if highVol {
			label = TrendingHighVol
		}
	case isMeanReverting && !isTrending:
		label = MeanRevertingLowVol
		if highVol {
			label = MeanRevertingHighVol
		}
	default:
		label = Uncertain
	}

	confidence := clamp01(
		0.3*math.Abs(volPct-0.5)*2 +
			0.4*trendStrength +
			0.3*math.Abs(meanReversion-0.5)*2)

	signals := map[string]float64{
		"annualized_vol": vol.Annualized,
		"adx_raw":        trend.ADX,
		"hurst":          hurst.Exponent,
	}
	if ratio, ok := volumeSurgeRatio(volumes); ok {
		signals["volume_surge_ratio"] = ratio
	}

	return Classification{
		Label:                 label,
		Confidence:            confidence,
		VolatilityPercentile:  volPct,
		TrendStrength:         trendStrength,
		MeanReversionStrength: meanReversion,
		Thresholds:            c.config.Base.Adjust(label, volPct),
		Signals:               signals,
		Timestamp:             time.Now(),
	}
}

// uncertain is the documented degraded result: neutral scores and the
// unmodified base thresholds.
func (c *Classifier) uncertain() Classification {
	return Classification{
		Label:                 Uncertain,
		Confidence:            0.5,
		VolatilityPercentile:  0.5,
		TrendStrength:         0.5,
		MeanReversionStrength: 0.5,
		Thresholds:            c.config.Base.Unmodified(),
		Timestamp:             time.Now(),
	}
}

// Latest returns the most recent classification, if any
func (c *Classifier) Latest() (Classification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Classification{}, false
	}
	return c.history[len(c.history)-1], true
}

// History returns a copy of the retained classification history, oldest
// first
func (c *Classifier) History() []Classification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Classification(nil), c.history...)
}

// prune enforces the history bound: most recent HistoryLimit entries,
// none older than the retention window.
func (c *Classifier) prune(history []Classification, now time.Time) []Classification {
	cutoff := now.AddDate(0, 0, -c.config.RetentionDays)
	kept := history[:0:0]
	for _, entry := range history {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	if limit := c.config.HistoryLimit; limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}

// volumeSurgeRatio compares the most recent volumes against the trailing
// average. Reported as a diagnostic signal only.
func volumeSurgeRatio(volumes []float64) (float64, bool) {
	if len(volumes) < 10 {
		return 0, false
	}
	recent := volumes[len(volumes)-5:]
	prior := volumes[:len(volumes)-5]

	var recentSum, priorSum float64
	for _, v := range recent {
		recentSum += v
	}
	for _, v := range prior {
		priorSum += v
	}
	priorAvg := priorSum / float64(len(prior))
	if priorAvg <= 0 {
		return 0, false
	}
	return (recentSum / float64(len(recent))) / priorAvg, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
