package regime

// BaseThresholds are the configured starting values the per-regime
// adjustment table is applied to
type BaseThresholds struct {
	MinConfidence  float64 `yaml:"min_confidence"`   // Default: 0.6
	Oversold       float64 `yaml:"oversold"`         // Default: 30
	Overbought     float64 `yaml:"overbought"`       // Default: 70
	VolumeSpikeMin float64 `yaml:"volume_spike_min"` // Default: 2.0
}

// DefaultBaseThresholds returns conventional starting values
func DefaultBaseThresholds() BaseThresholds {
	return BaseThresholds{
		MinConfidence:  0.6,
		Oversold:       30,
		Overbought:     70,
		VolumeSpikeMin: 2.0,
	}
}

// AdaptiveThresholds are the regime-adjusted decision thresholds handed to
// the signal pipeline alongside each classification
type AdaptiveThresholds struct {
	MinConfidence      float64 `json:"min_confidence"`
	Oversold           float64 `json:"oversold"`
	Overbought         float64 `json:"overbought"`
	VolumeSpikeMin     float64 `json:"volume_spike_min"`
	PositionMultiplier float64 `json:"position_multiplier"`
}

// Unmodified returns the base values with a neutral position multiplier,
// used for the degraded UNCERTAIN default.
func (b BaseThresholds) Unmodified() AdaptiveThresholds {
	return AdaptiveThresholds{
		MinConfidence:      b.MinConfidence,
		Oversold:           b.Oversold,
		Overbought:         b.Overbought,
		VolumeSpikeMin:     b.VolumeSpikeMin,
		PositionMultiplier: 1.0,
	}
}

// Adjust applies the fixed per-regime adjustment table, then scales the
// volume-spike requirement with the volatility percentile: spikier tape
// demands a larger surge before volume counts as confirmation.
func (b BaseThresholds) Adjust(label Label, volatilityPercentile float64) AdaptiveThresholds {
	t := b.Unmodified()

	switch label {
	case TrendingLowVol:
		// Calm trend: loosen confidence, widen the bands, lean in.
		t.MinConfidence *= 0.8
		t.Oversold = 20
		t.Overbought = 80
		t.PositionMultiplier = 1.2
	case TrendingHighVol:
		t.MinConfidence *= 0.9
		t.Oversold = 25
		t.Overbought = 75
		t.PositionMultiplier = 0.8
	case MeanRevertingHighVol:
		t.MinConfidence *= 1.1
		t.Oversold = 35
		t.Overbought = 65
		t.PositionMultiplier = 0.7
	case MeanRevertingLowVol:
		t.PositionMultiplier = 1.1
	case Uncertain:
		t.MinConfidence *= 1.2
		t.PositionMultiplier = 0.6
	}

	t.VolumeSpikeMin *= 1 + volatilityPercentile*0.5
	return t
}
