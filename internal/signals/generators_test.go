package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepilot/tradepilot/internal/domain"
	"github.com/tradepilot/tradepilot/internal/regime"
)

func neutralClassification() regime.Classification {
	return regime.Classification{
		Label:      regime.Uncertain,
		Thresholds: regime.DefaultConfig().Base.Unmodified(),
	}
}

func flatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = domain.Bar{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price + 0.1, Low: price - 0.1, Close: price,
			Volume: 10000,
		}
	}
	return bars
}

func TestMomentumBreakoutBuy(t *testing.T) {
	gen := NewMomentum(MomentumConfig{Symbol: "SPY", LookbackBars: 20})
	bars := flatBars(30, 100)
	// Last bar breaks the trailing high decisively on a volume surge.
	bars[29].Close = 102
	bars[29].High = 102.2
	bars[29].Volume = 30000

	out, err := gen.Generate(context.Background(), domain.MarketContext{Bars: bars}, neutralClassification())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ActionBuy, out[0].Action)
	assert.Equal(t, "momentum", out[0].Strategy)
	assert.Greater(t, out[0].Confidence, 0.6)
}

func TestMomentumNoSignalWithoutVolume(t *testing.T) {
	gen := NewMomentum(MomentumConfig{Symbol: "SPY", LookbackBars: 20})
	bars := flatBars(30, 100)
	bars[29].Close = 102
	bars[29].High = 102.2
	// Volume stays at the average: no surge, no signal.

	out, err := gen.Generate(context.Background(), domain.MarketContext{Bars: bars}, neutralClassification())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMomentumQuietMarketSilent(t *testing.T) {
	gen := NewMomentum(MomentumConfig{Symbol: "SPY", LookbackBars: 20})
	out, err := gen.Generate(context.Background(), domain.MarketContext{Bars: flatBars(30, 100)}, neutralClassification())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMeanReversionOversoldBuy(t *testing.T) {
	gen := NewMeanReversion(MeanReversionConfig{Symbol: "SPY", RSIPeriod: 14})
	bars := flatBars(50, 100)
	// A steady slide drives RSI to the floor.
	for i := 20; i < 50; i++ {
		price := 100 - float64(i-19)*0.5
		bars[i].Open = price + 0.5
		bars[i].Close = price
		bars[i].High = price + 0.6
		bars[i].Low = price - 0.1
	}

	out, err := gen.Generate(context.Background(), domain.MarketContext{Bars: bars}, neutralClassification())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ActionBuy, out[0].Action)
	assert.Equal(t, "mean_reversion", out[0].Strategy)
}

func TestMeanReversionBandsFollowRegime(t *testing.T) {
	gen := NewMeanReversion(MeanReversionConfig{Symbol: "SPY", RSIPeriod: 14})
	bars := flatBars(50, 100)
	// Two losses for every partial recovery lands RSI near 27, between
	// the trending band (20) and the mean-reverting band (35).
	price := 100.0
	changes := []float64{-0.5, -0.5, 0.37}
	for i := 20; i < 50; i++ {
		price += changes[(i-20)%len(changes)]
		bars[i].Close = price
		bars[i].Open = price + 0.1
		bars[i].High = price + 0.2
		bars[i].Low = price - 0.2
	}
	mc := domain.MarketContext{Bars: bars}

	base := regime.DefaultConfig().Base
	trending := regime.Classification{Label: regime.TrendingLowVol, Thresholds: base.Adjust(regime.TrendingLowVol, 0.2)}
	reverting := regime.Classification{Label: regime.MeanRevertingHighVol, Thresholds: base.Adjust(regime.MeanRevertingHighVol, 0.8)}

	outTrend, err := gen.Generate(context.Background(), mc, trending)
	require.NoError(t, err)
	outRevert, err := gen.Generate(context.Background(), mc, reverting)
	require.NoError(t, err)

	// The wider trending band stays silent where the tighter
	// mean-reverting band already fires.
	assert.Empty(t, outTrend)
	require.Len(t, outRevert, 1)
	assert.Equal(t, domain.ActionBuy, outRevert[0].Action)
}

func TestGeneratorsDeclareWarmup(t *testing.T) {
	assert.Equal(t, 21, NewMomentum(MomentumConfig{}).WarmupBars())
	assert.Equal(t, 42, NewMeanReversion(MeanReversionConfig{}).WarmupBars())
}
