// Package indicators provides the statistical estimators consumed by the
// regime classifier: annualized volatility with percentile ranking, a
// directional-movement trend strength index, and a lag-variance Hurst
// estimator. All calculators return neutral defaults instead of errors
// when the input is too short or degenerate.
package indicators

import (
	"math"
	"sort"

	"github.com/tradepilot/tradepilot/internal/domain"
)

// MinTrendObservations is the minimum bar count for a meaningful ADX value.
// Below this the trend strength is reported as 0 with IsValid=false.
const MinTrendObservations = 30

// MinHurstReturns is the minimum return count for the lag-variance
// regression. Below this the exponent defaults to the random-walk 0.5.
const MinHurstReturns = 50

// VolatilityResult represents annualized rolling-return volatility ranked
// against a historical distribution
type VolatilityResult struct {
	Annualized float64 `json:"annualized"`
	Percentile float64 `json:"percentile"` // 0.0-1.0 rank vs. history
	Window     int     `json:"window"`
	IsValid    bool    `json:"is_valid"`
	DataCount  int     `json:"data_count"`
}

// CalculateVolatility computes the annualized standard deviation of log
// returns over the trailing window and ranks it against the rolling
// distribution built from the full price series.
func CalculateVolatility(prices []float64, window int, periodsPerYear float64) VolatilityResult {
	returns := logReturns(prices)
	if len(returns) < window || window < 2 {
		return VolatilityResult{
			Annualized: 0,
			Percentile: 0.5,
			Window:     window,
			IsValid:    false,
			DataCount:  len(prices),
		}
	}

	// Rolling window volatilities across the whole series form the
	// historical distribution; the last one is the current reading.
	rolling := make([]float64, 0, len(returns)-window+1)
	for i := window; i <= len(returns); i++ {
		rolling = append(rolling, stdDev(returns[i-window:i])*math.Sqrt(periodsPerYear))
	}

	current := rolling[len(rolling)-1]
	return VolatilityResult{
		Annualized: current,
		Percentile: PercentileRank(rolling, current),
		Window:     window,
		IsValid:    true,
		DataCount:  len(prices),
	}
}

// PercentileRank returns the fraction of values strictly below x, in [0,1].
// A single-element distribution ranks at 0.5.
func PercentileRank(values []float64, x float64) float64 {
	if len(values) <= 1 {
		return 0.5
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	below := sort.SearchFloat64s(sorted, x)
	return clamp01(float64(below) / float64(len(sorted)-1))
}

// TrendResult represents directional-movement trend strength
type TrendResult struct {
	ADX        float64 `json:"adx"`        // Raw directional index, 0-100
	Normalized float64 `json:"normalized"` // ADX / 100, clamped to [0,1]
	PDI        float64 `json:"pdi"`
	MDI        float64 `json:"mdi"`
	Period     int     `json:"period"`
	IsValid    bool    `json:"is_valid"`
	DataCount  int     `json:"data_count"`
}

// CalculateTrendStrength computes a smoothed directional index from OHLC
// bars using Wilder smoothing over the given period (14 by default).
// Zero-sum denominators yield a 0 trend strength rather than NaN.
func CalculateTrendStrength(bars []domain.Bar, period int) TrendResult {
	if len(bars) < MinTrendObservations || period < 1 {
		return TrendResult{Period: period, IsValid: false, DataCount: len(bars)}
	}

	trueRanges := make([]float64, len(bars)-1)
	plusDM := make([]float64, len(bars)-1)
	minusDM := make([]float64, len(bars)-1)

	for i := 1; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]

		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prev.Close)
		lc := math.Abs(cur.Low - prev.Close)
		trueRanges[i-1] = math.Max(hl, math.Max(hc, lc))

		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	if len(trueRanges) < period {
		return TrendResult{Period: period, IsValid: false, DataCount: len(bars)}
	}

	// Initial SMA seed, then Wilder smoothing for the remainder
	var smoothedTR, smoothedPlusDM, smoothedMinusDM float64
	for i := 0; i < period; i++ {
		smoothedTR += trueRanges[i]
		smoothedPlusDM += plusDM[i]
		smoothedMinusDM += minusDM[i]
	}
	smoothedTR /= float64(period)
	smoothedPlusDM /= float64(period)
	smoothedMinusDM /= float64(period)

	alpha := 1.0 / float64(period)
	dxSum := 0.0
	dxCount := 0
	for i := period; i < len(trueRanges); i++ {
		smoothedTR = smoothedTR*(1-alpha) + trueRanges[i]*alpha
		smoothedPlusDM = smoothedPlusDM*(1-alpha) + plusDM[i]*alpha
		smoothedMinusDM = smoothedMinusDM*(1-alpha) + minusDM[i]*alpha

		if smoothedTR <= 0 {
			continue
		}
		pdi := 100.0 * smoothedPlusDM / smoothedTR
		mdi := 100.0 * smoothedMinusDM / smoothedTR
		if sum := pdi + mdi; sum > 0 {
			dxSum += 100.0 * math.Abs(pdi-mdi) / sum
			dxCount++
		}
	}

	var pdi, mdi, adx float64
	if smoothedTR > 0 {
		pdi = 100.0 * smoothedPlusDM / smoothedTR
		mdi = 100.0 * smoothedMinusDM / smoothedTR
	}
	if dxCount > 0 {
		adx = dxSum / float64(dxCount)
	}

	return TrendResult{
		ADX:        adx,
		Normalized: clamp01(adx / 100.0),
		PDI:        pdi,
		MDI:        mdi,
		Period:     period,
		IsValid:    true,
		DataCount:  len(bars),
	}
}

// HurstResult represents the lag-variance Hurst exponent estimate
type HurstResult struct {
	Exponent  float64 `json:"exponent"` // 0.5 = random walk
	MaxLag    int     `json:"max_lag"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateHurstExponent estimates a Hurst-like exponent by regressing
// log(variance of k-lagged return differences) against log(k) for lags
// 2..min(20, N/4) and taking half the slope, clamped to [0,1]. Fewer than
// MinHurstReturns observations yield the documented neutral 0.5.
func CalculateHurstExponent(prices []float64) HurstResult {
	returns := logReturns(prices)
	if len(returns) < MinHurstReturns {
		return HurstResult{Exponent: 0.5, IsValid: false, DataCount: len(prices)}
	}

	maxLag := len(returns) / 4
	if maxLag > 20 {
		maxLag = 20
	}
	if maxLag < 2 {
		return HurstResult{Exponent: 0.5, IsValid: false, DataCount: len(prices)}
	}

	// Cumulative log prices; the k-lagged difference is the k-period return.
	// Var(logP_t − logP_{t−k}) scales as k^(2H), so H is half the slope of
	// log-variance against log-lag.
	logp := make([]float64, 0, len(returns)+1)
	logp = append(logp, 0)
	for _, r := range returns {
		logp = append(logp, logp[len(logp)-1]+r)
	}

	var logLags, logVars []float64
	for k := 2; k <= maxLag; k++ {
		diffs := make([]float64, 0, len(logp)-k)
		for i := k; i < len(logp); i++ {
			diffs = append(diffs, logp[i]-logp[i-k])
		}
		v := variance(diffs)
		if v <= 0 {
			continue
		}
		logLags = append(logLags, math.Log(float64(k)))
		logVars = append(logVars, math.Log(v))
	}

	if len(logLags) < 2 {
		return HurstResult{Exponent: 0.5, IsValid: false, DataCount: len(prices)}
	}

	slope, ok := regressionSlope(logLags, logVars)
	if !ok {
		return HurstResult{Exponent: 0.5, IsValid: false, DataCount: len(prices)}
	}

	return HurstResult{
		Exponent:  clamp01(slope / 2.0),
		MaxLag:    maxLag,
		IsValid:   true,
		DataCount: len(prices),
	}
}

// logReturns converts a price series to log returns, skipping non-positive
// or non-finite prices
func logReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i] <= 0 || prices[i-1] <= 0 ||
			math.IsNaN(prices[i]) || math.IsNaN(prices[i-1]) {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	return returns
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return sum / float64(len(values)-1)
}

func stdDev(values []float64) float64 {
	return math.Sqrt(variance(values))
}

// regressionSlope fits y = a + b*x by least squares and returns b.
// ok is false when the x values are degenerate.
func regressionSlope(xs, ys []float64) (float64, bool) {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0, false
	}
	mx, my := mean(xs), mean(ys)
	var num, den float64
	for i := range xs {
		num += (xs[i] - mx) * (ys[i] - my)
		den += (xs[i] - mx) * (xs[i] - mx)
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
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

// RSIResult represents a Wilder-smoothed relative strength index value
type RSIResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateRSI computes the relative strength index over the given period.
// Insufficient data yields the neutral 50 with IsValid=false.
func CalculateRSI(prices []float64, period int) RSIResult {
	if period < 1 || len(prices) < period+1 {
		return RSIResult{Value: 50, Period: period, IsValid: false, DataCount: len(prices)}
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing over the remainder of the series.
	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return RSIResult{Value: 100, Period: period, IsValid: true, DataCount: len(prices)}
	}
	rs := avgGain / avgLoss
	return RSIResult{
		Value:     100 - 100/(1+rs),
		Period:    period,
		IsValid:   true,
		DataCount: len(prices),
	}
}
