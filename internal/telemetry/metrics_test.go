package telemetry

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestRecordTrade(t *testing.T) {
	m := NewMetrics()

	m.RecordTrade("buy", true, 25.0)
	m.RecordTrade("buy", true, -10.0)
	m.RecordTrade("sell", false, 0)

	mf := gatherFamily(t, m, "tradepilot_trades_total")
	require.NotNil(t, mf)

	counts := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		key := ""
		for _, lp := range metric.GetLabel() {
			key += lp.GetName() + "=" + lp.GetValue() + ";"
		}
		counts[key] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, counts["action=buy;success=true;"])
	assert.Equal(t, 1.0, counts["action=sell;success=false;"])

	// Failed executions must not pollute the PnL distribution.
	pnl := gatherFamily(t, m, "tradepilot_trade_pnl")
	require.NotNil(t, pnl)
	require.Len(t, pnl.GetMetric(), 1)
	assert.Equal(t, uint64(2), pnl.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRecordRegimeSwitch(t *testing.T) {
	m := NewMetrics()
	labels := []string{"trending_low_vol", "uncertain"}

	m.RecordRegimeSwitch("", "uncertain", labels)
	m.RecordRegimeSwitch("uncertain", "trending_low_vol", labels)

	switches := gatherFamily(t, m, "tradepilot_regime_switches_total")
	require.NotNil(t, switches)
	require.Len(t, switches.GetMetric(), 1)
	assert.Equal(t, 1.0, switches.GetMetric()[0].GetCounter().GetValue())

	active := gatherFamily(t, m, "tradepilot_active_regime")
	require.NotNil(t, active)
	values := map[string]float64{}
	for _, metric := range active.GetMetric() {
		values[metric.GetLabel()[0].GetValue()] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, 1.0, values["trending_low_vol"])
	assert.Equal(t, 0.0, values["uncertain"])
}

func TestRecordSystemState(t *testing.T) {
	m := NewMetrics()
	states := []string{"stopped", "running", "paused"}

	m.RecordSystemState("running", states)
	m.RecordSystemState("paused", states)

	mf := gatherFamily(t, m, "tradepilot_system_state")
	require.NotNil(t, mf)
	values := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		values[metric.GetLabel()[0].GetValue()] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, 0.0, values["running"])
	assert.Equal(t, 1.0, values["paused"])
	assert.Equal(t, 0.0, values["stopped"])
}

func TestGateDecisionLabels(t *testing.T) {
	m := NewMetrics()

	m.RecordGateDecision("midday", false, "strategy not permitted in phase")
	m.RecordGateDecision("midday", false, "strategy not permitted in phase")

	mf := gatherFamily(t, m, "tradepilot_gate_decisions_total")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
}
