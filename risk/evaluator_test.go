package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func combineLimits() Limits {
	return Limits{
		StartBalance:         50000,
		ProfitTarget:         3000,
		MaxLossLimit:         2000,
		DailyLossCap:         400,
		MaxConsecutiveLosses: 3,
		MaxTradesPerDay:      10,
	}
}

func baseMetrics(ts time.Time) Metrics {
	return Metrics{
		AccountID: "acct-1",
		Timestamp: ts,
		Equity:    50000,
		InSession: true,
	}
}

func TestEvaluatorRejectsInvalidConfig(t *testing.T) {
	bad := combineLimits()
	bad.WarnBand = 1.2
	_, err := NewEvaluator(bad)
	require.ErrorIs(t, err, ErrConfigInvalid)

	bad = combineLimits()
	bad.RearmBand = 0.9
	_, err = NewEvaluator(bad)
	require.ErrorIs(t, err, ErrConfigInvalid)

	bad = combineLimits()
	bad.DailyLossCap = 0
	_, err = NewEvaluator(bad)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestDailyLossProgression(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)
	ts := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

	// Equity ticks 50000 -> 50150 -> 49650 -> 49600 against a $400 cap:
	// loss used 0, 0, 350 (warning band 0.8*400=320), 400 (breach).
	cases := []struct {
		lossUsed float64
		want     RuleStatus
	}{
		{0, StatusOK},
		{0, StatusOK},
		{350, StatusWarning},
		{400, StatusBreach},
	}
	for i, tc := range cases {
		m := baseMetrics(ts.Add(time.Duration(i) * time.Minute))
		m.DailyLossUsed = tc.lossUsed
		got := ev.Evaluate(m)[RuleDailyLoss]
		assert.Equal(t, tc.want, got, "tick %d loss=%.0f", i, tc.lossUsed)
	}
}

func TestDailyLossLatchesForTheSession(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)
	ts := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

	m := baseMetrics(ts)
	m.DailyLossUsed = 400
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleDailyLoss])

	// A winning trade recovers equity; the one-shot daily limit stays breached.
	m = baseMetrics(ts.Add(time.Hour))
	m.DailyLossUsed = 200
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleDailyLoss])

	// Next session window re-arms the rule; 200 is under the 320 warning band.
	ev.ResetSession()
	assert.Equal(t, StatusOK, ev.Evaluate(m)[RuleDailyLoss])
}

func TestTrailingDrawdownKillSwitch(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)
	ts := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

	// HWM $151,000, equity $149,390: drawdown $1,610 >= 0.8 * $2,000 = $1,600.
	m := baseMetrics(ts)
	m.Equity = 149390
	m.HighWaterMark = 151000
	m.TrailingDrawdown = 1610
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleTrailingDrawdown])
	assert.True(t, ev.PermanentlyLatched())

	// Permanent latch survives a session reset.
	ev.ResetSession()
	m.TrailingDrawdown = 0
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleTrailingDrawdown])
	assert.True(t, ev.PermanentlyLatched())

	// Only the external administrative release clears it.
	ev.AdminRelease()
	assert.Equal(t, StatusOK, ev.Evaluate(m)[RuleTrailingDrawdown])
}

func TestOpenRiskUnboundedForcesBreach(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)

	m := baseMetrics(time.Now())
	m.UnboundedRisk = true
	m.OpenRisk = 0
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleOpenRiskCap])
}

func TestOpenRiskHysteresis(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)
	// openRiskCap = 0.3 * 400 = 120; warn at 96; re-arm below 0.75*120 = 90.
	ts := time.Now()

	m := baseMetrics(ts)
	m.OpenRisk = 100
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleOpenRiskCap])

	// Dipping just under the warning band does not re-arm yet.
	m.OpenRisk = 92
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleOpenRiskCap])

	// Below the re-arm threshold it returns to OK.
	m.OpenRisk = 85
	assert.Equal(t, StatusOK, ev.Evaluate(m)[RuleOpenRiskCap])

	// And a fresh excursion warns again.
	m.OpenRisk = 100
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleOpenRiskCap])
}

func TestTradeLimits(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)
	ts := time.Now()

	m := baseMetrics(ts)
	m.ConsecutiveLosses = 2
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleTradeLimits])

	m.ConsecutiveLosses = 3
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleTradeLimits])

	// Per-trade risk above 0.30% of equity breaches.
	m = baseMetrics(ts)
	m.LargestPositionRisk = 0.004 * m.Equity
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleTradeLimits])

	// Per-trade risk below 0.10% of equity breaches too.
	m = baseMetrics(ts)
	m.LargestPositionRisk = 0.002 * m.Equity
	m.SmallestPositionRisk = 0.0005 * m.Equity
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleTradeLimits])

	// Within bounds is fine.
	m = baseMetrics(ts)
	m.LargestPositionRisk = 0.002 * m.Equity
	m.SmallestPositionRisk = 0.0015 * m.Equity
	assert.Equal(t, StatusOK, ev.Evaluate(m)[RuleTradeLimits])
}

func TestHoursWindow(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)
	ts := time.Now()

	m := baseMetrics(ts)
	m.InSession = false
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleHoursWindow])

	m = baseMetrics(ts)
	m.SessionEndsIn = 10 * time.Minute
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleHoursWindow])

	m = baseMetrics(ts)
	m.CalendarGap = true
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleHoursWindow])
}

func TestNewsFilter(t *testing.T) {
	ts := time.Date(2025, 3, 11, 13, 30, 0, 0, time.UTC)
	limits := combineLimits()
	limits.NewsBlackouts = []BlackoutWindow{
		{Start: ts.Add(-2 * time.Minute), End: ts.Add(3 * time.Minute), Label: "CPI"},
	}
	ev, err := NewEvaluator(limits)
	require.NoError(t, err)

	m := baseMetrics(ts)
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleNewsFilter])

	// Four minutes before the window opens: advisory warning.
	m = baseMetrics(ts.Add(-6 * time.Minute))
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleNewsFilter])

	m = baseMetrics(ts.Add(-30 * time.Minute))
	assert.Equal(t, StatusOK, ev.Evaluate(m)[RuleNewsFilter])
}

func TestScalingLimit(t *testing.T) {
	limits := combineLimits()
	limits.Scaling = []ScalingStep{
		{ProfitAtLeast: 0, MaxContracts: 2},
		{ProfitAtLeast: 1500, MaxContracts: 3},
	}
	ev, err := NewEvaluator(limits)
	require.NoError(t, err)
	ts := time.Now()

	m := baseMetrics(ts)
	m.OpenContracts = 3
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleScalingLimit])

	// Past the first profit step the same exposure is at (not over) the limit.
	m.Equity = 51600
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleScalingLimit])

	m.OpenContracts = 1
	assert.Equal(t, StatusOK, ev.Evaluate(m)[RuleScalingLimit])
}

func TestConnectivity(t *testing.T) {
	ev, err := NewEvaluator(combineLimits())
	require.NoError(t, err)
	ts := time.Now()

	m := baseMetrics(ts)
	m.FeedAge = 20 * time.Second
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleConnectivity])

	m.FeedAge = 2 * time.Minute
	assert.Equal(t, StatusBreach, ev.Evaluate(m)[RuleConnectivity])

	m = baseMetrics(ts)
	m.RecentRejects = 6
	assert.Equal(t, StatusWarning, ev.Evaluate(m)[RuleConnectivity])
}
