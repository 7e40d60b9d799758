package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantalpha/riskgate/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func testController(opts ...Option) *Controller {
	return NewController(config.DefaultLimits(), nil, config.DefaultKillSwitchThresholds(), opts...)
}

func validOrder() OrderRequest {
	return OrderRequest{
		StrategyID:    "momentum",
		Symbol:        "BTC-USD",
		Side:          "buy",
		Quantity:      0.02,
		Price:         50000,
		Leverage:      2.0,
		CurrentNAV:    100000,
		PositionValue: 5000,
	}
}

func TestValidateOrder_ApprovesWithinLimits(t *testing.T) {
	c := testController()

	verdict := c.ValidateOrder(validOrder())

	assert.Equal(t, StatusApproved, verdict.Status)
	assert.True(t, verdict.Approved)
	assert.Equal(t, "within limits", verdict.Reason)
	assert.InDelta(t, 0.05, verdict.Details["position_value_pct"], 1e-9)
	assert.InDelta(t, 0.01, verdict.Details["trade_var_pct"], 1e-9)
	assert.InDelta(t, 2.0, verdict.Details["leverage"], 1e-9)
}

func TestValidateOrder_StructuralRejections(t *testing.T) {
	c := testController()

	tests := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"zero quantity", func(o *OrderRequest) { o.Quantity = 0 }},
		{"negative quantity", func(o *OrderRequest) { o.Quantity = -1 }},
		{"zero price", func(o *OrderRequest) { o.Price = 0 }},
		{"zero leverage", func(o *OrderRequest) { o.Leverage = 0 }},
		{"zero NAV", func(o *OrderRequest) { o.CurrentNAV = 0 }},
		{"negative NAV", func(o *OrderRequest) { o.CurrentNAV = -100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder()
			tt.mutate(&order)

			verdict := c.ValidateOrder(order)

			assert.Equal(t, StatusRejected, verdict.Status)
			assert.False(t, verdict.Approved)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestValidateOrder_PositionValueLimit(t *testing.T) {
	c := testController()

	order := validOrder()
	order.PositionValue = 15000 // 15% of NAV, limit is 10%

	verdict := c.ValidateOrder(order)

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "position value")
	assert.InDelta(t, 0.15, verdict.Details["position_value_pct"], 1e-9)
}

func TestValidateOrder_LeverageLimit(t *testing.T) {
	c := testController()

	order := validOrder()
	order.Leverage = 5.0

	verdict := c.ValidateOrder(order)

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "leverage")
}

func TestValidateOrder_TradeVaRLimit(t *testing.T) {
	c := testController()

	order := validOrder()
	order.Quantity = 0.1 // 0.1 * 50000 = 5000 = 5% of NAV, limit is 2%

	verdict := c.ValidateOrder(order)

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "VaR")
}

func TestValidateOrder_TradeVaRUsesAbsoluteNotional(t *testing.T) {
	c := testController()

	// A short with the same notional must compute the same VaR as a long.
	order := validOrder()
	order.Side = "sell"
	order.Quantity = 0.1

	verdict := c.ValidateOrder(order)

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.InDelta(t, 0.05, verdict.Details["trade_var_pct"], 1e-9)
}

func TestValidateOrder_TotalExposureLimit(t *testing.T) {
	c := testController()
	c.UpdatePortfolioState(100000, map[string]float64{
		"BTC-USD": 60000,
		"ETH-USD": 38000,
	}, nil)

	order := validOrder() // 5000 more pushes exposure past 100% of NAV

	verdict := c.ValidateOrder(order)

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "exposure")
}

func TestValidateOrder_ShortNotionalsCountTowardExposure(t *testing.T) {
	c := testController()
	c.UpdatePortfolioState(100000, map[string]float64{
		"BTC-USD": -60000,
		"ETH-USD": -38000,
	}, nil)

	verdict := c.ValidateOrder(validOrder())

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "exposure")
}

func TestValidateOrder_DailyLossLimit(t *testing.T) {
	c := testController()
	loss := 0.035
	c.UpdatePortfolioState(100000, nil, &loss)

	verdict := c.ValidateOrder(validOrder())

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "daily loss")
}

func TestValidateOrder_KillSwitchDominates(t *testing.T) {
	c := testController()
	c.ActivateKillSwitch("exchange halted")

	// Order also breaches leverage; the kill switch verdict must win.
	order := validOrder()
	order.Leverage = 10

	verdict := c.ValidateOrder(order)

	assert.Equal(t, StatusKillSwitch, verdict.Status)
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "exchange halted")

	c.DeactivateKillSwitch()
	verdict = c.ValidateOrder(validOrder())
	assert.Equal(t, StatusApproved, verdict.Status)
}

func TestValidateOrder_StrategyLimitOverride(t *testing.T) {
	overrides := map[string]config.RiskLimits{
		"scalper": {
			MaxPositionValuePct:   0.02,
			MaxLeverage:           1.0,
			PerTradeVaRPct:        0.01,
			MaxDailyLossPct:       0.03,
			MaxDrawdownPct:        0.15,
			DrawdownCooldownHours: 24,
		},
	}
	c := NewController(config.DefaultLimits(), overrides, config.DefaultKillSwitchThresholds())

	order := validOrder()
	order.StrategyID = "scalper"

	verdict := c.ValidateOrder(order)
	assert.Equal(t, StatusRejected, verdict.Status, "tighter override must reject what defaults allow")

	order.StrategyID = "momentum"
	verdict = c.ValidateOrder(order)
	assert.Equal(t, StatusApproved, verdict.Status, "unlisted strategy falls back to defaults")
}

func TestKillSwitchTriggers(t *testing.T) {
	tests := []struct {
		name string
		md   MarketDataUpdate
	}{
		{"funding spike", MarketDataUpdate{FundingRateBps: 150}},
		{"negative funding spike", MarketDataUpdate{FundingRateBps: -150}},
		{"api latency", MarketDataUpdate{APILatencyP99Ms: 2500}},
		{"price divergence", MarketDataUpdate{PriceDivergenceBps: 200}},
		{"equity drop", MarketDataUpdate{EquityDropPct: 0.12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testController()

			require.True(t, c.CheckKillSwitches(tt.md))

			active, reason := c.KillSwitchActive()
			assert.True(t, active)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestKillSwitch_EquityDropAtThresholdDoesNotTrip(t *testing.T) {
	c := testController()

	// Exactly at the threshold: like every other trigger, only an
	// excursion past the threshold trips the switch.
	require.False(t, c.CheckKillSwitches(MarketDataUpdate{EquityDropPct: 0.10}))
	active, _ := c.KillSwitchActive()
	assert.False(t, active)

	require.True(t, c.CheckKillSwitches(MarketDataUpdate{EquityDropPct: 0.101}))
}

func TestKillSwitch_StaleDataTrigger(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := testController(WithClock(clock.Now))

	c.UpdateMarketData(MarketDataUpdate{Timestamp: clock.Now()})
	active, _ := c.KillSwitchActive()
	require.False(t, active, "fresh data must not trip the switch")

	clock.Advance(90 * time.Second)
	require.True(t, c.CheckKillSwitches(MarketDataUpdate{}))

	active, reason := c.KillSwitchActive()
	assert.True(t, active)
	assert.Contains(t, reason, "stale")
}

func TestKillSwitch_LatchPersistsAfterConditionClears(t *testing.T) {
	c := testController()

	require.True(t, c.CheckKillSwitches(MarketDataUpdate{FundingRateBps: 150}))

	// Funding back to normal; the latch must hold.
	c.UpdateMarketData(MarketDataUpdate{FundingRateBps: 5})

	active, _ := c.KillSwitchActive()
	assert.True(t, active, "latch must persist until explicit deactivation")
}

func TestDrawdownCooldown(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := testController(WithClock(clock.Now))

	c.UpdatePortfolioState(100000, nil, nil)
	verdict := c.ValidateOrder(validOrder())
	require.Equal(t, StatusApproved, verdict.Status)

	// 16% drawdown, limit 15%.
	c.UpdatePortfolioState(84000, nil, nil)

	order := validOrder()
	order.CurrentNAV = 84000
	order.PositionValue = 4000
	verdict = c.ValidateOrder(order)
	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "drawdown cooldown")

	// NAV recovers above the threshold inside the window; the cooldown
	// must still hold.
	clock.Advance(2 * time.Hour)
	c.UpdatePortfolioState(95000, nil, nil)
	order = validOrder()
	verdict = c.ValidateOrder(order)
	assert.Equal(t, StatusRejected, verdict.Status, "cooldown persists through NAV recovery")

	// Window elapses.
	clock.Advance(23 * time.Hour)
	verdict = c.ValidateOrder(order)
	assert.Equal(t, StatusApproved, verdict.Status)
}

func TestDrawdownCooldown_GlobalAcrossStrategies(t *testing.T) {
	overrides := map[string]config.RiskLimits{
		"scalper": {
			MaxPositionValuePct:   0.10,
			MaxLeverage:           3.0,
			PerTradeVaRPct:        0.02,
			MaxDailyLossPct:       0.03,
			MaxDrawdownPct:        0.15,
			DrawdownCooldownHours: 1,
		},
	}
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := NewController(config.DefaultLimits(), overrides, config.DefaultKillSwitchThresholds(), WithClock(clock.Now))

	c.UpdatePortfolioState(100000, nil, nil)
	c.UpdatePortfolioState(84000, nil, nil)

	// Past the scalper's one-hour override but inside the service-wide
	// 24h window. The episode is portfolio-wide, so the override cannot
	// shorten it.
	clock.Advance(2 * time.Hour)

	order := validOrder()
	order.StrategyID = "scalper"
	verdict := c.ValidateOrder(order)

	assert.Equal(t, StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "drawdown cooldown")
}

func TestDrawdownCooldown_ClearsOnNewPeak(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := testController(WithClock(clock.Now))

	c.UpdatePortfolioState(100000, nil, nil)
	c.UpdatePortfolioState(84000, nil, nil)
	require.True(t, c.Snapshot().InDrawdownCooldown)

	c.UpdatePortfolioState(101000, nil, nil)

	snap := c.Snapshot()
	assert.False(t, snap.InDrawdownCooldown)
	assert.Equal(t, 101000.0, snap.DrawdownPeakNAV)
	assert.InDelta(t, 0.0, snap.CurrentDrawdownPct, 1e-9)
}

func TestDrawdownCooldown_RetriggersAfterWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := testController(WithClock(clock.Now))

	c.UpdatePortfolioState(100000, nil, nil)
	c.UpdatePortfolioState(84000, nil, nil)

	// Drawdown still breached after the first window elapses; a new
	// episode must start.
	clock.Advance(25 * time.Hour)
	c.UpdatePortfolioState(83000, nil, nil)

	snap := c.Snapshot()
	assert.True(t, snap.InDrawdownCooldown, "persistent breach starts a fresh episode")
}

func TestDrawdownPeakIsMonotonic(t *testing.T) {
	c := testController()

	c.UpdatePortfolioState(100000, nil, nil)
	c.UpdatePortfolioState(90000, nil, nil)
	c.UpdatePortfolioState(95000, nil, nil)

	snap := c.Snapshot()
	assert.Equal(t, 100000.0, snap.DrawdownPeakNAV)
	assert.InDelta(t, 0.05, snap.CurrentDrawdownPct, 1e-9)
}

func TestUpdatePortfolioState_NegativeNAVClamped(t *testing.T) {
	c := testController()

	c.UpdatePortfolioState(100000, nil, nil)
	c.UpdatePortfolioState(-5000, nil, nil)

	snap := c.Snapshot()
	assert.InDelta(t, 1.0, snap.CurrentDrawdownPct, 1e-9)
}

func TestVolatilityTargetedSize(t *testing.T) {
	c := testController()

	t.Run("atr preferred", func(t *testing.T) {
		size := c.VolatilityTargetedSize(1000, 500, 0.8, 4, 50000)
		assert.InDelta(t, 1000.0/(500*2), size, 1e-9)
	})

	t.Run("realized vol fallback", func(t *testing.T) {
		size := c.VolatilityTargetedSize(1000, 0, 0.5, 1, 40000)
		assert.InDelta(t, 1000.0/20000, size, 1e-9)
	})

	t.Run("no vol metric returns budget", func(t *testing.T) {
		assert.Equal(t, 1000.0, c.VolatilityTargetedSize(1000, 0, 0, 1, 0))
	})

	t.Run("zero budget", func(t *testing.T) {
		assert.Equal(t, 0.0, c.VolatilityTargetedSize(0, 500, 0, 1, 50000))
	})

	t.Run("zero horizon defaults to one day", func(t *testing.T) {
		assert.InDelta(t, 2.0, c.VolatilityTargetedSize(1000, 500, 0, 0, 50000), 1e-9)
	})
}

func TestSnapshotRestore(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := testController(WithClock(clock.Now))

	c.UpdatePortfolioState(100000, map[string]float64{"BTC-USD": 20000}, nil)
	c.UpdatePortfolioState(84000, nil, nil)
	c.ActivateKillSwitch("operator halt")

	snap := c.Snapshot()

	restored := testController(WithClock(clock.Now))
	restored.Restore(snap)

	active, reason := restored.KillSwitchActive()
	assert.True(t, active)
	assert.Equal(t, "operator halt", reason)

	got := restored.Snapshot()
	assert.True(t, got.InDrawdownCooldown, "drawdown episode survives the restart")
	assert.Equal(t, snap.DrawdownPeakNAV, got.DrawdownPeakNAV)

	// Positions are not restored, they come from the portfolio accountant.
	assert.Empty(t, got.Positions)
}

func TestControllerConcurrency(t *testing.T) {
	c := testController()
	c.UpdatePortfolioState(100000, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.ValidateOrder(validOrder())
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.UpdatePortfolioState(100000-float64(j), map[string]float64{"BTC-USD": 10000}, nil)
				c.UpdateMarketData(MarketDataUpdate{FundingRateBps: float64(n)})
				c.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, 10000.0, snap.TotalExposure)
}
