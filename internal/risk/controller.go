package risk

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantalpha/riskgate/internal/config"
)

// riskState is the mutable state owned exclusively by the Controller. Every
// access goes through the controller's mutex; a hard-limit decision must see
// a fully consistent snapshot, so the lock is coarse by design and nothing
// that blocks runs while it is held.
type riskState struct {
	dailyLossPct       float64
	currentDrawdownPct float64
	drawdownPeakNAV    float64
	drawdownStartTime  time.Time
	totalExposure      float64
	positions          map[string]float64

	killSwitchActive bool
	killSwitchReason string

	lastDataUpdate     time.Time
	apiLatencyP99Ms    float64
	fundingRateBps     float64
	priceDivergenceBps float64
}

// Controller is the authoritative risk-admission gate. It approves,
// rejects, or kill-switches candidate orders against hard limits and owns
// the only mutable risk state in the system.
type Controller struct {
	mu sync.Mutex

	limits         config.RiskLimits
	strategyLimits map[string]config.RiskLimits
	thresholds     config.KillSwitchThresholds

	state riskState
	now   func() time.Time
}

// Option customizes controller construction.
type Option func(*Controller)

// WithClock overrides the time source. Used by tests that exercise
// cooldown windows.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a risk admission controller with the given default
// limits, per-strategy overrides, and kill switch thresholds.
func NewController(limits config.RiskLimits, strategyLimits map[string]config.RiskLimits, thresholds config.KillSwitchThresholds, opts ...Option) *Controller {
	c := &Controller{
		limits:         limits,
		strategyLimits: strategyLimits,
		thresholds:     thresholds,
		state: riskState{
			positions: make(map[string]float64),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) limitsFor(strategyID string) config.RiskLimits {
	if limits, ok := c.strategyLimits[strategyID]; ok {
		return limits
	}
	return c.limits
}

// ValidateOrder runs the admission checks in a fixed short-circuit order
// and returns the verdict. Structural problems and limit breaches are
// ordinary REJECTED outcomes, never errors; the kill switch dominates every
// limit check.
func (c *Controller) ValidateOrder(order OrderRequest) Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	limits := c.limitsFor(order.StrategyID)

	verdict := Verdict{
		Status:    StatusApproved,
		Details:   map[string]float64{},
		Timestamp: now,
	}

	// 1. Structural validity.
	if reason := structuralReason(order); reason != "" {
		verdict.Status = StatusRejected
		verdict.Reason = reason
		log.Warn().Str("strategy", order.StrategyID).Str("symbol", order.Symbol).
			Str("reason", reason).Msg("order rejected: invalid request")
		return verdict
	}

	positionValuePct := order.PositionValue / order.CurrentNAV
	tradeVaRPct := math.Abs(order.Quantity*order.Price) / order.CurrentNAV
	exposurePct := (c.state.totalExposure + order.PositionValue) / order.CurrentNAV

	verdict.Details["position_value_pct"] = positionValuePct
	verdict.Details["leverage"] = order.Leverage
	verdict.Details["trade_var_pct"] = tradeVaRPct
	verdict.Details["total_exposure_pct"] = exposurePct
	verdict.Details["daily_loss_pct"] = c.state.dailyLossPct
	verdict.Details["drawdown_pct"] = c.state.currentDrawdownPct

	// 2. Kill switch dominates everything below.
	if c.state.killSwitchActive {
		verdict.Status = StatusKillSwitch
		verdict.Reason = fmt.Sprintf("kill switch active: %s", c.state.killSwitchReason)
		return verdict
	}

	// 3. Drawdown cooldown. The drawdown episode is portfolio-wide state,
	// so the service-wide limits govern it for every strategy; per-strategy
	// overrides only apply to the per-order checks below.
	if c.inDrawdownCooldownLocked(now, c.limits) {
		verdict.Status = StatusRejected
		verdict.Reason = fmt.Sprintf("drawdown cooldown active: drawdown %.2f%% >= %.2f%%, cooldown %.1fh",
			c.state.currentDrawdownPct*100, c.limits.MaxDrawdownPct*100, c.limits.DrawdownCooldownHours)
		log.Warn().Str("strategy", order.StrategyID).Msg("order rejected: drawdown cooldown")
		return verdict
	}

	// 4. Daily loss limit.
	if c.state.dailyLossPct >= limits.MaxDailyLossPct {
		verdict.Status = StatusRejected
		verdict.Reason = fmt.Sprintf("daily loss %.2f%% >= limit %.2f%%",
			c.state.dailyLossPct*100, limits.MaxDailyLossPct*100)
		return verdict
	}

	// 5. Position value limit.
	if positionValuePct > limits.MaxPositionValuePct {
		verdict.Status = StatusRejected
		verdict.Reason = fmt.Sprintf("position value %.2f%% of NAV exceeds limit %.2f%%",
			positionValuePct*100, limits.MaxPositionValuePct*100)
		return verdict
	}

	// 6. Leverage limit.
	if order.Leverage > limits.MaxLeverage {
		verdict.Status = StatusRejected
		verdict.Reason = fmt.Sprintf("leverage %.1fx exceeds limit %.1fx",
			order.Leverage, limits.MaxLeverage)
		return verdict
	}

	// 7. Per-trade VaR limit.
	if tradeVaRPct > limits.PerTradeVaRPct {
		verdict.Status = StatusRejected
		verdict.Reason = fmt.Sprintf("trade VaR %.2f%% of NAV exceeds limit %.2f%%",
			tradeVaRPct*100, limits.PerTradeVaRPct*100)
		return verdict
	}

	// 8. Total exposure limit.
	if exposurePct > 1.0 {
		verdict.Status = StatusRejected
		verdict.Reason = fmt.Sprintf("total exposure %.2f%% of NAV would exceed 100%%", exposurePct*100)
		return verdict
	}

	verdict.Approved = true
	verdict.Reason = "within limits"
	return verdict
}

func structuralReason(order OrderRequest) string {
	switch {
	case order.Quantity <= 0:
		return fmt.Sprintf("quantity must be positive, got %f", order.Quantity)
	case order.Price <= 0:
		return fmt.Sprintf("price must be positive, got %f", order.Price)
	case order.Leverage <= 0:
		return fmt.Sprintf("leverage must be positive, got %f", order.Leverage)
	case order.CurrentNAV <= 0:
		return fmt.Sprintf("current NAV must be positive, got %f", order.CurrentNAV)
	default:
		return ""
	}
}

// inDrawdownCooldownLocked reports whether a triggered drawdown episode is
// still inside its cooldown window. The latch persists even if NAV recovers
// above the threshold before the window elapses. Caller holds c.mu.
func (c *Controller) inDrawdownCooldownLocked(now time.Time, limits config.RiskLimits) bool {
	if c.state.drawdownStartTime.IsZero() {
		return false
	}
	cooldown := time.Duration(limits.DrawdownCooldownHours * float64(time.Hour))
	return now.Sub(c.state.drawdownStartTime) < cooldown
}

// CheckKillSwitches applies the market data update and evaluates the five
// protective triggers. Any firing trigger latches the kill switch with a
// joined reason; the latch never clears on its own, only via
// DeactivateKillSwitch.
func (c *Controller) CheckKillSwitches(md MarketDataUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyMarketDataLocked(md)
	return c.evaluateKillSwitchesLocked(md)
}

// UpdateMarketData records live market health statistics and re-evaluates
// the kill switch triggers.
func (c *Controller) UpdateMarketData(md MarketDataUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyMarketDataLocked(md)
	c.evaluateKillSwitchesLocked(md)
}

func (c *Controller) applyMarketDataLocked(md MarketDataUpdate) {
	if !md.Timestamp.IsZero() {
		c.state.lastDataUpdate = md.Timestamp
	}
	c.state.fundingRateBps = md.FundingRateBps
	c.state.apiLatencyP99Ms = md.APILatencyP99Ms
	c.state.priceDivergenceBps = md.PriceDivergenceBps
}

func (c *Controller) evaluateKillSwitchesLocked(md MarketDataUpdate) bool {
	now := c.now()
	var reasons []string

	if !c.state.lastDataUpdate.IsZero() {
		staleness := now.Sub(c.state.lastDataUpdate).Seconds()
		if staleness > c.thresholds.ExchangeOutageSeconds {
			reasons = append(reasons, fmt.Sprintf("exchange data stale for %.0fs (limit %.0fs)",
				staleness, c.thresholds.ExchangeOutageSeconds))
		}
	}
	if math.Abs(c.state.fundingRateBps) > c.thresholds.FundingSpikeBps {
		reasons = append(reasons, fmt.Sprintf("funding rate %.1f bps exceeds %.1f bps",
			c.state.fundingRateBps, c.thresholds.FundingSpikeBps))
	}
	if c.state.apiLatencyP99Ms > c.thresholds.APILatencyMsP99 {
		reasons = append(reasons, fmt.Sprintf("API p99 latency %.0fms exceeds %.0fms",
			c.state.apiLatencyP99Ms, c.thresholds.APILatencyMsP99))
	}
	if math.Abs(c.state.priceDivergenceBps) > c.thresholds.PriceDivergenceBps {
		reasons = append(reasons, fmt.Sprintf("price divergence %.1f bps exceeds %.1f bps",
			c.state.priceDivergenceBps, c.thresholds.PriceDivergenceBps))
	}
	if md.EquityDropPct > c.thresholds.EquityDropPct {
		reasons = append(reasons, fmt.Sprintf("equity drop %.2f%% exceeds %.2f%%",
			md.EquityDropPct*100, c.thresholds.EquityDropPct*100))
	}

	if len(reasons) == 0 {
		return c.state.killSwitchActive
	}

	reason := strings.Join(reasons, "; ")
	if !c.state.killSwitchActive {
		log.Error().Str("reason", reason).Msg("kill switch triggered")
	}
	c.state.killSwitchActive = true
	c.state.killSwitchReason = reason
	return true
}

// UpdatePortfolioState records the current NAV and open position notionals
// and recomputes drawdown against the monotonic peak. Pass a nil
// dailyLossPct to leave the stored value unchanged. A negative NAV is an
// upstream anomaly: it is clamped to zero and logged rather than
// propagated into the drawdown math.
func (c *Controller) UpdatePortfolioState(nav float64, positions map[string]float64, dailyLossPct *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if nav < 0 {
		log.Error().Float64("nav", nav).Msg("negative NAV reported, clamping to zero")
		nav = 0
	}

	now := c.now()

	if nav > c.state.drawdownPeakNAV {
		// New high-water mark; the cooldown clock only resets here.
		c.state.drawdownPeakNAV = nav
		c.state.drawdownStartTime = time.Time{}
	}
	if c.state.drawdownPeakNAV > 0 {
		c.state.currentDrawdownPct = (c.state.drawdownPeakNAV - nav) / c.state.drawdownPeakNAV
	} else {
		c.state.currentDrawdownPct = 0
	}

	limits := c.limits
	if c.state.currentDrawdownPct >= limits.MaxDrawdownPct {
		cooldown := time.Duration(limits.DrawdownCooldownHours * float64(time.Hour))
		if c.state.drawdownStartTime.IsZero() || now.Sub(c.state.drawdownStartTime) >= cooldown {
			c.state.drawdownStartTime = now
			log.Error().
				Float64("drawdown_pct", c.state.currentDrawdownPct).
				Float64("limit_pct", limits.MaxDrawdownPct).
				Msg("drawdown limit breached, cooldown started")
		}
	}

	c.state.positions = make(map[string]float64, len(positions))
	total := 0.0
	for symbol, notional := range positions {
		c.state.positions[symbol] = notional
		total += math.Abs(notional)
	}
	c.state.totalExposure = total

	if dailyLossPct != nil {
		c.state.dailyLossPct = *dailyLossPct
	}
}

// ActivateKillSwitch latches the kill switch manually. Independent of the
// drawdown cooldown state.
func (c *Controller) ActivateKillSwitch(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.killSwitchActive = true
	c.state.killSwitchReason = reason
	log.Error().Str("reason", reason).Msg("kill switch activated manually")
}

// DeactivateKillSwitch clears the kill switch latch. An active drawdown
// cooldown is unaffected.
func (c *Controller) DeactivateKillSwitch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.killSwitchActive = false
	c.state.killSwitchReason = ""
	log.Warn().Msg("kill switch deactivated")
}

// KillSwitchActive reports the current latch state and reason.
func (c *Controller) KillSwitchActive() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.killSwitchActive, c.state.killSwitchReason
}

// VolatilityTargetedSize sizes a position so the expected move over the
// horizon consumes the risk budget: size = budget / (vol * sqrt(days)).
// ATR is preferred; realized vol scaled by price is the fallback. With no
// usable volatility metric the budget is returned unscaled.
func (c *Controller) VolatilityTargetedSize(riskBudget, atr, realizedVol, horizonDays, currentPrice float64) float64 {
	if riskBudget <= 0 {
		return 0
	}
	if horizonDays <= 0 {
		horizonDays = 1
	}

	volMetric := 0.0
	switch {
	case atr > 0:
		volMetric = atr
	case realizedVol > 0 && currentPrice > 0:
		volMetric = realizedVol * currentPrice
	}
	if volMetric <= 0 {
		return riskBudget
	}

	return riskBudget / (volMetric * math.Sqrt(horizonDays))
}

// Snapshot returns a consistent copy of the risk state.
func (c *Controller) Snapshot() StateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	positions := make(map[string]float64, len(c.state.positions))
	for symbol, notional := range c.state.positions {
		positions[symbol] = notional
	}

	return StateSnapshot{
		DailyLossPct:       c.state.dailyLossPct,
		CurrentDrawdownPct: c.state.currentDrawdownPct,
		DrawdownPeakNAV:    c.state.drawdownPeakNAV,
		DrawdownStartTime:  c.state.drawdownStartTime,
		TotalExposure:      c.state.totalExposure,
		Positions:          positions,
		KillSwitchActive:   c.state.killSwitchActive,
		KillSwitchReason:   c.state.killSwitchReason,
		LastDataUpdate:     c.state.lastDataUpdate,
		APILatencyP99Ms:    c.state.apiLatencyP99Ms,
		FundingRateBps:     c.state.fundingRateBps,
		PriceDivergenceBps: c.state.priceDivergenceBps,
		InDrawdownCooldown: c.inDrawdownCooldownLocked(now, c.limits),
		SnapshotTime:       now,
	}
}

// Limits returns the default limits and kill switch thresholds, for the
// risk-state endpoint.
func (c *Controller) Limits() (config.RiskLimits, config.KillSwitchThresholds) {
	return c.limits, c.thresholds
}

// Restore re-applies the safety-relevant parts of a checkpointed snapshot:
// the kill switch latch and the drawdown episode. NAV, positions, and
// market health are deliberately not restored; they must be re-synced from
// the portfolio accountant and market data source after a restart.
func (c *Controller) Restore(snap StateSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.killSwitchActive = snap.KillSwitchActive
	c.state.killSwitchReason = snap.KillSwitchReason
	c.state.drawdownPeakNAV = math.Max(c.state.drawdownPeakNAV, snap.DrawdownPeakNAV)
	c.state.drawdownStartTime = snap.DrawdownStartTime
	c.state.currentDrawdownPct = snap.CurrentDrawdownPct

	log.Info().
		Bool("kill_switch_active", snap.KillSwitchActive).
		Float64("drawdown_peak_nav", snap.DrawdownPeakNAV).
		Msg("risk state restored from checkpoint")
}
