package http

import (
	"time"

	"github.com/quantalpha/riskgate/internal/config"
	"github.com/quantalpha/riskgate/internal/risk"
)

// contextKey is a private type for request-scoped values.
type contextKey string

// RequestIDKey carries the per-request ID through the handler chain.
const RequestIDKey contextKey = "request_id"

// ValidateRequest is the order admission request body.
type ValidateRequest struct {
	StrategyID    string  `json:"strategy_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	Leverage      float64 `json:"leverage"`
	CurrentNAV    float64 `json:"current_nav"`
	PositionValue float64 `json:"position_value"`
}

// Order converts the request into the domain order value.
func (r ValidateRequest) Order() risk.OrderRequest {
	return risk.OrderRequest{
		StrategyID:    r.StrategyID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Quantity:      r.Quantity,
		Price:         r.Price,
		Leverage:      r.Leverage,
		CurrentNAV:    r.CurrentNAV,
		PositionValue: r.PositionValue,
		Timestamp:     time.Now(),
	}
}

// ValidateResponse is the admission verdict payload.
type ValidateResponse struct {
	Status   string             `json:"status"`
	Approved bool               `json:"approved"`
	Reason   string             `json:"reason"`
	Details  map[string]float64 `json:"details"`
}

// RiskStateResponse exposes the full risk state for operators.
type RiskStateResponse struct {
	Limits               config.RiskLimits           `json:"limits"`
	KillSwitchThresholds config.KillSwitchThresholds `json:"kill_switch_thresholds"`
	RiskState            risk.StateSnapshot          `json:"risk_state"`
	KillSwitchActive     bool                        `json:"kill_switch_active"`
	KillSwitchReason     string                      `json:"kill_switch_reason"`
	InDrawdownCooldown   bool                        `json:"in_drawdown_cooldown"`
}

// KillSwitchRequest toggles the kill switch.
type KillSwitchRequest struct {
	Action string `json:"action"` // "activate" or "deactivate"
	Reason string `json:"reason,omitempty"`
}

// KillSwitchResponse reports the latch state after the action.
type KillSwitchResponse struct {
	KillSwitchActive bool   `json:"kill_switch_active"`
	Reason           string `json:"reason"`
}

// MarketDataRequest carries live market health statistics.
type MarketDataRequest struct {
	Timestamp          time.Time `json:"timestamp"`
	FundingRateBps     float64   `json:"funding_rate_bps"`
	APILatencyP99Ms    float64   `json:"api_latency_p99_ms"`
	PriceDivergenceBps float64   `json:"price_divergence_bps"`
	EquityDropPct      float64   `json:"equity_drop_pct"`
}

// Update converts the request into the domain market data value.
func (r MarketDataRequest) Update() risk.MarketDataUpdate {
	return risk.MarketDataUpdate{
		Timestamp:          r.Timestamp,
		FundingRateBps:     r.FundingRateBps,
		APILatencyP99Ms:    r.APILatencyP99Ms,
		PriceDivergenceBps: r.PriceDivergenceBps,
		EquityDropPct:      r.EquityDropPct,
	}
}

// PortfolioRequest carries the portfolio accountant's state.
type PortfolioRequest struct {
	NAV          float64            `json:"nav"`
	Positions    map[string]float64 `json:"positions"`
	DailyLossPct *float64           `json:"daily_loss_pct,omitempty"`
}

// VolatilitySizeRequest asks for a volatility-targeted position size.
type VolatilitySizeRequest struct {
	RiskBudget   float64 `json:"risk_budget"`
	ATR          float64 `json:"atr"`
	RealizedVol  float64 `json:"realized_vol"`
	HorizonDays  float64 `json:"horizon_days"`
	CurrentPrice float64 `json:"current_price,omitempty"`
}

// VolatilitySizeResponse is the computed size.
type VolatilitySizeResponse struct {
	Size float64 `json:"size"`
}

// AckResponse acknowledges a state update.
type AckResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse reports component status.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}
