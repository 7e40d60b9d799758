package risk

import "time"

// Status is the admission verdict for a proposed order.
type Status string

const (
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusKillSwitch Status = "KILL_SWITCH"
)

// OrderRequest is an immutable candidate order submitted for admission.
type OrderRequest struct {
	StrategyID    string    `json:"strategy_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Leverage      float64   `json:"leverage"`
	CurrentNAV    float64   `json:"current_nav"`
	PositionValue float64   `json:"position_value"`
	Timestamp     time.Time `json:"timestamp"`
}

// Verdict is the outcome of order validation. Details carries the computed
// exposure ratios for observability regardless of outcome.
type Verdict struct {
	Status    Status             `json:"status"`
	Approved  bool               `json:"approved"`
	Reason    string             `json:"reason"`
	Details   map[string]float64 `json:"details"`
	Timestamp time.Time          `json:"timestamp"`
}

// MarketDataUpdate carries live market health statistics from the market
// data source. Timestamp is the data's own timestamp, used for staleness.
type MarketDataUpdate struct {
	Timestamp          time.Time `json:"timestamp"`
	FundingRateBps     float64   `json:"funding_rate_bps"`
	APILatencyP99Ms    float64   `json:"api_latency_p99_ms"`
	PriceDivergenceBps float64   `json:"price_divergence_bps"`
	EquityDropPct      float64   `json:"equity_drop_pct"`
}

// StateSnapshot is a consistent copy of the controller's risk state, used
// for the risk-state endpoint and advisory checkpointing.
type StateSnapshot struct {
	DailyLossPct       float64            `json:"daily_loss_pct"`
	CurrentDrawdownPct float64            `json:"current_drawdown_pct"`
	DrawdownPeakNAV    float64            `json:"drawdown_peak_nav"`
	DrawdownStartTime  time.Time          `json:"drawdown_start_time"`
	TotalExposure      float64            `json:"total_exposure"`
	Positions          map[string]float64 `json:"positions"`
	KillSwitchActive   bool               `json:"kill_switch_active"`
	KillSwitchReason   string             `json:"kill_switch_reason"`
	LastDataUpdate     time.Time          `json:"last_data_update"`
	APILatencyP99Ms    float64            `json:"api_latency_p99_ms"`
	FundingRateBps     float64            `json:"funding_rate_bps"`
	PriceDivergenceBps float64            `json:"price_divergence_bps"`
	InDrawdownCooldown bool               `json:"in_drawdown_cooldown"`
	SnapshotTime       time.Time          `json:"snapshot_time"`
}
