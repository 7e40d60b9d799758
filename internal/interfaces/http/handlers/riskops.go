package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	httpapi "github.com/quantalpha/riskgate/internal/http"
	"github.com/quantalpha/riskgate/internal/persistence"
)

// Validate handles POST /validate.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	var req httpapi.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	order := req.Order()
	verdict := h.controller.ValidateOrder(order)
	h.metrics.ObserveValidation(string(verdict.Status), time.Since(start))

	snap := h.controller.Snapshot()
	h.metrics.SetRiskGauges(snap.KillSwitchActive, snap.CurrentDrawdownPct, snap.DailyLossPct)

	h.recordAudit(persistence.DecisionRecord{
		Timestamp:  verdict.Timestamp,
		StrategyID: order.StrategyID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Status:     string(verdict.Status),
		Reason:     verdict.Reason,
		Details:    verdict.Details,
	})

	h.writeJSON(w, http.StatusOK, httpapi.ValidateResponse{
		Status:   string(verdict.Status),
		Approved: verdict.Approved,
		Reason:   verdict.Reason,
		Details:  verdict.Details,
	})
}

// RiskState handles GET /risk-state.
func (h *Handlers) RiskState(w http.ResponseWriter, r *http.Request) {
	limits, thresholds := h.controller.Limits()
	snap := h.controller.Snapshot()

	h.writeJSON(w, http.StatusOK, httpapi.RiskStateResponse{
		Limits:               limits,
		KillSwitchThresholds: thresholds,
		RiskState:            snap,
		KillSwitchActive:     snap.KillSwitchActive,
		KillSwitchReason:     snap.KillSwitchReason,
		InDrawdownCooldown:   snap.InDrawdownCooldown,
	})
}

// KillSwitch handles POST /kill-switch.
func (h *Handlers) KillSwitch(w http.ResponseWriter, r *http.Request) {
	var req httpapi.KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	switch req.Action {
	case "activate":
		reason := req.Reason
		if reason == "" {
			reason = "manual activation"
		}
		wasActive, _ := h.controller.KillSwitchActive()
		h.controller.ActivateKillSwitch(reason)
		if !wasActive {
			h.metrics.KillSwitchActivationsInc()
		}
	case "deactivate":
		h.controller.DeactivateKillSwitch()
	default:
		h.writeError(w, r, http.StatusBadRequest, "action must be activate or deactivate")
		return
	}

	active, reason := h.controller.KillSwitchActive()
	snap := h.controller.Snapshot()
	h.metrics.SetRiskGauges(snap.KillSwitchActive, snap.CurrentDrawdownPct, snap.DailyLossPct)

	h.writeJSON(w, http.StatusOK, httpapi.KillSwitchResponse{
		KillSwitchActive: active,
		Reason:           reason,
	})
}

// MarketData handles POST /market-data.
func (h *Handlers) MarketData(w http.ResponseWriter, r *http.Request) {
	var req httpapi.MarketDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wasActive, _ := h.controller.KillSwitchActive()
	h.controller.UpdateMarketData(req.Update())

	snap := h.controller.Snapshot()
	h.metrics.SetRiskGauges(snap.KillSwitchActive, snap.CurrentDrawdownPct, snap.DailyLossPct)
	if !wasActive && snap.KillSwitchActive {
		h.metrics.KillSwitchActivationsInc()
	}

	h.writeJSON(w, http.StatusOK, httpapi.AckResponse{OK: true, Timestamp: time.Now().UTC()})
}

// Portfolio handles POST /portfolio.
func (h *Handlers) Portfolio(w http.ResponseWriter, r *http.Request) {
	var req httpapi.PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.controller.UpdatePortfolioState(req.NAV, req.Positions, req.DailyLossPct)

	snap := h.controller.Snapshot()
	h.metrics.SetRiskGauges(snap.KillSwitchActive, snap.CurrentDrawdownPct, snap.DailyLossPct)

	h.writeJSON(w, http.StatusOK, httpapi.AckResponse{OK: true, Timestamp: time.Now().UTC()})
}

// VolatilitySize handles POST /size/volatility.
func (h *Handlers) VolatilitySize(w http.ResponseWriter, r *http.Request) {
	var req httpapi.VolatilitySizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	size := h.controller.VolatilityTargetedSize(
		req.RiskBudget, req.ATR, req.RealizedVol, req.HorizonDays, req.CurrentPrice)

	h.writeJSON(w, http.StatusOK, httpapi.VolatilitySizeResponse{Size: size})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"controller": "ok",
	}
	if h.audit != nil {
		components["audit"] = "configured"
	}

	status := "healthy"
	if active, _ := h.controller.KillSwitchActive(); active {
		status = "halted"
	}

	h.writeJSON(w, http.StatusOK, httpapi.HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	})
}
