package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	httpapi "github.com/quantalpha/riskgate/internal/http"
	"github.com/quantalpha/riskgate/internal/metrics"
	"github.com/quantalpha/riskgate/internal/persistence"
	"github.com/quantalpha/riskgate/internal/risk"
)

// Handlers serves the risk service endpoints.
type Handlers struct {
	controller *risk.Controller
	metrics    *metrics.Registry
	audit      persistence.AuditRepo
}

// NewHandlers creates the endpoint handlers. Metrics and audit may be nil.
func NewHandlers(controller *risk.Controller, reg *metrics.Registry, audit persistence.AuditRepo) *Handlers {
	return &Handlers{
		controller: controller,
		metrics:    reg,
		audit:      audit,
	}
}

// writeJSON writes a JSON response body.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes the standard error envelope.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	requestID, _ := r.Context().Value(httpapi.RequestIDKey).(string)
	h.writeJSON(w, status, httpapi.ErrorResponse{
		Error:     message,
		RequestID: requestID,
	})
}

// NotFound handles unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint not found")
}

// recordAudit persists a decision off the request path. Audit writes are
// advisory and never block or fail admission.
func (h *Handlers) recordAudit(record persistence.DecisionRecord) {
	if h.audit == nil {
		return
	}
	go func() {
		if err := h.audit.Insert(context.Background(), record); err != nil {
			log.Warn().Err(err).Msg("decision audit write failed")
		}
	}()
}
