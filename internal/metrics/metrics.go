package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Prometheus metrics for the risk service. A nil
// *Registry is valid and records nothing, so wiring stays optional.
type Registry struct {
	registry *prometheus.Registry

	ValidationTotal    *prometheus.CounterVec
	ValidationDuration prometheus.Histogram

	KillSwitchActive      prometheus.Gauge
	KillSwitchActivations prometheus.Counter

	DrawdownPct  prometheus.Gauge
	DailyLossPct prometheus.Gauge

	ClientCacheHits   prometheus.Counter
	ClientCacheMisses prometheus.Counter
	ClientFailPolicy  *prometheus.CounterVec
}

// NewRegistry creates and registers all risk service metrics.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		ValidationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskgate_validations_total",
				Help: "Order validation outcomes by status",
			},
			[]string{"status"},
		),

		ValidationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskgate_validation_duration_seconds",
				Help:    "Order validation latency in seconds",
				Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
			},
		),

		KillSwitchActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskgate_kill_switch_active",
				Help: "Whether the kill switch is currently latched (0 or 1)",
			},
		),

		KillSwitchActivations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskgate_kill_switch_activations_total",
				Help: "Total number of kill switch activations",
			},
		),

		DrawdownPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskgate_drawdown_pct",
				Help: "Current drawdown from peak NAV (0.0 to 1.0)",
			},
		),

		DailyLossPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskgate_daily_loss_pct",
				Help: "Current daily loss fraction of NAV",
			},
		),

		ClientCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskgate_client_cache_hits_total",
				Help: "Risk client validation cache hits",
			},
		),

		ClientCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskgate_client_cache_misses_total",
				Help: "Risk client validation cache misses",
			},
		),

		ClientFailPolicy: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskgate_client_fail_policy_total",
				Help: "Risk client fallback decisions by policy outcome",
			},
			[]string{"outcome"},
		),
	}

	r.registry.MustRegister(
		r.ValidationTotal,
		r.ValidationDuration,
		r.KillSwitchActive,
		r.KillSwitchActivations,
		r.DrawdownPct,
		r.DailyLossPct,
		r.ClientCacheHits,
		r.ClientCacheMisses,
		r.ClientFailPolicy,
	)

	return r
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveValidation records one validation outcome and its latency.
func (r *Registry) ObserveValidation(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ValidationTotal.WithLabelValues(status).Inc()
	r.ValidationDuration.Observe(elapsed.Seconds())
}

// KillSwitchActivationsInc records one kill switch latch transition.
func (r *Registry) KillSwitchActivationsInc() {
	if r == nil {
		return
	}
	r.KillSwitchActivations.Inc()
}

// ClientCacheHitsInc records a risk client cache hit.
func (r *Registry) ClientCacheHitsInc() {
	if r == nil {
		return
	}
	r.ClientCacheHits.Inc()
}

// ClientCacheMissesInc records a risk client cache miss.
func (r *Registry) ClientCacheMissesInc() {
	if r == nil {
		return
	}
	r.ClientCacheMisses.Inc()
}

// ClientFailPolicyInc records a fail-open/fail-closed fallback decision.
func (r *Registry) ClientFailPolicyInc(outcome string) {
	if r == nil {
		return
	}
	r.ClientFailPolicy.WithLabelValues(outcome).Inc()
}

// SetRiskGauges updates the state gauges from a snapshot.
func (r *Registry) SetRiskGauges(killSwitchActive bool, drawdownPct, dailyLossPct float64) {
	if r == nil {
		return
	}
	if killSwitchActive {
		r.KillSwitchActive.Set(1)
	} else {
		r.KillSwitchActive.Set(0)
	}
	r.DrawdownPct.Set(drawdownPct)
	r.DailyLossPct.Set(dailyLossPct)
}
