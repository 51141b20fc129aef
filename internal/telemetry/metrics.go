package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay router.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	FallbackDepth        *prometheus.HistogramVec
	AttemptTotal         *prometheus.CounterVec
	BackendHealthState   *prometheus.GaugeVec
	BackendRateLimitHits *prometheus.CounterVec
	InboundRateLimitHits *prometheus.CounterVec
	TokensTotal          *prometheus.CounterVec
	CostUSDTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_request_total",
			Help: "Total number of routed requests by terminal outcome.",
		}, []string{"category", "provider", "model", "outcome"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_request_duration_ms",
			Help:    "Total request duration in milliseconds (all attempts included).",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider", "model"}),

		FallbackDepth: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_fallback_depth",
			Help:    "Number of backend attempts consumed per request.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 12},
		}, []string{"outcome"}),

		AttemptTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_attempt_total",
			Help: "Total backend attempts by per-attempt status.",
		}, []string{"backend", "status"}),

		BackendHealthState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_backend_health_state",
			Help: "Backend health state: 0=healthy, 1=degraded, 2=unavailable.",
		}, []string{"backend"}),

		BackendRateLimitHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_backend_rate_limit_hits_total",
			Help: "Total 429 signals received from upstream backends.",
		}, []string{"backend"}),

		InboundRateLimitHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_inbound_rate_limit_hits_total",
			Help: "Total inbound requests rejected by the per-key rate limiter.",
		}, []string{"key"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"provider", "model", "direction"}),

		CostUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"provider", "model"}),
	}
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(
		labels.Category, labels.Provider, labels.Model, labels.Outcome,
	).Inc()

	m.RequestDurationMs.WithLabelValues(
		labels.Provider, labels.Model,
	).Observe(labels.DurationMs)

	m.FallbackDepth.WithLabelValues(labels.Outcome).Observe(float64(labels.Attempts))

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Provider, labels.Model, "prompt",
		).Add(float64(labels.PromptTokens))
	}

	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Provider, labels.Model, "completion",
		).Add(float64(labels.CompletionTokens))
	}

	if labels.CostUSD > 0 {
		m.CostUSDTotal.WithLabelValues(
			labels.Provider, labels.Model,
		).Add(labels.CostUSD)
	}
}

// RecordAttempt records one backend attempt from the fallback trace.
func (m *Metrics) RecordAttempt(backend, status string) {
	m.AttemptTotal.WithLabelValues(backend, status).Inc()
}

// RecordBackendRateLimit records an upstream 429 signal.
func (m *Metrics) RecordBackendRateLimit(backend string) {
	m.BackendRateLimitHits.WithLabelValues(backend).Inc()
}

// RecordInboundRateLimitHit records an inbound per-key limiter rejection.
func (m *Metrics) RecordInboundRateLimitHit(key string) {
	m.InboundRateLimitHits.WithLabelValues(key).Inc()
}

// SetBackendHealth publishes a backend's health state.
func (m *Metrics) SetBackendHealth(backend string, state float64) {
	m.BackendHealthState.WithLabelValues(backend).Set(state)
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Category         string
	Provider         string
	Model            string
	Outcome          string
	Attempts         int
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}
