package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/relay-router/internal/auth"
	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/httputil"
	"github.com/af-corp/relay-router/internal/router"
	"github.com/af-corp/relay-router/internal/store"
	"github.com/af-corp/relay-router/internal/telemetry"
	"github.com/af-corp/relay-router/internal/types"
)

// TokenRecorder records per-key token consumption for inbound limiting.
type TokenRecorder interface {
	AddTokens(ctx context.Context, keyID string, tokens int) error
}

// Handler holds dependencies for the relay HTTP handlers.
type Handler struct {
	engine   *router.Engine
	registry func() *catalog.Registry
	requests *store.RequestStore
	tokens   TokenRecorder
	metrics  *telemetry.Metrics
}

func NewHandler(engine *router.Engine, registry func() *catalog.Registry, requests *store.RequestStore, tokens TokenRecorder, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		engine:   engine,
		registry: registry,
		requests: requests,
		tokens:   tokens,
		metrics:  metrics,
	}
}

// Chat handles POST /v1/chat
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var relayReq types.RelayRequest
	if err := json.Unmarshal(body, &relayReq); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	relayReq.RequestID = reqID
	relayReq.APIKeyID = authInfo.KeyID
	relayReq.ReceivedAt = receivedAt

	if len(relayReq.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, "messages is required")
		return
	}
	if relayReq.Model != "" && !authInfo.ModelAllowed(relayReq.Model) {
		httputil.WriteAuthError(w, reqID, "Model not permitted for this API key")
		return
	}

	outcome := h.engine.RouteAndExecute(r.Context(), &relayReq)
	duration := time.Since(receivedAt)

	h.recordOutcome(&relayReq, outcome, duration)

	switch outcome.Status {
	case router.OutcomeSuccess:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Relay-Backend", outcome.Backend)
		if outcome.Classification != nil {
			w.Header().Set("X-Relay-Category", string(outcome.Classification.Category))
		}
		w.Header().Set("X-Relay-Attempts", strconv.Itoa(len(outcome.Attempts)))
		json.NewEncoder(w).Encode(outcome.Response)

	case router.OutcomeCancelled:
		// The client is gone; nothing useful can be written.
		slog.Info("request cancelled by client", "request_id", reqID)

	case router.OutcomeFatal:
		httputil.WriteBadRequestError(w, reqID, outcome.Err.Error())

	default:
		// no_candidates and exhausted both mean no backend could serve.
		httputil.WriteServiceUnavailableError(w, reqID, outcome.Err.Error())
	}
}

// recordOutcome pushes the outcome into logs, metrics, and the request log.
func (h *Handler) recordOutcome(req *types.RelayRequest, outcome *router.Outcome, duration time.Duration) {
	category := ""
	if outcome.Classification != nil {
		category = string(outcome.Classification.Category)
	}

	var provider, model string
	var usage types.Usage
	var cost float64
	if outcome.Response != nil {
		provider = outcome.Response.Provider
		model = outcome.Response.Model
		usage = outcome.Response.Usage
		cost = outcome.Response.EstimatedCostUSD
	}

	if h.metrics != nil {
		for _, a := range outcome.Attempts {
			h.metrics.RecordAttempt(a.Backend, string(a.Status))
			if a.Status == router.AttemptRateLimited {
				h.metrics.RecordBackendRateLimit(a.Backend)
			}
		}
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Category:         category,
			Provider:         provider,
			Model:            model,
			Outcome:          string(outcome.Status),
			Attempts:         len(outcome.Attempts),
			DurationMs:       float64(duration.Milliseconds()),
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			CostUSD:          cost,
		})
	}

	if h.requests != nil {
		rec := &store.RequestRecord{
			RequestID:        req.RequestID,
			APIKeyID:         req.APIKeyID,
			Category:         category,
			Provider:         provider,
			Model:            model,
			Backend:          outcome.Backend,
			Outcome:          string(outcome.Status),
			Attempts:         len(outcome.Attempts),
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			CostUSD:          cost,
			DurationMs:       duration.Milliseconds(),
			CreatedAt:        req.ReceivedAt,
		}
		// Fire-and-forget: the request log is observability, not truth.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.requests.Insert(ctx, rec); err != nil {
				slog.Warn("request log insert failed", "request_id", rec.RequestID, "error", err)
			}
		}()
	}

	// Feed consumed tokens back into the inbound TPM window.
	if h.tokens != nil && req.APIKeyID != "" && usage.TotalTokens > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := h.tokens.AddTokens(ctx, req.APIKeyID, usage.TotalTokens); err != nil {
			slog.Warn("token usage record failed", "request_id", req.RequestID, "error", err)
		}
		cancel()
	}
}

// backendStatus is one row of the GET /v1/backends/status response.
type backendStatus struct {
	ID        string                `json:"id"`
	Provider  string                `json:"provider"`
	Model     string                `json:"model"`
	Category  string                `json:"category"`
	Ranking   int                   `json:"ranking"`
	Priority  int                   `json:"priority"`
	Health    router.HealthStatus   `json:"health"`
	RateLimit router.RateLimitState `json:"rate_limit"`
	Usage     router.UsageStats     `json:"usage"`
}

// BackendsStatus handles GET /v1/backends/status
func (h *Handler) BackendsStatus(w http.ResponseWriter, r *http.Request) {
	health := h.engine.HealthSnapshot()
	rates := h.engine.RateLimitSnapshot()
	usage := h.engine.UsageSnapshot()

	var out []backendStatus
	for _, d := range h.registry().All() {
		hs, ok := health[d.ID]
		if !ok {
			hs = router.HealthStatus{State: router.StateHealthy}
		}
		out = append(out, backendStatus{
			ID:        d.ID,
			Provider:  d.Provider,
			Model:     d.Model,
			Category:  string(d.Category),
			Ranking:   d.Ranking,
			Priority:  d.Priority,
			Health:    hs,
			RateLimit: rates[d.ID],
			Usage:     usage[d.ID],
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"backends": out})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	var models []modelObject
	for _, d := range h.registry().All() {
		if !authInfo.ModelAllowed(d.Model) {
			continue
		}
		models = append(models, modelObject{
			ID:      d.Model,
			Object:  "model",
			Created: 0,
			OwnedBy: d.Provider,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelListResponse{
		Object: "list",
		Data:   models,
	})
}

// Usage handles GET /v1/usage
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	resp := map[string]interface{}{
		"window": h.engine.UsageSnapshot(),
	}

	if h.requests != nil {
		since := time.Now().Add(-24 * time.Hour)
		if raw := r.URL.Query().Get("since"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				httputil.WriteBadRequestError(w, reqID, "invalid since duration: "+err.Error())
				return
			}
			since = time.Now().Add(-d)
		}
		summary, err := h.requests.Summary(r.Context(), since)
		if err != nil {
			slog.Error("usage summary failed", "error", err)
			httputil.WriteInternalError(w, reqID, "Failed to load usage summary")
			return
		}
		resp["persisted"] = summary
		resp["since"] = since.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}
