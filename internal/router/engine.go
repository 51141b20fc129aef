package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/clock"
	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/router/adapters"
	"github.com/af-corp/relay-router/internal/types"
)

// Engine is the routing core: classify, rank, execute with fallback, feed
// the result back into the stores. It is the single entry point the HTTP
// layer calls.
type Engine struct {
	registry func() *catalog.Registry
	adapters *adapters.Registry

	classifier *Classifier
	ranker     *Ranker
	ledger     *Ledger
	health     *HealthTracker
	usage      *UsageRecorder
	orch       *Orchestrator

	cfg    config.RoutingConfig
	clk    clock.Clock
	logger *slog.Logger
}

// NewEngine wires the routing core. The registry is a getter so config
// hot-reload can swap the catalog without restarting the engine; the dynamic
// stores are keyed by backend ID and survive reloads.
func NewEngine(cfg config.RoutingConfig, registry func() *catalog.Registry, adapterReg *adapters.Registry, clk clock.Clock, logger *slog.Logger) *Engine {
	ledger := NewLedger(registry, clk, cfg.RateLimit.DefaultCooldown)
	health := NewHealthTracker(cfg.Health, clk)
	usage := NewUsageRecorder(cfg.Usage.Window, clk)

	return &Engine{
		registry:   registry,
		adapters:   adapterReg,
		classifier: NewClassifier(cfg.Classifier),
		ranker:     NewRanker(cfg.Weights, cfg.Usage.Scale),
		ledger:     ledger,
		health:     health,
		usage:      usage,
		orch:       NewOrchestrator(ledger, health, usage, logger),
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
	}
}

// RouteAndExecute classifies the request, ranks eligible backends, and walks
// the fallback chain. The returned outcome always carries the full
// per-candidate trace.
func (e *Engine) RouteAndExecute(ctx context.Context, req *types.RelayRequest) *Outcome {
	reg := e.registry()

	var cls Classification
	var candidates []Candidate

	if req.Provider != "" || req.Model != "" {
		// Explicit provider/model pinning bypasses classification and
		// ranking but still runs through the orchestrator so feedback is
		// recorded.
		d, ok := e.pinnedDescriptor(reg, req)
		if !ok {
			return &Outcome{
				Status: OutcomeFatal,
				Err:    fmt.Errorf("unknown backend: provider=%q model=%q", req.Provider, req.Model),
			}
		}
		cls = Classification{Category: d.Category, Confidence: 1.0}
		candidates = []Candidate{{
			Backend: d,
			Score:   e.ranker.score(d, e.ledger.Snapshot()[d.ID], e.usage.Snapshot()[d.ID]),
		}}
	} else {
		cls = e.resolveClassification(req)
		candidates = e.rankFor(reg, cls.Category)
	}

	outcome := e.orch.Execute(ctx, candidates, e.invoke(req))
	outcome.Classification = &cls

	e.logger.Info("request routed",
		"request_id", req.RequestID,
		"category", cls.Category,
		"confidence", cls.Confidence,
		"outcome", outcome.Status,
		"backend", outcome.Backend,
		"attempts", len(outcome.Attempts),
	)

	return outcome
}

func (e *Engine) pinnedDescriptor(reg *catalog.Registry, req *types.RelayRequest) (*catalog.Descriptor, bool) {
	switch {
	case req.Provider != "" && req.Model != "":
		return reg.Find(req.Provider, req.Model)
	case req.Model != "":
		return reg.FindModel(req.Model)
	case req.Provider != "":
		// Provider pin without a model: first backend for the provider,
		// deterministic by ID.
		for _, d := range reg.All() {
			if d.Provider == req.Provider {
				return d, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// resolveClassification honors an explicit task_type and falls back to the
// classifier for "auto" or unset.
func (e *Engine) resolveClassification(req *types.RelayRequest) Classification {
	if cat, ok := types.ParseCategory(req.TaskType); ok {
		return Classification{Category: cat, Confidence: 1.0}
	}
	return e.classifier.Classify(req)
}

func (e *Engine) rankFor(reg *catalog.Registry, cat types.Category) []Candidate {
	return e.ranker.Rank(cat, reg,
		e.ledger.Snapshot(),
		e.health.Snapshot(),
		e.usage.Snapshot(),
		e.clk.Now(),
	)
}

// invoke builds the per-attempt adapter call with the configured timeout.
// A timed-out attempt classifies as transient and the chain advances.
func (e *Engine) invoke(req *types.RelayRequest) InvokeFunc {
	return func(ctx context.Context, backend *catalog.Descriptor) (*types.RelayResponse, error) {
		adapter, ok := e.adapters.Get(backend.Provider)
		if !ok {
			return nil, &adapters.Error{
				Provider:  backend.Provider,
				Temporary: true,
				Err:       fmt.Errorf("no adapter configured for provider %q", backend.Provider),
			}
		}

		callCtx := ctx
		if e.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
			defer cancel()
		}

		resp, err := adapter.Invoke(callCtx, backend.Model, req)
		if err != nil {
			return nil, err
		}
		resp.RequestID = req.RequestID
		resp.EstimatedCostUSD = backend.EstimateCostUSD(resp.Usage)
		return resp, nil
	}
}

// HealthSnapshot returns a copy of all tracked health state.
func (e *Engine) HealthSnapshot() map[string]HealthStatus { return e.health.Snapshot() }

// RateLimitSnapshot returns a copy of all tracked rate-window state.
func (e *Engine) RateLimitSnapshot() map[string]RateLimitState { return e.ledger.Snapshot() }

// UsageSnapshot returns a copy of all tracked recent-usage state.
func (e *Engine) UsageSnapshot() map[string]UsageStats { return e.usage.Snapshot() }

// Ledger exposes the rate-limit ledger for the probe loop.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Health exposes the health tracker for the probe loop.
func (e *Engine) Health() *HealthTracker { return e.health }
