package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/router/adapters"
	"github.com/af-corp/relay-router/internal/types"
)

// Prober periodically issues a synthetic one-token request against every
// backend that is not sitting out a rate-limit cooldown, and records the
// result exactly like live-traffic feedback. It runs as a single background
// task, independent of request traffic.
type Prober struct {
	registry func() *catalog.Registry
	adapters *adapters.Registry
	ledger   *Ledger
	health   *HealthTracker

	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewProber(cfg config.HealthConfig, registry func() *catalog.Registry, adapterReg *adapters.Registry, ledger *Ledger, health *HealthTracker, logger *slog.Logger) *Prober {
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		registry: registry,
		adapters: adapterReg,
		ledger:   ledger,
		health:   health,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, probing all backends every interval.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll checks every backend once. Exported so tests and admin surfaces
// can trigger an immediate sweep.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, d := range p.registry().All() {
		if ctx.Err() != nil {
			return
		}
		// A backend cooling down after a rate-limit signal is left alone:
		// probing it would burn exactly the budget it ran out of.
		if !p.ledger.Available(d.ID) {
			continue
		}
		p.probe(ctx, d)
	}
}

func (p *Prober) probe(ctx context.Context, d *catalog.Descriptor) {
	adapter, ok := p.adapters.Get(d.Provider)
	if !ok {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	maxTokens := 1
	_, err := adapter.Invoke(callCtx, d.Model, &types.RelayRequest{
		Messages:  []types.Message{{Role: "user", Content: "ping"}},
		MaxTokens: &maxTokens,
	})

	switch {
	case err == nil:
		p.health.ReportSuccess(d.ID)
	default:
		if retryAfter, ok := adapters.IsRateLimited(err); ok {
			p.ledger.RecordRateLimited(d.ID, retryAfter)
			return
		}
		if adapters.IsTransient(err) {
			p.health.ReportFailure(d.ID)
			p.logger.Warn("probe failed", "backend", d.ID, "error", err)
			return
		}
		// Fatal probe errors (bad credentials, malformed request) are not a
		// backend health signal; they need operator attention instead.
		p.logger.Error("probe returned fatal error", "backend", d.ID, "error", err)
	}
}
