package router

import (
	"context"
	"testing"
	"time"

	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/clock"
	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/router/adapters"
	"github.com/af-corp/relay-router/internal/types"
)

type orchFixture struct {
	orch   *Orchestrator
	ledger *Ledger
	health *HealthTracker
	usage  *UsageRecorder
	clk    *clock.Mock
	reg    *catalog.Registry
}

func newOrchFixture() *orchFixture {
	clk := testClock()
	reg := testRegistry()
	cfg := config.DefaultRoutingConfig()

	ledger := NewLedger(regFunc(reg), clk, cfg.RateLimit.DefaultCooldown)
	health := NewHealthTracker(cfg.Health, clk)
	usage := NewUsageRecorder(cfg.Usage.Window, clk)

	return &orchFixture{
		orch:   NewOrchestrator(ledger, health, usage, testLogger()),
		ledger: ledger,
		health: health,
		usage:  usage,
		clk:    clk,
		reg:    reg,
	}
}

func (f *orchFixture) candidates(t *testing.T, ids ...string) []Candidate {
	t.Helper()
	out := make([]Candidate, 0, len(ids))
	for i, id := range ids {
		d, ok := f.reg.Get(id)
		if !ok {
			t.Fatalf("unknown fixture backend %q", id)
		}
		out = append(out, Candidate{Backend: d, Score: 1 - float64(i)*0.1})
	}
	return out
}

// scriptedInvoke returns an InvokeFunc that answers per backend ID. Backends
// without a script succeed.
func scriptedInvoke(results map[string]error) InvokeFunc {
	return func(_ context.Context, backend *catalog.Descriptor) (*types.RelayResponse, error) {
		if err, ok := results[backend.ID]; ok && err != nil {
			return nil, err
		}
		return &types.RelayResponse{
			Model:    backend.Model,
			Provider: backend.Provider,
			Choices: []types.Choice{{
				Message:      types.Message{Role: "assistant", Content: "ok"},
				FinishReason: "stop",
			}},
			Usage: types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
}

func rateLimitErr(retryAfter time.Duration) error {
	return &adapters.Error{Provider: "test", Status: 429, RetryAfter: retryAfter, Message: "rate limited"}
}

func transientErr() error {
	return &adapters.Error{Provider: "test", Status: 503, Message: "upstream unavailable"}
}

func fatalErr() error {
	return &adapters.Error{Provider: "test", Status: 400, Message: "invalid request"}
}

func TestOrchestrator_FirstCandidateSucceeds(t *testing.T) {
	f := newOrchFixture()
	cands := f.candidates(t, backendA, "gemini/fast-b")

	out := f.orch.Execute(context.Background(), cands, scriptedInvoke(nil))

	if out.Status != OutcomeSuccess {
		t.Fatalf("expected success, got %s (err=%v)", out.Status, out.Err)
	}
	if out.Backend != backendA {
		t.Errorf("expected %s, got %s", backendA, out.Backend)
	}
	if len(out.Attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(out.Attempts))
	}
	if f.ledger.Snapshot()[backendA].Tokens != 15 {
		t.Errorf("expected token usage recorded in ledger")
	}
	if f.health.Status(backendA).ConsecutiveSuccesses != 1 {
		t.Errorf("expected success reported to health tracker")
	}
	if f.usage.Stats(backendA).Count != 1 {
		t.Errorf("expected attempt recorded in usage")
	}
}

func TestOrchestrator_RateLimitedAdvancesWithoutHealthPenalty(t *testing.T) {
	f := newOrchFixture()
	cands := f.candidates(t, backendA, "gemini/fast-b")

	out := f.orch.Execute(context.Background(), cands, scriptedInvoke(map[string]error{
		backendA: rateLimitErr(10 * time.Second),
	}))

	if out.Status != OutcomeSuccess {
		t.Fatalf("expected success via fallback, got %s (err=%v)", out.Status, out.Err)
	}
	if out.Backend != "gemini/fast-b" {
		t.Errorf("expected gemini/fast-b, got %s", out.Backend)
	}
	if len(out.Attempts) != 2 {
		t.Fatalf("expected 2 attempts in trace, got %d", len(out.Attempts))
	}
	if out.Attempts[0].Status != AttemptRateLimited {
		t.Errorf("expected first attempt rate_limited, got %s", out.Attempts[0].Status)
	}

	// The 429 sets a ledger cooldown but never touches health.
	if f.ledger.Available(backendA) {
		t.Error("expected ledger cooldown after rate-limit signal")
	}
	if f.health.Status(backendA).ConsecutiveFailures != 0 {
		t.Error("rate limiting must not count as a health failure")
	}
}

func TestOrchestrator_TransientFailuresExhaustChain(t *testing.T) {
	f := newOrchFixture()
	cands := f.candidates(t, backendA, "gemini/fast-b", "openai/heavy-c")

	out := f.orch.Execute(context.Background(), cands, scriptedInvoke(map[string]error{
		backendA:         transientErr(),
		"gemini/fast-b":  transientErr(),
		"openai/heavy-c": transientErr(),
	}))

	if out.Status != OutcomeExhausted {
		t.Fatalf("expected exhausted, got %s", out.Status)
	}
	if len(out.Attempts) != 3 {
		t.Fatalf("expected 3 trace entries, got %d", len(out.Attempts))
	}
	for i, a := range out.Attempts {
		if a.Status != AttemptTransient {
			t.Errorf("attempt %d: expected transient_error, got %s", i, a.Status)
		}
		if a.Error == "" {
			t.Errorf("attempt %d: expected error detail in trace", i)
		}
	}
	// Each distinct backend was tried exactly once and penalized once.
	for _, id := range []string{backendA, "gemini/fast-b", "openai/heavy-c"} {
		if got := f.health.Status(id).ConsecutiveFailures; got != 1 {
			t.Errorf("%s: expected 1 health failure, got %d", id, got)
		}
	}
}

func TestOrchestrator_FatalAbortsImmediately(t *testing.T) {
	f := newOrchFixture()
	cands := f.candidates(t, backendA, "gemini/fast-b")

	out := f.orch.Execute(context.Background(), cands, scriptedInvoke(map[string]error{
		backendA: fatalErr(),
	}))

	if out.Status != OutcomeFatal {
		t.Fatalf("expected fatal, got %s", out.Status)
	}
	if len(out.Attempts) != 1 {
		t.Fatalf("expected the chain to stop after 1 attempt, got %d", len(out.Attempts))
	}
	if out.Attempts[0].Status != AttemptFatal {
		t.Errorf("expected fatal_error attempt, got %s", out.Attempts[0].Status)
	}
	// Client-side errors are not the backend's fault.
	if f.health.Status(backendA).ConsecutiveFailures != 0 {
		t.Error("fatal errors must not penalize backend health")
	}
}

func TestOrchestrator_CancelledBeforeAttempt(t *testing.T) {
	f := newOrchFixture()
	cands := f.candidates(t, backendA)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.orch.Execute(ctx, cands, scriptedInvoke(nil))
	if out.Status != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", out.Status)
	}
	if len(out.Attempts) != 0 {
		t.Errorf("expected no attempts after pre-cancel, got %d", len(out.Attempts))
	}
}

func TestOrchestrator_CancelledDuringAttempt(t *testing.T) {
	f := newOrchFixture()
	cands := f.candidates(t, backendA, "gemini/fast-b")

	ctx, cancel := context.WithCancel(context.Background())
	invoke := func(_ context.Context, _ *catalog.Descriptor) (*types.RelayResponse, error) {
		cancel()
		return nil, context.Canceled
	}

	out := f.orch.Execute(ctx, cands, invoke)
	if out.Status != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", out.Status)
	}
	// The in-flight attempt is traced; the chain does not advance.
	if len(out.Attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(out.Attempts))
	}
}

func TestOrchestrator_NoCandidates(t *testing.T) {
	f := newOrchFixture()

	out := f.orch.Execute(context.Background(), nil, scriptedInvoke(nil))
	if out.Status != OutcomeNoCandidates {
		t.Fatalf("expected no_candidates, got %s", out.Status)
	}
	if out.Err == nil {
		t.Error("expected a descriptive error")
	}
}

func TestOrchestrator_EveryAttemptCountsTowardUsage(t *testing.T) {
	f := newOrchFixture()
	cands := f.candidates(t, backendA, "gemini/fast-b")

	f.orch.Execute(context.Background(), cands, scriptedInvoke(map[string]error{
		backendA: transientErr(),
	}))

	// Failed attempts spread load too.
	if f.usage.Stats(backendA).Count != 1 {
		t.Errorf("expected failed attempt recorded in usage")
	}
	if f.usage.Stats("gemini/fast-b").Count != 1 {
		t.Errorf("expected successful attempt recorded in usage")
	}
}
