package router

import (
	"testing"
	"time"

	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/types"
)

func newTestRanker() *Ranker {
	cfg := config.DefaultRoutingConfig()
	return NewRanker(cfg.Weights, cfg.Usage.Scale)
}

func emptyState() (map[string]RateLimitState, map[string]HealthStatus, map[string]UsageStats) {
	return map[string]RateLimitState{}, map[string]HealthStatus{}, map[string]UsageStats{}
}

func candidateIDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Backend.ID
	}
	return out
}

func TestRanker_OrdersByScoreDescending(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	now := testClock().Now()

	got := r.Rank(types.CategoryFast, reg, rates, health, usage, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 fast candidates, got %d", len(got))
	}
	// fast-a leads fast-b on benchmark rank, priority, and cost.
	if got[0].Backend.ID != backendA {
		t.Errorf("expected %s first, got %v", backendA, candidateIDs(got))
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("expected descending scores, got %f then %f", got[0].Score, got[1].Score)
	}
}

func TestRanker_ExcludesUnavailable(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	health[backendA] = HealthStatus{State: StateUnavailable}

	got := r.Rank(types.CategoryFast, reg, rates, health, usage, testClock().Now())
	if len(got) != 1 || got[0].Backend.ID != "gemini/fast-b" {
		t.Errorf("expected only gemini/fast-b, got %v", candidateIDs(got))
	}
}

func TestRanker_ExcludesFailureBackoff(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	now := testClock().Now()
	health[backendA] = HealthStatus{State: StateDegraded, RetryAt: now.Add(5 * time.Second)}

	got := r.Rank(types.CategoryFast, reg, rates, health, usage, now)
	if len(got) != 1 || got[0].Backend.ID != "gemini/fast-b" {
		t.Errorf("expected only gemini/fast-b during backoff, got %v", candidateIDs(got))
	}

	// Once the backoff expires the backend is eligible again, even while
	// still degraded.
	got = r.Rank(types.CategoryFast, reg, rates, health, usage, now.Add(6*time.Second))
	if len(got) != 2 {
		t.Errorf("expected 2 candidates after backoff expiry, got %v", candidateIDs(got))
	}
}

func TestRanker_ExcludesRateLimitCooldown(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	now := testClock().Now()
	rates[backendA] = RateLimitState{AvailableAfter: now.Add(30 * time.Second)}

	got := r.Rank(types.CategoryFast, reg, rates, health, usage, now)
	if len(got) != 1 || got[0].Backend.ID != "gemini/fast-b" {
		t.Errorf("expected only gemini/fast-b during cooldown, got %v", candidateIDs(got))
	}
}

func TestRanker_CrossCategoryFallback(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	now := testClock().Now()
	health[backendA] = HealthStatus{State: StateUnavailable}
	health["gemini/fast-b"] = HealthStatus{State: StateUnavailable}

	// The whole fast category is out: powerful backends step in.
	got := r.Rank(types.CategoryFast, reg, rates, health, usage, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 cross-category candidates, got %v", candidateIDs(got))
	}
	for _, c := range got {
		if c.Backend.Category != types.CategoryPowerful {
			t.Errorf("expected powerful backends only, got %s", c.Backend.ID)
		}
	}
}

func TestRanker_NoEligibleAnywhere(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	for _, d := range reg.All() {
		health[d.ID] = HealthStatus{State: StateUnavailable}
	}

	got := r.Rank(types.CategoryFast, reg, rates, health, usage, testClock().Now())
	if len(got) != 0 {
		t.Errorf("expected no candidates, got %v", candidateIDs(got))
	}
}

func TestRanker_HeadroomLowersScore(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	now := testClock().Now()

	baseline := r.Rank(types.CategoryFast, reg, rates, health, usage, now)

	// 24 of 30 requests consumed: headroom drops from 1.0 to 0.2.
	rates[backendA] = RateLimitState{Requests: 24}
	loaded := r.Rank(types.CategoryFast, reg, rates, health, usage, now)

	var before, after float64
	for _, c := range baseline {
		if c.Backend.ID == backendA {
			before = c.Score
		}
	}
	for _, c := range loaded {
		if c.Backend.ID == backendA {
			after = c.Score
		}
	}
	if after >= before {
		t.Errorf("expected consumed budget to lower score: %f -> %f", before, after)
	}
}

func TestRanker_RecencyBiasSpreadsLoad(t *testing.T) {
	r := newTestRanker()
	reg := testRegistry()
	rates, health, usage := emptyState()
	now := testClock().Now()

	// Enough recent traffic on fast-a to saturate the recency term.
	usage[backendA] = UsageStats{Count: 10, Decayed: 10}
	got := r.Rank(types.CategoryFast, reg, rates, health, usage, now)

	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	// Recency is a bias, not a gate: fast-a stays ranked, just lower.
	fresh := r.Rank(types.CategoryFast, reg, rates, health, map[string]UsageStats{}, now)
	var before, after float64
	for _, c := range fresh {
		if c.Backend.ID == backendA {
			before = c.Score
		}
	}
	for _, c := range got {
		if c.Backend.ID == backendA {
			after = c.Score
		}
	}
	if after >= before {
		t.Errorf("expected recent usage to lower score: %f -> %f", before, after)
	}
}

func TestRanker_TieBreaksByPriorityThenID(t *testing.T) {
	// Two identical backends except for ID: equal scores, so the tie falls
	// through priority to the lexicographic ID.
	cfg := config.DefaultRoutingConfig()
	r := NewRanker(cfg.Weights, cfg.Usage.Scale)
	reg := registryFrom(t, []config.BackendConfig{
		{
			Provider: "zeta", Model: "m", Category: "fast",
			Ranking: 1, Priority: 1,
			Benchmarks: map[string]float64{"mmlu": 70},
			Budget:     config.BudgetConfig{Requests: 10, Window: time.Minute},
		},
		{
			Provider: "alpha", Model: "m", Category: "fast",
			Ranking: 1, Priority: 1,
			Benchmarks: map[string]float64{"mmlu": 70},
			Budget:     config.BudgetConfig{Requests: 10, Window: time.Minute},
		},
	})
	rates, health, usage := emptyState()

	got := r.Rank(types.CategoryFast, reg, rates, health, usage, testClock().Now())
	want := []string{"alpha/m", "zeta/m"}
	ids := candidateIDs(got)
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("expected %v, got %v", want, ids)
	}
}
