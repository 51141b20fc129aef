package router

import (
	"sort"
	"time"

	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/types"
)

// Candidate is one ranked backend. The ordered candidate list is the
// fallback order; there is no separate fallback artifact.
type Candidate struct {
	Backend *catalog.Descriptor
	Score   float64
}

// Ranker scores eligible backends for a category against point-in-time
// snapshots of the ledger, health, and usage stores.
type Ranker struct {
	weights    config.ScoreWeights
	usageScale float64
}

func NewRanker(weights config.ScoreWeights, usageScale float64) *Ranker {
	if usageScale <= 0 {
		usageScale = 10
	}
	return &Ranker{weights: weights, usageScale: usageScale}
}

// Rank returns the eligible backends for the category sorted by descending
// score. If the requested category has no eligible backends, eligibility is
// re-run against the other category before giving up.
func (r *Ranker) Rank(
	cat types.Category,
	reg *catalog.Registry,
	rates map[string]RateLimitState,
	health map[string]HealthStatus,
	usage map[string]UsageStats,
	now time.Time,
) []Candidate {
	candidates := r.rankCategory(cat, reg, rates, health, usage, now)
	if len(candidates) == 0 {
		candidates = r.rankCategory(cat.Other(), reg, rates, health, usage, now)
	}
	return candidates
}

func (r *Ranker) rankCategory(
	cat types.Category,
	reg *catalog.Registry,
	rates map[string]RateLimitState,
	health map[string]HealthStatus,
	usage map[string]UsageStats,
	now time.Time,
) []Candidate {
	var out []Candidate
	for _, d := range reg.ByCategory(cat) {
		if !eligible(d, rates, health, now) {
			continue
		}
		out = append(out, Candidate{
			Backend: d,
			Score:   r.score(d, rates[d.ID], usage[d.ID]),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Backend.Priority != out[j].Backend.Priority {
			return out[i].Backend.Priority < out[j].Backend.Priority
		}
		return out[i].Backend.ID < out[j].Backend.ID
	})
	return out
}

// eligible is the hard gate: unavailable backends, backends inside a failure
// backoff, and backends with a pending rate-limit cooldown never appear in a
// candidate list. Backends absent from the snapshots are eligible.
func eligible(d *catalog.Descriptor, rates map[string]RateLimitState, health map[string]HealthStatus, now time.Time) bool {
	if hs, ok := health[d.ID]; ok {
		if hs.State == StateUnavailable {
			return false
		}
		if hs.RetryAt.After(now) {
			return false
		}
	}
	if rs, ok := rates[d.ID]; ok && rs.AvailableAfter.After(now) {
		return false
	}
	return true
}

// score computes the weighted multi-factor score; every term is normalized
// to [0,1] before weighting.
func (r *Ranker) score(d *catalog.Descriptor, rs RateLimitState, us UsageStats) float64 {
	benchmarkRank := 1 / float64(d.Ranking)
	benchmarkScore := d.BenchmarkMean() / 100
	priority := 1 / float64(d.Priority)
	costEfficiency := 1 / (1 + d.AvgCostPerMillion())

	headroom := rateLimitHeadroom(d.Budget, rs)

	recency := 1 - us.Decayed/r.usageScale
	if recency < 0 {
		recency = 0
	}

	return r.weights.BenchmarkRank*benchmarkRank +
		r.weights.BenchmarkScore*benchmarkScore +
		r.weights.RateLimitHeadroom*headroom +
		r.weights.Priority*priority +
		r.weights.Recency*recency +
		r.weights.CostEfficiency*costEfficiency
}

// rateLimitHeadroom is 1 − consumed/budget for the tightest of the request
// and token dimensions, clamped to [0,1].
func rateLimitHeadroom(budget catalog.Budget, rs RateLimitState) float64 {
	headroom := 1.0
	if budget.Requests > 0 {
		h := 1 - float64(rs.Requests)/float64(budget.Requests)
		if h < headroom {
			headroom = h
		}
	}
	if budget.Tokens > 0 {
		h := 1 - float64(rs.Tokens)/float64(budget.Tokens)
		if h < headroom {
			headroom = h
		}
	}
	if headroom < 0 {
		return 0
	}
	return headroom
}
