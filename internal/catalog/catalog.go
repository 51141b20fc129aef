// Package catalog holds the capability registry: the immutable set of
// backend descriptors the router can select from. Descriptors are built once
// from configuration and never mutated afterwards; all dynamic state (rate
// windows, health, usage) lives in the router stores keyed by descriptor ID.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/types"
)

// Descriptor describes one (provider, model) backend.
type Descriptor struct {
	// ID is "provider/model", unique across the registry.
	ID       string
	Provider string
	Model    string
	Category types.Category

	// Ranking is the configured benchmark position within the category, 1 = best.
	Ranking int
	// Priority is the operator preference rank, 1 = most preferred.
	Priority int

	// Benchmarks are named 0-100 benchmark dimensions.
	Benchmarks map[string]float64

	InputCostPerMillion  float64
	OutputCostPerMillion float64

	Budget Budget
}

// Budget is the advisory per-window rate budget for a backend.
type Budget struct {
	Requests int
	Tokens   int
	Window   time.Duration
}

// BenchmarkMean returns the average of all benchmark dimensions on the 0-100
// scale, or 0 if none are configured.
func (d *Descriptor) BenchmarkMean() float64 {
	if len(d.Benchmarks) == 0 {
		return 0
	}
	var sum float64
	for _, v := range d.Benchmarks {
		sum += v
	}
	return sum / float64(len(d.Benchmarks))
}

// AvgCostPerMillion is the mean of input and output cost per million tokens.
func (d *Descriptor) AvgCostPerMillion() float64 {
	return (d.InputCostPerMillion + d.OutputCostPerMillion) / 2
}

// EstimateCostUSD computes the cost of a completed request.
func (d *Descriptor) EstimateCostUSD(usage types.Usage) float64 {
	in := float64(usage.PromptTokens) / 1_000_000 * d.InputCostPerMillion
	out := float64(usage.CompletionTokens) / 1_000_000 * d.OutputCostPerMillion
	return in + out
}

// Registry is the loaded, validated capability catalog. It is safe for
// concurrent use because it is immutable after construction.
type Registry struct {
	byID       map[string]*Descriptor
	byCategory map[types.Category][]*Descriptor
	all        []*Descriptor
}

// FromConfig builds a registry from a validated backends config.
func FromConfig(cfg *config.BackendsConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		byID:       make(map[string]*Descriptor, len(cfg.Backends)),
		byCategory: make(map[types.Category][]*Descriptor),
	}

	for _, b := range cfg.Backends {
		cat, ok := types.ParseCategory(b.Category)
		if !ok {
			return nil, fmt.Errorf("backend %s/%s: invalid category %q", b.Provider, b.Model, b.Category)
		}
		benchmarks := make(map[string]float64, len(b.Benchmarks))
		for k, v := range b.Benchmarks {
			benchmarks[k] = v
		}
		d := &Descriptor{
			ID:                   b.Provider + "/" + b.Model,
			Provider:             b.Provider,
			Model:                b.Model,
			Category:             cat,
			Ranking:              b.Ranking,
			Priority:             b.Priority,
			Benchmarks:           benchmarks,
			InputCostPerMillion:  b.InputCostPerMillion,
			OutputCostPerMillion: b.OutputCostPerMillion,
			Budget: Budget{
				Requests: b.Budget.Requests,
				Tokens:   b.Budget.Tokens,
				Window:   b.Budget.Window,
			},
		}
		r.byID[d.ID] = d
		r.byCategory[cat] = append(r.byCategory[cat], d)
		r.all = append(r.all, d)
	}

	for cat := range r.byCategory {
		ds := r.byCategory[cat]
		sort.Slice(ds, func(i, j int) bool {
			if ds[i].Ranking != ds[j].Ranking {
				return ds[i].Ranking < ds[j].Ranking
			}
			return ds[i].ID < ds[j].ID
		})
	}
	sort.Slice(r.all, func(i, j int) bool { return r.all[i].ID < r.all[j].ID })

	return r, nil
}

// Get returns the descriptor for a backend ID.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Find returns the descriptor for a (provider, model) pair.
func (r *Registry) Find(provider, model string) (*Descriptor, bool) {
	return r.Get(provider + "/" + model)
}

// FindModel returns the first descriptor whose model ID matches, regardless
// of provider. Used for request-level model pinning without a provider.
func (r *Registry) FindModel(model string) (*Descriptor, bool) {
	for _, d := range r.all {
		if d.Model == model {
			return d, true
		}
	}
	return nil, false
}

// ByCategory returns descriptors in a category, sorted by configured ranking.
// The returned slice must not be mutated.
func (r *Registry) ByCategory(cat types.Category) []*Descriptor {
	return r.byCategory[cat]
}

// All returns every descriptor, sorted by ID.
func (r *Registry) All() []*Descriptor {
	return r.all
}

// Len returns the number of backends in the registry.
func (r *Registry) Len() int {
	return len(r.all)
}
