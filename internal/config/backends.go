package config

import (
	"fmt"
	"time"
)

// BackendsConfig is the loaded capability catalog: one entry per
// (provider, model) pair the router may select.
type BackendsConfig struct {
	Backends []BackendConfig `yaml:"backends"`
}

type BackendConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Category string `yaml:"category"` // fast or powerful

	// Ranking is the configured position within the category, 1 = best.
	Ranking int `yaml:"ranking"`
	// Priority is the operator-assigned preference rank, 1 = most preferred.
	Priority int `yaml:"priority"`

	// Benchmarks are named benchmark dimensions on a 0-100 scale
	// (e.g. mmlu, gsm8k, human_eval).
	Benchmarks map[string]float64 `yaml:"benchmarks"`

	// Cost per million tokens in USD.
	InputCostPerMillion  float64 `yaml:"input_cost_per_million"`
	OutputCostPerMillion float64 `yaml:"output_cost_per_million"`

	Budget BudgetConfig `yaml:"budget"`
}

// BudgetConfig is the advisory rate budget for one backend.
type BudgetConfig struct {
	Requests int           `yaml:"requests"`
	Tokens   int           `yaml:"tokens"`
	Window   time.Duration `yaml:"window"`
}

// Validate checks that every backend entry is usable by the ranker.
func (c *BackendsConfig) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("backends config is empty")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Provider == "" || b.Model == "" {
			return fmt.Errorf("backend %d: provider and model are required", i)
		}
		key := b.Provider + "/" + b.Model
		if seen[key] {
			return fmt.Errorf("backend %s: duplicate entry", key)
		}
		seen[key] = true
		if b.Category != "fast" && b.Category != "powerful" {
			return fmt.Errorf("backend %s: category must be fast or powerful, got %q", key, b.Category)
		}
		if b.Ranking < 1 {
			return fmt.Errorf("backend %s: ranking must be >= 1", key)
		}
		if b.Priority < 1 {
			return fmt.Errorf("backend %s: priority must be >= 1", key)
		}
		for name, score := range b.Benchmarks {
			if score < 0 || score > 100 {
				return fmt.Errorf("backend %s: benchmark %s out of range [0,100]: %v", key, name, score)
			}
		}
		if b.Budget.Window <= 0 {
			return fmt.Errorf("backend %s: budget window must be positive", key)
		}
		if b.Budget.Requests <= 0 {
			return fmt.Errorf("backend %s: budget requests must be positive", key)
		}
	}
	return nil
}
