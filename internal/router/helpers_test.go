package router

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/clock"
	"github.com/af-corp/relay-router/internal/config"
)

// testRegistry builds a small fixed catalog:
//
//	groq/fast-a    fast      ranking 1, priority 1, 30 req/min, 6000 tok/min
//	gemini/fast-b  fast      ranking 2, priority 2, 100 req/min
//	openai/heavy-c powerful  ranking 1, priority 1, 50 req/min
//	openai/heavy-d powerful  ranking 2, priority 2, 50 req/min
func testRegistry() *catalog.Registry {
	reg, err := catalog.FromConfig(&config.BackendsConfig{Backends: []config.BackendConfig{
		{
			Provider: "groq", Model: "fast-a", Category: "fast",
			Ranking: 1, Priority: 1,
			Benchmarks:          map[string]float64{"mmlu": 70},
			InputCostPerMillion: 0.05, OutputCostPerMillion: 0.05,
			Budget: config.BudgetConfig{Requests: 30, Tokens: 6000, Window: time.Minute},
		},
		{
			Provider: "gemini", Model: "fast-b", Category: "fast",
			Ranking: 2, Priority: 2,
			Benchmarks:          map[string]float64{"mmlu": 72},
			InputCostPerMillion: 0.1, OutputCostPerMillion: 0.1,
			Budget: config.BudgetConfig{Requests: 100, Window: time.Minute},
		},
		{
			Provider: "openai", Model: "heavy-c", Category: "powerful",
			Ranking: 1, Priority: 1,
			Benchmarks:          map[string]float64{"mmlu": 88},
			InputCostPerMillion: 2.5, OutputCostPerMillion: 10,
			Budget: config.BudgetConfig{Requests: 50, Window: time.Minute},
		},
		{
			Provider: "openai", Model: "heavy-d", Category: "powerful",
			Ranking: 2, Priority: 2,
			Benchmarks:          map[string]float64{"mmlu": 80},
			InputCostPerMillion: 2, OutputCostPerMillion: 8,
			Budget: config.BudgetConfig{Requests: 50, Window: time.Minute},
		},
	}})
	if err != nil {
		panic(err)
	}
	return reg
}

func registryFrom(t *testing.T, backends []config.BackendConfig) *catalog.Registry {
	t.Helper()
	reg, err := catalog.FromConfig(&config.BackendsConfig{Backends: backends})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return reg
}

func regFunc(reg *catalog.Registry) func() *catalog.Registry {
	return func() *catalog.Registry { return reg }
}

func testClock() *clock.Mock {
	return clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
