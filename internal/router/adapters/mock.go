package adapters

import (
	"context"
	"sync"

	"github.com/af-corp/relay-router/internal/types"
)

// MockAdapter returns scripted results for tests and local runs. Results are
// keyed by model; each Invoke for a model consumes the next scripted result,
// repeating the last one once the script is exhausted.
type MockAdapter struct {
	name string

	mu      sync.Mutex
	scripts map[string][]mockResult
	calls   map[string]int
}

type mockResult struct {
	resp *types.RelayResponse
	err  error
}

func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		name:    name,
		scripts: make(map[string][]mockResult),
		calls:   make(map[string]int),
	}
}

func (a *MockAdapter) Name() string { return a.name }

// Respond scripts a successful response for a model.
func (a *MockAdapter) Respond(model string, resp *types.RelayResponse) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[model] = append(a.scripts[model], mockResult{resp: resp})
	return a
}

// Fail scripts an error for a model.
func (a *MockAdapter) Fail(model string, err error) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[model] = append(a.scripts[model], mockResult{err: err})
	return a
}

// Calls returns how many times a model was invoked.
func (a *MockAdapter) Calls(model string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[model]
}

func (a *MockAdapter) Invoke(_ context.Context, model string, req *types.RelayRequest) (*types.RelayResponse, error) {
	a.mu.Lock()
	idx := a.calls[model]
	a.calls[model]++
	script := a.scripts[model]
	a.mu.Unlock()

	if len(script) == 0 {
		// Unscripted models succeed with an empty completion.
		return &types.RelayResponse{
			Model:    model,
			Provider: a.name,
			Choices: []types.Choice{{
				Message:      types.Message{Role: "assistant", Content: "ok"},
				FinishReason: "stop",
			}},
			Usage: types.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		}, nil
	}

	if idx >= len(script) {
		idx = len(script) - 1
	}
	r := script[idx]
	if r.err != nil {
		return nil, r.err
	}
	return r.resp, nil
}
