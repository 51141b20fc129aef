package adapters

import (
	"net/http"
	"sync"
	"time"

	"github.com/af-corp/relay-router/internal/config"
)

// Registry maps provider names to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

func (r *Registry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Swap replaces the registered adapters with those in other. Safe against
// concurrent Get calls; used when the provider config reloads.
func (r *Registry) Swap(other *Registry) {
	other.mu.RLock()
	replacement := make(map[string]Adapter, len(other.adapters))
	for name, a := range other.adapters {
		replacement[name] = a
	}
	other.mu.RUnlock()

	r.mu.Lock()
	r.adapters = replacement
	r.mu.Unlock()
}

// BuildFromConfig builds provider adapters from the providers config.
func BuildFromConfig(provCfg *config.ProvidersConfig) *Registry {
	registry := NewRegistry()
	for name, cfg := range provCfg.Providers {
		client := &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		var adapter Adapter
		switch cfg.Type {
		case "anthropic":
			adapter = NewAnthropicAdapter(name, cfg, client)
		case "mock":
			adapter = NewMockAdapter(name)
		default:
			// Everything else speaks an OpenAI-compatible API.
			adapter = NewOpenAIAdapter(name, cfg, client)
		}
		registry.Register(name, adapter)
	}
	return registry
}
