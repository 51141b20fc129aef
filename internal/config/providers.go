package config

import (
	"fmt"
	"time"
)

// ProvidersConfig holds the upstream provider definitions from providers.yaml.
type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes how to reach one upstream provider API. Type
// selects the wire dialect; anything unset speaks OpenAI-compatible JSON.
type ProviderConfig struct {
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	APIVersion    string            `yaml:"api_version,omitempty"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

const (
	defaultProviderTimeout       = 60 * time.Second
	defaultProviderMaxConcurrent = 16
	defaultAnthropicVersion      = "2023-06-01"
)

// Validate checks provider entries and fills in connection defaults so the
// adapter layer never sees a zero timeout or pool size.
func (c *ProvidersConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}

	for name, p := range c.Providers {
		switch p.Type {
		case "", "openai", "anthropic", "mock":
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
		if p.BaseURL == "" && p.Type != "mock" {
			return fmt.Errorf("provider %q: base_url is required", name)
		}

		if p.Timeout <= 0 {
			p.Timeout = defaultProviderTimeout
		}
		if p.MaxConcurrent <= 0 {
			p.MaxConcurrent = defaultProviderMaxConcurrent
		}
		if p.Type == "anthropic" && p.APIVersion == "" {
			p.APIVersion = defaultAnthropicVersion
		}
		c.Providers[name] = p
	}
	return nil
}
