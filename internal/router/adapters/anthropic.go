package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/relay-router/internal/config"
	"github.com/af-corp/relay-router/internal/types"
)

// AnthropicAdapter handles the Anthropic Messages API.
type AnthropicAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropicAdapter(name string, cfg config.ProviderConfig, client *http.Client) *AnthropicAdapter {
	return &AnthropicAdapter{name: name, cfg: cfg, client: client}
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) Invoke(ctx context.Context, model string, req *types.RelayRequest) (*types.RelayResponse, error) {
	// Convert OpenAI-format messages to Anthropic format
	var system string
	var messages []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	// Anthropic requires max_tokens
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := anthropicRequestBody{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Provider: a.name, Status: http.StatusBadRequest, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := a.cfg.BaseURL + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Provider: a.name, Status: http.StatusBadRequest, Err: fmt.Errorf("create http request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	if a.cfg.APIVersion != "" {
		httpReq.Header.Set("anthropic-version", a.cfg.APIVersion)
	}
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: a.name, Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: a.name, Temporary: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Provider:   a.name,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp),
			Message:    truncate(string(respBody), 512),
		}
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		return nil, &Error{Provider: a.name, Temporary: true, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	var content string
	for _, block := range antResp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}

	return &types.RelayResponse{
		Model:    antResp.Model,
		Provider: a.name,
		Choices: []types.Choice{
			{
				Index: 0,
				Message: types.Message{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: mapStopReason(antResp.StopReason),
			},
		},
		Usage: types.Usage{
			PromptTokens:     antResp.Usage.InputTokens,
			CompletionTokens: antResp.Usage.OutputTokens,
			TotalTokens:      antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stop        []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
