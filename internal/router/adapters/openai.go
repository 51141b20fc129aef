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

// OpenAIAdapter handles OpenAI-compatible chat completion APIs. Since the
// relay uses the OpenAI format as canonical, the request body is mostly
// passthrough.
type OpenAIAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIAdapter(name string, cfg config.ProviderConfig, client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{name: name, cfg: cfg, client: client}
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) Invoke(ctx context.Context, model string, req *types.RelayRequest) (*types.RelayResponse, error) {
	body := openAIRequestBody{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Provider: a.name, Status: http.StatusBadRequest, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := a.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Provider: a.name, Status: http.StatusBadRequest, Err: fmt.Errorf("create http request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
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

	var oaiResp openAIResponseBody
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, &Error{Provider: a.name, Temporary: true, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	out := &types.RelayResponse{
		Model:    oaiResp.Model,
		Provider: a.name,
		Usage: types.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}

	for _, c := range oaiResp.Choices {
		out.Choices = append(out.Choices, types.Choice{
			Index: c.Index,
			Message: types.Message{
				Role:    c.Message.Role,
				Content: c.Message.Content,
			},
			FinishReason: c.FinishReason,
		})
	}

	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type openAIRequestBody struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIResponseBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      types.Message `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
