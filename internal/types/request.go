package types

import "time"

// RelayRequest is the canonical internal representation of an incoming chat
// completion request. All provider-specific formats are converted to/from
// this type.
type RelayRequest struct {
	// Identity (set by auth middleware)
	RequestID string `json:"request_id"`
	APIKeyID  string `json:"api_key_id"`

	// Request content
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	TaskType    string    `json:"task_type,omitempty"` // fast, powerful, auto
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`

	// Internal tracking
	ReceivedAt time.Time `json:"-"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}
