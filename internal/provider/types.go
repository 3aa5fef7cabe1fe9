package provider

import (
	"context"
	"time"
)

// Provider is a single LLM backend capable of producing a completion for
// one prompt, either as a block or as an incremental chunk stream.
type Provider interface {
	ID() string
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error)
	HealthCheck(ctx context.Context) error
}

// CompletionRequest is one prompt submitted to a provider.
type CompletionRequest struct {
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Completion is a full (non-streamed) provider response.
type Completion struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Chunk is one increment of a streamed completion. Usage is only populated
// on the final chunk, and only when the backend reports it.
type Chunk struct {
	Content string `json:"content,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Done    bool   `json:"done"`
}

// Usage tracks token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ModelPricing holds USD rates per 1K tokens for one model.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Config holds configuration for one provider instance.
type Config struct {
	ID       string                  `json:"id"`
	Type     string                  `json:"type"`
	Name     string                  `json:"name"`
	Endpoint string                  `json:"endpoint"`
	APIKey   string                  `json:"api_key"`
	Timeout  time.Duration           `json:"timeout,omitempty"`
	Pricing  map[string]ModelPricing `json:"pricing,omitempty"`
}
