package llm

import "context"

// Client is the unified interface for chat-completion providers.
type Client interface {
	// Complete sends messages to the model and returns the assistant text.
	Complete(ctx context.Context, params ChatParams) (string, error)
}

type ChatParams struct {
	Model       string
	APIKey      string
	BaseURL     string
	Messages    []Message
	Temperature float64 // 0 means provider default
}
