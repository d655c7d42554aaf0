package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIClient implements Client for all OpenAI-compatible providers
// (OpenAI, DeepSeek, Groq, local models, etc.)
type OpenAIClient struct {
	HTTPClient *http.Client
}

func NewOpenAIClient() *OpenAIClient {
	return &OpenAIClient{HTTPClient: http.DefaultClient}
}

func (c *OpenAIClient) Complete(ctx context.Context, params ChatParams) (string, error) {
	baseURL := params.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/") + "/v1"

	body := c.buildRequest(params)
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+params.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var completion openAICompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) buildRequest(params ChatParams) map[string]any {
	messages := make([]map[string]any, 0, len(params.Messages))
	for _, msg := range params.Messages {
		messages = append(messages, map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	req := map[string]any{
		"model":    params.Model,
		"messages": messages,
	}
	if params.Temperature > 0 {
		req["temperature"] = params.Temperature
	}
	return req
}

// OpenAI response types

type openAICompletion struct {
	Choices []openAIChoice `json:"choices"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIMessage struct {
	Content string `json:"content"`
}

// APIError represents an HTTP error from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error (status %d): %s", e.StatusCode, e.Body)
}

// IsRateLimit returns true if this is a rate limit error.
func (e *APIError) IsRateLimit() bool { return e.StatusCode == 429 }

// IsAuth returns true if this is an authentication error.
func (e *APIError) IsAuth() bool { return e.StatusCode == 401 || e.StatusCode == 403 }
