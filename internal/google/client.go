// Package google holds thin REST adapters for the Google Calendar and People
// APIs. They speak plain HTTP with a bearer token so the rest of the system
// only sees the narrow collaborator interfaces it needs.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	calendarBaseURL = "https://www.googleapis.com/calendar/v3"
	peopleBaseURL   = "https://people.googleapis.com/v1"
)

// TokenSource yields the OAuth bearer token for a business account.
type TokenSource interface {
	GoogleToken(ctx context.Context, businessID string) (string, error)
}

// APIError is a non-2xx response from a Google API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google api error (status %d): %s", e.StatusCode, e.Body)
}

func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type client struct {
	httpClient *http.Client
	tokens     TokenSource
}

func newClient(tokens TokenSource, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
}

// do issues one authenticated request and decodes the JSON response into out
// (out may be nil for delete-style calls).
func (c *client) do(ctx context.Context, businessID, method, url string, body, out any) error {
	token, err := c.tokens.GoogleToken(ctx, businessID)
	if err != nil {
		return fmt.Errorf("resolve google token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
