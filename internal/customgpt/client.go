// Package customgpt is the HTTP client for the CustomGPT knowledge-base
// API: it creates remote conversations and relays user prompts, returning
// the generated answer with its citations.
package customgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public CustomGPT API endpoint.
	DefaultBaseURL = "https://app.customgpt.ai/api/v1"

	requestTimeout = 60 * time.Second
	maxRetries     = 3
)

// ErrProviderUnavailable marks transient failures (network, 5xx) where the
// user may simply try again with their next message.
var ErrProviderUnavailable = errors.New("customgpt: provider unavailable")

// ErrProviderRateLimited marks a 429 from the API itself, distinct from the
// gateway's own per-principal limits.
var ErrProviderRateLimited = errors.New("customgpt: provider rate limited")

// Answer is the generated reply for one prompt.
type Answer struct {
	Content   string
	Citations []string
}

// Client talks to one CustomGPT project. Outbound calls are paced with a
// client-side token bucket so a burst of accepted messages cannot trip the
// provider's API limits.
type Client struct {
	baseURL    string
	apiKey     string
	projectID  string
	http       *http.Client
	pacer      *rate.Limiter
	retryDelay time.Duration
}

// New creates a Client for the given project. rps bounds outbound request
// rate; zero disables pacing.
func New(baseURL, apiKey, projectID string, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		pacer = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		projectID:  projectID,
		http:       &http.Client{Timeout: requestTimeout},
		pacer:      pacer,
		retryDelay: time.Second,
	}
}

// SetHTTPClient overrides the underlying HTTP client. Tests use this to
// point at an httptest server without pacing delays.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

type conversationData struct {
	Data struct {
		SessionID json.Number `json:"session_id"`
	} `json:"data"`
}

// CreateConversation opens a fresh remote conversation and returns its
// session id.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/projects/%s/conversations", c.baseURL, c.projectID)

	body, err := c.do(ctx, url, nil, http.StatusCreated)
	if err != nil {
		return "", err
	}

	var parsed conversationData
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse create conversation response: %w", err)
	}
	if parsed.Data.SessionID == "" {
		return "", fmt.Errorf("create conversation: empty session_id")
	}
	return parsed.Data.SessionID.String(), nil
}

type messageRequest struct {
	Prompt         string `json:"prompt"`
	ResponseSource string `json:"response_source"`
	Stream         bool   `json:"stream"`
	Lang           string `json:"lang"`
}

type messageData struct {
	Data struct {
		OpenAIResponse string        `json:"openai_response"`
		Citations      []json.Number `json:"citations"`
	} `json:"data"`
}

// Ask relays a user prompt into the given conversation and returns the
// generated answer.
func (c *Client) Ask(ctx context.Context, conversationID, text string) (Answer, error) {
	url := fmt.Sprintf("%s/projects/%s/conversations/%s/messages",
		c.baseURL, c.projectID, conversationID)

	payload, err := json.Marshal(messageRequest{
		Prompt:         text,
		ResponseSource: "default",
		Stream:         false,
		Lang:           "en",
	})
	if err != nil {
		return Answer{}, fmt.Errorf("marshal message request: %w", err)
	}

	body, err := c.do(ctx, url, payload, http.StatusOK)
	if err != nil {
		return Answer{}, err
	}

	var parsed messageData
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Answer{}, fmt.Errorf("parse message response: %w", err)
	}

	citations := make([]string, 0, len(parsed.Data.Citations))
	for _, cit := range parsed.Data.Citations {
		citations = append(citations, cit.String())
	}
	return Answer{Content: parsed.Data.OpenAIResponse, Citations: citations}, nil
}

// do POSTs with pacing and retry. 5xx and network errors retry with linear
// backoff; 429 and 4xx do not.
func (c *Client) do(ctx context.Context, url string, payload []byte, wantStatus int) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		body, retryable, err := c.attempt(ctx, url, payload, wantStatus)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		slog.Warn("customgpt request failed", "url", url, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, url string, payload []byte, wantStatus int) (body []byte, retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == wantStatus:
		return data, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, false, ErrProviderRateLimited
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("customgpt: unexpected status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
