// Package provider talks to an OpenAI-compatible chat completion API and
// classifies its failures for the broker.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 64 << 10
)

// Client communicates with the completion API. The credential is supplied
// per call so one client serves every pair in the broker's chain.
type Client struct {
	baseURL    string
	httpClient *http.Client
	title      string
}

// NewClient creates a client for baseURL. An empty baseURL uses the Groq
// OpenAI-compatible endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		title: "vquiz",
	}
}

// Complete sends a non-streaming chat completion and returns the first
// choice's content. When jsonMode is set the provider is asked for a JSON
// object response.
func (c *Client) Complete(ctx context.Context, apiKey, model string, messages []Message, jsonMode bool) (string, error) {
	req := ChatRequest{Model: model, Messages: messages}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq, apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyResponse(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Malformed("decoding completion: %v", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", Malformed("completion has no content")
	}
	return out.Choices[0].Message.Content, nil
}

// ListModels returns the models visible to apiKey.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp)
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-Title", c.title)
}

var quotaPatterns = []string{
	"rate limit",
	"rate_limit",
	"quota",
	"too many requests",
	"tokens per minute",
	"requests per day",
	"try again in",
}

var modelGonePatterns = []string{
	"decommissioned",
	"model_not_found",
	"does not exist",
	"no longer supported",
	"model not found",
}

// classifyResponse turns a non-200 response into an *Error.
func classifyResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	e := &Error{Status: resp.StatusCode, Code: eb.Error.Code, Message: msg}
	lower := strings.ToLower(msg + " " + eb.Error.Code + " " + eb.Error.Type)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		strings.Contains(lower, "invalid_api_key"), strings.Contains(lower, "invalid api key"):
		e.Kind = KindAuth
	case containsAny(lower, modelGonePatterns):
		e.Kind = KindModelUnavailable
	case resp.StatusCode == http.StatusNotFound && strings.Contains(lower, "model"):
		e.Kind = KindModelUnavailable
	case containsAny(lower, quotaPatterns):
		e.Kind = KindRateLimit
	default:
		e.Kind = KindOther
	}
	return e
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
