/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package llm

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

// Default endpoints per provider
const (
	defaultAnthropicURL = "https://api.anthropic.com/v1"
	defaultOpenAIURL    = "https://api.openai.com"
	defaultOllamaURL    = "http://localhost:11434"
)

// Client handles completions against LLM APIs (Anthropic, OpenAI or Ollama).
// Requests carry the caller's context so a cancelled request closes the
// transport instead of letting the completion arrive and be discarded.
type Client struct {
	provider    string // "anthropic", "openai" or "ollama"
	apiKey      string // not used by ollama
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewClient creates a new LLM client for the given provider
func NewClient(provider, apiKey, baseURL, model string, maxTokens int, temperature float64) *Client {
	if baseURL == "" {
		switch provider {
		case "anthropic":
			baseURL = defaultAnthropicURL
		case "openai":
			baseURL = defaultOpenAIURL
		case "ollama":
			baseURL = defaultOllamaURL
		}
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Client{
		provider:    provider,
		apiKey:      apiKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured returns whether the client is properly configured
func (c *Client) IsConfigured() bool {
	switch c.provider {
	case "anthropic", "openai":
		return c.apiKey != "" && c.model != ""
	case "ollama":
		return c.baseURL != "" && c.model != ""
	default:
		return false
	}
}

// Complete sends the prompt to the configured provider and returns the raw
// completion text. Transport failures, timeouts and non-200 responses all
// surface as ErrUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("%w: LLM client not configured", ErrUnavailable)
	}

	switch c.provider {
	case "anthropic":
		return c.completeAnthropic(ctx, prompt)
	case "openai", "ollama":
		return c.completeOpenAI(ctx, prompt)
	default:
		return "", fmt.Errorf("%w: unsupported provider %q", ErrUnavailable, c.provider)
	}
}

// completeAnthropic uses Anthropic's Messages API
func (c *Client) completeAnthropic(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	body, err := c.post(ctx, c.baseURL+"/messages", reqBody, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("%w: no content in response", ErrMalformed)
	}
	return resp.Content[0].Text, nil
}

// completeOpenAI uses the chat completions API, which Ollama also speaks
func (c *Client) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      false,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	body, err := c.post(ctx, c.baseURL+"/v1/chat/completions", reqBody, headers)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrMalformed)
	}
	return resp.Choices[0].Message.Content, nil
}

// post sends a JSON request and returns the response body
func (c *Client) post(ctx context.Context, url string, reqBody interface{}, headers map[string]string) ([]byte, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return body, nil
}

// chatMessage is shared by all providers
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Anthropic API types
type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	ID      string                  `json:"id"`
	Type    string                  `json:"type"`
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OpenAI-compatible API types (OpenAI and Ollama)
type openAIRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
	Messages    []chatMessage `json:"messages"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
}

type openAIChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}
