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

	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/metrics"
	"voice-qa-go/internal/types"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Completer returns the text of a single chat completion.
type Completer interface {
	Complete(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
	log     *logger.Logger
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
		log:     logger.New().WithComponent("llm-client"),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one request and returns choices[0].message.content.
// Failures are not retried.
func (c *Client) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	content, err := c.complete(ctx, messages, temperature)
	metrics.DefaultMetrics.RecordLLMRequest(err)
	return content, err
}

func (c *Client) complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("llm api key not configured: %w", types.ErrPrecondition)
	}
	data, err := json.Marshal(chatRequest{Model: c.Model, Messages: messages, Temperature: temperature})
	if err != nil {
		return "", fmt.Errorf("encode llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("api-subscription-key", c.APIKey)

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %v: %w", err, types.ErrUpstream)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	c.logger().WithField("http_status", resp.StatusCode).
		WithField("latency_ms", time.Since(start).Milliseconds()).
		Debug("llm response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm returned %d: %s: %w", resp.StatusCode, truncate(string(body), 300), types.ErrUpstream)
	}
	content, err := extractContent(body)
	if err != nil {
		return "", err
	}
	return content, nil
}

// extractContent reads openai-style choices[0].message.content
func extractContent(body []byte) (string, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode llm response: %v: %w", err, types.ErrUpstream)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm response has no choices: %w", types.ErrUpstream)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) logger() *logger.Logger {
	if c.log == nil {
		c.log = logger.New().WithComponent("llm-client")
	}
	return c.log
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
