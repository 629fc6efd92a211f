package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Rewind/internal/domain/models"
	"Rewind/internal/domain/service"
	"Rewind/internal/services/gateway"
)

// Config holds the OpenRouter endpoint and credentials.
type Config struct {
	BaseURL string        `yaml:"base_url" default:"https://openrouter.ai/api/v1"`
	APIKey  string        `yaml:"api_key"`
	Referer string        `yaml:"referer" default:"https://github.com/rewind-backtest/rewind"`
	Timeout time.Duration `yaml:"timeout" default:"120s"`
}

// Client completes prompts through the chat completions API.
type Client struct {
	base *gateway.Base
}

var _ service.ModelInference = (*Client)(nil)

// New creates an OpenRouter client.
func New(cfg Config) *Client {
	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	if cfg.Referer != "" {
		headers["HTTP-Referer"] = cfg.Referer
	}
	return &Client{base: gateway.NewBase(gateway.Config{
		Name:    "openrouter",
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Headers: headers,
	})}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req service.CompletionRequest) (string, error) {
	body := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, message{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := c.base.PostJSON(ctx, "chat_completions", "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openrouter chat_completions: %w: %s", models.ErrServiceUnavailable, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter chat_completions: %w: no choices returned", models.ErrValidationFailure)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openrouter chat_completions: %w: empty completion", models.ErrValidationFailure)
	}
	return content, nil
}
