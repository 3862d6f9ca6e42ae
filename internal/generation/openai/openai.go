// Package openai completes prompts through an OpenAI-compatible chat
// completions endpoint. Ollama exposes the same API under /v1.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"docrag/internal/domain"
	"docrag/internal/generation"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	OllamaBaseURL      = "http://localhost:11434/v1"
	DefaultOllamaModel = "gemma3:1b"
)

// Config configures the chat completions client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float32
	MaxTokens   int
	// Timeout is the HTTP client timeout; the adapter applies its own per-call bound.
	Timeout time.Duration
}

// Client sends one user message per prompt and returns the first choice.
type Client struct {
	api         *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

var _ domain.Generator = (*Client)(nil)

// NewClient validates cfg and builds the client. No request is made.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == DefaultBaseURL {
		return nil, fmt.Errorf("missing API key in env %q", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	t := cfg.Timeout
	if t == 0 {
		t = 2 * time.Minute
	}

	oc := goopenai.DefaultConfig(key)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: t}

	return &Client{
		api:         goopenai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Factory defers NewClient to the adapter's first use.
func Factory(cfg Config) generation.Factory {
	return func(context.Context) (domain.Generator, error) {
		return NewClient(cfg)
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
