// Package openai embeds text through any OpenAI-compatible /embeddings
// endpoint, including Ollama's.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"docrag/internal/domain"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
)

var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	// Dimensions overrides the model's native size; it is also sent to the
	// API so text-embedding-3 models return shortened vectors.
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// Client is an OpenAI-compatible embeddings client.
type Client struct {
	api        *goopenai.Client
	model      string
	dimension  int
	sendDims   bool
	batchSize  int
	maxRetries int
}

// NewClient creates a new embeddings client. The API key is required only
// when talking to the default OpenAI endpoint.
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
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}

	dim := cfg.Dimensions
	if dim <= 0 {
		dim = knownDimensions[cfg.Model]
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: unknown dimension for embedding model %q, set embedder.openai.dimensions", domain.ErrInvalidInput, cfg.Model)
	}

	oc := goopenai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: t}

	return &Client{
		api:        goopenai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimension:  dim,
		sendDims:   cfg.Dimensions > 0,
		batchSize:  cfg.BatchSize,
		maxRetries: 3,
	}, nil
}

// Name identifies the embedding space, so indexes built with another model
// are rejected.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request-sized batches, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	req := goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.model),
	}
	if c.sendDims {
		req.Dimensions = c.dimension
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt - 1)):
			}
		}
		resp, err := c.api.CreateEmbeddings(ctx, req)
		if err != nil {
			lastErr = err
			if retryable(err) {
				continue
			}
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
		}
		vecs := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(texts) {
				return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
			}
			vecs[d.Index] = d.Embedding
		}
		return vecs, nil
	}
	return nil, fmt.Errorf("create embeddings after %d attempts: %w", c.maxRetries+1, lastErr)
}

// retryable reports rate limiting and server-side failures.
func retryable(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
