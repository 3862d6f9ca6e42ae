// Package config loads the YAML application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"docrag/internal/chunker"
	"docrag/internal/domain"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension,omitempty"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type              string        `yaml:"type"`
	SQLite            *SQLiteConfig `yaml:"sqlite,omitempty"`
	Qdrant            *QdrantConfig `yaml:"qdrant,omitempty"`
	ResetAttempts     int           `yaml:"reset_attempts"`
	ResetBackoffMilli int           `yaml:"reset_backoff_ms"`
}

// SQLiteConfig locates the durable index file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrieverConfig sets how many chunks ground each answer.
type RetrieverConfig struct {
	TopK int `yaml:"top_k"`
}

// PromptConfig customizes the prompt template. Instruction carries optional
// language or style guidance and is empty by default.
type PromptConfig struct {
	Preamble        string `yaml:"preamble,omitempty"`
	Instruction     string `yaml:"instruction,omitempty"`
	NoContextMarker string `yaml:"no_context_marker,omitempty"`
}

// GeneratorConfig selects the language model backend: ollama, openai or none.
type GeneratorConfig struct {
	Type        string  `yaml:"type"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Fallback    string  `yaml:"fallback,omitempty"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// ChatLogConfig locates the conversation history database.
type ChatLogConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig bounds batch ingestion.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retriever   RetrieverConfig   `yaml:"retriever"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	ChatLog     ChatLogConfig     `yaml:"chat_log"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configurations that cannot start. Chunking errors wrap
// domain.ErrInvalidSplitConfig.
func (c *AppConfig) Validate() error {
	if err := chunker.Validate(c.Chunker.ChunkSize, c.Chunker.ChunkOverlap); err != nil {
		return err
	}
	switch c.Embedder.Type {
	case "hashing":
	case "openai":
		if c.Embedder.OpenAI == nil {
			return fmt.Errorf("%w: embedder.openai section missing", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidInput, c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "sqlite", "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return fmt.Errorf("%w: vector_store.qdrant.url missing", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidInput, c.VectorStore.Type)
	}
	switch c.Generator.Type {
	case "ollama", "openai", "none":
	default:
		return fmt.Errorf("%w: unknown generator %q", domain.ErrInvalidInput, c.Generator.Type)
	}
	switch c.Summarizer.Type {
	case "frequency", "none":
	default:
		return fmt.Errorf("%w: unknown summarizer %q", domain.ErrInvalidInput, c.Summarizer.Type)
	}
	if c.Retriever.TopK <= 0 {
		return fmt.Errorf("%w: retriever.top_k must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// GeneratorTimeout returns the per-call generation bound.
func (c *AppConfig) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSecs) * time.Second
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

// Default returns the built-in configuration: hashing embedder, SQLite index
// under ./data and a local Ollama model.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}

	// Only fill the pair when both are unset so an explicit 0 overlap survives.
	if cfg.Chunker.ChunkSize == 0 && cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkSize = chunker.DefaultChunkSize
		cfg.Chunker.ChunkOverlap = chunker.DefaultChunkOverlap
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "sqlite"
	}
	if cfg.VectorStore.Type == "sqlite" {
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = filepath.Join("data", "index.db")
		}
	}
	if cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "docrag"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.VectorStore.ResetAttempts == 0 {
		cfg.VectorStore.ResetAttempts = 3
	}
	if cfg.VectorStore.ResetBackoffMilli == 0 {
		cfg.VectorStore.ResetBackoffMilli = 200
	}

	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 3
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "ollama"
	}
	switch cfg.Generator.Type {
	case "ollama":
		if cfg.Generator.BaseURL == "" {
			cfg.Generator.BaseURL = "http://localhost:11434/v1"
		}
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gemma3:1b"
		}
	case "openai":
		if cfg.Generator.BaseURL == "" {
			cfg.Generator.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Generator.APIKeyEnv == "" {
			cfg.Generator.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gpt-4o-mini"
		}
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = 60
	}

	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 2
	}
	if cfg.ChatLog.Path == "" {
		cfg.ChatLog.Path = filepath.Join("data", "chat.db")
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
