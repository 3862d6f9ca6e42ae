package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docrag/internal/chatlog"
	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding/hashing"
	embopenai "docrag/internal/embedding/openai"
	"docrag/internal/extract"
	"docrag/internal/generation"
	genopenai "docrag/internal/generation/openai"
	"docrag/internal/logging"
	"docrag/internal/prompt"
	"docrag/internal/retriever"
	"docrag/internal/service"
	"docrag/internal/summarizer"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/memory"
	"docrag/internal/vectorstore/qdrant"
	"docrag/internal/vectorstore/sqlite"
)

// app holds the assembled components for one command invocation.
type app struct {
	cfg   *config.AppConfig
	log   *zap.Logger
	index *vectorstore.Index
	svc   *service.RAGService
	chat  *chatlog.Store
}

func loadConfig(opts *rootOptions) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if opts.configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(opts.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context, opts *rootOptions) (a *app, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logCfg := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	if opts.verbose {
		logCfg.Level = "debug"
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			log.Error("startup failed", zap.Error(err))
			_ = log.Sync()
		}
	}()

	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	st, err := buildStorage(cfg)
	if err != nil {
		return nil, err
	}
	ix, err := vectorstore.Open(ctx, st, emb,
		vectorstore.WithLogger(log.Named("index")),
		vectorstore.WithResetRetry(cfg.VectorStore.ResetAttempts, time.Duration(cfg.VectorStore.ResetBackoffMilli)*time.Millisecond))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ch, err := chunker.NewWindowChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		_ = ix.Close()
		return nil, err
	}
	rt := retriever.New(extract.New(log.Named("extract")), ch, ix,
		retriever.WithTopK(cfg.Retriever.TopK),
		retriever.WithLogger(log.Named("retriever")))

	pb := prompt.NewBuilder(prompt.Template{
		Preamble:        cfg.Prompt.Preamble,
		Instruction:     cfg.Prompt.Instruction,
		NoContextMarker: cfg.Prompt.NoContextMarker,
	})
	gen := generation.NewAdapter(buildGeneratorFactory(cfg),
		generation.WithTimeout(cfg.GeneratorTimeout()),
		generation.WithFallback(cfg.Generator.Fallback),
		generation.WithLogger(log.Named("generation")))

	opt := []service.Option{
		service.WithConcurrency(cfg.Ingest.Concurrency),
		service.WithLogger(log.Named("service")),
	}
	if sum := buildSummarizer(cfg); sum != nil {
		opt = append(opt, service.WithSummarizer(sum, cfg.Summarizer.MaxSentences))
	}

	log.Debug("components ready",
		zap.String("embedder", emb.Name()),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("generator", cfg.Generator.Type))

	return &app{
		cfg:   cfg,
		log:   log,
		index: ix,
		svc:   service.NewRAGService(rt, ix, pb, gen, opt...),
	}, nil
}

// chatLog opens the conversation history on first use.
func (a *app) chatLog() (*chatlog.Store, error) {
	if a.chat != nil {
		return a.chat, nil
	}
	s, err := chatlog.Open(a.cfg.ChatLog.Path)
	if err != nil {
		return nil, err
	}
	a.chat = s
	return s, nil
}

func (a *app) Close() error {
	var errs []error
	if a.chat != nil {
		errs = append(errs, a.chat.Close())
	}
	errs = append(errs, a.index.Close())
	_ = a.log.Sync()
	return errors.Join(errs...)
}

func buildEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing":
		return hashing.New(cfg.Embedder.Dimension), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Dimensions: oc.Dimensions,
			BatchSize:  oc.BatchSize,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func buildStorage(cfg *config.AppConfig) (vectorstore.Storage, error) {
	switch cfg.VectorStore.Type {
	case "sqlite":
		st, err := sqlite.Open(cfg.VectorStore.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
		}
		return st, nil
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		qc := cfg.VectorStore.Qdrant
		return qdrant.NewStorage(qdrant.Config{
			URL:        qc.URL,
			APIKey:     qc.APIKey,
			Collection: qc.Collection,
			Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

func buildGeneratorFactory(cfg *config.AppConfig) generation.Factory {
	g := cfg.Generator
	switch g.Type {
	case "ollama", "openai":
		return genopenai.Factory(genopenai.Config{
			BaseURL:     g.BaseURL,
			APIKeyEnv:   g.APIKeyEnv,
			Model:       g.Model,
			Temperature: g.Temperature,
			MaxTokens:   g.MaxTokens,
		})
	default:
		return generation.Unavailable("no language model configured")
	}
}

func buildSummarizer(cfg *config.AppConfig) domain.Summarizer {
	if cfg.Summarizer.Type == "frequency" {
		return summarizer.NewFrequencySummarizer()
	}
	return nil
}
