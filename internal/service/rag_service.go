// Package service is the boundary of the pipeline used by the CLI and TUI.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docrag/internal/domain"
	"docrag/internal/generation"
	"docrag/internal/prompt"
	"docrag/internal/retriever"
	"docrag/internal/vectorstore"
)

// DefaultConcurrency bounds IngestFiles when no option is given.
const DefaultConcurrency = 4

// Answer is the result of one question.
type Answer struct {
	Text string
	// Sources lists the distinct sources of the retrieved chunks in rank order.
	Sources []string
	// Grounded is true when at least one chunk reached the prompt.
	Grounded bool
	// Fallback is true when Text is the fixed fallback message.
	Fallback bool
	Results  []domain.SearchResult
}

// IngestReport describes the outcome for one file of a batch.
type IngestReport struct {
	Path    string
	Source  string
	Chunks  int
	Summary string
	// Skipped is set for unsupported or empty files.
	Skipped bool
	Err     error
}

// RAGService wires retrieval, prompt assembly and generation.
type RAGService struct {
	retriever  *retriever.Retriever
	index      *vectorstore.Index
	prompts    *prompt.Builder
	generator  *generation.Adapter
	summarizer domain.Summarizer

	summarySentences int
	concurrency      int
	log              *zap.Logger
}

// Option configures a RAGService.
type Option func(*RAGService)

// WithSummarizer enables per-file summaries in ingest reports.
func WithSummarizer(s domain.Summarizer, maxSentences int) Option {
	return func(r *RAGService) {
		r.summarizer = s
		r.summarySentences = maxSentences
	}
}

// WithConcurrency bounds how many files IngestFiles processes at once.
func WithConcurrency(n int) Option {
	return func(r *RAGService) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *RAGService) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRAGService creates the service. The index must be the one the retriever searches.
func NewRAGService(rt *retriever.Retriever, ix *vectorstore.Index, pb *prompt.Builder, gen *generation.Adapter, opts ...Option) *RAGService {
	s := &RAGService{
		retriever:   rt,
		index:       ix,
		prompts:     pb,
		generator:   gen,
		concurrency: DefaultConcurrency,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestDocument indexes one uploaded file and returns the number of chunks
// stored; 0 means the file was unsupported or empty.
func (s *RAGService) IngestDocument(ctx context.Context, data []byte, filename string) (int, error) {
	return s.retriever.Ingest(ctx, data, filename)
}

// IngestFiles reads and indexes every path. Glob patterns are expanded.
// Per-file failures are recorded in the reports; an unavailable index aborts
// the batch and is returned.
func (s *RAGService) IngestFiles(ctx context.Context, paths []string) ([]IngestReport, error) {
	files := expandPaths(paths)
	reports := make([]IngestReport, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, path := range files {
		i, path := i, path
		reports[i] = IngestReport{Path: path, Source: filepath.Base(path)}
		g.Go(func() error {
			rep := &reports[i]
			if err := gctx.Err(); err != nil {
				rep.Err = err
				return nil
			}
			err := s.ingestFile(gctx, rep)
			if err == nil {
				return nil
			}
			rep.Err = err
			if errors.Is(err, domain.ErrIndexUnavailable) {
				return err
			}
			s.log.Warn("ingest failed", zap.String("path", path), zap.Error(err))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (s *RAGService) ingestFile(ctx context.Context, rep *IngestReport) error {
	data, err := os.ReadFile(rep.Path)
	if err != nil {
		return err
	}
	text, err := s.retriever.Extract(data, rep.Source)
	if err != nil {
		return err
	}
	n, err := s.retriever.IngestText(ctx, rep.Source, text)
	if err != nil {
		return err
	}
	rep.Chunks = n
	if n == 0 {
		rep.Skipped = true
		return nil
	}
	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(text, s.summarySentences)
		if err != nil {
			s.log.Debug("summary failed", zap.String("source", rep.Source), zap.Error(err))
		}
		rep.Summary = summary
	}
	s.log.Info("ingested", zap.String("source", rep.Source), zap.Int("chunks", n))
	return nil
}

func expandPaths(paths []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// Query retrieves context for question, builds the prompt and asks the
// generator. Generation failures never reach the caller: the answer carries
// the fallback message instead. sourceFilter follows retriever.Query.
func (s *RAGService) Query(ctx context.Context, question, sourceFilter string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	results, err := s.retriever.Query(ctx, question, sourceFilter)
	if err != nil {
		return nil, err
	}

	text, err := s.generator.Complete(ctx, s.prompts.Build(question, results))
	answer := &Answer{
		Text:     text,
		Sources:  distinctSources(results),
		Grounded: len(results) > 0,
		Fallback: err != nil,
		Results:  results,
	}
	s.log.Debug("answered",
		zap.Int("chunks", len(results)),
		zap.String("filter", sourceFilter),
		zap.Bool("fallback", answer.Fallback))
	return answer, nil
}

// Ask is Query reduced to the answer text.
func (s *RAGService) Ask(ctx context.Context, question, sourceFilter string) (string, error) {
	a, err := s.Query(ctx, question, sourceFilter)
	if err != nil {
		return "", err
	}
	return a.Text, nil
}

// DocumentCount returns the number of indexed chunks.
func (s *RAGService) DocumentCount(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}

// DistinctSources lists indexed source names.
func (s *RAGService) DistinctSources(ctx context.Context) ([]string, error) {
	return s.index.DistinctSources(ctx)
}

// DeleteSource removes one document's chunks.
func (s *RAGService) DeleteSource(ctx context.Context, source string) (int, error) {
	return s.index.DeleteSource(ctx, source)
}

// ResetAll empties the index. It reports true on success; failures are
// returned without further retries.
func (s *RAGService) ResetAll(ctx context.Context) (bool, error) {
	if err := s.index.Reset(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// TopK returns the retrieval depth.
func (s *RAGService) TopK() int { return s.retriever.TopK() }

func distinctSources(results []domain.SearchResult) []string {
	var out []string
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if _, ok := seen[r.Chunk.Source]; ok {
			continue
		}
		seen[r.Chunk.Source] = struct{}{}
		out = append(out, r.Chunk.Source)
	}
	return out
}
