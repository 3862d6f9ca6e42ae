// Package retriever connects extraction, chunking and the vector index.
package retriever

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/extract"
	"docrag/internal/vectorstore"
)

// AllDocuments is the source filter value meaning "search every document".
const AllDocuments = "All Documents"

// DefaultTopK bounds how many chunks reach the prompt.
const DefaultTopK = 3

// Retriever owns the ingest path (bytes to indexed chunks) and the query path
// (question to ranked chunks).
type Retriever struct {
	extractor *extract.Extractor
	chunker   *chunker.WindowChunker
	index     *vectorstore.Index
	topK      int
	log       *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK overrides DefaultTopK. Non-positive values are ignored.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithLogger sets the logger for skipped and ingested files.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.log = l
		}
	}
}

// New wires a retriever over its collaborators.
func New(ex *extract.Extractor, ch *chunker.WindowChunker, ix *vectorstore.Index, opts ...Option) *Retriever {
	r := &Retriever{
		extractor: ex,
		chunker:   ch,
		index:     ix,
		topK:      DefaultTopK,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TopK returns the number of chunks Query asks for.
func (r *Retriever) TopK() int { return r.topK }

// Ingest extracts, chunks and indexes one document and returns the number of
// chunks stored. Unsupported formats and documents without text yield 0 and
// no error so batch callers can report partial success.
func (r *Retriever) Ingest(ctx context.Context, data []byte, filename string) (int, error) {
	text, err := r.Extract(data, filename)
	if err != nil {
		return 0, err
	}
	return r.IngestText(ctx, filename, text)
}

// Extract returns the text of one document. Unsupported formats return an
// empty string and no error.
func (r *Retriever) Extract(data []byte, filename string) (string, error) {
	text, err := r.extractor.ExtractFile(data, filename)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedFormat) {
			r.log.Info("skipping unsupported document", zap.String("source", filename))
			return "", nil
		}
		return "", fmt.Errorf("extract %s: %w", filename, err)
	}
	return text, nil
}

// IngestText chunks already extracted text under source and indexes it.
func (r *Retriever) IngestText(ctx context.Context, source, text string) (int, error) {
	chunks := r.chunker.Chunk(source, text)
	if len(chunks) == 0 {
		r.log.Info("document has no text", zap.String("source", source))
		return 0, nil
	}
	if err := r.index.Insert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("index %s: %w", source, err)
	}
	r.log.Debug("document ingested", zap.String("source", source), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Query returns the top-k chunks for question. sourceFilter restricts the
// search to one document unless it is empty or AllDocuments.
func (r *Retriever) Query(ctx context.Context, question, sourceFilter string) ([]domain.SearchResult, error) {
	var filter domain.Filter
	if sourceFilter != "" && sourceFilter != AllDocuments {
		filter = domain.SourceFilter(sourceFilter)
	}
	results, err := r.index.Search(ctx, question, r.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return results, nil
}
