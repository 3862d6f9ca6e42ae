// Package vectorstore provides the guarded vector index and the storage
// contract its backends implement.
package vectorstore

import (
	"context"
	"sort"

	"docrag/internal/domain"
)

// EmbeddingSpec identifies the embedding space an index was built in.
type EmbeddingSpec struct {
	Embedder  string
	Dimension int
}

// Storage persists index entries and answers brute-force or native similarity queries.
// Implementations need not be safe against concurrent Clear; Index serializes it.
type Storage interface {
	// Init opens or creates the store for spec. A store previously built with a
	// different spec fails with domain.ErrEmbedderMismatch.
	Init(ctx context.Context, spec EmbeddingSpec) error
	Upsert(ctx context.Context, entries []domain.IndexEntry) error
	// Search returns at most topK entries matching filter by descending cosine similarity.
	Search(ctx context.Context, vector []float32, topK int, filter domain.Filter) ([]domain.SearchResult, error)
	Count(ctx context.Context) (int, error)
	// Sources returns the distinct source labels of all stored entries.
	Sources(ctx context.Context) ([]string, error)
	DeleteSource(ctx context.Context, source string) (int, error)
	// Clear removes every entry while keeping the store initialized for its spec.
	Clear(ctx context.Context) error
	Close() error
}

// TopK orders candidates by descending score, keeping input order for ties,
// and truncates to k.
func TopK(candidates []domain.SearchResult, k int) []domain.SearchResult {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if k >= 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
