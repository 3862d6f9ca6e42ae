// Package memory is a process-local vector store using brute-force cosine similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/vectorstore"
)

// Storage keeps entries in insertion order. It is safe for concurrent use.
type Storage struct {
	mu      sync.RWMutex
	spec    vectorstore.EmbeddingSpec
	entries []domain.IndexEntry
	pos     map[string]int
}

// NewStorage returns an empty, uninitialized store.
func NewStorage() *Storage { return &Storage{pos: make(map[string]int)} }

var _ vectorstore.Storage = (*Storage)(nil)

func (s *Storage) Init(_ context.Context, spec vectorstore.EmbeddingSpec) error {
	if spec.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spec.Dimension != 0 && s.spec != spec {
		return fmt.Errorf("%w: store holds %s/%d, got %s/%d", domain.ErrEmbedderMismatch,
			s.spec.Embedder, s.spec.Dimension, spec.Embedder, spec.Dimension)
	}
	s.spec = spec
	return nil
}

func (s *Storage) Upsert(_ context.Context, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if err := embedding.CheckDimension(s.spec.Dimension, e.Embedding); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if i, ok := s.pos[e.Chunk.ID]; ok {
			s.entries[i] = e
			continue
		}
		s.pos[e.Chunk.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int, filter domain.Filter) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := make([]domain.SearchResult, 0, len(s.entries))
	for _, e := range s.entries {
		if !filter.Matches(e.Chunk.Metadata) {
			continue
		}
		candidates = append(candidates, domain.SearchResult{Chunk: e.Chunk, Score: embedding.Cosine(vector, e.Embedding)})
	}
	return vectorstore.TopK(candidates, topK), nil
}

func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *Storage) Sources(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, e := range s.entries {
		src := e.Chunk.Metadata[domain.MetaSource]
		if _, ok := seen[src]; ok || src == "" {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

func (s *Storage) DeleteSource(_ context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.Chunk.Metadata[domain.MetaSource] == source {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	s.reindex()
	return removed, nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	clear(s.pos)
	return nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) reindex() {
	clear(s.pos)
	for i, e := range s.entries {
		s.pos[e.Chunk.ID] = i
	}
}
