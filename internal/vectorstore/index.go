package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"docrag/internal/domain"
	"docrag/internal/embedding"
)

// State is the lifecycle state of an Index.
type State int32

const (
	StateReady State = iota
	StateResetting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateResetting:
		return "resetting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Index is the single shared vector index. Insert, Reset and DeleteSource take
// the exclusive lock; Search, Count and DistinctSources share it. Embedding
// always happens before any lock is taken.
type Index struct {
	mu       sync.RWMutex
	state    atomic.Int32
	storage  Storage
	embedder domain.Embedder
	log      *zap.Logger

	resetAttempts int
	resetBackoff  time.Duration
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for reset and failure reporting.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.log = l
		}
	}
}

// WithResetRetry sets how many times Clear is attempted and the delay between attempts.
func WithResetRetry(attempts int, backoff time.Duration) Option {
	return func(ix *Index) {
		if attempts > 0 {
			ix.resetAttempts = attempts
		}
		if backoff >= 0 {
			ix.resetBackoff = backoff
		}
	}
}

// Open initializes storage for embedder and returns a ready index.
func Open(ctx context.Context, storage Storage, embedder domain.Embedder, opts ...Option) (*Index, error) {
	ix := &Index{
		storage:       storage,
		embedder:      embedder,
		log:           zap.NewNop(),
		resetAttempts: 3,
		resetBackoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(ix)
	}

	spec := EmbeddingSpec{Embedder: embedder.Name(), Dimension: embedder.Dimension()}
	if spec.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedder %s reports dimension %d", domain.ErrInvalidInput, spec.Embedder, spec.Dimension)
	}
	if err := storage.Init(ctx, spec); err != nil {
		if errors.Is(err, domain.ErrEmbedderMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	ix.log.Debug("vector index opened", zap.String("embedder", spec.Embedder), zap.Int("dimension", spec.Dimension))
	return ix, nil
}

// State returns the current lifecycle state without blocking.
func (ix *Index) State() State { return State(ix.state.Load()) }

// Embedder returns the embedder every vector in this index comes from.
func (ix *Index) Embedder() domain.Embedder { return ix.embedder }

// Insert embeds chunks and stores them. Chunk ids must be non-empty.
func (ix *Index) Insert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk %d has no id", domain.ErrInvalidInput, i)
		}
		texts[i] = c.Text
	}
	if err := ix.usable(); err != nil {
		return err
	}

	vecs, err := embedding.EmbedAll(ctx, ix.embedder, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if err := embedding.CheckDimension(ix.embedder.Dimension(), vecs...); err != nil {
		return err
	}
	entries := make([]domain.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.IndexEntry{Chunk: withSourceMeta(c), Embedding: vecs[i]}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.usable(); err != nil {
		return err
	}
	if err := ix.storage.Upsert(ctx, entries); err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// Search embeds query and returns up to topK entries matching filter,
// most similar first. A nil or empty filter searches every entry.
func (ix *Index) Search(ctx context.Context, query string, topK int, filter domain.Filter) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := ix.usable(); err != nil {
		return nil, err
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := embedding.CheckDimension(ix.embedder.Dimension(), vec); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.usable(); err != nil {
		return nil, err
	}
	results, err := ix.storage.Search(ctx, vec, topK, filter)
	if err != nil {
		return nil, unavailable("search", err)
	}
	return results, nil
}

// Count returns the number of stored entries.
func (ix *Index) Count(ctx context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.usable(); err != nil {
		return 0, err
	}
	n, err := ix.storage.Count(ctx)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// DistinctSources returns the sorted set of source labels. It scans every
// stored entry, which is fine at single-user scale.
func (ix *Index) DistinctSources(ctx context.Context) ([]string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.usable(); err != nil {
		return nil, err
	}
	sources, err := ix.storage.Sources(ctx)
	if err != nil {
		return nil, unavailable("list sources", err)
	}
	sort.Strings(sources)
	return sources, nil
}

// DeleteSource removes every entry of source and returns how many were removed.
func (ix *Index) DeleteSource(ctx context.Context, source string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.usable(); err != nil {
		return 0, err
	}
	n, err := ix.storage.DeleteSource(ctx, source)
	if err != nil {
		return 0, unavailable("delete source", err)
	}
	return n, nil
}

// Reset discards every entry. It is a barrier: it waits for in-flight readers
// and blocks new ones until it finishes. Clear is retried; if every attempt
// fails the index enters StateFailed and rejects all operations until a later
// Reset succeeds.
func (ix *Index) Reset(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.state.Store(int32(StateResetting))

	var err error
retry:
	for attempt := 1; ; attempt++ {
		if err = ix.clearOnce(ctx); err == nil {
			ix.state.Store(int32(StateReady))
			ix.log.Info("vector index reset", zap.Int("attempt", attempt))
			return nil
		}
		ix.log.Warn("vector index reset attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= ix.resetAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(ix.resetBackoff):
		}
	}

	ix.state.Store(int32(StateFailed))
	ix.log.Error("vector index reset failed", zap.Error(err))
	return unavailable("reset", err)
}

// clearOnce clears the storage and confirms nothing survived.
func (ix *Index) clearOnce(ctx context.Context) error {
	if err := ix.storage.Clear(ctx); err != nil {
		return err
	}
	n, err := ix.storage.Count(ctx)
	if err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("%d entries left after clear", n)
	}
	return nil
}

// Close releases the storage.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.storage.Close()
}

func (ix *Index) usable() error {
	switch ix.State() {
	case StateFailed:
		return fmt.Errorf("%w: index failed to reset", domain.ErrIndexUnavailable)
	default:
		return nil
	}
}

func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrIndexUnavailable) || errors.Is(err, domain.ErrEmbedderMismatch) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrIndexUnavailable, op, err)
}

// withSourceMeta guarantees the source metadata key mirrors Chunk.Source.
func withSourceMeta(c domain.Chunk) domain.Chunk {
	meta := make(map[string]string, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	if c.Source != "" {
		meta[domain.MetaSource] = c.Source
	} else {
		c.Source = meta[domain.MetaSource]
	}
	c.Metadata = meta
	return c
}
