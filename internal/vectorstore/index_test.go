package vectorstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"docrag/internal/domain"
	"docrag/internal/embedding/hashing"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/memory"
)

// flakyStorage fails Clear a fixed number of times before delegating.
type flakyStorage struct {
	*memory.Storage
	mu         sync.Mutex
	clearFails int
	initErr    error
}

func (f *flakyStorage) Init(ctx context.Context, spec vectorstore.EmbeddingSpec) error {
	if f.initErr != nil {
		return f.initErr
	}
	return f.Storage.Init(ctx, spec)
}

func (f *flakyStorage) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearFails > 0 {
		f.clearFails--
		return errors.New("collection busy")
	}
	return f.Storage.Clear(ctx)
}

func chunk(id, source, text string) domain.Chunk {
	return domain.Chunk{ID: id, Text: text, Source: source, Metadata: map[string]string{domain.MetaSource: source}}
}

func openIndex(t *testing.T, storage vectorstore.Storage, opts ...vectorstore.Option) *vectorstore.Index {
	t.Helper()
	ix, err := vectorstore.Open(context.Background(), storage, hashing.New(128), opts...)
	require.NoError(t, err)
	return ix
}

func TestIndex_InsertSearchCount(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, memory.NewStorage())

	require.NoError(t, ix.Insert(ctx, []domain.Chunk{
		chunk("1", "policy.pdf", "Employees receive fifteen vacation days per year."),
		chunk("2", "menu.txt", "The cafeteria serves kimchi stew on Fridays."),
		chunk("3", "policy.pdf", "Remote work requires manager approval."),
	}))

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := ix.Search(ctx, "how many vacation days", 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "1", res[0].Chunk.ID)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}

	res, err = ix.Search(ctx, "vacation days", 3, domain.SourceFilter("menu.txt"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "menu.txt", res[0].Chunk.Source)

	res, err = ix.Search(ctx, "vacation", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIndex_DistinctSourcesSorted(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, memory.NewStorage())

	require.NoError(t, ix.Insert(ctx, []domain.Chunk{
		chunk("1", "b.txt", "bravo"),
		chunk("2", "a.pdf", "alpha"),
		chunk("3", "b.txt", "bravo two"),
	}))

	sources, err := ix.DistinctSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.txt"}, sources)
}

func TestIndex_InsertRejectsMissingID(t *testing.T) {
	ix := openIndex(t, memory.NewStorage())
	err := ix.Insert(context.Background(), []domain.Chunk{chunk("", "a.txt", "text")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIndex_InsertFillsSourceMetadata(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, memory.NewStorage())
	require.NoError(t, ix.Insert(ctx, []domain.Chunk{{ID: "x", Text: "orphan text", Source: "orphan.txt"}}))

	sources, err := ix.DistinctSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan.txt"}, sources)
}

func TestIndex_Reset(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, memory.NewStorage())
	require.NoError(t, ix.Insert(ctx, []domain.Chunk{chunk("1", "a.txt", "alpha"), chunk("2", "b.txt", "beta")}))

	require.NoError(t, ix.Reset(ctx))
	assert.Equal(t, vectorstore.StateReady, ix.State())

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	sources, err := ix.DistinctSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)

	// usable again after reset
	require.NoError(t, ix.Insert(ctx, []domain.Chunk{chunk("3", "c.txt", "gamma")}))
	n, err = ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndex_ResetRetriesUntilConsistent(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	storage := &flakyStorage{Storage: memory.NewStorage(), clearFails: 2}
	ix := openIndex(t, storage, vectorstore.WithResetRetry(3, 0), vectorstore.WithLogger(zap.New(core)))
	require.NoError(t, ix.Insert(ctx, []domain.Chunk{chunk("1", "a.txt", "alpha")}))

	require.NoError(t, ix.Reset(ctx))
	assert.Equal(t, vectorstore.StateReady, ix.State())
	assert.Equal(t, 2, logs.FilterMessage("vector index reset attempt failed").Len())
}

func TestIndex_FailedResetMakesIndexUnavailable(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{Storage: memory.NewStorage(), clearFails: 3}
	ix := openIndex(t, storage, vectorstore.WithResetRetry(3, 0))
	require.NoError(t, ix.Insert(ctx, []domain.Chunk{chunk("1", "a.txt", "alpha")}))

	err := ix.Reset(ctx)
	require.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, vectorstore.StateFailed, ix.State())

	_, err = ix.Count(ctx)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	_, err = ix.Search(ctx, "alpha", 3, nil)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.ErrorIs(t, ix.Insert(ctx, []domain.Chunk{chunk("2", "b.txt", "beta")}), domain.ErrIndexUnavailable)
	_, err = ix.DistinctSources(ctx)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	// a later successful reset recovers
	require.NoError(t, ix.Reset(ctx))
	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndex_DeleteSource(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, memory.NewStorage())
	require.NoError(t, ix.Insert(ctx, []domain.Chunk{
		chunk("1", "a.txt", "alpha"),
		chunk("2", "b.txt", "beta"),
		chunk("3", "a.txt", "alpha again"),
	}))

	n, err := ix.DeleteSource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sources, err := ix.DistinctSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, sources)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := vectorstore.Open(ctx, &flakyStorage{Storage: memory.NewStorage(), initErr: errors.New("connection refused")}, hashing.New(8))
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	storage := memory.NewStorage()
	_, err = vectorstore.Open(ctx, storage, hashing.New(8))
	require.NoError(t, err)
	_, err = vectorstore.Open(ctx, storage, hashing.New(16))
	assert.ErrorIs(t, err, domain.ErrEmbedderMismatch)
}

func TestIndex_ConcurrentReadersNeverSeePartialReset(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, memory.NewStorage())

	const perSource = 20
	var chunks []domain.Chunk
	for i := 0; i < perSource; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("a%d", i), "a.txt", fmt.Sprintf("alpha passage %d", i)))
	}
	require.NoError(t, ix.Insert(ctx, chunks))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				n, err := ix.Count(ctx)
				if err != nil {
					errs <- err
					return
				}
				if n != 0 && n != perSource {
					errs <- fmt.Errorf("observed partial count %d", n)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ix.Reset(ctx); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
