package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 1}, b: []float32{-1, -1}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 1}, want: 0},
		{name: "empty", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Cosine(tc.a, tc.b), 1e-6)
		})
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestCheckDimension(t *testing.T) {
	require.NoError(t, CheckDimension(2, []float32{1, 2}, []float32{3, 4}))
	assert.ErrorIs(t, CheckDimension(2, []float32{1, 2}, []float32{1}), domain.ErrEmbedderMismatch)
}

type singleEmbedder struct{ calls int }

func (s *singleEmbedder) Name() string   { return "single" }
func (s *singleEmbedder) Dimension() int { return 1 }
func (s *singleEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if text == "bad" {
		return nil, errors.New("boom")
	}
	return []float32{float32(len(text))}, nil
}

type batchEmbedder struct {
	singleEmbedder
	batches int
	short   bool
}

func (b *batchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	b.batches++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	if b.short {
		return out[:len(out)-1], nil
	}
	return out, nil
}

func TestEmbedAll(t *testing.T) {
	ctx := context.Background()

	t.Run("falls back to per-text calls", func(t *testing.T) {
		e := &singleEmbedder{}
		vecs, err := EmbedAll(ctx, e, []string{"a", "bbb"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1}, {3}}, vecs)
		assert.Equal(t, 2, e.calls)
	})

	t.Run("propagates errors", func(t *testing.T) {
		_, err := EmbedAll(ctx, &singleEmbedder{}, []string{"ok", "bad"})
		assert.Error(t, err)
	})

	t.Run("uses batch when available", func(t *testing.T) {
		e := &batchEmbedder{}
		vecs, err := EmbedAll(ctx, e, []string{"a", "bb", "ccc"})
		require.NoError(t, err)
		assert.Len(t, vecs, 3)
		assert.Equal(t, 1, e.batches)
		assert.Zero(t, e.calls)
	})

	t.Run("rejects short batch", func(t *testing.T) {
		_, err := EmbedAll(ctx, &batchEmbedder{short: true}, []string{"a", "b"})
		assert.Error(t, err)
	})
}
