// Package hashing implements a corpus-free bag-of-words embedder using the
// hashing trick, so vectors never depend on what else has been indexed.
package hashing

import (
	"context"
	"hash/fnv"
	"math"

	"docrag/internal/embedding"
	"docrag/internal/textproc"
)

// DefaultDimension is used when the configured dimension is not positive.
const DefaultDimension = 256

// Embedder maps stopword-filtered tokens into a fixed number of signed buckets
// weighted by sublinear term frequency, then L2 normalizes.
type Embedder struct {
	dim int
}

// New creates a hashing embedder with dim buckets.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dim }

// Embed computes the hashed term-frequency vector of text. Text without
// tokens embeds to the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := make(map[string]int)
	for _, tok := range textproc.Tokens(text) {
		tf[tok]++
	}

	acc := make([]float64, e.dim)
	for tok, count := range tf {
		idx, sign := e.bucket(tok)
		acc[idx] += sign * (1 + math.Log(float64(count)))
	}

	vec := make([]float32, e.dim)
	for i, v := range acc {
		vec[i] = float32(v)
	}
	embedding.Normalize(vec)
	return vec, nil
}

// EmbedBatch embeds every text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// bucket returns the slot of a token and the sign that keeps collisions from
// only ever adding up.
func (e *Embedder) bucket(token string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dim)), sign
}
