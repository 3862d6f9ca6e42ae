// Package embedding holds the vector helpers shared by embedders and index backends.
package embedding

import (
	"context"
	"fmt"
	"math"

	"docrag/internal/domain"
)

// Embedder is re-exported so backends can depend on this package alone.
type Embedder = domain.Embedder

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, and zero vectors, score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// CheckDimension verifies every vector has exactly dim components.
func CheckDimension(dim int, vecs ...[]float32) error {
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", domain.ErrEmbedderMismatch, i, len(v), dim)
		}
	}
	return nil
}

// EmbedAll embeds texts, using a single batch call when e supports it.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(domain.BatchEmbedder); ok {
		vecs, err := be.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder %s returned %d vectors for %d texts", e.Name(), len(vecs), len(texts))
		}
		return vecs, nil
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}
