package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type fakeFilter struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value string `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (f *fakeFilter) matches(p fakePoint) bool {
	if f == nil {
		return true
	}
	meta, _ := p.Payload["metadata"].(map[string]any)
	for _, m := range f.Must {
		key := strings.TrimPrefix(m.Key, "metadata.")
		if v, _ := meta[key].(string); v != m.Match.Value {
			return false
		}
	}
	return true
}

// fakeQdrant keeps one collection in memory and speaks the subset of the REST API the client uses.
type fakeQdrant struct {
	mu        sync.Mutex
	exists    bool
	size      int
	points    []fakePoint
	apiKeys   []string
	failDrops int
}

func (f *fakeQdrant) collection() (exists bool, size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, f.size
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	path := strings.TrimPrefix(r.URL.Path, "/collections/docs")
	reply := func(v any) { _ = json.NewEncoder(w).Encode(map[string]any{"result": v, "status": "ok"}) }

	if path != "" && !f.exists {
		http.NotFound(w, r)
		return
	}
	switch {
	case path == "" && r.Method == http.MethodGet:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection docs doesn't exist!"}}`))
			return
		}
		reply(map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}}})
	case path == "" && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size, f.points = true, body.Vectors.Size, nil
		reply(true)
	case path == "" && r.Method == http.MethodDelete:
		if f.failDrops > 0 {
			f.failDrops--
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":{"error":"busy"}}`))
			return
		}
		f.exists, f.points = false, nil
		reply(true)
	case path == "/index":
		reply(map[string]any{"status": "completed"})
	case path == "/points" && r.Method == http.MethodPut:
		var body struct {
			Points []fakePoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			replaced := false
			for i := range f.points {
				if f.points[i].ID == p.ID {
					f.points[i], replaced = p, true
				}
			}
			if !replaced {
				f.points = append(f.points, p)
			}
		}
		reply(map[string]any{"status": "completed"})
	case path == "/points/search":
		var body struct {
			Vector []float32   `json:"vector"`
			Limit  int         `json:"limit"`
			Filter *fakeFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var hits []map[string]any
		for _, p := range f.points {
			if body.Filter.matches(p) {
				hits = append(hits, map[string]any{"id": p.ID, "score": cosine(body.Vector, p.Vector), "payload": p.Payload})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i]["score"].(float64) > hits[j]["score"].(float64) })
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		reply(hits)
	case path == "/points/count":
		var body struct {
			Filter *fakeFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		n := 0
		for _, p := range f.points {
			if body.Filter.matches(p) {
				n++
			}
		}
		reply(map[string]any{"count": n})
	case path == "/points/scroll":
		var body struct {
			Offset *int `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		// two points per page to exercise paging
		start := 0
		if body.Offset != nil {
			start = *body.Offset
		}
		end := min(start+2, len(f.points))
		page := make([]map[string]any, 0, end-start)
		for _, p := range f.points[start:end] {
			page = append(page, map[string]any{"id": p.ID, "payload": p.Payload})
		}
		var next any
		if end < len(f.points) {
			next = end
		}
		reply(map[string]any{"points": page, "next_page_offset": next})
	case path == "/points/delete":
		var body struct {
			Filter *fakeFilter `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		kept := f.points[:0]
		for _, p := range f.points {
			if !body.Filter.matches(p) {
				kept = append(kept, p)
			}
		}
		f.points = kept
		reply(map[string]any{"status": "completed"})
	default:
		http.NotFound(w, r)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func newTestStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s := NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "docs"})
	require.NoError(t, s.Init(context.Background(), vectorstore.EmbeddingSpec{Embedder: "hashing", Dimension: 2}))
	return s, fake
}

func entry(id, source string, vec ...float32) domain.IndexEntry {
	return domain.IndexEntry{
		Chunk:     domain.Chunk{ID: id, Text: "text " + id, Source: source, Metadata: map[string]string{domain.MetaSource: source}},
		Embedding: vec,
	}
}

const (
	idA = "5f0c7d52-0c2b-4d43-8f4e-1f3b6a2b9a01"
	idB = "5f0c7d52-0c2b-4d43-8f4e-1f3b6a2b9a02"
	idC = "5f0c7d52-0c2b-4d43-8f4e-1f3b6a2b9a03"
)

func TestStorage_InitCreatesCollection(t *testing.T) {
	s, fake := newTestStorage(t)
	exists, size := fake.collection()
	assert.True(t, exists)
	assert.Equal(t, 2, size)
	fake.mu.Lock()
	assert.Contains(t, fake.apiKeys, "secret")
	fake.mu.Unlock()

	// reopening with the same size is fine, another size is a mismatch
	require.NoError(t, s.Init(context.Background(), vectorstore.EmbeddingSpec{Embedder: "hashing", Dimension: 2}))
	err := s.Init(context.Background(), vectorstore.EmbeddingSpec{Embedder: "other", Dimension: 3})
	assert.ErrorIs(t, err, domain.ErrEmbedderMismatch)
}

func TestStorage_UpsertSearchCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)

	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		entry(idA, "a.txt", 1, 0),
		entry(idB, "b.txt", 0, 1),
		entry(idC, "a.txt", 0.8, 0.2),
	}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, idA, res[0].Chunk.ID)
	assert.Equal(t, "a.txt", res[0].Chunk.Source)
	assert.Equal(t, "text "+idA, res[0].Chunk.Text)

	res, err = s.Search(ctx, []float32{1, 0}, 5, domain.SourceFilter("b.txt"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, idB, res[0].Chunk.ID)

	assert.ErrorIs(t, s.Upsert(ctx, []domain.IndexEntry{entry(idA, "a.txt", 1)}), domain.ErrEmbedderMismatch)
}

func TestStorage_SourcesPagesThroughScroll(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		entry(idA, "a.txt", 1, 0),
		entry(idB, "b.txt", 0, 1),
		entry(idC, "c.txt", 1, 1),
	}))

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt", "c.txt"}, sources)
}

func TestStorage_DeleteSource(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{
		entry(idA, "a.txt", 1, 0),
		entry(idB, "b.txt", 0, 1),
		entry(idC, "a.txt", 1, 1),
	}))

	n, err := s.DeleteSource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteSource(ctx, "missing.txt")
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStorage_ClearRecreatesCollection(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)
	require.NoError(t, s.Upsert(ctx, []domain.IndexEntry{entry(idA, "a.txt", 1, 0)}))

	require.NoError(t, s.Clear(ctx))
	exists, size := fake.collection()
	assert.True(t, exists)
	assert.Equal(t, 2, size)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStorage_ClearFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)
	fake.mu.Lock()
	fake.failDrops = 1
	fake.mu.Unlock()

	err := s.Clear(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")

	require.NoError(t, s.Clear(ctx))
}
