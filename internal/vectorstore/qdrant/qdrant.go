// Package qdrant stores index entries in a Qdrant collection over its REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

var _ vectorstore.Storage = (*Storage)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("qdrant: not found")

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "docrag"
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection when missing; an existing collection must use
// the same vector size.
func (s *Storage) Init(ctx context.Context, spec vectorstore.EmbeddingSpec) error {
	if spec.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.createCollection(ctx, spec.Dimension); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if size := info.Result.Config.Params.Vectors.Size; size != spec.Dimension {
			return fmt.Errorf("%w: collection %s has vector size %d, embedder %s produces %d",
				domain.ErrEmbedderMismatch, s.collection, size, spec.Embedder, spec.Dimension)
		}
	}
	s.dimension = spec.Dimension
	return nil
}

func (s *Storage) createCollection(ctx context.Context, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	index := map[string]any{"field_name": "metadata." + domain.MetaSource, "field_schema": "keyword"}
	if err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil); err != nil {
		return fmt.Errorf("create source index: %w", err)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		if len(e.Embedding) != s.dimension {
			return fmt.Errorf("%w: vector dimension %d, collection has %d", domain.ErrEmbedderMismatch, len(e.Embedding), s.dimension)
		}
		points[i] = map[string]any{
			"id":     e.Chunk.ID,
			"vector": e.Embedding,
			"payload": map[string]any{
				"text":     e.Chunk.Text,
				"metadata": e.Chunk.Metadata,
			},
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
}

type point struct {
	ID      any     `json:"id"`
	Score   float64 `json:"score"`
	Payload struct {
		Text     string            `json:"text"`
		Metadata map[string]string `json:"metadata"`
	} `json:"payload"`
}

func (p point) chunk() domain.Chunk {
	return domain.Chunk{
		ID:       fmt.Sprint(p.ID),
		Text:     p.Payload.Text,
		Source:   p.Payload.Metadata[domain.MetaSource],
		Metadata: p.Payload.Metadata,
	}
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int, filter domain.Filter) ([]domain.SearchResult, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := payloadFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []point `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		results = append(results, domain.SearchResult{Chunk: p.chunk(), Score: p.Score})
	}
	return vectorstore.TopK(results, topK), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	return s.count(ctx, nil)
}

func (s *Storage) count(ctx context.Context, filter domain.Filter) (int, error) {
	req := map[string]any{"exact": true}
	if f := payloadFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Sources scrolls through every point's metadata.
func (s *Storage) Sources(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	var offset any
	for {
		req := map[string]any{
			"limit":        256,
			"with_payload": []string{"metadata"},
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points     []point `json:"points"`
				NextOffset any     `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			src := p.Payload.Metadata[domain.MetaSource]
			if _, ok := seen[src]; ok || src == "" {
				continue
			}
			seen[src] = struct{}{}
			out = append(out, src)
		}
		if resp.Result.NextOffset == nil {
			return out, nil
		}
		offset = resp.Result.NextOffset
	}
}

func (s *Storage) DeleteSource(ctx context.Context, source string) (int, error) {
	filter := domain.SourceFilter(source)
	n, err := s.count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	body := map[string]any{"filter": payloadFilter(filter)}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return 0, err
	}
	return n, nil
}

// Clear drops and recreates the collection. The two calls are not atomic;
// the Index retries until Count confirms an empty collection.
func (s *Storage) Clear(ctx context.Context) error {
	if err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("drop collection: %w", err)
	}
	return s.createCollection(ctx, s.dimension)
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// payloadFilter converts an exact-match filter into a Qdrant must/match clause.
func payloadFilter(f domain.Filter) map[string]any {
	if len(f) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(f))
	for k, v := range f {
		must = append(must, map[string]any{
			"key":   "metadata." + k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, url)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Status struct {
				Error string `json:"error"`
			} `json:"status"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("qdrant %s %s failed: %s %s", method, url, resp.Status, e.Status.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
