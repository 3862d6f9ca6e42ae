package domain

import (
	"context"
	"time"
)

// Format is the detected input format of an uploaded document.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatText Format = "text"
)

// MetaSource is the metadata key holding a chunk's source filename.
const MetaSource = "source"

// Document is a single uploaded file. Its identity is the original filename.
type Document struct {
	Name    string
	Content []byte
	Format  Format
}

// Chunk is a bounded-length contiguous segment of a document, the unit of retrieval.
type Chunk struct {
	ID       string
	Text     string
	Source   string
	Metadata map[string]string
}

// IndexEntry is what the vector index stores for every chunk.
type IndexEntry struct {
	Chunk     Chunk
	Embedding []float32
}

// SearchResult represents a matching chunk with its cosine similarity to the query.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Filter restricts a search to entries whose metadata matches every key/value pair.
type Filter map[string]string

// Matches reports whether metadata satisfies the filter. An empty filter matches everything.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// SourceFilter returns a filter on the source metadata key.
func SourceFilter(source string) Filter {
	return Filter{MetaSource: source}
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one persisted conversation turn.
type ChatMessage struct {
	ID        int64
	Role      Role
	Content   string
	Timestamp time.Time
}

// Embedder converts free text into a fixed-dimension vector.
// All vectors stored in one index must come from the same embedder.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can embed many texts per call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator completes a prompt with a language model.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
