package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"docrag/internal/domain"
)

// Default window in runes.
const (
	DefaultChunkSize    = 250
	DefaultChunkOverlap = 100
)

// WindowChunker splits text into overlapping windows of at most size runes.
// Window ends are pulled back to the nearest paragraph, line, sentence or word
// boundary in the back half of the window; consecutive chunks always share
// exactly overlap runes.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates 0 <= overlap < size and returns a chunker bound to it.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Validate checks a chunk size/overlap pair.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidSplitConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", domain.ErrInvalidSplitConfig, size, overlap)
	}
	return nil
}

// Split is a convenience wrapper validating the config on every call.
func Split(text string, size, overlap int) ([]string, error) {
	c, err := NewWindowChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// Size returns the maximum chunk length in runes.
func (c *WindowChunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *WindowChunker) Overlap() int { return c.overlap }

// Split returns the chunk texts of text. Blank input yields no chunks.
func (c *WindowChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end >= n {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end = c.cutPoint(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))
		start = end - c.overlap
	}
	return chunks
}

// Chunk splits text and wraps every piece in a domain.Chunk with a fresh id.
// Whitespace-only windows are dropped.
func (c *WindowChunker) Chunk(source, text string) []domain.Chunk {
	pieces := c.Split(text)
	if len(pieces) == 0 {
		return nil
	}
	chunks := make([]domain.Chunk, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ID:       uuid.New().String(),
			Text:     p,
			Source:   source,
			Metadata: map[string]string{domain.MetaSource: source},
		})
	}
	return chunks
}

// cutPoint picks the end of the window [start, end). The cut never lands at or
// before start+overlap so the next window always advances.
func (c *WindowChunker) cutPoint(runes []rune, start, end int) int {
	lo := start + c.overlap + 1
	if half := start + c.size/2; half > lo {
		lo = half
	}
	for _, isBoundary := range boundaryLevels {
		for p := end; p >= lo; p-- {
			if isBoundary(runes, p) {
				return p
			}
		}
	}
	return end
}

// boundaryLevels are tried in order; p is the exclusive end of a candidate chunk.
var boundaryLevels = []func(runes []rune, p int) bool{
	paragraphBreak,
	lineBreak,
	sentenceEnd,
	wordBreak,
}

func paragraphBreak(runes []rune, p int) bool {
	return p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n'
}

func lineBreak(runes []rune, p int) bool {
	return runes[p-1] == '\n'
}

func sentenceEnd(runes []rune, p int) bool {
	if runes[p-1] == '。' {
		return true
	}
	if p < 2 || !unicode.IsSpace(runes[p-1]) {
		return false
	}
	switch runes[p-2] {
	case '.', '?', '!', '。':
		return true
	}
	return false
}

func wordBreak(runes []rune, p int) bool {
	return unicode.IsSpace(runes[p-1])
}
