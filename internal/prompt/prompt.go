// Package prompt assembles the grounded prompt sent to the language model.
package prompt

import (
	"strings"

	"docrag/internal/domain"
)

const (
	DefaultPreamble = "You are a helpful assistant for company employees.\n" +
		"Use the following pieces of context to answer the question at the end.\n" +
		"If you don't know the answer, just say that you don't know."

	// NoContextMarker replaces the context block when retrieval found nothing.
	NoContextMarker = "No context available."
)

// Template holds the fixed parts of the prompt. Instruction carries optional
// language or style guidance, for example "Answer in Korean, briefly.".
type Template struct {
	Preamble        string
	Instruction     string
	NoContextMarker string
}

// DefaultTemplate returns the built-in template with no extra instruction.
func DefaultTemplate() Template {
	return Template{Preamble: DefaultPreamble, NoContextMarker: NoContextMarker}
}

// Builder renders prompts from a Template. It is pure and safe for concurrent use.
type Builder struct {
	tmpl Template
}

// NewBuilder fills empty template fields with defaults.
func NewBuilder(t Template) *Builder {
	if strings.TrimSpace(t.Preamble) == "" {
		t.Preamble = DefaultPreamble
	}
	if strings.TrimSpace(t.NoContextMarker) == "" {
		t.NoContextMarker = NoContextMarker
	}
	return &Builder{tmpl: t}
}

// Build renders preamble, instruction, context, question and answer cue in
// that order. Chunk texts keep result order and are separated by a blank line.
func (b *Builder) Build(question string, results []domain.SearchResult) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(b.tmpl.Preamble))
	sb.WriteString("\n")
	if instr := strings.TrimSpace(b.tmpl.Instruction); instr != "" {
		sb.WriteString(instr)
		sb.WriteString("\n")
	}

	sb.WriteString("\nContext:\n")
	sb.WriteString(contextBlock(results, b.tmpl.NoContextMarker))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

func contextBlock(results []domain.SearchResult, marker string) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		if t := strings.TrimSpace(r.Chunk.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return marker
	}
	return strings.Join(texts, "\n\n")
}
