package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "drops stopwords and lowercases", in: "The Quick fox IS here", want: []string{"quick", "fox", "here"}},
		{name: "keeps apostrophes", in: "don't stop", want: []string{"don't", "stop"}},
		{name: "keeps numbers", in: "Galaxy S24 launch", want: []string{"galaxy", "s24", "launch"}},
		{name: "korean words", in: "삼성 전자 보고서", want: []string{"삼성", "전자", "보고서"}},
		{name: "empty", in: "  ", want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Tokens(tc.in))
		})
	}
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", "Two?", "Three!"}, Sentences("One. Two? Three!"))
	assert.Equal(t, []string{"no terminal punctuation"}, Sentences("  no terminal punctuation "))
	assert.Nil(t, Sentences(" \n\t"))
	assert.Equal(t, []string{"One.", "two three"}, Sentences("One. two three"))
	assert.Equal(t, []string{"Vacation is 15 days.", "Requests go through the HR portal before the"},
		Sentences("Vacation is 15 days. Requests go through the HR portal before the"))
}

func TestTokenSet(t *testing.T) {
	set := TokenSet("Go go GO the")
	assert.Len(t, set, 2)
	assert.Contains(t, set, "go")
	assert.Contains(t, set, "the")
}
