package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Vacation policy grants fifteen vacation days. " +
		"The cafeteria opens at eight. " +
		"Unused vacation days roll over to the next vacation year. " +
		"Parking is free."

	got, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Vacation policy grants fifteen vacation days. Unused vacation days roll over to the next vacation year.", got)
}

func TestSummarize_ShortText(t *testing.T) {
	s := NewFrequencySummarizer()

	got, err := s.Summarize("Only one sentence here.", 3)
	require.NoError(t, err)
	assert.Equal(t, "Only one sentence here.", got)

	got, err = s.Summarize("no punctuation at all", 0)
	require.NoError(t, err)
	assert.Equal(t, "no punctuation at all", got)

	got, err = s.Summarize("   ", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSummarize_KeepsDocumentOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Budget review happens monthly. Lunch is at noon. Budget approvals need review by finance. Weather is nice."

	got, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Budget review happens monthly. Budget approvals need review by finance.", got)
}

func TestSummarize_ConsidersUnterminatedTail(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "The cafeteria opens at eight. Parking is free. Leave requests need leave approval and leave balance"

	got, err := s.Summarize(text, 1)
	require.NoError(t, err)
	assert.Equal(t, "Leave requests need leave approval and leave balance", got)
}
