package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatches(t *testing.T) {
	meta := map[string]string{"source": "a.txt", "lang": "en"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "nil filter", filter: nil, want: true},
		{name: "empty filter", filter: Filter{}, want: true},
		{name: "source match", filter: SourceFilter("a.txt"), want: true},
		{name: "source mismatch", filter: SourceFilter("b.txt"), want: false},
		{name: "all pairs match", filter: Filter{"source": "a.txt", "lang": "en"}, want: true},
		{name: "one pair missing", filter: Filter{"source": "a.txt", "lang": "ko"}, want: false},
		{name: "unknown key", filter: Filter{"owner": "x"}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(meta))
		})
	}
}
