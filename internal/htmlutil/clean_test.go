package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		body string
		max  int
		want string
	}{
		{"plain text", "quota   exceeded\n", 100, "quota exceeded"},
		{"html page", "<html><body><h1>502 Bad Gateway</h1><p>nginx</p></body></html>", 100, "502 Bad Gateway nginx"},
		{"entities", "<!DOCTYPE html><html><body>a &amp; b</body></html>", 100, "a & b"},
		{"truncated", strings.Repeat("x", 20), 5, "xxxxx...(truncated)"},
		{"no limit", "abc", 0, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.body, tt.max))
		})
	}
}
