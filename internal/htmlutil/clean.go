package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text, decoding entities and dropping tags.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}

// Summarize flattens an upstream response body to a single line of at most
// max runes. HTML bodies are converted to text first.
func Summarize(body string, max int) string {
	if looksLikeHTML(body) {
		body = ToText(body)
	}
	body = strings.Join(strings.Fields(body), " ")

	r := []rune(body)
	if max > 0 && len(r) > max {
		return string(r[:max]) + "...(truncated)"
	}
	return body
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.Contains(head, "<html") || strings.Contains(head, "<body")
}
