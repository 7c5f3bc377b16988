package llm

import (
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain object",
			in:   `{"title": "x"}`,
			want: `{"title": "x"}`,
		},
		{
			name: "fenced object",
			in:   "```json\n{\"title\": \"x\"}\n```",
			want: `{"title": "x"}`,
		},
		{
			name: "array with prose",
			in:   "Here are my picks:\n[{\"index\": 0}]\nLet me know if you need more.",
			want: `[{"index": 0}]`,
		},
		{
			name: "object with prose",
			in:   "Sure! {\"score\": 800} Hope that helps.",
			want: `{"score": 800}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFallbackImagePrompt(t *testing.T) {
	p := fallbackImagePrompt("Some headline about an event")
	if len(p) > maxImagePromptLen {
		t.Errorf("Expected prompt capped at %d chars, got %d", maxImagePromptLen, len(p))
	}
	if !strings.Contains(p, "Some headline") {
		t.Errorf("Expected prompt to carry the headline, got %q", p)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("Expected ab, got %q", got)
	}
}
