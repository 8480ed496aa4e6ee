package narration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeForSpeech(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain prose untouched", "Hello there, how are you?", "Hello there, how are you?"},
		{"emphasis stripped", "This is **very** important, _really_ *important*.", "This is very important, _really_ important."},
		{"inline code stripped", "Call `Start()` then `Stop()`.", "Call Start() then Stop()."},
		{"fenced block dropped", "Before.\n```python\nprint('hi')\n```\nAfter.", "Before. After."},
		{"dangling fence dropped", "Streaming.\n```go\nfunc main() {", "Streaming."},
		{"horizontal rule dropped", "Above.\n---\nBelow.", "Above. Below."},
		{"heading markers dropped", "## Summary\nAll good.", "Summary All good."},
		{"link keeps text", "See [the docs](https://example.com) for more.", "See the docs for more."},
		{"whitespace collapsed", "Too   many\n\n\nspaces.", "Too many spaces."},
		{"code only becomes empty", "```\nx := 1\n```", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeForSpeech(tt.in))
		})
	}
}
