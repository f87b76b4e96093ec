package assistant

import (
	"github.com/tiktoken-go/tokenizer"
)

// countTokens approximates the prompt size across the given text parts using
// O200kBase. The Gemini tokenizer differs, so this is for logs only.
func countTokens(parts ...string) int {
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return 0
	}
	total := 0
	for _, p := range parts {
		if p == "" {
			continue
		}
		if n, err := enc.Count(p); err == nil {
			total += n
		}
	}
	return total
}
