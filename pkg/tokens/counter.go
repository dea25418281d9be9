// Package tokens provides tiktoken-based token counting for prompt
// budget enforcement.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter provides token counting for prompt budget checks. All supported
// models approximate well with the GPT-4 encoding.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a token counter. The model argument is advisory:
// Claude, Gemini, and local models are all approximated with GPT-4
// encoding, which is close enough for budget enforcement.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	if c.codec == nil {
		// Character-based estimation (4 chars ≈ 1 token).
		return len(text) / 4
	}

	count, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountSimple counts tokens without a Counter instance, using GPT-4
// encoding. Falls back to character estimation if the codec cannot load.
func CountSimple(text string) int {
	counter, err := NewCounter("gpt-4")
	if err != nil {
		return len(text) / 4
	}
	return counter.Count(text)
}

// WithinLimit reports whether text fits within the given token limit.
func (c *Counter) WithinLimit(text string, limit int) bool {
	return c.Count(text) <= limit
}

// Truncate trims text to roughly fit within the given token limit. The
// cut is by characters, not exact token boundaries.
func (c *Counter) Truncate(text string, limit int) string {
	currentTokens := c.Count(text)
	if currentTokens <= limit {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9) // 0.9 safety margin

	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}
