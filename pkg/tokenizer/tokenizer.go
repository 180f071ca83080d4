// Package tokenizer estimates prompt sizes and trims text for diagnostics.
package tokenizer

import (
	"strings"
)

// EstimateTokens provides a rough token count estimate.
// Blends ~1.3 tokens per word with ~4 characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	wordEstimate := int(float64(len(strings.Fields(text))) * 1.3)
	charEstimate := len(text) / 4
	return (wordEstimate + charEstimate) / 2
}

// Truncate shortens text to approximately fit within a token budget, cutting
// at a word boundary and appending "..." when anything was removed.
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}
	maxChars := budget * 4
	if maxChars >= len(text) {
		return text
	}
	truncated := text[:maxChars]
	if lastSpace := strings.LastIndexAny(truncated, " \n"); lastSpace > maxChars/2 {
		truncated = truncated[:lastSpace]
	}
	return strings.ToValidUTF8(truncated, "") + "..."
}
