// Package tokenizer estimates token counts for prompt budgeting.
package tokenizer

import (
	"strings"
)

// Estimate returns a rough token count. English averages about four
// characters per token, which word count times 4/3 tracks closely enough
// for trimming history windows.
// TODO: swap in tiktoken-go when exact per-model budgets matter.
func Estimate(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return max(len(words)*4/3, 1)
}
