// Package tokenizer estimates how many model tokens a text costs to embed.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Estimate approximates the token count of text. It takes the larger of a
// word based and a character based guess so that dense text without spaces
// is not undercounted.
func Estimate(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := utf8.RuneCountInString(text) / 4
	return max(byWords, byChars, 1)
}

// EstimateAll sums Estimate over texts.
func EstimateAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
