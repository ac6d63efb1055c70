package retrieval

import "unicode/utf8"

// TokenCounter reports how many tokenizer units a text occupies. Counts
// must be deterministic for a fixed text.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateCounter approximates token counts as rune count divided by two, a
// conservative figure that holds up for both English and CJK text without
// shipping a tokenizer vocabulary.
type EstimateCounter struct{}

func (EstimateCounter) CountTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

var _ TokenCounter = EstimateCounter{}
