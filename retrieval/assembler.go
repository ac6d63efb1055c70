package retrieval

import "strings"

// ContextBlock is the assembled context for one query: the kept candidate
// texts joined by single spaces, plus their token total.
type ContextBlock struct {
	Text   string
	Tokens int
}

// Assemble accumulates candidates in their given order under a hard token
// budget. Each text has whitespace runs collapsed to single spaces before
// counting; accumulation stops at the first candidate that would push the
// total past the budget, so the block is the greedy maximal prefix.
func Assemble(candidates []Candidate, tokenBudget int, counter TokenCounter) ContextBlock {
	if counter == nil {
		counter = EstimateCounter{}
	}

	kept := make([]string, 0, len(candidates))
	total := 0
	for i := range candidates {
		cleaned := collapseWhitespace(candidates[i].Text)
		if cleaned == "" {
			continue
		}
		tokens := counter.CountTokens(cleaned)
		if total+tokens > tokenBudget {
			break
		}
		kept = append(kept, cleaned)
		total += tokens
	}

	return ContextBlock{
		Text:   strings.Join(kept, " "),
		Tokens: total,
	}
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
