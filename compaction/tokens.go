package compaction

import (
	"github.com/youssefsiam38/agentctx/types"
)

// ApproximateTokens provides fast estimation without a tokenizer.
// Roughly 4 characters per token, rounded up.
func ApproximateTokens(content string) int {
	return (len(content) + 3) / 4
}

// TurnTokens estimates the tokens a turn contributes to a request.
func TurnTokens(t *types.Turn) int {
	if t == nil {
		return 0
	}
	return (t.CharCount() + 3) / 4
}

// SumTokens estimates the tokens of a transcript.
func SumTokens(turns []*types.Turn) int {
	total := 0
	for _, t := range turns {
		total += TurnTokens(t)
	}
	return total
}
