// Package budget estimates token usage for generator prompts and trims chat
// history to fit. The bot talks to several LLM backends with different
// tokenizers, so estimation uses a character heuristic of roughly 4 characters
// per token, which under-counts on purpose to leave headroom.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default prompt budget. Small enough
	// for 8k-context models while leaving room for the reply.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for the messages,
// including a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed plus history fits
// within maxTokens. fixed holds messages that must survive (system prompt,
// training facts, the current user message); history holds prior turns.
//
// If fixed alone exceeds the budget the returned history is empty; fixed
// messages are never dropped here.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
