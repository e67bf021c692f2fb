// Package tokenizer counts tokens for context-window budgeting.
//
// Three implementations are provided: a remote adapter for the llama.cpp
// /tokenize endpoint (cached), an offline tiktoken encoder, and a cheap
// character-ratio estimator used as the universal fallback.
package tokenizer

import "math"

// Counter counts tokens in a string. Implementations must be safe for
// concurrent use.
type Counter interface {
	Count(text string) int
}

// estimateRatio is the characters-per-token ratio of the fallback estimator.
const estimateRatio = 3.5

// Estimate approximates the token count of text without a real tokenizer.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / estimateRatio))
}

// EstimateCounter is a Counter backed by the character-ratio estimator.
type EstimateCounter struct{}

// Count implements Counter.
func (EstimateCounter) Count(text string) int { return Estimate(text) }
