package providers

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ContextSizeError reports that a prompt exceeded the server's context window.
// Window is the server-reported window size in tokens, or 0 when the server
// did not surface one.
type ContextSizeError struct {
	Provider string
	Window   int
}

// Error implements the error interface.
func (e *ContextSizeError) Error() string {
	if e.Window > 0 {
		return fmt.Sprintf("%s: prompt exceeds context window (n_ctx=%d)", e.Provider, e.Window)
	}
	return fmt.Sprintf("%s: prompt exceeds context window", e.Provider)
}

// AsContextSizeError extracts a ContextSizeError from an error chain.
func AsContextSizeError(err error) (*ContextSizeError, bool) {
	var cse *ContextSizeError
	if errors.As(err, &cse) {
		return cse, true
	}
	return nil, false
}

var (
	// llama.cpp style: "... n_ctx = 8192 ..." or "n_ctx: 8192"
	nCtxPattern = regexp.MustCompile(`n_ctx\s*[=:]\s*(\d+)`)
	// OpenAI style: "This model's maximum context length is 8192 tokens"
	maxCtxPattern = regexp.MustCompile(`maximum context length is (\d+)`)
	// Anthropic style: "prompt is too long: 210000 tokens > 200000 maximum"
	promptTooLongPattern = regexp.MustCompile(`>\s*(\d+)\s*maximum`)
)

// detectContextOverflow inspects a raw error message for context-window
// overflow signals and extracts the server-reported window when present.
func detectContextOverflow(msg string) (int, bool) {
	lower := strings.ToLower(msg)
	overflow := strings.Contains(lower, "context size") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "exceeds the available context") ||
		strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "context_length_exceeded")
	if !overflow {
		return 0, false
	}
	for _, pat := range []*regexp.Regexp{nCtxPattern, maxCtxPattern, promptTooLongPattern} {
		if m := pat.FindStringSubmatch(msg); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	return 0, true
}

// wrapChatError converts overflow signals into typed errors and wraps
// everything else with the provider name.
func wrapChatError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if window, ok := detectContextOverflow(err.Error()); ok {
		return &ContextSizeError{Provider: provider, Window: window}
	}
	return fmt.Errorf("%s: chat: %w", provider, err)
}
