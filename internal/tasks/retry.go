package tasks

import (
	"strings"
	"time"
)

// Error kinds assigned to failed runs.
const (
	ErrRateLimit       = "rate_limit"
	ErrAuth            = "auth"
	ErrTimeout         = "timeout"
	ErrContextOverflow = "context_overflow"
	ErrTransient       = "transient"
	ErrUnknown         = "unknown"
)

// kindPatterns maps substrings of error text to kinds; order matters, first
// match wins.
var kindPatterns = []struct {
	kind     string
	patterns []string
}{
	{ErrRateLimit, []string{"rate limit", "rate_limit", "429", "too many requests", "quota exceeded"}},
	{ErrAuth, []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication failed", "permission denied"}},
	{ErrContextOverflow, []string{"context length", "context window", "maximum context", "too many tokens", "request too large", "n_ctx"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrTransient, []string{
		"500", "502", "503", "504",
		"connection refused", "connection reset", "broken pipe",
		"econnrefused", "econnreset", "no such host", "network is unreachable",
		"temporarily unavailable", "unexpected eof", "server overloaded",
	}},
}

// ClassifyError maps an error string onto one of the retry kinds.
func ClassifyError(msg string) string {
	lower := strings.ToLower(msg)
	for _, entry := range kindPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(lower, p) {
				return entry.kind
			}
		}
	}
	return ErrUnknown
}

// RetryDecision says whether a failed task retries and after how long.
type RetryDecision struct {
	Retry   bool
	Backoff time.Duration
}

// RetryPolicy computes the decision for a kind after `failures` consecutive
// failures (1-based: the failure just recorded counts). Backoff is
// non-decreasing in failures until each kind's cap.
func RetryPolicy(kind string, failures int) RetryDecision {
	if failures < 1 {
		failures = 1
	}
	switch kind {
	case ErrRateLimit:
		exp := failures
		if exp > 3 {
			exp = 3
		}
		backoff := 5 * time.Minute
		for i := 1; i < exp; i++ {
			backoff *= 5
		}
		if backoff > time.Hour {
			backoff = time.Hour
		}
		return RetryDecision{Retry: true, Backoff: backoff}

	case ErrTransient:
		if failures > 4 {
			return RetryDecision{}
		}
		backoff := 30 * time.Second << (failures - 1)
		if backoff > 15*time.Minute {
			backoff = 15 * time.Minute
		}
		return RetryDecision{Retry: true, Backoff: backoff}

	case ErrTimeout:
		if failures > 1 {
			return RetryDecision{}
		}
		return RetryDecision{Retry: true, Backoff: time.Minute}

	case ErrAuth, ErrContextOverflow:
		return RetryDecision{}

	default: // unknown
		if failures > 2 {
			return RetryDecision{}
		}
		backoff := time.Minute << (failures - 1)
		return RetryDecision{Retry: true, Backoff: backoff}
	}
}
