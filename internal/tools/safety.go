package tools

import (
	"context"
	"strings"

	"github.com/beaconhq/beacon/internal/providers"
)

// Verdict is a safety checker's decision for one tool call.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictConfirm
	VerdictBlock
)

// SafetyChecker inspects a tool call before execution.
type SafetyChecker interface {
	// Check returns a verdict and a human-readable reason for anything
	// other than allow.
	Check(call providers.ToolCall) (Verdict, string)
}

// ConfirmFunc asks for user confirmation of a flagged tool call. Returning
// false blocks the call.
type ConfirmFunc func(ctx context.Context, call providers.ToolCall, reason string) bool

// PatternChecker is a SafetyChecker driven by substring patterns over the
// tool name and its serialized arguments.
type PatternChecker struct {
	// BlockPatterns deny the call outright.
	BlockPatterns []string

	// ConfirmPatterns require confirmation.
	ConfirmPatterns []string
}

// Check implements SafetyChecker.
func (c *PatternChecker) Check(call providers.ToolCall) (Verdict, string) {
	haystack := strings.ToLower(call.Name + " " + flattenArgs(call.Arguments))
	for _, p := range c.BlockPatterns {
		if p != "" && strings.Contains(haystack, strings.ToLower(p)) {
			return VerdictBlock, "matched blocked pattern: " + p
		}
	}
	for _, p := range c.ConfirmPatterns {
		if p != "" && strings.Contains(haystack, strings.ToLower(p)) {
			return VerdictConfirm, "matched confirmation pattern: " + p
		}
	}
	return VerdictAllow, ""
}

func flattenArgs(args map[string]any) string {
	var sb strings.Builder
	for _, v := range args {
		if s, ok := v.(string); ok {
			sb.WriteString(s)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
