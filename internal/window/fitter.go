// Package window fits conversation histories into a hard token budget.
//
// The fitter walks message groups from newest to oldest, keeping whole
// assistant-with-tool-calls groups intact, and prepends a truncation notice
// whenever anything was dropped. The caller re-prepends the system prompt.
package window

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/tokenizer"
)

// Per-message accounting constants. These cover chat-template framing the
// tokenizer never sees.
const (
	messageOverheadTokens  = 7
	toolCallOverheadTokens = 15
	toolCallIDTokens       = 5
	imagePartTokens        = 1000
	toolDefWrapperTokens   = 20
)

// Config bounds a fit.
type Config struct {
	// ContextLength is the hard token budget of the target model.
	ContextLength int

	// ReserveForOutput is held back for the model's reply. Default 2048.
	ReserveForOutput int

	// MaxToolResultTokens caps any single tool-result message. Default 8000.
	MaxToolResultTokens int
}

// Fitter trims message histories to a token budget.
type Fitter struct {
	cfg     Config
	counter tokenizer.Counter
	logger  *slog.Logger
}

// NewFitter creates a Fitter. A nil counter selects the estimator.
func NewFitter(cfg Config, counter tokenizer.Counter, logger *slog.Logger) *Fitter {
	if cfg.ReserveForOutput <= 0 {
		cfg.ReserveForOutput = 2048
	}
	if cfg.MaxToolResultTokens <= 0 {
		cfg.MaxToolResultTokens = 8000
	}
	if counter == nil {
		counter = tokenizer.EstimateCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fitter{cfg: cfg, counter: counter, logger: logger}
}

// group is an atomic bundle for trimming: either a single message, or an
// assistant message with tool calls plus its immediately following
// tool-role results.
type group struct {
	messages []providers.Message
	tokens   int
}

// Fit returns a message sequence (without the system prompt) satisfying
//
//	tokens(system) + tokens(tools) + reserve + sum(tokens(msg)) + notice <= ContextLength.
//
// Groups are included newest-first; the first group that does not fit stops
// inclusion. When anything was dropped a synthetic system notice naming the
// dropped count is prepended.
func (f *Fitter) Fit(systemPrompt string, messages []providers.Message, tools []providers.ToolDefinition) []providers.Message {
	messages = f.capToolResults(messages)

	fixed := f.counter.Count(systemPrompt) + f.toolsTokens(tools) + f.cfg.ReserveForOutput
	budget := f.cfg.ContextLength - fixed
	if budget <= 0 {
		f.logger.Warn("context budget exhausted by fixed costs",
			"context_length", f.cfg.ContextLength, "fixed", fixed)
		forced := lastUserOrLast(messages)
		return f.withNotice(forced, len(messages)-len(forced))
	}

	// Reserve the notice cost up front using the worst-case count so the
	// invariant holds whether or not trimming happens.
	budget -= f.counter.Count(truncationNotice(len(messages))) + messageOverheadTokens

	groups := f.groupMessages(messages)

	var kept []group
	used := 0
	for i := len(groups) - 1; i >= 0; i-- {
		g := groups[i]
		if used+g.tokens > budget {
			break
		}
		used += g.tokens
		kept = append(kept, g)
	}

	var fitted []providers.Message
	for i := len(kept) - 1; i >= 0; i-- {
		fitted = append(fitted, kept[i].messages...)
	}
	if len(fitted) == 0 {
		fitted = lastUserOrLast(messages)
	}
	return f.withNotice(fitted, len(messages)-len(fitted))
}

// MessageTokens returns the budgeted cost of one message, including framing
// overhead, tool-call costs and vision parts.
func (f *Fitter) MessageTokens(m providers.Message) int {
	tokens := messageOverheadTokens
	if len(m.Parts) > 0 {
		for _, p := range m.Parts {
			if p.Type == "image_url" {
				tokens += imagePartTokens
				continue
			}
			tokens += f.counter.Count(p.Text)
		}
	} else {
		tokens += f.counter.Count(m.Content)
	}
	for _, tc := range m.ToolCalls {
		tokens += toolCallOverheadTokens
		tokens += f.counter.Count(tc.Name)
		if args, err := json.Marshal(tc.Arguments); err == nil {
			tokens += f.counter.Count(string(args))
		}
	}
	if m.ToolCallID != "" {
		tokens += toolCallIDTokens
	}
	return tokens
}

func (f *Fitter) toolsTokens(tools []providers.ToolDefinition) int {
	total := 0
	for _, def := range tools {
		blob, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.Parameters,
			},
		})
		if err != nil {
			continue
		}
		total += f.counter.Count(string(blob)) + toolDefWrapperTokens
	}
	return total
}

// capToolResults truncates oversized tool-result messages in place on a copy.
func (f *Fitter) capToolResults(messages []providers.Message) []providers.Message {
	out := make([]providers.Message, len(messages))
	copy(out, messages)
	for i, m := range out {
		if m.Role != providers.RoleTool {
			continue
		}
		if f.counter.Count(m.Content) <= f.cfg.MaxToolResultTokens {
			continue
		}
		out[i].Content = f.truncateToTokens(m.Content, f.cfg.MaxToolResultTokens)
	}
	return out
}

func (f *Fitter) truncateToTokens(text string, maxTokens int) string {
	const suffix = "\n[... output truncated to fit context window]"
	cut := approximateCut(text, maxTokens)
	// One refinement pass: shrink further if the real count still overshoots.
	if f.counter.Count(cut+suffix) > maxTokens {
		over := f.counter.Count(cut+suffix) - maxTokens
		trim := int(float64(over)*3.5) + len(suffix)
		if trim < len(cut) {
			cut = cut[:len(cut)-trim]
		} else {
			cut = ""
		}
	}
	return cut + suffix
}

func approximateCut(text string, maxTokens int) string {
	chars := int(float64(maxTokens) * 3.5)
	if chars >= len(text) {
		return text
	}
	cut := text[:chars]
	// Avoid splitting a UTF-8 sequence.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func (f *Fitter) groupMessages(messages []providers.Message) []group {
	var groups []group
	for i := 0; i < len(messages); {
		m := messages[i]
		g := group{messages: []providers.Message{m}, tokens: f.MessageTokens(m)}
		if m.Role == providers.RoleAssistant && len(m.ToolCalls) > 0 {
			for j := i + 1; j < len(messages) && messages[j].Role == providers.RoleTool; j++ {
				g.messages = append(g.messages, messages[j])
				g.tokens += f.MessageTokens(messages[j])
			}
		}
		i += len(g.messages)
		groups = append(groups, g)
	}
	return groups
}

func (f *Fitter) withNotice(fitted []providers.Message, excluded int) []providers.Message {
	if excluded <= 0 {
		return fitted
	}
	notice := providers.Message{
		Role:    providers.RoleSystem,
		Content: truncationNotice(excluded),
	}
	return append([]providers.Message{notice}, fitted...)
}

func truncationNotice(n int) string {
	return fmt.Sprintf("[Earlier conversation (%d messages) was trimmed to fit context window.]", n)
}

// lastUserOrLast returns the most recent user message, or failing that the
// very last message, as a single-element slice. Empty input returns nil.
func lastUserOrLast(messages []providers.Message) []providers.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == providers.RoleUser {
			return []providers.Message{messages[i]}
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return []providers.Message{messages[len(messages)-1]}
}
