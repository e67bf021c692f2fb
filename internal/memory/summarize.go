package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/beaconhq/beacon/internal/providers"
)

// summarizeInputCap bounds the transcript text sent to the model.
const summarizeInputCap = 50000

const summarizeSystemPrompt = `Summarize this conversation in a few short paragraphs.
Capture: what the user wanted, what was done, decisions made, and any open items.
Be concrete. Omit pleasantries.`

// Summarizer compacts finished conversations into stored summaries.
type Summarizer struct {
	provider providers.Provider
}

func NewSummarizer(p providers.Provider) *Summarizer {
	return &Summarizer{provider: p}
}

// Summarize produces a prose summary of the transcript. If the model call
// fails it falls back to a deterministic digest so compaction never loses
// the conversation entirely.
func (s *Summarizer) Summarize(ctx context.Context, transcript []providers.Message) (string, error) {
	if len(transcript) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, m := range transcript {
		switch m.Role {
		case providers.RoleUser, providers.RoleAssistant:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text())
		}
	}
	input := b.String()
	if len(input) > summarizeInputCap {
		input = input[:summarizeInputCap]
	}

	resp, err := s.provider.Chat(ctx, &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: summarizeSystemPrompt},
			{Role: providers.RoleUser, Content: input},
		},
		Options: providers.ChatOptions{Temperature: 0.2, MaxTokens: 500},
	})
	if err != nil {
		return fallbackSummary(transcript), nil
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fallbackSummary(transcript), nil
	}
	return summary, nil
}

// fallbackSummary lists user messages and the tools used, no model needed.
func fallbackSummary(transcript []providers.Message) string {
	var b strings.Builder
	b.WriteString("Conversation summary (auto-generated):\n")

	seen := map[string]bool{}
	var tools []string
	for _, m := range transcript {
		switch m.Role {
		case providers.RoleUser:
			text := strings.TrimSpace(m.Text())
			if text != "" {
				fmt.Fprintf(&b, "- User: %s\n", truncateLine(text, 200))
			}
		case providers.RoleAssistant:
			for _, call := range m.ToolCalls {
				if !seen[call.Name] {
					seen[call.Name] = true
					tools = append(tools, call.Name)
				}
			}
		}
	}
	if len(tools) > 0 {
		fmt.Fprintf(&b, "Tools used: %s\n", strings.Join(tools, ", "))
	}
	return b.String()
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
