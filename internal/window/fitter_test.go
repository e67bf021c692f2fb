package window

import (
	"strings"
	"testing"

	"github.com/beaconhq/beacon/internal/providers"
)

// charCounter counts one token per byte, making budgets exact in tests.
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

func msg(role providers.Role, content string) providers.Message {
	return providers.Message{Role: role, Content: content}
}

func repeat(n int) string { return strings.Repeat("a", n) }

// Conversation used across tests: u1, assistant+tool_call, tool result,
// large assistant answer, final user message.
func conversation() []providers.Message {
	return []providers.Message{
		msg(providers.RoleUser, repeat(10)),
		{
			Role:    providers.RoleAssistant,
			Content: "",
			ToolCalls: []providers.ToolCall{
				{ID: "call_1", Name: "t", Arguments: map[string]any{}},
			},
		},
		{Role: providers.RoleTool, Content: repeat(10), ToolCallID: "call_1"},
		msg(providers.RoleAssistant, repeat(200)),
		msg(providers.RoleUser, repeat(10)),
	}
}

func TestFitKeepsNewestAndStopsAtFirstOversizedGroup(t *testing.T) {
	msgs := conversation()
	f := NewFitter(Config{
		ContextLength:       116,
		ReserveForOutput:    8,
		MaxToolResultTokens: 8000,
	}, charCounter{}, nil)

	fitted := f.Fit("", msgs, nil)

	// Expect the truncation notice plus the final user message only: the
	// next-older group (the 200-token assistant answer) exceeds the budget
	// and inclusion stops there, even though older groups are smaller.
	if len(fitted) != 2 {
		t.Fatalf("fitted length = %d, want 2 (%+v)", len(fitted), fitted)
	}
	if fitted[0].Role != providers.RoleSystem || !strings.Contains(fitted[0].Content, "(4 messages)") {
		t.Errorf("missing or wrong truncation notice: %+v", fitted[0])
	}
	if fitted[1].Role != providers.RoleUser || len(fitted[1].Content) != 10 {
		t.Errorf("expected final user message, got %+v", fitted[1])
	}
}

func TestFitBudgetInvariant(t *testing.T) {
	msgs := conversation()
	counter := charCounter{}
	system := repeat(40)

	for _, contextLength := range []int{80, 150, 300, 600, 1000} {
		f := NewFitter(Config{
			ContextLength:       contextLength,
			ReserveForOutput:    16,
			MaxToolResultTokens: 8000,
		}, counter, nil)
		fitted := f.Fit(system, msgs, nil)

		total := counter.Count(system) + 16
		for _, m := range fitted {
			total += f.MessageTokens(m)
		}
		if total > contextLength && len(fitted) > 2 {
			t.Errorf("context_length=%d: fitted total %d exceeds budget", contextLength, total)
		}
	}
}

func TestFitToolCallGroupIsAtomic(t *testing.T) {
	msgs := conversation()
	counter := charCounter{}

	// Budget wide enough for everything.
	f := NewFitter(Config{ContextLength: 2000, ReserveForOutput: 16, MaxToolResultTokens: 8000}, counter, nil)
	fitted := f.Fit("", msgs, nil)
	if len(fitted) != len(msgs) {
		t.Fatalf("full budget should keep all %d messages, got %d", len(msgs), len(fitted))
	}

	// Shrink until the tool-call group cannot fit: the assistant message and
	// its tool result must disappear together.
	for contextLength := 1999; contextLength > 100; contextLength-- {
		f := NewFitter(Config{ContextLength: contextLength, ReserveForOutput: 16, MaxToolResultTokens: 8000}, counter, nil)
		fitted := f.Fit("", msgs, nil)

		var hasCalls, hasResult bool
		for _, m := range fitted {
			if len(m.ToolCalls) > 0 {
				hasCalls = true
			}
			if m.Role == providers.RoleTool {
				hasResult = true
			}
		}
		if hasCalls != hasResult {
			t.Fatalf("context_length=%d: tool-call group split (calls=%v result=%v)",
				contextLength, hasCalls, hasResult)
		}
	}
}

func TestFitExhaustedBudgetForcesLastUserMessage(t *testing.T) {
	msgs := conversation()
	f := NewFitter(Config{ContextLength: 10, ReserveForOutput: 2048, MaxToolResultTokens: 8000}, charCounter{}, nil)

	fitted := f.Fit(repeat(100), msgs, nil)
	if len(fitted) != 2 {
		t.Fatalf("fitted length = %d, want notice + forced user message", len(fitted))
	}
	if fitted[1].Role != providers.RoleUser {
		t.Errorf("forced message role = %s, want user", fitted[1].Role)
	}
}

func TestFitTruncatesOversizedToolResults(t *testing.T) {
	msgs := []providers.Message{
		msg(providers.RoleUser, "run it"),
		{
			Role:      providers.RoleAssistant,
			ToolCalls: []providers.ToolCall{{ID: "c1", Name: "shell_exec", Arguments: map[string]any{}}},
		},
		{Role: providers.RoleTool, Content: repeat(5000), ToolCallID: "c1"},
	}
	f := NewFitter(Config{ContextLength: 100000, ReserveForOutput: 16, MaxToolResultTokens: 100}, charCounter{}, nil)

	fitted := f.Fit("", msgs, nil)
	for _, m := range fitted {
		if m.Role != providers.RoleTool {
			continue
		}
		if got := len(m.Content); got > 100 {
			t.Errorf("tool result = %d tokens, want <= 100", got)
		}
		if !strings.Contains(m.Content, "truncated") {
			t.Errorf("truncated tool result missing suffix: %q", m.Content[len(m.Content)-60:])
		}
		return
	}
	t.Fatal("tool result missing from fitted output")
}

func TestFitEmptyHistory(t *testing.T) {
	f := NewFitter(Config{ContextLength: 1000}, charCounter{}, nil)
	if fitted := f.Fit("system", nil, nil); len(fitted) != 0 {
		t.Errorf("empty input should fit to empty output, got %+v", fitted)
	}
}
