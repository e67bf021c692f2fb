package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/beaconhq/beacon/internal/providers"
)

type scriptedProvider struct {
	response string
	err      error
	requests []*providers.ChatRequest
}

func (p *scriptedProvider) Name() string       { return "scripted" }
func (p *scriptedProvider) ContextLength() int { return 8192 }

func (p *scriptedProvider) Chat(_ context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &providers.ChatResponse{Content: p.response}, nil
}

func TestExtractParsesFencedJSON(t *testing.T) {
	p := &scriptedProvider{response: "Here you go:\n```json\n[{\"key\": \"Favorite Editor!\", \"value\": \"vim\", \"category\": \"preference\"}]\n```"}
	e := NewExtractor(p, 10)

	items, err := e.Extract(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: "I always use vim"},
		{Role: providers.RoleAssistant, Content: "Noted."},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Key != "favorite_editor" {
		t.Errorf("key = %q, want sanitized favorite_editor", items[0].Key)
	}
	if items[0].Category != "preference" {
		t.Errorf("category = %q", items[0].Category)
	}
}

func TestExtractRepairsMalformedJSON(t *testing.T) {
	// Trailing comma, single quotes: repairable.
	p := &scriptedProvider{response: `[{'key': 'project_deadline', 'value': 'sept 1', 'category': 'project'},]`}
	e := NewExtractor(p, 10)

	items, err := e.Extract(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: "deadline is sept 1"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(items) != 1 || items[0].Key != "project_deadline" {
		t.Fatalf("items = %+v", items)
	}
}

func TestExtractDropsInvalidCategoriesAndCaps(t *testing.T) {
	p := &scriptedProvider{response: `[
		{"key": "a", "value": "1", "category": "fact"},
		{"key": "b", "value": "2", "category": "gossip"},
		{"key": "c", "value": "", "category": "fact"},
		{"key": "d", "value": "4", "category": "lesson"},
		{"key": "e", "value": "5", "category": "decision"}
	]`}
	e := NewExtractor(p, 2)

	items, err := e.Extract(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, want capped at 2", items)
	}
	if items[0].Key != "a" || items[1].Key != "d" {
		t.Errorf("survivors = %q, %q", items[0].Key, items[1].Key)
	}
}

func TestExtractEmptyTranscript(t *testing.T) {
	p := &scriptedProvider{response: "[]"}
	e := NewExtractor(p, 10)
	items, err := e.Extract(context.Background(), nil)
	if err != nil || items != nil {
		t.Fatalf("items = %+v, %v", items, err)
	}
	if len(p.requests) != 0 {
		t.Error("provider called for empty transcript")
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Favorite Editor!", "favorite_editor"},
		{"__weird___key__", "weird_key"},
		{"ALLCAPS", "allcaps"},
		{"ünïcode key", "n_code_key"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, c := range cases {
		if got := sanitizeKey(c.in); got != c.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSummarizeFallsBackOnError(t *testing.T) {
	p := &scriptedProvider{err: context.DeadlineExceeded}
	sum := NewSummarizer(p)

	out, err := sum.Summarize(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: "restart the ingest service"},
		{Role: providers.RoleAssistant, ToolCalls: []providers.ToolCall{{ID: "1", Name: "shell_exec"}}},
		{Role: providers.RoleAssistant, Content: "done"},
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !strings.Contains(out, "restart the ingest service") {
		t.Errorf("fallback missing user message: %q", out)
	}
	if !strings.Contains(out, "shell_exec") {
		t.Errorf("fallback missing tool names: %q", out)
	}
}

func TestSummarizeUsesModelOutput(t *testing.T) {
	p := &scriptedProvider{response: "User asked for a restart; it was done."}
	sum := NewSummarizer(p)
	out, err := sum.Summarize(context.Background(), []providers.Message{
		{Role: providers.RoleUser, Content: "restart please"},
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out != "User asked for a restart; it was done." {
		t.Errorf("out = %q", out)
	}
}
