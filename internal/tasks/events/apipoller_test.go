package events

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/tools"
)

// scriptedDispatcher returns canned outputs per tool name, in order.
type scriptedDispatcher struct {
	mu      sync.Mutex
	outputs map[string][]string
}

func (d *scriptedDispatcher) Execute(_ context.Context, call providers.ToolCall, _ string) *tools.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue := d.outputs[call.Name]
	if len(queue) == 0 {
		return &tools.Result{Success: false, Output: "exhausted"}
	}
	out := queue[0]
	if len(queue) > 1 {
		d.outputs[call.Name] = queue[1:]
	}
	return &tools.Result{Success: true, Output: out}
}

func collectPayloads() (TriggerFunc, *[]Payload, *sync.Mutex) {
	var mu sync.Mutex
	var got []Payload
	return func(p Payload) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}, &got, &mu
}

func TestAPIPollerBaselineThenFire(t *testing.T) {
	dispatcher := &scriptedDispatcher{outputs: map[string][]string{
		"issue_list": {"issue 1", "issue 1\nissue 2"},
	}}
	p := NewAPIPoller([]APICheck{
		{EventType: "issues", Ref: "repo", Tool: "issue_list"},
	}, dispatcher, 0, "", discardLogger())

	onTrigger, got, mu := collectPayloads()
	ctx := context.Background()

	// First poll only primes the baseline.
	p.Poll(ctx, onTrigger)
	mu.Lock()
	n := len(*got)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("baseline poll fired %d payloads", n)
	}

	p.Poll(ctx, onTrigger)
	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 1 {
		t.Fatalf("payloads = %d, want 1", len(*got))
	}
	payload := (*got)[0]
	if payload.Source != "api_poll" || !strings.Contains(payload.Summary, "issues changed") {
		t.Errorf("payload = %+v", payload)
	}
	if !strings.Contains(payload.Data, "issue 2") {
		t.Errorf("data = %q", payload.Data)
	}
}

func TestAPIPollerStableOutputNeverFires(t *testing.T) {
	dispatcher := &scriptedDispatcher{outputs: map[string][]string{
		"status": {"all green"},
	}}
	p := NewAPIPoller([]APICheck{
		{EventType: "health", Tool: "status"},
	}, dispatcher, 0, "", discardLogger())

	onTrigger, got, mu := collectPayloads()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.Poll(ctx, onTrigger)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 0 {
		t.Errorf("stable output fired %d payloads", len(*got))
	}
}

func TestAPIPollerRelevanceFilter(t *testing.T) {
	dispatcher := &scriptedDispatcher{outputs: map[string][]string{
		"feed": {"quiet day", "still nothing important"},
	}}
	p := NewAPIPoller([]APICheck{
		{
			EventType: "news",
			Tool:      "feed",
			Relevant:  func(out string) bool { return strings.Contains(out, "urgent") },
		},
	}, dispatcher, 0, "", discardLogger())

	onTrigger, got, mu := collectPayloads()
	ctx := context.Background()
	p.Poll(ctx, onTrigger)
	p.Poll(ctx, onTrigger)
	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 0 {
		t.Errorf("irrelevant change fired %d payloads", len(*got))
	}
}

func TestAPIPollerFailedCheckKeepsBaseline(t *testing.T) {
	dispatcher := &scriptedDispatcher{outputs: map[string][]string{}}
	p := NewAPIPoller([]APICheck{
		{EventType: "broken", Tool: "missing_tool"},
	}, dispatcher, 0, "", discardLogger())

	onTrigger, got, mu := collectPayloads()
	p.Poll(context.Background(), onTrigger)
	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 0 {
		t.Errorf("failed check fired %d payloads", len(*got))
	}
}
