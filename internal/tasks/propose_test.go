package tasks

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newProposeTool(t *testing.T) (*ProposeTool, *Store) {
	t.Helper()
	store := openTestStore(t)
	return NewProposeTool(store), store
}

func TestProposeCreatesProposedTask(t *testing.T) {
	tool, store := newProposeTool(t)
	ctx := context.Background()
	tool.SetBudget(3)

	res, err := tool.Execute(ctx, map[string]any{
		"name":     "morning-digest",
		"prompt":   "summarize overnight email",
		"interval": "1d",
	}, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("output = %q", res.Output)
	}

	task, _ := store.GetByName(ctx, "morning-digest")
	if task == nil {
		t.Fatal("task not created")
	}
	if task.Status != StatusProposed || task.CreatedBy != "agent" {
		t.Errorf("status=%s created_by=%s", task.Status, task.CreatedBy)
	}
	if task.Kind != KindScheduled || task.IntervalMs != 24*time.Hour.Milliseconds() {
		t.Errorf("kind=%s interval=%d", task.Kind, task.IntervalMs)
	}
}

func TestProposeBudgetExhaustion(t *testing.T) {
	tool, _ := newProposeTool(t)
	ctx := context.Background()
	tool.SetBudget(1)

	first, _ := tool.Execute(ctx, map[string]any{"name": "a", "prompt": "p"}, "")
	if !first.Success {
		t.Fatalf("first proposal rejected: %q", first.Output)
	}
	second, _ := tool.Execute(ctx, map[string]any{"name": "b", "prompt": "p"}, "")
	if second.Success || !strings.Contains(second.Output, "budget") {
		t.Errorf("second = %+v", second)
	}
}

func TestProposeRejectsDuplicateName(t *testing.T) {
	tool, store := newProposeTool(t)
	ctx := context.Background()
	tool.SetBudget(5)

	existing := &Task{Name: "taken", Kind: KindOneshot, Prompt: "p"}
	store.Create(ctx, existing)

	res, _ := tool.Execute(ctx, map[string]any{"name": "taken", "prompt": "p"}, "")
	if res.Success || !strings.Contains(res.Output, "already exists") {
		t.Errorf("res = %+v", res)
	}
}

func TestProposeHonorsRecentRejection(t *testing.T) {
	tool, store := newProposeTool(t)
	ctx := context.Background()
	tool.SetBudget(5)

	res, _ := tool.Execute(ctx, map[string]any{"name": "noisy", "prompt": "p"}, "")
	if !res.Success {
		t.Fatalf("initial proposal failed: %q", res.Output)
	}
	task, _ := store.GetByName(ctx, "noisy")
	var propID string
	if err := store.db.QueryRow("SELECT id FROM task_proposals WHERE task_id = ?", task.ID).Scan(&propID); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateProposal(ctx, propID, ProposalRejected); err != nil {
		t.Fatal(err)
	}

	again, _ := tool.Execute(ctx, map[string]any{"name": "noisy", "prompt": "p"}, "")
	if again.Success || !strings.Contains(again.Output, "recently rejected") {
		t.Errorf("again = %+v", again)
	}
}

func TestProposeValidatesSchedule(t *testing.T) {
	tool, _ := newProposeTool(t)
	ctx := context.Background()
	tool.SetBudget(5)

	res, _ := tool.Execute(ctx, map[string]any{"name": "bad", "prompt": "p", "interval": "fortnight"}, "")
	if res.Success {
		t.Error("nonsense interval accepted")
	}
	res, _ = tool.Execute(ctx, map[string]any{"name": "bad2", "prompt": "p", "cron": "not a cron"}, "")
	if res.Success {
		t.Error("nonsense cron accepted")
	}
}

func TestDiscoveryGating(t *testing.T) {
	d := NewDiscovery(DiscoveryConfig{
		UserActiveWindow: time.Hour,
		IdleThreshold:    10 * time.Minute,
	}, nil, &stubAgent{response: "nothing to propose"}, nil, nil)

	now := time.Now()
	if d.ShouldRun(now) {
		t.Error("fired with no user interaction on record")
	}

	d.RecordInteraction()
	if d.ShouldRun(now) {
		t.Error("fired while the system was busy moments ago")
	}

	// Interaction long enough ago to be idle, recent enough to be active.
	d.mu.Lock()
	d.lastInteractionAt = now.Add(-30 * time.Minute)
	d.lastActivityAt = now.Add(-30 * time.Minute)
	d.mu.Unlock()
	if !d.ShouldRun(now) {
		t.Error("gates blocked an eligible window")
	}

	d.mu.Lock()
	d.lastInteractionAt = now.Add(-2 * time.Hour)
	d.mu.Unlock()
	if d.ShouldRun(now) {
		t.Error("fired after the user went inactive")
	}
}

func TestDiscoveryRunArmsAndDisarmsBudget(t *testing.T) {
	store := openTestStore(t)
	tool := NewProposeTool(store)
	agentStub := &stubAgent{response: "nothing to propose"}
	d := NewDiscovery(DiscoveryConfig{MaxProposals: 2}, nil, agentStub, tool, nil)

	now := time.Now()
	d.mu.Lock()
	d.lastInteractionAt = now.Add(-30 * time.Minute)
	d.lastActivityAt = now.Add(-30 * time.Minute)
	d.mu.Unlock()

	d.RunOnce(context.Background())
	if len(agentStub.prompts) != 1 {
		t.Fatalf("agent runs = %d", len(agentStub.prompts))
	}

	// Budget must be zero once the pass finishes.
	res, _ := tool.Execute(context.Background(), map[string]any{"name": "late", "prompt": "p"}, "")
	if res.Success {
		t.Error("proposal accepted outside a discovery pass")
	}
}
