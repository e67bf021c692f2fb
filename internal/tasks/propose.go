package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/tools"
)

// ProposeTool lets the agent suggest new tasks. Created tasks start in the
// proposed state and wait for approval; a per-invocation budget caps how
// many proposals one agent run may make.
type ProposeTool struct {
	store *Store

	mu        sync.Mutex
	remaining int

	// RejectionWindow suppresses re-proposing a recently rejected task name.
	RejectionWindow time.Duration
}

// NewProposeTool creates the tool with no budget armed; call SetBudget
// before handing it to an agent run.
func NewProposeTool(store *Store) *ProposeTool {
	return &ProposeTool{store: store, RejectionWindow: 7 * 24 * time.Hour}
}

// SetBudget arms the proposal budget for the next run.
func (p *ProposeTool) SetBudget(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remaining = n
}

func (p *ProposeTool) Name() string { return "task_propose" }

func (p *ProposeTool) Description() string {
	return "Propose a new background task for the user to approve. Provide a name, a prompt, and optionally a schedule (cron expression or interval like '30m')."
}

func (p *ProposeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string", "description": "Short unique task name"},
			"description": map[string]any{"type": "string", "description": "What the task is for"},
			"prompt":      map[string]any{"type": "string", "description": "The instruction the task runs"},
			"cron":        map[string]any{"type": "string", "description": "Optional cron expression or HH:MM"},
			"interval":    map[string]any{"type": "string", "description": "Optional interval like 30m or 2h"},
		},
		"required": []string{"name", "prompt"},
	}
}

func (p *ProposeTool) Execute(ctx context.Context, args map[string]any, _ string) (*tools.Result, error) {
	p.mu.Lock()
	if p.remaining <= 0 {
		p.mu.Unlock()
		return &tools.Result{Success: false, Output: "Proposal budget exhausted for this run."}, nil
	}
	p.remaining--
	p.mu.Unlock()

	name, _ := args["name"].(string)
	prompt, _ := args["prompt"].(string)
	if name == "" || prompt == "" {
		return &tools.Result{Success: false, Output: "Both name and prompt are required."}, nil
	}

	if rejected, err := p.store.WasRecentlyRejected(ctx, name, p.RejectionWindow); err == nil && rejected {
		return &tools.Result{Success: false, Output: fmt.Sprintf("Task %q was recently rejected; not re-proposing.", name)}, nil
	}
	if existing, err := p.store.GetByName(ctx, name); err == nil && existing != nil {
		return &tools.Result{Success: false, Output: fmt.Sprintf("A task named %q already exists.", name)}, nil
	}

	description, _ := args["description"].(string)
	task := &Task{
		Name:        name,
		Description: description,
		Prompt:      prompt,
		Kind:        KindOneshot,
		CreatedBy:   "agent",
	}
	if cronExpr, _ := args["cron"].(string); cronExpr != "" {
		if _, err := ParseCron(cronExpr); err != nil {
			return &tools.Result{Success: false, Output: err.Error()}, nil
		}
		task.Kind = KindScheduled
		task.CronExpression = cronExpr
	} else if interval, _ := args["interval"].(string); interval != "" {
		d, err := ParseInterval(interval)
		if err != nil {
			return &tools.Result{Success: false, Output: err.Error()}, nil
		}
		task.Kind = KindScheduled
		task.IntervalMs = d.Milliseconds()
	}

	if err := p.store.Create(ctx, task); err != nil {
		return &tools.Result{Success: false, Output: "Could not record proposal: " + err.Error()}, nil
	}
	if err := p.store.CreateProposal(ctx, &Proposal{TaskID: task.ID}); err != nil {
		return &tools.Result{Success: false, Output: "Could not record proposal: " + err.Error()}, nil
	}
	return &tools.Result{Success: true, Output: fmt.Sprintf("Proposed task %q (id %s), awaiting approval.", name, task.ID)}, nil
}
