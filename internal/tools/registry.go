// Package tools implements the tool registry and executor used by the agent
// loop. Tools are registered by name; execution supports safety pre-checks,
// an optional confirmation gate, an audit sink, and concurrent fan-out of a
// whole batch of tool calls.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/beaconhq/beacon/internal/providers"
)

// Result is the outcome of one tool execution. Failures are values, never
// raised errors: the model sees them as tool output and can react.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`

	// SuggestEscalation hints that the conversation should move to the
	// remote tier; EscalationReason says why.
	SuggestEscalation bool   `json:"suggest_escalation,omitempty"`
	EscalationReason  string `json:"escalation_reason,omitempty"`
}

// Tool is a named callable the model can invoke.
type Tool interface {
	Name() string
	Description() string

	// Parameters returns the JSON-schema object describing the arguments.
	Parameters() map[string]any

	Execute(ctx context.Context, args map[string]any, cwd string) (*Result, error)
}

// Registry holds tools and mediates their execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	safety   SafetyChecker
	confirm  ConfirmFunc
	audit    AuditSink
	resolver *Resolver
	logger   *slog.Logger
}

// Options configures a Registry. All fields are optional.
type Options struct {
	// Safety, when set, is consulted before every execution.
	Safety SafetyChecker

	// Confirm is invoked for VerdictConfirm. Without it, confirmation
	// requests fail open with a warning.
	Confirm ConfirmFunc

	// Audit receives one record per execution attempt.
	Audit AuditSink

	// FuzzyResolve enables remapping of near-miss tool names before an
	// unknown-tool failure is returned.
	FuzzyResolve bool

	Logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		tools:   make(map[string]Tool),
		safety:  opts.Safety,
		confirm: opts.Confirm,
		audit:   opts.Audit,
		logger:  opts.Logger,
	}
	if opts.FuzzyResolve {
		r.resolver = NewResolver(r)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by exact name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all tools as provider-facing definitions, sorted by
// name for deterministic prompt construction.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a single tool call. Unknown tools, safety blocks and execution
// errors all come back as failure Results.
func (r *Registry) Execute(ctx context.Context, call providers.ToolCall, cwd string) *Result {
	tool, ok := r.Get(call.Name)
	if !ok && r.resolver != nil {
		if resolved, remapped, rok := r.resolver.Resolve(call); rok {
			tool, call = resolved, remapped
			ok = true
		}
	}
	if !ok {
		res := &Result{Success: false, Output: "Unknown tool: " + call.Name}
		r.record(call, "unknown", "")
		return res
	}

	if r.safety != nil {
		verdict, reason := r.safety.Check(call)
		switch verdict {
		case VerdictBlock:
			r.record(call, "blocked", reason)
			return &Result{Success: false, Output: fmt.Sprintf("Blocked by safety policy: %s", reason)}
		case VerdictConfirm:
			if r.confirm == nil {
				r.logger.Warn("tool requires confirmation but no callback is registered, failing open",
					"tool", call.Name, "reason", reason)
			} else if !r.confirm(ctx, call, reason) {
				r.record(call, "blocked", "confirmation denied")
				return &Result{Success: false, Output: "Blocked: confirmation denied"}
			}
		}
	}

	res, err := tool.Execute(ctx, call.Arguments, cwd)
	if err != nil {
		r.record(call, "failure", err.Error())
		return &Result{Success: false, Output: fmt.Sprintf("Tool %s failed: %v", call.Name, err)}
	}
	if res == nil {
		res = &Result{Success: true}
	}
	if res.Success {
		r.record(call, "success", "")
	} else {
		r.record(call, "failure", res.Output)
	}
	return res
}

// ExecuteAll runs all calls concurrently and returns a map from call ID to
// result. Individual failures become result values.
func (r *Registry) ExecuteAll(ctx context.Context, calls []providers.ToolCall, cwd string) map[string]*Result {
	results := make(map[string]*Result, len(calls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(call providers.ToolCall) {
			defer wg.Done()
			res := r.Execute(ctx, call, cwd)
			mu.Lock()
			results[call.ID] = res
			mu.Unlock()
		}(call)
	}
	wg.Wait()
	return results
}

func (r *Registry) record(call providers.ToolCall, outcome, reason string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Append(NewAuditRecord(call, outcome, reason)); err != nil {
		r.logger.Warn("audit append failed", "tool", call.Name, "error", err)
	}
}
