// Package agent implements the conversational agent loop: routing between
// provider tiers, context fitting, tool-call fan-out, and mid-conversation
// escalation from the local to the remote model.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/routing"
	"github.com/beaconhq/beacon/internal/tokenizer"
	"github.com/beaconhq/beacon/internal/tools"
	"github.com/beaconhq/beacon/internal/window"
)

// DefaultMaxTurns bounds one Run when the caller passes no limit.
const DefaultMaxTurns = 10

// EventSink receives progress events from a run. Methods may be called from
// the loop's goroutine or a provider's IO goroutine; implementations must not
// block. A nil sink is valid.
type EventSink interface {
	Thinking(text string)
	ToolStart(name string, args map[string]any)
	ToolDone(name string, result *tools.Result)
	Token(token string)
}

// Result is the outcome of one Run.
type Result struct {
	Content   string          `json:"content"`
	Target    routing.Target  `json:"target"`
	Provider  string          `json:"provider"`
	Usage     providers.Usage `json:"usage"`
	Escalated bool            `json:"escalated"`
	Turns     int             `json:"turns"`
}

// RunOptions tunes one Run.
type RunOptions struct {
	// MaxTurns caps loop iterations. <= 0 selects DefaultMaxTurns.
	MaxTurns int

	// LocalOnly forbids the remote tier for this run regardless of routing.
	LocalOnly bool

	// Sink, when set, receives progress events.
	Sink EventSink
}

// Config configures a Loop.
type Config struct {
	SystemPrompt string

	// EscalationThreshold triggers a remote retry when a local response
	// reports confidence below it. <= 0 disables confidence escalation.
	EscalationThreshold float64

	// ReserveForOutput and MaxToolResultTokens pass through to the fitter.
	ReserveForOutput    int
	MaxToolResultTokens int

	// Cwd is the working directory handed to tools.
	Cwd string
}

// Loop runs conversations. Sessions are keyed by id; per session the loop is
// the sole owner of the message sequence.
type Loop struct {
	cfg      Config
	local    providers.Provider
	remote   providers.Provider // nil when no remote tier is configured
	router   *routing.Router
	registry *tools.Registry
	counter  tokenizer.Counter
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string][]providers.Message
}

// New creates a Loop. local is required; remote may be nil.
func New(cfg Config, local, remote providers.Provider, router *routing.Router, registry *tools.Registry, counter tokenizer.Counter, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if counter == nil {
		counter = tokenizer.EstimateCounter{}
	}
	return &Loop{
		cfg:      cfg,
		local:    local,
		remote:   remote,
		router:   router,
		registry: registry,
		counter:  counter,
		logger:   logger,
		sessions: make(map[string][]providers.Message),
	}
}

// Messages returns a copy of a session's message history.
func (l *Loop) Messages(sessionID string) []providers.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.sessions[sessionID]
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	return out
}

// ClearSession drops a session's history.
func (l *Loop) ClearSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Run executes the agent loop for one user message within a session.
func (l *Loop) Run(ctx context.Context, sessionID, userMessage string, opts RunOptions) (*Result, error) {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	l.append(sessionID, providers.Message{Role: providers.RoleUser, Content: userMessage})

	target := l.route(sessionID, opts)

	result := &Result{Target: target}
	var lastContent string

	for turn := 1; turn <= maxTurns; turn++ {
		provider := l.providerFor(target)
		resp, err := l.chatWithRefit(ctx, provider, sessionID, opts, &result.Usage)
		if err != nil {
			return nil, fmt.Errorf("agent: turn %d on %s: %w", turn, provider.Name(), err)
		}

		// Confidence check runs before tool handling: a shaky local answer
		// is redone remotely rather than committed.
		if target == routing.TargetLocal && l.remote != nil && !opts.LocalOnly &&
			routing.ShouldRetryWithRemote(resp, l.cfg.EscalationThreshold) {
			l.logger.Info("escalating to remote tier", "session", sessionID, "turn", turn)
			target = routing.TargetRemote
			result.Target = target
			result.Escalated = true
			result.Turns = turn
			continue
		}

		if len(resp.ToolCalls) > 0 {
			if opts.Sink != nil && resp.Content != "" {
				opts.Sink.Thinking(resp.Content)
			}
			l.append(sessionID, providers.Message{
				Role:      providers.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			escalate := l.runTools(ctx, sessionID, resp.ToolCalls, opts.Sink)
			if escalate && target == routing.TargetLocal && l.remote != nil && !opts.LocalOnly {
				l.logger.Info("tool suggested escalation", "session", sessionID, "turn", turn)
				target = routing.TargetRemote
				result.Target = target
				result.Escalated = true
			}
			lastContent = resp.Content
			result.Turns = turn
			continue
		}

		l.append(sessionID, providers.Message{Role: providers.RoleAssistant, Content: resp.Content})
		result.Content = resp.Content
		result.Provider = provider.Name()
		result.Turns = turn
		return result, nil
	}

	result.Content = lastContent
	result.Provider = l.providerFor(target).Name()
	result.Turns = maxTurns
	return result, nil
}

// route picks the starting tier, downgrading to local when the remote tier
// is unavailable.
func (l *Loop) route(sessionID string, opts RunOptions) routing.Target {
	if opts.LocalOnly {
		return routing.TargetLocal
	}
	decision := l.router.Route(l.Messages(sessionID), l.toolNames())
	if decision.Target == routing.TargetRemote && l.remote == nil {
		l.logger.Warn("remote tier unavailable, falling back to local", "session", sessionID)
		return routing.TargetLocal
	}
	l.logger.Debug("routed request", "session", sessionID, "target", decision.Target, "rationale", decision.Rationale)
	return decision.Target
}

// chatWithRefit fits the session against the provider's window and calls it.
// On a context-size error it refits once against the server-reported window
// and retries; a second failure propagates. Usage accumulates every
// successful call; a failed attempt contributes nothing.
func (l *Loop) chatWithRefit(ctx context.Context, provider providers.Provider, sessionID string, opts RunOptions, usage *providers.Usage) (*providers.ChatResponse, error) {
	defs := l.toolDefs()

	resp, err := l.chat(ctx, provider, provider.ContextLength(), sessionID, defs, opts)
	if err == nil {
		usage.Add(resp.Usage)
		return resp, nil
	}

	cse, ok := providers.AsContextSizeError(err)
	if !ok || cse.Window <= 0 {
		return nil, err
	}
	l.logger.Warn("context overflow, refitting to server window",
		"configured", provider.ContextLength(), "actual", cse.Window)
	resp, err = l.chat(ctx, provider, cse.Window, sessionID, defs, opts)
	if err != nil {
		return nil, err
	}
	usage.Add(resp.Usage)
	return resp, nil
}

func (l *Loop) chat(ctx context.Context, provider providers.Provider, contextLength int, sessionID string, defs []providers.ToolDefinition, opts RunOptions) (*providers.ChatResponse, error) {
	fitter := window.NewFitter(window.Config{
		ContextLength:       contextLength,
		ReserveForOutput:    l.cfg.ReserveForOutput,
		MaxToolResultTokens: l.cfg.MaxToolResultTokens,
	}, l.counter, l.logger)

	fitted := fitter.Fit(l.cfg.SystemPrompt, l.Messages(sessionID), defs)

	req := &providers.ChatRequest{
		Messages: append([]providers.Message{{Role: providers.RoleSystem, Content: l.cfg.SystemPrompt}}, fitted...),
		Tools:    defs,
	}
	if opts.Sink != nil {
		req.Options.OnToken = opts.Sink.Token
	}
	return provider.Chat(ctx, req)
}

// runTools fans out the calls, appends one tool-role message per result in
// call order, and reports whether any result asked for escalation.
func (l *Loop) runTools(ctx context.Context, sessionID string, calls []providers.ToolCall, sink EventSink) bool {
	if sink != nil {
		for _, call := range calls {
			sink.ToolStart(call.Name, call.Arguments)
		}
	}
	results := l.registry.ExecuteAll(ctx, calls, l.cfg.Cwd)

	escalate := false
	for _, call := range calls {
		res := results[call.ID]
		if res == nil {
			res = &tools.Result{Success: false, Output: "tool produced no result"}
		}
		if sink != nil {
			sink.ToolDone(call.Name, res)
		}
		output := res.Output
		if !res.Success && output == "" {
			output = "tool failed"
		}
		l.append(sessionID, providers.Message{
			Role:       providers.RoleTool,
			Content:    output,
			ToolCallID: call.ID,
		})
		if res.SuggestEscalation {
			escalate = true
		}
	}
	return escalate
}

func (l *Loop) providerFor(target routing.Target) providers.Provider {
	if target == routing.TargetRemote && l.remote != nil {
		return l.remote
	}
	return l.local
}

func (l *Loop) append(sessionID string, msg providers.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[sessionID] = append(l.sessions[sessionID], msg)
}

func (l *Loop) toolDefs() []providers.ToolDefinition {
	if l.registry == nil {
		return nil
	}
	return l.registry.Definitions()
}

func (l *Loop) toolNames() []string {
	if l.registry == nil {
		return nil
	}
	return l.registry.Names()
}
