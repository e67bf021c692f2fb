package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/agent"
	"github.com/beaconhq/beacon/internal/memory"
	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/tasks/events"
)

// AgentRunner is the slice of the agent loop the runner needs.
type AgentRunner interface {
	Run(ctx context.Context, sessionID, message string, opts agent.RunOptions) (*agent.Result, error)
	Messages(sessionID string) []providers.Message
	ClearSession(sessionID string)
}

// MemoryStore is the slice of the memory store the runner needs.
type MemoryStore interface {
	Get(ctx context.Context, key string) (*memory.Record, error)
	Set(ctx context.Context, key, value string, opts memory.SetOptions) (string, error)
	RecordAccess(ctx context.Context, keys []string) error
	SearchHybrid(ctx context.Context, query string, limit int, weights memory.Weights, filters memory.Filters) ([]*memory.Hit, error)
}

// Notifier delivers outbound messages; the channels registry satisfies it.
type Notifier interface {
	Notify(ctx context.Context, channel, target, message string) error
}

// MemoryExtractor derives durable memories from a finished conversation.
type MemoryExtractor interface {
	Extract(ctx context.Context, transcript []providers.Message) ([]memory.Extracted, error)
}

// WorkflowResult is what a workflow evaluator returns.
type WorkflowResult struct {
	Success  bool
	Workflow string
	Output   string
}

// WorkflowRunner evaluates a task's workflow definition.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflow string) (*WorkflowResult, error)
}

// ContextGatherer supplies ambient workspace context for task prompts.
type ContextGatherer interface {
	GatherContext(ctx context.Context) (string, error)
}

// ActivityRecorder receives the liveness signals that gate discovery:
// interactions are user-driven stimuli, activity is any system work.
type ActivityRecorder interface {
	RecordInteraction()
	RecordActivity()
}

// SourceFactory builds an event source for an event-kind task.
type SourceFactory func(task *Task) (events.Source, error)

// RunnerConfig tunes the Runner.
type RunnerConfig struct {
	TickInterval time.Duration // default 30s
	EventDedupe  time.Duration // default 10s
	TaskTimeout  time.Duration // default 5m
	MaxTurns     int

	// RetrievalLimit, RetrievalMinScore and RetrievalCharBudget bound the
	// proactive memory retrieval attached to task prompts.
	RetrievalLimit      int
	RetrievalMinScore   float64
	RetrievalCharBudget int
}

func (c *RunnerConfig) fill() {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.EventDedupe <= 0 {
		c.EventDedupe = 10 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 5
	}
	if c.RetrievalMinScore <= 0 {
		c.RetrievalMinScore = 0.35
	}
	if c.RetrievalCharBudget <= 0 {
		c.RetrievalCharBudget = 4000
	}
}

// queuedEvent pairs a task with the payload that triggered it.
type queuedEvent struct {
	taskID  string
	payload events.Payload
	at      time.Time
}

// Runner serializes task execution: one task at a time, fed by a periodic
// tick and the event sources it owns.
type Runner struct {
	cfg       RunnerConfig
	store     *Store
	agent     AgentRunner
	mem       MemoryStore
	notifier  Notifier
	extractor MemoryExtractor
	workflow  WorkflowRunner
	gatherer  ContextGatherer
	factory   SourceFactory
	activity  ActivityRecorder
	logger    *slog.Logger

	mu            sync.Mutex
	isExecuting   bool
	currentTaskID string
	queue         []queuedEvent
	lastEventAt   map[string]time.Time
	sources       map[string]events.Source
	cancelCurrent context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRunner wires a runner. store and agentRunner are required; everything
// else degrades gracefully when nil.
func NewRunner(cfg RunnerConfig, store *Store, agentRunner AgentRunner, mem MemoryStore, notifier Notifier, logger *slog.Logger) *Runner {
	cfg.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		store:       store,
		agent:       agentRunner,
		mem:         mem,
		notifier:    notifier,
		logger:      logger,
		lastEventAt: make(map[string]time.Time),
		sources:     make(map[string]events.Source),
	}
}

// SetExtractor installs background memory extraction.
func (r *Runner) SetExtractor(e MemoryExtractor) { r.extractor = e }

// SetWorkflowRunner installs the workflow evaluator.
func (r *Runner) SetWorkflowRunner(w WorkflowRunner) { r.workflow = w }

// SetContextGatherer installs the workspace context collaborator.
func (r *Runner) SetContextGatherer(g ContextGatherer) { r.gatherer = g }

// SetSourceFactory installs the event-source builder.
func (r *Runner) SetSourceFactory(f SourceFactory) { r.factory = f }

// SetActivityRecorder installs the discovery gate's signal sink.
func (r *Runner) SetActivityRecorder(a ActivityRecorder) { r.activity = a }

// recordStimulus feeds one event into the activity recorder. Webhooks and
// file changes are user-driven; polls and dependency cascades are not.
func (r *Runner) recordStimulus(payload events.Payload) {
	if r.activity == nil {
		return
	}
	switch payload.Source {
	case "webhook", "file_watch":
		r.activity.RecordInteraction()
	default:
		r.activity.RecordActivity()
	}
}

// Start begins ticking and registers event sources for active event tasks.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return nil
	}
	r.stop = make(chan struct{})
	r.mu.Unlock()

	if err := r.registerEventSources(ctx); err != nil {
		r.logger.Warn("event source registration incomplete", "error", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop halts ticking, cancels any in-flight task and releases event sources.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stop == nil {
		r.mu.Unlock()
		return
	}
	close(r.stop)
	r.stop = nil
	if r.cancelCurrent != nil {
		r.cancelCurrent()
	}
	sources := r.sources
	r.sources = make(map[string]events.Source)
	r.mu.Unlock()

	for id, src := range sources {
		if err := src.Stop(); err != nil {
			r.logger.Warn("stop event source failed", "task", id, "error", err)
		}
	}
	r.wg.Wait()
}

// Busy reports whether a task is currently executing.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isExecuting
}

// registerEventSources builds and starts a source per active event task.
func (r *Runner) registerEventSources(ctx context.Context) error {
	if r.factory == nil {
		return nil
	}
	eventTasks, err := r.store.GetEventTasks(ctx)
	if err != nil {
		return err
	}
	for _, task := range eventTasks {
		if err := r.registerSource(task); err != nil {
			r.logger.Warn("event source setup failed", "task", task.Name, "error", err)
		}
	}
	return nil
}

func (r *Runner) registerSource(task *Task) error {
	src, err := r.factory(task)
	if err != nil {
		return err
	}
	taskID := task.ID
	if err := src.Start(func(p events.Payload) { r.HandleEvent(taskID, p) }); err != nil {
		return err
	}
	r.mu.Lock()
	r.sources[taskID] = src
	r.mu.Unlock()
	return nil
}

func (r *Runner) unregisterSource(taskID string) {
	r.mu.Lock()
	src := r.sources[taskID]
	delete(r.sources, taskID)
	r.mu.Unlock()
	if src != nil {
		if err := src.Stop(); err != nil {
			r.logger.Warn("stop event source failed", "task", taskID, "error", err)
		}
	}
}

// HandleEvent is the callback every event source feeds. It dedupes bursts,
// materializes create_task children, and otherwise executes or queues.
func (r *Runner) HandleEvent(taskID string, payload events.Payload) {
	ctx := context.Background()
	now := time.Now()

	r.mu.Lock()
	if last, ok := r.lastEventAt[taskID]; ok && now.Sub(last) < r.cfg.EventDedupe {
		r.mu.Unlock()
		r.logger.Debug("event deduped", "task", taskID)
		return
	}
	r.lastEventAt[taskID] = now
	r.mu.Unlock()

	r.recordStimulus(payload)

	task, err := r.store.Get(ctx, taskID)
	if err != nil || task == nil || task.Status != StatusActive {
		return
	}

	if task.TriggerMode == TriggerCreateTask {
		if err := r.materializeChild(ctx, task, payload); err != nil {
			r.logger.Warn("child task creation failed", "task", task.Name, "error", err)
		}
		return
	}

	r.mu.Lock()
	if r.isExecuting {
		// Keep only the latest event per task.
		for i := range r.queue {
			if r.queue[i].taskID == taskID {
				r.queue[i] = queuedEvent{taskID: taskID, payload: payload, at: now}
				r.mu.Unlock()
				return
			}
		}
		r.queue = append(r.queue, queuedEvent{taskID: taskID, payload: payload, at: now})
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.Execute(ctx, task, &payload)
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "event"
	}
	return slug
}

// materializeChild turns an event on a create_task parent into a new oneshot
// task that the tick will pick up.
func (r *Runner) materializeChild(ctx context.Context, parent *Task, payload events.Payload) error {
	now := time.Now()
	child := &Task{
		Name: fmt.Sprintf("%s/%s-%d", parent.Name, slugify(payload.Summary), now.Unix()),
		Kind: KindOneshot,
		Prompt: fmt.Sprintf("[Triggered by: %s — %s]\n%s\n\n%s",
			payload.Source, payload.Summary, payload.Data, parent.Prompt),
		MemoryContext:  parent.MemoryContext,
		MemoryCategory: parent.MemoryCategory,
		Notify:         parent.Notify,
		Channel:        parent.Channel,
		ChannelTarget:  parent.ChannelTarget,
		CreatedBy:      "system",
		NextRunAt:      &now,
	}
	return r.store.Create(ctx, child)
}

// Tick runs one scheduling pass: queued event first, then due tasks.
func (r *Runner) Tick(ctx context.Context) {
	r.mu.Lock()
	if r.isExecuting {
		r.mu.Unlock()
		return
	}
	var ev *queuedEvent
	if len(r.queue) > 0 {
		e := r.queue[0]
		r.queue = r.queue[1:]
		ev = &e
	}
	r.mu.Unlock()

	if ev != nil {
		task, err := r.store.Get(ctx, ev.taskID)
		if err == nil && task != nil && task.Status == StatusActive {
			r.Execute(ctx, task, &ev.payload)
		}
		return
	}

	now := time.Now()
	due, err := r.store.GetDueTasks(ctx, now)
	if err != nil {
		r.logger.Error("due task query failed", "error", err)
		return
	}
	for _, task := range due {
		if task.BusinessHours != "" {
			bh, err := ParseBusinessHours(task.BusinessHours)
			if err == nil && !bh.Contains(now) {
				if start, ok := bh.NextStart(now); ok {
					task.NextRunAt = &start
					if err := r.store.Update(ctx, task, ""); err != nil {
						r.logger.Warn("reschedule failed", "task", task.Name, "error", err)
					}
				}
				continue
			}
		}
		r.Execute(ctx, task, nil)
		return
	}
}

// Execute runs one task to completion, guarded against overlap.
func (r *Runner) Execute(ctx context.Context, task *Task, payload *events.Payload) {
	r.mu.Lock()
	if r.isExecuting {
		r.mu.Unlock()
		return
	}
	r.isExecuting = true
	r.currentTaskID = task.ID
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	r.cancelCurrent = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.isExecuting = false
		r.currentTaskID = ""
		r.cancelCurrent = nil
		r.mu.Unlock()
		if r.activity != nil {
			r.activity.RecordActivity()
		}
	}()

	triggerInfo := ""
	if payload != nil {
		triggerInfo = payload.Source + ": " + payload.Summary
	}
	run, err := r.store.CreateRun(ctx, task.ID, triggerInfo)
	if err != nil {
		r.logger.Error("run row creation failed", "task", task.Name, "error", err)
		return
	}

	result, tokens, err := r.work(runCtx, task, payload)
	if err != nil {
		r.handleFailure(ctx, task, run, err, tokens)
		return
	}
	r.handleSuccess(ctx, task, run, result, tokens)
}

// work performs the core of one run: workflow, then prompt.
func (r *Runner) work(ctx context.Context, task *Task, payload *events.Payload) (string, int, error) {
	var workflowOutput string
	if task.Workflow != "" && r.workflow != nil {
		wres, err := r.workflow.RunWorkflow(ctx, task.Workflow)
		if err == nil && wres != nil && wres.Success {
			return wres.Output, 0, nil
		}
		// Fall through to the prompt with whatever the workflow produced.
		if task.Prompt == "" {
			if err != nil {
				return "", 0, err
			}
			return "", 0, fmt.Errorf("workflow failed: %s", wres.Output)
		}
		if wres != nil {
			workflowOutput = wres.Output
		}
	}
	if task.Prompt == "" {
		return "", 0, fmt.Errorf("task %s has neither workflow nor prompt", task.Name)
	}

	message := r.buildPrompt(ctx, task, payload, workflowOutput)
	sessionID := "task:" + task.ID
	res, err := r.agent.Run(ctx, sessionID, message, agent.RunOptions{MaxTurns: r.cfg.MaxTurns})
	if err != nil {
		return "", 0, err
	}

	tokens := res.Usage.InputTokens + res.Usage.OutputTokens
	transcript := r.agent.Messages(sessionID)
	if !task.PersistConversation {
		r.agent.ClearSession(sessionID)
	}
	r.extractInBackground(task, transcript)
	return res.Content, tokens, nil
}

// buildPrompt assembles workspace context, preloaded memories, proactive
// retrieval and the event block around the task prompt.
func (r *Runner) buildPrompt(ctx context.Context, task *Task, payload *events.Payload, workflowOutput string) string {
	var b strings.Builder

	if r.gatherer != nil {
		if wctx, err := r.gatherer.GatherContext(ctx); err == nil && wctx != "" {
			b.WriteString(wctx)
			b.WriteString("\n\n")
		}
	}

	if r.mem != nil && len(task.MemoryContext) > 0 {
		var accessed []string
		for _, key := range task.MemoryContext {
			rec, err := r.mem.Get(ctx, key)
			if err != nil || rec == nil {
				continue
			}
			fmt.Fprintf(&b, "Memory %s: %s\n", rec.Key, rec.Value)
			accessed = append(accessed, rec.Key)
		}
		if len(accessed) > 0 {
			b.WriteString("\n")
			if err := r.mem.RecordAccess(ctx, accessed); err != nil {
				r.logger.Warn("record access failed", "error", err)
			}
		}
	}

	r.appendRetrieval(ctx, &b, task, task.Prompt)
	if payload != nil && payload.Summary != "" {
		r.appendRetrieval(ctx, &b, task, payload.Summary)
	}

	if workflowOutput != "" {
		fmt.Fprintf(&b, "Workflow output:\n%s\n\n", workflowOutput)
	}
	if payload != nil {
		fmt.Fprintf(&b, "[Event: %s — %s]\n%s\n\n", payload.Source, payload.Summary, payload.Data)
	}
	b.WriteString(task.Prompt)
	return b.String()
}

// appendRetrieval runs one hybrid search and folds the passing hits into the
// prompt, bounded by score and character budget.
func (r *Runner) appendRetrieval(ctx context.Context, b *strings.Builder, task *Task, query string) {
	if r.mem == nil || strings.TrimSpace(query) == "" {
		return
	}
	filters := memory.Filters{Category: task.MemoryCategory}
	hits, err := r.mem.SearchHybrid(ctx, query, r.cfg.RetrievalLimit, memory.Weights{}, filters)
	if err != nil {
		r.logger.Warn("memory retrieval failed", "task", task.Name, "error", err)
		return
	}

	budget := r.cfg.RetrievalCharBudget
	var keys []string
	wrote := false
	for _, hit := range hits {
		if hit.Score < r.cfg.RetrievalMinScore {
			continue
		}
		line := fmt.Sprintf("Relevant memory (%s): %s\n", hit.Record.Key, hit.Record.Value)
		if len(line) > budget {
			break
		}
		if !wrote {
			wrote = true
		}
		b.WriteString(line)
		budget -= len(line)
		keys = append(keys, hit.Record.Key)
	}
	if wrote {
		b.WriteString("\n")
	}
	if len(keys) > 0 {
		if err := r.mem.RecordAccess(ctx, keys); err != nil {
			r.logger.Warn("record access failed", "error", err)
		}
	}
}

// handleSuccess updates the task, records the run, notifies per policy and
// cascades to dependents.
func (r *Runner) handleSuccess(ctx context.Context, task *Task, run *Run, result string, tokens int) {
	sum := sha256.Sum256([]byte(result))
	hash := hex.EncodeToString(sum[:])[:16]
	previousHash := task.LastResultHash

	now := time.Now()
	task.LastRunAt = &now
	task.RunCount++
	task.ConsecutiveFailures = 0
	task.LastErrorKind = ""
	task.LastResultHash = hash

	reason := ""
	switch {
	case task.MaxRuns > 0 && task.RunCount >= task.MaxRuns:
		task.Status = StatusDone
		task.NextRunAt = nil
		reason = "max runs reached"
		r.unregisterSource(task.ID)
	case task.Kind == KindOneshot:
		task.Status = StatusDone
		task.NextRunAt = nil
		reason = "oneshot completed"
	case task.Kind == KindScheduled:
		next, err := CalculateNextRun(task.IntervalMs, task.CronExpression, task.BusinessHours, now)
		if err != nil {
			r.logger.Warn("next run calculation failed", "task", task.Name, "error", err)
		}
		task.NextRunAt = next
	}
	if err := r.store.Update(ctx, task, reason); err != nil {
		r.logger.Error("task update failed", "task", task.Name, "error", err)
	}
	if err := r.store.CompleteRun(ctx, run.ID, RunSuccess, result, "", "", tokens); err != nil {
		r.logger.Error("run completion failed", "task", task.Name, "error", err)
	}

	switch task.Notify {
	case NotifyAlways:
		r.notify(ctx, task, result)
	case NotifyOnChange:
		if hash != previousHash {
			r.notify(ctx, task, result)
		}
	}

	r.cascadeDependents(ctx, task)
}

// handleFailure classifies the error and applies the retry policy.
func (r *Runner) handleFailure(ctx context.Context, task *Task, run *Run, runErr error, tokens int) {
	kind := ClassifyError(runErr.Error())
	task.ConsecutiveFailures++
	task.LastErrorKind = kind

	decision := RetryPolicy(kind, task.ConsecutiveFailures)
	reason := ""
	if decision.Retry {
		if task.Kind == KindScheduled || task.Kind == KindOneshot {
			next := time.Now().Add(decision.Backoff)
			task.NextRunAt = &next
		}
		r.logger.Warn("task failed, will retry",
			"task", task.Name, "kind", kind, "failures", task.ConsecutiveFailures, "backoff", decision.Backoff)
	} else {
		task.Status = StatusPaused
		reason = fmt.Sprintf("paused after %d failure(s): %s (%s)", task.ConsecutiveFailures, runErr, kind)
		r.unregisterSource(task.ID)
		r.logger.Error("task paused", "task", task.Name, "kind", kind, "error", runErr)
	}

	if err := r.store.Update(ctx, task, reason); err != nil {
		r.logger.Error("task update failed", "task", task.Name, "error", err)
	}
	if err := r.store.CompleteRun(ctx, run.ID, RunFailure, "", runErr.Error(), kind, tokens); err != nil {
		r.logger.Error("run completion failed", "task", task.Name, "error", err)
	}

	if !decision.Retry || task.Notify == NotifyOnFailure {
		r.notify(ctx, task, fmt.Sprintf("Task %s failed (%s): %v", task.Name, kind, runErr))
	}
}

func (r *Runner) notify(ctx context.Context, task *Task, message string) {
	if r.notifier == nil || task.Notify == NotifyNever {
		return
	}
	if err := r.notifier.Notify(ctx, task.Channel, task.ChannelTarget, message); err != nil {
		r.logger.Warn("notification failed", "task", task.Name, "error", err)
	}
}

// cascadeDependents pushes an immediate run onto every active dependent.
func (r *Runner) cascadeDependents(ctx context.Context, task *Task) {
	deps, err := r.store.GetDependents(ctx, task.ID)
	if err != nil {
		r.logger.Warn("dependent query failed", "task", task.Name, "error", err)
		return
	}
	now := time.Now()
	for _, dep := range deps {
		if dep.Status != StatusActive {
			r.logger.Warn("skipping non-active dependent", "task", dep.Name, "status", dep.Status)
			continue
		}
		switch dep.Kind {
		case KindScheduled, KindOneshot:
			dep.NextRunAt = &now
			if err := r.store.Update(ctx, dep, ""); err != nil {
				r.logger.Warn("dependent schedule failed", "task", dep.Name, "error", err)
			}
		case KindEvent:
			r.mu.Lock()
			delete(r.lastEventAt, dep.ID)
			r.mu.Unlock()
			r.HandleEvent(dep.ID, events.Payload{
				Source:  "dependency",
				Summary: "upstream task " + task.Name + " completed",
			})
		}
	}
}

// extractInBackground stores extracted facts and lessons under task-scoped
// keys without blocking the runner.
func (r *Runner) extractInBackground(task *Task, transcript []providers.Message) {
	if r.extractor == nil || r.mem == nil || len(transcript) == 0 {
		return
	}
	name := task.Name
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		items, err := r.extractor.Extract(ctx, transcript)
		if err != nil {
			r.logger.Warn("memory extraction failed", "task", name, "error", err)
			return
		}
		for _, item := range items {
			prefix := "auto/task/"
			if item.Category == "lesson" {
				prefix = "lesson/task/"
			}
			key := prefix + name + "/" + item.Key
			_, err := r.mem.Set(ctx, key, item.Value, memory.SetOptions{
				Source:    memory.SourceAuto,
				Category:  item.Category,
				SessionID: "task:" + task.ID,
			})
			if err != nil {
				r.logger.Warn("extracted memory store failed", "key", key, "error", err)
			}
		}
	}()
}
