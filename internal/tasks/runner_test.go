package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beaconhq/beacon/internal/agent"
	"github.com/beaconhq/beacon/internal/memory"
	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/tasks/events"
)

type stubAgent struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (a *stubAgent) Run(_ context.Context, sessionID, message string, _ agent.RunOptions) (*agent.Result, error) {
	a.mu.Lock()
	a.prompts = append(a.prompts, message)
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return &agent.Result{Content: a.response, Usage: providers.Usage{InputTokens: 50, OutputTokens: 10}}, nil
}

func (a *stubAgent) Messages(string) []providers.Message { return nil }
func (a *stubAgent) ClearSession(string)                 {}

func (a *stubAgent) lastPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.prompts) == 0 {
		return ""
	}
	return a.prompts[len(a.prompts)-1]
}

type stubMemory struct {
	records map[string]*memory.Record
	hits    []*memory.Hit
	saved   map[string]string
	access  []string
}

func newStubMemory() *stubMemory {
	return &stubMemory{records: map[string]*memory.Record{}, saved: map[string]string{}}
}

func (m *stubMemory) Get(_ context.Context, key string) (*memory.Record, error) {
	return m.records[key], nil
}

func (m *stubMemory) Set(_ context.Context, key, value string, _ memory.SetOptions) (string, error) {
	m.saved[key] = value
	return key, nil
}

func (m *stubMemory) RecordAccess(_ context.Context, keys []string) error {
	m.access = append(m.access, keys...)
	return nil
}

func (m *stubMemory) SearchHybrid(context.Context, string, int, memory.Weights, memory.Filters) ([]*memory.Hit, error) {
	return m.hits, nil
}

type stubNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *stubNotifier) Notify(_ context.Context, _, _, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func newTestRunner(t *testing.T, agentStub *stubAgent, mem *stubMemory, notifier *stubNotifier) (*Runner, *Store) {
	t.Helper()
	store := openTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var m MemoryStore
	if mem != nil {
		m = mem
	}
	var n Notifier
	if notifier != nil {
		n = notifier
	}
	r := NewRunner(RunnerConfig{EventDedupe: 50 * time.Millisecond}, store, agentStub, m, n, logger)
	return r, store
}

func TestExecuteSuccessUpdatesTaskAndRun(t *testing.T) {
	agentStub := &stubAgent{response: "report ready"}
	notifier := &stubNotifier{}
	r, store := newTestRunner(t, agentStub, nil, notifier)
	ctx := context.Background()

	task := &Task{Name: "digest", Kind: KindScheduled, IntervalMs: int64(time.Hour / time.Millisecond), Prompt: "write the digest", Notify: NotifyAlways}
	store.Create(ctx, task)

	r.Execute(ctx, task, nil)

	got, _ := store.Get(ctx, task.ID)
	if got.RunCount != 1 || got.ConsecutiveFailures != 0 {
		t.Errorf("task = run_count %d, failures %d", got.RunCount, got.ConsecutiveFailures)
	}
	if got.LastRunAt == nil || got.NextRunAt == nil {
		t.Error("timestamps not updated")
	}
	if len(got.LastResultHash) != 16 {
		t.Errorf("result hash = %q", got.LastResultHash)
	}

	runs, _ := store.GetRecentRuns(ctx, task.ID, 5)
	if len(runs) != 1 || runs[0].Status != RunSuccess || runs[0].Result != "report ready" {
		t.Errorf("runs = %+v", runs)
	}
	if runs[0].TokensUsed != 60 {
		t.Errorf("tokens = %d", runs[0].TokensUsed)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d", notifier.count())
	}
}

func TestExecuteOneshotBecomesDone(t *testing.T) {
	agentStub := &stubAgent{response: "done"}
	r, store := newTestRunner(t, agentStub, nil, nil)
	ctx := context.Background()

	now := time.Now()
	task := &Task{Name: "once", Kind: KindOneshot, Prompt: "p", NextRunAt: &now}
	store.Create(ctx, task)
	r.Execute(ctx, task, nil)

	got, _ := store.Get(ctx, task.ID)
	if got.Status != StatusDone {
		t.Errorf("status = %s, want done", got.Status)
	}
	if got.NextRunAt != nil {
		t.Error("next_run_at should be cleared")
	}
}

func TestNotifyOnChangeSuppressesIdenticalResults(t *testing.T) {
	agentStub := &stubAgent{response: "same output"}
	notifier := &stubNotifier{}
	r, store := newTestRunner(t, agentStub, nil, notifier)
	ctx := context.Background()

	task := &Task{Name: "watch", Kind: KindScheduled, IntervalMs: 1000, Prompt: "p", Notify: NotifyOnChange}
	store.Create(ctx, task)

	r.Execute(ctx, task, nil)
	if notifier.count() != 1 {
		t.Fatalf("first run notifications = %d, want 1", notifier.count())
	}

	task, _ = store.Get(ctx, task.ID)
	r.Execute(ctx, task, nil)
	if notifier.count() != 1 {
		t.Errorf("unchanged result notified again: %d", notifier.count())
	}

	agentStub.response = "different output"
	task, _ = store.Get(ctx, task.ID)
	r.Execute(ctx, task, nil)
	if notifier.count() != 2 {
		t.Errorf("changed result notifications = %d, want 2", notifier.count())
	}
}

func TestExecuteFailureRetriesThenPauses(t *testing.T) {
	agentStub := &stubAgent{err: errors.New("dial tcp: connection refused")}
	notifier := &stubNotifier{}
	r, store := newTestRunner(t, agentStub, nil, notifier)
	ctx := context.Background()

	task := &Task{Name: "flaky", Kind: KindScheduled, IntervalMs: 60000, Prompt: "p", Notify: NotifyNever}
	store.Create(ctx, task)

	// Transient errors retry 4 times, pause on the 5th.
	for i := 0; i < 5; i++ {
		task, _ = store.Get(ctx, task.ID)
		r.Execute(ctx, task, nil)
	}
	got, _ := store.Get(ctx, task.ID)
	if got.Status != StatusPaused {
		t.Fatalf("status = %s after 5 transient failures, want paused", got.Status)
	}
	if got.ConsecutiveFailures != 5 || got.LastErrorKind != ErrTransient {
		t.Errorf("failures=%d kind=%s", got.ConsecutiveFailures, got.LastErrorKind)
	}

	trs, _ := store.GetTransitions(ctx, task.ID)
	last := trs[len(trs)-1]
	if last.ToStatus != StatusPaused || !strings.Contains(last.Reason, "transient") {
		t.Errorf("pause transition = %+v", last)
	}
}

func TestExecuteAuthFailurePausesImmediately(t *testing.T) {
	agentStub := &stubAgent{err: errors.New("401 Unauthorized")}
	r, store := newTestRunner(t, agentStub, nil, nil)
	ctx := context.Background()

	task := &Task{Name: "t", Kind: KindOneshot, Prompt: "p"}
	store.Create(ctx, task)
	r.Execute(ctx, task, nil)

	got, _ := store.Get(ctx, task.ID)
	if got.Status != StatusPaused || got.LastErrorKind != ErrAuth {
		t.Errorf("status=%s kind=%s", got.Status, got.LastErrorKind)
	}
}

func TestEventDedupe(t *testing.T) {
	agentStub := &stubAgent{response: "ok"}
	store := openTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// A wide window so the whole burst lands inside it.
	r := NewRunner(RunnerConfig{EventDedupe: 5 * time.Second}, store, agentStub, nil, nil, logger)
	ctx := context.Background()

	task := &Task{Name: "ev", Kind: KindEvent, EventSource: SourceCommand, EventConfig: "{}", Prompt: "p"}
	store.Create(ctx, task)

	for i := 0; i < 5; i++ {
		r.HandleEvent(task.ID, events.Payload{Source: "command", Summary: "changed"})
	}

	runs, _ := store.GetRecentRuns(ctx, task.ID, 10)
	if len(runs) != 1 {
		t.Errorf("burst produced %d runs, want 1", len(runs))
	}
}

func TestEventQueueKeepsLatestPerTask(t *testing.T) {
	agentStub := &stubAgent{response: "ok"}
	r, store := newTestRunner(t, agentStub, nil, nil)
	ctx := context.Background()

	task := &Task{Name: "ev", Kind: KindEvent, EventSource: SourceCommand, EventConfig: "{}", Prompt: "p"}
	store.Create(ctx, task)

	// Simulate a busy runner so events queue instead of executing.
	r.mu.Lock()
	r.isExecuting = true
	r.mu.Unlock()

	r.HandleEvent(task.ID, events.Payload{Source: "command", Summary: "first"})
	time.Sleep(60 * time.Millisecond) // past the dedupe window
	r.HandleEvent(task.ID, events.Payload{Source: "command", Summary: "second"})

	r.mu.Lock()
	if len(r.queue) != 1 {
		t.Fatalf("queue = %d entries, want 1", len(r.queue))
	}
	if r.queue[0].payload.Summary != "second" {
		t.Errorf("queued = %q, want latest", r.queue[0].payload.Summary)
	}
	r.isExecuting = false
	r.mu.Unlock()

	r.Tick(ctx)
	runs, _ := store.GetRecentRuns(ctx, task.ID, 10)
	if len(runs) != 1 {
		t.Errorf("tick produced %d runs", len(runs))
	}
	if !strings.Contains(agentStub.lastPrompt(), "[Event: command — second]") {
		t.Errorf("prompt = %q", agentStub.lastPrompt())
	}
}

func TestCreateTaskTriggerMaterializesChild(t *testing.T) {
	agentStub := &stubAgent{response: "ok"}
	r, store := newTestRunner(t, agentStub, nil, nil)
	ctx := context.Background()

	parent := &Task{
		Name: "ci-watch", Kind: KindEvent, EventSource: SourceWebhook, EventConfig: "{}",
		Prompt: "investigate the failure", TriggerMode: TriggerCreateTask,
	}
	store.Create(ctx, parent)

	r.HandleEvent(parent.ID, events.Payload{Source: "webhook", Summary: "Build Failed!", Data: "job 42"})

	all, _ := store.List(ctx, ListFilter{Kind: KindOneshot})
	if len(all) != 1 {
		t.Fatalf("children = %d, want 1", len(all))
	}
	child := all[0]
	if !strings.HasPrefix(child.Name, "ci-watch/build-failed-") {
		t.Errorf("child name = %q", child.Name)
	}
	if !strings.Contains(child.Prompt, "[Triggered by: webhook — Build Failed!]") ||
		!strings.Contains(child.Prompt, "investigate the failure") {
		t.Errorf("child prompt = %q", child.Prompt)
	}
	if child.NextRunAt == nil {
		t.Error("child not scheduled for immediate run")
	}

	// The parent itself must not have executed.
	runs, _ := store.GetRecentRuns(ctx, parent.ID, 10)
	if len(runs) != 0 {
		t.Errorf("parent ran %d times", len(runs))
	}
}

func TestDependentsCascade(t *testing.T) {
	agentStub := &stubAgent{response: "ok"}
	r, store := newTestRunner(t, agentStub, nil, nil)
	ctx := context.Background()

	parent := &Task{Name: "parent", Kind: KindOneshot, Prompt: "p"}
	store.Create(ctx, parent)
	dep := &Task{Name: "dep", Kind: KindOneshot, Prompt: "p", DependsOn: parent.ID}
	store.Create(ctx, dep)
	pausedDep := &Task{Name: "paused-dep", Kind: KindOneshot, Prompt: "p", DependsOn: parent.ID}
	store.Create(ctx, pausedDep)
	pausedDep.Status = StatusPaused
	store.Update(ctx, pausedDep, "")

	r.Execute(ctx, parent, nil)

	got, _ := store.Get(ctx, dep.ID)
	if got.NextRunAt == nil {
		t.Error("active dependent not scheduled")
	}
	gotPaused, _ := store.Get(ctx, pausedDep.ID)
	if gotPaused.NextRunAt != nil {
		t.Error("paused dependent was scheduled")
	}
}

func TestPromptIncludesMemoryContextAndRetrieval(t *testing.T) {
	mem := newStubMemory()
	mem.records["oncall"] = &memory.Record{Key: "oncall", Value: "alice has the pager"}
	mem.hits = []*memory.Hit{
		{Record: &memory.Record{Key: "deploy_notes", Value: "use blue-green"}, Score: 0.9, MatchType: memory.MatchHybrid},
		{Record: &memory.Record{Key: "noise", Value: "irrelevant"}, Score: 0.1, MatchType: memory.MatchFTS},
	}
	agentStub := &stubAgent{response: "ok"}
	r, store := newTestRunner(t, agentStub, mem, nil)
	ctx := context.Background()

	task := &Task{Name: "t", Kind: KindOneshot, Prompt: "check the deploy", MemoryContext: []string{"oncall", "missing"}}
	store.Create(ctx, task)
	r.Execute(ctx, task, nil)

	prompt := agentStub.lastPrompt()
	if !strings.Contains(prompt, "alice has the pager") {
		t.Errorf("preloaded memory missing from prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "use blue-green") {
		t.Errorf("retrieved memory missing from prompt: %q", prompt)
	}
	if strings.Contains(prompt, "irrelevant") {
		t.Error("sub-threshold hit leaked into prompt")
	}
	if !strings.HasSuffix(prompt, "check the deploy") {
		t.Errorf("prompt does not end with the task prompt: %q", prompt)
	}

	found := false
	for _, k := range mem.access {
		if k == "oncall" {
			found = true
		}
	}
	if !found {
		t.Error("preloaded key access not recorded")
	}
}

func TestHeartbeatParsing(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/HEARTBEAT.md"
	content := "# Heartbeat\n\n- [x] already done\n- [ ] water the plants\n- [ ] rotate the logs\nnot an item\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := ReadHeartbeat(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 2 || items[0] != "water the plants" || items[1] != "rotate the logs" {
		t.Errorf("items = %v", items)
	}

	prompt := HeartbeatPrompt(items)
	if !strings.Contains(prompt, "water the plants") {
		t.Errorf("prompt = %q", prompt)
	}
	if HeartbeatPrompt(nil) != "" {
		t.Error("empty checklist should produce empty prompt")
	}

	missing, err := ReadHeartbeat(dir + "/absent.md")
	if err != nil || missing != nil {
		t.Errorf("missing file = %v, %v", missing, err)
	}
}

func TestWebhookEventOpensDiscoveryGate(t *testing.T) {
	agentStub := &stubAgent{response: "ok"}
	r, store := newTestRunner(t, agentStub, nil, nil)
	ctx := context.Background()

	d := NewDiscovery(DiscoveryConfig{}, r, agentStub, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.SetActivityRecorder(d)

	if d.ShouldRun(time.Now()) {
		t.Fatal("gate open before any interaction")
	}

	task := &Task{Name: "hook", Kind: KindEvent, EventSource: SourceWebhook, EventConfig: "{}", Prompt: "p"}
	store.Create(ctx, task)

	r.HandleEvent(task.ID, events.Payload{Source: "webhook", Summary: "push"})

	now := time.Now()
	if d.ShouldRun(now) {
		t.Error("gate must hold while the system is freshly active")
	}
	if !d.ShouldRun(now.Add(15 * time.Minute)) {
		t.Error("gate should open once the user is recent and the system idle")
	}
}

func TestScheduledRunCountsAsActivityOnly(t *testing.T) {
	agentStub := &stubAgent{response: "ok"}
	r, store := newTestRunner(t, agentStub, nil, nil)
	ctx := context.Background()

	d := NewDiscovery(DiscoveryConfig{}, r, agentStub, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.SetActivityRecorder(d)

	task := &Task{Name: "digest", Kind: KindScheduled, IntervalMs: int64(time.Hour / time.Millisecond), Prompt: "p"}
	store.Create(ctx, task)
	r.Execute(ctx, task, nil)

	// A task run alone is not a user interaction; the gate stays closed.
	if d.ShouldRun(time.Now().Add(15 * time.Minute)) {
		t.Error("gate must not open on system activity without user interaction")
	}
}
