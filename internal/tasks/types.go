// Package tasks implements the background task orchestrator: a SQLite-backed
// task store with a transition ledger, a scheduling DSL (intervals, cron,
// business hours), event sources, retry classification, and the single-flight
// runner that ties them to the agent loop.
package tasks

import "time"

// Task kinds.
const (
	KindScheduled = "scheduled"
	KindEvent     = "event"
	KindOneshot   = "oneshot"
)

// Task statuses.
const (
	StatusProposed = "proposed"
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusDone     = "done"
	StatusFailed   = "failed"
)

// Trigger modes for event tasks.
const (
	TriggerExecute    = "execute"
	TriggerCreateTask = "create_task"
)

// Notification policies.
const (
	NotifyAlways    = "always"
	NotifyOnChange  = "on_change"
	NotifyOnFailure = "on_failure"
	NotifyNever     = "never"
)

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailure = "failure"
	RunSkipped = "skipped"
)

// Proposal statuses.
const (
	ProposalPending  = "pending"
	ProposalApproved = "approved"
	ProposalRejected = "rejected"
)

// Task is one background task.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Prompt      string `json:"prompt,omitempty"`
	Workflow    string `json:"workflow,omitempty"`

	// MemoryContext keys are preloaded into the prompt; MemoryCategory scopes
	// proactive retrieval.
	MemoryContext  []string `json:"memory_context,omitempty"`
	MemoryCategory string   `json:"memory_category,omitempty"`

	IntervalMs     int64  `json:"interval_ms,omitempty"`
	CronExpression string `json:"cron_expression,omitempty"`
	BusinessHours  string `json:"business_hours,omitempty"`
	DependsOn      string `json:"depends_on,omitempty"`

	EventSource string `json:"event_source,omitempty"`
	EventConfig string `json:"event_config,omitempty"`
	TriggerMode string `json:"trigger_mode,omitempty"`

	PersistConversation bool `json:"persist_conversation"`

	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	RunCount            int        `json:"run_count"`
	MaxRuns             int        `json:"max_runs,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastErrorKind       string     `json:"last_error_kind,omitempty"`

	Notify         string `json:"notify"`
	LastResultHash string `json:"last_result_hash,omitempty"`
	Channel        string `json:"channel,omitempty"`
	ChannelTarget  string `json:"channel_target,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is one execution of a task.
type Run struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	TriggerInfo string     `json:"trigger_info,omitempty"`
	TokensUsed  int        `json:"tokens_used"`
}

// Transition is one entry in the append-only status ledger.
type Transition struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Proposal tracks approval of an agent-created task.
type Proposal struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"task_id"`
	MessageID     string     `json:"message_id,omitempty"`
	Channel       string     `json:"channel,omitempty"`
	ChannelTarget string     `json:"channel_target,omitempty"`
	Status        string     `json:"status"`
	RejectedAt    *time.Time `json:"rejected_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
