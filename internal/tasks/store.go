package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store persists tasks, runs, proposals and the transition ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens (creating and migrating as needed) the task database.
// An empty path selects in-memory.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tasks: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			workflow TEXT NOT NULL DEFAULT '',
			memory_context TEXT NOT NULL DEFAULT '',
			memory_category TEXT NOT NULL DEFAULT '',
			interval_ms INTEGER NOT NULL DEFAULT 0,
			event_source TEXT NOT NULL DEFAULT '',
			event_config TEXT NOT NULL DEFAULT '',
			next_run_at INTEGER,
			last_run_at INTEGER,
			run_count INTEGER NOT NULL DEFAULT 0,
			max_runs INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			notify TEXT NOT NULL DEFAULT 'always',
			last_result_hash TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			channel_target TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT 'user',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			trigger_info TEXT NOT NULL DEFAULT '',
			tokens_used INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS task_proposals (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			channel_target TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			rejected_at INTEGER,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS task_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_next_run ON tasks(next_run_at);
		CREATE INDEX IF NOT EXISTS idx_runs_task ON task_runs(task_id, started_at);
		CREATE INDEX IF NOT EXISTS idx_transitions_task ON task_transitions(task_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("tasks: create schema: %w", err)
	}

	// Columns added after the original schema shipped; ALTER is idempotent
	// against the column inventory.
	taskMigrations := map[string]string{
		"cron_expression":      "ALTER TABLE tasks ADD COLUMN cron_expression TEXT NOT NULL DEFAULT ''",
		"business_hours":       "ALTER TABLE tasks ADD COLUMN business_hours TEXT NOT NULL DEFAULT ''",
		"depends_on":           "ALTER TABLE tasks ADD COLUMN depends_on TEXT NOT NULL DEFAULT ''",
		"last_error_kind":      "ALTER TABLE tasks ADD COLUMN last_error_kind TEXT NOT NULL DEFAULT ''",
		"trigger_mode":         "ALTER TABLE tasks ADD COLUMN trigger_mode TEXT NOT NULL DEFAULT 'execute'",
		"persist_conversation": "ALTER TABLE tasks ADD COLUMN persist_conversation INTEGER NOT NULL DEFAULT 0",
	}
	if err := s.migrate("tasks", taskMigrations); err != nil {
		return err
	}
	return s.migrate("task_runs", map[string]string{
		"error_kind": "ALTER TABLE task_runs ADD COLUMN error_kind TEXT NOT NULL DEFAULT ''",
	})
}

func (s *Store) migrate(table string, migrations map[string]string) error {
	rows, err := s.db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return fmt.Errorf("tasks: inspect %s: %w", table, err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for column, stmt := range migrations {
		if existing[column] {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("tasks: add %s.%s: %w", table, column, err)
		}
		s.logger.Info("migrated task schema", "table", table, "column", column)
	}
	return nil
}

// Create inserts a task. Agent-created tasks start proposed, everything else
// active; the ledger gets the initial new -> status row.
func (s *Store) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		if t.CreatedBy == "agent" {
			t.Status = StatusProposed
		} else {
			t.Status = StatusActive
		}
	}
	if t.Notify == "" {
		t.Notify = NotifyAlways
	}
	if t.TriggerMode == "" {
		t.TriggerMode = TriggerExecute
	}
	if t.CreatedBy == "" {
		t.CreatedBy = "user"
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, kind, status, prompt, workflow,
			memory_context, memory_category, interval_ms, cron_expression, business_hours,
			depends_on, event_source, event_config, trigger_mode, persist_conversation,
			next_run_at, last_run_at, run_count, max_runs, consecutive_failures,
			last_error_kind, notify, last_result_hash, channel, channel_target,
			created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.Kind, t.Status, t.Prompt, t.Workflow,
		strings.Join(t.MemoryContext, ","), t.MemoryCategory, t.IntervalMs, t.CronExpression, t.BusinessHours,
		t.DependsOn, t.EventSource, t.EventConfig, t.TriggerMode, boolInt(t.PersistConversation),
		timePtrMilli(t.NextRunAt), timePtrMilli(t.LastRunAt), t.RunCount, t.MaxRuns, t.ConsecutiveFailures,
		t.LastErrorKind, t.Notify, t.LastResultHash, t.Channel, t.ChannelTarget,
		t.CreatedBy, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("tasks: create %s: %w", t.Name, err)
	}
	return s.RecordTransition(ctx, t.ID, "new", t.Status, "created")
}

// Get returns a task by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectTask+" WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: get %s: %w", id, err)
	}
	return t, nil
}

// GetByName returns the first task with the given name, or nil.
func (s *Store) GetByName(ctx context.Context, name string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectTask+" WHERE name = ? ORDER BY created_at LIMIT 1", name)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Update persists the task's current fields. A status change records exactly
// one ledger row; identical-status updates do not.
func (s *Store) Update(ctx context.Context, t *Task, reason string) error {
	var prevStatus string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", t.ID).Scan(&prevStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("tasks: update: task %s not found", t.ID)
	}
	if err != nil {
		return fmt.Errorf("tasks: update %s: %w", t.ID, err)
	}

	t.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET name=?, description=?, kind=?, status=?, prompt=?, workflow=?,
			memory_context=?, memory_category=?, interval_ms=?, cron_expression=?, business_hours=?,
			depends_on=?, event_source=?, event_config=?, trigger_mode=?, persist_conversation=?,
			next_run_at=?, last_run_at=?, run_count=?, max_runs=?, consecutive_failures=?,
			last_error_kind=?, notify=?, last_result_hash=?, channel=?, channel_target=?, updated_at=?
		WHERE id=?`,
		t.Name, t.Description, t.Kind, t.Status, t.Prompt, t.Workflow,
		strings.Join(t.MemoryContext, ","), t.MemoryCategory, t.IntervalMs, t.CronExpression, t.BusinessHours,
		t.DependsOn, t.EventSource, t.EventConfig, t.TriggerMode, boolInt(t.PersistConversation),
		timePtrMilli(t.NextRunAt), timePtrMilli(t.LastRunAt), t.RunCount, t.MaxRuns, t.ConsecutiveFailures,
		t.LastErrorKind, t.Notify, t.LastResultHash, t.Channel, t.ChannelTarget, t.UpdatedAt.UnixMilli(),
		t.ID)
	if err != nil {
		return fmt.Errorf("tasks: update %s: %w", t.ID, err)
	}

	if prevStatus != t.Status {
		return s.RecordTransition(ctx, t.ID, prevStatus, t.Status, reason)
	}
	return nil
}

// Delete removes a task; runs, proposals and transitions cascade.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("tasks: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListFilter narrows List. Zero value lists everything.
type ListFilter struct {
	Status string
	Kind   string
}

// List returns tasks matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	query := selectTask
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tasks: list: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// GetDueTasks returns active scheduled/oneshot tasks whose next_run_at has
// arrived, ascending; ties broken by id.
func (s *Store) GetDueTasks(ctx context.Context, now time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+`
		WHERE status = ? AND kind IN (?, ?) AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC`,
		StatusActive, KindScheduled, KindOneshot, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("tasks: due tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// GetEventTasks returns active event-kind tasks.
func (s *Store) GetEventTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+" WHERE status = ? AND kind = ? ORDER BY created_at",
		StatusActive, KindEvent)
	if err != nil {
		return nil, fmt.Errorf("tasks: event tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// GetDependents returns tasks that depend on the given task.
func (s *Store) GetDependents(ctx context.Context, id string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+" WHERE depends_on = ? ORDER BY created_at", id)
	if err != nil {
		return nil, fmt.Errorf("tasks: dependents of %s: %w", id, err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ActiveCount returns the number of active tasks.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE status = ?", StatusActive).Scan(&n)
	return n, err
}

// CreateRun begins a run row.
func (s *Store) CreateRun(ctx context.Context, taskID, triggerInfo string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		StartedAt:   time.Now(),
		Status:      RunRunning,
		TriggerInfo: triggerInfo,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_id, started_at, status, trigger_info)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.StartedAt.UnixMilli(), run.Status, run.TriggerInfo)
	if err != nil {
		return nil, fmt.Errorf("tasks: create run: %w", err)
	}
	return run, nil
}

// CompleteRun finishes a run row.
func (s *Store) CompleteRun(ctx context.Context, runID, status, result, errMsg, errorKind string, tokensUsed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_runs SET completed_at=?, status=?, result=?, error=?, error_kind=?, tokens_used=?
		WHERE id=?`,
		time.Now().UnixMilli(), status, result, errMsg, errorKind, tokensUsed, runID)
	if err != nil {
		return fmt.Errorf("tasks: complete run %s: %w", runID, err)
	}
	return nil
}

// GetRecentRuns returns a task's runs, newest first.
func (s *Store) GetRecentRuns(ctx context.Context, taskID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRun+" WHERE task_id = ? ORDER BY started_at DESC, id DESC LIMIT ?",
		taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetLastSuccessfulRun returns the most recent success, or nil.
func (s *Store) GetLastSuccessfulRun(ctx context.Context, taskID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		selectRun+" WHERE task_id = ? AND status = ? ORDER BY started_at DESC LIMIT 1",
		taskID, RunSuccess)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// CreateProposal records a pending approval for an agent-created task.
func (s *Store) CreateProposal(ctx context.Context, p *Proposal) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProposalPending
	}
	p.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_proposals (id, task_id, message_id, channel, channel_target, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TaskID, p.MessageID, p.Channel, p.ChannelTarget, p.Status, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("tasks: create proposal: %w", err)
	}
	return nil
}

// GetProposalByMessage looks a proposal up by the outbound message id.
func (s *Store) GetProposalByMessage(ctx context.Context, messageID string) (*Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, task_id, message_id, channel, channel_target, status, rejected_at, created_at FROM task_proposals WHERE message_id = ?",
		messageID)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetProposalForTask returns the pending proposal for a task, if any.
func (s *Store) GetProposalForTask(ctx context.Context, taskID string) (*Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, task_id, message_id, channel, channel_target, status, rejected_at, created_at FROM task_proposals WHERE task_id = ? AND status = ?",
		taskID, ProposalPending)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// UpdateProposal sets a proposal's status; rejection stamps rejected_at.
func (s *Store) UpdateProposal(ctx context.Context, id, status string) error {
	var rejectedAt any
	if status == ProposalRejected {
		rejectedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE task_proposals SET status = ?, rejected_at = ? WHERE id = ?", status, rejectedAt, id)
	if err != nil {
		return fmt.Errorf("tasks: update proposal %s: %w", id, err)
	}
	return nil
}

// WasRecentlyRejected reports whether a proposal for a task with this name
// was rejected within the window. Guards discovery against re-proposing.
func (s *Store) WasRecentlyRejected(ctx context.Context, name string, within time.Duration) (bool, error) {
	cutoff := time.Now().Add(-within).UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_proposals p
		JOIN tasks t ON t.id = p.task_id
		WHERE t.name = ? AND p.status = ? AND p.rejected_at IS NOT NULL AND p.rejected_at >= ?`,
		name, ProposalRejected, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("tasks: rejection check: %w", err)
	}
	return n > 0, nil
}

// RecordTransition appends one ledger row.
func (s *Store) RecordTransition(ctx context.Context, taskID, from, to, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_transitions (task_id, from_status, to_status, reason, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, from, to, reason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("tasks: record transition: %w", err)
	}
	return nil
}

// GetTransitions returns a task's ledger in insertion order.
func (s *Store) GetTransitions(ctx context.Context, taskID string) ([]*Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, from_status, to_status, reason, timestamp
		FROM task_transitions WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("tasks: transitions: %w", err)
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		var tr Transition
		var ts int64
		if err := rows.Scan(&tr.ID, &tr.TaskID, &tr.FromStatus, &tr.ToStatus, &tr.Reason, &ts); err != nil {
			return nil, err
		}
		tr.Timestamp = time.UnixMilli(ts)
		out = append(out, &tr)
	}
	return out, rows.Err()
}

// Compact deletes runs, proposals and transitions older than the cutoff in
// one transaction.
func (s *Store) Compact(ctx context.Context, maxAgeDays int) error {
	if maxAgeDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tasks: compact begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM task_runs WHERE started_at < ?",
		"DELETE FROM task_proposals WHERE created_at < ?",
		"DELETE FROM task_transitions WHERE timestamp < ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return fmt.Errorf("tasks: compact: %w", err)
		}
	}
	return tx.Commit()
}

const selectTask = `SELECT id, name, description, kind, status, prompt, workflow,
	memory_context, memory_category, interval_ms, cron_expression, business_hours,
	depends_on, event_source, event_config, trigger_mode, persist_conversation,
	next_run_at, last_run_at, run_count, max_runs, consecutive_failures,
	last_error_kind, notify, last_result_hash, channel, channel_target,
	created_by, created_at, updated_at FROM tasks`

const selectRun = `SELECT id, task_id, started_at, completed_at, status, result,
	error, error_kind, trigger_info, tokens_used FROM task_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var memoryContext string
	var persist int
	var nextRun, lastRun sql.NullInt64
	var created, updated int64
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Kind, &t.Status, &t.Prompt, &t.Workflow,
		&memoryContext, &t.MemoryCategory, &t.IntervalMs, &t.CronExpression, &t.BusinessHours,
		&t.DependsOn, &t.EventSource, &t.EventConfig, &t.TriggerMode, &persist,
		&nextRun, &lastRun, &t.RunCount, &t.MaxRuns, &t.ConsecutiveFailures,
		&t.LastErrorKind, &t.Notify, &t.LastResultHash, &t.Channel, &t.ChannelTarget,
		&t.CreatedBy, &created, &updated)
	if err != nil {
		return nil, err
	}
	if memoryContext != "" {
		t.MemoryContext = strings.Split(memoryContext, ",")
	}
	t.PersistConversation = persist != 0
	t.NextRunAt = millisPtr(nextRun)
	t.LastRunAt = millisPtr(lastRun)
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return &t, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var started int64
	var completed sql.NullInt64
	err := row.Scan(&r.ID, &r.TaskID, &started, &completed, &r.Status, &r.Result,
		&r.Error, &r.ErrorKind, &r.TriggerInfo, &r.TokensUsed)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	r.CompletedAt = millisPtr(completed)
	return &r, nil
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var p Proposal
	var rejected sql.NullInt64
	var created int64
	err := row.Scan(&p.ID, &p.TaskID, &p.MessageID, &p.Channel, &p.ChannelTarget, &p.Status, &rejected, &created)
	if err != nil {
		return nil, err
	}
	p.RejectedAt = millisPtr(rejected)
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
