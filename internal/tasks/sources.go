package tasks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconhq/beacon/internal/tasks/events"
	"github.com/beaconhq/beacon/internal/tools"
)

// Event source names accepted in task.event_source.
const (
	SourceFileWatch = "file_watch"
	SourceCommand   = "command"
	SourceAPIPoll   = "api_poll"
	SourceWebhook   = "webhook"
)

// eventConfig is the JSON shape of task.event_config, a union over the
// source kinds.
type eventConfig struct {
	// file_watch
	Paths      []string `json:"paths,omitempty"`
	Recursive  bool     `json:"recursive,omitempty"`
	Ignore     []string `json:"ignore,omitempty"`
	DebounceMs int64    `json:"debounce_ms,omitempty"`

	// command
	Command    string `json:"command,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	DiffMode   string `json:"diff_mode,omitempty"`

	// api_poll
	Checks []apiCheckConfig `json:"checks,omitempty"`

	// webhook
	Secret string `json:"secret,omitempty"`
}

type apiCheckConfig struct {
	EventType string         `json:"event_type"`
	Ref       string         `json:"ref,omitempty"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
}

// WebhookMounter registers webhook handlers with the process's HTTP router.
type WebhookMounter interface {
	Mount(name string, webhook *events.Webhook)
}

// NewSourceFactory builds the default factory covering all four source
// kinds. registry may be nil when no api_poll tasks exist; mounter may be
// nil when no webhook tasks exist.
func NewSourceFactory(registry *tools.Registry, mounter WebhookMounter, cwd string, logger *slog.Logger) SourceFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(task *Task) (events.Source, error) {
		var cfg eventConfig
		if task.EventConfig != "" {
			if err := json.Unmarshal([]byte(task.EventConfig), &cfg); err != nil {
				return nil, fmt.Errorf("tasks: event config for %s: %w", task.Name, err)
			}
		}

		switch task.EventSource {
		case SourceFileWatch:
			if len(cfg.Paths) == 0 {
				return nil, fmt.Errorf("tasks: file_watch task %s has no paths", task.Name)
			}
			return events.NewFileWatcher(events.WatcherConfig{
				Paths:     cfg.Paths,
				Recursive: cfg.Recursive,
				Ignore:    cfg.Ignore,
				Debounce:  time.Duration(cfg.DebounceMs) * time.Millisecond,
			}, logger)

		case SourceCommand:
			if cfg.Command == "" {
				return nil, fmt.Errorf("tasks: command task %s has no command", task.Name)
			}
			return events.NewCommandPoller(events.CommandConfig{
				Command:  cfg.Command,
				Interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
				DiffMode: cfg.DiffMode,
			}, logger), nil

		case SourceAPIPoll:
			if registry == nil {
				return nil, fmt.Errorf("tasks: api_poll task %s needs a tool registry", task.Name)
			}
			checks := make([]events.APICheck, 0, len(cfg.Checks))
			for _, c := range cfg.Checks {
				checks = append(checks, events.APICheck{
					EventType: c.EventType,
					Ref:       c.Ref,
					Tool:      c.Tool,
					Args:      c.Args,
				})
			}
			if len(checks) == 0 {
				return nil, fmt.Errorf("tasks: api_poll task %s has no checks", task.Name)
			}
			interval := time.Duration(cfg.IntervalMs) * time.Millisecond
			return events.NewAPIPoller(checks, registry, interval, cwd, logger), nil

		case SourceWebhook:
			wh := events.NewWebhook(task.Name, cfg.Secret, logger)
			if mounter != nil {
				mounter.Mount(task.Name, wh)
			}
			return wh, nil
		}
		return nil, fmt.Errorf("tasks: unknown event source %q", task.EventSource)
	}
}
