// Package channels carries outbound notifications from the task runner to
// the user. Adapters are registered by name; the registry routes by the
// task's configured channel with a fallback to the default.
package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Well-known channel names.
const (
	ChannelCLI = "cli"
	ChannelLog = "log"
)

// Notifier delivers one outbound message to a target on a channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, target, message string) error
}

// Registry routes notifications to registered channel adapters.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Notifier
	fallback string
	logger   *slog.Logger
}

// NewRegistry creates a registry. fallback names the channel used when a
// requested channel is unregistered; empty disables the fallback.
func NewRegistry(fallback string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{channels: make(map[string]Notifier), fallback: fallback, logger: logger}
}

// Register adds an adapter, replacing any with the same name.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[n.Name()] = n
}

// Names returns registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notify sends a message on the named channel, falling back when the channel
// is unregistered.
func (r *Registry) Notify(ctx context.Context, channel, target, message string) error {
	r.mu.RLock()
	n, ok := r.channels[channel]
	if !ok && r.fallback != "" {
		n, ok = r.channels[r.fallback]
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channels: no adapter for %q and no fallback", channel)
	}
	return n.Notify(ctx, target, message)
}

// CLINotifier prints notifications to a writer, for interactive use.
type CLINotifier struct {
	W io.Writer
}

func (c *CLINotifier) Name() string { return ChannelCLI }

func (c *CLINotifier) Notify(_ context.Context, target, message string) error {
	w := c.W
	if w == nil {
		w = os.Stdout
	}
	if target != "" {
		_, err := fmt.Fprintf(w, "[%s] %s\n", target, message)
		return err
	}
	_, err := fmt.Fprintln(w, message)
	return err
}

// LogNotifier writes notifications to the structured log. It is the default
// channel when nothing else is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Name() string { return ChannelLog }

func (l *LogNotifier) Notify(_ context.Context, target, message string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "target", target, "message", message)
	return nil
}
