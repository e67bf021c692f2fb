package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var logFileName = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.md$`)

// AppendDailyLog appends one timestamped line to today's log, creating the
// file with a date header when it does not exist yet.
func (w *Workspace) AppendDailyLog(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	now := time.Now()
	date := now.Format("2006-01-02")
	path := filepath.Join(w.LogsDir(), date+".md")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("workspace: open daily log: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		if _, err := fmt.Fprintf(f, "# %s\n\n", date); err != nil {
			return fmt.Errorf("workspace: write daily log: %w", err)
		}
	}
	if _, err := fmt.Fprintf(f, "[%s] %s\n", now.Format(time.RFC3339), line); err != nil {
		return fmt.Errorf("workspace: write daily log: %w", err)
	}
	return nil
}

// ListDailyLogs returns the dates with a log file, oldest first.
func (w *Workspace) ListDailyLogs() ([]string, error) {
	entries, err := os.ReadDir(w.LogsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: list logs: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := logFileName.FindStringSubmatch(e.Name()); m != nil {
			dates = append(dates, m[1])
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// ReadDailyLog returns the raw contents of one day's log.
func (w *Workspace) ReadDailyLog(date string) (string, error) {
	data, err := os.ReadFile(filepath.Join(w.LogsDir(), date+".md"))
	if err != nil {
		return "", fmt.Errorf("workspace: read log %s: %w", date, err)
	}
	return string(data), nil
}

// contextTailLines bounds how much of today's log GatherContext includes.
const contextTailLines = 20

// GatherContext assembles the ambient context prepended to task prompts:
// the standing instructions plus the tail of today's log.
func (w *Workspace) GatherContext(_ context.Context) (string, error) {
	var b strings.Builder

	if data, err := os.ReadFile(w.InstructionsPath()); err == nil {
		text := strings.TrimSpace(string(data))
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	today := time.Now().Format("2006-01-02")
	if log, err := w.ReadDailyLog(today); err == nil {
		lines := strings.Split(strings.TrimSpace(log), "\n")
		if len(lines) > contextTailLines {
			lines = lines[len(lines)-contextTailLines:]
		}
		if len(lines) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("Recent activity:\n")
			b.WriteString(strings.Join(lines, "\n"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
