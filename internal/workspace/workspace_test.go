package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBootstrapCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	w := New(root)

	result, err := w.Bootstrap()
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(result.Created) != 2 {
		t.Errorf("created = %v", result.Created)
	}
	for _, dir := range []string{w.LogsDir(), w.ImagesDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("missing dir %s", dir)
		}
	}
	if _, err := os.Stat(w.HeartbeatPath()); err != nil {
		t.Errorf("heartbeat file not seeded: %v", err)
	}
}

func TestBootstrapPreservesExistingFiles(t *testing.T) {
	w := New(t.TempDir())
	if _, err := w.Bootstrap(); err != nil {
		t.Fatal(err)
	}
	custom := "# my own instructions\n"
	os.WriteFile(w.InstructionsPath(), []byte(custom), 0o644)

	result, err := w.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Created) != 0 {
		t.Errorf("second bootstrap created %v", result.Created)
	}
	data, _ := os.ReadFile(w.InstructionsPath())
	if string(data) != custom {
		t.Error("existing file was overwritten")
	}
}

func TestDailyLogAppendAndRead(t *testing.T) {
	w := New(t.TempDir())
	if _, err := w.Bootstrap(); err != nil {
		t.Fatal(err)
	}

	if err := w.AppendDailyLog("checked the build"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.AppendDailyLog("sent the report"); err != nil {
		t.Fatalf("append: %v", err)
	}

	today := time.Now().Format("2006-01-02")
	dates, err := w.ListDailyLogs()
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 1 || dates[0] != today {
		t.Errorf("dates = %v", dates)
	}

	content, err := w.ReadDailyLog(today)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(content, "# "+today+"\n") {
		t.Errorf("missing header: %q", content)
	}
	if !strings.Contains(content, "] checked the build") ||
		!strings.Contains(content, "] sent the report") {
		t.Errorf("entries missing: %q", content)
	}
	// Each entry carries an RFC 3339 timestamp.
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "[") {
			continue
		}
		stamp := line[1:strings.Index(line, "]")]
		if _, err := time.Parse(time.RFC3339, stamp); err != nil {
			t.Errorf("bad timestamp %q: %v", stamp, err)
		}
	}
}

func TestListDailyLogsIgnoresStrays(t *testing.T) {
	w := New(t.TempDir())
	if _, err := w.Bootstrap(); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(w.LogsDir(), "2025-01-02.md"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(w.LogsDir(), "2025-01-01.md"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(w.LogsDir(), "notes.txt"), []byte("x"), 0o644)

	dates, err := w.ListDailyLogs()
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 2 || dates[0] != "2025-01-01" || dates[1] != "2025-01-02" {
		t.Errorf("dates = %v", dates)
	}
}

func TestGatherContext(t *testing.T) {
	w := New(t.TempDir())
	if _, err := w.Bootstrap(); err != nil {
		t.Fatal(err)
	}
	w.AppendDailyLog("ran the morning digest")

	ctx, err := w.GatherContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ctx, "Workspace Instructions") {
		t.Errorf("instructions missing: %q", ctx)
	}
	if !strings.Contains(ctx, "ran the morning digest") {
		t.Errorf("recent activity missing: %q", ctx)
	}
}

func TestGatherContextEmptyWorkspace(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "never-bootstrapped"))
	ctx, err := w.GatherContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ctx != "" {
		t.Errorf("context = %q, want empty", ctx)
	}
}
