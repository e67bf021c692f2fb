package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beaconhq/beacon/internal/providers"
)

func TestShellToolRunsInCwd(t *testing.T) {
	dir := t.TempDir()
	tool := &ShellTool{}
	res, err := tool.Execute(context.Background(), map[string]any{"command": "pwd"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("pwd failed: %s", res.Output)
	}
	if strings.TrimSpace(res.Output) != dir {
		t.Errorf("cwd = %q, want %q", strings.TrimSpace(res.Output), dir)
	}
}

func TestShellToolFailureCapturesOutput(t *testing.T) {
	tool := &ShellTool{}
	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo oops >&2; exit 3"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("non-zero exit must fail")
	}
	if !strings.Contains(res.Output, "oops") {
		t.Errorf("stderr missing: %q", res.Output)
	}
}

func TestShellToolTimeout(t *testing.T) {
	tool := &ShellTool{}
	start := time.Now()
	res, err := tool.Execute(context.Background(), map[string]any{
		"command":         "sleep 10",
		"timeout_seconds": 0.2,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("timed-out command must fail")
	}
	if !strings.Contains(res.Output, "timed out") {
		t.Errorf("output = %q", res.Output)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not apply")
	}
}

func TestShellToolRequiresCommand(t *testing.T) {
	tool := &ShellTool{}
	res, err := tool.Execute(context.Background(), map[string]any{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("empty command must fail")
	}
}

func TestShellToolCapsOutput(t *testing.T) {
	tool := &ShellTool{MaxOutputBytes: 32}
	res, err := tool.Execute(context.Background(), map[string]any{
		"command": "yes x | head -c 1000",
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(res.Output, "[output truncated]") {
		t.Errorf("output not capped: %d bytes", len(res.Output))
	}
}

func TestFileAuditAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := NewFileAudit(path)

	call := providers.ToolCall{Name: "shell_exec", Arguments: map[string]any{"command": "ls"}}
	if err := sink.Append(NewAuditRecord(call, "success", "")); err != nil {
		t.Fatal(err)
	}
	if err := sink.Append(NewAuditRecord(call, "blocked", "matched blocked pattern: rm -rf")); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Tool != "shell_exec" || records[0].Outcome != "success" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Outcome != "blocked" || records[1].Reason == "" {
		t.Errorf("second record = %+v", records[1])
	}
}
