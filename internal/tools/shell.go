package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// shellArgs are the parameters of the shell_exec tool.
type shellArgs struct {
	Command        string `json:"command" jsonschema:"required,description=Shell command to execute"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Optional timeout in seconds (default 60)"`
}

// ShellTool runs a shell command in the task's working directory.
type ShellTool struct {
	// DefaultTimeout bounds commands that pass no timeout. Default 60s.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured output. Default 256 KiB.
	MaxOutputBytes int
}

// Name implements Tool.
func (t *ShellTool) Name() string { return "shell_exec" }

// Description implements Tool.
func (t *ShellTool) Description() string {
	return "Execute a shell command and return its combined stdout/stderr output."
}

// Parameters implements Tool.
func (t *ShellTool) Parameters() map[string]any { return SchemaFor(&shellArgs{}) }

// Execute implements Tool.
func (t *ShellTool) Execute(ctx context.Context, args map[string]any, cwd string) (*Result, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return &Result{Success: false, Output: "command is required"}, nil
	}

	timeout := t.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output := t.capOutput(buf.String())

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{Success: false, Output: fmt.Sprintf("command timed out after %s\n%s", timeout, output)}, nil
	}
	if runErr != nil {
		return &Result{Success: false, Output: fmt.Sprintf("exit error: %v\n%s", runErr, output)}, nil
	}
	return &Result{Success: true, Output: output}, nil
}

func (t *ShellTool) capOutput(out string) string {
	max := t.MaxOutputBytes
	if max <= 0 {
		max = 256 << 10
	}
	if len(out) <= max {
		return out
	}
	return out[:max] + "\n[output truncated]"
}
