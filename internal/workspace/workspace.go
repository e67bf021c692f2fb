// Package workspace manages the on-disk home of the assistant: the
// databases, daily logs, images and seed files live under one root
// directory that survives restarts.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SeedFile is a file created in the workspace root on first boot.
type SeedFile struct {
	Name    string
	Content string
}

// BootstrapResult lists what Bootstrap created and what already existed.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

// Workspace is a handle on the workspace root.
type Workspace struct {
	root string
}

// New returns a workspace rooted at dir. Call Bootstrap before use.
func New(dir string) *Workspace {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	return &Workspace{root: dir}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// MemoryDBPath is where the memory store lives.
func (w *Workspace) MemoryDBPath() string { return filepath.Join(w.root, "memory.db") }

// TasksDBPath is where the task store lives.
func (w *Workspace) TasksDBPath() string { return filepath.Join(w.root, "tasks.db") }

// LogsDir holds the daily markdown logs.
func (w *Workspace) LogsDir() string { return filepath.Join(w.root, "logs") }

// ImagesDir holds images referenced from conversations.
func (w *Workspace) ImagesDir() string { return filepath.Join(w.root, "images") }

// HeartbeatPath is the periodic checklist file.
func (w *Workspace) HeartbeatPath() string { return filepath.Join(w.root, "HEARTBEAT.md") }

// InstructionsPath is the standing-instructions file loaded into task context.
func (w *Workspace) InstructionsPath() string { return filepath.Join(w.root, "AGENTS.md") }

// DefaultSeedFiles returns the files seeded into a fresh workspace.
func DefaultSeedFiles() []SeedFile {
	return []SeedFile{
		{
			Name: "AGENTS.md",
			Content: "# AGENTS.md - Workspace Instructions\n\n" +
				"This directory is the assistant's working home.\n\n" +
				"## Safety\n" +
				"- Do not exfiltrate secrets or private data.\n" +
				"- Avoid destructive actions unless explicitly requested.\n\n" +
				"## Workflow\n" +
				"- Be concise; put longer output in files.\n" +
				"- Durable facts belong in memory, day notes in logs/.\n",
		},
		{
			Name: "HEARTBEAT.md",
			Content: "# HEARTBEAT.md\n\n" +
				"Unchecked items below are picked up on the next heartbeat.\n\n" +
				"- [ ] Review open follow-ups\n",
		},
	}
}

// Bootstrap creates the workspace directories and seeds missing files.
// Existing files are never overwritten.
func (w *Workspace) Bootstrap() (BootstrapResult, error) {
	result := BootstrapResult{}
	for _, dir := range []string{w.root, w.LogsDir(), w.ImagesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return result, fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}

	for _, seed := range DefaultSeedFiles() {
		path := filepath.Join(w.root, seed.Name)
		if _, err := os.Stat(path); err == nil {
			result.Skipped = append(result.Skipped, path)
			continue
		} else if !os.IsNotExist(err) {
			return result, fmt.Errorf("workspace: stat %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(seed.Content), 0o644); err != nil {
			return result, fmt.Errorf("workspace: write %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}
	return result, nil
}
