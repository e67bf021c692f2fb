package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/providers"
)

// AuditRecord is one line in the tool audit log.
type AuditRecord struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Outcome   string         `json:"outcome"` // success | failure | blocked | unknown
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewAuditRecord builds a record for a call and outcome.
func NewAuditRecord(call providers.ToolCall, outcome, reason string) AuditRecord {
	return AuditRecord{
		Tool:      call.Name,
		Args:      call.Arguments,
		Outcome:   outcome,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// AuditSink receives execution records.
type AuditSink interface {
	Append(rec AuditRecord) error
}

// FileAudit appends JSONL records to a file.
type FileAudit struct {
	mu   sync.Mutex
	path string
}

// NewFileAudit creates a JSONL audit sink at path.
func NewFileAudit(path string) *FileAudit {
	return &FileAudit{path: path}
}

// Append implements AuditSink.
func (a *FileAudit) Append(rec AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}
