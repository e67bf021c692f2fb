package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DailyLogSource exposes the workspace's append-only daily logs.
type DailyLogSource interface {
	// ListDailyLogs returns available log dates as "YYYY-MM-DD".
	ListDailyLogs() ([]string, error)

	// ReadDailyLog returns the raw contents of one day's log.
	ReadDailyLog(date string) (string, error)
}

// logChunkSize caps one indexed chunk.
const logChunkSize = 1500

// timestampedLine matches lines shaped "[2026-08-25T09:00:00Z] ...".
var timestampedLine = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T[0-9:.+Z-]+\]`)

// IndexDailyLogs ingests timestamped log lines into searchable chunks keyed
// "log:{date}:{index}". Ingestion is idempotent per date: the presence of
// chunk 0 skips the whole day. Returns the number of chunks written.
func (s *Store) IndexDailyLogs(ctx context.Context, src DailyLogSource) (int, error) {
	dates, err := src.ListDailyLogs()
	if err != nil {
		return 0, fmt.Errorf("memory: list daily logs: %w", err)
	}

	written := 0
	for _, date := range dates {
		first, err := s.Get(ctx, fmt.Sprintf("log:%s:0", date))
		if err != nil {
			return written, err
		}
		if first != nil {
			continue
		}

		content, err := src.ReadDailyLog(date)
		if err != nil {
			s.logger.Warn("read daily log failed", "date", date, "error", err)
			continue
		}
		chunks := chunkLogLines(content)
		for i, chunk := range chunks {
			key := fmt.Sprintf("log:%s:%d", date, i)
			_, err := s.Set(ctx, key, chunk, SetOptions{
				Source:   SourceAuto,
				Category: "daily_log",
			})
			if err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

// chunkLogLines keeps only timestamped lines and packs them into chunks of
// at most logChunkSize characters, never splitting a line.
func chunkLogLines(content string) []string {
	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if !timestampedLine.MatchString(line) {
			continue
		}
		if current.Len() > 0 && current.Len()+len(line)+1 > logChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
