package memory

import (
	"context"
	"fmt"
	"time"
)

// GCResult reports what a garbage-collection pass did (or would do).
type GCResult struct {
	// Deleted lists removed keys (candidates when dry-run).
	Deleted []string `json:"deleted"`

	// Skipped counts auto records old enough to collect but preserved by a
	// non-zero access count.
	Skipped int `json:"skipped"`
}

// CollectGarbage removes stale low-value records:
//
//   - auto records never accessed and older than autoMaxAge
//   - conversation records older than conversationMaxAge
//
// Manual and compaction records are never collected. A non-positive age
// disables that rule. With dryRun set, candidates are reported but nothing
// is deleted.
func (s *Store) CollectGarbage(ctx context.Context, autoMaxAge, conversationMaxAge time.Duration, dryRun bool) (*GCResult, error) {
	result := &GCResult{}
	now := time.Now()

	if autoMaxAge > 0 {
		cutoff := now.Add(-autoMaxAge).UnixMilli()

		rows, err := s.db.QueryContext(ctx,
			"SELECT key, access_count FROM memories WHERE source = ? AND created_at < ?",
			SourceAuto, cutoff)
		if err != nil {
			return nil, fmt.Errorf("memory: gc scan auto: %w", err)
		}
		for rows.Next() {
			var key string
			var accessCount int
			if err := rows.Scan(&key, &accessCount); err != nil {
				rows.Close()
				return nil, err
			}
			if accessCount > 0 {
				result.Skipped++
				continue
			}
			result.Deleted = append(result.Deleted, key)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	if conversationMaxAge > 0 {
		cutoff := now.Add(-conversationMaxAge).UnixMilli()
		rows, err := s.db.QueryContext(ctx,
			"SELECT key FROM memories WHERE source = ? AND created_at < ?",
			SourceConversation, cutoff)
		if err != nil {
			return nil, fmt.Errorf("memory: gc scan conversation: %w", err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, err
			}
			result.Deleted = append(result.Deleted, key)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	if dryRun || len(result.Deleted) == 0 {
		return result, nil
	}

	for _, key := range result.Deleted {
		if _, err := s.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("memory: gc delete %s: %w", key, err)
		}
	}
	s.logger.Info("memory garbage collected", "deleted", len(result.Deleted), "skipped", result.Skipped)
	return result, nil
}
