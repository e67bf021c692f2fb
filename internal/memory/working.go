package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultWorkingTTL bounds working-memory entries that pass no TTL.
const DefaultWorkingTTL = time.Hour

// WorkingRecord is one TTL-bounded working-memory note. Working memory is
// deliberately not embedded or indexed; it is scratch space, not knowledge.
type WorkingRecord struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Context   string    `json:"context,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Promote   bool      `json:"promote"`
	CreatedAt time.Time `json:"created_at"`
}

// SetWorking writes a working-memory entry with the given TTL (zero selects
// the default hour).
func (s *Store) SetWorking(ctx context.Context, key, value, contextNote string, ttl time.Duration) error {
	if key == "" {
		return errors.New("memory: working key is required")
	}
	if ttl <= 0 {
		ttl = DefaultWorkingTTL
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_memory (key, value, context, expires_at, promote, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			context = excluded.context,
			expires_at = excluded.expires_at`,
		key, value, contextNote, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("memory: set working %s: %w", key, err)
	}
	return nil
}

// GetWorking returns a live working-memory entry, sweeping expired ones first.
func (s *Store) GetWorking(ctx context.Context, key string) (*WorkingRecord, error) {
	if err := s.SweepWorking(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT key, value, context, expires_at, promote, created_at FROM working_memory WHERE key = ?", key)
	rec, err := scanWorking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// GetAllWorking returns all live entries, oldest first.
func (s *Store) GetAllWorking(ctx context.Context) ([]*WorkingRecord, error) {
	if err := s.SweepWorking(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, context, expires_at, promote, created_at FROM working_memory ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("memory: list working: %w", err)
	}
	defer rows.Close()

	var out []*WorkingRecord
	for rows.Next() {
		rec, err := scanWorking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountWorking returns the number of live entries.
func (s *Store) CountWorking(ctx context.Context) (int, error) {
	if err := s.SweepWorking(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM working_memory").Scan(&n)
	return n, err
}

// SweepWorking deletes expired entries that are not flagged for promotion.
func (s *Store) SweepWorking(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM working_memory WHERE expires_at <= ? AND promote = 0", time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("memory: sweep working: %w", err)
	}
	return nil
}

// MarkForPromotion flags an entry to survive expiry until promoted.
func (s *Store) MarkForPromotion(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE working_memory SET promote = 1 WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("memory: mark promotion %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetPromotionCandidates returns flagged entries regardless of expiry.
func (s *Store) GetPromotionCandidates(ctx context.Context) ([]*WorkingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, context, expires_at, promote, created_at FROM working_memory WHERE promote = 1 ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("memory: promotion candidates: %w", err)
	}
	defer rows.Close()

	var out []*WorkingRecord
	for rows.Next() {
		rec, err := scanWorking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanWorking(row rowScanner) (*WorkingRecord, error) {
	var rec WorkingRecord
	var expires, created int64
	var promote int
	if err := row.Scan(&rec.Key, &rec.Value, &rec.Context, &expires, &promote, &created); err != nil {
		return nil, err
	}
	rec.ExpiresAt = time.UnixMilli(expires)
	rec.Promote = promote != 0
	rec.CreatedAt = time.UnixMilli(created)
	return &rec, nil
}
