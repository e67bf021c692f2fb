// Package memory implements the hybrid memory store: a SQLite-backed keyed
// blob store with a full-text index, a vector index with cosine similarity,
// TTL-bounded working memory, garbage collection, daily-log ingestion and
// LLM-driven extraction and summarization.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/beaconhq/beacon/internal/memory/embeddings"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Source classifies how a record entered the store.
const (
	SourceManual       = "manual"
	SourceAuto         = "auto"
	SourceConversation = "conversation"
	SourceCompaction   = "compaction"
)

// Content types.
const (
	ContentText       = "text"
	ContentImage      = "image"
	ContentMultimodal = "multimodal"
)

// Record is one keyed memory.
type Record struct {
	Key            string    `json:"key"`
	Value          string    `json:"value"`
	ContentType    string    `json:"content_type"`
	Category       string    `json:"category,omitempty"`
	Source         string    `json:"source"`
	SessionID      string    `json:"session_id,omitempty"`
	ImagePath      string    `json:"image_path,omitempty"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`
}

// SetOptions controls one write.
type SetOptions struct {
	ContentType string
	Category    string
	Source      string
	SessionID   string
	ImagePath   string

	// Embedding, when set, is stored as-is; otherwise the store embeds the
	// value when an embedder is configured.
	Embedding []float32

	// SkipEmbedding suppresses automatic embedding for this write.
	SkipEmbedding bool
}

// Store is the persistent memory store. Safe for concurrent use; SQLite in
// WAL mode serializes writers underneath.
type Store struct {
	db        *sql.DB
	embedder  embeddings.Provider
	dimension int
	logger    *slog.Logger
}

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file. Empty selects in-memory.
	Path string

	// Embedder, when set, powers the vector index. Its dimension fixes the
	// stored embedding dimension.
	Embedder embeddings.Provider

	// Dimension overrides the embedding dimension when no embedder is
	// configured (for precomputed vectors). Default 768.
	Dimension int

	Logger *slog.Logger
}

// Open opens (creating and migrating as needed) a memory store.
func Open(cfg Config) (*Store, error) {
	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}
	dsn = "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	// A single connection sidesteps table-lock races between the FTS
	// triggers and concurrent writers.
	db.SetMaxOpenConns(1)

	dimension := cfg.Dimension
	if cfg.Embedder != nil {
		dimension = cfg.Embedder.Dimension()
	}
	if dimension <= 0 {
		dimension = 768
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, embedder: cfg.Embedder, dimension: dimension, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			image_path TEXT,
			embedding BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("memory: create memories table: %w", err)
	}

	// Columns added after the first release are migrated in place.
	migrations := map[string]string{
		"category":         "ALTER TABLE memories ADD COLUMN category TEXT DEFAULT ''",
		"source":           "ALTER TABLE memories ADD COLUMN source TEXT NOT NULL DEFAULT 'manual'",
		"session_id":       "ALTER TABLE memories ADD COLUMN session_id TEXT",
		"last_accessed_at": "ALTER TABLE memories ADD COLUMN last_accessed_at INTEGER NOT NULL DEFAULT 0",
		"access_count":     "ALTER TABLE memories ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0",
	}
	existing, err := s.tableColumns("memories")
	if err != nil {
		return err
	}
	for column, ddl := range migrations {
		if _, ok := existing[column]; ok {
			continue
		}
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("memory: add column %s: %w", column, err)
		}
	}

	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			key, value, content='memories', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, key, value) VALUES (new.rowid, new.key, new.value);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, key, value) VALUES ('delete', old.rowid, old.key, old.value);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, key, value) VALUES ('delete', old.rowid, old.key, old.value);
			INSERT INTO memories_fts(rowid, key, value) VALUES (new.rowid, new.key, new.value);
		END`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)`,
		`CREATE TABLE IF NOT EXISTS working_memory (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			context TEXT DEFAULT '',
			expires_at INTEGER NOT NULL,
			promote INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("memory: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) tableColumns(table string) (map[string]struct{}, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("memory: table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

// Set upserts a record and returns the key actually written. Auto and
// compaction writes carrying a session id never overwrite another session's
// record: on collision the value lands under a suffixed key instead.
func (s *Store) Set(ctx context.Context, key, value string, opts SetOptions) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("memory: key is required")
	}
	if opts.Source == "" {
		opts.Source = SourceManual
	}
	if opts.ContentType == "" {
		opts.ContentType = ContentText
	}

	targetKey := key
	if (opts.Source == SourceAuto || opts.Source == SourceCompaction) && opts.SessionID != "" {
		resolved, err := s.resolveCollision(ctx, key, opts.SessionID)
		if err != nil {
			return "", err
		}
		targetKey = resolved
	}

	embedding := opts.Embedding
	if len(embedding) > 0 && len(embedding) != s.dimension {
		return "", fmt.Errorf("memory: embedding dimension %d, want %d", len(embedding), s.dimension)
	}
	if len(embedding) == 0 && !opts.SkipEmbedding && s.embedder != nil && opts.ContentType == ContentText {
		vec, err := s.embedder.Embed(ctx, value)
		if err != nil {
			s.logger.Warn("embedding failed, storing without vector", "key", targetKey, "error", err)
		} else {
			embedding = vec
		}
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (key, value, content_type, category, source, session_id, image_path, embedding, created_at, updated_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			content_type = excluded.content_type,
			category = excluded.category,
			source = excluded.source,
			session_id = excluded.session_id,
			image_path = excluded.image_path,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		targetKey, value, opts.ContentType, opts.Category, opts.Source,
		nullString(opts.SessionID), nullString(opts.ImagePath),
		encodeEmbedding(embedding), now, now)
	if err != nil {
		return "", fmt.Errorf("memory: set %s: %w", targetKey, err)
	}
	return targetKey, nil
}

// resolveCollision walks key, key_2, key_3, ... until it finds a free slot or
// a record owned by the same session.
func (s *Store) resolveCollision(ctx context.Context, key, sessionID string) (string, error) {
	candidate := key
	for i := 2; ; i++ {
		existing, err := s.Get(ctx, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil || existing.SessionID == sessionID {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", key, i)
	}
}

// Get returns the record for key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+" WHERE key = ?", key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get %s: %w", key, err)
	}
	return rec, nil
}

// Delete removes a record; it reports whether anything was deleted.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("memory: delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordAccess bumps last_accessed_at and access_count for each existing key.
// Empty input is a no-op.
func (s *Store) RecordAccess(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, time.Now().UnixMilli())
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE memories SET last_accessed_at = ?, access_count = access_count + 1 WHERE key IN ("+placeholders+")",
		args...)
	if err != nil {
		return fmt.Errorf("memory: record access: %w", err)
	}
	return nil
}

// Filters narrows searches and listings.
type Filters struct {
	Category    string
	Source      string
	SessionID   string
	ContentType string
}

func (f Filters) match(rec *Record) bool {
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.Source != "" && rec.Source != f.Source {
		return false
	}
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.ContentType != "" && rec.ContentType != f.ContentType {
		return false
	}
	return true
}

// GetByCategory lists records in a category, newest first.
func (s *Store) GetByCategory(ctx context.Context, category string, limit int) ([]*Record, error) {
	return s.list(ctx, "category = ?", []any{category}, limit)
}

// GetBySource lists records from a source, newest first.
func (s *Store) GetBySource(ctx context.Context, source string, limit int) ([]*Record, error) {
	return s.list(ctx, "source = ?", []any{source}, limit)
}

// GetByContentType lists records of a content type, newest first.
func (s *Store) GetByContentType(ctx context.Context, contentType string, limit int) ([]*Record, error) {
	return s.list(ctx, "content_type = ?", []any{contentType}, limit)
}

// GetByTimeRange lists records created in [from, to], newest first.
func (s *Store) GetByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]*Record, error) {
	return s.list(ctx, "created_at BETWEEN ? AND ?", []any{from.UnixMilli(), to.UnixMilli()}, limit)
}

func (s *Store) list(ctx context.Context, where string, args []any, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectRecord + " WHERE " + where + " ORDER BY created_at DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

const selectRecord = `SELECT key, value, content_type, category, source, session_id, image_path, embedding, created_at, updated_at, last_accessed_at, access_count FROM memories`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var sessionID, imagePath sql.NullString
	var embedding []byte
	var created, updated, accessed int64
	err := row.Scan(&rec.Key, &rec.Value, &rec.ContentType, &rec.Category, &rec.Source,
		&sessionID, &imagePath, &embedding, &created, &updated, &accessed, &rec.AccessCount)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID.String
	rec.ImagePath = imagePath.String
	rec.Embedding = decodeEmbedding(embedding)
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	rec.LastAccessedAt = time.UnixMilli(accessed)
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// encodeEmbedding packs float32s little-endian, 4 bytes each.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	data := make([]byte, len(vec)*4)
	for i, f := range vec {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}
