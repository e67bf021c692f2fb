package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Match types reported on search hits.
const (
	MatchFTS    = "fts"
	MatchVector = "vector"
	MatchHybrid = "hybrid"
)

// Hit is one search result.
type Hit struct {
	Record    *Record `json:"record"`
	Score     float64 `json:"score"`
	MatchType string  `json:"match_type"`
}

// Weights tunes hybrid fusion. Zero value selects the defaults.
type Weights struct {
	FTS    float64
	Vector float64
}

// DefaultWeights favors the vector side.
func DefaultWeights() Weights { return Weights{FTS: 0.3, Vector: 0.7} }

// SearchFTS queries the full-text index, ranked by bm25.
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) ([]*Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.key, m.value, m.content_type, m.category, m.source, m.session_id, m.image_path,
		       m.embedding, m.created_at, m.updated_at, m.last_accessed_at, m.access_count,
		       bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: fts search: %w", err)
	}
	defer rows.Close()

	var hits []*Hit
	for rows.Next() {
		var rec Record
		var sessionID, imagePath sql.NullString
		var embedding []byte
		var created, updated, accessed int64
		var rank float64
		err := rows.Scan(&rec.Key, &rec.Value, &rec.ContentType, &rec.Category, &rec.Source,
			&sessionID, &imagePath, &embedding, &created, &updated, &accessed, &rec.AccessCount, &rank)
		if err != nil {
			return nil, fmt.Errorf("memory: fts scan: %w", err)
		}
		rec.SessionID = sessionID.String
		rec.ImagePath = imagePath.String
		rec.Embedding = decodeEmbedding(embedding)
		rec.CreatedAt = time.UnixMilli(created)
		rec.UpdatedAt = time.UnixMilli(updated)
		rec.LastAccessedAt = time.UnixMilli(accessed)
		hits = append(hits, &Hit{Record: &rec, Score: normalizeRank(rank), MatchType: MatchFTS})
	}
	return hits, rows.Err()
}

// SearchVector ranks all embedded records by cosine similarity to the query
// embedding, filtered, descending.
func (s *Store) SearchVector(ctx context.Context, queryEmbedding []float32, limit int, filters Filters) ([]*Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(queryEmbedding) != s.dimension {
		return nil, fmt.Errorf("memory: query embedding dimension %d, want %d", len(queryEmbedding), s.dimension)
	}
	rows, err := s.db.QueryContext(ctx, selectRecord+" WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("memory: vector search: %w", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	var hits []*Hit
	for _, rec := range records {
		if !filters.match(rec) {
			continue
		}
		score := cosineSimilarity(queryEmbedding, rec.Embedding)
		if score <= 0 {
			continue
		}
		hits = append(hits, &Hit{Record: rec, Score: score, MatchType: MatchVector})
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SearchSemantic embeds the query text and searches the vector index; with
// no embedder configured it falls back to full-text search.
func (s *Store) SearchSemantic(ctx context.Context, text string, limit int, filters Filters) ([]*Hit, error) {
	if s.embedder == nil {
		return s.SearchFTS(ctx, text, limit)
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed, falling back to fts", "error", err)
		return s.SearchFTS(ctx, text, limit)
	}
	return s.SearchVector(ctx, vec, limit, filters)
}

// SearchHybrid fuses full-text and vector results with a weighted sum.
// Both sides run with twice the requested limit; a key missing from one side
// contributes zero from it.
func (s *Store) SearchHybrid(ctx context.Context, query string, limit int, weights Weights, filters Filters) ([]*Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	if weights.FTS == 0 && weights.Vector == 0 {
		weights = DefaultWeights()
	}

	ftsHits, err := s.SearchFTS(ctx, query, 2*limit)
	if err != nil {
		return nil, err
	}

	var vecHits []*Hit
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, query); err != nil {
			s.logger.Warn("hybrid query embedding failed, using fts only", "error", err)
		} else if vecHits, err = s.SearchVector(ctx, vec, 2*limit, filters); err != nil {
			return nil, err
		}
	}

	merged := make(map[string]*Hit)
	for _, hit := range ftsHits {
		merged[hit.Record.Key] = &Hit{
			Record:    hit.Record,
			Score:     weights.FTS * hit.Score,
			MatchType: MatchFTS,
		}
	}
	for _, hit := range vecHits {
		if existing, ok := merged[hit.Record.Key]; ok {
			existing.Score += weights.Vector * hit.Score
			existing.MatchType = MatchHybrid
			continue
		}
		merged[hit.Record.Key] = &Hit{
			Record:    hit.Record,
			Score:     weights.Vector * hit.Score,
			MatchType: MatchVector,
		}
	}

	var hits []*Hit
	for _, hit := range merged {
		if !filters.match(hit.Record) {
			continue
		}
		hits = append(hits, hit)
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ftsQuery quotes each term so user input cannot break the MATCH syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

// normalizeRank maps bm25 rank (lower is better, negative for matches) to a
// score in (0, 1).
func normalizeRank(rank float64) float64 {
	raw := -rank
	if raw < 0 {
		raw = 0
	}
	return raw / (1 + raw)
}

func sortHits(hits []*Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.Key < hits[j].Record.Key
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
