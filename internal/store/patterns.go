package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"vcycle/internal/embedding"
	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// initVecIndex creates the vec0 virtual table for ANN pattern search.
// Only called when the sqlite-vec extension is present.
func (s *Store) initVecIndex() error {
	// Dimension is fixed by the first stored pattern; 256 matches the
	// default hash embedder. A mismatched remote embedder falls back to
	// the cosine scan at search time.
	_, err := s.db.Exec(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_patterns USING vec0(
			pattern_id TEXT PRIMARY KEY,
			embedding float[256]
		)`)
	return err
}

// SimilarPattern pairs a pattern with its similarity to a query.
type SimilarPattern struct {
	Pattern    types.Pattern
	Similarity float64
}

// FindPatternBySignature looks up a pattern by its content signature.
// Returns (nil, nil) when absent.
func (s *Store) FindPatternBySignature(sig string) (*types.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, signature, description, context, embedding, source_ids,
		        success_count, failure_count, created_at, updated_at
		 FROM patterns WHERE signature = ?`, sig)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// SavePattern inserts a new pattern. Patterns are never deleted; the only
// later mutation is count reinforcement and source accumulation.
func (s *Store) SavePattern(p types.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources, _ := json.Marshal(p.SourceIDs)
	_, err := s.db.Exec(
		`INSERT INTO patterns
		 (id, signature, description, context, embedding, source_ids, success_count, failure_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Signature, p.Description, p.Context, encodeVector(p.Embedding), string(sources),
		p.SuccessCount, p.FailureCount, toNanos(p.CreatedAt), toNanos(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}

	if s.vectorExt && len(p.Embedding) > 0 {
		if _, err := s.db.Exec(
			`INSERT INTO vec_patterns (pattern_id, embedding) VALUES (?, ?)`,
			p.ID, encodeVector(p.Embedding)); err != nil {
			// Index insert failure degrades search, it does not lose the row.
			logging.Store("vec index insert failed for %s: %v", p.ID, err)
		}
	}

	logging.StoreDebug("Saved pattern %s sig=%s", p.ID, p.Signature)
	return nil
}

// ReinforcePattern bumps the success or failure count and appends source
// feedback IDs.
func (s *Store) ReinforcePattern(id string, success bool, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sources string
	if err := s.db.QueryRow(`SELECT source_ids FROM patterns WHERE id = ?`, id).Scan(&sources); err != nil {
		return fmt.Errorf("pattern %s not found: %w", id, err)
	}
	var ids []string
	_ = json.Unmarshal([]byte(sources), &ids)
	if sourceID != "" {
		ids = append(ids, sourceID)
	}
	merged, _ := json.Marshal(ids)

	column := "failure_count"
	if success {
		column = "success_count"
	}
	_, err := s.db.Exec(
		fmt.Sprintf(`UPDATE patterns SET %s = %s + 1, source_ids = ?, updated_at = ? WHERE id = ?`, column, column),
		string(merged), toNanos(time.Now()), id,
	)
	return err
}

// SearchPatterns returns the k patterns nearest to the query embedding,
// highest similarity first, ties broken by net score (success − failure),
// then by ID for determinism. A non-empty patternContext restricts the
// search to patterns learned in that context; the vec index carries no
// metadata, so scoped searches take the scan path.
func (s *Store) SearchPatterns(query []float32, k int, patternContext string) ([]SimilarPattern, error) {
	if k <= 0 {
		k = 5
	}

	s.mu.RLock()
	native := s.vectorExt
	s.mu.RUnlock()

	if native && patternContext == "" {
		if out, err := s.searchPatternsVec(query, k); err == nil {
			return out, nil
		}
		// Fall through to the scan on any vec error.
	}
	return s.searchPatternsScan(query, k, patternContext)
}

// searchPatternsVec uses the sqlite-vec virtual table for KNN.
func (s *Store) searchPatternsVec(query []float32, k int) ([]SimilarPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT p.id, p.signature, p.description, p.context, p.embedding, p.source_ids,
		        p.success_count, p.failure_count, p.created_at, p.updated_at
		 FROM vec_patterns v
		 JOIN patterns p ON p.id = v.pattern_id
		 WHERE v.embedding MATCH ? AND v.k = ?
		 ORDER BY v.distance`,
		encodeVector(query), k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SimilarPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SimilarPattern{
			Pattern:    *p,
			Similarity: embedding.Cosine(query, p.Embedding),
		})
	}
	sortSimilar(out)
	return out, rows.Err()
}

// searchPatternsScan is the pure-Go fallback: decode every embedding and
// rank by cosine similarity.
func (s *Store) searchPatternsScan(query []float32, k int, patternContext string) ([]SimilarPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, signature, description, context, embedding, source_ids,
	             success_count, failure_count, created_at, updated_at
	      FROM patterns WHERE embedding IS NOT NULL AND embedding != '[]'`
	args := []any{}
	if patternContext != "" {
		q += ` AND context = ?`
		args = append(args, patternContext)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SimilarPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SimilarPattern{
			Pattern:    *p,
			Similarity: embedding.Cosine(query, p.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortSimilar(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func sortSimilar(out []SimilarPattern) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if ni, nj := out[i].Pattern.NetScore(), out[j].Pattern.NetScore(); ni != nj {
			return ni > nj
		}
		return out[i].Pattern.ID < out[j].Pattern.ID
	})
}

// PatternCount returns the number of stored patterns.
func (s *Store) PatternCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM patterns`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*types.Pattern, error) {
	var p types.Pattern
	var embeddingText, sources string
	var created, updated int64
	if err := row.Scan(&p.ID, &p.Signature, &p.Description, &p.Context, &embeddingText, &sources,
		&p.SuccessCount, &p.FailureCount, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	vec, err := parseVector(embeddingText)
	if err != nil {
		return nil, fmt.Errorf("corrupt embedding for pattern %s: %w", p.ID, err)
	}
	p.Embedding = vec
	_ = json.Unmarshal([]byte(sources), &p.SourceIDs)
	return &p, nil
}
