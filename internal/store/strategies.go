package store

import (
	"encoding/json"
	"fmt"
	"time"

	"vcycle/internal/types"
)

// SaveStrategy inserts or replaces a strategy definition.
func (s *Store) SaveStrategy(st types.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs, _ := json.Marshal(st.PatternRefs)
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO strategies
		 (id, description, context_sig, effectiveness, pattern_refs, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.Description, st.ContextSig, st.Effectiveness, string(refs), toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save strategy: %w", err)
	}
	return nil
}

// ListStrategies returns all known strategies.
func (s *Store) ListStrategies() ([]types.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, description, context_sig, effectiveness, pattern_refs, updated_at
		 FROM strategies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Strategy
	for rows.Next() {
		var st types.Strategy
		var refs string
		var updated int64
		if err := rows.Scan(&st.ID, &st.Description, &st.ContextSig, &st.Effectiveness,
			&refs, &updated); err != nil {
			return nil, err
		}
		st.UpdatedAt = fromNanos(updated)
		_ = json.Unmarshal([]byte(refs), &st.PatternRefs)
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateEffectiveness overwrites a strategy's historical effectiveness.
// The selector computes the blended value (EWMA); the store just persists.
func (s *Store) UpdateEffectiveness(id string, effectiveness float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE strategies SET effectiveness = ?, updated_at = ? WHERE id = ?`,
		effectiveness, toNanos(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy %s not found", id)
	}
	return nil
}
