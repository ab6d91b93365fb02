package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vcycle/internal/types"
)

// SaveExperiment persists experiment state as a JSON payload. The engine
// owns the struct's shape; the store only indexes id and status.
func (s *Store) SaveExperiment(e types.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal experiment: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO experiments (id, payload, status, updated_at)
		 VALUES (?, ?, ?, ?)`,
		e.ID, string(payload), string(e.Status), toNanos(time.Now()))
	return err
}

// GetExperiment fetches one experiment. Returns (nil, nil) when absent.
func (s *Store) GetExperiment(id string) (*types.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM experiments WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e types.Experiment
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("corrupt experiment %s: %w", id, err)
	}
	return &e, nil
}

// RunningExperiments returns all experiments still in the running state.
func (s *Store) RunningExperiments() ([]types.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT payload FROM experiments WHERE status = ?`,
		string(types.ExperimentRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Experiment
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e types.Experiment
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
