package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// InsertCycle records a newly opened cycle and its first audit event.
func (s *Store) InsertCycle(c types.OptimizationCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	findings, _ := json.Marshal(c.Findings)
	_, err := s.db.Exec(
		`INSERT INTO cycles
		 (id, started_at, phase, trigger_reason, findings, strategy_id, experiment_id, decision, abort_reason, snapshot_ver)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, toNanos(c.StartedAt), string(c.Phase), c.TriggerReason, string(findings),
		c.StrategyID, c.ExperimentID, string(c.Decision), c.AbortReason, c.SnapshotVer,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return s.appendEventLocked(c.ID, string(c.Phase), "cycle opened: "+c.TriggerReason)
}

// UpdateCycle persists the cycle's current state and appends the phase
// transition to the audit log.
func (s *Store) UpdateCycle(c types.OptimizationCycle, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	findings, _ := json.Marshal(c.Findings)
	var finished any
	if !c.FinishedAt.IsZero() {
		finished = toNanos(c.FinishedAt)
	}
	_, err := s.db.Exec(
		`UPDATE cycles SET finished_at = ?, phase = ?, findings = ?, strategy_id = ?,
		        experiment_id = ?, decision = ?, abort_reason = ?, snapshot_ver = ?
		 WHERE id = ?`,
		finished, string(c.Phase), string(findings), c.StrategyID,
		c.ExperimentID, string(c.Decision), c.AbortReason, c.SnapshotVer, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update cycle %s: %w", c.ID, err)
	}
	return s.appendEventLocked(c.ID, string(c.Phase), detail)
}

func (s *Store) appendEventLocked(cycleID, phase, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO cycle_events (cycle_id, phase, detail, recorded_at) VALUES (?, ?, ?, ?)`,
		cycleID, phase, detail, toNanos(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	logging.StoreDebug("Audit: cycle=%s phase=%s %s", cycleID, phase, detail)
	return nil
}

// CycleEvent is one row of the governance audit log.
type CycleEvent struct {
	CycleID    string    `json:"cycle_id"`
	Phase      string    `json:"phase"`
	Detail     string    `json:"detail"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CycleEvents returns the append-only audit trail for one cycle, in order.
func (s *Store) CycleEvents(cycleID string) ([]CycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT cycle_id, phase, detail, recorded_at FROM cycle_events
		 WHERE cycle_id = ? ORDER BY id ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleEvent
	for rows.Next() {
		var e CycleEvent
		var ts int64
		if err := rows.Scan(&e.CycleID, &e.Phase, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.RecordedAt = fromNanos(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// OpenCycle returns the single non-terminal cycle, or nil when the loop is
// idle. More than one open row means the single-flight invariant was
// violated by an earlier crash; the newest wins and the rest are aborted.
func (s *Store) OpenCycle() (*types.OptimizationCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, phase, trigger_reason, findings,
		        strategy_id, experiment_id, decision, abort_reason, snapshot_ver
		 FROM cycles
		 WHERE phase NOT IN ('deployed', 'rolled_back', 'aborted')
		 ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	open, err := collectCycles(rows)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	for _, stale := range open[1:] {
		if _, err := s.db.Exec(
			`UPDATE cycles SET phase = 'aborted', decision = 'aborted',
			        abort_reason = 'superseded after restart', finished_at = ? WHERE id = ?`,
			toNanos(time.Now()), stale.ID); err != nil {
			return nil, err
		}
		if err := s.appendEventLocked(stale.ID, "aborted", "superseded after restart"); err != nil {
			return nil, err
		}
	}
	return &open[0], nil
}

// RecentCycles returns the newest n cycles, newest first.
func (s *Store) RecentCycles(n int) ([]types.OptimizationCycle, error) {
	if n <= 0 {
		n = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, phase, trigger_reason, findings,
		        strategy_id, experiment_id, decision, abort_reason, snapshot_ver
		 FROM cycles ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	return collectCycles(rows)
}

// CycleStats summarizes loop activity for the status endpoint.
type CycleStats struct {
	Total    int `json:"total"`
	Deployed int `json:"deployed"`
	Rolled   int `json:"rolled_back"`
	Aborted  int `json:"aborted"`
}

// Stats counts finished cycles by decision.
func (s *Store) Stats() (CycleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st CycleStats
	rows, err := s.db.Query(`SELECT decision, COUNT(*) FROM cycles GROUP BY decision`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return st, err
		}
		st.Total += n
		switch types.CycleDecision(decision) {
		case types.DecisionDeployed:
			st.Deployed = n
		case types.DecisionRolledBack:
			st.Rolled = n
		case types.DecisionAborted:
			st.Aborted = n
		}
	}
	return st, rows.Err()
}

func collectCycles(rows *sql.Rows) ([]types.OptimizationCycle, error) {
	defer rows.Close()

	var out []types.OptimizationCycle
	for rows.Next() {
		var c types.OptimizationCycle
		var started int64
		var finished sql.NullInt64
		var phase, decision, findings string
		if err := rows.Scan(&c.ID, &started, &finished, &phase, &c.TriggerReason,
			&findings, &c.StrategyID, &c.ExperimentID, &decision, &c.AbortReason, &c.SnapshotVer); err != nil {
			return nil, err
		}
		c.StartedAt = fromNanos(started)
		if finished.Valid {
			c.FinishedAt = fromNanos(finished.Int64)
		}
		c.Phase = types.CyclePhase(phase)
		c.Decision = types.CycleDecision(decision)
		_ = json.Unmarshal([]byte(findings), &c.Findings)
		out = append(out, c)
	}
	return out, rows.Err()
}
