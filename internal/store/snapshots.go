package store

import (
	"database/sql"
	"fmt"
	"time"

	"vcycle/internal/logging"
)

// ConfigSnapshot is one versioned configuration state. Rollback targets a
// snapshot version, not a cycle: restoring a version twice is a no-op the
// second time.
type ConfigSnapshot struct {
	Version   int64     `json:"version"`
	Payload   string    `json:"payload"` // serialized deployed configuration
	Good      bool      `json:"good"`    // validated post-deploy
	CreatedAt time.Time `json:"created_at"`
}

// SaveSnapshot records a new configuration version and returns it.
func (s *Store) SaveSnapshot(payload string, good bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO config_snapshots (payload, good, created_at) VALUES (?, ?, ?)`,
		payload, boolToInt(good), toNanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.Store("Saved config snapshot v%d (good=%v)", version, good)
	return version, nil
}

// MarkSnapshotGood flags a version as validated. Called after post-deploy
// re-measurement confirms the improvement.
func (s *Store) MarkSnapshotGood(version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE config_snapshots SET good = 1 WHERE version = ?`, version)
	return err
}

// GetSnapshot fetches one version. Returns (nil, nil) when absent.
func (s *Store) GetSnapshot(version int64) (*ConfigSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanSnapshot(s.db.QueryRow(
		`SELECT version, payload, good, created_at FROM config_snapshots WHERE version = ?`, version))
}

// LastGoodSnapshot returns the newest validated version, the rollback
// target. Returns (nil, nil) when nothing has ever validated.
func (s *Store) LastGoodSnapshot() (*ConfigSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanSnapshot(s.db.QueryRow(
		`SELECT version, payload, good, created_at FROM config_snapshots
		 WHERE good = 1 ORDER BY version DESC LIMIT 1`))
}

// CurrentSnapshot returns the newest version regardless of validation.
func (s *Store) CurrentSnapshot() (*ConfigSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanSnapshot(s.db.QueryRow(
		`SELECT version, payload, good, created_at FROM config_snapshots
		 ORDER BY version DESC LIMIT 1`))
}

func (s *Store) scanSnapshot(row *sql.Row) (*ConfigSnapshot, error) {
	var snap ConfigSnapshot
	var good int
	var created int64
	err := row.Scan(&snap.Version, &snap.Payload, &good, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Good = good != 0
	snap.CreatedAt = fromNanos(created)
	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
