package store

import (
	"fmt"
	"time"

	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// AppendMetric records one quality observation. The series is append-only:
// there is no update or delete path for quality_metrics anywhere in this
// package.
func (s *Store) AppendMetric(m types.QualityMetric) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to append metric: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO quality_metrics (model_id, spectrum_id, score, sample_count, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ModelID, m.SpectrumID, m.Score, m.SampleCount, toNanos(m.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append metric: %w", err)
	}
	logging.StoreDebug("Appended metric %s score=%.3f n=%d", m.Key(), m.Score, m.SampleCount)
	return nil
}

// AppendMetrics appends a batch inside one transaction.
func (s *Store) AppendMetrics(metrics []types.QualityMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO quality_metrics (model_id, spectrum_id, score, sample_count, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range metrics {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("refusing to append metric batch: %w", err)
		}
		if _, err := stmt.Exec(m.ModelID, m.SpectrumID, m.Score, m.SampleCount, toNanos(m.Timestamp)); err != nil {
			return fmt.Errorf("failed to append metric: %w", err)
		}
	}
	return tx.Commit()
}

// MetricsBetween returns metrics for one pair in [start, end), oldest first.
func (s *Store) MetricsBetween(key types.PairKey, start, end time.Time) ([]types.QualityMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT model_id, spectrum_id, score, sample_count, recorded_at
		 FROM quality_metrics
		 WHERE model_id = ? AND spectrum_id = ? AND recorded_at >= ? AND recorded_at < ?
		 ORDER BY recorded_at ASC`,
		key.ModelID, key.SpectrumID, toNanos(start), toNanos(end),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// LatestMetrics returns the most recent metric per (model, spectrum) pair.
func (s *Store) LatestMetrics() (map[types.PairKey]types.QualityMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT model_id, spectrum_id, score, sample_count, MAX(recorded_at)
		 FROM quality_metrics
		 GROUP BY model_id, spectrum_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.PairKey]types.QualityMetric)
	for rows.Next() {
		var m types.QualityMetric
		var ts int64
		if err := rows.Scan(&m.ModelID, &m.SpectrumID, &m.Score, &m.SampleCount, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = fromNanos(ts)
		out[m.Key()] = m
	}
	return out, rows.Err()
}

// Series returns the full time-ordered score series for a pair, capped at
// limit points (most recent kept). Used by the forecaster.
func (s *Store) Series(key types.PairKey, limit int) ([]types.QualityMetric, error) {
	if limit <= 0 {
		limit = 500
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT model_id, spectrum_id, score, sample_count, recorded_at FROM (
			SELECT * FROM quality_metrics
			WHERE model_id = ? AND spectrum_id = ?
			ORDER BY recorded_at DESC LIMIT ?
		 ) ORDER BY recorded_at ASC`,
		key.ModelID, key.SpectrumID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// Pairs returns every (model, spectrum) pair the series has seen.
func (s *Store) Pairs() ([]types.PairKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT model_id, spectrum_id FROM quality_metrics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PairKey
	for rows.Next() {
		var k types.PairKey
		if err := rows.Scan(&k.ModelID, &k.SpectrumID); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

type metricRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMetrics(rows metricRows) ([]types.QualityMetric, error) {
	var out []types.QualityMetric
	for rows.Next() {
		var m types.QualityMetric
		var ts int64
		if err := rows.Scan(&m.ModelID, &m.SpectrumID, &m.Score, &m.SampleCount, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = fromNanos(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}
