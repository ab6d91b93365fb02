// Package collector aggregates raw run outcomes into per-(model, spectrum)
// quality metrics. Aggregation is a recency-weighted mean: newer runs count
// more, with exponentially decaying weight controlled by a half-life.
package collector

import (
	"context"
	"fmt"
	"math"
	"time"

	"vcycle/internal/logging"
	"vcycle/internal/obs"
	"vcycle/internal/types"
)

// RunSource is the slice of the observability client the collector needs.
type RunSource interface {
	ListAllRuns(ctx context.Context, filter obs.RunFilter) ([]types.RunRecord, error)
}

// MetricSink persists collected metrics. History is append-only.
type MetricSink interface {
	AppendMetrics(metrics []types.QualityMetric) error
}

// Config tunes the aggregation window.
type Config struct {
	// DecayHalfLife is the age at which a run's weight halves.
	DecayHalfLife time.Duration
}

// Collector turns run records into quality metrics.
type Collector struct {
	source   RunSource
	sink     MetricSink
	halfLife time.Duration
	now      func() time.Time
}

// New creates a Collector. A zero half-life defaults to 24h.
func New(source RunSource, sink MetricSink, cfg Config) *Collector {
	if cfg.DecayHalfLife <= 0 {
		cfg.DecayHalfLife = 24 * time.Hour
	}
	return &Collector{
		source:   source,
		sink:     sink,
		halfLife: cfg.DecayHalfLife,
		now:      time.Now,
	}
}

// Collect fetches runs in [windowStart, windowEnd) and aggregates them into
// one QualityMetric per (model, spectrum) pair seen in the window. Pairs
// with no scored runs produce no metric. Collected metrics are appended to
// the sink before returning.
func (c *Collector) Collect(ctx context.Context, windowStart, windowEnd time.Time) (map[types.PairKey]types.QualityMetric, error) {
	timer := logging.StartTimer(logging.CategoryCollector, "collect")
	defer timer.Stop()

	runs, err := c.source.ListAllRuns(ctx, obs.RunFilter{
		Start: windowStart,
		End:   windowEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	type accum struct {
		weightedSum float64
		weightTotal float64
		samples     int
	}
	acc := make(map[types.PairKey]*accum)

	for _, run := range runs {
		if !run.HasScore || run.ModelID == "" || run.SpectrumID == "" {
			continue
		}
		key := types.PairKey{ModelID: run.ModelID, SpectrumID: run.SpectrumID}
		a := acc[key]
		if a == nil {
			a = &accum{}
			acc[key] = a
		}
		w := c.weight(run.StartTime, windowEnd)
		a.weightedSum += run.Score * w
		a.weightTotal += w
		a.samples++
	}

	recorded := c.now()
	metrics := make(map[types.PairKey]types.QualityMetric, len(acc))
	batch := make([]types.QualityMetric, 0, len(acc))
	for key, a := range acc {
		if a.weightTotal == 0 {
			continue
		}
		m := types.QualityMetric{
			ModelID:     key.ModelID,
			SpectrumID:  key.SpectrumID,
			Score:       a.weightedSum / a.weightTotal,
			SampleCount: a.samples,
			Timestamp:   recorded,
		}
		metrics[key] = m
		batch = append(batch, m)
	}

	if len(batch) > 0 {
		if err := c.sink.AppendMetrics(batch); err != nil {
			return nil, fmt.Errorf("failed to persist metrics: %w", err)
		}
	}

	logging.Collector("Collected %d metrics from %d runs in window [%s, %s)",
		len(metrics), len(runs),
		windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	return metrics, nil
}

// weight computes the exponential-decay weight of a run relative to the
// window end: 0.5^(age/halfLife). Runs at the window end weigh 1.0; runs
// one half-life old weigh 0.5.
func (c *Collector) weight(runTime, windowEnd time.Time) float64 {
	age := windowEnd.Sub(runTime)
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, age.Hours()/c.halfLife.Hours())
}
