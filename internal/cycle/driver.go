package cycle

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"vcycle/internal/experiment"
	"vcycle/internal/logging"
	"vcycle/internal/obs"
	"vcycle/internal/types"
)

// RunSource is the slice of the observability client the driver needs.
type RunSource interface {
	ListAllRuns(ctx context.Context, filter obs.RunFilter) ([]types.RunRecord, error)
}

// RunDriver feeds an experiment from live runs: each fresh run on a target
// model is assigned to an arm by a stable hash of its ID, counted as a
// success when its score clears the target threshold, and the trial is
// re-evaluated after every poll.
type RunDriver struct {
	engine   *experiment.Engine
	runs     RunSource
	interval time.Duration
	target   float64
}

// NewRunDriver creates a RunDriver. A zero interval polls every minute.
func NewRunDriver(engine *experiment.Engine, runs RunSource, interval time.Duration, target float64) *RunDriver {
	if interval <= 0 {
		interval = time.Minute
	}
	if target <= 0 {
		target = 0.90
	}
	return &RunDriver{engine: engine, runs: runs, interval: interval, target: target}
}

// RunExperiment opens a trial of the current configuration against the
// strategy's candidate and blocks until it concludes or ctx is cancelled.
func (d *RunDriver) RunExperiment(ctx context.Context, strategy types.Strategy, models []string) (*types.Experiment, error) {
	exp, err := d.engine.Start("baseline", strategy.Description, models)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	since := exp.StartedAt
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		for _, model := range models {
			runs, err := d.runs.ListAllRuns(ctx, obs.RunFilter{ModelID: model, Start: since})
			if err != nil {
				if obs.IsTransient(err) {
					// No data this round; the trial keeps waiting.
					logging.ExperimentDebug("Poll skipped for %s: %v", model, err)
					continue
				}
				return nil, fmt.Errorf("failed to poll runs for %s: %w", model, err)
			}
			for _, r := range runs {
				if seen[r.ID] || !r.HasScore {
					continue
				}
				seen[r.ID] = true
				if err := d.engine.Record(exp, armB(r.ID), r.Score >= d.target); err != nil {
					return nil, err
				}
			}
		}

		status, err := d.engine.Evaluate(exp)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return exp, nil
		}
	}
}

// armB assigns a run to the candidate arm by hash parity, a stable 50/50
// split independent of arrival order.
func armB(runID string) bool {
	h := fnv.New32a()
	h.Write([]byte(runID))
	return h.Sum32()%2 == 1
}
