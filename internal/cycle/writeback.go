package cycle

import (
	"context"
	"fmt"
	"time"

	"vcycle/internal/logging"
	"vcycle/internal/obs"
	"vcycle/internal/types"
)

// Write-back closes the loop with the platform: the collection window is
// archived as a bulk export, detected regressions land in a replay dataset,
// and every settled cycle reports its outcome as feedback on the runs it
// acted on. All of it is best-effort; a write-back failure never changes a
// cycle's decision.

const (
	feedbackSource = "autonomous"
	reviewQueue    = "quality-review"
	datasetName    = "vcycle-regressions"
)

// archiveWindow registers a bulk export of the collection window so the
// evidence behind a cycle stays retrievable past platform retention. The
// job handle is polled by the background export poller.
func (o *Orchestrator) archiveWindow(ctx context.Context, c *types.OptimizationCycle, start, end time.Time) {
	if o.deps.Obs == nil {
		return
	}
	job, err := o.deps.Obs.BulkExport(ctx, obs.RunFilter{Start: start, End: end})
	if err != nil {
		logging.CycleDebug("Window archive skipped for cycle %s: %v", c.ID, err)
		return
	}
	o.TrackExport(job.ID)
	logging.Cycle("Cycle %s archiving window as export %s", c.ID, job.ID)
}

// archiveRegressions appends the cycle's findings to the regression replay
// dataset. The dataset is created on first use and its ID cached for the
// process lifetime.
func (o *Orchestrator) archiveRegressions(ctx context.Context, findings []types.RegressionFinding) {
	if o.deps.Obs == nil || len(findings) == 0 {
		return
	}
	if o.regressionDatasetID == "" {
		id, err := o.findOrCreateDataset(ctx)
		if err != nil {
			logging.CycleDebug("Regression archive skipped: %v", err)
			return
		}
		o.regressionDatasetID = id
	}

	examples := make([]obs.Example, 0, len(findings))
	for _, f := range findings {
		examples = append(examples, obs.Example{
			Input:    fmt.Sprintf("%s/%s", f.ModelID, f.SpectrumID),
			Expected: fmt.Sprintf("score >= %.2f", f.BaselineScore),
		})
	}
	if err := o.deps.Obs.AddExamples(ctx, o.regressionDatasetID, examples); err != nil {
		logging.Cycle("Failed to archive %d regressions: %v", len(examples), err)
	}
}

func (o *Orchestrator) findOrCreateDataset(ctx context.Context) (string, error) {
	sets, err := o.deps.Obs.ListDatasets(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range sets {
		if d.Name == datasetName {
			return d.ID, nil
		}
	}
	created, err := o.deps.Obs.CreateDataset(ctx, datasetName,
		"Regressions detected by the quality-optimization loop")
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// reportOutcome writes the settled decision back as feedback on recent runs
// of the root-cause pair, and queues the worst run for human review when
// the change was rolled back.
func (o *Orchestrator) reportOutcome(ctx context.Context, c *types.OptimizationCycle, findings []types.RegressionFinding, deployed bool) {
	if o.deps.Obs == nil || len(findings) == 0 {
		return
	}
	root := findings[0]
	for _, f := range findings {
		if f.RootCause {
			root = f
			break
		}
	}

	page, err := o.deps.Obs.ListRuns(ctx, obs.RunFilter{
		ModelID:    root.ModelID,
		SpectrumID: root.SpectrumID,
		Limit:      5,
	})
	if err != nil {
		logging.CycleDebug("Outcome write-back skipped for cycle %s: %v", c.ID, err)
		return
	}

	score := 0.0
	comment := fmt.Sprintf("optimization cycle %s rolled back: %s", c.ID, c.AbortReason)
	if deployed {
		score = 1.0
		comment = fmt.Sprintf("optimization cycle %s deployed strategy %s", c.ID, c.StrategyID)
	}
	for _, run := range page.Runs {
		payload := obs.FeedbackPayload{Score: score, Comment: comment, Source: feedbackSource}
		if _, err := o.deps.Obs.CreateFeedback(ctx, run.ID, payload); err != nil {
			logging.Cycle("Failed to write feedback on run %s: %v", run.ID, err)
		}
	}

	if !deployed && len(page.Runs) > 0 {
		item := obs.AnnotationItem{
			RunID:    page.Runs[0].ID,
			Queue:    reviewQueue,
			Priority: 1,
			Note:     comment,
		}
		if err := o.deps.Obs.EnqueueAnnotation(ctx, item); err != nil {
			logging.Cycle("Failed to queue run %s for review: %v", item.RunID, err)
		}
	}
}
