package cycle

import (
	"context"
	"time"

	"vcycle/internal/logging"
	"vcycle/internal/obs"
)

// Bulk-export jobs are fire-and-forget handles checked on their own
// low-frequency timer, never on the cycle path.

// TrackExport registers a bulk-export job for background polling.
func (o *Orchestrator) TrackExport(jobID string) {
	o.exportMu.Lock()
	o.exportJobs = append(o.exportJobs, jobID)
	o.exportMu.Unlock()
}

func (o *Orchestrator) pollExports(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ExportPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.exportMu.Lock()
		pending := append([]string(nil), o.exportJobs...)
		o.exportMu.Unlock()

		var remaining []string
		for _, id := range pending {
			job, err := o.deps.Obs.PollExport(ctx, id)
			if err != nil {
				logging.CycleDebug("Export poll %s failed: %v", id, err)
				remaining = append(remaining, id)
				continue
			}
			exportJobsPolled.WithLabelValues(string(job.Status)).Inc()
			switch job.Status {
			case obs.ExportCompleted:
				logging.Cycle("Export %s completed: %s", id, job.DownloadURL)
			case obs.ExportFailed:
				logging.Cycle("Export %s failed", id)
			default:
				remaining = append(remaining, id)
			}
		}

		o.exportMu.Lock()
		o.exportJobs = remaining
		o.exportMu.Unlock()
	}
}
