package obs

import (
	"time"

	"vcycle/internal/types"
)

// RunFilter narrows run queries.
type RunFilter struct {
	ModelID    string    `json:"model_id,omitempty"`
	SpectrumID string    `json:"spectrum_id,omitempty"`
	Start      time.Time `json:"start_time,omitempty"`
	End        time.Time `json:"end_time,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
}

// RunPage is one page of a paginated run listing.
type RunPage struct {
	Runs       []types.RunRecord `json:"runs"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// RunStats is a server-side aggregation of runs.
type RunStats struct {
	GroupBy string               `json:"group_by,omitempty"`
	Groups  map[string]StatGroup `json:"groups"`
}

// StatGroup is one aggregation bucket.
type StatGroup struct {
	Count     int     `json:"count"`
	MeanScore float64 `json:"mean_score"`
}

// FeedbackPayload is the body for feedback creation.
type FeedbackPayload struct {
	Score      float64 `json:"score"`
	Comment    string  `json:"comment,omitempty"`
	Correction string  `json:"correction,omitempty"`
	Source     string  `json:"source"` // "autonomous" for loop-generated feedback
}

// Dataset is a named example collection on the platform.
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Example is one dataset entry.
type Example struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// ExportStatus enumerates bulk-export job states.
type ExportStatus string

const (
	ExportPending   ExportStatus = "pending"
	ExportRunning   ExportStatus = "running"
	ExportCompleted ExportStatus = "completed"
	ExportFailed    ExportStatus = "failed"
)

// ExportJob is the async handle returned by BulkExport and refreshed by
// PollExport. Polled on a low-frequency timer, never on the cycle path.
type ExportJob struct {
	ID          string       `json:"id"`
	Status      ExportStatus `json:"status"`
	DownloadURL string       `json:"download_url,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// AnnotationItem is a run queued for human review.
type AnnotationItem struct {
	RunID    string `json:"run_id"`
	Queue    string `json:"queue"`
	Priority int    `json:"priority,omitempty"`
	Note     string `json:"note,omitempty"`
}
