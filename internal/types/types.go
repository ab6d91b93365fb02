// Package types holds the shared data model of the quality-optimization
// loop. These structs cross package boundaries (store, capabilities,
// orchestrator, API) and carry no behavior beyond small helpers.
package types

import (
	"fmt"
	"time"
)

// QualityMetric is one aggregated quality observation for a (model,
// spectrum) pair. Immutable once recorded; the collector appends, nothing
// mutates history.
type QualityMetric struct {
	ModelID     string    `json:"model_id"`
	SpectrumID  string    `json:"spectrum_id"`
	Score       float64   `json:"score"` // in [0,1]
	SampleCount int       `json:"sample_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// PairKey identifies a (model, spectrum) pair.
type PairKey struct {
	ModelID    string
	SpectrumID string
}

// String renders the pair as "model/spectrum".
func (k PairKey) String() string {
	return k.ModelID + "/" + k.SpectrumID
}

// Key returns the metric's pair key.
func (m QualityMetric) Key() PairKey {
	return PairKey{ModelID: m.ModelID, SpectrumID: m.SpectrumID}
}

// RegressionFinding flags a statistically meaningful quality drop for one
// (model, spectrum) pair. Findings below the minimum sample threshold are
// suppressed at the analyzer, never emitted.
type RegressionFinding struct {
	ModelID       string    `json:"model_id"`
	SpectrumID    string    `json:"spectrum_id"`
	BaselineScore float64   `json:"baseline_score"`
	CurrentScore  float64   `json:"current_score"`
	Delta         float64   `json:"delta"`
	Confidence    float64   `json:"confidence"`
	RootCause     bool      `json:"root_cause"` // largest isolated delta this round
	DetectedAt    time.Time `json:"detected_at"`
}

// ExperimentStatus is the A/B engine state machine position.
type ExperimentStatus string

const (
	ExperimentRunning      ExperimentStatus = "running"
	ExperimentSignificant  ExperimentStatus = "significant"
	ExperimentInconclusive ExperimentStatus = "inconclusive"
	ExperimentExpired      ExperimentStatus = "expired"
)

// Terminal reports whether the status is a terminal state.
func (s ExperimentStatus) Terminal() bool {
	switch s {
	case ExperimentSignificant, ExperimentInconclusive, ExperimentExpired:
		return true
	}
	return false
}

// Verdict is the deploy decision derived from a terminal experiment.
type Verdict string

const (
	VerdictDeploy Verdict = "deploy"
	VerdictHold   Verdict = "hold"
	VerdictReject Verdict = "reject"
)

// Experiment is a paired variant trial. Created by the orchestrator,
// mutated only by the experiment engine.
type Experiment struct {
	ID           string           `json:"id"`
	VariantA     string           `json:"variant_a"`
	VariantB     string           `json:"variant_b"`
	TargetModels []string         `json:"target_models"`
	Status       ExperimentStatus `json:"status"`
	SamplesA     int              `json:"samples_a"`
	SamplesB     int              `json:"samples_b"`
	SuccessesA   int              `json:"successes_a"`
	SuccessesB   int              `json:"successes_b"`
	EffectSize   float64          `json:"effect_size"` // rate(B) - rate(A)
	PValue       float64          `json:"p_value"`
	StartedAt    time.Time        `json:"started_at"`
	ConcludedAt  time.Time        `json:"concluded_at,omitempty"`
}

// FeedbackOutcome labels how a human disposed of a response.
type FeedbackOutcome string

const (
	OutcomeAccepted  FeedbackOutcome = "accepted"
	OutcomeCorrected FeedbackOutcome = "corrected"
	OutcomeRejected  FeedbackOutcome = "rejected"
)

// FeedbackRecord is a human correction/outcome label for one run. Created
// externally, consumed once by the pattern learner.
type FeedbackRecord struct {
	RunID          string          `json:"run_id"`
	CorrectionText string          `json:"correction_text"`
	Outcome        FeedbackOutcome `json:"outcome"`
	Context        string          `json:"context,omitempty"` // query/spectrum context of the run
	PatternIDs     []string        `json:"extracted_pattern_ids,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Pattern is an indexed, reusable description of a condition that
// historically led to success or failure. Never deleted, only reinforced.
type Pattern struct {
	ID           string    `json:"id"`
	Embedding    []float32 `json:"-"`
	Description  string    `json:"description"`
	Signature    string    `json:"signature"`         // content signature used for dedup
	Context      string    `json:"context,omitempty"` // spectrum scope the feedback arrived in
	SourceIDs    []string  `json:"source_feedback_ids"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NetScore is the tie-break score for similarity-equal patterns.
func (p Pattern) NetScore() int {
	return p.SuccessCount - p.FailureCount
}

// Strategy is a candidate optimization the selector can choose.
type Strategy struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	ContextSig    string    `json:"applicable_context_signature"`
	Effectiveness float64   `json:"historical_effectiveness"` // in [0,1]
	PatternRefs   []string  `json:"pattern_refs,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CyclePhase is the orchestrator state machine position.
type CyclePhase string

const (
	PhaseIdle          CyclePhase = "idle"
	PhaseCollecting    CyclePhase = "collecting"
	PhaseAnalyzing     CyclePhase = "analyzing"
	PhaseDeciding      CyclePhase = "deciding"
	PhaseExperimenting CyclePhase = "experimenting"
	PhaseValidating    CyclePhase = "validating"
	PhaseDeployed      CyclePhase = "deployed"
	PhaseRolledBack    CyclePhase = "rolled_back"
	PhaseAborted       CyclePhase = "aborted"
	PhaseCooldown      CyclePhase = "cooldown"
)

// Terminal reports whether the phase ends a cycle. Cooldown follows a
// terminal phase but belongs to the orchestrator, not to any open cycle.
func (p CyclePhase) Terminal() bool {
	switch p {
	case PhaseDeployed, PhaseRolledBack, PhaseAborted:
		return true
	}
	return false
}

// CycleDecision is the recorded outcome of a finished cycle.
type CycleDecision string

const (
	DecisionDeployed   CycleDecision = "deployed"
	DecisionRolledBack CycleDecision = "rolled_back"
	DecisionAborted    CycleDecision = "aborted"
)

// OptimizationCycle is one full pass of the orchestrator, from trigger to
// terminal decision. Owned exclusively by the orchestrator; at most one is
// non-terminal at any time.
type OptimizationCycle struct {
	ID            string              `json:"id"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at,omitempty"`
	Phase         CyclePhase          `json:"phase"`
	TriggerReason string              `json:"trigger_reason"`
	Findings      []RegressionFinding `json:"triggering_findings,omitempty"`
	StrategyID    string              `json:"chosen_strategy,omitempty"`
	ExperimentID  string              `json:"experiment_ref,omitempty"`
	Decision      CycleDecision       `json:"decision,omitempty"`
	AbortReason   string              `json:"abort_reason,omitempty"`
	SnapshotVer   int64               `json:"previous_good_state_ref,omitempty"`
}

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityError   AlertSeverity = "error"
)

// Alert is a derived, ephemeral notification surfaced to the status API.
// Alerts are not a persisted source of truth.
type Alert struct {
	Severity    AlertSeverity `json:"severity"`
	Subject     string        `json:"subject"`
	Description string        `json:"description"`
	Actions     []string      `json:"recommended_actions,omitempty"`
	ETA         string        `json:"eta_estimate,omitempty"`
	RaisedAt    time.Time     `json:"raised_at"`
}

// RunRecord is one traced LLM run as returned by the observability
// platform. Only the fields the loop consumes are modeled.
type RunRecord struct {
	ID         string    `json:"id"`
	ModelID    string    `json:"model_id"`
	SpectrumID string    `json:"spectrum_id"`
	Score      float64   `json:"score"` // outcome score in [0,1]
	HasScore   bool      `json:"has_score"`
	StartTime  time.Time `json:"start_time"`
}

// Validate checks score range on a metric before it is appended.
func (m QualityMetric) Validate() error {
	if m.Score < 0 || m.Score > 1 {
		return fmt.Errorf("quality score %v out of [0,1]", m.Score)
	}
	if m.ModelID == "" || m.SpectrumID == "" {
		return fmt.Errorf("metric missing model or spectrum id")
	}
	if m.SampleCount < 0 {
		return fmt.Errorf("negative sample count %d", m.SampleCount)
	}
	return nil
}
