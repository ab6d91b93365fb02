// Package cycle is the orchestrator of the quality-optimization loop. One
// logical owner drives the state machine
//
//	idle → collecting → analyzing → deciding → experimenting → validating
//	     → {deployed | rolled_back | aborted} → cooldown → idle
//
// At most one cycle is in flight at any instant; scheduled ticks and manual
// triggers funnel through the same single-flight check, and triggers during
// cooldown are rejected with the exact remaining time.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vcycle/internal/experiment"
	"vcycle/internal/forecast"
	"vcycle/internal/logging"
	"vcycle/internal/obs"
	"vcycle/internal/selector"
	"vcycle/internal/store"
	"vcycle/internal/types"
)

// Collector produces quality metrics for a time window.
type Collector interface {
	Collect(ctx context.Context, windowStart, windowEnd time.Time) (map[types.PairKey]types.QualityMetric, error)
}

// Analyzer detects regressions between two metric windows.
type Analyzer interface {
	Analyze(baseline, current map[types.PairKey]types.QualityMetric) []types.RegressionFinding
}

// Forecaster projects series and turns risky projections into alerts.
type Forecaster interface {
	Project(key types.PairKey, series []types.QualityMetric, threshold float64) (*forecast.Forecast, error)
	Alert(fc *forecast.Forecast) *types.Alert
}

// Selector picks a strategy for a regression context and learns from
// cycle outcomes.
type Selector interface {
	SelectStrategy(ctx context.Context, contextDesc string) (*selector.Selection, error)
	RecordOutcome(strategyID string, succeeded bool) error
}

// ExperimentDriver runs one experiment to a terminal state. Blocks the
// cycle, not the process.
type ExperimentDriver interface {
	RunExperiment(ctx context.Context, strategy types.Strategy, models []string) (*types.Experiment, error)
}

// PatternSearcher retrieves learned patterns near a context. Optional.
type PatternSearcher interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Search(contextVec []float32, k int) ([]store.SimilarPattern, error)
}

// Deps are the orchestrator's injected capabilities.
type Deps struct {
	Store       *store.Store
	Collector   Collector
	Analyzer    Analyzer
	Forecaster  Forecaster
	Selector    Selector
	Experiments ExperimentDriver
	// Patterns is optional; when set, learned patterns near the
	// regression context inform strategy selection.
	Patterns PatternSearcher
	// Obs is optional; when set the bulk-export poller runs.
	Obs *obs.Client
}

// Config tunes the loop.
type Config struct {
	Cooldown           time.Duration // default 30m
	TickInterval       time.Duration // default 1h
	ExportPollInterval time.Duration // default 5m
	ValidationDelay    time.Duration // default 2m
	Window             time.Duration // collection window, default 24h
	WarningThreshold   float64       // forecast breach threshold, default 0.85
	TargetThreshold    float64       // validation bar, default 0.90
}

// Orchestrator owns cycle state. Construct with New, drive with Run, poke
// with Trigger.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu            sync.Mutex
	running       bool
	cooldownUntil time.Time
	phase         types.CyclePhase
	alerts        []types.Alert
	baseCtx       context.Context

	cancelRequested atomic.Bool

	exportMu   sync.Mutex
	exportJobs []string

	// Touched only from the cycle goroutine; single-flight makes that
	// exclusive.
	regressionDatasetID string

	tracesProcessed atomic.Int64
	qualityChecks   atomic.Int64
	triggered       atomic.Int64
	deployed        atomic.Int64
	obsAvailable    atomic.Bool
	lastUpdate      atomic.Int64  // unix nanos
	currentQuality  atomic.Uint64 // float64 bits

	wg sync.WaitGroup
}

// New creates an Orchestrator. Zero config fields get standard defaults.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.ExportPollInterval <= 0 {
		cfg.ExportPollInterval = 5 * time.Minute
	}
	if cfg.ValidationDelay <= 0 {
		cfg.ValidationDelay = 2 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.85
	}
	if cfg.TargetThreshold <= 0 {
		cfg.TargetThreshold = 0.90
	}
	o := &Orchestrator{deps: deps, cfg: cfg, phase: types.PhaseIdle}
	o.obsAvailable.Store(true)
	return o
}

// Run drives scheduled cycles and the export poller until ctx is done,
// then waits for any in-flight cycle to finish. A cycle left open by an
// earlier crash is adopted as aborted before the first tick.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	if stale, err := o.deps.Store.OpenCycle(); err != nil {
		return fmt.Errorf("failed to check for open cycle: %w", err)
	} else if stale != nil {
		stale.Phase = types.PhaseAborted
		stale.Decision = types.DecisionAborted
		stale.AbortReason = "orphaned by restart"
		stale.FinishedAt = time.Now()
		if err := o.deps.Store.UpdateCycle(*stale, "orphaned by restart"); err != nil {
			return fmt.Errorf("failed to close orphaned cycle: %w", err)
		}
		logging.Cycle("Adopted and aborted orphaned cycle %s", stale.ID)
	}

	if o.deps.Obs != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.pollExports(ctx)
		}()
	}

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	logging.Cycle("Loop running: tick=%s cooldown=%s", o.cfg.TickInterval, o.cfg.Cooldown)

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			res := o.Trigger(ctx, "scheduled tick")
			if !res.Success {
				logging.CycleDebug("Scheduled tick skipped: %s", res.Reason)
			}
		}
	}
}

// TriggerResult is the outcome of a trigger request.
type TriggerResult struct {
	Success   bool      `json:"success"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	CycleID   string    `json:"cycle_id,omitempty"`
}

// Trigger requests a cycle. Rejected while one is already in flight or
// while cooldown holds; the cooldown rejection reports the exact remaining
// time. On acceptance the cycle runs on its own goroutine and the call
// returns immediately. The cycle outlives the caller's context: a trigger
// from an HTTP handler must not die with the request. When the loop is
// running, the cycle is bounded by Run's context instead.
func (o *Orchestrator) Trigger(ctx context.Context, reason string) TriggerResult {
	now := time.Now()

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return TriggerResult{Success: false, Reason: "Optimization cycle already running", Timestamp: now}
	}
	if rem := o.cooldownUntil.Sub(now); rem > 0 {
		o.mu.Unlock()
		return TriggerResult{
			Success:   false,
			Reason:    fmt.Sprintf("Cooldown active, %s remaining", formatRemaining(rem)),
			Timestamp: now,
		}
	}
	o.running = true
	o.cancelRequested.Store(false)
	cctx := o.baseCtx
	o.mu.Unlock()
	if cctx == nil {
		cctx = context.WithoutCancel(ctx)
	}

	id := uuid.NewString()
	o.triggered.Add(1)
	cycleTriggers.Inc()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runCycle(cctx, id, reason)
	}()
	return TriggerResult{Success: true, Reason: "Optimization cycle started", Timestamp: now, CycleID: id}
}

// UpdateThresholds applies hot-reloaded quality thresholds. Takes effect
// from the next cycle.
func (o *Orchestrator) UpdateThresholds(warning, target float64) {
	o.mu.Lock()
	if warning > 0 {
		o.cfg.WarningThreshold = warning
	}
	if target > 0 {
		o.cfg.TargetThreshold = target
	}
	o.mu.Unlock()
	logging.Cycle("Thresholds updated: warning=%.2f target=%.2f", warning, target)
}

// RequestCancel asks the in-flight cycle to stop at its next state
// transition. The current network call is allowed to finish so no external
// write is left half-done.
func (o *Orchestrator) RequestCancel() {
	o.cancelRequested.Store(true)
}

// runCycle executes one full pass of the state machine.
func (o *Orchestrator) runCycle(ctx context.Context, id, reason string) {
	c := types.OptimizationCycle{
		ID:            id,
		StartedAt:     time.Now(),
		Phase:         types.PhaseCollecting,
		TriggerReason: reason,
	}
	o.setPhase(types.PhaseCollecting)
	if err := o.deps.Store.InsertCycle(c); err != nil {
		logging.Cycle("Failed to open cycle %s: %v", id, err)
		o.finish(&c)
		return
	}
	logging.Cycle("Cycle %s started: %s", id, reason)

	defer o.finish(&c)

	if o.deps.Collector == nil || o.deps.Analyzer == nil || o.deps.Forecaster == nil ||
		o.deps.Selector == nil || o.deps.Experiments == nil {
		o.abort(&c, "capabilities unavailable")
		return
	}

	// collecting
	baseline, current, ok := o.collect(ctx, &c)
	if !ok {
		return
	}
	if !o.transition(&c, types.PhaseAnalyzing, fmt.Sprintf("collected %d pairs", len(current))) {
		return
	}

	// analyzing: regression detection, forecasting and pattern search run
	// concurrently against the read-only snapshot, joined before deciding.
	findings, alerts, patterns, ok := o.analyze(ctx, &c, baseline, current)
	if !ok {
		return
	}
	o.setAlerts(alerts)
	if len(findings) == 0 && len(alerts) == 0 {
		o.abort(&c, "healthy, nothing to do")
		return
	}
	c.Findings = findings
	o.archiveRegressions(ctx, findings)
	if !o.transition(&c, types.PhaseDeciding,
		fmt.Sprintf("%d findings, %d proactive alerts", len(findings), len(alerts))) {
		return
	}

	// deciding
	sel, ok := o.decide(ctx, &c, findings, alerts, patterns)
	if !ok {
		return
	}
	c.StrategyID = sel.Strategy.ID
	if !o.transition(&c, types.PhaseExperimenting, "strategy "+sel.Strategy.ID) {
		return
	}

	// experimenting: blocks this cycle until the trial concludes.
	exp, verdict, ok := o.experiment(ctx, &c, sel.Strategy, findings)
	if !ok {
		return
	}
	c.ExperimentID = exp.ID
	if verdict != types.VerdictDeploy {
		o.abort(&c, fmt.Sprintf("experiment %s: verdict %s", exp.Status, verdict))
		return
	}

	// validating
	snapVer, ok := o.deploy(&c, sel.Strategy, exp)
	if !ok {
		return
	}
	c.SnapshotVer = snapVer
	if !o.transition(&c, types.PhaseValidating, fmt.Sprintf("deployed snapshot v%d", snapVer)) {
		return
	}
	o.validate(ctx, &c, current, findings, snapVer)
}

// collect runs the collecting phase. The baseline is the latest stored
// snapshot before this round's collection lands.
func (o *Orchestrator) collect(ctx context.Context, c *types.OptimizationCycle) (baseline, current map[types.PairKey]types.QualityMetric, ok bool) {
	baseline, err := o.deps.Store.LatestMetrics()
	if err != nil {
		o.abort(c, "failed to read baseline: "+err.Error())
		return nil, nil, false
	}

	end := time.Now()
	start := end.Add(-o.cfg.Window)
	current, err = o.deps.Collector.Collect(ctx, start, end)
	if err != nil {
		if obs.IsTransient(err) {
			o.obsAvailable.Store(false)
			o.abort(c, "observability platform unavailable: "+err.Error())
		} else {
			o.abort(c, "collection failed: "+err.Error())
		}
		return nil, nil, false
	}
	o.obsAvailable.Store(true)

	var samples int64
	for _, m := range current {
		samples += int64(m.SampleCount)
	}
	o.tracesProcessed.Add(samples)
	o.qualityChecks.Add(int64(len(current)))
	o.recordQuality(current)

	if len(current) == 0 {
		o.abort(c, "no data this round")
		return nil, nil, false
	}
	o.archiveWindow(ctx, c, start, end)
	return baseline, current, true
}

// analyze runs regression detection, forecasting and pattern search in
// parallel against the read-only snapshot.
func (o *Orchestrator) analyze(ctx context.Context, c *types.OptimizationCycle, baseline, current map[types.PairKey]types.QualityMetric) ([]types.RegressionFinding, []types.Alert, []store.SimilarPattern, bool) {
	var (
		findings []types.RegressionFinding
		alerts   []types.Alert
		patterns []store.SimilarPattern
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		findings = o.deps.Analyzer.Analyze(baseline, current)
		return nil
	})
	g.Go(func() error {
		for key := range current {
			series, err := o.deps.Store.Series(key, 90)
			if err != nil {
				return fmt.Errorf("failed to read series %s: %w", key, err)
			}
			fc, err := o.deps.Forecaster.Project(key, series, o.warningThreshold())
			if err != nil {
				// Short series is normal early on, not an error.
				logging.CycleDebug("No forecast for %s: %v", key, err)
				continue
			}
			if a := o.deps.Forecaster.Alert(fc); a != nil {
				alerts = append(alerts, *a)
			}
		}
		return nil
	})
	if o.deps.Patterns != nil {
		g.Go(func() error {
			// Pattern retrieval is advisory; failures never sink the
			// analysis.
			desc := worstPairDescription(current)
			vec, err := o.deps.Patterns.Embed(gctx, desc)
			if err != nil {
				logging.CycleDebug("Pattern embed failed: %v", err)
				return nil
			}
			found, err := o.deps.Patterns.Search(vec, 3)
			if err != nil {
				logging.CycleDebug("Pattern search failed: %v", err)
				return nil
			}
			patterns = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.abort(c, "analysis failed: "+err.Error())
		return nil, nil, nil, false
	}

	for _, f := range findings {
		if f.RootCause {
			alerts = append(alerts, types.Alert{
				Severity: types.SeverityError,
				Subject:  fmt.Sprintf("Quality regression: %s/%s", f.ModelID, f.SpectrumID),
				Description: fmt.Sprintf("Score dropped %.2f -> %.2f (delta %.2f, confidence %.2f)",
					f.BaselineScore, f.CurrentScore, f.Delta, f.Confidence),
				RaisedAt: time.Now(),
			})
		}
	}
	return findings, alerts, patterns, true
}

// decide picks a strategy for the worst finding or riskiest alert. The
// built-in monitor fallback means no viable strategy: abort, do not force
// a change.
func (o *Orchestrator) decide(ctx context.Context, c *types.OptimizationCycle, findings []types.RegressionFinding, alerts []types.Alert, patterns []store.SimilarPattern) (*selector.Selection, bool) {
	desc := contextDescription(findings, alerts)
	if len(patterns) > 0 {
		desc += "; known pattern: " + patterns[0].Pattern.Description
	}
	sel, err := o.deps.Selector.SelectStrategy(ctx, desc)
	if err != nil {
		o.abort(c, "strategy selection failed: "+err.Error())
		return nil, false
	}
	if sel.Strategy.ID == selector.NoopStrategyID {
		o.abort(c, "no viable strategy, monitoring only")
		return nil, false
	}
	return sel, true
}

func (o *Orchestrator) experiment(ctx context.Context, c *types.OptimizationCycle, strategy types.Strategy, findings []types.RegressionFinding) (*types.Experiment, types.Verdict, bool) {
	models := affectedModels(findings)
	exp, err := o.deps.Experiments.RunExperiment(ctx, strategy, models)
	if err != nil {
		if obs.IsTransient(err) {
			o.obsAvailable.Store(false)
		}
		o.abort(c, "experiment failed: "+err.Error())
		return nil, types.VerdictHold, false
	}
	return exp, experiment.Verdict(exp), true
}

// deploy snapshots the winning configuration. The snapshot starts
// unmarked; validation promotes it to known-good.
func (o *Orchestrator) deploy(c *types.OptimizationCycle, strategy types.Strategy, exp *types.Experiment) (int64, bool) {
	payload, _ := json.Marshal(map[string]any{
		"strategy_id": strategy.ID,
		"description": strategy.Description,
		"experiment":  exp.ID,
		"variant":     exp.VariantB,
	})
	ver, err := o.deps.Store.SaveSnapshot(string(payload), false)
	if err != nil {
		o.abort(c, "failed to snapshot deployment: "+err.Error())
		return 0, false
	}
	return ver, true
}

// validate re-measures quality after the deployment and settles the cycle:
// confirmed improvement marks the snapshot good, measured regression rolls
// back to the last known-good snapshot.
func (o *Orchestrator) validate(ctx context.Context, c *types.OptimizationCycle, preDeploy map[types.PairKey]types.QualityMetric, findings []types.RegressionFinding, snapVer int64) {
	defer func() {
		o.reportOutcome(ctx, c, findings, c.Decision == types.DecisionDeployed)
	}()

	select {
	case <-ctx.Done():
		o.rollback(c, "cancelled during validation")
		return
	case <-time.After(o.cfg.ValidationDelay):
	}

	end := time.Now()
	after, err := o.deps.Collector.Collect(ctx, end.Add(-o.cfg.ValidationDelay), end)
	if err != nil {
		o.rollback(c, "validation re-measurement failed: "+err.Error())
		return
	}
	o.recordQuality(after)

	if improved(preDeploy, after, findings) {
		if err := o.deps.Store.MarkSnapshotGood(snapVer); err != nil {
			o.rollback(c, "failed to mark snapshot good: "+err.Error())
			return
		}
		c.Phase = types.PhaseDeployed
		c.Decision = types.DecisionDeployed
		c.FinishedAt = time.Now()
		o.setPhase(types.PhaseDeployed)
		o.deployed.Add(1)
		if err := o.deps.Selector.RecordOutcome(c.StrategyID, true); err != nil {
			logging.Cycle("Failed to record strategy outcome: %v", err)
		}
		if err := o.deps.Store.UpdateCycle(*c, "improvement confirmed"); err != nil {
			logging.Cycle("Failed to persist deployed cycle %s: %v", c.ID, err)
		}
		logging.Cycle("Cycle %s deployed snapshot v%d", c.ID, snapVer)
		return
	}
	o.rollback(c, "validation measured a regression")
}

// rollback restores the last known-good snapshot and closes the cycle as
// rolled back. Idempotent: when the newest snapshot is already the good
// one there is nothing to restore.
func (o *Orchestrator) rollback(c *types.OptimizationCycle, reason string) {
	if err := o.RestoreLastGood(); err != nil {
		// Rollback itself failing is an orchestrator-level error; the
		// cycle still closes, never left open.
		o.setAlerts(append(o.snapshotAlerts(), types.Alert{
			Severity:    types.SeverityError,
			Subject:     "Rollback failed",
			Description: err.Error(),
			RaisedAt:    time.Now(),
		}))
		logging.Cycle("Rollback failed for cycle %s: %v", c.ID, err)
	}
	if err := o.deps.Selector.RecordOutcome(c.StrategyID, false); err != nil {
		logging.CycleDebug("Failed to record strategy outcome: %v", err)
	}
	c.Phase = types.PhaseRolledBack
	c.Decision = types.DecisionRolledBack
	c.AbortReason = reason
	c.FinishedAt = time.Now()
	o.setPhase(types.PhaseRolledBack)
	if err := o.deps.Store.UpdateCycle(*c, "rolled back: "+reason); err != nil {
		logging.Cycle("Failed to persist rolled-back cycle %s: %v", c.ID, err)
	}
	logging.Cycle("Cycle %s rolled back: %s", c.ID, reason)
}

// RestoreLastGood reinstates the last known-good configuration snapshot.
// A no-op when the current snapshot is already good.
func (o *Orchestrator) RestoreLastGood() error {
	good, err := o.deps.Store.LastGoodSnapshot()
	if err != nil {
		return fmt.Errorf("failed to find last good snapshot: %w", err)
	}
	if good == nil {
		return nil
	}
	cur, err := o.deps.Store.CurrentSnapshot()
	if err != nil {
		return fmt.Errorf("failed to read current snapshot: %w", err)
	}
	if cur != nil && cur.Good {
		return nil
	}
	if _, err := o.deps.Store.SaveSnapshot(good.Payload, true); err != nil {
		return fmt.Errorf("failed to restore snapshot v%d: %w", good.Version, err)
	}
	logging.Cycle("Restored configuration from snapshot v%d", good.Version)
	return nil
}

// transition advances the cycle phase, persisting the audit event. Returns
// false when cancellation was requested; the cycle is then aborted.
func (o *Orchestrator) transition(c *types.OptimizationCycle, next types.CyclePhase, detail string) bool {
	if o.cancelRequested.Load() {
		o.abort(c, "cancelled")
		return false
	}
	c.Phase = next
	o.setPhase(next)
	if err := o.deps.Store.UpdateCycle(*c, detail); err != nil {
		logging.Cycle("Failed to persist transition to %s: %v", next, err)
	}
	logging.CycleDebug("Cycle %s -> %s: %s", c.ID, next, detail)
	return true
}

func (o *Orchestrator) abort(c *types.OptimizationCycle, reason string) {
	c.Phase = types.PhaseAborted
	c.Decision = types.DecisionAborted
	c.AbortReason = reason
	c.FinishedAt = time.Now()
	o.setPhase(types.PhaseAborted)
	if err := o.deps.Store.UpdateCycle(*c, "aborted: "+reason); err != nil {
		logging.Cycle("Failed to persist aborted cycle %s: %v", c.ID, err)
	}
	logging.Cycle("Cycle %s aborted: %s", c.ID, reason)
}

// finish releases the single-flight slot and arms the cooldown.
func (o *Orchestrator) finish(c *types.OptimizationCycle) {
	cycleOutcomes.WithLabelValues(string(c.Decision)).Inc()
	o.lastUpdate.Store(time.Now().UnixNano())

	until := time.Now().Add(o.cfg.Cooldown)
	o.mu.Lock()
	o.running = false
	o.cooldownUntil = until
	o.phase = types.PhaseCooldown
	o.mu.Unlock()
	logging.Cycle("Cycle %s finished (%s), cooldown until %s",
		c.ID, c.Decision, until.Format(time.RFC3339))
}

func (o *Orchestrator) warningThreshold() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.WarningThreshold
}

func (o *Orchestrator) setPhase(p types.CyclePhase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.lastUpdate.Store(time.Now().UnixNano())
}

func (o *Orchestrator) setAlerts(alerts []types.Alert) {
	o.mu.Lock()
	o.alerts = alerts
	o.mu.Unlock()
}

func (o *Orchestrator) snapshotAlerts() []types.Alert {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.Alert(nil), o.alerts...)
}

// improved checks whether every pair the cycle acted on measures at or
// above its pre-deployment score. Pairs with no fresh measurement do not
// fail validation on their own.
func improved(before, after map[types.PairKey]types.QualityMetric, findings []types.RegressionFinding) bool {
	for _, f := range findings {
		key := types.PairKey{ModelID: f.ModelID, SpectrumID: f.SpectrumID}
		cur, ok := after[key]
		if !ok {
			continue
		}
		prev, ok := before[key]
		if !ok {
			continue
		}
		if cur.Score < prev.Score {
			return false
		}
	}
	return true
}

func contextDescription(findings []types.RegressionFinding, alerts []types.Alert) string {
	for _, f := range findings {
		if f.RootCause {
			return fmt.Sprintf("quality regression in %s spectrum for model %s, score %.2f down from %.2f",
				f.SpectrumID, f.ModelID, f.CurrentScore, f.BaselineScore)
		}
	}
	if len(findings) > 0 {
		f := findings[0]
		return fmt.Sprintf("quality regression in %s spectrum for model %s", f.SpectrumID, f.ModelID)
	}
	return alerts[0].Subject
}

// worstPairDescription summarizes the lowest-scoring pair of the snapshot
// for pattern retrieval.
func worstPairDescription(current map[types.PairKey]types.QualityMetric) string {
	var worst *types.QualityMetric
	for key := range current {
		m := current[key]
		if worst == nil || m.Score < worst.Score {
			worst = &m
		}
	}
	if worst == nil {
		return "quality check"
	}
	return fmt.Sprintf("quality regression in %s spectrum for model %s, score %.2f",
		worst.SpectrumID, worst.ModelID, worst.Score)
}

func affectedModels(findings []types.RegressionFinding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range findings {
		if !seen[f.ModelID] {
			seen[f.ModelID] = true
			out = append(out, f.ModelID)
		}
	}
	return out
}

// formatRemaining renders a duration as H:MM:SS, e.g. "0:25:00".
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
