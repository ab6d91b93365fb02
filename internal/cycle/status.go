package cycle

import (
	"math"
	"time"

	"vcycle/internal/types"
)

// StatusMetrics are the loop activity counters surfaced to the dashboard.
type StatusMetrics struct {
	TracesProcessed        int64     `json:"traces_processed"`
	QualityChecks          int64     `json:"quality_checks"`
	OptimizationsTriggered int64     `json:"optimizations_triggered"`
	ImprovementsDeployed   int64     `json:"improvements_deployed"`
	CurrentQuality         float64   `json:"current_quality"`
	LastUpdate             time.Time `json:"last_update"`
}

// Status is a best-effort snapshot of the loop. Always constructible, even
// when the observability platform is down; staleness shows in LastUpdate.
type Status struct {
	MonitoringActive       bool             `json:"monitoring_active"`
	ObservabilityAvailable bool             `json:"observability_available"`
	Phase                  types.CyclePhase `json:"phase"`
	CooldownRemaining      string           `json:"cooldown_remaining,omitempty"`
	Metrics                StatusMetrics    `json:"metrics"`
	ComponentStatus        map[string]bool  `json:"component_status"`
	Alerts                 []types.Alert    `json:"alerts,omitempty"`
}

// Status returns the current loop snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	phase := o.phase
	running := o.running
	rem := time.Until(o.cooldownUntil)
	alerts := append([]types.Alert(nil), o.alerts...)
	o.mu.Unlock()

	st := Status{
		MonitoringActive:       true,
		ObservabilityAvailable: o.obsAvailable.Load(),
		Phase:                  phase,
		Metrics: StatusMetrics{
			TracesProcessed:        o.tracesProcessed.Load(),
			QualityChecks:          o.qualityChecks.Load(),
			OptimizationsTriggered: o.triggered.Load(),
			ImprovementsDeployed:   o.deployed.Load(),
			CurrentQuality:         math.Float64frombits(o.currentQuality.Load()),
			LastUpdate:             time.Unix(0, o.lastUpdate.Load()),
		},
		ComponentStatus: map[string]bool{
			"observability": o.obsAvailable.Load(),
			"collector":     o.deps.Collector != nil,
			"analyzer":      o.deps.Analyzer != nil,
			"forecaster":    o.deps.Forecaster != nil,
			"selector":      o.deps.Selector != nil,
			"experiments":   o.deps.Experiments != nil,
			"store":         o.deps.Store != nil,
		},
		Alerts: alerts,
	}
	if !running && rem > 0 {
		st.CooldownRemaining = formatRemaining(rem)
	}
	return st
}

// recordQuality updates the current-quality gauge with the mean score of
// the freshest collection.
func (o *Orchestrator) recordQuality(metrics map[types.PairKey]types.QualityMetric) {
	if len(metrics) == 0 {
		return
	}
	var sum float64
	for _, m := range metrics {
		sum += m.Score
	}
	q := sum / float64(len(metrics))
	o.currentQuality.Store(math.Float64bits(q))
	currentQuality.Set(q)
	o.lastUpdate.Store(time.Now().UnixNano())
}
