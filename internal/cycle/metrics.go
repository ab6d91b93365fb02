package cycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cycleTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcycle_cycle_triggers_total",
		Help: "Accepted optimization cycle triggers.",
	})
	cycleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcycle_cycle_outcomes_total",
		Help: "Finished cycles by decision.",
	}, []string{"decision"})
	currentQuality = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcycle_current_quality",
		Help: "Mean quality score of the freshest collection.",
	})
	exportJobsPolled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcycle_export_polls_total",
		Help: "Bulk-export job polls by resulting status.",
	}, []string{"status"})
)
