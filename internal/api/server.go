// Package api is the HTTP surface consumed by the dashboard. The status
// endpoint always answers with the best-effort snapshot it has; staleness
// shows as an old last_update, never as a 5xx.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"vcycle/internal/cycle"
	"vcycle/internal/learner"
	"vcycle/internal/logging"
	"vcycle/internal/store"
	"vcycle/internal/types"
)

// Config tunes the server.
type Config struct {
	QualityThreshold float64 // surfaced to the dashboard
}

// Server wires the HTTP routes to the orchestrator.
type Server struct {
	orch    *cycle.Orchestrator
	store   *store.Store
	learner *learner.Learner
	cfg     Config
	status  singleflight.Group
}

// New creates a Server. The learner may be nil; feedback ingestion then
// answers 503.
func New(orch *cycle.Orchestrator, st *store.Store, l *learner.Learner, cfg Config) *Server {
	return &Server{orch: orch, store: st, learner: l, cfg: cfg}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/v1/virtuous-cycle/status", s.handleStatus)
	r.POST("/v1/virtuous-cycle/trigger", s.handleTrigger)
	r.GET("/health/autonomous", s.handleHealth)
	r.GET("/metrics/autonomous", gin.WrapH(promhttp.Handler()))
	r.POST("/autonomous/optimize", s.handleTrigger)
	r.POST("/v1/feedback", s.handleFeedback)
	return r
}

// statusResponse is the dashboard contract for the status endpoint.
type statusResponse struct {
	MonitoringActive       bool                `json:"monitoring_active"`
	ObservabilityAvailable bool                `json:"observability_available"`
	FrameworksAvailable    bool                `json:"frameworks_available"`
	QualityThreshold       float64             `json:"quality_threshold"`
	Phase                  string              `json:"phase"`
	CooldownRemaining      string              `json:"cooldown_remaining,omitempty"`
	Metrics                cycle.StatusMetrics `json:"metrics"`
	ComponentStatus        map[string]bool     `json:"component_status"`
	Alerts                 any                 `json:"alerts,omitempty"`
	CycleStats             store.CycleStats    `json:"cycle_stats"`
}

// handleStatus assembles the snapshot. Concurrent dashboard polls share one
// assembly through singleflight.
func (s *Server) handleStatus(c *gin.Context) {
	v, _, _ := s.status.Do("status", func() (any, error) {
		st := s.orch.Status()
		resp := statusResponse{
			MonitoringActive:       st.MonitoringActive,
			ObservabilityAvailable: st.ObservabilityAvailable,
			FrameworksAvailable:    allTrue(st.ComponentStatus),
			QualityThreshold:       s.cfg.QualityThreshold,
			Phase:                  string(st.Phase),
			CooldownRemaining:      st.CooldownRemaining,
			Metrics:                st.Metrics,
			ComponentStatus:        st.ComponentStatus,
		}
		if len(st.Alerts) > 0 {
			resp.Alerts = st.Alerts
		}
		// Stats are best-effort; a store hiccup must not break the
		// dashboard.
		if stats, err := s.store.Stats(); err == nil {
			resp.CycleStats = stats
		} else {
			logging.API("Status stats degraded: %v", err)
		}
		return resp, nil
	})
	c.JSON(http.StatusOK, v)
}

type triggerRequest struct {
	Reason string `json:"reason"`
}

type triggerResponse struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
	CycleID   string `json:"cycle_id,omitempty"`
}

func (s *Server) handleTrigger(c *gin.Context) {
	var req triggerRequest
	// The dashboard sends bare POSTs; an empty or malformed body still
	// triggers with a default reason.
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual trigger"
	}

	res := s.orch.Trigger(c.Request.Context(), req.Reason)
	logging.API("Trigger %q: success=%v %s", req.Reason, res.Success, res.Reason)
	c.JSON(http.StatusOK, triggerResponse{
		Success:   res.Success,
		Reason:    res.Reason,
		Timestamp: res.Timestamp.UTC().Format(time.RFC3339),
		CycleID:   res.CycleID,
	})
}

type feedbackRequest struct {
	RunID      string `json:"run_id" binding:"required"`
	Correction string `json:"correction" binding:"required"`
	Outcome    string `json:"outcome"`
	Context    string `json:"context"`
}

// handleFeedback turns a human correction into learned patterns.
func (s *Server) handleFeedback(c *gin.Context) {
	if s.learner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pattern learning unavailable"})
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome := types.FeedbackOutcome(req.Outcome)
	switch outcome {
	case types.OutcomeAccepted, types.OutcomeCorrected, types.OutcomeRejected:
	case "":
		outcome = types.OutcomeCorrected
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome " + req.Outcome})
		return
	}

	patterns, err := s.learner.Ingest(c.Request.Context(), types.FeedbackRecord{
		RunID:          req.RunID,
		CorrectionText: req.Correction,
		Outcome:        outcome,
		Context:        req.Context,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		logging.API("Feedback ingest failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest feedback"})
		return
	}
	ids := make([]string, 0, len(patterns))
	for _, p := range patterns {
		ids = append(ids, p.ID)
	}
	c.JSON(http.StatusOK, gin.H{"patterns": ids})
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.orch.Status()
	code := http.StatusOK
	if !st.ObservabilityAvailable {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy":       st.ObservabilityAvailable,
		"phase":         st.Phase,
		"last_update":   st.Metrics.LastUpdate,
		"observability": st.ObservabilityAvailable,
	})
}

func allTrue(m map[string]bool) bool {
	for _, v := range m {
		if !v {
			return false
		}
	}
	return len(m) > 0
}
