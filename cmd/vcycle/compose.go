package main

import (
	"fmt"
	"time"

	"vcycle/internal/analyzer"
	"vcycle/internal/api"
	"vcycle/internal/collector"
	"vcycle/internal/config"
	"vcycle/internal/cycle"
	"vcycle/internal/embedding"
	"vcycle/internal/experiment"
	"vcycle/internal/forecast"
	"vcycle/internal/learner"
	"vcycle/internal/logging"
	"vcycle/internal/obs"
	"vcycle/internal/selector"
	"vcycle/internal/store"
)

// App is the composed system: one store, one shared observability client,
// one orchestrator owning cycle state.
type App struct {
	Store        *store.Store
	Obs          *obs.Client
	Learner      *learner.Learner
	Orchestrator *cycle.Orchestrator
	API          *api.Server
}

// compose builds the whole loop from validated configuration. Capability
// availability is decided here, once, not scattered through the runtime.
func compose(cfg *config.Config) (*App, error) {
	if err := logging.Initialize(logging.Settings{
		DebugMode:  cfg.Logging.DebugMode,
		Directory:  cfg.Logging.Directory,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	st, err := store.New(cfg.Store.DatabasePath, store.Options{RequireVec: cfg.Store.RequireVec})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build embedding engine: %w", err)
	}

	client := obs.New(obs.Config{
		BaseURL:            cfg.Observability.BaseURL,
		APIKey:             cfg.Observability.APIKey,
		Timeout:            cfg.Observability.Timeout(),
		RateLimitPerMinute: cfg.Observability.RateLimitPerMinute,
		RateLimitBurst:     cfg.Observability.RateLimitBurst,
		MaxRetries:         cfg.Observability.MaxRetries,
		BaseDelay:          cfg.Observability.BaseDelay(),
		MaxDelay:           cfg.Observability.MaxDelay(),
	})

	lrn := learner.New(st, embedder, learner.Config{SimilarityThreshold: cfg.Learning.SimilarityThreshold})

	engine := experiment.New(st, experiment.Config{
		MinSamplesPerArm:  cfg.Experiment.MinSamplesPerArm,
		SignificanceLevel: cfg.Experiment.SignificanceLevel,
		EffectSizeFloor:   cfg.Experiment.EffectSizeFloor,
		MaxDuration:       cfg.Experiment.MaxWindow(),
	})

	orch := cycle.New(cycle.Deps{
		Store: st,
		Collector: collector.New(client, st, collector.Config{
			DecayHalfLife: time.Duration(cfg.Quality.DecayHalfLifeHrs * float64(time.Hour)),
		}),
		Analyzer: analyzer.New(analyzer.Config{
			DeltaThreshold: cfg.Analysis.DeltaThreshold,
			MinSamples:     cfg.Analysis.MinSamples,
		}),
		Forecaster: forecast.New(forecast.Config{
			HorizonDays:   cfg.Forecast.HorizonDays,
			RiskThreshold: cfg.Forecast.RiskThreshold,
			MinPoints:     cfg.Forecast.MinPoints,
		}),
		Selector: selector.New(st, embedder, selector.Config{
			SimilarityFloor:    cfg.Learning.SimilarityFloor,
			EffectivenessAlpha: cfg.Learning.EffectivenessAlpha,
		}),
		Experiments: cycle.NewRunDriver(engine, client, time.Minute, cfg.Quality.TargetThreshold),
		Patterns:    lrn,
		Obs:         client,
	}, cycle.Config{
		Cooldown:           cfg.Cycle.CooldownDuration(),
		TickInterval:       cfg.Cycle.Tick(),
		ExportPollInterval: cfg.Cycle.ExportPoll(),
		ValidationDelay:    cfg.Cycle.ValidationWait(),
		Window:             cfg.Quality.Window(),
		WarningThreshold:   cfg.Quality.WarningThreshold,
		TargetThreshold:    cfg.Quality.TargetThreshold,
	})

	return &App{
		Store:        st,
		Obs:          client,
		Learner:      lrn,
		Orchestrator: orch,
		API:          api.New(orch, st, lrn, api.Config{QualityThreshold: cfg.Quality.TargetThreshold}),
	}, nil
}

// Close releases the composed resources.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logging.Boot("Failed to close store: %v", err)
		}
	}
}
