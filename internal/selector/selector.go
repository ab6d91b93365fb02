// Package selector picks the optimization strategy for a regression
// context. Candidates are ranked by historical effectiveness blended with
// how similar the current context is to the context each strategy applies
// to; when nothing is similar enough, the conservative monitor strategy
// wins by default.
package selector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vcycle/internal/embedding"
	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// NoopStrategyID identifies the built-in no-op/monitor fallback.
const NoopStrategyID = "builtin-monitor"

// StrategyStore is the slice of the store the selector needs.
type StrategyStore interface {
	ListStrategies() ([]types.Strategy, error)
	SaveStrategy(st types.Strategy) error
	UpdateEffectiveness(id string, effectiveness float64) error
}

// Config tunes selection.
type Config struct {
	// SimilarityFloor is the minimum context similarity a candidate needs
	// to be considered at all.
	SimilarityFloor float64 // default 0.35
	// EffectivenessAlpha is the EWMA weight of new cycle outcomes.
	EffectivenessAlpha float64 // default 0.3
}

// Selection is a ranked strategy choice.
type Selection struct {
	Strategy   types.Strategy
	Similarity float64
	Blended    float64 // effectiveness * similarity
}

// Selector ranks strategies for a context.
type Selector struct {
	store    StrategyStore
	embedder embedding.Engine
	floor    float64
	alpha    float64
}

// New creates a Selector.
func New(store StrategyStore, embedder embedding.Engine, cfg Config) *Selector {
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = 0.35
	}
	if cfg.EffectivenessAlpha <= 0 {
		cfg.EffectivenessAlpha = 0.3
	}
	return &Selector{store: store, embedder: embedder, floor: cfg.SimilarityFloor, alpha: cfg.EffectivenessAlpha}
}

// Noop returns the built-in monitor strategy: observe, change nothing.
func Noop() types.Strategy {
	return types.Strategy{
		ID:          NoopStrategyID,
		Description: "monitor only, no configuration change",
	}
}

// SelectStrategy ranks the stored strategies against the given context
// description and returns the best one. Every candidate below the
// similarity floor is discarded; with no survivors the no-op/monitor
// strategy is returned rather than forcing a risky change.
func (s *Selector) SelectStrategy(ctx context.Context, contextDesc string) (*Selection, error) {
	strategies, err := s.store.ListStrategies()
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}

	ctxVec, err := s.embedder.Embed(ctx, contextDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to embed context: %w", err)
	}

	var ranked []Selection
	for _, st := range strategies {
		sigVec, err := s.embedder.Embed(ctx, st.ContextSig)
		if err != nil {
			return nil, fmt.Errorf("failed to embed strategy context: %w", err)
		}
		sim := embedding.Cosine(ctxVec, sigVec)
		if sim < s.floor {
			logging.SelectorDebug("Strategy %s below similarity floor: %.3f < %.3f", st.ID, sim, s.floor)
			continue
		}
		ranked = append(ranked, Selection{
			Strategy:   st,
			Similarity: sim,
			Blended:    st.Effectiveness * sim,
		})
	}

	if len(ranked) == 0 {
		logging.Selector("No strategy cleared the similarity floor for %q, monitoring only", contextDesc)
		return &Selection{Strategy: Noop()}, nil
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Blended != ranked[j].Blended {
			return ranked[i].Blended > ranked[j].Blended
		}
		return ranked[i].Strategy.ID < ranked[j].Strategy.ID
	})
	best := ranked[0]
	logging.Selector("Selected strategy %s for %q: effectiveness=%.3f similarity=%.3f blended=%.3f",
		best.Strategy.ID, contextDesc, best.Strategy.Effectiveness, best.Similarity, best.Blended)
	return &best, nil
}

// RecordOutcome folds one cycle outcome into a strategy's effectiveness as
// an exponentially weighted moving average. The no-op strategy keeps no
// effectiveness history.
func (s *Selector) RecordOutcome(strategyID string, succeeded bool) error {
	if strategyID == NoopStrategyID || strategyID == "" {
		return nil
	}
	strategies, err := s.store.ListStrategies()
	if err != nil {
		return fmt.Errorf("failed to list strategies: %w", err)
	}
	for _, st := range strategies {
		if st.ID != strategyID {
			continue
		}
		outcome := 0.0
		if succeeded {
			outcome = 1.0
		}
		updated := (1-s.alpha)*st.Effectiveness + s.alpha*outcome
		if err := s.store.UpdateEffectiveness(st.ID, updated); err != nil {
			return fmt.Errorf("failed to update effectiveness: %w", err)
		}
		logging.Selector("Strategy %s effectiveness %.3f -> %.3f (success=%v)",
			st.ID, st.Effectiveness, updated, succeeded)
		return nil
	}
	return fmt.Errorf("unknown strategy %s", strategyID)
}

// Register stores a strategy, stamping its update time.
func (s *Selector) Register(st types.Strategy) error {
	st.UpdatedAt = time.Now()
	return s.store.SaveStrategy(st)
}
