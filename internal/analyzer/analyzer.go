// Package analyzer compares two quality-metric windows and flags
// statistically meaningful drops. The analyzer is total over its input: it
// either returns the full set of findings or an empty slice, never a
// partial result plus an error.
package analyzer

import (
	"sort"
	"time"

	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// Config bounds what counts as a regression.
type Config struct {
	// DeltaThreshold is the minimum score drop to flag, in absolute score
	// units (0.05 = five percentage points).
	DeltaThreshold float64
	// MinSamples is the minimum current-window sample count; below it a
	// drop is suppressed as insufficient data.
	MinSamples int
}

// Analyzer detects per-pair quality regressions between windows.
type Analyzer struct {
	deltaThreshold float64
	minSamples     int
	now            func() time.Time
}

// New creates an Analyzer. Zero config fields get the standard defaults.
func New(cfg Config) *Analyzer {
	if cfg.DeltaThreshold <= 0 {
		cfg.DeltaThreshold = 0.05
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	return &Analyzer{
		deltaThreshold: cfg.DeltaThreshold,
		minSamples:     cfg.MinSamples,
		now:            time.Now,
	}
}

// Analyze compares baseline and current metrics pair by pair and returns
// zero or more findings. A finding is emitted iff the drop is at least the
// delta threshold AND the current window has enough samples; pairs missing
// from either window are skipped. When several pairs regress at once, the
// pair with the largest drop is marked as the root-cause hint.
func (a *Analyzer) Analyze(baseline, current map[types.PairKey]types.QualityMetric) []types.RegressionFinding {
	findings := make([]types.RegressionFinding, 0)
	detected := a.now()

	for key, cur := range current {
		base, ok := baseline[key]
		if !ok {
			continue
		}
		delta := base.Score - cur.Score
		if delta < a.deltaThreshold {
			continue
		}
		if cur.SampleCount < a.minSamples {
			logging.AnalyzerDebug("Suppressed %s: delta=%.3f but only %d samples (need %d)",
				key, delta, cur.SampleCount, a.minSamples)
			continue
		}
		findings = append(findings, types.RegressionFinding{
			ModelID:       key.ModelID,
			SpectrumID:    key.SpectrumID,
			BaselineScore: base.Score,
			CurrentScore:  cur.Score,
			Delta:         delta,
			Confidence:    confidence(cur.SampleCount),
			DetectedAt:    detected,
		})
	}

	// Largest isolated delta first; that pair is the root-cause hint when
	// multiple pairs regress in the same round.
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Delta != findings[j].Delta {
			return findings[i].Delta > findings[j].Delta
		}
		return pairLess(findings[i], findings[j])
	})
	if len(findings) > 0 {
		findings[0].RootCause = true
		logging.Analyzer("Found %d regressions, worst: %s/%s delta=%.3f confidence=%.2f",
			len(findings), findings[0].ModelID, findings[0].SpectrumID,
			findings[0].Delta, findings[0].Confidence)
	}
	return findings
}

// confidence grows with sample count and saturates at 1.0. Thirty samples
// give 0.3, a hundred or more give full confidence.
func confidence(samples int) float64 {
	c := float64(samples) / 100.0
	if c > 1.0 {
		return 1.0
	}
	return c
}

func pairLess(a, b types.RegressionFinding) bool {
	if a.ModelID != b.ModelID {
		return a.ModelID < b.ModelID
	}
	return a.SpectrumID < b.SpectrumID
}
