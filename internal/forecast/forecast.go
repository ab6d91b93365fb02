// Package forecast projects quality trends forward and estimates the
// probability of crossing a threshold within the horizon. A linear fit over
// the historical series gives the projection; the residual spread around
// the fit gives the uncertainty. This is what turns reactive monitoring
// into anticipatory optimization: the alert fires before the threshold is
// actually crossed.
package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// Config tunes the forecaster.
type Config struct {
	HorizonDays   int     // default 7
	RiskThreshold float64 // breach probability above which an alert fires, default 0.5
	MinPoints     int     // minimum series length to fit, default 5
}

// Forecast is the projection for one (model, spectrum) series.
type Forecast struct {
	Key               types.PairKey `json:"pair"`
	ProjectedScores   []float64     `json:"projected_scores"` // one per day of horizon
	BreachThreshold   float64       `json:"breach_threshold"`
	BreachProbability float64       `json:"breach_probability"`
	SlopePerDay       float64       `json:"slope_per_day"`
	ResidualStdDev    float64       `json:"residual_std_dev"`
}

// Forecaster fits quality series and flags anticipated breaches.
type Forecaster struct {
	horizonDays int
	risk        float64
	minPoints   int
	now         func() time.Time
}

// New creates a Forecaster. Zero config fields get the standard defaults.
func New(cfg Config) *Forecaster {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = 0.5
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = 5
	}
	return &Forecaster{
		horizonDays: cfg.HorizonDays,
		risk:        cfg.RiskThreshold,
		minPoints:   cfg.MinPoints,
		now:         time.Now,
	}
}

// Project fits the series and projects it over the horizon against the
// given breach threshold. The series must be time-ordered; fewer than
// MinPoints observations is insufficient data.
func (f *Forecaster) Project(key types.PairKey, series []types.QualityMetric, threshold float64) (*Forecast, error) {
	if len(series) < f.minPoints {
		return nil, fmt.Errorf("series %s has %d points, need %d", key, len(series), f.minPoints)
	}

	origin := series[0].Timestamp
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, m := range series {
		xs[i] = m.Timestamp.Sub(origin).Hours() / 24.0
		ys[i] = m.Score
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	sigma := residualStdDev(xs, ys, intercept, slope)

	nowDays := f.now().Sub(origin).Hours() / 24.0
	projected := make([]float64, f.horizonDays)
	for d := 1; d <= f.horizonDays; d++ {
		projected[d-1] = clampScore(intercept + slope*(nowDays+float64(d)))
	}

	endOfHorizon := intercept + slope*(nowDays+float64(f.horizonDays))
	fc := &Forecast{
		Key:               key,
		ProjectedScores:   projected,
		BreachThreshold:   threshold,
		BreachProbability: breachProbability(endOfHorizon, threshold, sigma),
		SlopePerDay:       slope,
		ResidualStdDev:    sigma,
	}
	logging.ForecastDebug("%s: slope=%.5f/day sigma=%.4f projected(+%dd)=%.4f breach=%.3f",
		key, slope, sigma, f.horizonDays, endOfHorizon, fc.BreachProbability)
	return fc, nil
}

// Alert converts a forecast into a proactive alert when its breach
// probability clears the risk threshold, nil otherwise.
func (f *Forecaster) Alert(fc *Forecast) *types.Alert {
	if fc.BreachProbability < f.risk {
		return nil
	}
	sev := types.SeverityWarning
	if fc.BreachProbability >= 0.8 {
		sev = types.SeverityError
	}
	return &types.Alert{
		Severity: sev,
		Subject:  fmt.Sprintf("Quality trending toward breach: %s", fc.Key),
		Description: fmt.Sprintf("Projected to cross %.2f within %d days (probability %.0f%%, slope %.4f/day)",
			fc.BreachThreshold, len(fc.ProjectedScores), fc.BreachProbability*100, fc.SlopePerDay),
		Actions:  []string{"review recent configuration changes", "trigger an optimization cycle"},
		ETA:      etaEstimate(fc),
		RaisedAt: f.now(),
	}
}

// breachProbability is P(score < threshold) at the end of the horizon,
// treating the projection as Normal around the fit with the residual
// spread. A degenerate fit (zero residuals) collapses to 0 or 1.
func breachProbability(projected, threshold, sigma float64) float64 {
	if sigma == 0 {
		if projected < threshold {
			return 1.0
		}
		return 0.0
	}
	n := distuv.Normal{Mu: projected, Sigma: sigma}
	return n.CDF(threshold)
}

func residualStdDev(xs, ys []float64, intercept, slope float64) float64 {
	if len(xs) <= 2 {
		return 0
	}
	var ss float64
	for i := range xs {
		r := ys[i] - (intercept + slope*xs[i])
		ss += r * r
	}
	// n-2 degrees of freedom for a two-parameter fit.
	return math.Sqrt(ss / float64(len(xs)-2))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func etaEstimate(fc *Forecast) string {
	if fc.SlopePerDay >= 0 {
		return ""
	}
	// Days until the fitted line reaches the threshold from the first
	// projected point.
	cur := fc.ProjectedScores[0]
	if cur <= fc.BreachThreshold {
		return "imminent"
	}
	days := (cur - fc.BreachThreshold) / -fc.SlopePerDay
	return fmt.Sprintf("~%.0f days", math.Ceil(days))
}
