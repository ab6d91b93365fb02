package forecast

import (
	"testing"
	"time"

	"vcycle/internal/types"
)

func series(start time.Time, scores ...float64) []types.QualityMetric {
	out := make([]types.QualityMetric, len(scores))
	for i, sc := range scores {
		out[i] = types.QualityMetric{
			ModelID: "m1", SpectrumID: "s",
			Score:       sc,
			SampleCount: 50,
			Timestamp:   start.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return out
}

func key() types.PairKey { return types.PairKey{ModelID: "m1", SpectrumID: "s"} }

func TestDecliningSeriesForecastsBreach(t *testing.T) {
	f := New(Config{HorizonDays: 7, RiskThreshold: 0.5})
	start := time.Now().Add(-7 * 24 * time.Hour)

	// Losing ~1.5 points a day from 0.95: crosses 0.85 well inside the
	// horizon.
	fc, err := f.Project(key(), series(start, 0.95, 0.935, 0.92, 0.905, 0.89, 0.875, 0.86), 0.85)
	if err != nil {
		t.Fatal(err)
	}
	if fc.SlopePerDay >= 0 {
		t.Errorf("slope = %v, want negative", fc.SlopePerDay)
	}
	if len(fc.ProjectedScores) != 7 {
		t.Errorf("got %d projected points, want 7", len(fc.ProjectedScores))
	}
	if fc.BreachProbability < 0.9 {
		t.Errorf("breach probability = %v, want near certain", fc.BreachProbability)
	}
	if alert := f.Alert(fc); alert == nil {
		t.Error("expected a proactive alert for a near-certain breach")
	}
}

func TestStableHealthySeriesNoAlert(t *testing.T) {
	f := New(Config{HorizonDays: 7, RiskThreshold: 0.5})
	start := time.Now().Add(-7 * 24 * time.Hour)

	fc, err := f.Project(key(), series(start, 0.94, 0.95, 0.945, 0.95, 0.948, 0.951, 0.949), 0.85)
	if err != nil {
		t.Fatal(err)
	}
	if fc.BreachProbability > 0.1 {
		t.Errorf("breach probability = %v, want near zero", fc.BreachProbability)
	}
	if alert := f.Alert(fc); alert != nil {
		t.Errorf("healthy series raised an alert: %+v", alert)
	}
}

func TestProjectionMonotoneWithSlope(t *testing.T) {
	f := New(Config{HorizonDays: 5})
	start := time.Now().Add(-5 * 24 * time.Hour)

	fc, err := f.Project(key(), series(start, 0.90, 0.88, 0.86, 0.84, 0.82), 0.70)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(fc.ProjectedScores); i++ {
		if fc.ProjectedScores[i] > fc.ProjectedScores[i-1] {
			t.Fatalf("declining fit projected an increase at day %d: %v", i+1, fc.ProjectedScores)
		}
	}
}

func TestProjectedScoresClamped(t *testing.T) {
	f := New(Config{HorizonDays: 30})
	start := time.Now().Add(-5 * 24 * time.Hour)

	// Steep decline driven far past zero by a 30-day horizon.
	fc, err := f.Project(key(), series(start, 0.9, 0.7, 0.5, 0.3, 0.1), 0.70)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range fc.ProjectedScores {
		if v < 0 || v > 1 {
			t.Fatalf("projection out of [0,1]: %v", v)
		}
	}
}

func TestTooFewPointsIsInsufficientData(t *testing.T) {
	f := New(Config{MinPoints: 5})
	start := time.Now()
	if _, err := f.Project(key(), series(start, 0.9, 0.8), 0.85); err == nil {
		t.Fatal("expected an error for an undersized series")
	}
}

func TestAlertSeverityScalesWithRisk(t *testing.T) {
	f := New(Config{RiskThreshold: 0.5})
	base := Forecast{Key: key(), ProjectedScores: []float64{0.8}, BreachThreshold: 0.85, SlopePerDay: -0.01}

	low := base
	low.BreachProbability = 0.6
	if a := f.Alert(&low); a == nil || a.Severity != types.SeverityWarning {
		t.Errorf("60%% risk: alert = %+v, want warning", a)
	}

	high := base
	high.BreachProbability = 0.95
	if a := f.Alert(&high); a == nil || a.Severity != types.SeverityError {
		t.Errorf("95%% risk: alert = %+v, want error", a)
	}

	none := base
	none.BreachProbability = 0.2
	if a := f.Alert(&none); a != nil {
		t.Errorf("20%% risk should not alert: %+v", a)
	}
}
